package tts

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestMapProsodyDefaults(t *testing.T) {
	require.Equal(t, Prosody{Pitch: "1", Rate: "100%"}, MapProsody(nil, nil))
}

func TestMapProsodyPitch(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "-3"},
		{0.5, "-1.5"},
		{1, "0"},
		{2, "3"},
		{-1, "-3"},
		{5, "3"},
	}
	for _, tt := range tests {
		got := MapProsody(ptr(tt.in), nil)
		require.Equal(t, tt.want, got.Pitch, "pitch %v", tt.in)
		require.Equal(t, "100%", got.Rate)
	}
}

func TestMapProsodyRate(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "25%"},
		{1, "100%"},
		{1.5, "137%"},
		{3, "250%"},
		{4, "250%"},
		{-2, "25%"},
	}
	for _, tt := range tests {
		got := MapProsody(nil, ptr(tt.in))
		require.Equal(t, tt.want, got.Rate, "rate %v", tt.in)
		require.Equal(t, "1", got.Pitch)
	}
}
