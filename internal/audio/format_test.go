package audio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNegotiate(t *testing.T) {
	tests := []struct {
		accept      string
		want        Format
		contentType string
		container   string
		codec       string
	}{
		{"audio/webm", WebM, "audio/webm", "webm", "libopus"},
		{"audio/webm;codecs=opus", WebM, "audio/webm", "webm", "libopus"},
		{"audio/ogg", Ogg, "audio/ogg", "ogg", "libopus"},
		{"audio/ogg; codecs=opus", Ogg, "audio/ogg", "ogg", "libopus"},
		{"audio/mpeg", MP3, "audio/mpeg", "mp3", "libmp3lame"},
		{"audio/wav", Raw, "audio/wav", "", ""},
		{"", Raw, "audio/wav", "", ""},
		{"*/*", Raw, "audio/wav", "", ""},
		{"AUDIO/OGG", Raw, "audio/wav", "", ""},
		{"audio/mpeg, audio/ogg", MP3, "audio/mpeg", "mp3", "libmp3lame"},
		{" audio/ogg", Raw, "audio/wav", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.accept, func(t *testing.T) {
			got := Negotiate(tt.accept)
			require.Equal(t, tt.want, got)
			require.Equal(t, tt.contentType, got.ContentType())
			require.Equal(t, tt.container, got.Container())
			require.Equal(t, tt.codec, got.Codec())
			require.Equal(t, tt.container != "", got.Encoded())
		})
	}
}

func TestFormatString(t *testing.T) {
	require.Equal(t, "wav", Raw.String())
	require.Equal(t, "mp3", MP3.String())
	require.Equal(t, "unknown", Format(42).String())
	require.Equal(t, "audio/wav", Format(-1).ContentType())
}
