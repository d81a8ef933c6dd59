package audio

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/require"
)

func TestWAVHeaderLayout(t *testing.T) {
	h := WAVHeader(48000, 0)
	require.Len(t, h, WAVHeaderSize)
	require.Equal(t, "RIFF", string(h[0:4]))
	require.EqualValues(t, 36, binary.LittleEndian.Uint32(h[4:8]))
	require.Equal(t, "WAVEfmt ", string(h[8:16]))
	require.EqualValues(t, 16, binary.LittleEndian.Uint32(h[16:20]))
	require.EqualValues(t, 1, binary.LittleEndian.Uint16(h[20:22]))
	require.EqualValues(t, 1, binary.LittleEndian.Uint16(h[22:24]))
	require.EqualValues(t, 48000, binary.LittleEndian.Uint32(h[24:28]))
	require.EqualValues(t, 96000, binary.LittleEndian.Uint32(h[28:32]))
	require.EqualValues(t, 2, binary.LittleEndian.Uint16(h[32:34]))
	require.EqualValues(t, 16, binary.LittleEndian.Uint16(h[34:36]))
	require.Equal(t, "data", string(h[36:40]))
	require.EqualValues(t, 0, binary.LittleEndian.Uint32(h[40:44]))
}

func TestPatchedWAVDecodes(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768, 42}
	file := WAVHeader(22050, 0)
	for _, s := range samples {
		file = binary.LittleEndian.AppendUint16(file, uint16(s))
	}
	PatchWAVSizes(file)

	dec := wav.NewDecoder(bytes.NewReader(file))
	require.True(t, dec.IsValidFile())

	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	require.EqualValues(t, 22050, buf.Format.SampleRate)
	require.Equal(t, 1, buf.Format.NumChannels)
	require.EqualValues(t, 16, dec.BitDepth)

	got := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		got[i] = int16(v)
	}
	require.Equal(t, samples, got)
}

func TestPatchWAVSizesIgnoresShortInput(t *testing.T) {
	short := []byte("RIFF")
	PatchWAVSizes(short)
	require.Equal(t, []byte("RIFF"), short)
}
