package audio

import "encoding/binary"

const (
	// WAVHeaderSize is the size of a canonical PCM WAV header.
	WAVHeaderSize = 44

	bitsPerSample = 16
	channels      = 1
)

// WAVHeader returns a canonical 44-byte header for mono s16le PCM. Streams pass a dataSize
// of 0 because the length is unknown when the header is sent.
func WAVHeader(sampleRate int, dataSize uint32) []byte {
	blockAlign := channels * bitsPerSample / 8
	h := make([]byte, WAVHeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], dataSize+36)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1)
	binary.LittleEndian.PutUint16(h[22:24], channels)
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], bitsPerSample)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataSize)
	return h
}

// PatchWAVSizes rewrites the RIFF and data sizes of a complete WAV file held in memory.
func PatchWAVSizes(file []byte) {
	if len(file) < WAVHeaderSize {
		return
	}
	dataSize := uint32(len(file) - WAVHeaderSize)
	binary.LittleEndian.PutUint32(file[4:8], dataSize+36)
	binary.LittleEndian.PutUint32(file[40:44], dataSize)
}
