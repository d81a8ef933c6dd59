package audio

import "errors"

var (
	// ErrEncoding marks a codec or container failure. It is fatal for the response.
	ErrEncoding = errors.New("audio encoding failed")
	// ErrStreamConsumed is returned when a chunk sequence is iterated twice.
	ErrStreamConsumed = errors.New("audio stream already consumed")
)

// Frame is one block of mono s16le PCM tagged with its presentation time in samples.
type Frame struct {
	PCM     []byte
	Samples int
	PTS     int64
}

// Session is an open container writer with a single audio stream. Every call returns the
// container bytes that became available since the previous call, one slice per muxed
// packet. A Session is owned by one response and is not safe for concurrent use.
type Session interface {
	WriteFrame(f Frame) ([][]byte, error)
	// Flush drains the encoder and writes the container trailer.
	Flush() ([][]byte, error)
	// Close releases native resources. It is safe to call more than once.
	Close() error
}

type SessionConfig struct {
	Format     Format
	SampleRate int
	BitRate    int
	BufferSize int
}

// OpenFunc creates a session for one response.
type OpenFunc func(cfg SessionConfig) (Session, error)
