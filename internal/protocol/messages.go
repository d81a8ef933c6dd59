package protocol

import "time"

// TTSRequest asks the relay to synthesize text over the bus.
type TTSRequest struct {
	RequestID string   `json:"request_id,omitempty"`
	Target    string   `json:"target,omitempty"`
	Text      string   `json:"text"`
	Voice     string   `json:"voice,omitempty"`
	Pitch     *float64 `json:"pitch,omitempty"`
	Rate      *float64 `json:"rate,omitempty"`
}

// AudioChunk carries the PCM of one synthesized sentence.
type AudioChunk struct {
	RequestID  string `json:"request_id"`
	Target     string `json:"target,omitempty"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// TTSStatus closes a bus synthesis request.
type TTSStatus struct {
	RequestID string    `json:"request_id"`
	Target    string    `json:"target,omitempty"`
	Completed bool      `json:"completed"`
	Sentences int       `json:"sentences"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTTSRequest = "tts.request"
	SubjectTTSAudio   = "tts.audio"
	SubjectTTSDone    = "tts.done"
)
