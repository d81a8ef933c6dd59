// Package audio turns a sequence of PCM payloads into a streamed WAV or encoded container.
package audio

import "strings"

// Format is the negotiated output of one response.
type Format int

const (
	// Raw streams a WAV header followed by the PCM unchanged.
	Raw Format = iota
	WebM
	Ogg
	MP3
)

var formatInfo = [...]struct {
	name, container, codec, contentType string
}{
	Raw:  {"wav", "", "", "audio/wav"},
	WebM: {"webm", "webm", "libopus", "audio/webm"},
	Ogg:  {"ogg", "ogg", "libopus", "audio/ogg"},
	MP3:  {"mp3", "mp3", "libmp3lame", "audio/mpeg"},
}

// Negotiate picks the output from an Accept header. Matching is a case-sensitive prefix
// test in a fixed order; anything unmatched, including an empty header, is Raw.
func Negotiate(accept string) Format {
	switch {
	case strings.HasPrefix(accept, "audio/webm"):
		return WebM
	case strings.HasPrefix(accept, "audio/ogg"):
		return Ogg
	case strings.HasPrefix(accept, "audio/mpeg"):
		return MP3
	}
	return Raw
}

func (f Format) valid() bool { return f >= Raw && f <= MP3 }

func (f Format) String() string {
	if !f.valid() {
		return "unknown"
	}
	return formatInfo[f].name
}

// ContentType is the response Content-Type for the format.
func (f Format) ContentType() string {
	if !f.valid() {
		return formatInfo[Raw].contentType
	}
	return formatInfo[f].contentType
}

// Container is the muxer short name, empty for Raw.
func (f Format) Container() string {
	if !f.valid() {
		return ""
	}
	return formatInfo[f].container
}

// Codec is the encoder name, empty for Raw.
func (f Format) Codec() string {
	if !f.valid() {
		return ""
	}
	return formatInfo[f].codec
}

// Encoded reports whether the format needs an encoder session.
func (f Format) Encoded() bool { return f.Container() != "" }
