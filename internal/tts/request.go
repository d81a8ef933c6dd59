package tts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/loqalabs/loqa-tts-relay/internal/text"
)

// Number accepts either a JSON number or a numeric string.
type Number float64

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		raw = strings.TrimSpace(s)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %q is not a number", ErrInvalidRequest, raw)
	}
	*n = Number(v)
	return nil
}

func (n *Number) float() *float64 {
	if n == nil {
		return nil
	}
	v := float64(*n)
	return &v
}

// Params is the body of a synthesis call.
type Params struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice,omitempty"`
	Pitch *Number `json:"pitch,omitempty"`
	Rate  *Number `json:"rate,omitempty"`
}

// DecodeParams parses a JSON request body.
func DecodeParams(data []byte) (Params, error) {
	var p Params
	if err := json.Unmarshal(data, &p); err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			return Params{}, err
		}
		return Params{}, fmt.Errorf("%w: decode body: %v", ErrInvalidRequest, err)
	}
	return p, nil
}

// LanguageLookup resolves a voice-specific language code.
type LanguageLookup interface {
	LanguageCode(voice string) (string, bool)
}

type BuilderConfig struct {
	LanguageCode string
	SampleRateHz int
	DefaultVoice string
	Languages    LanguageLookup
}

// RequestBuilder turns one caller request into an ordered list of per-sentence backend
// requests. Safe for concurrent use.
type RequestBuilder struct {
	splitter text.Splitter
	cfg      BuilderConfig
}

func NewRequestBuilder(splitter text.Splitter, cfg BuilderConfig) *RequestBuilder {
	return &RequestBuilder{splitter: splitter, cfg: cfg}
}

var ssmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// SSML wraps one sentence in the prosody template.
func SSML(sentence string, p Prosody) string {
	return `<speak><prosody pitch="` + p.Pitch + `" rate="` + p.Rate + `">` +
		ssmlEscaper.Replace(sentence) + `</prosody></speak>`
}

// Build returns one request per detected sentence, in text order. It returns
// ErrInvalidRequest and no requests when text is empty or yields no sentence.
func (b *RequestBuilder) Build(p Params) ([]SynthesisRequest, error) {
	if strings.TrimSpace(p.Text) == "" {
		return nil, fmt.Errorf("%w: text is required", ErrInvalidRequest)
	}
	sentences := b.splitter.Split(p.Text)
	if len(sentences) == 0 {
		return nil, fmt.Errorf("%w: no sentences in text", ErrInvalidRequest)
	}

	voice := p.Voice
	if voice == "" {
		voice = b.cfg.DefaultVoice
	}
	lang := b.cfg.LanguageCode
	if b.cfg.Languages != nil {
		if code, ok := b.cfg.Languages.LanguageCode(voice); ok && code != "" {
			lang = code
		}
	}
	prosody := MapProsody(p.Pitch.float(), p.Rate.float())

	reqs := make([]SynthesisRequest, 0, len(sentences))
	for _, s := range sentences {
		if s == "" {
			continue
		}
		reqs = append(reqs, SynthesisRequest{
			LanguageCode: lang,
			SampleRateHz: b.cfg.SampleRateHz,
			VoiceName:    voice,
			Encoding:     EncodingLinearPCM,
			Text:         SSML(s, prosody),
		})
	}
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: no sentences in text", ErrInvalidRequest)
	}
	return reqs, nil
}
