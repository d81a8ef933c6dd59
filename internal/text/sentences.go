// Package text segments free text into sentences for independent synthesis.
package text

import (
	"fmt"
	"strings"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
)

// Splitter turns text into an ordered list of non-empty sentences.
type Splitter interface {
	Split(text string) []string
}

type tokenizer interface {
	Tokenize(text string) []*sentences.Sentence
}

// PunktSplitter uses the pre-trained English Punkt model.
type PunktSplitter struct {
	tok tokenizer
}

// NewPunktSplitter loads the English training data. The result is safe for concurrent use.
func NewPunktSplitter() (*PunktSplitter, error) {
	tok, err := english.NewSentenceTokenizer(nil)
	if err != nil {
		return nil, fmt.Errorf("load english sentence model: %w", err)
	}
	return &PunktSplitter{tok: tok}, nil
}

func (p *PunktSplitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var out []string
	for _, s := range p.tok.Tokenize(text) {
		if trimmed := strings.TrimSpace(s.Text); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// SplitterFunc adapts a plain function to Splitter.
type SplitterFunc func(text string) []string

func (f SplitterFunc) Split(text string) []string { return f(text) }
