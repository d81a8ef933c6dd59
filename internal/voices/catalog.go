// Package voices holds the voice catalog exposed by GET /voices.
package voices

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Voice describes one backend voice. JSON field names are part of the HTTP surface.
type Voice struct {
	Name         string `yaml:"name" json:"voiceName"`
	Lang         string `yaml:"lang" json:"lang"`
	Gender       string `yaml:"gender" json:"gender"`
	LanguageCode string `yaml:"language_code,omitempty" json:"-"`
}

// File is the on-disk catalog format.
type File struct {
	Voices []Voice `yaml:"voices"`
}

// Catalog is an immutable, ordered voice list.
type Catalog struct {
	voices []Voice
	byName map[string]Voice
}

// Default lists the Riva English voices.
func Default() *Catalog {
	c, _ := New([]Voice{
		{Name: "English-US.Female-1", Lang: "en", Gender: "Female"},
		{Name: "English-US.Male-1", Lang: "en", Gender: "Male"},
		{Name: "English-US-RadTTS.Female-1", Lang: "en", Gender: "Female"},
		{Name: "English-US-RadTTS.Male-1", Lang: "en", Gender: "Male"},
	})
	return c
}

func New(list []Voice) (*Catalog, error) {
	if err := Validate(File{Voices: list}); err != nil {
		return nil, err
	}
	c := &Catalog{
		voices: append([]Voice(nil), list...),
		byName: make(map[string]Voice, len(list)),
	}
	for _, v := range list {
		c.byName[v.Name] = v
	}
	return c, nil
}

// Load reads a catalog file from disk.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse voices file: %w", err)
	}
	return f, nil
}

// LoadCatalog reads and validates path. An empty path yields the default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := Load(path)
	if err != nil {
		return nil, err
	}
	return New(f.Voices)
}

// Validate ensures every voice is named once and carries lang and gender.
func Validate(f File) error {
	if len(f.Voices) == 0 {
		return fmt.Errorf("voices must include at least one entry")
	}
	seen := make(map[string]struct{}, len(f.Voices))
	for i, v := range f.Voices {
		if v.Name == "" {
			return fmt.Errorf("voices[%d].name is required", i)
		}
		if _, dup := seen[v.Name]; dup {
			return fmt.Errorf("voice %q declared twice", v.Name)
		}
		seen[v.Name] = struct{}{}
		if v.Lang == "" {
			return fmt.Errorf("voice %q: lang is required", v.Name)
		}
		if v.Gender == "" {
			return fmt.Errorf("voice %q: gender is required", v.Name)
		}
	}
	return nil
}

// List returns a copy of the voices in catalog order.
func (c *Catalog) List() []Voice {
	return append([]Voice(nil), c.voices...)
}

func (c *Catalog) Lookup(name string) (Voice, bool) {
	v, ok := c.byName[name]
	return v, ok
}

// LanguageCode returns the voice's own language code, if it declares one.
func (c *Catalog) LanguageCode(name string) (string, bool) {
	v, ok := c.byName[name]
	if !ok || v.LanguageCode == "" {
		return "", false
	}
	return v.LanguageCode, true
}
