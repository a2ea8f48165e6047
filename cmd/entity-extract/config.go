package main

import (
	"errors"
	"path/filepath"
)

const (
	backendHTTP   = "http"
	backendOpenAI = "openai"
)

type Config struct {
	InputPath           string
	OutputDir           string
	Backend             string
	NERURL              string
	NERToken            string
	MinScore            float64
	Model               string
	Layout              string
	AnnotateInterviewer bool
	CatalogPath         string
	NoCatalog           bool
	MetricsFile         string
	Verbose             bool
	APIKey              string
}

func (c Config) Validate() error {
	if c.InputPath == "" {
		return errors.New("missing -in")
	}
	if c.OutputDir == "" {
		return errors.New("missing -out")
	}
	switch c.Backend {
	case backendHTTP:
		if c.NERURL == "" {
			return errors.New("missing -ner-url (or NER_URL) for -backend http")
		}
	case backendOpenAI:
		if c.Model == "" {
			return errors.New("missing -model for -backend openai")
		}
	default:
		return errors.New("backend must be http or openai")
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return errors.New("min-score must be within [0, 1]")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		InputPath: filepath.FromSlash("data/dialogues"),
		OutputDir: filepath.FromSlash("data/kb"),
		Backend:   backendHTTP,
		MinScore:  0.5,
		Model:     "gpt-4o-mini",
		Layout:    "full",
	}
}
