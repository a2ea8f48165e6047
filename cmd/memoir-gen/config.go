package main

import (
	"errors"
	"path/filepath"
)

type Config struct {
	InputPath      string
	OutputDir      string
	Strategies     string
	Model          string
	Temperature    float64
	EmbeddingModel string
	CachePath      string
	NoCache        bool
	TopK           int
	MetricsFile    string
	Verbose        bool
	APIKey         string
}

func (c Config) Validate() error {
	if c.InputPath == "" {
		return errors.New("missing -in")
	}
	if c.OutputDir == "" {
		return errors.New("missing -out")
	}
	if c.Model == "" {
		return errors.New("missing -model")
	}
	if c.TopK <= 0 {
		return errors.New("top-k must be > 0")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		InputPath:   filepath.FromSlash("data/patched"),
		OutputDir:   filepath.FromSlash("data/memoirs"),
		Strategies:  "all",
		Model:       "gpt-4o",
		Temperature: 0.7,
		TopK:        8,
	}
}

func (c Config) cachePath() string {
	if c.CachePath != "" {
		return c.CachePath
	}
	return filepath.Join(c.OutputDir, "embeddings.db")
}
