package main

import (
	"errors"
	"path/filepath"
)

type Config struct {
	ScenariosPath string
	OutputDir     string
	Model         string
	Tone          string
	ScenarioIDs   string
	MinPairs      int
	MaxPairs      int
	HistoryTurns  int
	Temperature   float64
	Seed          uint64
	MetricsFile   string
	Verbose       bool
	APIKey        string
}

func (c Config) Validate() error {
	if c.OutputDir == "" {
		return errors.New("missing -out")
	}
	if c.Model == "" {
		return errors.New("missing -model")
	}
	if c.MinPairs <= 0 {
		return errors.New("min-pairs must be > 0")
	}
	if c.MaxPairs < c.MinPairs {
		return errors.New("max-pairs must be >= min-pairs")
	}
	if c.HistoryTurns <= 0 {
		return errors.New("history-turns must be > 0")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return errors.New("temperature must be within [0, 2]")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		ScenariosPath: "",
		OutputDir:     filepath.FromSlash("data/dialogues"),
		Model:         "gpt-4o",
		MinPairs:      10,
		MaxPairs:      15,
		HistoryTurns:  10,
		Temperature:   0.75,
	}
}
