package main

import (
	"errors"
	"path/filepath"
	"time"
)

type Config struct {
	InputPath      string
	OutputDir      string
	TestSetPath    string
	Replan         bool
	Fraction       float64
	PointsPerFile  int
	MinSubjectTurn int
	Seed           uint64
	MaxSamples     int

	Model        string
	Temperature  float64
	RequestDelay time.Duration
	Resume       bool

	MetricsFile string
	Verbose     bool
	APIKey      string
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
	if c.Fraction <= 0 || c.Fraction > 1 {
		return errors.New("fraction must be within (0, 1]")
	}
	if c.PointsPerFile <= 0 || c.MinSubjectTurn <= 0 {
		return errors.New("points-per-file and min-subject-turn must be > 0")
	}
	if c.MaxSamples < 0 {
		return errors.New("max-samples must be >= 0")
	}
	if c.RequestDelay < 0 {
		return errors.New("request-delay must be >= 0")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		InputPath:      filepath.FromSlash("data/patched"),
		OutputDir:      filepath.FromSlash("data/ablation"),
		Fraction:       0.2,
		PointsPerFile:  4,
		MinSubjectTurn: 4,
		Seed:           42,
		Model:          "gpt-4o",
		Temperature:    0.7,
		RequestDelay:   time.Second,
		Resume:         true,
	}
}

func (c Config) testSetPath() string {
	if c.TestSetPath != "" {
		return c.TestSetPath
	}
	return filepath.Join(c.OutputDir, "test_set.json")
}

func (c Config) checkpointPath() string {
	return filepath.Join(c.OutputDir, "checkpoint.json")
}

func (c Config) resultsPath() string {
	return filepath.Join(c.OutputDir, "generated_questions.json")
}

func (c Config) summaryPath() string {
	return filepath.Join(c.OutputDir, "summary.json")
}
