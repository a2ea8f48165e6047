package main

import (
	"errors"
	"path/filepath"
)

type Config struct {
	InputPath           string
	OutputDir           string
	ModelPath           string
	Collapser           string
	SummaryPath         string
	AnnotateInterviewer bool
	MetricsFile         string
	Verbose             bool
}

func (c Config) Validate() error {
	if c.InputPath == "" {
		return errors.New("missing -in")
	}
	if c.OutputDir == "" {
		return errors.New("missing -out")
	}
	if c.ModelPath == "" {
		return errors.New("missing -model-file")
	}
	if c.Collapser == "" {
		return errors.New("missing -collapse")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		InputPath: filepath.FromSlash("data/dialogues"),
		OutputDir: filepath.FromSlash("data/emotion"),
		ModelPath: filepath.FromSlash("models/emotion_classifier.json"),
		Collapser: "memoir",
	}
}
