package main

import (
	"errors"
	"path/filepath"
)

type Config struct {
	OriginalPath        string
	KBDir               string
	EmotionDir          string
	OutputDir           string
	IndexPath           string
	AnnotateInterviewer bool
	MetricsFile         string
	Verbose             bool
}

func (c Config) Validate() error {
	if c.OriginalPath == "" {
		return errors.New("missing -orig")
	}
	if c.KBDir == "" {
		return errors.New("missing -kb")
	}
	if c.OutputDir == "" {
		return errors.New("missing -out")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		OriginalPath: filepath.FromSlash("data/dialogues"),
		KBDir:        filepath.FromSlash("data/kb"),
		EmotionDir:   "",
		OutputDir:    filepath.FromSlash("data/patched"),
	}
}
