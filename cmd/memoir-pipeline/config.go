package main

import (
	"errors"
	"path/filepath"
	"slices"
)

var allStages = []string{"synth", "extract", "emotion", "patch", "ablation", "memoir"}

type Config struct {
	BaseDir       string
	ScenariosPath string
	Model         string
	Seed          uint64

	NERBackend string
	NERURL     string

	ClassifierPath string
	Collapse       string

	Strategies string
	MaxSamples int

	MetricsDir string

	FromStage string
	OnlyStage string

	Overwrite bool
}

func (c Config) Validate() error {
	if c.BaseDir == "" {
		return errors.New("missing -base-dir")
	}
	if c.Model == "" {
		return errors.New("missing -model")
	}
	if c.OnlyStage != "" && c.FromStage != "" {
		return errors.New("use only one of -only-stage or -from-stage")
	}
	for _, s := range []string{c.OnlyStage, c.FromStage} {
		if s != "" && !slices.Contains(allStages, s) {
			return errors.New("unknown stage: " + s)
		}
	}
	if c.MaxSamples < 0 {
		return errors.New("max-samples must be >= 0")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		BaseDir:        filepath.FromSlash("data"),
		Model:          "gpt-4o",
		NERBackend:     "http",
		ClassifierPath: filepath.FromSlash("models/emotion_classifier.json"),
		Collapse:       "memoir",
		Strategies:     "all",
	}
}

// layout names the per-stage directories under BaseDir.
type layout struct {
	dialogues string
	kb        string
	emotion   string
	patched   string
	ablation  string
	memoirs   string
}

func newLayout(base string) layout {
	base = filepath.Clean(base)
	return layout{
		dialogues: filepath.Join(base, "dialogues"),
		kb:        filepath.Join(base, "kb"),
		emotion:   filepath.Join(base, "emotion"),
		patched:   filepath.Join(base, "patched"),
		ablation:  filepath.Join(base, "ablation"),
		memoirs:   filepath.Join(base, "memoirs"),
	}
}
