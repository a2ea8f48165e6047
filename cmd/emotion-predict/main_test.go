package main

import (
	"flag"
	"testing"
)

func TestParseFlags_Overrides(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("emotion-predict", flag.ContinueOnError)
	cfg, err := parseFlags(fs, []string{
		"-in", "data/dialogues",
		"-out", "data/emotion",
		"-model-file", "models/iemocap.json",
		"-collapse", "iemocap",
		"-summary", "reports/acc.csv",
		"-annotate-interviewer",
	})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.ModelPath != "models/iemocap.json" || cfg.Collapser != "iemocap" || cfg.SummaryPath != "reports/acc.csv" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if !cfg.AnnotateInterviewer {
		t.Fatalf("AnnotateInterviewer=false")
	}
}

func TestParseFlags_PositionalFile(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("emotion-predict", flag.ContinueOnError)
	cfg, err := parseFlags(fs, []string{"-out", "o", "data/dialogues/01_Elena_Warm.json"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.InputPath != "data/dialogues/01_Elena_Warm.json" {
		t.Fatalf("InputPath=%q", cfg.InputPath)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	if err := (Config{}).Validate(); err == nil {
		t.Fatalf("expected error")
	}
	if err := defaultConfig().Validate(); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestAccuracyString(t *testing.T) {
	t.Parallel()

	if got := accuracyString(nil); got != "null" {
		t.Fatalf("nil=%q", got)
	}
	v := 2.0 / 3.0
	if got := accuracyString(&v); got != "0.6667" {
		t.Fatalf("got %q", got)
	}
}
