package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/theimaginaryfoundation/memoir-bot/dialogue"
	"github.com/theimaginaryfoundation/memoir-bot/dialogue/metrics"
)

func main() {
	_ = godotenv.Load()

	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	logger := newLogger(cfg.Verbose)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rec *metrics.Recorder
	if cfg.MetricsFile != "" {
		rec = metrics.New()
	}

	start := time.Now()
	res, err := dialogue.ReconcileDir(ctx, dialogue.PatchDirs{
		Original: cfg.OriginalPath,
		KB:       cfg.KBDir,
		Emotion:  cfg.EmotionDir,
		Out:      cfg.OutputDir,
	}, dialogue.ReconcileOptions{
		AnnotateInterviewer: cfg.AnnotateInterviewer,
		IndexPath:           cfg.IndexPath,
		Logger:              logger,
		Metrics:             rec,
	})
	if werr := rec.WriteTextfile(cfg.MetricsFile); werr != nil {
		logger.Warn("metrics textfile not written", "err", werr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		if errors.Is(err, dialogue.ErrConfig) {
			os.Exit(2)
		}
		os.Exit(1)
	}

	fmt.Fprintf(os.Stdout, "files=%d patched=%d skipped=%d out_dir=%s elapsed=%s\n",
		res.Files, res.Written, res.Skipped, cfg.OutputDir, time.Since(start).Round(time.Second))
	for _, p := range res.Outputs {
		fmt.Fprintln(os.Stdout, p)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.OriginalPath, "orig", cfg.OriginalPath, "Original session JSON file or directory (turn order source)")
	fs.StringVar(&cfg.KBDir, "kb", cfg.KBDir, "Directory of KB_<name>.json extraction records")
	fs.StringVar(&cfg.EmotionDir, "emotion", cfg.EmotionDir, "Optional directory of sessions carrying predicted_emotions")
	fs.StringVar(&cfg.OutputDir, "out", cfg.OutputDir, "Directory to write reconciled sessions and index.jsonl into")
	fs.StringVar(&cfg.IndexPath, "index", cfg.IndexPath, "Session index path (default <out>/index.jsonl)")
	fs.BoolVar(&cfg.AnnotateInterviewer, "annotate-interviewer", false, "Attach entities and emotions recorded for Interviewer turns")
	fs.StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "Optional Prometheus textfile to write run metrics into")
	fs.BoolVar(&cfg.Verbose, "v", false, "Debug logging")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage:\n  %s [flags] [session.json]\n\nFlags:\n", filepath.Base(os.Args[0]))
		fs.PrintDefaults()
		fmt.Fprintln(fs.Output(), "\nExample:")
		fmt.Fprintln(fs.Output(), "  go run ./cmd/kb-patch -orig data/dialogues -kb data/kb -emotion data/emotion -out data/patched")
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		cfg.OriginalPath = fs.Arg(0)
	}
	cfg.OriginalPath = filepath.Clean(cfg.OriginalPath)
	cfg.KBDir = filepath.Clean(cfg.KBDir)
	cfg.OutputDir = filepath.Clean(cfg.OutputDir)
	if cfg.EmotionDir != "" {
		cfg.EmotionDir = filepath.Clean(cfg.EmotionDir)
	}
	if cfg.IndexPath != "" {
		cfg.IndexPath = filepath.Clean(cfg.IndexPath)
	}
	return cfg, nil
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
