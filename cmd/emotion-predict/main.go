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
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/theimaginaryfoundation/memoir-bot/dialogue"
	"github.com/theimaginaryfoundation/memoir-bot/dialogue/classifier"
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

	collapser, err := dialogue.CollapserByName(cfg.Collapser)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	clf, err := classifier.Load(cfg.ModelPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	logger.Info("classifier loaded", "path", cfg.ModelPath, "classes", len(clf.Classes()), "collapse", collapser.Name())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rec *metrics.Recorder
	if cfg.MetricsFile != "" {
		rec = metrics.New()
	}

	start := time.Now()
	res, rows, err := dialogue.EmotionDir(ctx, cfg.InputPath, cfg.OutputDir, clf, collapser, dialogue.EmotionOptions{
		AnnotateInterviewer: cfg.AnnotateInterviewer,
		SummaryPath:         cfg.SummaryPath,
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

	overall := dialogue.OverallAccuracy(rows)
	fmt.Fprintf(os.Stdout, "files=%d written=%d skipped=%d scored=%d correct=%d accuracy=%s out_dir=%s elapsed=%s\n",
		res.Files, res.Written, res.Skipped, overall.Total, overall.Correct, accuracyString(overall.Value),
		cfg.OutputDir, time.Since(start).Round(time.Second))
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.InputPath, "in", cfg.InputPath, "Session JSON file or directory of session files")
	fs.StringVar(&cfg.OutputDir, "out", cfg.OutputDir, "Directory to write sessions with predicted_emotions into")
	fs.StringVar(&cfg.ModelPath, "model-file", cfg.ModelPath, "Exported classifier artifact (vectorizer + linear model JSON)")
	fs.StringVar(&cfg.Collapser, "collapse", cfg.Collapser, "Gold label collapse rule: memoir|iemocap")
	fs.StringVar(&cfg.SummaryPath, "summary", cfg.SummaryPath, "Accuracy CSV path (default <out>/summary_accuracy.csv)")
	fs.BoolVar(&cfg.AnnotateInterviewer, "annotate-interviewer", false, "Also predict Interviewer turns (never scored)")
	fs.StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "Optional Prometheus textfile to write run metrics into")
	fs.BoolVar(&cfg.Verbose, "v", false, "Debug logging")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage:\n  %s [flags] [session.json]\n\nFlags:\n", filepath.Base(os.Args[0]))
		fs.PrintDefaults()
		fmt.Fprintln(fs.Output(), "\nExample:")
		fmt.Fprintln(fs.Output(), "  go run ./cmd/emotion-predict -in data/dialogues -out data/emotion -model-file models/emotion_classifier.json")
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		cfg.InputPath = fs.Arg(0)
	}
	cfg.InputPath = filepath.Clean(cfg.InputPath)
	cfg.OutputDir = filepath.Clean(cfg.OutputDir)
	cfg.ModelPath = filepath.Clean(cfg.ModelPath)
	if cfg.SummaryPath != "" {
		cfg.SummaryPath = filepath.Clean(cfg.SummaryPath)
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

func accuracyString(v *float64) string {
	if v == nil {
		return "null"
	}
	return strconv.FormatFloat(*v, 'f', 4, 64)
}
