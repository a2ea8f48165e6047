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
	"github.com/theimaginaryfoundation/memoir-bot/dialogue/ablation"
	"github.com/theimaginaryfoundation/memoir-bot/dialogue/fileutils"
	"github.com/theimaginaryfoundation/memoir-bot/dialogue/metrics"
	"github.com/theimaginaryfoundation/memoir-bot/dialogue/provider"
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

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "missing OPENAI_API_KEY (or pass -api-key)")
		os.Exit(2)
	}

	sessions, err := loadSessions(cfg.InputPath, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	set, err := loadOrPlanTestSet(cfg, sessions, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	byName := make(map[string]dialogue.Loaded, len(sessions))
	for _, l := range sessions {
		byName[filepath.Base(l.Path)] = l
	}
	samples, skipped, err := ablation.BuildSamples(set, byName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	for _, f := range skipped {
		logger.Warn("test set file not found in input; skipped", "file", f)
	}
	if cfg.MaxSamples > 0 && len(samples) > cfg.MaxSamples {
		samples = samples[:cfg.MaxSamples]
	}
	if len(samples) == 0 {
		fmt.Fprintln(os.Stderr, "no prediction points to evaluate")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rec *metrics.Recorder
	if cfg.MetricsFile != "" {
		rec = metrics.New()
	}

	gen := responderGenerator{
		responder: provider.Responder{
			Client: provider.NewClient(apiKey),
			Model:  cfg.Model,
			Policy: provider.RetryPolicy{
				MaxAttempts:    4,
				Delay:          5 * time.Second,
				RateLimitDelay: 65 * time.Second,
				Retryable:      provider.IsTransient,
			},
		},
		temperature: cfg.Temperature,
	}

	start := time.Now()
	stats, err := ablation.Run(ctx, samples, gen, ablation.RunOptions{
		CheckpointPath: cfg.checkpointPath(),
		OutputPath:     cfg.resultsPath(),
		Resume:         cfg.Resume,
		RequestDelay:   cfg.RequestDelay,
		Logger:         logger,
		Metrics:        rec,
	})
	if werr := rec.WriteTextfile(cfg.MetricsFile); werr != nil {
		logger.Warn("metrics textfile not written", "err", werr)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "interrupted; progress saved to %s (rerun to resume)\n", cfg.checkpointPath())
		} else {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		os.Exit(1)
	}

	if err := writeSummary(cfg.resultsPath(), cfg.summaryPath()); err != nil {
		logger.Warn("summary not written", "err", err)
	}

	fmt.Fprintf(os.Stdout, "run_id=%s samples=%d resumed=%d generated=%d json=%d text=%d errors=%d results=%s elapsed=%s\n",
		stats.RunID, stats.Samples, stats.Resumed, stats.Generated, stats.JSON, stats.Text, stats.Errors,
		cfg.resultsPath(), time.Since(start).Round(time.Second))
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.InputPath, "in", cfg.InputPath, "Directory of reconciled session JSON files")
	fs.StringVar(&cfg.OutputDir, "out", cfg.OutputDir, "Directory for the test set, checkpoint, results and summary")
	fs.StringVar(&cfg.TestSetPath, "test-set", cfg.TestSetPath, "Test set path (default <out>/test_set.json); reused when present")
	fs.BoolVar(&cfg.Replan, "replan", false, "Draw a new test set even if one exists")
	fs.Float64Var(&cfg.Fraction, "fraction", cfg.Fraction, "Fraction of sessions drawn into the test set")
	fs.IntVar(&cfg.PointsPerFile, "points-per-file", cfg.PointsPerFile, "Maximum prediction points per session")
	fs.IntVar(&cfg.MinSubjectTurn, "min-subject-turn", cfg.MinSubjectTurn, "Lowest Subject turn_id usable as a prediction point")
	fs.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "Sampling seed")
	fs.IntVar(&cfg.MaxSamples, "max-samples", cfg.MaxSamples, "Limit number of samples evaluated (0 = all)")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "OpenAI model that generates the interviewer's next turn")
	fs.Float64Var(&cfg.Temperature, "temperature", cfg.Temperature, "Sampling temperature")
	fs.DurationVar(&cfg.RequestDelay, "request-delay", cfg.RequestDelay, "Pause between group requests of one sample")
	fs.BoolVar(&cfg.Resume, "resume", cfg.Resume, "Continue from <out>/checkpoint.json when present")
	fs.StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "Optional Prometheus textfile to write run metrics into")
	fs.BoolVar(&cfg.Verbose, "v", false, "Debug logging")
	fs.StringVar(&cfg.APIKey, "api-key", "", "OpenAI API key (overrides OPENAI_API_KEY env var)")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage:\n  %s [flags] [session-dir]\n\nFlags:\n", filepath.Base(os.Args[0]))
		fs.PrintDefaults()
		fmt.Fprintln(fs.Output(), "\nExample:")
		fmt.Fprintln(fs.Output(), "  go run ./cmd/question-ablation -in data/patched -out data/ablation -max-samples 20")
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		cfg.InputPath = fs.Arg(0)
	}
	cfg.InputPath = filepath.Clean(cfg.InputPath)
	cfg.OutputDir = filepath.Clean(cfg.OutputDir)
	if cfg.TestSetPath != "" {
		cfg.TestSetPath = filepath.Clean(cfg.TestSetPath)
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

// loadSessions reads every session under path. Unreadable files are logged and left out.
func loadSessions(path string, log *slog.Logger) ([]dialogue.Loaded, error) {
	files, err := fileutils.CollectJSONFiles(path, dialogue.SessionFiles())
	if err != nil {
		return nil, fmt.Errorf("loadSessions: %w", err)
	}
	var out []dialogue.Loaded
	for _, f := range files {
		l, err := dialogue.LoadSession(f)
		if err != nil {
			log.Warn("skipping file", "file", f, "err", err)
			continue
		}
		out = append(out, l)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("loadSessions: no readable sessions under %s", path)
	}
	return out, nil
}

func loadOrPlanTestSet(cfg Config, sessions []dialogue.Loaded, log *slog.Logger) (ablation.TestSet, error) {
	path := cfg.testSetPath()
	if !cfg.Replan && fileutils.FileExists(path) {
		set, err := ablation.LoadTestSet(path)
		if err != nil {
			return ablation.TestSet{}, err
		}
		log.Info("reusing test set", "path", path, "files", len(set.Files), "seed", set.Seed)
		return set, nil
	}

	set := ablation.PlanTestSet(sessions, ablation.SampleOptions{
		Fraction:       cfg.Fraction,
		PointsPerFile:  cfg.PointsPerFile,
		MinSubjectTurn: cfg.MinSubjectTurn,
		Seed:           cfg.Seed,
	})
	if err := ablation.SaveTestSet(path, set); err != nil {
		return ablation.TestSet{}, err
	}
	log.Info("planned test set", "path", path, "files", len(set.Files), "seed", set.Seed)
	return set, nil
}

func writeSummary(resultsPath, summaryPath string) error {
	var results []ablation.Result
	if err := fileutils.ReadJSONFile(resultsPath, &results); err != nil {
		return err
	}
	return fileutils.WriteJSONFileAtomic(summaryPath, ablation.Summarize(results), true)
}

type responderGenerator struct {
	responder   provider.Responder
	temperature float64
}

func (g responderGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	temp := g.temperature
	return g.responder.Complete(ctx, provider.Request{
		Instructions: system,
		Input:        prompt,
		Temperature:  &temp,
		MaxTokens:    500,
	})
}
