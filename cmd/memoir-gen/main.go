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
	"slices"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/theimaginaryfoundation/memoir-bot/dialogue"
	"github.com/theimaginaryfoundation/memoir-bot/dialogue/embedcache"
	"github.com/theimaginaryfoundation/memoir-bot/dialogue/memoir"
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
	strategies, err := memoir.ParseStrategies(cfg.Strategies)
	if err != nil {
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
	client := provider.NewClient(apiKey)

	var rec *metrics.Recorder
	if cfg.MetricsFile != "" {
		rec = metrics.New()
	}

	gen := memoir.Generator{
		Completer: responderCompleter{
			responder: provider.Responder{
				Client: client,
				Model:  cfg.Model,
				Policy: provider.DefaultRetryPolicy(),
			},
			temperature: cfg.Temperature,
		},
		Opts: memoir.Options{TopK: cfg.TopK, Logger: logger, Metrics: rec},
	}

	var cached *embedcache.CachedEmbedder
	if needsEmbeddings(strategies) {
		inner := provider.OpenAIEmbedder{Client: client, Model: cfg.EmbeddingModel, Policy: provider.DefaultRetryPolicy()}
		if cfg.NoCache {
			gen.Embedder = inner
		} else {
			store, err := embedcache.Open(cfg.cachePath())
			if err != nil {
				fmt.Fprintln(os.Stderr, err.Error())
				os.Exit(2)
			}
			defer store.Close()
			cached = &embedcache.CachedEmbedder{Store: store, Inner: inner}
			gen.Embedder = cached
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	stats, err := gen.GenerateDir(ctx, cfg.InputPath, cfg.OutputDir, strategies)
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

	hits, misses := 0, 0
	if cached != nil {
		hits, misses = cached.Hits, cached.Misses
	}
	fmt.Fprintf(os.Stdout, "files=%d skipped=%d memoirs_written=%d failed=%d embed_cache_hits=%d embed_cache_misses=%d out_dir=%s elapsed=%s\n",
		stats.Files, stats.Skipped, stats.Written, stats.Failed, hits, misses, cfg.OutputDir, time.Since(start).Round(time.Second))
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.InputPath, "in", cfg.InputPath, "Reconciled session JSON file or directory")
	fs.StringVar(&cfg.OutputDir, "out", cfg.OutputDir, "Directory to write <base>/<base>_<strategy>.txt memoirs into")
	fs.StringVar(&cfg.Strategies, "strategies", cfg.Strategies, "Comma-separated strategies: baseline,rag,fewshot,pii (or all)")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "OpenAI model that writes the memoirs")
	fs.Float64Var(&cfg.Temperature, "temperature", cfg.Temperature, "Sampling temperature")
	fs.StringVar(&cfg.EmbeddingModel, "embedding-model", cfg.EmbeddingModel, "Embedding model for rag/fewshot retrieval (default text-embedding-3-small)")
	fs.StringVar(&cfg.CachePath, "embed-cache", cfg.CachePath, "SQLite embedding cache path (default <out>/embeddings.db)")
	fs.BoolVar(&cfg.NoCache, "no-embed-cache", false, "Embed without the SQLite cache")
	fs.IntVar(&cfg.TopK, "top-k", cfg.TopK, "Retrieved Subject sentences per rag/fewshot prompt")
	fs.StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "Optional Prometheus textfile to write run metrics into")
	fs.BoolVar(&cfg.Verbose, "v", false, "Debug logging")
	fs.StringVar(&cfg.APIKey, "api-key", "", "OpenAI API key (overrides OPENAI_API_KEY env var)")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage:\n  %s [flags] [session.json]\n\nFlags:\n", filepath.Base(os.Args[0]))
		fs.PrintDefaults()
		fmt.Fprintln(fs.Output(), "\nExample:")
		fmt.Fprintln(fs.Output(), "  go run ./cmd/memoir-gen -in data/patched -out data/memoirs -strategies baseline,rag")
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		cfg.InputPath = fs.Arg(0)
	}
	cfg.InputPath = filepath.Clean(cfg.InputPath)
	cfg.OutputDir = filepath.Clean(cfg.OutputDir)
	if cfg.CachePath != "" {
		cfg.CachePath = filepath.Clean(cfg.CachePath)
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

func needsEmbeddings(strategies []memoir.Strategy) bool {
	return slices.Contains(strategies, memoir.StrategyRAG) || slices.Contains(strategies, memoir.StrategyFewShot)
}

type responderCompleter struct {
	responder   provider.Responder
	temperature float64
}

func (c responderCompleter) Complete(ctx context.Context, instructions, prompt string) (string, error) {
	temp := c.temperature
	return c.responder.Complete(ctx, provider.Request{
		Instructions: instructions,
		Input:        prompt,
		Temperature:  &temp,
		MaxTokens:    2500,
	})
}
