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
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/theimaginaryfoundation/memoir-bot/dialogue"
	"github.com/theimaginaryfoundation/memoir-bot/dialogue/metrics"
	"github.com/theimaginaryfoundation/memoir-bot/dialogue/ner"
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
	layout, err := dialogue.ParseLayout(cfg.Layout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	logger := newLogger(cfg.Verbose)
	slog.SetDefault(logger)

	tagger, err := buildTagger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rec *metrics.Recorder
	if cfg.MetricsFile != "" {
		rec = metrics.New()
	}

	start := time.Now()
	res, err := dialogue.ExtractDir(ctx, cfg.InputPath, cfg.OutputDir, tagger, dialogue.ExtractOptions{
		Layout:              layout,
		AnnotateInterviewer: cfg.AnnotateInterviewer,
		CatalogPath:         cfg.CatalogPath,
		SkipCatalog:         cfg.NoCatalog,
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

	fmt.Fprintf(os.Stdout, "files=%d kb_written=%d skipped=%d backend=%s out_dir=%s elapsed=%s\n",
		res.Files, res.Written, res.Skipped, cfg.Backend, cfg.OutputDir, time.Since(start).Round(time.Second))
	for _, p := range res.Outputs {
		fmt.Fprintln(os.Stdout, p)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.InputPath, "in", cfg.InputPath, "Session JSON file or directory of session files")
	fs.StringVar(&cfg.OutputDir, "out", cfg.OutputDir, "Directory to write KB_<name>.json files into")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "Entity tagger backend: http|openai")
	fs.StringVar(&cfg.NERURL, "ner-url", cfg.NERURL, "Token-classification endpoint URL (defaults to NER_URL env var)")
	fs.Float64Var(&cfg.MinScore, "min-score", cfg.MinScore, "Drop NER spans scored below this value")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "OpenAI model for -backend openai")
	fs.StringVar(&cfg.Layout, "layout", cfg.Layout, "KB layout: full (every unit) or sparse (units with entities or errors)")
	fs.BoolVar(&cfg.AnnotateInterviewer, "annotate-interviewer", false, "Also tag Interviewer turns")
	fs.StringVar(&cfg.CatalogPath, "catalog", cfg.CatalogPath, "Entity catalog path (default <out>/entity_catalog.json)")
	fs.BoolVar(&cfg.NoCatalog, "no-catalog", false, "Do not update the entity catalog")
	fs.StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "Optional Prometheus textfile to write run metrics into")
	fs.BoolVar(&cfg.Verbose, "v", false, "Debug logging")
	fs.StringVar(&cfg.APIKey, "api-key", "", "OpenAI API key (overrides OPENAI_API_KEY env var)")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage:\n  %s [flags] [session.json]\n\nFlags:\n", filepath.Base(os.Args[0]))
		fs.PrintDefaults()
		fmt.Fprintln(fs.Output(), "\nExample:")
		fmt.Fprintln(fs.Output(), "  go run ./cmd/entity-extract -in data/dialogues -out data/kb -ner-url http://localhost:8080/ner")
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		cfg.InputPath = fs.Arg(0)
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if cfg.NERURL == "" {
		cfg.NERURL = os.Getenv("NER_URL")
	}
	cfg.NERToken = os.Getenv("NER_API_TOKEN")
	cfg.InputPath = filepath.Clean(cfg.InputPath)
	cfg.OutputDir = filepath.Clean(cfg.OutputDir)
	if cfg.CatalogPath != "" {
		cfg.CatalogPath = filepath.Clean(cfg.CatalogPath)
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

func buildTagger(cfg Config) (dialogue.EntityTagger, error) {
	switch cfg.Backend {
	case backendOpenAI:
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("missing OPENAI_API_KEY (or pass -api-key)")
		}
		schema, err := provider.GenerateSchema[taggedSentence]()
		if err != nil {
			return nil, err
		}
		return openAIEntityTagger{
			responder: provider.Responder{
				Client: provider.NewClient(apiKey),
				Model:  cfg.Model,
				Policy: provider.DefaultRetryPolicy(),
			},
			schema: schema,
		}, nil
	default:
		return ner.NewHTTPTagger(ner.Config{
			URL:      cfg.NERURL,
			Token:    cfg.NERToken,
			MinScore: cfg.MinScore,
			Policy: provider.RetryPolicy{
				MaxAttempts:    3,
				Delay:          2 * time.Second,
				RateLimitDelay: 30 * time.Second,
				Retryable:      provider.IsTransient,
			},
		})
	}
}

type openAIEntityTagger struct {
	responder provider.Responder
	schema    map[string]any
}

type taggedEntity struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

type taggedSentence struct {
	Entities []taggedEntity `json:"entities"`
}

func (t openAIEntityTagger) Tag(ctx context.Context, text string) ([]dialogue.Entity, error) {
	temp := 0.0
	var out taggedSentence
	err := t.responder.CompleteJSON(ctx, provider.Request{
		Instructions: entityTaggingPrompt,
		Input:        text,
		Temperature:  &temp,
		MaxTokens:    800,
		SchemaName:   "SentenceEntities",
		Schema:       t.schema,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.entities(text), nil
}

// entities keeps only spans that occur in the tagged text.
func (s taggedSentence) entities(text string) []dialogue.Entity {
	out := make([]dialogue.Entity, 0, len(s.Entities))
	for _, e := range s.Entities {
		word := strings.TrimSpace(e.Text)
		if word == "" || !strings.Contains(text, word) {
			continue
		}
		out = append(out, dialogue.Entity{Text: word, Type: e.Type})
	}
	return out
}
