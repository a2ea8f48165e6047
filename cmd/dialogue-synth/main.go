package main

import (
	"context"
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/theimaginaryfoundation/memoir-bot/dialogue"
	"github.com/theimaginaryfoundation/memoir-bot/dialogue/metrics"
	"github.com/theimaginaryfoundation/memoir-bot/dialogue/provider"
)

//go:embed scenarios.yaml
var defaultScenarios []byte

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

	set, err := loadScenarios(cfg.ScenariosPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	set = set.Filter(splitList(cfg.ScenarioIDs))
	if len(set.Scenarios) == 0 {
		fmt.Fprintln(os.Stderr, "no scenarios selected")
		os.Exit(2)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "missing OPENAI_API_KEY (or pass -api-key)")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rec *metrics.Recorder
	if cfg.MetricsFile != "" {
		rec = metrics.New()
	}

	schema, err := provider.GenerateSchema[turnPairOut]()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	gen := openAITurnGenerator{
		responder: provider.Responder{
			Client: provider.NewClient(apiKey),
			Model:  cfg.Model,
			Policy: provider.DefaultRetryPolicy(),
		},
		schema:      schema,
		temperature: cfg.Temperature,
	}

	opts := dialogue.SynthOptions{
		MinPairs:     cfg.MinPairs,
		MaxPairs:     cfg.MaxPairs,
		HistoryTurns: cfg.HistoryTurns,
		Logger:       logger,
		Metrics:      rec,
	}
	if cfg.Seed != 0 {
		opts.Rand = rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	}

	start := time.Now()
	res, err := dialogue.SynthDir(ctx, set, cfg.Tone, cfg.OutputDir, gen, opts)
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

	fmt.Fprintf(os.Stdout, "scenarios=%d sessions_written=%d skipped=%d out_dir=%s elapsed=%s\n",
		res.Files, res.Written, res.Skipped, cfg.OutputDir, time.Since(start).Round(time.Second))
	for _, p := range res.Outputs {
		fmt.Fprintln(os.Stdout, p)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.ScenariosPath, "scenarios", cfg.ScenariosPath, "YAML scenario file (tones + personas); defaults to the built-in set")
	fs.StringVar(&cfg.OutputDir, "out", cfg.OutputDir, "Directory to write synthesized session JSON files into")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "OpenAI model used to generate turn pairs")
	fs.StringVar(&cfg.Tone, "tone", cfg.Tone, "Force one tone for every session (default: random per scenario)")
	fs.StringVar(&cfg.ScenarioIDs, "only", cfg.ScenarioIDs, "Comma-separated scenario ids to synthesize (default: all)")
	fs.IntVar(&cfg.MinPairs, "min-pairs", cfg.MinPairs, "Minimum Interviewer/Subject pairs per session")
	fs.IntVar(&cfg.MaxPairs, "max-pairs", cfg.MaxPairs, "Maximum Interviewer/Subject pairs per session")
	fs.IntVar(&cfg.HistoryTurns, "history-turns", cfg.HistoryTurns, "Number of previous pairs sent as context")
	fs.Float64Var(&cfg.Temperature, "temperature", cfg.Temperature, "Sampling temperature")
	fs.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed for session length and tone (0 = time based)")
	fs.StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "Optional Prometheus textfile to write run metrics into")
	fs.BoolVar(&cfg.Verbose, "v", false, "Debug logging")
	fs.StringVar(&cfg.APIKey, "api-key", "", "OpenAI API key (overrides OPENAI_API_KEY env var)")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage:\n  %s [flags] [scenarios.yaml]\n\nFlags:\n", filepath.Base(os.Args[0]))
		fs.PrintDefaults()
		fmt.Fprintln(fs.Output(), "\nExample:")
		fmt.Fprintln(fs.Output(), "  go run ./cmd/dialogue-synth -out data/dialogues -only 01_Elena,02_Robert -seed 7")
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		cfg.ScenariosPath = fs.Arg(0)
	}
	if cfg.ScenariosPath != "" {
		cfg.ScenariosPath = filepath.Clean(cfg.ScenariosPath)
	}
	cfg.OutputDir = filepath.Clean(cfg.OutputDir)
	return cfg, nil
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadScenarios(path string) (dialogue.ScenarioSet, error) {
	if path == "" {
		return dialogue.ParseScenarios(defaultScenarios)
	}
	return dialogue.LoadScenarios(path)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type openAITurnGenerator struct {
	responder   provider.Responder
	schema      map[string]any
	temperature float64
}

type entityOut struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

type sentenceOut struct {
	Text      string      `json:"text"`
	LifeStage string      `json:"life_stage"`
	EventType string      `json:"event_type"`
	Emotions  []string    `json:"emotions"`
	Entities  []entityOut `json:"entities"`
}

type turnPairOut struct {
	InterviewerText    string        `json:"interviewer_text"`
	SubjectText        string        `json:"subject_text"`
	SubjectAnnotations []sentenceOut `json:"subject_annotations"`
}

func (g openAITurnGenerator) GenerateTurn(ctx context.Context, req dialogue.TurnRequest) (dialogue.TurnPair, error) {
	temp := g.temperature
	var out turnPairOut
	err := g.responder.CompleteJSON(ctx, provider.Request{
		Instructions: buildInstructions(req),
		Input:        buildInput(req),
		Temperature:  &temp,
		MaxTokens:    2000,
		SchemaName:   "InterviewTurnPair",
		Schema:       g.schema,
	}, &out)
	if err != nil {
		return dialogue.TurnPair{}, err
	}
	if strings.TrimSpace(out.InterviewerText) == "" || strings.TrimSpace(out.SubjectText) == "" {
		return dialogue.TurnPair{}, errors.New("GenerateTurn: empty interviewer or subject text")
	}
	return out.toPair(), nil
}

func (o turnPairOut) toPair() dialogue.TurnPair {
	pair := dialogue.TurnPair{InterviewerText: o.InterviewerText, SubjectText: o.SubjectText}
	for _, s := range o.SubjectAnnotations {
		stub := dialogue.SentenceStub{
			Text:      s.Text,
			LifeStage: s.LifeStage,
			EventType: s.EventType,
			Emotions:  s.Emotions,
		}
		for _, e := range s.Entities {
			stub.Entities = append(stub.Entities, dialogue.Entity{Text: e.Text, Type: e.Type})
		}
		pair.SubjectAnnotations = append(pair.SubjectAnnotations, stub)
	}
	return pair
}

func buildInstructions(req dialogue.TurnRequest) string {
	topics := make([]string, 0, len(req.Scenario.Timeline))
	for _, st := range req.Scenario.Timeline {
		topics = append(topics, st.Topic)
	}
	return fmt.Sprintf(interviewPromptTemplate,
		req.Scenario.Name, req.Scenario.Age, req.Scenario.Role,
		strings.Join(topics, " -> "),
		req.Phase.Instruction,
		req.Tone,
		req.Phase.Stage,
	)
}

func buildInput(req dialogue.TurnRequest) string {
	return fmt.Sprintf("History Snippet:\n%s\n\nGenerate Pair %d/%d:",
		strings.Join(req.History, "\n"), req.PairIndex+1, req.TotalPairs)
}
