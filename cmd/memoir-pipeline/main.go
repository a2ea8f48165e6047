package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/theimaginaryfoundation/memoir-bot/dialogue"
	"github.com/theimaginaryfoundation/memoir-bot/dialogue/fileutils"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dirs := newLayout(cfg.BaseDir)
	stages := selectStages(cfg)

	for _, stage := range stages {
		if stage == "synth" && !cfg.Overwrite && dirHasJSON(dirs.dialogues) {
			fmt.Fprintln(os.Stdout, "skip synth: dialogues already exist")
			continue
		}
		args, ok := stageArgs(cfg, dirs, stage)
		if !ok {
			fmt.Fprintln(os.Stderr, "unknown stage:", stage)
			os.Exit(2)
		}
		if err := runGo(ctx, args...); err != nil {
			os.Exit(1)
		}

		if stage == "patch" {
			// Carry the entity catalog next to the reconciled sessions.
			dst := filepath.Join(dirs.patched, dialogue.CatalogFileName)
			copied, err := fileutils.CopyFileIfExists(filepath.Join(dirs.kb, dialogue.CatalogFileName), dst, cfg.Overwrite)
			if err != nil {
				fmt.Fprintln(os.Stderr, "failed copying entity catalog:", err.Error())
				os.Exit(1)
			}
			if copied {
				fmt.Fprintln(os.Stdout, "copied entity catalog:", dst)
			}
		}
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.BaseDir, "base-dir", cfg.BaseDir, "Base data directory (dialogues/, kb/, emotion/, patched/, ablation/, memoirs/)")
	fs.StringVar(&cfg.ScenariosPath, "scenarios", cfg.ScenariosPath, "Scenario YAML for synthesis (default: built-in set)")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "OpenAI model for synthesis, ablation and memoirs (uses OPENAI_API_KEY)")
	fs.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "Seed for synthesis and test-set sampling (0 = stage defaults)")
	fs.StringVar(&cfg.NERBackend, "ner-backend", cfg.NERBackend, "Entity tagger backend: http|openai")
	fs.StringVar(&cfg.NERURL, "ner-url", cfg.NERURL, "Token-classification endpoint (defaults to NER_URL env var)")
	fs.StringVar(&cfg.ClassifierPath, "model-file", cfg.ClassifierPath, "Exported emotion classifier artifact")
	fs.StringVar(&cfg.Collapse, "collapse", cfg.Collapse, "Gold label collapse rule: memoir|iemocap")
	fs.StringVar(&cfg.Strategies, "strategies", cfg.Strategies, "Memoir strategies: baseline,rag,fewshot,pii (or all)")
	fs.IntVar(&cfg.MaxSamples, "max-samples", cfg.MaxSamples, "Limit ablation samples (0 = all)")
	fs.StringVar(&cfg.MetricsDir, "metrics-dir", cfg.MetricsDir, "Optional directory for per-stage Prometheus textfiles")

	fs.StringVar(&cfg.FromStage, "from-stage", "", "Start at stage: "+strings.Join(allStages, "|"))
	fs.StringVar(&cfg.OnlyStage, "only-stage", "", "Run only one stage: "+strings.Join(allStages, "|"))

	fs.BoolVar(&cfg.Overwrite, "overwrite", cfg.Overwrite, "Regenerate dialogues even if present and overwrite copied files")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.FromStage = strings.ToLower(strings.TrimSpace(cfg.FromStage))
	cfg.OnlyStage = strings.ToLower(strings.TrimSpace(cfg.OnlyStage))
	if cfg.ScenariosPath != "" {
		cfg.ScenariosPath = filepath.Clean(cfg.ScenariosPath)
	}
	return cfg, nil
}

func selectStages(cfg Config) []string {
	if cfg.OnlyStage != "" {
		return []string{cfg.OnlyStage}
	}
	if cfg.FromStage != "" {
		return stagesFrom(allStages, cfg.FromStage)
	}
	return allStages
}

func stageArgs(cfg Config, dirs layout, stage string) ([]string, bool) {
	var args []string
	switch stage {
	case "synth":
		args = []string{"run", "./cmd/dialogue-synth", "-out", dirs.dialogues, "-model", cfg.Model}
		if cfg.ScenariosPath != "" {
			args = append(args, "-scenarios", cfg.ScenariosPath)
		}
		if cfg.Seed != 0 {
			args = append(args, "-seed", fmt.Sprintf("%d", cfg.Seed))
		}
	case "extract":
		args = []string{"run", "./cmd/entity-extract", "-in", dirs.dialogues, "-out", dirs.kb, "-backend", cfg.NERBackend}
		if cfg.NERURL != "" {
			args = append(args, "-ner-url", cfg.NERURL)
		}
	case "emotion":
		args = []string{"run", "./cmd/emotion-predict",
			"-in", dirs.dialogues,
			"-out", dirs.emotion,
			"-model-file", cfg.ClassifierPath,
			"-collapse", cfg.Collapse,
		}
	case "patch":
		args = []string{"run", "./cmd/kb-patch", "-orig", dirs.dialogues, "-kb", dirs.kb, "-out", dirs.patched}
		if dirHasJSON(dirs.emotion) {
			args = append(args, "-emotion", dirs.emotion)
		}
	case "ablation":
		args = []string{"run", "./cmd/question-ablation",
			"-in", dirs.patched,
			"-out", dirs.ablation,
			"-model", cfg.Model,
			"-max-samples", fmt.Sprintf("%d", cfg.MaxSamples),
		}
		if cfg.Seed != 0 {
			args = append(args, "-seed", fmt.Sprintf("%d", cfg.Seed))
		}
	case "memoir":
		args = []string{"run", "./cmd/memoir-gen",
			"-in", dirs.patched,
			"-out", dirs.memoirs,
			"-model", cfg.Model,
			"-strategies", cfg.Strategies,
		}
	default:
		return nil, false
	}
	if cfg.MetricsDir != "" {
		args = append(args, "-metrics-file", filepath.Join(cfg.MetricsDir, stage+".prom"))
	}
	return args, true
}

func runGo(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "go", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, "command failed:", "go "+strings.Join(args, " "))
		fmt.Fprintln(os.Stderr, "error:", err.Error())
		return err
	}
	fmt.Fprintln(os.Stdout, "ok:", "go "+strings.Join(args, " "), "(", time.Since(start).Round(time.Millisecond).String()+")")
	return nil
}

func stagesFrom(stages []string, from string) []string {
	from = strings.ToLower(strings.TrimSpace(from))
	for i, s := range stages {
		if s == from {
			return stages[i:]
		}
	}
	return stages
}

func dirHasJSON(dir string) bool {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), ".json") {
			return true
		}
	}
	return false
}
