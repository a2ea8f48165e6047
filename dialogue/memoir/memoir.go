// Package memoir turns an annotated interview into a first-person memoir with one of several
// prompting strategies and writes each result as a text file.
package memoir

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/theimaginaryfoundation/memoir-bot/dialogue"
	"github.com/theimaginaryfoundation/memoir-bot/dialogue/fileutils"
	"github.com/theimaginaryfoundation/memoir-bot/dialogue/metrics"
	"github.com/theimaginaryfoundation/memoir-bot/dialogue/provider"
)

const StageMemoir = "memoir"

type Strategy string

const (
	StrategyBaseline Strategy = "baseline"
	StrategyRAG      Strategy = "rag"
	StrategyFewShot  Strategy = "fewshot"
	StrategyPII      Strategy = "pii"
)

// AllStrategies is the run order. pii rewrites the fewshot memoir, so it comes last.
var AllStrategies = []Strategy{StrategyBaseline, StrategyRAG, StrategyFewShot, StrategyPII}

func ParseStrategies(s string) ([]Strategy, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "all" {
		return append([]Strategy(nil), AllStrategies...), nil
	}
	var out []Strategy
	for _, part := range strings.Split(s, ",") {
		st := Strategy(strings.ToLower(strings.TrimSpace(part)))
		switch st {
		case StrategyBaseline, StrategyRAG, StrategyFewShot, StrategyPII:
			out = append(out, st)
		default:
			return nil, fmt.Errorf("unknown strategy %q", part)
		}
	}
	return out, nil
}

const (
	ragQuery     = "Key moments and reflections from this person's life story."
	fewShotQuery = "Life events relevant for a warm reflective memoir."
)

// Completer is the text-generation collaborator.
type Completer interface {
	Complete(ctx context.Context, instructions, prompt string) (string, error)
}

type Options struct {
	// TopK is the number of retrieved chunks for rag and fewshot. Default 8.
	TopK int

	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Generator owns the collaborators the strategies need. Embedder is only used by rag and
// fewshot.
type Generator struct {
	Completer Completer
	Embedder  provider.Embedder
	Opts      Options
}

func (g Generator) topK() int {
	if g.Opts.TopK <= 0 {
		return 8
	}
	return g.Opts.TopK
}

func (g Generator) baseline(ctx context.Context, l dialogue.Loaded) (string, error) {
	transcript := Transcript(l)
	if transcript == "" {
		return "", errors.New("no subject text")
	}
	return g.Completer.Complete(ctx, memoirInstructions, "=== Transcript ===\n"+transcript)
}

func (g Generator) retrieve(ctx context.Context, l dialogue.Loaded, query string) ([]Chunk, error) {
	if g.Embedder == nil {
		return nil, errors.New("embedder is nil")
	}
	chunks := SubjectChunks(l)
	if len(chunks) == 0 {
		return nil, errors.New("no subject chunks")
	}
	return TopK(ctx, g.Embedder, query, chunks, g.topK())
}

func (g Generator) rag(ctx context.Context, l dialogue.Loaded) (string, error) {
	top, err := g.retrieve(ctx, l, ragQuery)
	if err != nil {
		return "", err
	}
	return g.Completer.Complete(ctx, memoirInstructions, "=== Retrieved Evidence ===\n"+formatEvidence(top))
}

func (g Generator) fewShot(ctx context.Context, l dialogue.Loaded) (string, error) {
	top, err := g.retrieve(ctx, l, fewShotQuery)
	if err != nil {
		return "", err
	}
	prompt := "=== EXAMPLE MEMOIR STYLE ===\n" + exemplarMemoir +
		"\n\n=== EVIDENCE FROM TRANSCRIPT ===\n" + formatEvidence(top) +
		"\n\n" + fewShotTail
	return g.Completer.Complete(ctx, memoirInstructions, prompt)
}

func (g Generator) pii(ctx context.Context, l dialogue.Loaded, memoirText string) (string, error) {
	if strings.TrimSpace(memoirText) == "" {
		return "", errors.New("no fewshot memoir to rewrite")
	}
	ents := SensitiveEntities(l.Session)
	prompt := "=== Sensitive Entities Detected ===\n" + strings.Join(ents, "\n") +
		"\n\n=== Text to Rewrite ===\n" + memoirText
	return g.Completer.Complete(ctx, piiInstructions, prompt)
}

// Result is the outcome of one strategy on one session.
type Result struct {
	Strategy Strategy
	Path     string
	Err      error
}

// Generate runs each strategy on l and writes <outDir>/<base>/<base>_<strategy>.txt. A failed
// strategy is logged and recorded; the others still run. pii uses the fewshot memoir from this
// call, or from disk when fewshot was not requested.
func (g Generator) Generate(ctx context.Context, l dialogue.Loaded, strategies []Strategy, outDir string) []Result {
	log := g.Opts.Logger
	if log == nil {
		log = slog.Default()
	}
	base := dialogue.SessionBaseName(l.Path)
	log = log.With("stage", StageMemoir, "file", base)

	var fewShotText string
	results := make([]Result, 0, len(strategies))
	for _, st := range strategies {
		if err := ctx.Err(); err != nil {
			results = append(results, Result{Strategy: st, Err: err})
			break
		}
		start := time.Now()

		var text string
		var err error
		switch st {
		case StrategyBaseline:
			text, err = g.baseline(ctx, l)
		case StrategyRAG:
			text, err = g.rag(ctx, l)
		case StrategyFewShot:
			text, err = g.fewShot(ctx, l)
			fewShotText = text
		case StrategyPII:
			src := fewShotText
			if src == "" {
				src, err = LoadOutput(outDir, base, StrategyFewShot)
			}
			if err == nil {
				text, err = g.pii(ctx, l, src)
			}
		default:
			err = fmt.Errorf("unknown strategy %q", st)
		}
		g.Opts.Metrics.Call(StageMemoir, err)
		if err != nil {
			log.Warn("strategy failed", "strategy", st, "err", err)
			results = append(results, Result{Strategy: st, Err: err})
			continue
		}

		path, err := SaveOutput(outDir, base, st, text)
		if err != nil {
			log.Error("write failed", "strategy", st, "err", err)
			results = append(results, Result{Strategy: st, Err: err})
			continue
		}
		log.Info("memoir written", "strategy", st, "path", path, "elapsed", time.Since(start).Round(time.Millisecond))
		results = append(results, Result{Strategy: st, Path: path})
	}
	return results
}

// OutputPath is <outDir>/<base>/<base>_<strategy>.txt.
func OutputPath(outDir, base string, st Strategy) string {
	return filepath.Join(outDir, base, fmt.Sprintf("%s_%s.txt", base, st))
}

func header(st Strategy) string {
	return fmt.Sprintf("=== %s VERSION ===\n\n", strings.ToUpper(string(st)))
}

func SaveOutput(outDir, base string, st Strategy, content string) (string, error) {
	path := OutputPath(outDir, base, st)
	if err := fileutils.WriteFileAtomicSameDir(path, []byte(header(st)+content), 0o644); err != nil {
		return "", fmt.Errorf("SaveOutput: %w", err)
	}
	return path, nil
}

// LoadOutput reads a saved memoir without its two header lines.
func LoadOutput(outDir, base string, st Strategy) (string, error) {
	f, err := os.Open(OutputPath(outDir, base, st))
	if err != nil {
		return "", fmt.Errorf("LoadOutput: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for n := 0; sc.Scan(); n++ {
		if n < 2 {
			continue
		}
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("LoadOutput: %w", err)
	}
	return strings.Join(lines, "\n"), nil
}

// DirStats counts strategy outcomes across a batch.
type DirStats struct {
	Files   int
	Skipped int
	Written int
	Failed  int
}

// GenerateDir runs Generate for every session under inPath (a directory or one file).
func (g Generator) GenerateDir(ctx context.Context, inPath, outDir string, strategies []Strategy) (DirStats, error) {
	log := g.Opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if g.Completer == nil {
		return DirStats{}, fmt.Errorf("GenerateDir: %w: completer is nil", dialogue.ErrConfig)
	}
	if !fileutils.FileExists(inPath) && !fileutils.DirExists(inPath) {
		return DirStats{}, fmt.Errorf("GenerateDir: %w: input not found: %q", dialogue.ErrConfig, inPath)
	}
	files, err := fileutils.CollectJSONFiles(inPath, dialogue.SessionFiles())
	if err != nil {
		return DirStats{}, fmt.Errorf("GenerateDir: %w", err)
	}

	stats := DirStats{Files: len(files)}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		l, err := dialogue.LoadSession(path)
		if err != nil {
			log.Warn("skipping file", "file", path, "err", err)
			stats.Skipped++
			g.Opts.Metrics.FileDone(StageMemoir, metrics.OutcomeSkipped, 0)
			continue
		}
		start := time.Now()
		for _, r := range g.Generate(ctx, l, strategies, outDir) {
			if r.Err != nil {
				stats.Failed++
			} else {
				stats.Written++
			}
		}
		g.Opts.Metrics.FileDone(StageMemoir, metrics.OutcomeOK, time.Since(start))
	}
	return stats, nil
}
