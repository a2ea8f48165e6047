package ablation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/theimaginaryfoundation/memoir-bot/dialogue/fileutils"
	"github.com/theimaginaryfoundation/memoir-bot/dialogue/metrics"
)

const StageAblation = "ablation"

// Output formats recorded per group.
const (
	FormatJSON  = "json"
	FormatText  = "text"
	FormatError = "error"
)

// Generator produces the interviewer's next turn for one prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

type GroupOutput struct {
	RawOutput string          `json:"raw_output"`
	Parsed    json.RawMessage `json:"parsed"`
	Format    string          `json:"format"`
}

type Result struct {
	SampleID            int                   `json:"sample_id"`
	FileID              string                `json:"file_id"`
	SubjectTurn         int                   `json:"subject_turn"`
	TargetTurn          int                   `json:"target_turn"`
	TargetQuestionGT    string                `json:"target_question_gt"`
	GeneratedQuestions  map[Group]GroupOutput `json:"generated_questions"`
	GenerationTimestamp string                `json:"generation_timestamp"`
}

// Checkpoint is the on-disk progress of a run. Results are in sample order; a resumed run
// continues at len(Results).
type Checkpoint struct {
	RunID     string   `json:"run_id"`
	StartedAt string   `json:"started_at"`
	Results   []Result `json:"results"`
}

type RunOptions struct {
	CheckpointPath string
	OutputPath     string
	// Resume continues from an existing checkpoint instead of starting over.
	Resume bool
	// RequestDelay is the pause between groups of one sample.
	RequestDelay time.Duration

	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

type RunStats struct {
	RunID     string
	Samples   int
	Resumed   int
	Generated int
	Errors    int
	JSON      int
	Text      int
}

// ClassifyOutput records raw model text. Output that is a single JSON object is kept parsed.
func ClassifyOutput(raw string) GroupOutput {
	text := strings.TrimSpace(raw)
	if fileutils.LooksLikeJSONObject(text) && json.Valid([]byte(text)) {
		return GroupOutput{RawOutput: text, Parsed: json.RawMessage(text), Format: FormatJSON}
	}
	return GroupOutput{RawOutput: text, Format: FormatText}
}

// ExtractText returns the question text of an output: the parsed "text" field when present,
// the raw output otherwise, and "" for errors.
func ExtractText(o GroupOutput) string {
	if o.Format == FormatError {
		return ""
	}
	var obj struct {
		Text *string `json:"text"`
	}
	if len(o.Parsed) > 0 && json.Unmarshal(o.Parsed, &obj) == nil && obj.Text != nil {
		return *obj.Text
	}
	if err := fileutils.DecodeModelJSON(o.RawOutput, &obj); err == nil && obj.Text != nil {
		return *obj.Text
	}
	return o.RawOutput
}

// Run generates every group for every sample not already in the checkpoint. The checkpoint is
// rewritten after each sample; on completion the results go to OutputPath and the checkpoint
// is removed. A cancelled context returns with the checkpoint intact.
func Run(ctx context.Context, samples []Sample, gen Generator, opts RunOptions) (RunStats, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("stage", StageAblation)
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if gen == nil {
		return RunStats{}, errors.New("ablation.Run: generator is nil")
	}
	if strings.TrimSpace(opts.CheckpointPath) == "" || strings.TrimSpace(opts.OutputPath) == "" {
		return RunStats{}, errors.New("ablation.Run: checkpoint and output paths are required")
	}

	cp, err := startCheckpoint(opts, now)
	if err != nil {
		return RunStats{}, err
	}
	if len(cp.Results) > len(samples) {
		return RunStats{}, fmt.Errorf("ablation.Run: checkpoint has %d results for %d samples", len(cp.Results), len(samples))
	}
	stats := RunStats{RunID: cp.RunID, Samples: len(samples), Resumed: len(cp.Results)}
	if stats.Resumed > 0 {
		log.Info("resuming", "run_id", cp.RunID, "done", stats.Resumed, "total", len(samples))
	}

	for i := len(cp.Results); i < len(samples); i++ {
		s := samples[i]
		res := Result{
			SampleID:            i + 1,
			FileID:              s.FileID,
			SubjectTurn:         s.SubjectTurn,
			TargetTurn:          s.TargetTurn,
			TargetQuestionGT:    s.TargetQuestionGT,
			GeneratedQuestions:  make(map[Group]GroupOutput, len(Groups)),
			GenerationTimestamp: now().Format(time.RFC3339),
		}
		for gi, g := range Groups {
			raw, err := gen.Generate(ctx, systemPrompt, s.Prompts[g])
			opts.Metrics.Call(StageAblation, err)
			if err != nil {
				if ctx.Err() != nil {
					return tally(stats, cp.Results), ctx.Err()
				}
				log.Warn("generation failed", "sample", i+1, "group", g, "err", err)
				res.GeneratedQuestions[g] = GroupOutput{RawOutput: "API_ERROR: " + err.Error(), Format: FormatError}
			} else {
				res.GeneratedQuestions[g] = ClassifyOutput(raw)
			}
			if gi < len(Groups)-1 {
				if err := sleepCtx(ctx, opts.RequestDelay); err != nil {
					return tally(stats, cp.Results), err
				}
			}
		}

		cp.Results = append(cp.Results, res)
		if err := fileutils.WriteJSONFileAtomic(opts.CheckpointPath, cp, true); err != nil {
			return tally(stats, cp.Results), fmt.Errorf("ablation.Run: checkpoint: %w", err)
		}
		log.Info("sample done",
			"progress", fmt.Sprintf("%d/%d", i+1, len(samples)),
			"file", s.FileID,
			"subject_turn", s.SubjectTurn,
			"target_turn", s.TargetTurn,
		)
	}

	if err := fileutils.WriteJSONFileAtomic(opts.OutputPath, cp.Results, true); err != nil {
		return tally(stats, cp.Results), fmt.Errorf("ablation.Run: write results: %w", err)
	}
	if err := os.Remove(opts.CheckpointPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("could not remove checkpoint", "path", opts.CheckpointPath, "err", err)
	}
	return tally(stats, cp.Results), nil
}

func startCheckpoint(opts RunOptions, now func() time.Time) (Checkpoint, error) {
	fresh := Checkpoint{RunID: uuid.NewString(), StartedAt: now().Format(time.RFC3339)}
	if !opts.Resume {
		return fresh, nil
	}
	var cp Checkpoint
	err := fileutils.ReadJSONFile(opts.CheckpointPath, &cp)
	switch {
	case err == nil:
		if cp.RunID == "" {
			cp.RunID = fresh.RunID
		}
		return cp, nil
	case errors.Is(err, fs.ErrNotExist):
		return fresh, nil
	default:
		return Checkpoint{}, fmt.Errorf("ablation.Run: load checkpoint: %w", err)
	}
}

func tally(stats RunStats, results []Result) RunStats {
	stats.Generated, stats.Errors, stats.JSON, stats.Text = 0, 0, 0, 0
	for _, r := range results {
		for _, g := range Groups {
			o, ok := r.GeneratedQuestions[g]
			if !ok {
				continue
			}
			switch o.Format {
			case FormatError:
				stats.Errors++
			case FormatJSON:
				stats.Generated++
				stats.JSON++
			default:
				stats.Generated++
				stats.Text++
			}
		}
	}
	return stats
}

// GroupSummary aggregates one group across results.
type GroupSummary struct {
	Group     Group   `json:"group"`
	Outputs   int     `json:"outputs"`
	Errors    int     `json:"errors"`
	JSON      int     `json:"json"`
	MeanWords float64 `json:"mean_words"`
}

// Summarize reports per-group output counts and mean question length in words.
func Summarize(results []Result) []GroupSummary {
	out := make([]GroupSummary, 0, len(Groups))
	for _, g := range Groups {
		gs := GroupSummary{Group: g}
		words := 0
		for _, r := range results {
			o, ok := r.GeneratedQuestions[g]
			if !ok {
				continue
			}
			gs.Outputs++
			switch o.Format {
			case FormatError:
				gs.Errors++
				continue
			case FormatJSON:
				gs.JSON++
			}
			words += len(strings.Fields(ExtractText(o)))
		}
		if ok := gs.Outputs - gs.Errors; ok > 0 {
			gs.MeanWords = float64(words) / float64(ok)
		}
		out = append(out, gs)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
