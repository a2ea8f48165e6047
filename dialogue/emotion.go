package dialogue

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/theimaginaryfoundation/memoir-bot/dialogue/fileutils"
	"github.com/theimaginaryfoundation/memoir-bot/dialogue/metrics"
)

// EmotionClassifier is the pre-fitted classifier collaborator. It is read-only.
type EmotionClassifier interface {
	Predict(text string) (string, error)
}

type EmotionOptions struct {
	// AnnotateInterviewer also predicts Interviewer turns (never scored: they carry no gold).
	AnnotateInterviewer bool
	// SummaryPath defaults to <outDir>/summary_accuracy.csv.
	SummaryPath string

	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Accuracy counts only units with a resolvable gold label. Value is nil when Total is 0.
type Accuracy struct {
	Total   int
	Correct int
	Value   *float64
}

func (a *Accuracy) add(correct bool) {
	a.Total++
	if correct {
		a.Correct++
	}
}

func (a *Accuracy) finish() {
	a.Value = nil
	if a.Total > 0 {
		v := float64(a.Correct) / float64(a.Total)
		a.Value = &v
	}
}

// PredictSession returns a copy of the session with predicted_emotions on every non-empty
// Subject sentence (or BodyText turn). A failed prediction gets the "error" sentinel and is
// never scored.
func PredictSession(loaded Loaded, clf EmotionClassifier, collapser LabelCollapser, opts EmotionOptions) (Session, Accuracy) {
	out := loaded.Session.Clone()
	var acc Accuracy

	predict := func(text string, gold []string) []string {
		text = strings.TrimSpace(text)
		label, err := clf.Predict(text)
		opts.Metrics.Call(StageEmotion, err)
		if err != nil {
			return []string{EmotionErrorSentinel}
		}
		if len(gold) > 0 && collapser != nil {
			if g, ok := collapser.Collapse(gold[0]); ok {
				correct := strings.EqualFold(g, strings.TrimSpace(label))
				acc.add(correct)
				opts.Metrics.GoldCompared(correct)
			}
		}
		return []string{label}
	}

	for ti := range out.Turns {
		turn := &out.Turns[ti]
		subject := loaded.Roles.IsSubject(turn.Speaker)
		if !subject && !(opts.AnnotateInterviewer && loaded.Roles.IsInterviewer(turn.Speaker)) {
			continue
		}

		if turn.Body() == BodyText {
			if strings.TrimSpace(turn.Text) == "" {
				continue
			}
			var gold []string
			if subject && turn.Annotations != nil {
				gold = turn.Annotations.Emotions
			}
			turn.PredictedEmotions = predict(turn.Text, gold)
			continue
		}
		for si := range turn.Sentences {
			sen := &turn.Sentences[si]
			if strings.TrimSpace(sen.Text) == "" {
				continue
			}
			var gold []string
			if subject {
				gold = sen.Annotations.Emotions
			}
			sen.PredictedEmotions = predict(sen.Text, gold)
		}
	}
	acc.finish()
	return out, acc
}

// AccuracyRow is one line of the accuracy summary.
type AccuracyRow struct {
	File     string
	Accuracy Accuracy
}

var accuracyHeader = []string{"file", "total_sentences", "correct_predictions", "accuracy"}

// WriteAccuracyCSV writes the summary table. A nil accuracy is written as an empty cell.
func WriteAccuracyCSV(path string, rows []AccuracyRow) error {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.Write(accuracyHeader); err != nil {
		return fmt.Errorf("WriteAccuracyCSV: %w", err)
	}
	for _, r := range rows {
		cell := ""
		if r.Accuracy.Value != nil {
			cell = strconv.FormatFloat(*r.Accuracy.Value, 'f', -1, 64)
		}
		rec := []string{r.File, strconv.Itoa(r.Accuracy.Total), strconv.Itoa(r.Accuracy.Correct), cell}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("WriteAccuracyCSV: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("WriteAccuracyCSV: %w", err)
	}
	if err := fileutils.WriteFileAtomicSameDir(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("WriteAccuracyCSV: %w", err)
	}
	return nil
}

// OverallAccuracy pools the per-file counts.
func OverallAccuracy(rows []AccuracyRow) Accuracy {
	var acc Accuracy
	for _, r := range rows {
		acc.Total += r.Accuracy.Total
		acc.Correct += r.Accuracy.Correct
	}
	acc.finish()
	return acc
}

// EmotionDir predicts every session under inPath into outDir (same file names) and writes the
// accuracy summary CSV.
func EmotionDir(ctx context.Context, inPath, outDir string, clf EmotionClassifier, collapser LabelCollapser, opts EmotionOptions) (BatchResult, []AccuracyRow, error) {
	log := loggerOr(opts.Logger).With("stage", StageEmotion)
	if clf == nil {
		return BatchResult{}, nil, fmt.Errorf("EmotionDir: %w: classifier is nil", ErrConfig)
	}
	files, err := prepareBatch(inPath, outDir, SessionFiles())
	if err != nil {
		return BatchResult{}, nil, fmt.Errorf("EmotionDir: %w", err)
	}

	res := BatchResult{Files: len(files)}
	var rows []AccuracyRow
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return res, rows, err
		}
		start := time.Now()

		loaded, err := LoadSession(path)
		if err != nil {
			log.Warn("skipping file", "file", path, "err", err)
			res.Skipped++
			opts.Metrics.FileDone(StageEmotion, metrics.OutcomeSkipped, 0)
			continue
		}
		if loaded.Roles.Ambiguous {
			log.Warn("ambiguous subject speaker", "file", path, "subject", loaded.Roles.Subject)
		}

		out, acc := PredictSession(loaded, clf, collapser, opts)
		outPath := filepath.Join(outDir, filepath.Base(path))
		if err := SaveSession(outPath, out); err != nil {
			log.Error("write failed", "file", path, "err", err)
			res.Skipped++
			opts.Metrics.FileDone(StageEmotion, metrics.OutcomeError, 0)
			continue
		}

		rows = append(rows, AccuracyRow{File: filepath.Base(path), Accuracy: acc})
		res.Written++
		res.Outputs = append(res.Outputs, outPath)
		opts.Metrics.FileDone(StageEmotion, metrics.OutcomeOK, time.Since(start))
		log.Info("predicted",
			"progress", fmt.Sprintf("%d/%d", i+1, len(files)),
			"file", filepath.Base(path),
			"scored", acc.Total,
			"correct", acc.Correct,
			"accuracy", formatAccuracy(acc.Value),
		)
	}

	summaryPath := opts.SummaryPath
	if summaryPath == "" {
		summaryPath = filepath.Join(outDir, "summary_accuracy.csv")
	}
	if err := WriteAccuracyCSV(summaryPath, rows); err != nil {
		return res, rows, fmt.Errorf("EmotionDir: %w", err)
	}
	return res, rows, nil
}

func formatAccuracy(v *float64) string {
	if v == nil {
		return "null"
	}
	return strconv.FormatFloat(*v, 'f', 4, 64)
}
