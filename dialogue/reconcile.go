package dialogue

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/theimaginaryfoundation/memoir-bot/dialogue/fileutils"
	"github.com/theimaginaryfoundation/memoir-bot/dialogue/metrics"
)

type ReconcileOptions struct {
	// AnnotateInterviewer attaches KB entities and predicted emotions recorded for
	// Interviewer turns. Off by default: Interviewer turns carry plain text only.
	AnnotateInterviewer bool
	// IndexPath defaults to <out>/index.jsonl.
	IndexPath string

	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

type ReconcileStats struct {
	Turns              int
	MatchedSentences   int
	UnmatchedSentences int
	SplicedTurns       int
	FallbackTurns      int
	EntityCollisions   int
	EmotionCollisions  int
}

// Reconcile rebuilds the session from the original's turn order, taking entities from kb and
// predicted emotions from emotions (both optional), then folds the transient fields.
// The output turn_id sequence always equals the original's.
func Reconcile(original Loaded, kb *KBRecord, emotions *Session, opts ReconcileOptions) (Session, ReconcileStats) {
	src := original.Session.Clone()
	eidx := NewEntityIndex(kb)
	midx := NewEmotionIndex(emotions)
	stats := ReconcileStats{
		Turns:             len(src.Turns),
		EntityCollisions:  eidx.Collisions,
		EmotionCollisions: midx.Collisions,
	}

	out := Session{
		SessionID: src.SessionID,
		Tone:      src.Tone,
		Profile:   src.Profile,
		Turns:     make([]Turn, 0, len(src.Turns)),
	}
	if out.SessionID == "" && kb != nil {
		out.SessionID = kb.SessionID
	}

	for _, t := range src.Turns {
		if original.Roles.IsInterviewer(t.Speaker) {
			out.Turns = append(out.Turns, reconcileInterviewer(t, eidx, midx, opts))
			continue
		}
		out.Turns = append(out.Turns, reconcileSubject(t, eidx, midx, &stats))
	}

	FoldTransient(&out)
	return out, stats
}

func reconcileInterviewer(t Turn, eidx EntityIndex, midx EmotionIndex, opts ReconcileOptions) Turn {
	nt := Turn{TurnID: t.TurnID, Speaker: t.Speaker, Text: t.FullText()}
	if !opts.AnnotateInterviewer {
		return nt
	}
	if ents, ok := eidx.TurnEntities(t.TurnID); ok {
		nt.PredictedEntities = ents
	}
	if em, ok := midx.TurnLookup(t.TurnID); ok {
		nt.PredictedEmotions = cloneStrings(em)
	}
	return nt
}

func reconcileSubject(t Turn, eidx EntityIndex, midx EmotionIndex, stats *ReconcileStats) Turn {
	nt := Turn{TurnID: t.TurnID, Speaker: t.Speaker}

	if t.Body() == BodyText {
		sen := Sentence{Text: t.Text, PredictedEntities: []Entity{}}
		if t.Annotations != nil {
			sen.Annotations = t.Annotations.Clone()
		}
		if ents, ok := eidx.TurnEntities(t.TurnID); ok {
			sen.PredictedEntities = ents
			stats.MatchedSentences++
		} else {
			stats.UnmatchedSentences++
		}
		if em, ok := midx.TurnLookup(t.TurnID); ok {
			sen.PredictedEmotions = cloneStrings(em)
		}
		nt.Sentences = []Sentence{sen}
		return nt
	}

	sentences := make([]Sentence, 0, len(t.Sentences))
	matched := 0
	for _, s := range t.Sentences {
		k := SentenceKey{TurnID: t.TurnID, Text: s.Text}
		ns := Sentence{Text: s.Text, Annotations: s.Annotations.Clone(), PredictedEntities: []Entity{}}
		if ents, ok := eidx.Lookup(k); ok {
			ns.PredictedEntities = cloneEntities(ents)
			matched++
		}
		if em, ok := midx.Lookup(k); ok {
			ns.PredictedEmotions = cloneStrings(em)
		}
		sentences = append(sentences, ns)
	}

	if matched > 0 {
		stats.MatchedSentences += matched
		stats.UnmatchedSentences += len(t.Sentences) - matched
		nt.Sentences = sentences
		return nt
	}

	if entries := eidx.TurnEntries(t.TurnID); len(entries) > 0 {
		stats.SplicedTurns++
		nt.Sentences = spliceEntries(t, entries, midx)
		return nt
	}

	stats.FallbackTurns++
	nt.Sentences = []Sentence{fallbackSentence(t, sentences)}
	return nt
}

// spliceEntries uses the KB entries as the turn's sentences, in KB order. Gold annotations are
// carried over from the original sentence at the entry's sentence_index when present.
func spliceEntries(t Turn, entries []KBEntry, midx EmotionIndex) []Sentence {
	out := make([]Sentence, 0, len(entries))
	for _, e := range entries {
		ns := Sentence{Text: e.OriginalText, PredictedEntities: cloneEntities(e.PredictedEntities)}
		if ns.PredictedEntities == nil {
			ns.PredictedEntities = []Entity{}
		}
		if e.SentenceIndex != nil && *e.SentenceIndex >= 0 && *e.SentenceIndex < len(t.Sentences) {
			ns.Annotations = t.Sentences[*e.SentenceIndex].Annotations.Clone()
		}
		if em, ok := midx.Lookup(SentenceKey{TurnID: t.TurnID, Text: e.OriginalText}); ok {
			ns.PredictedEmotions = cloneStrings(em)
		}
		out = append(out, ns)
	}
	return out
}

// fallbackSentence collapses a turn the KB knows nothing about, or a turn whose session has
// no KB file at all, into one sentence with no entities. Gold and predicted emotions are unioned in order.
func fallbackSentence(t Turn, sentences []Sentence) Sentence {
	fb := Sentence{Text: joinSentenceTexts(t.Sentences), PredictedEntities: []Entity{}}
	var gold, predicted []string
	for _, s := range sentences {
		if fb.Annotations.LifeStage == "" {
			fb.Annotations.LifeStage = s.Annotations.LifeStage
		}
		if fb.Annotations.EventType == "" {
			fb.Annotations.EventType = s.Annotations.EventType
		}
		gold = append(gold, s.Annotations.Emotions...)
		predicted = append(predicted, withoutSentinel(s.PredictedEmotions)...)
	}
	fb.Annotations.Emotions = dedupeStrings(gold)
	if p := dedupeStrings(predicted); len(p) > 0 {
		fb.PredictedEmotions = p
	}
	return fb
}

// PatchDirs names the directories reconciliation reads and writes.
type PatchDirs struct {
	Original string
	KB       string
	// Emotion is optional.
	Emotion string
	Out     string
}

// ReconcileDir reconciles every session under dirs.Original (a directory or one file).
// A missing KB file is logged and every Subject turn of the session takes the fallback; a
// missing emotion file leaves gold emotions untouched.
func ReconcileDir(ctx context.Context, dirs PatchDirs, opts ReconcileOptions) (BatchResult, error) {
	log := loggerOr(opts.Logger).With("stage", StageReconcile)
	if strings.TrimSpace(dirs.KB) == "" || !fileutils.DirExists(dirs.KB) {
		return BatchResult{}, fmt.Errorf("ReconcileDir: %w: kb dir not found: %q", ErrConfig, dirs.KB)
	}
	if dirs.Emotion != "" && !fileutils.DirExists(dirs.Emotion) {
		return BatchResult{}, fmt.Errorf("ReconcileDir: %w: emotion dir not found: %q", ErrConfig, dirs.Emotion)
	}
	if sameDir(dirs.KB, dirs.Out) || (dirs.Emotion != "" && sameDir(dirs.Emotion, dirs.Out)) {
		return BatchResult{}, fmt.Errorf("ReconcileDir: %w: output dir must differ from input dirs", ErrConfig)
	}
	files, err := prepareBatch(dirs.Original, dirs.Out, SessionFiles())
	if err != nil {
		return BatchResult{}, fmt.Errorf("ReconcileDir: %w", err)
	}

	res := BatchResult{Files: len(files)}
	var index []SessionIndexRecord
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		start := time.Now()
		name := filepath.Base(path)

		original, err := LoadSession(path)
		if err != nil {
			log.Warn("skipping file", "file", path, "err", err)
			res.Skipped++
			opts.Metrics.FileDone(StageReconcile, metrics.OutcomeSkipped, 0)
			continue
		}
		if original.Roles.Ambiguous {
			log.Warn("ambiguous subject speaker", "file", path, "subject", original.Roles.Subject)
		}

		kbPath := filepath.Join(dirs.KB, KBFileName(path))
		var kb *KBRecord
		rec, err := LoadKB(kbPath)
		switch {
		case err == nil:
			kb = &rec
		case errors.Is(err, fs.ErrNotExist):
			log.Warn("no kb file; entities left empty", "file", path, "kb", kbPath)
		default:
			log.Warn("skipping file", "file", path, "kb", kbPath, "err", err)
			res.Skipped++
			opts.Metrics.FileDone(StageReconcile, metrics.OutcomeSkipped, 0)
			continue
		}

		var emo *Session
		if dirs.Emotion != "" {
			emoPath := filepath.Join(dirs.Emotion, name)
			el, err := LoadSession(emoPath)
			switch {
			case err == nil:
				emo = &el.Session
			case errors.Is(err, fs.ErrNotExist):
				log.Warn("no emotion file", "file", path, "emotion", emoPath)
			default:
				log.Warn("skipping file", "file", path, "emotion", emoPath, "err", err)
				res.Skipped++
				opts.Metrics.FileDone(StageReconcile, metrics.OutcomeSkipped, 0)
				continue
			}
		}

		out, stats := Reconcile(original, kb, emo, opts)
		if stats.EntityCollisions > 0 || stats.EmotionCollisions > 0 {
			log.Warn("duplicate sentence keys; last write wins", "file", path,
				"entity_collisions", stats.EntityCollisions, "emotion_collisions", stats.EmotionCollisions)
		}

		outPath := filepath.Join(dirs.Out, name)
		if err := SaveSession(outPath, out); err != nil {
			log.Error("write failed", "file", path, "err", err)
			res.Skipped++
			opts.Metrics.FileDone(StageReconcile, metrics.OutcomeError, 0)
			continue
		}

		index = append(index, BuildSessionIndexRecord(out, original.Roles, outPath, stats))
		res.Written++
		res.Outputs = append(res.Outputs, outPath)
		opts.Metrics.FileDone(StageReconcile, metrics.OutcomeOK, time.Since(start))
		log.Info("reconciled",
			"progress", fmt.Sprintf("%d/%d", i+1, len(files)),
			"file", name,
			"turns", stats.Turns,
			"matched", stats.MatchedSentences,
			"unmatched", stats.UnmatchedSentences,
			"spliced_turns", stats.SplicedTurns,
			"fallback_turns", stats.FallbackTurns,
		)
	}

	indexPath := opts.IndexPath
	if indexPath == "" {
		indexPath = filepath.Join(dirs.Out, "index.jsonl")
	}
	if err := WriteIndexJSONL(indexPath, index); err != nil {
		return res, fmt.Errorf("ReconcileDir: %w", err)
	}
	return res, nil
}
