package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/theimaginaryfoundation/memoir-bot/dialogue/metrics"
)

// EntityTagger is the NER collaborator: one call per text unit, spans already aggregated.
type EntityTagger interface {
	Tag(ctx context.Context, text string) ([]Entity, error)
}

// Layout selects which units a KB record keeps.
type Layout int

const (
	// LayoutFull keeps every tagged unit, with a possibly empty entity list.
	LayoutFull Layout = iota
	// LayoutSparse keeps only units that yielded an entity (or failed, so the marker survives).
	LayoutSparse
)

func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "full":
		return LayoutFull, nil
	case "sparse":
		return LayoutSparse, nil
	default:
		return LayoutFull, fmt.Errorf("unknown layout %q (want full or sparse)", s)
	}
}

type ExtractOptions struct {
	Layout Layout
	// AnnotateInterviewer also tags Interviewer turns.
	AnnotateInterviewer bool
	// CatalogPath defaults to <outDir>/entity_catalog.json. Set SkipCatalog to disable.
	CatalogPath string
	SkipCatalog bool

	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

type ExtractStats struct {
	Units    int
	Failures int
	Entities int
	Dropped  int
}

// ExtractSession tags every non-empty Subject sentence (or whole BodyText turn) once, in order.
// A tagger failure is kept inline as the entry's error marker. Only a cancelled ctx aborts.
func ExtractSession(ctx context.Context, loaded Loaded, tagger EntityTagger, opts ExtractOptions) (KBRecord, ExtractStats, error) {
	var stats ExtractStats
	if tagger == nil {
		return KBRecord{}, stats, fmt.Errorf("ExtractSession: tagger is nil")
	}
	src := loaded.Session.Clone()
	rec := KBRecord{
		SessionID: src.SessionID,
		Profile:   src.Profile,
		Entries:   []KBEntry{},
	}

	tag := func(turn Turn, idx *int, text string) error {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		stats.Units++
		entry := KBEntry{
			TurnID:        turn.TurnID,
			SentenceIndex: idx,
			Speaker:       turn.Speaker,
			OriginalText:  text,
		}
		raw, err := tagger.Tag(ctx, text)
		opts.Metrics.Call(StageExtract, err)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			stats.Failures++
			entry.Error = err.Error()
			entry.PredictedEntities = []Entity{}
		} else {
			ents, dropped := NormalizeEntities(raw)
			stats.Dropped += dropped
			stats.Entities += len(ents)
			for _, e := range ents {
				opts.Metrics.Entity(e.Type)
			}
			entry.PredictedEntities = ents
		}
		if opts.Layout == LayoutSparse && len(entry.PredictedEntities) == 0 && entry.Error == "" {
			return nil
		}
		rec.Entries = append(rec.Entries, entry)
		return nil
	}

	for _, turn := range src.Turns {
		switch {
		case loaded.Roles.IsSubject(turn.Speaker):
		case opts.AnnotateInterviewer && loaded.Roles.IsInterviewer(turn.Speaker):
		default:
			continue
		}

		if turn.Body() == BodyText {
			if err := tag(turn, nil, turn.Text); err != nil {
				return KBRecord{}, stats, err
			}
			continue
		}
		for i, sen := range turn.Sentences {
			if err := tag(turn, &i, sen.Text); err != nil {
				return KBRecord{}, stats, err
			}
		}
	}
	return rec, stats, nil
}

// KBFileName is the KB output name for a session file.
func KBFileName(sessionPath string) string {
	return KBFilePrefix + filepath.Base(sessionPath)
}

// ExtractDir runs extraction over inPath (a directory or a single session file) and writes
// KB_<name>.json files into outDir. Malformed files are logged and skipped.
func ExtractDir(ctx context.Context, inPath, outDir string, tagger EntityTagger, opts ExtractOptions) (BatchResult, error) {
	log := loggerOr(opts.Logger).With("stage", StageExtract)
	files, err := prepareBatch(inPath, outDir, SessionFiles())
	if err != nil {
		return BatchResult{}, fmt.Errorf("ExtractDir: %w", err)
	}

	catalogPath := opts.CatalogPath
	if catalogPath == "" {
		catalogPath = filepath.Join(outDir, CatalogFileName)
	}
	var catalog EntityCatalog
	if !opts.SkipCatalog {
		catalog, err = LoadEntityCatalog(catalogPath)
		if err != nil {
			return BatchResult{}, fmt.Errorf("ExtractDir: %w", err)
		}
	}

	res := BatchResult{Files: len(files)}
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		start := time.Now()

		loaded, err := LoadSession(path)
		if err != nil {
			log.Warn("skipping file", "file", path, "err", err)
			res.Skipped++
			opts.Metrics.FileDone(StageExtract, metrics.OutcomeSkipped, 0)
			continue
		}
		if loaded.Roles.Ambiguous {
			log.Warn("ambiguous subject speaker", "file", path, "subject", loaded.Roles.Subject)
		}

		rec, stats, err := ExtractSession(ctx, loaded, tagger, opts)
		if err != nil {
			return res, fmt.Errorf("ExtractDir: %s: %w", path, err)
		}

		outPath := filepath.Join(outDir, KBFileName(path))
		if err := SaveKB(outPath, rec); err != nil {
			log.Error("write failed", "file", path, "err", err)
			res.Skipped++
			opts.Metrics.FileDone(StageExtract, metrics.OutcomeError, 0)
			continue
		}
		if !opts.SkipCatalog {
			var all []Entity
			for _, e := range rec.Entries {
				all = append(all, e.PredictedEntities...)
			}
			MergeEntities(&catalog, rec.SessionID, all)
		}

		res.Written++
		res.Outputs = append(res.Outputs, outPath)
		opts.Metrics.FileDone(StageExtract, metrics.OutcomeOK, time.Since(start))
		log.Info("extracted",
			"progress", fmt.Sprintf("%d/%d", i+1, len(files)),
			"file", filepath.Base(path),
			"units", stats.Units,
			"entities", stats.Entities,
			"failures", stats.Failures,
			"dropped_types", stats.Dropped,
		)
	}

	if !opts.SkipCatalog && res.Written > 0 {
		if err := SaveEntityCatalog(catalogPath, catalog); err != nil {
			return res, fmt.Errorf("ExtractDir: %w", err)
		}
	}
	return res, nil
}
