package dialogue

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// SessionIndexRecord is a row in index.jsonl describing one reconciled session.
type SessionIndexRecord struct {
	SessionID        string         `json:"session_id"`
	Path             string         `json:"path"`
	Subject          string         `json:"subject"`
	Turns            int            `json:"turns"`
	SubjectSentences int            `json:"subject_sentences"`
	FallbackTurns    int            `json:"fallback_turns,omitempty"`
	Emotions         map[string]int `json:"emotions,omitempty"`
	EntityTypes      map[string]int `json:"entity_types,omitempty"`
	Entities         []string       `json:"entities,omitempty"`
}

// BuildSessionIndexRecord summarizes a reconciled (folded) session.
func BuildSessionIndexRecord(s Session, roles RoleMap, path string, stats ReconcileStats) SessionIndexRecord {
	rec := SessionIndexRecord{
		SessionID:     s.SessionID,
		Path:          path,
		Subject:       roles.Subject,
		Turns:         len(s.Turns),
		FallbackTurns: stats.FallbackTurns,
		Emotions:      map[string]int{},
		EntityTypes:   map[string]int{},
	}
	var names []string
	for _, t := range s.Turns {
		if roles.IsInterviewer(t.Speaker) {
			continue
		}
		for _, sen := range t.Sentences {
			rec.SubjectSentences++
			for _, e := range sen.Annotations.Emotions {
				rec.Emotions[e]++
			}
			for _, ent := range sen.Annotations.Entities {
				if ent.Type != "" {
					rec.EntityTypes[ent.Type]++
				}
				names = append(names, ent.Text)
			}
		}
	}
	rec.Entities = dedupeStrings(names)
	sort.Strings(rec.Entities)
	return rec
}

// WriteIndexJSONL rewrites path with one JSON object per line.
func WriteIndexJSONL(path string, recs []SessionIndexRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("WriteIndexJSONL: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("WriteIndexJSONL: open: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, 1<<20)
	for _, rec := range recs {
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("WriteIndexJSONL: marshal %s: %w", rec.SessionID, err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("WriteIndexJSONL: write: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("WriteIndexJSONL: flush: %w", err)
	}
	return f.Close()
}
