package dialogue

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
)

func TestParseKB_Variants(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		doc  string
	}{
		{"extracted_knowledge", `{"session_id":"s1","profile":{"name":"E"},"extracted_knowledge":[{"turn_id":2,"original_text":"I was born in Rome.","predicted_entities":[{"text":"Rome","type":"LOCATION","confidence":"0.9900"}]}]}`},
		{"dialogue_analysis", `{"session_id":"s1","dialogue_analysis":[{"turn_id":2,"text_content":"I was born in Rome.","extracted_entities":[{"text":"Rome","type":"LOCATION"}]}]}`},
		{"dialogue_content", `{"session_id":"s1","dialogue_content":[{"turn_id":1,"speaker":"Interviewer","text":"Hello"},{"turn_id":2,"speaker":"Subject","original_text":"I was born in Rome.","predicted_entities":[{"text":"Rome","type":"LOCATION"}]}]}`},
	}
	for _, tc := range cases {
		rec, err := ParseKB([]byte(tc.doc))
		if err != nil {
			t.Fatalf("%s: ParseKB: %v", tc.name, err)
		}
		if rec.SessionID != "s1" {
			t.Fatalf("%s: SessionID=%q", tc.name, rec.SessionID)
		}
		var found bool
		for _, e := range rec.Entries {
			if e.TurnID == 2 {
				found = true
				if e.OriginalText != "I was born in Rome." {
					t.Fatalf("%s: OriginalText=%q", tc.name, e.OriginalText)
				}
				if len(e.PredictedEntities) != 1 || e.PredictedEntities[0].Text != "Rome" {
					t.Fatalf("%s: entities=%+v", tc.name, e.PredictedEntities)
				}
			}
			if e.PredictedEntities == nil {
				t.Fatalf("%s: nil entity list for turn %d", tc.name, e.TurnID)
			}
		}
		if !found {
			t.Fatalf("%s: turn 2 entry missing", tc.name)
		}
	}
}

func TestParseKB_Rejects(t *testing.T) {
	t.Parallel()

	for _, doc := range []string{`{`, `[]`, `{"session_id":"x"}`, `{"extracted_knowledge":{}}`} {
		if _, err := ParseKB([]byte(doc)); err == nil {
			t.Fatalf("ParseKB(%s): expected error", doc)
		}
	}
}

func TestSaveLoadKB_RoundTrip(t *testing.T) {
	t.Parallel()

	idx := 0
	p := filepath.Join(t.TempDir(), "KB_s.json")
	in := KBRecord{SessionID: "s", Entries: []KBEntry{{TurnID: 2, SentenceIndex: &idx, OriginalText: "a", PredictedEntities: []Entity{}}}}
	if err := SaveKB(p, in); err != nil {
		t.Fatalf("SaveKB: %v", err)
	}
	out, err := LoadKB(p)
	if err != nil {
		t.Fatalf("LoadKB: %v", err)
	}
	if len(out.Entries) != 1 || out.Entries[0].SentenceIndex == nil || *out.Entries[0].SentenceIndex != 0 {
		t.Fatalf("entries=%+v", out.Entries)
	}

	_, err = LoadKB(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("missing file err=%v, want ErrNotExist", err)
	}
}

func TestEntityIndex_LastWriteWinsOnDuplicateKey(t *testing.T) {
	t.Parallel()

	rec := &KBRecord{Entries: []KBEntry{
		{TurnID: 2, OriginalText: "Yes.", PredictedEntities: []Entity{{Text: "A", Type: EntityPerson}}},
		{TurnID: 2, OriginalText: "Yes.", PredictedEntities: []Entity{{Text: "B", Type: EntityPerson}}},
	}}
	idx := NewEntityIndex(rec)
	if idx.Collisions != 1 {
		t.Fatalf("Collisions=%d, want 1", idx.Collisions)
	}
	got, ok := idx.Lookup(SentenceKey{TurnID: 2, Text: "Yes."})
	if !ok || len(got) != 1 || got[0].Text != "B" {
		t.Fatalf("lookup=%+v ok=%v", got, ok)
	}
	if len(idx.TurnEntries(2)) != 2 {
		t.Fatalf("TurnEntries should keep both entries in order")
	}
	if _, ok := idx.Lookup(SentenceKey{TurnID: 2, Text: "Yes"}); ok {
		t.Fatalf("match must be byte-identical")
	}
}
