package dialogue

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func turnIDs(s Session) []int {
	ids := make([]int, 0, len(s.Turns))
	for _, t := range s.Turns {
		ids = append(ids, t.TurnID)
	}
	return ids
}

func TestReconcile_RomeScenario(t *testing.T) {
	t.Parallel()

	original := Session{SessionID: "s", Turns: []Turn{
		{TurnID: 1, Speaker: "Interviewer", Text: "Hello"},
		{TurnID: 2, Speaker: "Subject", Sentences: []Sentence{{Text: "I was born in Rome.", Annotations: Annotations{}}}},
	}}
	kb := &KBRecord{Entries: []KBEntry{{
		TurnID:            2,
		OriginalText:      "I was born in Rome.",
		PredictedEntities: []Entity{{Text: "Rome", Type: "LOCATION"}},
	}}}

	out, stats := Reconcile(loadedOf(original), kb, nil, ReconcileOptions{})

	if !reflect.DeepEqual(turnIDs(out), []int{1, 2}) {
		t.Fatalf("turn ids=%v", turnIDs(out))
	}
	t1 := out.Turns[0]
	if t1.Speaker != "Interviewer" || t1.Text != "Hello" || t1.Sentences != nil || t1.Annotations != nil {
		t.Fatalf("interviewer turn=%+v", t1)
	}
	sen := out.Turns[1].Sentences
	if len(sen) != 1 {
		t.Fatalf("sentences=%+v", sen)
	}
	want := []Entity{{Text: "Rome", Type: "LOCATION"}}
	if !reflect.DeepEqual(sen[0].Annotations.Entities, want) {
		t.Fatalf("entities=%+v, want %+v", sen[0].Annotations.Entities, want)
	}
	if sen[0].PredictedEntities != nil {
		t.Fatalf("transient predicted_entities survived")
	}
	if stats.MatchedSentences != 1 || stats.FallbackTurns != 0 {
		t.Fatalf("stats=%+v", stats)
	}

	b, err := json.Marshal(out.Turns[1])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	const wantJSON = `{"turn_id":2,"speaker":"Subject","sentences":[{"text":"I was born in Rome.","annotations":{"entities":[{"text":"Rome","type":"LOCATION"}]}}]}`
	if string(b) != wantJSON {
		t.Fatalf("json=%s", b)
	}
}

func TestReconcile_PreservesOrderAndFallsBack(t *testing.T) {
	t.Parallel()

	original := Session{SessionID: "s", Turns: []Turn{
		{TurnID: 1, Speaker: "Interviewer", Text: "Q1"},
		{TurnID: 2, Speaker: "Elena", Sentences: []Sentence{
			{Text: "First.", Annotations: Annotations{LifeStage: "Youth", Emotions: []string{"joy"}}},
			{Text: "Second.", Annotations: Annotations{Emotions: []string{"loss"}}},
		}},
		{TurnID: 3, Speaker: "Interviewer", Text: "Q2"},
		{TurnID: 4, Speaker: "Elena", Sentences: []Sentence{
			{Text: "Matched.", Annotations: Annotations{}},
			{Text: "Unmatched.", Annotations: Annotations{}},
		}},
		{TurnID: 5, Speaker: "Interviewer", Text: "Q3"},
		{TurnID: 6, Speaker: "Elena", Text: "Whole turn at Fiat."},
	}}
	kb := &KBRecord{Entries: []KBEntry{
		{TurnID: 4, OriginalText: "Matched.", PredictedEntities: []Entity{{Text: "Ana", Type: EntityPerson}}},
		{TurnID: 6, OriginalText: "Whole turn", PredictedEntities: []Entity{{Text: "Fiat", Type: EntityOrganization}}},
		{TurnID: 6, OriginalText: "at Fiat.", PredictedEntities: []Entity{{Text: "Turin", Type: EntityLocation}}},
	}}

	out, stats := Reconcile(loadedOf(original), kb, nil, ReconcileOptions{})

	if !reflect.DeepEqual(turnIDs(out), turnIDs(original)) {
		t.Fatalf("turn ids=%v, want %v", turnIDs(out), turnIDs(original))
	}

	fallback := out.Turns[1].Sentences
	if len(fallback) != 1 {
		t.Fatalf("fallback sentences=%+v, want exactly one", fallback)
	}
	if fallback[0].Text != "First. Second." {
		t.Fatalf("fallback text=%q", fallback[0].Text)
	}
	if fallback[0].Annotations.Entities == nil || len(fallback[0].Annotations.Entities) != 0 {
		t.Fatalf("fallback entities=%v, want empty list", fallback[0].Annotations.Entities)
	}
	if !reflect.DeepEqual(fallback[0].Annotations.Emotions, []string{"joy", "loss"}) {
		t.Fatalf("fallback emotions=%v", fallback[0].Annotations.Emotions)
	}

	matched := out.Turns[3].Sentences
	if len(matched) != 2 || matched[0].Annotations.Entities[0].Text != "Ana" {
		t.Fatalf("matched turn=%+v", matched)
	}
	if matched[1].Annotations.Entities == nil || len(matched[1].Annotations.Entities) != 0 {
		t.Fatalf("unmatched sentence in matched turn should get [] entities, got %v", matched[1].Annotations.Entities)
	}

	whole := out.Turns[5].Sentences
	if len(whole) != 1 || whole[0].Text != "Whole turn at Fiat." || len(whole[0].Annotations.Entities) != 2 {
		t.Fatalf("whole-turn=%+v", whole)
	}

	if stats.FallbackTurns != 1 {
		t.Fatalf("stats=%+v", stats)
	}
	if original.Turns[3].Sentences[0].Annotations.Entities != nil {
		t.Fatalf("input mutated")
	}
}

func TestReconcile_SplicesKBEntriesWhenNoKeyMatches(t *testing.T) {
	t.Parallel()

	original := Session{SessionID: "s", Turns: []Turn{
		{TurnID: 1, Speaker: "Interviewer", Text: "Q"},
		{TurnID: 2, Speaker: "Subject", Sentences: []Sentence{
			{Text: "I grew up  in Lyon.", Annotations: Annotations{LifeStage: "Youth"}},
		}},
	}}
	idx := 0
	kb := &KBRecord{Entries: []KBEntry{
		{TurnID: 2, SentenceIndex: &idx, OriginalText: "I grew up in Lyon.", PredictedEntities: []Entity{{Text: "Lyon", Type: EntityLocation}}},
	}}
	out, stats := Reconcile(loadedOf(original), kb, nil, ReconcileOptions{})
	if stats.SplicedTurns != 1 {
		t.Fatalf("stats=%+v", stats)
	}
	sen := out.Turns[1].Sentences
	if len(sen) != 1 || sen[0].Text != "I grew up in Lyon." || sen[0].Annotations.LifeStage != "Youth" {
		t.Fatalf("spliced=%+v", sen)
	}
	if sen[0].Annotations.Entities[0].Text != "Lyon" {
		t.Fatalf("entities=%+v", sen[0].Annotations.Entities)
	}
}

func TestReconcile_FoldsEmotionsWithoutDuplicates(t *testing.T) {
	t.Parallel()

	original := Session{SessionID: "s", Turns: []Turn{
		{TurnID: 1, Speaker: "Interviewer", Text: "Q"},
		{TurnID: 2, Speaker: "Subject", Sentences: []Sentence{
			{Text: "A.", Annotations: Annotations{Emotions: []string{"joy"}}},
			{Text: "B.", Annotations: Annotations{Emotions: []string{"fear"}}},
		}},
	}}
	emo := original.Clone()
	emo.Turns[1].Sentences[0].PredictedEmotions = []string{EmotionHappiness}
	emo.Turns[1].Sentences[1].PredictedEmotions = []string{EmotionErrorSentinel}
	kb := &KBRecord{Entries: []KBEntry{{TurnID: 2, OriginalText: "A.", PredictedEntities: []Entity{}}}}

	out, _ := Reconcile(loadedOf(original), kb, &emo, ReconcileOptions{})
	for _, turn := range out.Turns {
		if turn.PredictedEmotions != nil || turn.PredictedEntities != nil {
			t.Fatalf("turn %d kept transient fields", turn.TurnID)
		}
		for _, s := range turn.Sentences {
			if s.PredictedEmotions != nil || s.PredictedEntities != nil {
				t.Fatalf("sentence %q kept transient fields", s.Text)
			}
		}
	}
	sen := out.Turns[1].Sentences
	if !reflect.DeepEqual(sen[0].Annotations.Emotions, []string{EmotionHappiness}) {
		t.Fatalf("folded emotions=%v", sen[0].Annotations.Emotions)
	}
	if !reflect.DeepEqual(sen[1].Annotations.Emotions, []string{"fear"}) {
		t.Fatalf("error sentinel should leave gold in place, got %v", sen[1].Annotations.Emotions)
	}
}

func TestReconcile_AnnotateInterviewer(t *testing.T) {
	t.Parallel()

	original := Session{SessionID: "s", Turns: []Turn{
		{TurnID: 1, Speaker: "Interviewer", Text: "Tell me about Paris."},
		{TurnID: 2, Speaker: "Subject", Text: "Sure."},
	}}
	kb := &KBRecord{Entries: []KBEntry{{TurnID: 1, Speaker: "Interviewer", OriginalText: "Tell me about Paris.", PredictedEntities: []Entity{{Text: "Paris", Type: EntityLocation}}}}}

	plain, _ := Reconcile(loadedOf(original), kb, nil, ReconcileOptions{})
	if plain.Turns[0].Annotations != nil {
		t.Fatalf("interviewer annotated by default")
	}
	annotated, _ := Reconcile(loadedOf(original), kb, nil, ReconcileOptions{AnnotateInterviewer: true})
	if a := annotated.Turns[0].Annotations; a == nil || len(a.Entities) != 1 {
		t.Fatalf("interviewer annotations=%+v", a)
	}
}

func TestReconcileDir_WritesSessionsAndIndex(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	orig := filepath.Join(root, "data_json")
	kbDir := filepath.Join(root, "knowledge_base")
	out := filepath.Join(root, "final")

	s := sampleSession()
	if err := SaveSession(filepath.Join(orig, "01_Elena_Warm.json"), s); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := SaveSession(filepath.Join(orig, "02_Robert_Frank.json"), Session{SessionID: "02", Turns: []Turn{{TurnID: 1, Speaker: "Interviewer", Text: "Hi"}, {TurnID: 2, Speaker: "Subject", Text: "Hello."}}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	kb := KBRecord{SessionID: s.SessionID, Entries: []KBEntry{{TurnID: 2, OriginalText: "I was born in Rome.", PredictedEntities: []Entity{{Text: "Rome", Type: EntityLocation}}}}}
	if err := SaveKB(filepath.Join(kbDir, "KB_01_Elena_Warm.json"), kb); err != nil {
		t.Fatalf("save kb: %v", err)
	}
	// A catalog carried into the session dir is not a session.
	if err := SaveEntityCatalog(filepath.Join(orig, CatalogFileName), EntityCatalog{Version: 1}); err != nil {
		t.Fatalf("save catalog: %v", err)
	}

	res, err := ReconcileDir(context.Background(), PatchDirs{Original: orig, KB: kbDir, Out: out}, ReconcileOptions{})
	if err != nil {
		t.Fatalf("ReconcileDir: %v", err)
	}
	if res.Files != 2 || res.Written != 2 || res.Skipped != 0 {
		t.Fatalf("res=%+v", res)
	}

	got, err := LoadSession(filepath.Join(out, "01_Elena_Warm.json"))
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if !reflect.DeepEqual(turnIDs(got.Session), turnIDs(s)) {
		t.Fatalf("turn ids=%v", turnIDs(got.Session))
	}
	if string(got.Session.Profile) == "" {
		t.Fatalf("profile dropped")
	}

	f, err := os.Open(filepath.Join(out, "index.jsonl"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer f.Close()
	var recs []SessionIndexRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r SessionIndexRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("index line: %v", err)
		}
		recs = append(recs, r)
	}
	if len(recs) != 2 {
		t.Fatalf("index rows=%d, want 2", len(recs))
	}
	if recs[0].SessionID != "01_Elena" || recs[0].Turns != 5 || recs[0].EntityTypes[EntityLocation] != 1 {
		t.Fatalf("index row=%+v", recs[0])
	}
}

func TestFoldTransient_TurnLevel(t *testing.T) {
	t.Parallel()

	s := Session{Turns: []Turn{{TurnID: 2, Speaker: "Subject", Text: "x", PredictedEmotions: []string{"sadness"}, PredictedEntities: []Entity{}}}}
	if n := FoldTransient(&s); n != 1 {
		t.Fatalf("folded=%d", n)
	}
	a := s.Turns[0].Annotations
	if a == nil || !reflect.DeepEqual(a.Emotions, []string{"sadness"}) || a.Entities == nil {
		t.Fatalf("annotations=%+v", a)
	}
	if s.Turns[0].PredictedEmotions != nil || s.Turns[0].PredictedEntities != nil {
		t.Fatalf("transient fields survived")
	}
}

func TestReconcile_NoKBFallsBackPerTurn(t *testing.T) {
	t.Parallel()

	original := Session{SessionID: "s", Turns: []Turn{
		{TurnID: 1, Speaker: "Interviewer", Text: "Where did you grow up?"},
		{TurnID: 2, Speaker: "Subject", Sentences: []Sentence{
			{Text: "In Rome.", Annotations: Annotations{LifeStage: "Childhood", Emotions: []string{"nostalgia"}}},
			{Text: "Then Turin.", Annotations: Annotations{Emotions: []string{"joy"}}},
		}},
	}}
	out, stats := Reconcile(loadedOf(original), nil, nil, ReconcileOptions{})

	if !reflect.DeepEqual(turnIDs(out), []int{1, 2}) {
		t.Fatalf("turn ids=%v", turnIDs(out))
	}
	sens := out.Turns[1].Sentences
	if len(sens) != 1 || stats.FallbackTurns != 1 {
		t.Fatalf("sentences=%+v stats=%+v", sens, stats)
	}
	if sens[0].Text != "In Rome. Then Turin." || len(sens[0].Annotations.Entities) != 0 {
		t.Fatalf("fallback=%+v", sens[0])
	}
	if !reflect.DeepEqual(sens[0].Annotations.Emotions, []string{"nostalgia", "joy"}) || sens[0].Annotations.LifeStage != "Childhood" {
		t.Fatalf("fallback annotations=%+v", sens[0].Annotations)
	}
}
