package dialogue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeClassifier struct {
	byText map[string]string
	fail   map[string]bool
}

func (f fakeClassifier) Predict(text string) (string, error) {
	if f.fail[text] {
		return "", errors.New("classifier failed")
	}
	if l, ok := f.byText[text]; ok {
		return l, nil
	}
	return EmotionNeutral, nil
}

func TestCollapsers_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{"Nostalgia", "gratitude", "JOY", "pride", "happiness", "sad", "loss", "anger", "frustration",
		"fear", "anxiety", "neutral", "surprise", "ang", "hap", "exc", "fru", "neu", "oth", "sadness"}
	for _, c := range []LabelCollapser{MemoirRemap{}, IEMOCAPMap{}} {
		for _, in := range inputs {
			once, ok := c.Collapse(in)
			if !ok {
				continue
			}
			twice, ok2 := c.Collapse(once)
			if !ok2 || twice != once {
				t.Fatalf("%s: Collapse(%q)=%q but Collapse(%q)=%q,%v", c.Name(), in, once, once, twice, ok2)
			}
		}
	}
}

func TestMemoirRemap(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Nostalgia":       EmotionHappiness,
		"quiet pride":     EmotionHappiness,
		"Loss":            EmotionSadness,
		"frustrated":      EmotionAnger,
		"Anxiety":         EmotionSadness,
		"surprise":        EmotionNeutral,
		"Bittersweet joy": EmotionHappiness,
	}
	for in, want := range cases {
		if got, ok := (MemoirRemap{}).Collapse(in); !ok || got != want {
			t.Fatalf("Collapse(%q)=%q,%v want %q", in, got, ok, want)
		}
	}
	for _, bad := range []string{"xxx", "", "  "} {
		if _, ok := (MemoirRemap{}).Collapse(bad); ok {
			t.Fatalf("Collapse(%q) should be unresolvable", bad)
		}
	}
}

func TestIEMOCAPMap_UnknownIsUnresolvable(t *testing.T) {
	t.Parallel()

	if got, ok := (IEMOCAPMap{}).Collapse("exc"); !ok || got != EmotionHappiness {
		t.Fatalf("exc=%q,%v", got, ok)
	}
	for _, bad := range []string{"xxx", "nostalgia", ""} {
		if _, ok := (IEMOCAPMap{}).Collapse(bad); ok {
			t.Fatalf("Collapse(%q) should be unresolvable", bad)
		}
	}
}

func TestPredictSession_ExcludesUnresolvableGold(t *testing.T) {
	t.Parallel()

	s := Session{SessionID: "s", Turns: []Turn{
		{TurnID: 1, Speaker: "Interviewer", Text: "Tell me."},
		{TurnID: 2, Speaker: "Subject", Sentences: []Sentence{
			{Text: "We lost the farm.", Annotations: Annotations{Emotions: []string{"loss"}}},
			{Text: "Something odd.", Annotations: Annotations{Emotions: []string{"xxx"}}},
			{Text: "I was proud.", Annotations: Annotations{Emotions: []string{"pride"}}},
		}},
	}}
	clf := fakeClassifier{byText: map[string]string{
		"We lost the farm.": EmotionSadness,
		"Something odd.":    EmotionAnger,
		"I was proud.":      EmotionNeutral,
	}}

	out, acc := PredictSession(loadedOf(s), clf, MemoirRemap{}, EmotionOptions{})
	if acc.Total != 2 || acc.Correct != 1 {
		t.Fatalf("acc=%+v, want 1/2 with xxx excluded", acc)
	}
	if acc.Value == nil || *acc.Value != 0.5 {
		t.Fatalf("Value=%v", acc.Value)
	}
	if got := out.Turns[1].Sentences[1].PredictedEmotions; len(got) != 1 || got[0] != EmotionAnger {
		t.Fatalf("xxx sentence still gets a prediction, got %v", got)
	}
	if out.Turns[0].PredictedEmotions != nil {
		t.Fatalf("interviewer should not be predicted by default")
	}
	if s.Turns[1].Sentences[0].PredictedEmotions != nil {
		t.Fatalf("input mutated")
	}
}

func TestPredictSession_NullAccuracyAndErrorSentinel(t *testing.T) {
	t.Parallel()

	s := Session{SessionID: "s", Turns: []Turn{
		{TurnID: 1, Speaker: "Interviewer", Text: "Tell me."},
		{TurnID: 2, Speaker: "Subject", Text: "No labels here."},
		{TurnID: 4, Speaker: "Subject", Text: "This one breaks.", Annotations: &Annotations{Emotions: []string{"joy"}}},
	}}
	clf := fakeClassifier{fail: map[string]bool{"This one breaks.": true}}

	out, acc := PredictSession(loadedOf(s), clf, MemoirRemap{}, EmotionOptions{})
	if acc.Total != 0 || acc.Value != nil {
		t.Fatalf("acc=%+v, want null accuracy", acc)
	}
	if got := out.Turns[2].PredictedEmotions; len(got) != 1 || got[0] != EmotionErrorSentinel {
		t.Fatalf("failed prediction=%v, want error sentinel", got)
	}
	if got := out.Turns[1].PredictedEmotions; len(got) != 1 || got[0] != EmotionNeutral {
		t.Fatalf("whole-turn prediction=%v", got)
	}
}

func TestEmotionDir_WritesOutputsAndCSV(t *testing.T) {
	t.Parallel()

	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "emotion")
	labelled := Session{SessionID: "a", Turns: []Turn{
		{TurnID: 1, Speaker: "Interviewer", Text: "Q"},
		{TurnID: 2, Speaker: "Subject", Sentences: []Sentence{{Text: "Happy days.", Annotations: Annotations{Emotions: []string{"joy"}}}}},
	}}
	unlabelled := Session{SessionID: "b", Turns: []Turn{
		{TurnID: 1, Speaker: "Interviewer", Text: "Q"},
		{TurnID: 2, Speaker: "Subject", Sentences: []Sentence{{Text: "Hm.", Annotations: Annotations{Emotions: []string{"xxx"}}}}},
	}}
	if err := SaveSession(filepath.Join(in, "a.json"), labelled); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := SaveSession(filepath.Join(in, "b.json"), unlabelled); err != nil {
		t.Fatalf("save: %v", err)
	}

	clf := fakeClassifier{byText: map[string]string{"Happy days.": EmotionHappiness}}
	res, rows, err := EmotionDir(context.Background(), in, out, clf, MemoirRemap{}, EmotionOptions{})
	if err != nil {
		t.Fatalf("EmotionDir: %v", err)
	}
	if res.Written != 2 || len(rows) != 2 {
		t.Fatalf("res=%+v rows=%d", res, len(rows))
	}

	b, err := os.ReadFile(filepath.Join(out, "summary_accuracy.csv"))
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	want := []string{
		"file,total_sentences,correct_predictions,accuracy",
		"a.json,1,1,1",
		"b.json,0,0,",
	}
	if len(lines) != len(want) {
		t.Fatalf("csv lines=%q", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d=%q, want %q", i, lines[i], want[i])
		}
	}

	got, err := LoadSession(filepath.Join(out, "a.json"))
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if p := got.Session.Turns[1].Sentences[0].PredictedEmotions; len(p) != 1 || p[0] != EmotionHappiness {
		t.Fatalf("persisted prediction=%v", p)
	}

	overall := OverallAccuracy(rows)
	if overall.Total != 1 || overall.Value == nil || *overall.Value != 1 {
		t.Fatalf("overall=%+v", overall)
	}
}
