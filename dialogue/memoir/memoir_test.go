package memoir

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/theimaginaryfoundation/memoir-bot/dialogue"
)

type recordingCompleter struct {
	prompts []string
	fail    bool
}

func (c *recordingCompleter) Complete(_ context.Context, instructions, prompt string) (string, error) {
	c.prompts = append(c.prompts, prompt)
	if c.fail {
		return "", errors.New("upstream down")
	}
	if strings.Contains(instructions, "privacy") {
		return "I grew up in a city where I once lived.", nil
	}
	return "I grew up in Rome.\nLater I taught.", nil
}

// keywordEmbedder scores texts on two axes so retrieval order is predictable.
type keywordEmbedder struct{ calls int }

func (e *keywordEmbedder) ModelName() string { return "keyword" }

func (e *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	e.calls++
	out := make([][]float64, len(texts))
	for i, t := range texts {
		switch {
		case strings.Contains(t, "life story"), strings.Contains(t, "memoir"):
			out[i] = []float64{1, 0}
		case strings.Contains(t, "Rome"):
			out[i] = []float64{0.9, 0.1}
		default:
			out[i] = []float64{0, 1}
		}
	}
	return out, nil
}

func sample() dialogue.Loaded {
	s := dialogue.Session{SessionID: "01_Elena", Turns: []dialogue.Turn{
		{TurnID: 1, Speaker: "Interviewer", Text: "Where did you grow up?"},
		{TurnID: 2, Speaker: "Subject", Sentences: []dialogue.Sentence{
			{Text: "I grew up in Rome.", Annotations: dialogue.Annotations{Entities: []dialogue.Entity{{Text: "Rome", Type: dialogue.EntityLocation}}}},
			{Text: "  "},
			{Text: "It was loud.", Annotations: dialogue.Annotations{Entities: []dialogue.Entity{{Text: "Rome", Type: dialogue.EntityLocation}}}},
		}},
		{TurnID: 3, Speaker: "Interviewer", Text: "And later?"},
		{TurnID: 4, Speaker: "Subject", Text: "I taught at Liceo Tasso.", Annotations: &dialogue.Annotations{Entities: []dialogue.Entity{{Text: "Liceo Tasso", Type: dialogue.EntityOrganization}}}},
	}}
	return dialogue.Loaded{Path: "/in/01_Elena_Warm.json", Session: s, Roles: dialogue.ResolveRoles(s.Turns)}
}

func TestSubjectChunksAndTranscript(t *testing.T) {
	t.Parallel()

	l := sample()
	got := SubjectChunks(l)
	want := []Chunk{{ID: "2_0", Text: "I grew up in Rome."}, {ID: "2_2", Text: "It was loud."}, {ID: "4_0", Text: "I taught at Liceo Tasso."}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("chunks=%+v", got)
	}
	if tr := Transcript(l); tr != "I grew up in Rome.    It was loud.\nI taught at Liceo Tasso." {
		t.Fatalf("transcript=%q", tr)
	}
	if ents := SensitiveEntities(l.Session); !reflect.DeepEqual(ents, []string{"Rome", "Liceo Tasso"}) {
		t.Fatalf("entities=%v", ents)
	}
}

func TestTopK(t *testing.T) {
	t.Parallel()

	chunks := SubjectChunks(sample())
	top, err := TopK(context.Background(), &keywordEmbedder{}, ragQuery, chunks, 2)
	if err != nil {
		t.Fatalf("TopK: %v", err)
	}
	if len(top) != 2 || top[0].ID != "2_0" || top[1].ID != "2_2" {
		t.Fatalf("top=%+v", top)
	}
	if Cosine([]float64{0, 0}, []float64{1, 1}) != 0 {
		t.Fatalf("zero vector cosine must be 0")
	}
}

func TestGenerate_AllStrategies(t *testing.T) {
	t.Parallel()

	out := t.TempDir()
	comp := &recordingCompleter{}
	g := Generator{Completer: comp, Embedder: &keywordEmbedder{}}
	results := g.Generate(context.Background(), sample(), AllStrategies, out)
	if len(results) != 4 {
		t.Fatalf("results=%+v", results)
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("%s: %v", r.Strategy, r.Err)
		}
	}

	b, err := os.ReadFile(filepath.Join(out, "01_Elena_Warm", "01_Elena_Warm_rag.txt"))
	if err != nil {
		t.Fatalf("read rag: %v", err)
	}
	if !strings.HasPrefix(string(b), "=== RAG VERSION ===\n\nI grew up in Rome.") {
		t.Fatalf("rag output=%q", b)
	}
	if !strings.Contains(comp.prompts[1], "[Chunk 2_0]\nI grew up in Rome.") {
		t.Fatalf("rag prompt=%q", comp.prompts[1])
	}
	pii := comp.prompts[3]
	if !strings.Contains(pii, "Rome\nLiceo Tasso") || !strings.Contains(pii, "Later I taught.") {
		t.Fatalf("pii prompt=%q", pii)
	}
	got, err := LoadOutput(out, "01_Elena_Warm", StrategyPII)
	if err != nil || got != "I grew up in a city where I once lived." {
		t.Fatalf("pii output=%q err=%v", got, err)
	}
}

func TestGenerate_PIIReadsSavedFewShot(t *testing.T) {
	t.Parallel()

	out := t.TempDir()
	if _, err := SaveOutput(out, "01_Elena_Warm", StrategyFewShot, "Saved memoir\nsecond line"); err != nil {
		t.Fatalf("SaveOutput: %v", err)
	}
	comp := &recordingCompleter{}
	results := Generator{Completer: comp}.Generate(context.Background(), sample(), []Strategy{StrategyPII}, out)
	if results[0].Err != nil {
		t.Fatalf("pii: %v", results[0].Err)
	}
	if !strings.HasSuffix(comp.prompts[0], "=== Text to Rewrite ===\nSaved memoir\nsecond line") {
		t.Fatalf("prompt=%q", comp.prompts[0])
	}
}

func TestGenerate_FailuresDoNotStopOtherStrategies(t *testing.T) {
	t.Parallel()

	out := t.TempDir()
	g := Generator{Completer: &recordingCompleter{}}
	results := g.Generate(context.Background(), sample(), []Strategy{StrategyRAG, StrategyPII, StrategyBaseline}, out)
	if results[0].Err == nil || results[1].Err == nil {
		t.Fatalf("rag without embedder and pii without fewshot should fail: %+v", results)
	}
	if results[2].Err != nil || results[2].Path == "" {
		t.Fatalf("baseline=%+v", results[2])
	}
}

func TestGenerateDir(t *testing.T) {
	t.Parallel()

	in := t.TempDir()
	out := t.TempDir()
	l := sample()
	if err := dialogue.SaveSession(filepath.Join(in, "01_Elena_Warm.json"), l.Session); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := os.WriteFile(filepath.Join(in, "bad.json"), []byte("{"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	g := Generator{Completer: &recordingCompleter{fail: true}}
	stats, err := g.GenerateDir(context.Background(), in, out, []Strategy{StrategyBaseline})
	if err != nil {
		t.Fatalf("GenerateDir: %v", err)
	}
	if stats.Files != 2 || stats.Skipped != 1 || stats.Failed != 1 || stats.Written != 0 {
		t.Fatalf("stats=%+v", stats)
	}
	if _, err := (Generator{}).GenerateDir(context.Background(), in, out, nil); !errors.Is(err, dialogue.ErrConfig) {
		t.Fatalf("nil completer err=%v", err)
	}
}

func TestParseStrategies(t *testing.T) {
	t.Parallel()

	got, err := ParseStrategies("RAG, pii")
	if err != nil || !reflect.DeepEqual(got, []Strategy{StrategyRAG, StrategyPII}) {
		t.Fatalf("got %v err=%v", got, err)
	}
	if all, _ := ParseStrategies(""); len(all) != 4 {
		t.Fatalf("default=%v", all)
	}
	if _, err := ParseStrategies("bogus"); err == nil {
		t.Fatalf("expected error")
	}
}
