package ablation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/theimaginaryfoundation/memoir-bot/dialogue"
	"github.com/theimaginaryfoundation/memoir-bot/dialogue/fileutils"
)

func interview(name string, pairs int) dialogue.Loaded {
	s := dialogue.Session{
		SessionID: name,
		Profile:   []byte(`{"id":"` + name + `","name":"Elena","age":82,"role":"Teacher"}`),
	}
	for i := 0; i < pairs; i++ {
		s.Turns = append(s.Turns,
			dialogue.Turn{TurnID: 2*i + 1, Speaker: "Interviewer", Text: fmt.Sprintf("Question %d?", i)},
			dialogue.Turn{TurnID: 2*i + 2, Speaker: "Subject", Sentences: []dialogue.Sentence{{
				Text: fmt.Sprintf("Answer %d.", i),
				Annotations: dialogue.Annotations{
					LifeStage: "Youth",
					EventType: "memory",
					Emotions:  []string{"joy"},
					Entities:  []dialogue.Entity{{Text: "Rome", Type: dialogue.EntityLocation}},
				},
			}}},
		)
	}
	return dialogue.Loaded{Path: "/data/" + name + ".json", Session: s, Roles: dialogue.ResolveRoles(s.Turns)}
}

func TestPlanTestSet(t *testing.T) {
	t.Parallel()

	var sessions []dialogue.Loaded
	for i := 0; i < 10; i++ {
		sessions = append(sessions, interview(fmt.Sprintf("s%02d", i), 8))
	}
	a := PlanTestSet(sessions, SampleOptions{Seed: 42})
	b := PlanTestSet(sessions, SampleOptions{Seed: 42})
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same seed produced different plans")
	}
	if len(a.Files) != 2 {
		t.Fatalf("files=%d, want 20%% of 10", len(a.Files))
	}
	for _, f := range a.Files {
		if len(f.Points) != 4 || f.TotalTurns != 16 {
			t.Fatalf("plan=%+v", f)
		}
		prev := 0
		for _, p := range f.Points {
			if p.SubjectTurn < 4 || p.SubjectTurn%2 != 0 || p.TargetTurn != p.SubjectTurn+1 || p.SubjectTurn <= prev {
				t.Fatalf("point=%+v", p)
			}
			prev = p.SubjectTurn
		}
	}
}

func TestPredictionCandidates_NeedsFollowingInterviewer(t *testing.T) {
	t.Parallel()

	l := interview("x", 3)
	got := predictionCandidates(l, 4)
	want := []PredictionPoint{{SubjectTurn: 4, TargetTurn: 5}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("candidates=%+v, want %+v (turn 6 has no following question)", got, want)
	}
}

func TestFormatHistory_FiltersByGroup(t *testing.T) {
	t.Parallel()

	l := interview("x", 3)
	a, err := FormatHistory(l, 4, GroupA)
	if err != nil {
		t.Fatalf("FormatHistory: %v", err)
	}
	if !strings.HasPrefix(a, `Turn 1 (Interviewer): "Question 0?"`) || strings.Contains(a, "Question 2?") {
		t.Fatalf("history window wrong:\n%s", a)
	}
	if strings.Contains(a, "Rome") || strings.Contains(a, "joy") || !strings.Contains(a, `"life_stage": "Youth"`) {
		t.Fatalf("group A leaked annotations:\n%s", a)
	}

	checks := map[Group][2]bool{GroupB: {true, false}, GroupC: {false, true}, GroupD: {true, true}}
	for g, want := range checks {
		h, err := FormatHistory(l, 4, g)
		if err != nil {
			t.Fatalf("FormatHistory(%s): %v", g, err)
		}
		if strings.Contains(h, "Rome") != want[0] || strings.Contains(h, "joy") != want[1] {
			t.Fatalf("group %s history:\n%s", g, h)
		}
	}
}

func TestBuildSamples(t *testing.T) {
	t.Parallel()

	l := interview("x", 4)
	set := TestSet{Files: []FilePlan{
		{File: "x.json", Points: []PredictionPoint{{SubjectTurn: 4, TargetTurn: 5}}},
		{File: "gone.json", Points: []PredictionPoint{{SubjectTurn: 4, TargetTurn: 5}}},
	}}
	samples, skipped, err := BuildSamples(set, map[string]dialogue.Loaded{"x.json": l})
	if err != nil {
		t.Fatalf("BuildSamples: %v", err)
	}
	if len(samples) != 1 || !reflect.DeepEqual(skipped, []string{"gone.json"}) {
		t.Fatalf("samples=%d skipped=%v", len(samples), skipped)
	}
	s := samples[0]
	if s.TargetQuestionGT != "Question 2?" || len(s.Prompts) != 4 {
		t.Fatalf("sample=%+v", s)
	}
	if !strings.Contains(s.Prompts[GroupD], "- Subject: Elena, 82, Teacher") {
		t.Fatalf("prompt D missing profile:\n%s", s.Prompts[GroupD])
	}
}

type scriptedGenerator struct {
	calls  int
	failOn map[int]bool
	cancel context.CancelFunc
	stopAt int
}

func (g *scriptedGenerator) Generate(_ context.Context, _, prompt string) (string, error) {
	g.calls++
	if g.cancel != nil && g.calls == g.stopAt {
		g.cancel()
		return "", context.Canceled
	}
	if g.failOn[g.calls] {
		return "", errors.New("503 service unavailable")
	}
	if g.calls%2 == 0 {
		return `{"text": "What happened next?"}`, nil
	}
	return "  What happened next?  ", nil
}

func testSamples(n int) []Sample {
	out := make([]Sample, n)
	for i := range out {
		out[i] = Sample{FileID: "x.json", SubjectTurn: 4, TargetTurn: 5, TargetQuestionGT: "Q", Prompts: map[Group]string{
			GroupA: "a", GroupB: "b", GroupC: "c", GroupD: "d",
		}}
	}
	return out
}

func TestRun_CompletesAndRemovesCheckpoint(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	opts := RunOptions{CheckpointPath: filepath.Join(dir, "checkpoint.json"), OutputPath: filepath.Join(dir, "results.json")}
	gen := &scriptedGenerator{failOn: map[int]bool{3: true}}

	stats, err := Run(context.Background(), testSamples(2), gen, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gen.calls != 8 || stats.Errors != 1 || stats.Generated != 7 || stats.JSON != 4 || stats.Text != 3 {
		t.Fatalf("calls=%d stats=%+v", gen.calls, stats)
	}
	if _, err := os.Stat(opts.CheckpointPath); !os.IsNotExist(err) {
		t.Fatalf("checkpoint should be removed, stat err=%v", err)
	}

	var results []Result
	if err := fileutils.ReadJSONFile(opts.OutputPath, &results); err != nil {
		t.Fatalf("read results: %v", err)
	}
	if len(results) != 2 || results[1].SampleID != 2 {
		t.Fatalf("results=%+v", results)
	}
	c := results[0].GeneratedQuestions[GroupC]
	if c.Format != FormatError || !strings.HasPrefix(c.RawOutput, "API_ERROR: ") {
		t.Fatalf("group C=%+v", c)
	}
	if got := ExtractText(results[0].GeneratedQuestions[GroupB]); got != "What happened next?" {
		t.Fatalf("ExtractText(json)=%q", got)
	}
	if got := ExtractText(results[0].GeneratedQuestions[GroupA]); got != "What happened next?" {
		t.Fatalf("ExtractText(text)=%q", got)
	}

	sum := Summarize(results)
	if sum[2].Group != GroupC || sum[2].Errors != 1 || sum[0].MeanWords != 3 {
		t.Fatalf("summary=%+v", sum)
	}
}

func TestRun_ResumesFromCheckpoint(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	opts := RunOptions{CheckpointPath: filepath.Join(dir, "checkpoint.json"), OutputPath: filepath.Join(dir, "results.json"), Resume: true}

	ctx, cancel := context.WithCancel(context.Background())
	first := &scriptedGenerator{cancel: cancel, stopAt: 6}
	_, err := Run(ctx, testSamples(3), first, opts)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("first run err=%v, want context.Canceled", err)
	}
	var cp Checkpoint
	if err := fileutils.ReadJSONFile(opts.CheckpointPath, &cp); err != nil {
		t.Fatalf("read checkpoint: %v", err)
	}
	if len(cp.Results) != 1 || cp.RunID == "" {
		t.Fatalf("checkpoint=%+v", cp)
	}

	second := &scriptedGenerator{}
	stats, err := Run(context.Background(), testSamples(3), second, opts)
	if err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	if second.calls != 8 || stats.Resumed != 1 || stats.RunID != cp.RunID {
		t.Fatalf("calls=%d stats=%+v", second.calls, stats)
	}
}

func TestRun_FreshRunIgnoresCheckpoint(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cpPath := filepath.Join(dir, "checkpoint.json")
	if err := fileutils.WriteJSONFileAtomic(cpPath, Checkpoint{RunID: "old", Results: make([]Result, 1)}, true); err != nil {
		t.Fatalf("write checkpoint: %v", err)
	}
	gen := &scriptedGenerator{}
	stats, err := Run(context.Background(), testSamples(1), gen, RunOptions{CheckpointPath: cpPath, OutputPath: filepath.Join(dir, "r.json")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gen.calls != 4 || stats.RunID == "old" || stats.Resumed != 0 {
		t.Fatalf("calls=%d stats=%+v", gen.calls, stats)
	}
}

func TestClassifyOutput(t *testing.T) {
	t.Parallel()

	if o := ClassifyOutput(`{"text": "x"`); o.Format != FormatText || o.Parsed != nil {
		t.Fatalf("truncated json=%+v", o)
	}
	if o := ClassifyOutput(" {\"text\":\"x\"} "); o.Format != FormatJSON || string(o.Parsed) != `{"text":"x"}` {
		t.Fatalf("json=%+v", o)
	}
}
