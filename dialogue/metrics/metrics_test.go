package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRecorder_NilIsNoop(t *testing.T) {
	t.Parallel()

	var r *Recorder
	r.FileDone("extract", OutcomeOK, time.Second)
	r.Call("extract", errors.New("x"))
	r.Entity("PERSON")
	r.GoldCompared(true)
	if err := r.WriteTextfile(filepath.Join(t.TempDir(), "m.prom")); err != nil {
		t.Fatalf("WriteTextfile on nil: %v", err)
	}
	if r.Registry() != nil {
		t.Fatalf("expected nil registry")
	}
}

func TestRecorder_WriteTextfile(t *testing.T) {
	t.Parallel()

	r := New()
	r.FileDone("extract", OutcomeOK, 200*time.Millisecond)
	r.FileDone("extract", OutcomeSkipped, 0)
	r.Call("extract", nil)
	r.Call("extract", errors.New("boom"))
	r.Entity("LOCATION")
	r.GoldCompared(false)

	p := filepath.Join(t.TempDir(), "run.prom")
	if err := r.WriteTextfile(p); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	out := string(b)
	for _, want := range []string{
		`memoir_files_total{outcome="ok",stage="extract"} 1`,
		`memoir_files_total{outcome="skipped",stage="extract"} 1`,
		`memoir_collaborator_calls_total{outcome="error",stage="extract"} 1`,
		`memoir_entities_extracted_total{type="LOCATION"} 1`,
		`memoir_emotion_gold_compared_total{result="incorrect"} 1`,
		`memoir_file_duration_seconds_count{stage="extract"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}
