package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/theimaginaryfoundation/memoir-bot/dialogue/metrics"
)

// Directive is the interviewer move planned for one pair index.
type Directive int

const (
	DirectiveOpening Directive = iota
	DirectiveDeepen
	DirectiveClose
	DirectiveTransition
	DirectiveEvent
	DirectiveReflection
	DirectiveSummary
)

func (d Directive) String() string {
	switch d {
	case DirectiveOpening:
		return "opening"
	case DirectiveDeepen:
		return "deepen"
	case DirectiveClose:
		return "close"
	case DirectiveTransition:
		return "transition"
	case DirectiveEvent:
		return "event"
	case DirectiveReflection:
		return "reflection"
	case DirectiveSummary:
		return "summary"
	default:
		return fmt.Sprintf("directive(%d)", int(d))
	}
}

// Phase is the plan for one pair index.
type Phase struct {
	Index int
	// Part is 1, 2 or 3 for the life-stage parts and 0 for the closing summary.
	Part        int
	Stage       string
	Directive   Directive
	Instruction string
}

var defaultStages = []string{"Youth", "Adulthood", "Old Age"}

// PlanPhases splits total-1 pair indexes into three contiguous near-equal parts (remainder to
// the earliest parts) and reserves the final index for the summary.
func PlanPhases(total int, timeline []TimelineStage) ([]Phase, error) {
	if total < 1 {
		return nil, fmt.Errorf("PlanPhases: total must be >= 1 (got %d)", total)
	}
	tl := padTimeline(timeline)

	available := total - 1
	base, rem := available/3, available%3
	len1, len2 := base, base
	if rem > 0 {
		len1++
	}
	if rem > 1 {
		len2++
	}
	end1 := len1
	end2 := len1 + len2

	phases := make([]Phase, total)
	for i := 0; i < total; i++ {
		p := Phase{Index: i}
		switch {
		case i == total-1:
			p.Part = 0
			p.Stage = tl[2].Stage
			p.Directive = DirectiveSummary
			p.Instruction = "FINAL PHASE: SUMMARY. Use 'Before we finish...' to ask for a final lesson."
		case i < end1:
			p.Part = 1
			p.Stage = tl[0].Stage
			switch {
			case i == 0:
				p.Directive = DirectiveOpening
				p.Instruction = fmt.Sprintf("PHASE 1 (START): Use 'I'd love to hear about...' to start topic: %s.", tl[0].Topic)
			case i == end1-1:
				p.Directive = DirectiveClose
				p.Instruction = "PHASE 1 (CLOSE): Ask how this period ended."
			default:
				p.Directive = DirectiveDeepen
				p.Instruction = "PHASE 1 (DEEPEN): Use 'It sounds like...' to dig deeper."
			}
		case i < end2:
			p.Part = 2
			p.Stage = tl[1].Stage
			if i == end1 {
				p.Directive = DirectiveTransition
				p.Instruction = fmt.Sprintf("PHASE 2 (TRANSITION): Use 'So when did things change?' to move to: %s.", tl[1].Topic)
			} else {
				p.Directive = DirectiveEvent
				p.Instruction = "PHASE 2 (EVENT): Discuss core challenges."
			}
		default:
			p.Part = 3
			p.Stage = tl[2].Stage
			if i == end2 {
				p.Directive = DirectiveTransition
				p.Instruction = fmt.Sprintf("PHASE 3 (TRANSITION): Move to present day: %s.", tl[2].Topic)
			} else {
				p.Directive = DirectiveReflection
				p.Instruction = "PHASE 3 (REFLECTION): Discuss feelings."
			}
		}
		phases[i] = p
	}
	return phases, nil
}

// padTimeline returns exactly three stages, filling gaps with the last known stage or a default.
func padTimeline(in []TimelineStage) []TimelineStage {
	out := make([]TimelineStage, 3)
	for i := range out {
		switch {
		case i < len(in):
			out[i] = in[i]
		case len(in) > 0:
			out[i] = in[len(in)-1]
		}
		if strings.TrimSpace(out[i].Stage) == "" {
			out[i].Stage = defaultStages[i]
		}
	}
	return out
}

// SentenceStub is one Subject sentence with the annotations the generator assigns inline.
type SentenceStub struct {
	Text      string   `json:"text"`
	LifeStage string   `json:"life_stage"`
	EventType string   `json:"event_type"`
	Emotions  []string `json:"emotions"`
	Entities  []Entity `json:"entities"`
}

// TurnPair is one generated Interviewer/Subject exchange.
type TurnPair struct {
	InterviewerText    string         `json:"interviewer_text"`
	SubjectText        string         `json:"subject_text"`
	SubjectAnnotations []SentenceStub `json:"subject_annotations"`
}

type TurnRequest struct {
	Scenario   Scenario
	Tone       string
	Phase      Phase
	PairIndex  int
	TotalPairs int
	// History holds the most recent pairs, oldest first, as "I: ...\nS: ..." blocks.
	History []string
}

// TurnGenerator is the text-generation collaborator for synthesis.
type TurnGenerator interface {
	GenerateTurn(ctx context.Context, req TurnRequest) (TurnPair, error)
}

type SynthOptions struct {
	MinPairs     int
	MaxPairs     int
	HistoryTurns int
	Rand         *rand.Rand

	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

func (o SynthOptions) withDefaults() SynthOptions {
	if o.MinPairs <= 0 {
		o.MinPairs = 10
	}
	if o.MaxPairs < o.MinPairs {
		o.MaxPairs = max(15, o.MinPairs)
	}
	if o.HistoryTurns <= 0 {
		o.HistoryTurns = 10
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
	return o
}

type SynthResult struct {
	Session Session
	Planned int
	Pairs   int
	// Err is the generator error that halted the session, if any. Session still holds
	// every pair generated before it.
	Err error
}

func (r SynthResult) Partial() bool { return r.Pairs < r.Planned }

// Synthesize generates one session pair by pair. A generator failure stops the session at
// that pair; nothing is retried here beyond what the generator itself does.
func Synthesize(ctx context.Context, sc Scenario, tone string, gen TurnGenerator, opts SynthOptions) SynthResult {
	opts = opts.withDefaults()
	total := opts.MinPairs + opts.Rand.IntN(opts.MaxPairs-opts.MinPairs+1)

	id := sc.ID
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	sess := Session{SessionID: id, Tone: tone, Turns: []Turn{}}
	if b, err := json.Marshal(Profile(sc)); err == nil {
		sess.Profile = b
	}
	res := SynthResult{Session: sess, Planned: total}

	phases, err := PlanPhases(total, sc.Timeline)
	if err != nil {
		res.Err = err
		return res
	}
	if gen == nil {
		res.Err = errors.New("Synthesize: generator is nil")
		return res
	}

	var history []string
	for i, ph := range phases {
		req := TurnRequest{
			Scenario:   sc,
			Tone:       tone,
			Phase:      ph,
			PairIndex:  i,
			TotalPairs: total,
			History:    lastN(history, opts.HistoryTurns),
		}
		pair, err := gen.GenerateTurn(ctx, req)
		opts.Metrics.Call(StageSynth, err)
		if err != nil {
			res.Err = fmt.Errorf("pair %d/%d: %w", i+1, total, err)
			break
		}

		res.Session.Turns = append(res.Session.Turns,
			Turn{TurnID: i*2 + 1, Speaker: SpeakerInterviewer, Text: strings.TrimSpace(pair.InterviewerText)},
			subjectTurn(i*2+2, pair, ph),
		)
		history = append(history, fmt.Sprintf("I: %s\nS: %s", pair.InterviewerText, pair.SubjectText))
		res.Pairs++
	}
	return res
}

func subjectTurn(id int, pair TurnPair, ph Phase) Turn {
	t := Turn{TurnID: id, Speaker: SpeakerSubject, Text: strings.TrimSpace(pair.SubjectText)}
	for _, stub := range pair.SubjectAnnotations {
		if strings.TrimSpace(stub.Text) == "" {
			continue
		}
		ents, _ := NormalizeEntities(stub.Entities)
		stage := stub.LifeStage
		if strings.TrimSpace(stage) == "" {
			stage = ph.Stage
		}
		t.Sentences = append(t.Sentences, Sentence{
			Text: stub.Text,
			Annotations: Annotations{
				LifeStage: stage,
				EventType: stub.EventType,
				Emotions:  cloneStrings(stub.Emotions),
				Entities:  ents,
			},
		})
	}
	return t
}

func lastN(in []string, n int) []string {
	if len(in) <= n {
		return append([]string(nil), in...)
	}
	return append([]string(nil), in[len(in)-n:]...)
}

// SynthFileName is <id>_<first word of tone>.json.
func SynthFileName(id, tone string) string {
	word := "Neutral"
	if f := strings.Fields(tone); len(f) > 0 {
		word = f[0]
	}
	return fmt.Sprintf("%s_%s.json", id, word)
}

// SynthDir synthesizes one session per scenario into outDir. Each scenario gets a tone drawn
// with opts.Rand unless tone is non-empty. Partial sessions are persisted; sessions with no
// pair at all are logged and skipped.
func SynthDir(ctx context.Context, set ScenarioSet, tone, outDir string, gen TurnGenerator, opts SynthOptions) (BatchResult, error) {
	opts = opts.withDefaults()
	log := loggerOr(opts.Logger).With("stage", StageSynth)
	if strings.TrimSpace(outDir) == "" {
		return BatchResult{}, fmt.Errorf("SynthDir: %w: output dir is empty", ErrConfig)
	}
	if len(set.Scenarios) == 0 {
		return BatchResult{}, fmt.Errorf("SynthDir: %w: no scenarios", ErrConfig)
	}
	if tone == "" && len(set.Tones) == 0 {
		return BatchResult{}, fmt.Errorf("SynthDir: %w: no tones", ErrConfig)
	}

	res := BatchResult{Files: len(set.Scenarios)}
	for i, sc := range set.Scenarios {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		start := time.Now()
		t := tone
		if t == "" {
			t = set.Tones[opts.Rand.IntN(len(set.Tones))]
		}

		r := Synthesize(ctx, sc, t, gen, opts)
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if r.Err != nil {
			log.Warn("session halted", "scenario", sc.ID, "pairs", r.Pairs, "planned", r.Planned, "err", r.Err)
		}
		if r.Pairs == 0 {
			res.Skipped++
			opts.Metrics.FileDone(StageSynth, metrics.OutcomeSkipped, 0)
			continue
		}

		outPath := filepath.Join(outDir, SynthFileName(r.Session.SessionID, t))
		if err := SaveSession(outPath, r.Session); err != nil {
			log.Error("write failed", "scenario", sc.ID, "err", err)
			res.Skipped++
			opts.Metrics.FileDone(StageSynth, metrics.OutcomeError, 0)
			continue
		}
		res.Written++
		res.Outputs = append(res.Outputs, outPath)
		opts.Metrics.FileDone(StageSynth, metrics.OutcomeOK, time.Since(start))
		log.Info("synthesized",
			"progress", fmt.Sprintf("%d/%d", i+1, len(set.Scenarios)),
			"file", filepath.Base(outPath),
			"pairs", r.Pairs,
			"planned", r.Planned,
			"partial", r.Partial(),
		)
	}
	return res, nil
}
