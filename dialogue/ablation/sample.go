// Package ablation runs the interviewer-question generation experiment: it samples prediction
// points from reconciled sessions, builds one prompt per annotation group and records what the
// model generates for each, checkpointing after every sample.
package ablation

import (
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"slices"

	"github.com/theimaginaryfoundation/memoir-bot/dialogue"
	"github.com/theimaginaryfoundation/memoir-bot/dialogue/fileutils"
)

// PredictionPoint pairs a Subject turn with the Interviewer turn that follows it. The
// Interviewer text is the ground-truth question.
type PredictionPoint struct {
	SubjectTurn int `json:"subject_turn"`
	TargetTurn  int `json:"target_turn"`
}

type FilePlan struct {
	File       string            `json:"file"`
	TotalTurns int               `json:"total_turns"`
	Points     []PredictionPoint `json:"prediction_points"`
}

// TestSet is the persisted sampling decision, so reruns evaluate the same points.
type TestSet struct {
	Seed     uint64     `json:"seed"`
	Fraction float64    `json:"fraction"`
	Files    []FilePlan `json:"files"`
}

type SampleOptions struct {
	// Fraction of files drawn into the test set. Default 0.2.
	Fraction float64
	// PointsPerFile caps the prediction points per file. Default 4.
	PointsPerFile int
	// MinSubjectTurn is the lowest Subject turn_id usable as a point, so every prompt has some
	// history. Default 4.
	MinSubjectTurn int
	Seed           uint64
}

func (o SampleOptions) withDefaults() SampleOptions {
	if o.Fraction <= 0 || o.Fraction > 1 {
		o.Fraction = 0.2
	}
	if o.PointsPerFile <= 0 {
		o.PointsPerFile = 4
	}
	if o.MinSubjectTurn <= 0 {
		o.MinSubjectTurn = 4
	}
	return o
}

// PlanTestSet draws int(len(sessions)*Fraction) sessions and up to PointsPerFile prediction
// points from each. Sessions with no usable point are left out. The same seed and input give
// the same plan.
func PlanTestSet(sessions []dialogue.Loaded, opts SampleOptions) TestSet {
	opts = opts.withDefaults()
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x5deece66d))
	set := TestSet{Seed: opts.Seed, Fraction: opts.Fraction}

	n := int(float64(len(sessions)) * opts.Fraction)
	picked := rng.Perm(len(sessions))[:n]
	for _, i := range picked {
		l := sessions[i]
		candidates := predictionCandidates(l, opts.MinSubjectTurn)
		if len(candidates) == 0 {
			continue
		}
		if len(candidates) > opts.PointsPerFile {
			rng.Shuffle(len(candidates), func(a, b int) { candidates[a], candidates[b] = candidates[b], candidates[a] })
			candidates = candidates[:opts.PointsPerFile]
		}
		slices.SortFunc(candidates, func(a, b PredictionPoint) int { return a.SubjectTurn - b.SubjectTurn })
		set.Files = append(set.Files, FilePlan{
			File:       filepath.Base(l.Path),
			TotalTurns: len(l.Session.Turns),
			Points:     candidates,
		})
	}
	return set
}

// predictionCandidates returns every Subject turn at or after minTurn that is directly followed
// by an Interviewer turn.
func predictionCandidates(l dialogue.Loaded, minTurn int) []PredictionPoint {
	turns := l.Session.Turns
	var out []PredictionPoint
	for i := 0; i+1 < len(turns); i++ {
		t, next := turns[i], turns[i+1]
		if t.TurnID < minTurn || l.Roles.IsInterviewer(t.Speaker) || !l.Roles.IsInterviewer(next.Speaker) {
			continue
		}
		out = append(out, PredictionPoint{SubjectTurn: t.TurnID, TargetTurn: next.TurnID})
	}
	return out
}

func SaveTestSet(path string, set TestSet) error {
	if err := fileutils.WriteJSONFileAtomic(path, set, true); err != nil {
		return fmt.Errorf("SaveTestSet: %w", err)
	}
	return nil
}

func LoadTestSet(path string) (TestSet, error) {
	var set TestSet
	if err := fileutils.ReadJSONFile(path, &set); err != nil {
		return TestSet{}, fmt.Errorf("LoadTestSet: %w", err)
	}
	return set, nil
}
