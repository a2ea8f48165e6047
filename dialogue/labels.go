package dialogue

import (
	"fmt"
	"strings"
)

// Coarse emotion labels produced by the classifier.
const (
	EmotionAnger       = "anger"
	EmotionHappiness   = "happiness"
	EmotionSadness     = "sadness"
	EmotionFrustration = "frustration"
	EmotionNeutral     = "neutral"
)

// LabelCollapser maps a fine-grained gold tag onto the classifier's label set.
// ok=false means the tag is unresolvable and must be left out of accuracy accounting.
// Implementations are idempotent: a collapsed label maps to itself.
type LabelCollapser interface {
	Collapse(label string) (string, bool)
	Name() string
}

// MemoirRemap collapses the free-form emotion tags written during dialogue synthesis.
type MemoirRemap struct{}

func (MemoirRemap) Name() string { return "memoir" }

func (MemoirRemap) Collapse(label string) (string, bool) {
	g := strings.ToLower(strings.TrimSpace(label))
	if g == "" || g == "xxx" {
		return "", false
	}
	switch {
	case containsAny(g, "nostalgia", "gratitude", "joy", "pride", "happ"):
		return EmotionHappiness, true
	case containsAny(g, "sad", "loss"):
		return EmotionSadness, true
	case containsAny(g, "anger", "frustrat"):
		return EmotionAnger, true
	case containsAny(g, "fear", "anxiety"):
		return EmotionSadness, true
	default:
		return EmotionNeutral, true
	}
}

// IEMOCAPMap collapses the corpus codes the classifier was fitted on.
type IEMOCAPMap struct{}

var iemocapCodes = map[string]string{
	"ang": EmotionAnger,
	"hap": EmotionHappiness,
	"exc": EmotionHappiness,
	"sad": EmotionSadness,
	"fru": EmotionFrustration,
	"neu": EmotionNeutral,
	"oth": EmotionNeutral,

	EmotionAnger:       EmotionAnger,
	EmotionHappiness:   EmotionHappiness,
	EmotionSadness:     EmotionSadness,
	EmotionFrustration: EmotionFrustration,
	EmotionNeutral:     EmotionNeutral,
}

func (IEMOCAPMap) Name() string { return "iemocap" }

func (IEMOCAPMap) Collapse(label string) (string, bool) {
	l, ok := iemocapCodes[strings.ToLower(strings.TrimSpace(label))]
	return l, ok
}

// CollapserByName resolves a -collapse flag value.
func CollapserByName(name string) (LabelCollapser, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "memoir":
		return MemoirRemap{}, nil
	case "iemocap":
		return IEMOCAPMap{}, nil
	default:
		return nil, fmt.Errorf("unknown label collapser %q (want memoir or iemocap)", name)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
