package dialogue

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is the persona a session is synthesized from. It is stored as the session profile.
type Scenario Profile

// ScenarioSet is the YAML scenario file: the personas and the tones to draw from.
type ScenarioSet struct {
	Tones     []string   `yaml:"tones"`
	Scenarios []Scenario `yaml:"scenarios"`
}

func ParseScenarios(b []byte) (ScenarioSet, error) {
	var set ScenarioSet
	if err := yaml.Unmarshal(b, &set); err != nil {
		return ScenarioSet{}, fmt.Errorf("ParseScenarios: %w", err)
	}

	seen := map[string]struct{}{}
	for i, sc := range set.Scenarios {
		id := strings.TrimSpace(sc.ID)
		if id == "" {
			return ScenarioSet{}, fmt.Errorf("ParseScenarios: scenario %d: missing id", i)
		}
		if _, dup := seen[id]; dup {
			return ScenarioSet{}, fmt.Errorf("ParseScenarios: duplicate scenario id %q", id)
		}
		seen[id] = struct{}{}
		if len(sc.Timeline) == 0 {
			return ScenarioSet{}, fmt.Errorf("ParseScenarios: scenario %q: empty timeline", id)
		}
	}
	set.Tones = dedupeStrings(set.Tones)
	return set, nil
}

func LoadScenarios(path string) (ScenarioSet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ScenarioSet{}, fmt.Errorf("LoadScenarios: read file: %w", err)
	}
	return ParseScenarios(b)
}

// Filter keeps the scenarios whose id is in ids. An empty ids keeps everything.
func (s ScenarioSet) Filter(ids []string) ScenarioSet {
	if len(ids) == 0 {
		return s
	}
	want := map[string]struct{}{}
	for _, id := range ids {
		want[strings.TrimSpace(id)] = struct{}{}
	}
	out := ScenarioSet{Tones: s.Tones}
	for _, sc := range s.Scenarios {
		if _, ok := want[sc.ID]; ok {
			out.Scenarios = append(out.Scenarios, sc)
		}
	}
	return out
}
