package ablation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/theimaginaryfoundation/memoir-bot/dialogue"
)

// Group selects which Subject annotations a prompt exposes.
type Group string

const (
	// GroupA: life stage and event only.
	GroupA Group = "A"
	// GroupB: plus entities.
	GroupB Group = "B"
	// GroupC: plus emotions.
	GroupC Group = "C"
	// GroupD: everything.
	GroupD Group = "D"
)

var Groups = []Group{GroupA, GroupB, GroupC, GroupD}

func (g Group) keepsEntities() bool { return g == GroupB || g == GroupD }
func (g Group) keepsEmotions() bool { return g == GroupC || g == GroupD }

const systemPrompt = "You are a professional oral history interviewer. Generate natural, thoughtful follow-up questions based on the conversation history provided."

// FilterAnnotations returns the annotations visible to group g.
func FilterAnnotations(a dialogue.Annotations, g Group) dialogue.Annotations {
	out := dialogue.Annotations{
		LifeStage: a.LifeStage,
		EventType: a.EventType,
		Event:     a.Event,
	}
	if g.keepsEntities() {
		out.Entities = a.Entities
	}
	if g.keepsEmotions() {
		out.Emotions = a.Emotions
	}
	return out
}

type historySentence struct {
	Text        string               `json:"text"`
	Annotations dialogue.Annotations `json:"annotations"`
}

// FormatHistory renders turns up to and including endTurn. Interviewer turns are quoted text;
// Subject turns are an indented JSON list of sentences with the group's annotations.
func FormatHistory(l dialogue.Loaded, endTurn int, g Group) (string, error) {
	var parts []string
	for _, t := range l.Session.Turns {
		if t.TurnID > endTurn {
			break
		}
		if l.Roles.IsInterviewer(t.Speaker) {
			parts = append(parts, fmt.Sprintf("Turn %d (Interviewer): %q", t.TurnID, t.FullText()))
			continue
		}

		var sentences []historySentence
		if t.Body() == dialogue.BodyText {
			var a dialogue.Annotations
			if t.Annotations != nil {
				a = *t.Annotations
			}
			sentences = append(sentences, historySentence{Text: t.Text, Annotations: FilterAnnotations(a, g)})
		} else {
			for _, s := range t.Sentences {
				sentences = append(sentences, historySentence{Text: s.Text, Annotations: FilterAnnotations(s.Annotations, g)})
			}
		}
		b, err := json.MarshalIndent(sentences, "", "  ")
		if err != nil {
			return "", fmt.Errorf("FormatHistory: turn %d: %w", t.TurnID, err)
		}
		parts = append(parts, fmt.Sprintf("Turn %d (%s):\n%s", t.TurnID, t.Speaker, b))
	}
	return strings.Join(parts, "\n\n"), nil
}

func profileLine(p dialogue.Profile) string {
	na := func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "N/A"
		}
		return s
	}
	age := "N/A"
	if p.Age > 0 {
		age = fmt.Sprint(p.Age)
	}
	return fmt.Sprintf("- Session: %s\n- Subject: %s, %s, %s", na(p.ID), na(p.Name), age, na(p.Role))
}

// BuildPrompt assembles the user prompt for group g.
func BuildPrompt(g Group, history string, p dialogue.Profile) string {
	var b strings.Builder
	switch g {
	case GroupA:
		b.WriteString("You are generating the interviewer's next response in a conversational interview.\n\n")
		b.WriteString("Do not extract named entities or label emotions. Use only the life stage and event context.\n\n")
	case GroupB:
		b.WriteString("You are generating the interviewer's next response in a conversational interview with named entity recognition.\n\n")
	case GroupC:
		b.WriteString("You are generating the interviewer's next response in a conversational interview with emotion analysis.\n\n")
	default:
		b.WriteString("You are generating the interviewer's next response in a conversational interview with full annotations.\n\n")
	}
	b.WriteString("Context:\n")
	b.WriteString(profileLine(p))
	b.WriteString("\n\nComplete Conversation History:\n")
	b.WriteString(history)
	b.WriteString("\n\nGenerate the interviewer's next response.\nOutput format: ")
	switch g {
	case GroupA:
		b.WriteString(`{"text": "your generated response"}`)
	case GroupB:
		b.WriteString(`{"text": "...", "entities": [{"text": "...", "type": "PERSON|LOCATION|DATE|ORGANIZATION", "role": "..."}]}`)
	case GroupC:
		b.WriteString(`{"text": "...", "emotions": ["..."]}`)
	default:
		b.WriteString(`{"text": "...", "annotations": {"emotions": ["..."], "entities": [{"text": "...", "type": "...", "role": "..."}]}}`)
	}
	b.WriteString("\n")
	return b.String()
}

// Sample is one prediction point with its four prompts.
type Sample struct {
	FileID           string           `json:"file_id"`
	SubjectTurn      int              `json:"subject_turn"`
	TargetTurn       int              `json:"target_turn"`
	TargetQuestionGT string           `json:"target_question_gt"`
	Prompts          map[Group]string `json:"prompts"`
}

// BuildSamples expands a test set into samples. sessions is keyed by file base name; a plan
// whose file is missing is returned in skipped.
func BuildSamples(set TestSet, sessions map[string]dialogue.Loaded) (samples []Sample, skipped []string, err error) {
	for _, plan := range set.Files {
		l, ok := sessions[plan.File]
		if !ok {
			skipped = append(skipped, plan.File)
			continue
		}
		profile, _ := l.Session.ParseProfile()
		for _, pt := range plan.Points {
			s := Sample{
				FileID:           plan.File,
				SubjectTurn:      pt.SubjectTurn,
				TargetTurn:       pt.TargetTurn,
				TargetQuestionGT: "N/A",
				Prompts:          make(map[Group]string, len(Groups)),
			}
			for _, t := range l.Session.Turns {
				if t.TurnID == pt.TargetTurn {
					s.TargetQuestionGT = t.FullText()
					break
				}
			}
			for _, g := range Groups {
				h, err := FormatHistory(l, pt.SubjectTurn, g)
				if err != nil {
					return nil, nil, fmt.Errorf("BuildSamples: %s: %w", plan.File, err)
				}
				s.Prompts[g] = BuildPrompt(g, h, profile)
			}
			samples = append(samples, s)
		}
	}
	return samples, skipped, nil
}
