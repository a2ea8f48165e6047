package dialogue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	SpeakerInterviewer = "Interviewer"
	SpeakerSubject     = "Subject"

	// EmotionErrorSentinel marks a prediction that failed after retries.
	EmotionErrorSentinel = "error"
)

// Session is one simulated interview (one JSON document on disk).
type Session struct {
	SessionID string          `json:"session_id"`
	Tone      string          `json:"tone,omitempty"`
	Profile   json.RawMessage `json:"profile,omitempty"`
	Turns     []Turn          `json:"dialogue_turns"`
}

// Profile is the typed view of Session.Profile. The raw bytes remain authoritative.
type Profile struct {
	ID       string          `json:"id" yaml:"id"`
	Name     string          `json:"name" yaml:"name"`
	Age      int             `json:"age" yaml:"age"`
	Role     string          `json:"role" yaml:"role"`
	Timeline []TimelineStage `json:"timeline" yaml:"timeline"`
}

type TimelineStage struct {
	Stage   string `json:"stage" yaml:"stage"`
	Topic   string `json:"topic" yaml:"topic"`
	Context string `json:"context" yaml:"context"`
}

func (s Session) ParseProfile() (Profile, error) {
	var p Profile
	if len(bytes.TrimSpace(s.Profile)) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(s.Profile, &p); err != nil {
		return Profile{}, fmt.Errorf("ParseProfile: %w", err)
	}
	return p, nil
}

// Clone returns a deep copy so stage functions never mutate their input.
func (s Session) Clone() Session {
	out := s
	if s.Profile != nil {
		out.Profile = append(json.RawMessage(nil), s.Profile...)
	}
	if s.Turns != nil {
		out.Turns = make([]Turn, len(s.Turns))
		for i, t := range s.Turns {
			out.Turns[i] = t.Clone()
		}
	}
	return out
}

// BodyKind tags how a turn stores its text.
type BodyKind int

const (
	// BodyText is a single "text" field; the whole turn is one match unit.
	BodyText BodyKind = iota
	// BodySentences is a decomposed sentence list.
	BodySentences
)

func (k BodyKind) String() string {
	if k == BodySentences {
		return "sentences"
	}
	return "text"
}

type Turn struct {
	TurnID            int          `json:"turn_id"`
	Speaker           string       `json:"speaker"`
	Text              string       `json:"text,omitempty"`
	Sentences         []Sentence   `json:"sentences,omitempty"`
	Annotations       *Annotations `json:"annotations,omitempty"`
	PredictedEmotions []string     `json:"predicted_emotions,omitempty"`
	PredictedEntities []Entity     `json:"predicted_entities,omitempty"`
}

// Body reports which variant the turn carries. A turn with any sentences is BodySentences
// even when it also keeps its original "text".
func (t Turn) Body() BodyKind {
	if len(t.Sentences) > 0 {
		return BodySentences
	}
	return BodyText
}

// FullText is the turn's text, joining sentences with a space when there is no "text" field.
func (t Turn) FullText() string {
	if t.Text != "" || len(t.Sentences) == 0 {
		return t.Text
	}
	return joinSentenceTexts(t.Sentences)
}

func joinSentenceTexts(ss []Sentence) string {
	parts := make([]string, 0, len(ss))
	for _, s := range ss {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, " ")
}

func (t Turn) Clone() Turn {
	out := t
	if t.Sentences != nil {
		out.Sentences = make([]Sentence, len(t.Sentences))
		for i, s := range t.Sentences {
			out.Sentences[i] = s.Clone()
		}
	}
	if t.Annotations != nil {
		a := t.Annotations.Clone()
		out.Annotations = &a
	}
	out.PredictedEmotions = cloneStrings(t.PredictedEmotions)
	out.PredictedEntities = cloneEntities(t.PredictedEntities)
	return out
}

// legacySentence is the flat per-sentence stub produced by dialogue synthesis.
type legacySentence struct {
	Text      string   `json:"text"`
	LifeStage string   `json:"life_stage,omitempty"`
	EventType string   `json:"event_type,omitempty"`
	Event     string   `json:"event,omitempty"`
	Emotions  []string `json:"emotions,omitempty"`
	Entities  []Entity `json:"entities,omitempty"`
}

func (l legacySentence) toSentence() Sentence {
	return Sentence{
		Text: l.Text,
		Annotations: Annotations{
			LifeStage: l.LifeStage,
			EventType: l.EventType,
			Event:     l.Event,
			Emotions:  l.Emotions,
			Entities:  l.Entities,
		},
	}
}

// UnmarshalJSON accepts the synthesis-era "sentence_annotations" list and converts it to Sentences.
func (t *Turn) UnmarshalJSON(b []byte) error {
	type turnAlias Turn
	var raw struct {
		turnAlias
		SentenceAnnotations []legacySentence `json:"sentence_annotations"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*t = Turn(raw.turnAlias)
	if len(t.Sentences) == 0 && len(raw.SentenceAnnotations) > 0 {
		t.Sentences = make([]Sentence, 0, len(raw.SentenceAnnotations))
		for _, l := range raw.SentenceAnnotations {
			t.Sentences = append(t.Sentences, l.toSentence())
		}
	}
	return nil
}

type Sentence struct {
	Text              string      `json:"text"`
	Annotations       Annotations `json:"annotations"`
	PredictedEmotions []string    `json:"predicted_emotions,omitempty"`
	PredictedEntities []Entity    `json:"predicted_entities,omitempty"`
}

func (s Sentence) Clone() Sentence {
	out := s
	out.Annotations = s.Annotations.Clone()
	out.PredictedEmotions = cloneStrings(s.PredictedEmotions)
	out.PredictedEntities = cloneEntities(s.PredictedEntities)
	return out
}

// Annotations uses omitzero on the lists: a nil list is omitted, an empty list is written as [].
type Annotations struct {
	LifeStage string   `json:"life_stage,omitempty"`
	EventType string   `json:"event_type,omitempty"`
	Event     string   `json:"event,omitempty"`
	Emotions  []string `json:"emotions,omitzero"`
	Entities  []Entity `json:"entities,omitzero"`
}

func (a Annotations) Clone() Annotations {
	out := a
	out.Emotions = cloneStrings(a.Emotions)
	out.Entities = cloneEntities(a.Entities)
	return out
}

// Entity is one named-entity span.
type Entity struct {
	Text       string `json:"text"`
	Type       string `json:"type"`
	Confidence *Score `json:"confidence,omitempty"`
}

// UnmarshalJSON also accepts a bare string, which becomes an untyped entity.
func (e *Entity) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = Entity{Text: s}
		return nil
	}
	type entityAlias Entity
	var a entityAlias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*e = Entity(a)
	return nil
}

// Score is an advisory confidence. Decoding accepts a number or a numeric string.
type Score float64

func (s *Score) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		str = strings.TrimSpace(str)
		if str == "" {
			return nil
		}
		f, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return fmt.Errorf("confidence %q: %w", str, err)
		}
		*s = Score(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*s = Score(f)
	return nil
}

func NewScore(f float64) *Score {
	s := Score(f)
	return &s
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append(make([]string, 0, len(in)), in...)
}

func cloneEntities(in []Entity) []Entity {
	if in == nil {
		return nil
	}
	out := make([]Entity, len(in))
	for i, e := range in {
		out[i] = e
		if e.Confidence != nil {
			c := *e.Confidence
			out[i].Confidence = &c
		}
	}
	return out
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}
