package dialogue

// FoldTransient moves predicted_emotions into annotations.emotions and predicted_entities
// into annotations.entities, then clears the transient fields. An "error" emotion sentinel
// is dropped rather than folded, leaving any gold emotions in place. It returns the number
// of units that carried a transient field.
func FoldTransient(s *Session) int {
	if s == nil {
		return 0
	}
	folded := 0
	for ti := range s.Turns {
		t := &s.Turns[ti]
		if t.PredictedEmotions != nil || t.PredictedEntities != nil {
			if t.Annotations == nil {
				t.Annotations = &Annotations{}
			}
			foldInto(t.Annotations, t.PredictedEmotions, t.PredictedEntities)
			t.PredictedEmotions = nil
			t.PredictedEntities = nil
			folded++
		}
		for si := range t.Sentences {
			sen := &t.Sentences[si]
			if sen.PredictedEmotions == nil && sen.PredictedEntities == nil {
				continue
			}
			foldInto(&sen.Annotations, sen.PredictedEmotions, sen.PredictedEntities)
			sen.PredictedEmotions = nil
			sen.PredictedEntities = nil
			folded++
		}
	}
	return folded
}

func foldInto(a *Annotations, emotions []string, entities []Entity) {
	if emotions != nil {
		if kept := withoutSentinel(emotions); len(kept) > 0 {
			a.Emotions = kept
		}
	}
	if entities != nil {
		a.Entities = entities
	}
}

func withoutSentinel(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if l == EmotionErrorSentinel {
			continue
		}
		out = append(out, l)
	}
	return out
}
