package dialogue

// SentenceKey correlates a Subject sentence across independently written files. Text must be
// byte-identical; no normalization or fuzzy matching is applied.
type SentenceKey struct {
	TurnID int
	Text   string
}

// EntityIndex is the KB projection indexed for reconciliation.
type EntityIndex struct {
	bySentence map[SentenceKey][]Entity
	byTurn     map[int][]KBEntry
	// Collisions counts keys written more than once. The last write wins.
	Collisions int
}

// NewEntityIndex indexes the entries of rec. A nil record yields an empty index.
func NewEntityIndex(rec *KBRecord) EntityIndex {
	idx := EntityIndex{
		bySentence: map[SentenceKey][]Entity{},
		byTurn:     map[int][]KBEntry{},
	}
	if rec == nil {
		return idx
	}
	for _, e := range rec.Entries {
		k := SentenceKey{TurnID: e.TurnID, Text: e.OriginalText}
		if _, dup := idx.bySentence[k]; dup {
			idx.Collisions++
		}
		idx.bySentence[k] = e.PredictedEntities
		idx.byTurn[e.TurnID] = append(idx.byTurn[e.TurnID], e)
	}
	return idx
}

// Lookup returns the entities recorded for k.
func (idx EntityIndex) Lookup(k SentenceKey) ([]Entity, bool) {
	ents, ok := idx.bySentence[k]
	return ents, ok
}

// TurnEntries returns the entries recorded for turnID in KB order.
func (idx EntityIndex) TurnEntries(turnID int) []KBEntry {
	return idx.byTurn[turnID]
}

// TurnEntities concatenates the entities of every entry for turnID; the whole-turn fallback key.
func (idx EntityIndex) TurnEntities(turnID int) ([]Entity, bool) {
	entries, ok := idx.byTurn[turnID]
	if !ok {
		return nil, false
	}
	out := []Entity{}
	for _, e := range entries {
		out = append(out, e.PredictedEntities...)
	}
	return out, true
}

// EmotionIndex maps sentence keys (and whole turns) to predicted emotion labels.
type EmotionIndex struct {
	bySentence map[SentenceKey][]string
	byTurn     map[int][]string
	Collisions int
}

// NewEmotionIndex indexes the predictions of an emotion-augmented session. A nil session
// yields an empty index.
func NewEmotionIndex(s *Session) EmotionIndex {
	idx := EmotionIndex{
		bySentence: map[SentenceKey][]string{},
		byTurn:     map[int][]string{},
	}
	if s == nil {
		return idx
	}
	for _, t := range s.Turns {
		if t.Body() == BodyText {
			if t.PredictedEmotions != nil {
				idx.byTurn[t.TurnID] = t.PredictedEmotions
			}
			continue
		}
		for _, sen := range t.Sentences {
			if sen.PredictedEmotions == nil {
				continue
			}
			k := SentenceKey{TurnID: t.TurnID, Text: sen.Text}
			if _, dup := idx.bySentence[k]; dup {
				idx.Collisions++
			}
			idx.bySentence[k] = sen.PredictedEmotions
		}
	}
	return idx
}

func (idx EmotionIndex) Lookup(k SentenceKey) ([]string, bool) {
	v, ok := idx.bySentence[k]
	return v, ok
}

func (idx EmotionIndex) TurnLookup(turnID int) ([]string, bool) {
	v, ok := idx.byTurn[turnID]
	return v, ok
}
