package dialogue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tidwall/gjson"

	"github.com/theimaginaryfoundation/memoir-bot/dialogue/fileutils"
)

// KBFilePrefix names Knowledge-Base files: KB_<session file name>.
const KBFilePrefix = "KB_"

// kbListKeys are the entry-list keys written by the different extraction variants, in lookup order.
var kbListKeys = []string{"extracted_knowledge", "dialogue_analysis", "dialogue_content"}

// KBRecord is the entity-extraction projection of one session. It is never the authority on
// turn order.
type KBRecord struct {
	SessionID string          `json:"session_id"`
	Profile   json.RawMessage `json:"profile,omitempty"`
	Entries   []KBEntry       `json:"extracted_knowledge"`
}

type KBEntry struct {
	TurnID            int      `json:"turn_id"`
	SentenceIndex     *int     `json:"sentence_index,omitempty"`
	Speaker           string   `json:"speaker,omitempty"`
	OriginalText      string   `json:"original_text"`
	PredictedEntities []Entity `json:"predicted_entities"`
	// Error is set when the tagger failed for this unit after retries.
	Error string `json:"error,omitempty"`
}

// UnmarshalJSON accepts "text_content" / "text" for original_text and "extracted_entities"
// for predicted_entities.
func (e *KBEntry) UnmarshalJSON(b []byte) error {
	type entryAlias KBEntry
	var raw struct {
		entryAlias
		TextContent       *string  `json:"text_content"`
		Text              *string  `json:"text"`
		ExtractedEntities []Entity `json:"extracted_entities"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*e = KBEntry(raw.entryAlias)
	if e.OriginalText == "" {
		switch {
		case raw.TextContent != nil:
			e.OriginalText = *raw.TextContent
		case raw.Text != nil:
			e.OriginalText = *raw.Text
		}
	}
	if e.PredictedEntities == nil && raw.ExtractedEntities != nil {
		e.PredictedEntities = raw.ExtractedEntities
	}
	if e.PredictedEntities == nil {
		e.PredictedEntities = []Entity{}
	}
	return nil
}

// ParseKB decodes a KB document of any known variant.
func ParseKB(b []byte) (KBRecord, error) {
	if !gjson.ValidBytes(b) {
		return KBRecord{}, errors.New("ParseKB: invalid JSON")
	}
	doc := gjson.ParseBytes(b)
	if !doc.IsObject() {
		return KBRecord{}, errors.New("ParseKB: top level is not an object")
	}

	rec := KBRecord{SessionID: doc.Get("session_id").String()}
	if p := doc.Get("profile"); p.Exists() && p.IsObject() {
		rec.Profile = json.RawMessage(p.Raw)
	}

	var list gjson.Result
	for _, key := range kbListKeys {
		if r := doc.Get(key); r.Exists() {
			list = r
			break
		}
	}
	if !list.Exists() {
		return KBRecord{}, fmt.Errorf("ParseKB: none of %v present", kbListKeys)
	}
	if !list.IsArray() {
		return KBRecord{}, errors.New("ParseKB: entry list is not an array")
	}
	if err := json.Unmarshal([]byte(list.Raw), &rec.Entries); err != nil {
		return KBRecord{}, fmt.Errorf("ParseKB: entries: %w", err)
	}
	if rec.Entries == nil {
		rec.Entries = []KBEntry{}
	}
	return rec, nil
}

func LoadKB(path string) (KBRecord, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return KBRecord{}, fmt.Errorf("LoadKB: read file: %w", err)
	}
	rec, err := ParseKB(b)
	if err != nil {
		return KBRecord{}, fmt.Errorf("LoadKB: %s: %w", path, err)
	}
	return rec, nil
}

func SaveKB(path string, rec KBRecord) error {
	if rec.Entries == nil {
		rec.Entries = []KBEntry{}
	}
	if err := fileutils.WriteJSONFileAtomic(path, rec, true); err != nil {
		return fmt.Errorf("SaveKB: %w", err)
	}
	return nil
}
