package dialogue

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/theimaginaryfoundation/memoir-bot/dialogue/fileutils"
)

// CatalogFileName is the catalog written next to the KB files and carried into the patched
// directory. It is not a session file.
const CatalogFileName = "entity_catalog.json"

// SessionFiles is the collect filter for directories of session files.
func SessionFiles() fileutils.CollectOptions {
	return fileutils.CollectOptions{SkipNames: []string{CatalogFileName}}
}

// EntityCatalog aggregates extracted entities across sessions.
type EntityCatalog struct {
	Version int            `json:"version"`
	Entries []CatalogEntry `json:"entries"`
}

type CatalogEntry struct {
	Term     string   `json:"term"`
	Type     string   `json:"type"`
	Count    int      `json:"count"`
	Sessions []string `json:"sessions"`
	// PerSession holds each session's share of Count so a re-merge can replace it.
	PerSession map[string]int `json:"per_session,omitempty"`
}

// LoadEntityCatalog reads a catalog file. If the file doesn't exist, it returns an empty catalog.
func LoadEntityCatalog(path string) (EntityCatalog, error) {
	if path == "" {
		return EntityCatalog{}, errors.New("LoadEntityCatalog: path is empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return EntityCatalog{Version: 1, Entries: []CatalogEntry{}}, nil
		}
		return EntityCatalog{}, fmt.Errorf("LoadEntityCatalog: read file: %w", err)
	}
	var c EntityCatalog
	if err := json.Unmarshal(b, &c); err != nil {
		return EntityCatalog{}, fmt.Errorf("LoadEntityCatalog: unmarshal: %w", err)
	}
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Entries == nil {
		c.Entries = []CatalogEntry{}
	}
	return c, nil
}

func SaveEntityCatalog(path string, c EntityCatalog) error {
	if path == "" {
		return errors.New("SaveEntityCatalog: path is empty")
	}
	if err := fileutils.WriteJSONFileAtomic(path, c, true); err != nil {
		return fmt.Errorf("SaveEntityCatalog: %w", err)
	}
	return nil
}

// MergeEntities sets one session's entities in the catalog: every mention bumps Count and the
// session is recorded once per entry. A session merged before has its previous mentions
// removed first, so re-running a batch leaves counts unchanged. It returns the catalog keys
// that were touched.
func MergeEntities(c *EntityCatalog, sessionID string, ents []Entity) []string {
	if c == nil {
		return nil
	}
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Entries == nil {
		c.Entries = []CatalogEntry{}
	}
	if sessionID != "" {
		dropSession(c, sessionID)
	}

	index := make(map[string]int, len(c.Entries))
	for i := range c.Entries {
		if key := catalogKey(c.Entries[i].Term, c.Entries[i].Type); key != "" {
			index[key] = i
		}
	}

	touched := map[string]struct{}{}
	for _, e := range ents {
		key := catalogKey(e.Text, e.Type)
		if key == "" {
			continue
		}
		touched[key] = struct{}{}

		if i, ok := index[key]; ok {
			entry := &c.Entries[i]
			entry.Count++
			entry.Sessions = addSession(entry.Sessions, sessionID)
			bumpSession(entry, sessionID)
			continue
		}

		c.Entries = append(c.Entries, CatalogEntry{
			Term:     strings.TrimSpace(e.Text),
			Type:     e.Type,
			Count:    1,
			Sessions: addSession(nil, sessionID),
		})
		bumpSession(&c.Entries[len(c.Entries)-1], sessionID)
		index[key] = len(c.Entries) - 1
	}

	// Keep stable ordering: highest count first, then term.
	sort.SliceStable(c.Entries, func(i, j int) bool {
		if c.Entries[i].Count != c.Entries[j].Count {
			return c.Entries[i].Count > c.Entries[j].Count
		}
		return strings.ToLower(c.Entries[i].Term) < strings.ToLower(c.Entries[j].Term)
	})

	keys := make([]string, 0, len(touched))
	for k := range touched {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CullCatalog removes entries with Count < minCount.
func CullCatalog(c *EntityCatalog, minCount int) {
	if c == nil || minCount <= 1 {
		return
	}
	out := c.Entries[:0]
	for _, e := range c.Entries {
		if e.Count >= minCount {
			out = append(out, e)
		}
	}
	c.Entries = out
}

// dropSession subtracts a session's recorded mentions and removes entries left empty.
// Entries without per-session counts predate tracking and are left alone.
func dropSession(c *EntityCatalog, sessionID string) {
	out := c.Entries[:0]
	for _, e := range c.Entries {
		if n, ok := e.PerSession[sessionID]; ok {
			e.Count -= n
			delete(e.PerSession, sessionID)
			e.Sessions = slices.DeleteFunc(e.Sessions, func(s string) bool { return s == sessionID })
			if e.Count <= 0 {
				continue
			}
		}
		out = append(out, e)
	}
	c.Entries = out
}

func bumpSession(e *CatalogEntry, sessionID string) {
	if sessionID == "" {
		return
	}
	if e.PerSession == nil {
		e.PerSession = map[string]int{}
	}
	e.PerSession[sessionID]++
}

func catalogKey(term, typ string) string {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return ""
	}
	return term + "|" + strings.ToUpper(strings.TrimSpace(typ))
}

func addSession(sessions []string, id string) []string {
	if id == "" {
		if sessions == nil {
			return []string{}
		}
		return sessions
	}
	for _, s := range sessions {
		if s == id {
			return sessions
		}
	}
	return append(sessions, id)
}
