package dialogue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/theimaginaryfoundation/memoir-bot/dialogue/fileutils"
)

// Loaded is a session read from disk together with its role map, resolved once at ingestion.
type Loaded struct {
	Path    string
	Session Session
	Roles   RoleMap
}

// ParseSession decodes and validates a session document.
func ParseSession(b []byte) (Session, error) {
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return Session{}, fmt.Errorf("ParseSession: unmarshal: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Session{}, fmt.Errorf("ParseSession: %w", err)
	}
	return s, nil
}

// Validate checks the fields every stage depends on.
func (s Session) Validate() error {
	if s.Turns == nil {
		return errors.New("missing dialogue_turns")
	}
	seen := make(map[int]struct{}, len(s.Turns))
	for i, t := range s.Turns {
		if t.Speaker == "" {
			return fmt.Errorf("turn %d: missing speaker", i)
		}
		if _, dup := seen[t.TurnID]; dup {
			return fmt.Errorf("turn %d: duplicate turn_id %d", i, t.TurnID)
		}
		seen[t.TurnID] = struct{}{}
	}
	return nil
}

func LoadSession(path string) (Loaded, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, fmt.Errorf("LoadSession: read file: %w", err)
	}
	s, err := ParseSession(b)
	if err != nil {
		return Loaded{}, fmt.Errorf("LoadSession: %s: %w", path, err)
	}
	return Loaded{Path: path, Session: s, Roles: ResolveRoles(s.Turns)}, nil
}

func SaveSession(path string, s Session) error {
	if s.Turns == nil {
		s.Turns = []Turn{}
	}
	if err := fileutils.WriteJSONFileAtomic(path, s, true); err != nil {
		return fmt.Errorf("SaveSession: %w", err)
	}
	return nil
}
