package dialogue

import "strings"

// Canonical entity types.
const (
	EntityPerson       = "PERSON"
	EntityLocation     = "LOCATION"
	EntityOrganization = "ORGANIZATION"
	EntityTime         = "TIME"
	EntityEvent        = "EVENT"
	EntityOccupation   = "OCCUPATION"
	EntityArtifact     = "ARTIFACT"
)

var entityTypeSynonyms = map[string]string{
	"PERSON":       EntityPerson,
	"PER":          EntityPerson,
	"LOCATION":     EntityLocation,
	"LOC":          EntityLocation,
	"GPE":          EntityLocation,
	"ORGANIZATION": EntityOrganization,
	"ORG":          EntityOrganization,
	"TIME":         EntityTime,
	"DATE":         EntityTime,
	"EVENT":        EntityEvent,
	"OCCUPATION":   EntityOccupation,
	"ARTIFACT":     EntityArtifact,
}

// NormalizeEntityType maps a tagger label onto the closed type set. Tagger prefixes such as
// "B-" / "I-" are stripped. ok is false for labels outside the set.
func NormalizeEntityType(label string) (string, bool) {
	l := strings.ToUpper(strings.TrimSpace(label))
	if len(l) > 2 && (strings.HasPrefix(l, "B-") || strings.HasPrefix(l, "I-")) {
		l = l[2:]
	}
	canon, ok := entityTypeSynonyms[l]
	return canon, ok
}

// NormalizeEntities trims surface text, canonicalizes types and drops entities whose type
// is unknown or whose text is empty. It returns the kept entities and the number dropped.
func NormalizeEntities(in []Entity) ([]Entity, int) {
	out := make([]Entity, 0, len(in))
	dropped := 0
	for _, e := range in {
		text := strings.TrimSpace(e.Text)
		typ, ok := NormalizeEntityType(e.Type)
		if !ok || text == "" {
			dropped++
			continue
		}
		out = append(out, Entity{Text: text, Type: typ, Confidence: e.Confidence})
	}
	return out, dropped
}
