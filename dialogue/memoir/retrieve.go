package memoir

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/theimaginaryfoundation/memoir-bot/dialogue"
	"github.com/theimaginaryfoundation/memoir-bot/dialogue/provider"
)

// Chunk is one retrievable Subject sentence, identified as "<turn_id>_<sentence index>".
type Chunk struct {
	ID   string
	Text string
}

// SubjectChunks splits every Subject turn into sentence chunks. A text-only turn is one chunk.
// Blank sentences are skipped.
func SubjectChunks(l dialogue.Loaded) []Chunk {
	var out []Chunk
	for _, t := range l.Session.Turns {
		if l.Roles.IsInterviewer(t.Speaker) {
			continue
		}
		if t.Body() == dialogue.BodyText {
			if text := strings.TrimSpace(t.Text); text != "" {
				out = append(out, Chunk{ID: fmt.Sprintf("%d_0", t.TurnID), Text: text})
			}
			continue
		}
		for i, s := range t.Sentences {
			if text := strings.TrimSpace(s.Text); text != "" {
				out = append(out, Chunk{ID: fmt.Sprintf("%d_%d", t.TurnID, i), Text: text})
			}
		}
	}
	return out
}

// Transcript joins the Subject's turns, one per line.
func Transcript(l dialogue.Loaded) string {
	var lines []string
	for _, t := range l.Session.Turns {
		if l.Roles.IsInterviewer(t.Speaker) {
			continue
		}
		if text := strings.TrimSpace(t.FullText()); text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, "\n")
}

func Cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := 0; i < len(a) && i < len(b); i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// TopK embeds the chunks and the query in one call and returns the k chunks most similar to
// the query, best first. Ties keep chunk order.
func TopK(ctx context.Context, emb provider.Embedder, query string, chunks []Chunk, k int) ([]Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	texts := make([]string, 0, len(chunks)+1)
	for _, c := range chunks {
		texts = append(texts, c.Text)
	}
	texts = append(texts, query)

	vecs, err := emb.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("TopK: embed: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("TopK: got %d vectors for %d texts", len(vecs), len(texts))
	}
	q := vecs[len(vecs)-1]

	type scored struct {
		chunk Chunk
		score float64
	}
	ranked := make([]scored, len(chunks))
	for i, c := range chunks {
		ranked[i] = scored{chunk: c, score: Cosine(q, vecs[i])}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if k <= 0 || k > len(ranked) {
		k = len(ranked)
	}
	out := make([]Chunk, k)
	for i := range out {
		out[i] = ranked[i].chunk
	}
	return out, nil
}

func formatEvidence(chunks []Chunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = fmt.Sprintf("[Chunk %s]\n%s", c.ID, c.Text)
	}
	return strings.Join(parts, "\n\n")
}

// SensitiveEntities lists the distinct annotated entity texts of the session, in first-seen
// order.
func SensitiveEntities(s dialogue.Session) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(ents []dialogue.Entity) {
		for _, e := range ents {
			text := strings.TrimSpace(e.Text)
			if text == "" {
				continue
			}
			if _, ok := seen[text]; ok {
				continue
			}
			seen[text] = struct{}{}
			out = append(out, text)
		}
	}
	for _, t := range s.Turns {
		if t.Annotations != nil {
			add(t.Annotations.Entities)
		}
		for _, sen := range t.Sentences {
			add(sen.Annotations.Entities)
		}
	}
	return out
}
