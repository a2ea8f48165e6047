// Package ner calls a token-classification endpoint that returns aggregated entity spans.
package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/theimaginaryfoundation/memoir-bot/dialogue"
	"github.com/theimaginaryfoundation/memoir-bot/dialogue/fileutils"
	"github.com/theimaginaryfoundation/memoir-bot/dialogue/provider"
)

// Span is one aggregated entity returned by the endpoint.
type Span struct {
	EntityGroup string  `json:"entity_group"`
	Word        string  `json:"word"`
	Score       float64 `json:"score"`
	Start       int     `json:"start"`
	End         int     `json:"end"`
}

type Config struct {
	URL   string
	Token string
	// MinScore drops spans scored below it.
	MinScore float64
	Timeout  time.Duration
	Policy   provider.RetryPolicy
}

// HTTPTagger implements dialogue.EntityTagger against a token-classification endpoint.
type HTTPTagger struct {
	url      string
	token    string
	minScore float64
	policy   provider.RetryPolicy
	client   *http.Client
}

func NewHTTPTagger(cfg Config) (*HTTPTagger, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("ner: url is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTagger{
		url:      cfg.URL,
		token:    cfg.Token,
		minScore: cfg.MinScore,
		policy:   cfg.Policy,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Tag returns the endpoint's spans as entities with their raw labels. Type normalization is
// left to the caller.
func (t *HTTPTagger) Tag(ctx context.Context, text string) ([]dialogue.Entity, error) {
	spans, err := provider.Retry(ctx, t.policy, func(ctx context.Context) ([]Span, error) {
		return t.post(ctx, text)
	})
	if err != nil {
		return nil, fmt.Errorf("ner.Tag: %w", err)
	}

	out := make([]dialogue.Entity, 0, len(spans))
	for _, s := range spans {
		if s.Score < t.minScore {
			continue
		}
		word := cleanWord(s.Word)
		if word == "" {
			continue
		}
		out = append(out, dialogue.Entity{Text: word, Type: s.EntityGroup, Confidence: dialogue.NewScore(s.Score)})
	}
	return out, nil
}

func (t *HTTPTagger) post(ctx context.Context, text string) ([]Span, error) {
	body, err := json.Marshal(map[string]string{"inputs": text})
	if err != nil {
		return nil, fmt.Errorf("marshal ner request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create ner request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ner request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ner status %d: %s", resp.StatusCode, fileutils.Truncate(strings.TrimSpace(string(msg)), 200))
	}

	var spans []Span
	if err := json.NewDecoder(resp.Body).Decode(&spans); err != nil {
		return nil, fmt.Errorf("decode ner response: %w", err)
	}
	return spans, nil
}

// cleanWord undoes WordPiece joins that survive span aggregation.
func cleanWord(w string) string {
	w = strings.ReplaceAll(w, " ##", "")
	w = strings.TrimPrefix(w, "##")
	return strings.TrimSpace(w)
}
