// Package classifier applies a pre-fitted TF-IDF vectorizer and linear emotion model exported
// as JSON. It only predicts; fitting happens elsewhere.
package classifier

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/theimaginaryfoundation/memoir-bot/dialogue/fileutils"
)

// Vectorizer is the exported state of a fitted TF-IDF vectorizer.
type Vectorizer struct {
	Vocabulary  map[string]int `json:"vocabulary"`
	IDF         []float64      `json:"idf"`
	NgramRange  [2]int         `json:"ngram_range"`
	Lowercase   bool           `json:"lowercase"`
	SublinearTF bool           `json:"sublinear_tf"`
	// Norm is "l2", "l1" or empty for none.
	Norm string `json:"norm"`
}

// Model is a linear one-vs-rest model. A binary model has one coefficient row that scores
// Classes[1] against Classes[0].
type Model struct {
	Classes   []string    `json:"classes"`
	Coef      [][]float64 `json:"coef"`
	Intercept []float64   `json:"intercept"`
}

type Artifact struct {
	Vectorizer Vectorizer `json:"vectorizer"`
	Model      Model      `json:"model"`
}

// Classifier predicts one label per text. It is read-only after Load and safe to share.
type Classifier struct {
	vec   Vectorizer
	model Model
}

var tokenRE = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

func Load(path string) (*Classifier, error) {
	var a Artifact
	if err := fileutils.ReadJSONFile(path, &a); err != nil {
		return nil, fmt.Errorf("classifier.Load: %w", err)
	}
	c, err := New(a)
	if err != nil {
		return nil, fmt.Errorf("classifier.Load: %s: %w", path, err)
	}
	return c, nil
}

// New validates the artifact shapes.
func New(a Artifact) (*Classifier, error) {
	v, m := a.Vectorizer, a.Model
	if len(v.Vocabulary) == 0 {
		return nil, errors.New("empty vocabulary")
	}
	if len(v.IDF) != len(v.Vocabulary) {
		return nil, fmt.Errorf("idf has %d weights for %d terms", len(v.IDF), len(v.Vocabulary))
	}
	for term, col := range v.Vocabulary {
		if col < 0 || col >= len(v.IDF) {
			return nil, fmt.Errorf("term %q column %d out of range", term, col)
		}
	}
	if v.NgramRange == [2]int{} {
		v.NgramRange = [2]int{1, 1}
	}
	if v.NgramRange[0] < 1 || v.NgramRange[1] < v.NgramRange[0] {
		return nil, fmt.Errorf("bad ngram_range %v", v.NgramRange)
	}
	switch v.Norm {
	case "", "l1", "l2":
	default:
		return nil, fmt.Errorf("unsupported norm %q", v.Norm)
	}

	if len(m.Classes) < 2 {
		return nil, fmt.Errorf("need at least 2 classes, got %d", len(m.Classes))
	}
	wantRows := len(m.Classes)
	if len(m.Classes) == 2 {
		wantRows = 1
	}
	if len(m.Coef) != wantRows || len(m.Intercept) != wantRows {
		return nil, fmt.Errorf("coef/intercept rows %d/%d, want %d", len(m.Coef), len(m.Intercept), wantRows)
	}
	for i, row := range m.Coef {
		if len(row) != len(v.IDF) {
			return nil, fmt.Errorf("coef row %d has %d weights, want %d", i, len(row), len(v.IDF))
		}
	}
	return &Classifier{vec: v, model: m}, nil
}

func (c *Classifier) Classes() []string {
	return append([]string(nil), c.model.Classes...)
}

// Predict returns the highest-scoring class for text. Text with no known term still gets a
// label from the intercepts alone.
func (c *Classifier) Predict(text string) (string, error) {
	if c == nil {
		return "", errors.New("classifier: nil classifier")
	}
	x := c.vec.transform(text)
	m := c.model

	if len(m.Coef) == 1 {
		if dot(x, m.Coef[0])+m.Intercept[0] > 0 {
			return m.Classes[1], nil
		}
		return m.Classes[0], nil
	}

	best, bestScore := 0, math.Inf(-1)
	for i, row := range m.Coef {
		s := dot(x, row) + m.Intercept[i]
		if s > bestScore {
			best, bestScore = i, s
		}
	}
	return m.Classes[best], nil
}

func (v Vectorizer) tokens(text string) []string {
	if v.Lowercase {
		text = strings.ToLower(text)
	}
	return tokenRE.FindAllString(text, -1)
}

// transform returns the sparse TF-IDF row for text as column → weight.
func (v Vectorizer) transform(text string) map[int]float64 {
	toks := v.tokens(text)
	counts := map[int]float64{}
	for n := v.NgramRange[0]; n <= v.NgramRange[1]; n++ {
		for i := 0; i+n <= len(toks); i++ {
			term := toks[i]
			if n > 1 {
				term = strings.Join(toks[i:i+n], " ")
			}
			if col, ok := v.Vocabulary[term]; ok {
				counts[col]++
			}
		}
	}

	var norm float64
	for col, tf := range counts {
		if v.SublinearTF {
			tf = 1 + math.Log(tf)
		}
		w := tf * v.IDF[col]
		counts[col] = w
		switch v.Norm {
		case "l2":
			norm += w * w
		case "l1":
			norm += math.Abs(w)
		}
	}
	if v.Norm == "l2" {
		norm = math.Sqrt(norm)
	}
	if v.Norm != "" && norm > 0 {
		for col := range counts {
			counts[col] /= norm
		}
	}
	return counts
}

func dot(x map[int]float64, row []float64) float64 {
	var s float64
	for col, w := range x {
		s += w * row[col]
	}
	return s
}
