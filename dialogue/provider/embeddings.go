package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
)

const DefaultEmbeddingModel = string(openai.EmbeddingModelTextEmbedding3Small)

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	ModelName() string
}

type OpenAIEmbedder struct {
	Client *openai.Client
	Model  string
	Policy RetryPolicy
}

func (e OpenAIEmbedder) ModelName() string {
	if e.Model == "" {
		return DefaultEmbeddingModel
	}
	return e.Model
}

func (e OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if e.Client == nil {
		return nil, errors.New("OpenAIEmbedder: client is nil")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := Retry(ctx, e.Policy, func(ctx context.Context) (*openai.CreateEmbeddingResponse, error) {
		return e.Client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
			Model: openai.EmbeddingModel(e.ModelName()),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAIEmbedder.Embed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("OpenAIEmbedder.Embed: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("OpenAIEmbedder.Embed: index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
