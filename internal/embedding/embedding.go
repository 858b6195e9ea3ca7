// Package embedding provides the text embedding oracle used on the content
// write path. The oracle is an injected dependency; callers treat a failure
// as "no embedding" and persist content without a vector.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// ErrUnavailable is returned when the embedding backend cannot produce a vector.
var ErrUnavailable = errors.New("embedding service unavailable")

// Oracle generates fixed-dimension embeddings for text.
type Oracle interface {
	// Embed generates a vector for a single text. Deterministic for a given
	// model version. Errors wrap ErrUnavailable.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the vector dimension.
	Dimensions() int
}

// Config holds settings for the OpenAI-compatible embedding backend.
// Any provider speaking the OpenAI embeddings API works via BaseURL.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// OpenAIOracle implements Oracle against an OpenAI-compatible embeddings API.
type OpenAIOracle struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewOpenAIOracle creates an Oracle backed by the configured provider.
func NewOpenAIOracle(cfg Config) *OpenAIOracle {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIOracle{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

// Embed generates a vector for a single text.
func (o *OpenAIOracle) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrUnavailable)
	}

	req := openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(o.model),
		Dimensions: o.dimensions,
	}

	resp, err := o.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: create embeddings: %s", ErrUnavailable, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", ErrUnavailable)
	}

	vec := resp.Data[0].Embedding
	if len(vec) != o.dimensions {
		return nil, fmt.Errorf("%w: expected %d dimensions, got %d", ErrUnavailable, o.dimensions, len(vec))
	}
	return vec, nil
}

// Dimensions returns the configured vector dimension.
func (o *OpenAIOracle) Dimensions() int {
	return o.dimensions
}
