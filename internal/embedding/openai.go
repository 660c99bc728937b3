// Package embedding provides the optional embedding service consumed by
// the Indexer Builder and Query Engine: isEnabled() / embed().
package embedding

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
)

// Service wraps go-openai's embeddings endpoint to satisfy both
// builder.EmbeddingService and query.Embedder.
type Service struct {
	Client *openai.Client
	Model openai.EmbeddingModel
	enabled bool
}

func NewService(client *openai.Client, model openai.EmbeddingModel) *Service {
	return &Service{Client: client, Model: model, enabled: client != nil}
}

func (s *Service) IsEnabled() bool { return s.enabled && s.Client != nil }

func (s *Service) SetEnabled(enabled bool) { s.enabled = enabled }

func (s *Service) Embed(texts []string) ([][]float32, error) {
	resp, err := s.Client.CreateEmbeddings(context.Background(), openai.EmbeddingRequest{
		Input: texts,
		Model: s.Model,
	})
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// EmbedQuery embeds a single query string for the hybrid blend.
func (s *Service) EmbedQuery(text string) ([]float32, error) {
	vecs, err := s.Embed([]string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, errNoEmbeddings
	}
	return vecs[0], nil
}

type embeddingError string

func (e embeddingError) Error() string { return string(e) }

const errNoEmbeddings = embeddingError("embedding: no vectors returned")
