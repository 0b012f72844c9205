package model

import "context"

// Embedder maps texts to fixed-dimension L2-normalized vectors. One call
// embeds the whole batch so uploads and index rebuilds hit the backend once.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}
