// Package embedding provides the embedding clients used to backfill entity vectors.
package embedding

import (
	"context"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
