package embedding

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/agenthands/fusion/internal/cache"
)

// CachedClient memoizes embeddings per model and text.
type CachedClient struct {
	next  Embedder
	cache cache.Cache
	ttl   time.Duration
	model string
}

func NewCachedClient(next Embedder, c cache.Cache, model string, ttl time.Duration) *CachedClient {
	return &CachedClient{next: next, cache: c, ttl: ttl, model: model}
}

func (c *CachedClient) key(text string) string {
	h := xxhash.New()
	_, _ = h.WriteString(c.model)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(text)
	return "emb:" + strconv.FormatUint(h.Sum64(), 16)
}

func (c *CachedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if data, err := c.cache.Get(ctx, key); err == nil {
		if vec, ok := decodeVector(data); ok {
			return vec, nil
		}
	}

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	// cache failures only cost a recomputation
	_ = c.cache.Set(ctx, key, encodeVector(vec), c.ttl)
	return vec, nil
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, bool) {
	if len(data)%4 != 0 {
		return nil, false
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return vec, true
}
