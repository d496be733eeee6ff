package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/rcliao/memops/internal/chunker"
)

// DefaultHashDims is the vector size of the hashing embedder.
const DefaultHashDims = 512

// HashEmbedder is an offline embedder that hashes each word into one of
// dims buckets and L2-normalizes the counts. Texts sharing words have a
// positive cosine similarity; the output is deterministic.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hashing embedder. dims <= 0 uses DefaultHashDims.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDims
	}
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	vec := make(Vector, e.dims)
	for _, w := range chunker.Words(text) {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%uint32(e.dims)]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
	}
	return result(vec, fmt.Sprintf("fnv-%d", e.dims), e.Name()), nil
}

func (e *HashEmbedder) Name() string { return "hash" }

func (e *HashEmbedder) Dims() int { return e.dims }
