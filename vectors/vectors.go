// Package vectors provides the shared embedding space of the pipeline:
// the Embedder contract, cosine distance, and density-based clustering of
// error signatures.
package vectors

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/reproforge/reproforge/model"
)

// Dims is the dimensionality of the shared sentence-embedding space.
const Dims = 384

// Embedder maps text into the shared vector space. Model invocation is an
// opaque transform; implementations may call out to a hosted model or
// compute locally.
type Embedder interface {
	Embed(ctx context.Context, text string) (model.Vector, error)
}

// HashEmbedder is a deterministic, model-free Embedder: tokens are hashed
// into Dims buckets and the result is L2-normalized. Deployments without a
// sentence model fall back to it, and tests rely on its determinism.
type HashEmbedder struct{}

func (HashEmbedder) Embed(_ context.Context, text string) (model.Vector, error) {
	var out = make(model.Vector, Dims)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		var h = fnv.New32a()
		_, _ = h.Write([]byte(token))
		var sum = h.Sum32()

		// Sign is drawn from a high bit so that distinct token sets do not
		// collapse toward a common centroid.
		if sum&(1<<31) != 0 {
			out[sum%Dims] -= 1
		} else {
			out[sum%Dims] += 1
		}
	}
	normalize(out)
	return out, nil
}

func normalize(v model.Vector) {
	var norm float64
	for _, f := range v {
		norm += float64(f) * float64(f)
	}
	if norm == 0 {
		return
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}

// CosineDistance is 1 minus the cosine similarity of |a| and |b|. Zero
// vectors are at maximal distance from everything.
func CosineDistance(a, b model.Vector) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
