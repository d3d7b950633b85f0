package vectors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reproforge/reproforge/model"
)

func TestHashEmbedderIsDeterministicAndNormalized(t *testing.T) {
	var ctx = context.Background()
	var e = HashEmbedder{}

	a, err := e.Embed(ctx, "TypeError cannot read properties of undefined")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "TypeError cannot read properties of undefined")
	require.NoError(t, err)

	require.Len(t, a, Dims)
	require.Equal(t, a, b)

	var norm float64
	for _, f := range a {
		norm += float64(f) * float64(f)
	}
	require.InDelta(t, 1.0, norm, 1e-6)
}

func TestCosineDistance(t *testing.T) {
	var a = model.Vector{1, 0, 0}
	var b = model.Vector{0, 1, 0}
	var zero = model.Vector{0, 0, 0}

	require.InDelta(t, 0.0, CosineDistance(a, a), 1e-9)
	require.InDelta(t, 1.0, CosineDistance(a, b), 1e-9)
	require.Equal(t, 1.0, CosineDistance(a, zero))
	require.Equal(t, 1.0, CosineDistance(zero, zero))
}

func TestClusterGroupsNearbyPoints(t *testing.T) {
	// Two tight groups plus one outlier.
	var vecs = []model.Vector{
		{1, 0, 0},
		{0.99, 0.01, 0},
		{0, 1, 0},
		{0.01, 0.99, 0},
		{0, 0, 1},
	}
	var clusters = Cluster(vecs, 0.3, 2)
	require.Len(t, clusters, 3)
	require.Equal(t, []int{0, 1}, clusters[0])
	require.Equal(t, []int{2, 3}, clusters[1])
	require.Equal(t, []int{4}, clusters[2])
}

func TestClusterEveryIndexAppearsExactlyOnce(t *testing.T) {
	var ctx = context.Background()
	var e = HashEmbedder{}
	var texts = []string{
		"TypeError cannot read properties of undefined",
		"TypeError cannot read properties of undefined reading total",
		"connection refused by upstream proxy",
		"database timeout during checkout",
		"completely unrelated message",
	}
	var vecs = make([]model.Vector, len(texts))
	for i, text := range texts {
		var err error
		vecs[i], err = e.Embed(ctx, text)
		require.NoError(t, err)
	}

	var seen = make(map[int]int)
	for _, cluster := range Cluster(vecs, 0.3, 2) {
		require.NotEmpty(t, cluster)
		for _, i := range cluster {
			seen[i]++
		}
	}
	require.Len(t, seen, len(vecs))
	for i, count := range seen {
		require.Equal(t, 1, count, "index %d", i)
	}
}

func TestClusterAllNoiseYieldsSingletons(t *testing.T) {
	var vecs = []model.Vector{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
	var clusters = Cluster(vecs, 0.1, 2)
	require.Len(t, clusters, 3)
	for i, cluster := range clusters {
		require.Equal(t, []int{i}, cluster)
	}
}
