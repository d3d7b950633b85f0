package signals

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reproforge/reproforge/harlog"
	"github.com/reproforge/reproforge/model"
	"github.com/reproforge/reproforge/vectors"
)

func sigOf(message, details string) harlog.ErrorSignature {
	return harlog.ExtractSignature(harlog.Line{Level: "ERROR", Message: message, Details: details})
}

func TestRepresentativesPicksShortestMessageAndSumsFrequency(t *testing.T) {
	var sigs = []harlog.ErrorSignature{
		sigOf("TypeError", "Cannot read 'total' of undefined"),
		sigOf("TypeError in checkout handler", "Cannot read 'total' of undefined"),
		sigOf("connection refused", "upstream 'proxy' unreachable"),
	}
	var clusters = [][]int{{0, 1}, {2}}

	var reps = Representatives(sigs, clusters)
	require.Len(t, reps, 2)

	require.Equal(t, "TypeError", reps[0].Message)
	require.Equal(t, 2, reps[0].Frequency)
	require.Equal(t, 1, reps[1].Frequency)

	// Summed representative frequency equals the input signature count.
	var total int
	for _, rep := range reps {
		total += rep.Frequency
	}
	require.Equal(t, len(sigs), total)
}

func TestRepresentativesUnionsKeyComponents(t *testing.T) {
	var sigs = []harlog.ErrorSignature{
		sigOf("TypeError", "Cannot read 'total' of undefined"),
		sigOf("TypeError", "Cannot read 'cart' of undefined in computeCart()"),
	}
	var reps = Representatives(sigs, [][]int{{0, 1}})
	require.Len(t, reps, 1)
	require.Contains(t, reps[0].KeyComponents, "total")
	require.Contains(t, reps[0].KeyComponents, "cart")
	require.Contains(t, reps[0].KeyComponents, "computeCart()")
}

func TestRepresentativesDoesNotMutateInputs(t *testing.T) {
	var sigs = []harlog.ErrorSignature{
		sigOf("TypeError", "Cannot read 'total' of undefined"),
		sigOf("TypeError", "Cannot read 'cart' of undefined"),
	}
	var beforeFirst = len(sigs[0].KeyComponents)
	var beforeSecond = len(sigs[1].KeyComponents)

	_ = Representatives(sigs, [][]int{{0, 1}})

	require.Len(t, sigs[0].KeyComponents, beforeFirst)
	require.Len(t, sigs[1].KeyComponents, beforeSecond)
	require.Equal(t, 1, sigs[0].Frequency)
	require.Equal(t, 1, sigs[1].Frequency)
}

func TestClusteringCollapsesRecurringErrors(t *testing.T) {
	// Two occurrences of the same TypeError and one unrelated network error:
	// clustering yields two representatives, with the TypeError carrying
	// frequency 2.
	var ctx = context.Background()
	var sigs = []harlog.ErrorSignature{
		sigOf("TypeError", "Cannot read properties of undefined reading total"),
		sigOf("TypeError", "Cannot read properties of undefined reading total in cart"),
		sigOf("NetworkError", "connection refused by payments upstream"),
	}

	var embedder = vectors.HashEmbedder{}
	var vecs = make([]model.Vector, len(sigs))
	for i, sig := range sigs {
		var err error
		vecs[i], err = embedder.Embed(ctx, sig.Message+" "+sig.Details)
		require.NoError(t, err)
	}

	var reps = Representatives(sigs, vectors.Cluster(vecs, 0.3, 2))
	require.Len(t, reps, 2)

	var byType = make(map[string]harlog.ErrorSignature)
	for _, rep := range reps {
		byType[rep.ErrorType] = rep
	}
	require.Equal(t, 2, byType["TypeError"].Frequency)
	require.Equal(t, 1, byType["NetworkError"].Frequency)
}
