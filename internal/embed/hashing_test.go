package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catsearch/internal/vecmath"
)

func TestHashing_Deterministic(t *testing.T) {
	e := NewHashing(0)

	a, err := e.Embed(context.Background(), []string{"parafuso de aço inoxidável"})
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), []string{"parafuso de aço inoxidável"})
	require.NoError(t, err)

	assert.Equal(t, a[0], b[0], "same text must produce the same vector")
}

func TestHashing_UnitNorm(t *testing.T) {
	e := NewHashing(128)

	vectors, err := e.Embed(context.Background(), []string{
		"parafuso de aço inoxidável M6",
		"cabo elétrico flexível",
	})
	require.NoError(t, err)
	for i, v := range vectors {
		norm := vecmath.Norm(v)
		assert.InDelta(t, 1.0, float64(norm), 1e-5, "vector %d norm", i)
	}
}

func TestHashing_SimilarTextsRankCloser(t *testing.T) {
	e := NewHashing(0)

	vectors, err := e.Embed(context.Background(), []string{
		QueryPrefix + "parafuso de aço",
		PassagePrefix + "parafuso de aço inoxidável M6 20mm",
		PassagePrefix + "tinta acrílica branca fosca",
	})
	require.NoError(t, err)

	query := vectors[0]
	simRelated := vecmath.Dot(query, vectors[1])
	simUnrelated := vecmath.Dot(query, vectors[2])
	assert.Greater(t, simRelated, simUnrelated,
		"shared tokens must score above disjoint tokens")
}

func TestHashing_Dimensions(t *testing.T) {
	assert.Equal(t, 384, NewHashing(0).Dimensions())
	assert.Equal(t, 256, NewHashing(256).Dimensions())

	e := NewHashing(64)
	vectors, err := e.Embed(context.Background(), []string{"qualquer texto"})
	require.NoError(t, err)
	assert.Len(t, vectors[0], 64)
}

func TestHashing_EmptyText(t *testing.T) {
	e := NewHashing(32)
	vectors, err := e.Embed(context.Background(), []string{""})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	for _, x := range vectors[0] {
		assert.Equal(t, float32(0), x)
	}
}

func TestHashing_ContextCancelled(t *testing.T) {
	e := NewHashing(32)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Embed(ctx, []string{"um", "dois"})
	assert.Error(t, err)
}

func TestTokenize(t *testing.T) {
	words := tokenize("Parafuso de AÇO, M6-20mm!")
	assert.Equal(t, []string{"parafuso", "de", "aço", "m6", "20mm"}, words)
}

func TestHashing_SignedBuckets(t *testing.T) {
	// At least one common token must land with a negative sign somewhere;
	// signed hashing is what keeps collisions unbiased.
	e := NewHashing(16)
	vectors, err := e.Embed(context.Background(), []string{"aço cabo tinta parafuso elétrico flexível"})
	require.NoError(t, err)

	hasNegative := false
	for _, x := range vectors[0] {
		if x < 0 {
			hasNegative = true
			break
		}
	}
	if !hasNegative {
		// Not a failure of the embedder contract, but worth noticing if the
		// hash distribution ever degenerates.
		t.Log("no negative buckets for sample tokens")
	}
	assert.InDelta(t, 1.0, float64(vecmath.Norm(vectors[0])), 1e-5)
}

func TestHashing_Name(t *testing.T) {
	assert.Equal(t, "hash", NewHashing(0).Name())
}

func TestHashing_DisjointTextsNearZero(t *testing.T) {
	e := NewHashing(0)
	vectors, err := e.Embed(context.Background(), []string{
		"cadeira giratória escritório",
		"luva nitrílica descartável",
	})
	require.NoError(t, err)

	sim := vecmath.Dot(vectors[0], vectors[1])
	assert.Less(t, math.Abs(float64(sim)), 0.5,
		"vectors with no shared tokens should not be strongly correlated")
}
