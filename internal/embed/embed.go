// Package embed turns catalog passages and search queries into dense
// vectors.
//
// The embedding model family in use (E5) is asymmetric: passages and
// queries must be tagged with their role before encoding or they land in
// incompatible regions of the vector space. Callers prepend PassagePrefix
// when indexing corpus text and QueryPrefix when encoding a search.
package embed

import "context"

// Role prefixes understood by the embedding model. The trailing space is
// part of the contract.
const (
	PassagePrefix = "passage: "
	QueryPrefix   = "query: "
)

// Embedder converts text into vectors.
type Embedder interface {
	// Embed converts a batch of texts into vectors, one per input, in
	// input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector width.
	Dimensions() int

	// Name identifies the embedder and model.
	Name() string
}
