package engine

import (
	"errors"

	"catsearch/internal/catalog"
)

// Taxonomy of retrieval failures. Corpus problems surface the catalog
// sentinels unchanged so callers have one place to check.
var (
	// ErrNotInitialized reports a query against an engine whose Initialize
	// has not completed.
	ErrNotInitialized = errors.New("engine: not initialized, run Initialize first")

	// ErrIndexBuild reports that the similarity index could not be built.
	ErrIndexBuild = errors.New("engine: index build failed")

	// ErrIndexCorruption reports an ordinal from the index that does not
	// exist in the catalog; the artifacts no longer describe the same
	// corpus.
	ErrIndexCorruption = errors.New("engine: index out of sync with catalog")

	ErrCorpusUnreadable = catalog.ErrCorpusUnreadable
	ErrSchema           = catalog.ErrSchema
)
