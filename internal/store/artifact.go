package store

import (
	"fmt"
	"log"
	"os"
)

// Artifact is a derived value cached on disk: loadable from Path, and
// rebuildable from source data when the cached copy is missing, stale, or
// corrupt.
type Artifact[T any] struct {
	Path string

	// Load decodes a cached blob.
	Load func(data []byte) (T, error)

	// Validate rejects a loaded value that no longer matches its source,
	// e.g. a vector count that disagrees with the corpus. Nil means any
	// loaded value is acceptable.
	Validate func(v T) error

	// Build computes the value from source data.
	Build func() (T, error)

	// Encode serializes a built value for persistence.
	Encode func(v T) ([]byte, error)
}

// Materialize returns the artifact value. Unless force is set, a cached
// copy that loads and validates wins and no build happens. Otherwise the
// value is built, persisted atomically, and returned. An unusable cached
// copy is logged and rebuilt rather than surfaced as an error; a build
// failure leaves any previous file untouched.
//
// The returned bool reports whether the cached copy was used.
func (a Artifact[T]) Materialize(force bool) (T, bool, error) {
	var zero T

	if !force {
		data, err := os.ReadFile(a.Path)
		switch {
		case err == nil:
			v, loadErr := a.Load(data)
			if loadErr == nil && a.Validate != nil {
				loadErr = a.Validate(v)
			}
			if loadErr == nil {
				return v, true, nil
			}
			log.Printf("WARNING: cached artifact %s unusable: %v (rebuilding)", a.Path, loadErr)
		case !os.IsNotExist(err):
			log.Printf("WARNING: reading cached artifact %s: %v (rebuilding)", a.Path, err)
		}
	}

	v, err := a.Build()
	if err != nil {
		return zero, false, err
	}
	data, err := a.Encode(v)
	if err != nil {
		return zero, false, fmt.Errorf("store: encode %s: %w", a.Path, err)
	}
	if err := WriteFileAtomic(a.Path, data, 0o644); err != nil {
		return zero, false, err
	}
	return v, false, nil
}
