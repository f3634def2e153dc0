// Package vector resolves free-text entity mentions (location, developer,
// and project names) to canonical store IDs via nearest-neighbor semantic
// search against per-kind collections.
//
// The Searcher and Embedder seams keep the resolver testable without a
// running vector database; production wiring uses the Qdrant client and the
// LLM provider's embeddings.
package vector

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Collection names, one per entity kind.
const (
	CollectionLocations  = "Locations"
	CollectionDevelopers = "Developers"
	CollectionProjects   = "Projects"
)

// DefaultCertainty is the resolution confidence floor: a nearest neighbor
// scoring below it yields a nil slot instead of a wrong ID.
const DefaultCertainty = 0.70

// DefaultTimeout bounds one name's embed-plus-lookup round trip.
const DefaultTimeout = 30 * time.Second

// Match is a single nearest-neighbor hit.
type Match struct {
	ID        string
	Certainty float32
}

// Searcher performs a k=1 nearest-neighbor lookup in a named collection.
// A nil result with nil error means the collection had no neighbor at all.
type Searcher interface {
	NearestNeighbor(ctx context.Context, collection string, vector []float32) (*Match, error)
}

// Embedder turns a text into its embedding vector. llm.Client satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Resolver maps ordered name lists to equally long ID lists. Lookups are
// independent per name: one failing mention nils its own slot and never
// aborts the others.
type Resolver struct {
	Searcher  Searcher
	Embedder  Embedder
	Certainty float32

	// Timeout bounds each name's embed-plus-lookup round trip.
	Timeout time.Duration
}

// NewResolver constructs a Resolver; certainty <= 0 and timeout <= 0 select
// the defaults.
func NewResolver(s Searcher, e Embedder, certainty float32, timeout time.Duration) *Resolver {
	if certainty <= 0 {
		certainty = DefaultCertainty
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{Searcher: s, Embedder: e, Certainty: certainty, Timeout: timeout}
}

// ResolveLocations resolves location names against the Locations collection.
func (r *Resolver) ResolveLocations(ctx context.Context, names []string) ([]*string, error) {
	return r.resolve(ctx, CollectionLocations, names)
}

// ResolveDevelopers resolves developer names against the Developers collection.
func (r *Resolver) ResolveDevelopers(ctx context.Context, names []string) ([]*string, error) {
	return r.resolve(ctx, CollectionDevelopers, names)
}

// ResolveProjects resolves project names against the Projects collection.
func (r *Resolver) ResolveProjects(ctx context.Context, names []string) ([]*string, error) {
	return r.resolve(ctx, CollectionProjects, names)
}

// resolve returns one slot per input name: the matched ID, or nil when the
// lookup failed, timed out, found nothing, or scored below the certainty
// floor. An empty input returns an empty output without touching the
// collaborators. The only terminal error is cancellation of the caller's
// context.
func (r *Resolver) resolve(ctx context.Context, collection string, names []string) ([]*string, error) {
	out := make([]*string, len(names))
	if len(names) == 0 {
		return out, nil
	}

	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if m := r.lookup(ctx, collection, name); m != nil {
			id := m.ID
			out[i] = &id
		}
	}
	return out, nil
}

// lookup runs one name's embed-plus-nearest-neighbor round trip under the
// configured deadline. Any failure, timeout included, yields nil.
func (r *Resolver) lookup(ctx context.Context, collection, name string) *Match {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	vec, err := r.Embedder.Embed(ctx, name)
	if err != nil {
		log.Warn().Err(err).Str("collection", collection).Str("name", name).Msg("embedding failed, slot unresolved")
		return nil
	}

	m, err := r.Searcher.NearestNeighbor(ctx, collection, vec)
	if err != nil {
		log.Warn().Err(err).Str("collection", collection).Str("name", name).Msg("lookup failed, slot unresolved")
		return nil
	}
	if m == nil || m.Certainty < r.Certainty {
		return nil
	}
	return m
}
