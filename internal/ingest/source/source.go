// Package source defines the ingestion adapters, one per source type. Each
// adapter turns a configured source into a stream of candidate articles;
// filtering, persistence and scheduling stay outside. Adapters are registered
// in a typed registry keyed by source_type.
package source

import (
	"context"
	"sort"
	"time"

	"github.com/lueurxax/newspipe/internal/core/domain"
	"github.com/lueurxax/newspipe/internal/platform/htmlutils"
)

// Candidate is one item produced by an adapter before filtering. Order is
// the item's position within its source fetch, used to keep feed order
// stable when published dates tie.
type Candidate struct {
	Title       string
	URL         string
	Content     string
	ImageURL    string
	Media       []htmlutils.Media
	PublishedAt time.Time
	Order       int
	Metadata    map[string]string
}

// Adapter is the capability contract for a source type.
type Adapter interface {
	// Kind returns the source_type this adapter serves.
	Kind() string

	// Fetch streams candidates for one source. The channel is closed when
	// the fetch completes; a nil channel with an error means the source
	// could not be read at all.
	Fetch(ctx context.Context, src *domain.Source) (<-chan Candidate, error)

	// NeedsBodyExtraction reports whether the candidate's content is a
	// teaser that requires a full article fetch.
	NeedsBodyExtraction(c *Candidate) bool
}

// Registry maps source types to adapters. No dynamic loading: every adapter
// is wired at startup.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry from the given adapters. A later adapter
// with the same kind replaces an earlier one.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}

	for _, a := range adapters {
		r.adapters[a.Kind()] = a
	}

	return r
}

// For returns the adapter for a source type.
func (r *Registry) For(sourceType string) (Adapter, bool) {
	a, ok := r.adapters[sourceType]
	return a, ok
}

// Kinds returns the registered source types, sorted.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}

	sort.Strings(kinds)

	return kinds
}

// closedCandidates returns an already-closed empty stream.
func closedCandidates() <-chan Candidate {
	ch := make(chan Candidate)
	close(ch)

	return ch
}
