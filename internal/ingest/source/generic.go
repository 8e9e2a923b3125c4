package source

import (
	"context"

	"github.com/lueurxax/newspipe/internal/core/domain"
)

// Generic is the passive adapter: items arrive through the push API, so a
// scheduled fetch has nothing to do.
type Generic struct{}

// NewGeneric creates the passive adapter.
func NewGeneric() *Generic { return &Generic{} }

func (*Generic) Kind() string { return domain.SourceTypeGeneric }

func (*Generic) Fetch(_ context.Context, _ *domain.Source) (<-chan Candidate, error) {
	return closedCandidates(), nil
}

func (*Generic) NeedsBodyExtraction(_ *Candidate) bool { return false }
