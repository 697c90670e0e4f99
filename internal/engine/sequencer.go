package engine

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/alanyoungcy/quantumledger/internal/domain"
)

// sequenceNames are the id spaces created by Init.
var sequenceNames = []string{domain.SequenceMarkets, domain.SequenceProposals}

// Sequencer issues monotonically increasing ids from single-row counters.
type Sequencer struct{}

// Init creates every counter at zero. A repeated call fails with
// domain.ErrAlreadyExists.
func (Sequencer) Init(ctx context.Context, tx domain.Tx) error {
	for _, name := range sequenceNames {
		if err := tx.Entities().CreateSequence(ctx, domain.Sequence{Name: name}); err != nil {
			return fmt.Errorf("sequencer: init %s: %w", name, err)
		}
	}
	return nil
}

// IssueID returns the next id of the named counter and persists the
// incremented value.
func (Sequencer) IssueID(ctx context.Context, tx domain.Tx, name string) (uint64, error) {
	seq, err := tx.Entities().GetSequence(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("sequencer: read %s: %w", name, err)
	}
	if seq.NextID == math.MaxUint64 {
		return 0, fmt.Errorf("sequencer: advance %s: %w", name, domain.ErrOverflow)
	}
	id := seq.NextID
	seq.NextID++
	if err := tx.Entities().UpdateSequence(ctx, seq); err != nil {
		return 0, fmt.Errorf("sequencer: persist %s: %w", name, err)
	}
	return id, nil
}

func isNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }
