package engine

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/quantumledger/internal/domain"
)

// ProposalRegistry persists proposals. Proposals are immutable once created.
type ProposalRegistry struct {
	seq Sequencer
}

// NextID reserves the id of the next proposal.
func (r ProposalRegistry) NextID(ctx context.Context, tx domain.Tx) (uint64, error) {
	id, err := r.seq.IssueID(ctx, tx, domain.SequenceProposals)
	if err != nil {
		return 0, fmt.Errorf("proposals: %w", err)
	}
	return id, nil
}

// Create persists p.
func (r ProposalRegistry) Create(ctx context.Context, tx domain.Tx, p domain.Proposal) error {
	if len(p.Payload) > domain.MaxPayloadLen {
		return fmt.Errorf("proposals: payload is %d bytes, max %d: %w",
			len(p.Payload), domain.MaxPayloadLen, domain.ErrInvalidArgument)
	}
	if err := tx.Entities().CreateProposal(ctx, p); err != nil {
		return fmt.Errorf("proposals: create %d: %w", p.ID, err)
	}
	return nil
}

// Get reads a proposal.
func (r ProposalRegistry) Get(ctx context.Context, tx domain.Tx, id uint64) (domain.Proposal, error) {
	p, err := tx.Entities().GetProposal(ctx, id)
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("proposals: get %d: %w", id, err)
	}
	return p, nil
}
