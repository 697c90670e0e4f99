package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/quantumledger/internal/domain"
	"github.com/alanyoungcy/quantumledger/internal/keys"
	"github.com/alanyoungcy/quantumledger/internal/store/memory"
)

var owner = common.HexToAddress("0x0000000000000000000000000000000000000001")

func proposal(id uint64) domain.Proposal {
	return domain.Proposal{
		ID:          id,
		StableToken: keys.StableToken(id),
		YesToken:    keys.YesToken(id),
		NoToken:     keys.NoToken(id),
		Vault:       keys.ProposalVault(id),
		CreatedAt:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestAtomicallyDiscardsOnError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()
	boom := errors.New("boom")

	err := s.Atomically(ctx, func(ctx context.Context, tx domain.Tx) error {
		require.NoError(t, tx.Entities().CreateSequence(ctx, domain.Sequence{Name: "market"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.Atomically(ctx, func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Entities().GetSequence(ctx, "market")
		return err
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAtomicallyReadsOwnWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()

	require.NoError(t, s.Atomically(ctx, func(ctx context.Context, tx domain.Tx) error {
		require.NoError(t, tx.Entities().CreateSequence(ctx, domain.Sequence{Name: "market"}))
		require.NoError(t, tx.Entities().UpdateSequence(ctx, domain.Sequence{Name: "market", NextID: 4}))
		seq, err := tx.Entities().GetSequence(ctx, "market")
		assert.Equal(t, uint64(4), seq.NextID)
		return err
	}))
}

func TestAtomicallyCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := memory.New().Atomically(ctx, func(context.Context, domain.Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestMintRequiresCoveringCapability(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()
	p0, p1 := proposal(0), proposal(1)

	err := s.Atomically(ctx, func(ctx context.Context, tx domain.Tx) error {
		for _, p := range []domain.Proposal{p0, p1} {
			for _, tok := range p.Tokens() {
				require.NoError(t, tx.Ledger().CreateToken(ctx, tok, p.Vault))
			}
		}
		assert.ErrorIs(t, tx.Ledger().Mint(ctx, domain.GrantProposalCapability(p0), p1.YesToken, owner, 1), domain.ErrUnauthorized)
		assert.ErrorIs(t, tx.Ledger().Mint(ctx, domain.Capability{}, p0.YesToken, owner, 1), domain.ErrUnauthorized)
		assert.ErrorIs(t, tx.Ledger().TransferFromVault(ctx, domain.GrantProposalCapability(p1), p0.StableToken, owner, 0), domain.ErrUnauthorized)
		return tx.Ledger().Mint(ctx, domain.GrantProposalCapability(p0), p0.YesToken, owner, 5)
	})
	require.NoError(t, err)

	require.NoError(t, s.Atomically(ctx, func(ctx context.Context, tx domain.Tx) error {
		bal, err := tx.Ledger().BalanceOf(ctx, p0.YesToken, owner)
		assert.Equal(t, uint64(5), bal)
		return err
	}))
}

func TestBurnAndTransferShortfall(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.Fund(ctx, "usdc", owner, 3))

	err := s.Atomically(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Ledger().Transfer(ctx, "usdc", owner, common.Address{1}, 4)
	})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	err = s.Atomically(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Ledger().Burn(ctx, "usdc", owner, 4)
	})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestFundOverflow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()

	require.NoError(t, s.Fund(ctx, "usdc", owner, ^uint64(0)))
	require.ErrorIs(t, s.Fund(ctx, "usdc", owner, 1), domain.ErrOverflow)
}

func TestFundRefusesIssuedTokens(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()

	require.ErrorIs(t, s.Fund(ctx, keys.YesToken(0), owner, 1), domain.ErrInvalidArgument)

	vault := common.Address{9}
	require.NoError(t, s.Atomically(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Ledger().CreateToken(ctx, "gov", vault)
	}))
	require.ErrorIs(t, s.Fund(ctx, "gov", owner, 1), domain.ErrUnauthorized)

	var bal uint64
	require.NoError(t, s.Atomically(ctx, func(ctx context.Context, tx domain.Tx) (err error) {
		bal, err = tx.Ledger().BalanceOf(ctx, "gov", owner)
		return err
	}))
	assert.Zero(t, bal)
}

func TestProposalPayloadIsCopied(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()
	p := proposal(0)
	p.Payload = []byte("abc")

	require.NoError(t, s.Atomically(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Entities().CreateProposal(ctx, p)
	}))
	p.Payload[0] = 'x'

	list, err := s.ListProposalsBefore(ctx, p.CreatedAt.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []byte("abc"), list[0].Payload)

	list, err = s.ListProposalsBefore(ctx, p.CreatedAt)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestListProposalsBeforeIsOrdered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	created := map[uint64]time.Time{
		4: base.Add(time.Hour),
		1: base.Add(2 * time.Hour),
		3: base,
		0: base.Add(time.Hour),
		2: base.Add(48 * time.Hour),
	}
	require.NoError(t, s.Atomically(ctx, func(ctx context.Context, tx domain.Tx) error {
		for id, at := range created {
			p := proposal(id)
			p.CreatedAt = at
			if err := tx.Entities().CreateProposal(ctx, p); err != nil {
				return err
			}
		}
		return nil
	}))

	list, err := s.ListProposalsBefore(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	ids := make([]uint64, 0, len(list))
	for _, p := range list {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []uint64{3, 0, 4, 1}, ids)
}

func TestConcurrentTransfersConserveSupply(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()

	a, b := common.Address{0xa}, common.Address{0xb}
	require.NoError(t, s.Fund(ctx, "usdc", a, 50))
	require.NoError(t, s.Fund(ctx, "usdc", b, 50))

	var g errgroup.Group
	for i := 0; i < 100; i++ {
		from, to := a, b
		if i%2 == 1 {
			from, to = b, a
		}
		g.Go(func() error {
			err := s.Atomically(ctx, func(ctx context.Context, tx domain.Tx) error {
				return tx.Ledger().Transfer(ctx, "usdc", from, to, uint64(i%7+1))
			})
			if errors.Is(err, domain.ErrInsufficientBalance) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	var balA, balB uint64
	require.NoError(t, s.Atomically(ctx, func(ctx context.Context, tx domain.Tx) (err error) {
		if balA, err = tx.Ledger().BalanceOf(ctx, "usdc", a); err != nil {
			return err
		}
		balB, err = tx.Ledger().BalanceOf(ctx, "usdc", b)
		return err
	}))
	assert.Equal(t, uint64(100), balA+balB)
}
