package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quantumledger/internal/domain"
	"github.com/alanyoungcy/quantumledger/internal/engine"
)

func TestClaimCatchUp(t *testing.T) {
	t.Parallel()
	h := newHarness(t, engine.Options{})

	m := h.market(9)
	h.deposit(m.ID, alice, 9)
	p := h.propose(m.ID, alice)

	_, err := h.claim(p.ID, alice)
	require.ErrorIs(t, err, domain.ErrNothingToClaim)

	h.deposit(m.ID, alice, 7)
	minted, err := h.claim(p.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), minted)
	assert.Equal(t, uint64(7), h.balance(p.StableToken, alice))

	_, err = h.claim(p.ID, alice)
	require.ErrorIs(t, err, domain.ErrNothingToClaim)

	h.deposit(m.ID, alice, 2)
	minted, err = h.claim(p.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), minted)

	// Claims never consume deposit.
	assert.Equal(t, uint64(9), h.depositBalance(m.ID, alice))
}

func TestClaimBelowWatermark(t *testing.T) {
	t.Parallel()
	h := newHarness(t, engine.Options{})

	m := h.market(9)
	h.deposit(m.ID, alice, 9)
	a := h.propose(m.ID, alice)
	h.deposit(m.ID, alice, 9)
	_, err := h.claim(a.ID, alice)
	require.NoError(t, err)

	// A second proposal consumes the balance the watermark was set against.
	h.propose(m.ID, alice)
	_, err = h.claim(a.ID, alice)
	require.ErrorIs(t, err, domain.ErrOverflow)
}

// crossProposal deposits 9, proposes A, deposits 9, proposes B, deposits 9
// and claims A then B.
func crossProposal(t *testing.T, scope domain.ClaimScope) (*harness, domain.Proposal, domain.Proposal, error, error) {
	t.Helper()
	h := newHarness(t, engine.Options{ClaimScope: scope})

	m := h.market(9)
	h.deposit(m.ID, alice, 9)
	a := h.propose(m.ID, alice)
	require.Equal(t, uint64(0), h.depositBalance(m.ID, alice))
	h.deposit(m.ID, alice, 9)
	b := h.propose(m.ID, alice)
	require.Equal(t, uint64(0), h.depositBalance(m.ID, alice))
	h.deposit(m.ID, alice, 9)

	mintedA, errA := h.claim(a.ID, alice)
	if errA == nil {
		assert.Equal(t, uint64(9), mintedA)
	}
	mintedB, errB := h.claim(b.ID, alice)
	if errB == nil {
		assert.Equal(t, uint64(9), mintedB)
	}
	return h, a, b, errA, errB
}

func TestClaimFanOutProposalScope(t *testing.T) {
	t.Parallel()
	h, a, b, errA, errB := crossProposal(t, domain.ClaimScopeProposal)

	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, uint64(9), h.balance(a.StableToken, alice))
	assert.Equal(t, uint64(9), h.balance(b.StableToken, alice))
}

func TestClaimFanOutMarketScope(t *testing.T) {
	t.Parallel()
	h, a, b, errA, errB := crossProposal(t, domain.ClaimScopeMarket)

	require.NoError(t, errA)
	require.ErrorIs(t, errB, domain.ErrNothingToClaim)
	assert.Equal(t, uint64(9), h.balance(a.StableToken, alice))
	assert.Equal(t, uint64(0), h.balance(b.StableToken, alice))
}

func TestClaimUnknownProposal(t *testing.T) {
	t.Parallel()
	h := newHarness(t, engine.Options{})

	_, err := h.claim(42, alice)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestScenario(t *testing.T) {
	t.Parallel()
	h := newHarness(t, engine.Options{})

	m := h.market(9)
	require.Equal(t, uint64(0), m.ID)
	require.Equal(t, uint64(9), h.deposit(m.ID, alice, 9))
	p := h.propose(m.ID, alice)
	require.Equal(t, uint64(0), p.ID)
	assert.Equal(t, uint64(0), h.depositBalance(m.ID, alice))

	// Fund alice's stable balance through a claim on fresh deposit.
	h.deposit(m.ID, alice, 2)
	_, err := h.claim(p.ID, alice)
	require.NoError(t, err)
	stableBefore := h.balance(p.StableToken, alice)
	require.Equal(t, uint64(2), stableBefore)

	h.run(func(tx domain.Tx) error {
		_, _, err := h.eng.Issuance.ExchangeStableForPair(h.ctx, tx, p.ID, alice, 2)
		return err
	})
	assert.Equal(t, uint64(5), h.balance(p.YesToken, alice))
	assert.Equal(t, uint64(5), h.balance(p.NoToken, alice))
	assert.Equal(t, uint64(5), h.balance(p.StableToken, p.Vault))

	h.run(func(tx domain.Tx) error {
		_, err := h.eng.Issuance.ExchangePairForStable(h.ctx, tx, p.ID, alice, 2)
		return err
	})
	assert.Equal(t, uint64(3), h.balance(p.YesToken, alice))
	assert.Equal(t, uint64(3), h.balance(p.NoToken, alice))
	assert.Equal(t, uint64(3), h.balance(p.StableToken, p.Vault))
	assert.Equal(t, stableBefore, h.balance(p.StableToken, alice))
}
