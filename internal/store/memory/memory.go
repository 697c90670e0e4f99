// Package memory implements the domain substrate in process. Every
// transaction stages its writes in an overlay and publishes them only when
// the callback returns nil; transactions are serialized by a single mutex.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/quantumledger/internal/domain"
	"github.com/alanyoungcy/quantumledger/internal/keys"
)

type tokenType struct {
	authority common.Address
	supply    uint64
}

type balanceKey struct {
	token domain.TokenID
	owner common.Address
}

type state struct {
	sequences map[common.Hash]domain.Sequence
	markets   map[common.Hash]domain.Market
	deposits  map[common.Hash]domain.DepositRecord
	proposals map[common.Hash]domain.Proposal
	claims    map[common.Hash]domain.ClaimRecord
	tokens    map[domain.TokenID]tokenType
	balances  map[balanceKey]uint64
}

// Store is an in-process domain.Substrate.
type Store struct {
	mu sync.Mutex
	st state
}

// New returns an empty Store.
func New() *Store {
	return &Store{st: state{
		sequences: make(map[common.Hash]domain.Sequence),
		markets:   make(map[common.Hash]domain.Market),
		deposits:  make(map[common.Hash]domain.DepositRecord),
		proposals: make(map[common.Hash]domain.Proposal),
		claims:    make(map[common.Hash]domain.ClaimRecord),
		tokens:    make(map[domain.TokenID]tokenType),
		balances:  make(map[balanceKey]uint64),
	}}
}

// Atomically runs fn under the store mutex and commits its writes only when
// fn succeeds.
func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newTx(&s.st)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// Fund credits amount of token to owner outside any proposal authority. It
// stands in for the external issuer of deposit currencies, so issued token
// ids and tokens with a mint authority are refused.
func (s *Store) Fund(ctx context.Context, token domain.TokenID, owner common.Address, amount uint64) error {
	if keys.IsIssuedToken(token) {
		return fmt.Errorf("memory: fund %s: issued token: %w", token, domain.ErrInvalidArgument)
	}
	return s.Atomically(ctx, func(ctx context.Context, tx domain.Tx) error {
		t := tx.(*memTx)
		tt, _ := t.tokens.get(token)
		if tt.authority != (common.Address{}) {
			return fmt.Errorf("memory: fund %s: token has a mint authority: %w", token, domain.ErrUnauthorized)
		}
		supply, err := domain.CheckedAdd(tt.supply, amount)
		if err != nil {
			return fmt.Errorf("memory: fund %s: %w", token, err)
		}
		bk := balanceKey{token: token, owner: owner}
		bal, _ := t.balances.get(bk)
		next, err := domain.CheckedAdd(bal, amount)
		if err != nil {
			return fmt.Errorf("memory: fund %s: %w", token, err)
		}
		tt.supply = supply
		t.tokens.put(token, tt)
		t.balances.put(bk, next)
		return nil
	})
}

// ListProposalsBefore returns proposals created strictly before the cutoff,
// ordered by creation time then id.
func (s *Store) ListProposalsBefore(ctx context.Context, before time.Time) ([]domain.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Proposal
	for _, p := range s.st.proposals {
		if p.CreatedAt.Before(before) {
			out = append(out, cloneProposal(p))
		}
	}
	slices.SortFunc(out, func(a, b domain.Proposal) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// overlay stages writes on top of a committed map.
type overlay[K comparable, V any] struct {
	base   map[K]V
	staged map[K]V
}

func newOverlay[K comparable, V any](base map[K]V) *overlay[K, V] {
	return &overlay[K, V]{base: base, staged: make(map[K]V)}
}

func (o *overlay[K, V]) get(k K) (V, bool) {
	if v, ok := o.staged[k]; ok {
		return v, true
	}
	v, ok := o.base[k]
	return v, ok
}

func (o *overlay[K, V]) put(k K, v V) { o.staged[k] = v }

func (o *overlay[K, V]) commit() {
	for k, v := range o.staged {
		o.base[k] = v
	}
}

type memTx struct {
	sequences *overlay[common.Hash, domain.Sequence]
	markets   *overlay[common.Hash, domain.Market]
	deposits  *overlay[common.Hash, domain.DepositRecord]
	proposals *overlay[common.Hash, domain.Proposal]
	claims    *overlay[common.Hash, domain.ClaimRecord]
	tokens    *overlay[domain.TokenID, tokenType]
	balances  *overlay[balanceKey, uint64]
}

func newTx(st *state) *memTx {
	return &memTx{
		sequences: newOverlay(st.sequences),
		markets:   newOverlay(st.markets),
		deposits:  newOverlay(st.deposits),
		proposals: newOverlay(st.proposals),
		claims:    newOverlay(st.claims),
		tokens:    newOverlay(st.tokens),
		balances:  newOverlay(st.balances),
	}
}

func (t *memTx) commit() {
	t.sequences.commit()
	t.markets.commit()
	t.deposits.commit()
	t.proposals.commit()
	t.claims.commit()
	t.tokens.commit()
	t.balances.commit()
}

func (t *memTx) Entities() domain.EntityStore { return entities{t} }
func (t *memTx) Ledger() domain.TokenLedger   { return ledger{t} }

type entities struct{ t *memTx }

func (e entities) CreateSequence(_ context.Context, seq domain.Sequence) error {
	k := keys.Sequence(seq.Name)
	if _, ok := e.t.sequences.get(k); ok {
		return fmt.Errorf("memory: create sequence %s: %w", seq.Name, domain.ErrAlreadyExists)
	}
	e.t.sequences.put(k, seq)
	return nil
}

func (e entities) GetSequence(_ context.Context, name string) (domain.Sequence, error) {
	seq, ok := e.t.sequences.get(keys.Sequence(name))
	if !ok {
		return domain.Sequence{}, fmt.Errorf("memory: get sequence %s: %w", name, domain.ErrNotFound)
	}
	return seq, nil
}

func (e entities) UpdateSequence(_ context.Context, seq domain.Sequence) error {
	k := keys.Sequence(seq.Name)
	if _, ok := e.t.sequences.get(k); !ok {
		return fmt.Errorf("memory: update sequence %s: %w", seq.Name, domain.ErrNotFound)
	}
	e.t.sequences.put(k, seq)
	return nil
}

func (e entities) CreateMarket(_ context.Context, m domain.Market) error {
	k := keys.Market(m.ID)
	if _, ok := e.t.markets.get(k); ok {
		return fmt.Errorf("memory: create market %d: %w", m.ID, domain.ErrAlreadyExists)
	}
	e.t.markets.put(k, m)
	return nil
}

func (e entities) GetMarket(_ context.Context, id uint64) (domain.Market, error) {
	m, ok := e.t.markets.get(keys.Market(id))
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: get market %d: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

func (e entities) UpdateMarket(_ context.Context, m domain.Market) error {
	k := keys.Market(m.ID)
	if _, ok := e.t.markets.get(k); !ok {
		return fmt.Errorf("memory: update market %d: %w", m.ID, domain.ErrNotFound)
	}
	e.t.markets.put(k, m)
	return nil
}

func (e entities) GetDeposit(_ context.Context, marketID uint64, owner common.Address) (domain.DepositRecord, error) {
	rec, ok := e.t.deposits.get(keys.Deposit(marketID, owner))
	if !ok {
		return domain.DepositRecord{}, fmt.Errorf("memory: get deposit %d/%s: %w", marketID, owner.Hex(), domain.ErrNotFound)
	}
	return rec, nil
}

func (e entities) PutDeposit(_ context.Context, rec domain.DepositRecord) error {
	e.t.deposits.put(keys.Deposit(rec.MarketID, rec.Owner), rec)
	return nil
}

func (e entities) CreateProposal(_ context.Context, p domain.Proposal) error {
	k := keys.Proposal(p.ID)
	if _, ok := e.t.proposals.get(k); ok {
		return fmt.Errorf("memory: create proposal %d: %w", p.ID, domain.ErrAlreadyExists)
	}
	e.t.proposals.put(k, cloneProposal(p))
	return nil
}

func (e entities) GetProposal(_ context.Context, id uint64) (domain.Proposal, error) {
	p, ok := e.t.proposals.get(keys.Proposal(id))
	if !ok {
		return domain.Proposal{}, fmt.Errorf("memory: get proposal %d: %w", id, domain.ErrNotFound)
	}
	return cloneProposal(p), nil
}

func (e entities) GetClaim(_ context.Context, key domain.ClaimKey) (domain.ClaimRecord, error) {
	rec, ok := e.t.claims.get(keys.Claim(key))
	if !ok {
		return domain.ClaimRecord{}, fmt.Errorf("memory: get claim %s/%d: %w", key.Scope, key.ScopeID, domain.ErrNotFound)
	}
	return rec, nil
}

func (e entities) PutClaim(_ context.Context, rec domain.ClaimRecord) error {
	e.t.claims.put(keys.Claim(rec.Key), rec)
	return nil
}

func cloneProposal(p domain.Proposal) domain.Proposal {
	if p.Payload != nil {
		p.Payload = append([]byte(nil), p.Payload...)
	}
	return p
}

type ledger struct{ t *memTx }

func (l ledger) CreateToken(_ context.Context, token domain.TokenID, authority common.Address) error {
	if _, ok := l.t.tokens.get(token); ok {
		return fmt.Errorf("memory: create token %s: %w", token, domain.ErrAlreadyExists)
	}
	l.t.tokens.put(token, tokenType{authority: authority})
	return nil
}

func (l ledger) Mint(_ context.Context, capability domain.Capability, token domain.TokenID, to common.Address, amount uint64) error {
	if !capability.Covers(token) {
		return fmt.Errorf("memory: mint %s: %w", token, domain.ErrUnauthorized)
	}
	tt, ok := l.t.tokens.get(token)
	if !ok {
		return fmt.Errorf("memory: mint %s: %w", token, domain.ErrNotFound)
	}
	if tt.authority != capability.Vault() {
		return fmt.Errorf("memory: mint %s: %w", token, domain.ErrUnauthorized)
	}
	supply, err := domain.CheckedAdd(tt.supply, amount)
	if err != nil {
		return fmt.Errorf("memory: mint %s supply: %w", token, err)
	}
	bk := balanceKey{token: token, owner: to}
	bal, _ := l.t.balances.get(bk)
	next, err := domain.CheckedAdd(bal, amount)
	if err != nil {
		return fmt.Errorf("memory: mint %s balance: %w", token, err)
	}
	tt.supply = supply
	l.t.tokens.put(token, tt)
	l.t.balances.put(bk, next)
	return nil
}

func (l ledger) Burn(_ context.Context, token domain.TokenID, from common.Address, amount uint64) error {
	bk := balanceKey{token: token, owner: from}
	bal, _ := l.t.balances.get(bk)
	if bal < amount {
		return fmt.Errorf("memory: burn %s: %w", token, domain.ErrInsufficientBalance)
	}
	tt, ok := l.t.tokens.get(token)
	if !ok {
		return fmt.Errorf("memory: burn %s: %w", token, domain.ErrNotFound)
	}
	supply, err := domain.CheckedSub(tt.supply, amount)
	if err != nil {
		return fmt.Errorf("memory: burn %s supply: %w", token, err)
	}
	tt.supply = supply
	l.t.tokens.put(token, tt)
	l.t.balances.put(bk, bal-amount)
	return nil
}

func (l ledger) Transfer(_ context.Context, token domain.TokenID, from, to common.Address, amount uint64) error {
	src := balanceKey{token: token, owner: from}
	bal, _ := l.t.balances.get(src)
	if bal < amount {
		return fmt.Errorf("memory: transfer %s: %w", token, domain.ErrInsufficientBalance)
	}
	if from == to {
		return nil
	}
	dst := balanceKey{token: token, owner: to}
	dstBal, _ := l.t.balances.get(dst)
	next, err := domain.CheckedAdd(dstBal, amount)
	if err != nil {
		return fmt.Errorf("memory: transfer %s: %w", token, err)
	}
	l.t.balances.put(src, bal-amount)
	l.t.balances.put(dst, next)
	return nil
}

func (l ledger) TransferFromVault(ctx context.Context, capability domain.Capability, token domain.TokenID, to common.Address, amount uint64) error {
	if !capability.Covers(token) {
		return fmt.Errorf("memory: vault transfer %s: %w", token, domain.ErrUnauthorized)
	}
	return l.Transfer(ctx, token, capability.Vault(), to, amount)
}

func (l ledger) BalanceOf(_ context.Context, token domain.TokenID, owner common.Address) (uint64, error) {
	bal, _ := l.t.balances.get(balanceKey{token: token, owner: owner})
	return bal, nil
}

var (
	_ domain.Substrate      = (*Store)(nil)
	_ domain.Faucet         = (*Store)(nil)
	_ domain.ProposalLister = (*Store)(nil)
)
