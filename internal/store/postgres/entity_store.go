package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/quantumledger/internal/domain"
	"github.com/alanyoungcy/quantumledger/internal/keys"
)

// EntityStore implements domain.EntityStore inside one transaction.
type EntityStore struct {
	q querier
}

func (s *EntityStore) CreateSequence(ctx context.Context, seq domain.Sequence) error {
	const query = `
		INSERT INTO sequences (key, name, next_id) VALUES ($1, $2, $3::numeric)
		ON CONFLICT (key) DO NOTHING`
	tag, err := s.q.Exec(ctx, query, keys.Sequence(seq.Name).Bytes(), seq.Name, u64(seq.NextID))
	if err != nil {
		return fmt.Errorf("postgres: create sequence %s: %w", seq.Name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: create sequence %s: %w", seq.Name, domain.ErrAlreadyExists)
	}
	return nil
}

func (s *EntityStore) GetSequence(ctx context.Context, name string) (domain.Sequence, error) {
	const query = `SELECT next_id::text FROM sequences WHERE key = $1 FOR UPDATE`
	var next string
	if err := s.q.QueryRow(ctx, query, keys.Sequence(name).Bytes()).Scan(&next); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Sequence{}, fmt.Errorf("postgres: get sequence %s: %w", name, domain.ErrNotFound)
		}
		return domain.Sequence{}, fmt.Errorf("postgres: get sequence %s: %w", name, err)
	}
	v, err := parseU64(next)
	if err != nil {
		return domain.Sequence{}, err
	}
	return domain.Sequence{Name: name, NextID: v}, nil
}

func (s *EntityStore) UpdateSequence(ctx context.Context, seq domain.Sequence) error {
	const query = `UPDATE sequences SET next_id = $2::numeric WHERE key = $1`
	tag, err := s.q.Exec(ctx, query, keys.Sequence(seq.Name).Bytes(), u64(seq.NextID))
	if err != nil {
		return fmt.Errorf("postgres: update sequence %s: %w", seq.Name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update sequence %s: %w", seq.Name, domain.ErrNotFound)
	}
	return nil
}

func (s *EntityStore) CreateMarket(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			key, id, created_at, min_deposit, strike_price,
			creator, deposit_token, resolver, vault, status,
			title, accepted_proposal
		) VALUES (
			$1, $2::numeric, $3, $4::numeric, $5::numeric,
			$6, $7, $8, $9, $10,
			$11, $12::numeric
		)
		ON CONFLICT (key) DO NOTHING`
	tag, err := s.q.Exec(ctx, query,
		keys.Market(m.ID).Bytes(), u64(m.ID), m.CreatedAt, u64(m.MinDeposit), u64(m.StrikePrice),
		m.Creator.Bytes(), string(m.DepositToken), m.Resolver.Bytes(), m.Vault.Bytes(), string(m.Status),
		m.Title, optU64(m.AcceptedProposal),
	)
	if err != nil {
		return fmt.Errorf("postgres: create market %d: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: create market %d: %w", m.ID, domain.ErrAlreadyExists)
	}
	return nil
}

func (s *EntityStore) GetMarket(ctx context.Context, id uint64) (domain.Market, error) {
	const query = `
		SELECT id::text, created_at, min_deposit::text, strike_price::text,
		       creator, deposit_token, resolver, vault, status,
		       title, accepted_proposal::text
		FROM markets WHERE key = $1 FOR UPDATE`

	var (
		m                           domain.Market
		idText, minText, strikeText string
		creator, resolver, vault    []byte
		depositToken, status        string
		accepted                    *string
	)
	err := s.q.QueryRow(ctx, query, keys.Market(id).Bytes()).Scan(
		&idText, &m.CreatedAt, &minText, &strikeText,
		&creator, &depositToken, &resolver, &vault, &status,
		&m.Title, &accepted,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, domain.ErrNotFound)
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}

	if m.ID, err = parseU64(idText); err != nil {
		return domain.Market{}, err
	}
	if m.MinDeposit, err = parseU64(minText); err != nil {
		return domain.Market{}, err
	}
	if m.StrikePrice, err = parseU64(strikeText); err != nil {
		return domain.Market{}, err
	}
	if accepted != nil {
		v, err := parseU64(*accepted)
		if err != nil {
			return domain.Market{}, err
		}
		m.AcceptedProposal = &v
	}
	m.Creator = common.BytesToAddress(creator)
	m.Resolver = common.BytesToAddress(resolver)
	m.Vault = common.BytesToAddress(vault)
	m.DepositToken = domain.TokenID(depositToken)
	m.Status = domain.MarketStatus(status)
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

func (s *EntityStore) UpdateMarket(ctx context.Context, m domain.Market) error {
	const query = `
		UPDATE markets SET status = $2, accepted_proposal = $3::numeric, title = $4
		WHERE key = $1`
	tag, err := s.q.Exec(ctx, query, keys.Market(m.ID).Bytes(), string(m.Status), optU64(m.AcceptedProposal), m.Title)
	if err != nil {
		return fmt.Errorf("postgres: update market %d: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update market %d: %w", m.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *EntityStore) GetDeposit(ctx context.Context, marketID uint64, owner common.Address) (domain.DepositRecord, error) {
	const query = `SELECT amount::text FROM deposits WHERE key = $1 FOR UPDATE`
	var amount string
	if err := s.q.QueryRow(ctx, query, keys.Deposit(marketID, owner).Bytes()).Scan(&amount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DepositRecord{}, fmt.Errorf("postgres: get deposit %d/%s: %w", marketID, owner.Hex(), domain.ErrNotFound)
		}
		return domain.DepositRecord{}, fmt.Errorf("postgres: get deposit %d/%s: %w", marketID, owner.Hex(), err)
	}
	v, err := parseU64(amount)
	if err != nil {
		return domain.DepositRecord{}, err
	}
	return domain.DepositRecord{MarketID: marketID, Owner: owner, Amount: v}, nil
}

func (s *EntityStore) PutDeposit(ctx context.Context, rec domain.DepositRecord) error {
	const query = `
		INSERT INTO deposits (key, market_id, owner, amount) VALUES ($1, $2::numeric, $3, $4::numeric)
		ON CONFLICT (key) DO UPDATE SET amount = EXCLUDED.amount`
	_, err := s.q.Exec(ctx, query,
		keys.Deposit(rec.MarketID, rec.Owner).Bytes(), u64(rec.MarketID), rec.Owner.Bytes(), u64(rec.Amount),
	)
	if err != nil {
		return fmt.Errorf("postgres: put deposit %d/%s: %w", rec.MarketID, rec.Owner.Hex(), err)
	}
	return nil
}

func (s *EntityStore) CreateProposal(ctx context.Context, p domain.Proposal) error {
	const query = `
		INSERT INTO proposals (
			key, id, market_id, created_at, creator,
			stable_token, yes_token, no_token, vault,
			yes_pool, no_pool, payload
		) VALUES (
			$1, $2::numeric, $3::numeric, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12
		)
		ON CONFLICT (key) DO NOTHING`
	payload := p.Payload
	if payload == nil {
		payload = []byte{}
	}
	tag, err := s.q.Exec(ctx, query,
		keys.Proposal(p.ID).Bytes(), u64(p.ID), u64(p.MarketID), p.CreatedAt, p.Creator.Bytes(),
		string(p.StableToken), string(p.YesToken), string(p.NoToken), p.Vault.Bytes(),
		p.YesPool.Bytes(), p.NoPool.Bytes(), payload,
	)
	if err != nil {
		return fmt.Errorf("postgres: create proposal %d: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: create proposal %d: %w", p.ID, domain.ErrAlreadyExists)
	}
	return nil
}

const proposalColumns = `
	id::text, market_id::text, created_at, creator,
	stable_token, yes_token, no_token, vault,
	yes_pool, no_pool, payload`

func (s *EntityStore) GetProposal(ctx context.Context, id uint64) (domain.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE key = $1`
	p, err := scanProposal(s.q.QueryRow(ctx, query, keys.Proposal(id).Bytes()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Proposal{}, fmt.Errorf("postgres: get proposal %d: %w", id, domain.ErrNotFound)
		}
		return domain.Proposal{}, fmt.Errorf("postgres: get proposal %d: %w", id, err)
	}
	return p, nil
}

func scanProposal(row pgx.Row) (domain.Proposal, error) {
	var (
		p                               domain.Proposal
		idText, marketText              string
		creator, vault, yesPool, noPool []byte
		stable, yes, no                 string
	)
	if err := row.Scan(
		&idText, &marketText, &p.CreatedAt, &creator,
		&stable, &yes, &no, &vault,
		&yesPool, &noPool, &p.Payload,
	); err != nil {
		return domain.Proposal{}, err
	}

	var err error
	if p.ID, err = parseU64(idText); err != nil {
		return domain.Proposal{}, err
	}
	if p.MarketID, err = parseU64(marketText); err != nil {
		return domain.Proposal{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.Creator = common.BytesToAddress(creator)
	p.Vault = common.BytesToAddress(vault)
	p.YesPool = common.BytesToAddress(yesPool)
	p.NoPool = common.BytesToAddress(noPool)
	p.StableToken = domain.TokenID(stable)
	p.YesToken = domain.TokenID(yes)
	p.NoToken = domain.TokenID(no)
	return p, nil
}

func (s *EntityStore) GetClaim(ctx context.Context, key domain.ClaimKey) (domain.ClaimRecord, error) {
	const query = `SELECT claimed::text FROM claims WHERE key = $1 FOR UPDATE`
	var claimed string
	if err := s.q.QueryRow(ctx, query, keys.Claim(key).Bytes()).Scan(&claimed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ClaimRecord{}, fmt.Errorf("postgres: get claim %s/%d: %w", key.Scope, key.ScopeID, domain.ErrNotFound)
		}
		return domain.ClaimRecord{}, fmt.Errorf("postgres: get claim %s/%d: %w", key.Scope, key.ScopeID, err)
	}
	v, err := parseU64(claimed)
	if err != nil {
		return domain.ClaimRecord{}, err
	}
	return domain.ClaimRecord{Key: key, Claimed: v}, nil
}

func (s *EntityStore) PutClaim(ctx context.Context, rec domain.ClaimRecord) error {
	const query = `
		INSERT INTO claims (key, scope, scope_id, owner, claimed) VALUES ($1, $2, $3::numeric, $4, $5::numeric)
		ON CONFLICT (key) DO UPDATE SET claimed = EXCLUDED.claimed`
	_, err := s.q.Exec(ctx, query,
		keys.Claim(rec.Key).Bytes(), string(rec.Key.Scope), u64(rec.Key.ScopeID), rec.Key.Owner.Bytes(), u64(rec.Claimed),
	)
	if err != nil {
		return fmt.Errorf("postgres: put claim %s/%d: %w", rec.Key.Scope, rec.Key.ScopeID, err)
	}
	return nil
}

func optU64(v *uint64) *string {
	if v == nil {
		return nil
	}
	s := u64(*v)
	return &s
}

var _ domain.EntityStore = (*EntityStore)(nil)
