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

// TokenLedger implements domain.TokenLedger over token_types and
// token_balances inside one transaction.
type TokenLedger struct {
	q querier
}

// CreateToken registers token with authority as its mint authority.
func (l *TokenLedger) CreateToken(ctx context.Context, token domain.TokenID, authority common.Address) error {
	const query = `
		INSERT INTO token_types (token, authority, supply) VALUES ($1, $2, 0)
		ON CONFLICT (token) DO NOTHING`
	tag, err := l.q.Exec(ctx, query, string(token), authority.Bytes())
	if err != nil {
		return fmt.Errorf("postgres: create token %s: %w", token, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: create token %s: %w", token, domain.ErrAlreadyExists)
	}
	return nil
}

// Mint credits amount of token to to. The capability must cover token and
// control the token's registered authority.
func (l *TokenLedger) Mint(ctx context.Context, capability domain.Capability, token domain.TokenID, to common.Address, amount uint64) error {
	if !capability.Covers(token) {
		return fmt.Errorf("postgres: mint %s: %w", token, domain.ErrUnauthorized)
	}
	authority, supply, err := l.tokenType(ctx, token)
	if err != nil {
		return err
	}
	if authority != capability.Vault() {
		return fmt.Errorf("postgres: mint %s: %w", token, domain.ErrUnauthorized)
	}

	nextSupply, err := domain.CheckedAdd(supply, amount)
	if err != nil {
		return fmt.Errorf("postgres: mint %s supply: %w", token, err)
	}
	bal, err := l.balance(ctx, token, to, true)
	if err != nil {
		return err
	}
	nextBal, err := domain.CheckedAdd(bal, amount)
	if err != nil {
		return fmt.Errorf("postgres: mint %s balance: %w", token, err)
	}

	if err := l.setSupply(ctx, token, nextSupply); err != nil {
		return err
	}
	return l.setBalance(ctx, token, to, nextBal)
}

// Burn debits amount of token from from and shrinks the supply.
func (l *TokenLedger) Burn(ctx context.Context, token domain.TokenID, from common.Address, amount uint64) error {
	bal, err := l.balance(ctx, token, from, true)
	if err != nil {
		return err
	}
	if bal < amount {
		return fmt.Errorf("postgres: burn %s: %w", token, domain.ErrInsufficientBalance)
	}
	_, supply, err := l.tokenType(ctx, token)
	if err != nil {
		return err
	}
	nextSupply, err := domain.CheckedSub(supply, amount)
	if err != nil {
		return fmt.Errorf("postgres: burn %s supply: %w", token, err)
	}

	if err := l.setSupply(ctx, token, nextSupply); err != nil {
		return err
	}
	return l.setBalance(ctx, token, from, bal-amount)
}

// Transfer moves amount of token between holders.
func (l *TokenLedger) Transfer(ctx context.Context, token domain.TokenID, from, to common.Address, amount uint64) error {
	src, err := l.balance(ctx, token, from, true)
	if err != nil {
		return err
	}
	if src < amount {
		return fmt.Errorf("postgres: transfer %s: %w", token, domain.ErrInsufficientBalance)
	}
	if from == to {
		return nil
	}
	dst, err := l.balance(ctx, token, to, true)
	if err != nil {
		return err
	}
	next, err := domain.CheckedAdd(dst, amount)
	if err != nil {
		return fmt.Errorf("postgres: transfer %s: %w", token, err)
	}

	if err := l.setBalance(ctx, token, from, src-amount); err != nil {
		return err
	}
	return l.setBalance(ctx, token, to, next)
}

// TransferFromVault moves amount of token out of the capability's vault.
func (l *TokenLedger) TransferFromVault(ctx context.Context, capability domain.Capability, token domain.TokenID, to common.Address, amount uint64) error {
	if !capability.Covers(token) {
		return fmt.Errorf("postgres: vault transfer %s: %w", token, domain.ErrUnauthorized)
	}
	return l.Transfer(ctx, token, capability.Vault(), to, amount)
}

// BalanceOf returns owner's balance of token, zero when none is recorded.
func (l *TokenLedger) BalanceOf(ctx context.Context, token domain.TokenID, owner common.Address) (uint64, error) {
	return l.balance(ctx, token, owner, false)
}

// Credit adds amount of token to owner outside any proposal authority,
// registering the token with a zero authority on first use. It stands in for
// the external issuer of deposit currencies: issued token ids and tokens
// with a mint authority are refused.
func (l *TokenLedger) Credit(ctx context.Context, token domain.TokenID, owner common.Address, amount uint64) error {
	if keys.IsIssuedToken(token) {
		return fmt.Errorf("postgres: credit %s: issued token: %w", token, domain.ErrInvalidArgument)
	}
	const ensure = `
		INSERT INTO token_types (token, authority, supply) VALUES ($1, $2, 0)
		ON CONFLICT (token) DO NOTHING`
	if _, err := l.q.Exec(ctx, ensure, string(token), common.Address{}.Bytes()); err != nil {
		return fmt.Errorf("postgres: credit %s: %w", token, err)
	}
	authority, supply, err := l.tokenType(ctx, token)
	if err != nil {
		return err
	}
	if authority != (common.Address{}) {
		return fmt.Errorf("postgres: credit %s: token has a mint authority: %w", token, domain.ErrUnauthorized)
	}
	nextSupply, err := domain.CheckedAdd(supply, amount)
	if err != nil {
		return fmt.Errorf("postgres: credit %s supply: %w", token, err)
	}
	bal, err := l.balance(ctx, token, owner, true)
	if err != nil {
		return err
	}
	nextBal, err := domain.CheckedAdd(bal, amount)
	if err != nil {
		return fmt.Errorf("postgres: credit %s balance: %w", token, err)
	}
	if err := l.setSupply(ctx, token, nextSupply); err != nil {
		return err
	}
	return l.setBalance(ctx, token, owner, nextBal)
}

func (l *TokenLedger) tokenType(ctx context.Context, token domain.TokenID) (common.Address, uint64, error) {
	const query = `SELECT authority, supply::text FROM token_types WHERE token = $1 FOR UPDATE`
	var (
		authority []byte
		supply    string
	)
	if err := l.q.QueryRow(ctx, query, string(token)).Scan(&authority, &supply); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return common.Address{}, 0, fmt.Errorf("postgres: token %s: %w", token, domain.ErrNotFound)
		}
		return common.Address{}, 0, fmt.Errorf("postgres: token %s: %w", token, err)
	}
	v, err := parseU64(supply)
	if err != nil {
		return common.Address{}, 0, err
	}
	return common.BytesToAddress(authority), v, nil
}

func (l *TokenLedger) balance(ctx context.Context, token domain.TokenID, owner common.Address, forUpdate bool) (uint64, error) {
	query := `SELECT amount::text FROM token_balances WHERE token = $1 AND owner = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var amount string
	if err := l.q.QueryRow(ctx, query, string(token), owner.Bytes()).Scan(&amount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: balance %s/%s: %w", token, owner.Hex(), err)
	}
	return parseU64(amount)
}

func (l *TokenLedger) setBalance(ctx context.Context, token domain.TokenID, owner common.Address, amount uint64) error {
	const query = `
		INSERT INTO token_balances (token, owner, amount) VALUES ($1, $2, $3::numeric)
		ON CONFLICT (token, owner) DO UPDATE SET amount = EXCLUDED.amount`
	if _, err := l.q.Exec(ctx, query, string(token), owner.Bytes(), u64(amount)); err != nil {
		return fmt.Errorf("postgres: set balance %s/%s: %w", token, owner.Hex(), err)
	}
	return nil
}

func (l *TokenLedger) setSupply(ctx context.Context, token domain.TokenID, supply uint64) error {
	const query = `UPDATE token_types SET supply = $2::numeric WHERE token = $1`
	if _, err := l.q.Exec(ctx, query, string(token), u64(supply)); err != nil {
		return fmt.Errorf("postgres: set supply %s: %w", token, err)
	}
	return nil
}

var _ domain.TokenLedger = (*TokenLedger)(nil)
