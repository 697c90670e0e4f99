package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/quantumledger/internal/domain"
)

// DepositLedger tracks each participant's locked balance per market.
type DepositLedger struct {
	markets MarketRegistry
}

// Balance returns the current deposit balance, zero when none exists.
func (d DepositLedger) Balance(ctx context.Context, tx domain.Tx, marketID uint64, owner common.Address) (uint64, error) {
	rec, err := d.record(ctx, tx, marketID, owner)
	if err != nil {
		return 0, err
	}
	return rec.Amount, nil
}

// Deposit moves amount of the market's deposit token from owner into the
// market vault and credits the owner's deposit record.
func (d DepositLedger) Deposit(ctx context.Context, tx domain.Tx, marketID uint64, owner common.Address, amount uint64) (uint64, error) {
	m, err := d.markets.Get(ctx, tx, marketID)
	if err != nil {
		return 0, fmt.Errorf("deposits: %w", err)
	}
	if !m.Status.AcceptsDeposits() {
		return 0, fmt.Errorf("deposits: market %d is %s: %w", marketID, m.Status, domain.ErrMarketClosed)
	}

	if err := tx.Ledger().Transfer(ctx, m.DepositToken, owner, m.Vault, amount); err != nil {
		return 0, fmt.Errorf("deposits: transfer into market %d: %w", marketID, err)
	}

	rec, err := d.record(ctx, tx, marketID, owner)
	if err != nil {
		return 0, err
	}
	total, err := domain.CheckedAdd(rec.Amount, amount)
	if err != nil {
		return 0, fmt.Errorf("deposits: credit market %d: %w", marketID, err)
	}
	rec.Amount = total
	if err := tx.Entities().PutDeposit(ctx, rec); err != nil {
		return 0, fmt.Errorf("deposits: persist market %d: %w", marketID, err)
	}
	return total, nil
}

// Lock consumes amount from the owner's deposit record and returns what
// remains. It never drives the balance below zero.
func (d DepositLedger) Lock(ctx context.Context, tx domain.Tx, marketID uint64, owner common.Address, amount uint64) (uint64, error) {
	rec, err := d.record(ctx, tx, marketID, owner)
	if err != nil {
		return 0, err
	}
	if amount > rec.Amount {
		return 0, fmt.Errorf("deposits: lock %d of %d in market %d: %w",
			amount, rec.Amount, marketID, domain.ErrInsufficientDeposit)
	}
	rec.Amount -= amount
	if err := tx.Entities().PutDeposit(ctx, rec); err != nil {
		return 0, fmt.Errorf("deposits: persist market %d: %w", marketID, err)
	}
	return rec.Amount, nil
}

func (d DepositLedger) record(ctx context.Context, tx domain.Tx, marketID uint64, owner common.Address) (domain.DepositRecord, error) {
	rec, err := tx.Entities().GetDeposit(ctx, marketID, owner)
	if isNotFound(err) {
		return domain.DepositRecord{MarketID: marketID, Owner: owner}, nil
	}
	if err != nil {
		return domain.DepositRecord{}, fmt.Errorf("deposits: read market %d: %w", marketID, err)
	}
	return rec, nil
}
