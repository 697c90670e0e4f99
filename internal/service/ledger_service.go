package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/quantumledger/internal/domain"
	"github.com/alanyoungcy/quantumledger/internal/engine"
)

// LedgerService is the external interface of the ledger. Each operation runs
// as one substrate transaction; logging, bus events, audit rows and cache
// refreshes happen only after the commit and never undo it.
//
// The cache, bus and audit dependencies are optional and may be nil.
type LedgerService struct {
	substrate domain.Substrate
	engine    *engine.Engine
	cache     domain.MarketCache
	bus       domain.SignalBus
	audit     domain.AuditStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewLedgerService creates a LedgerService.
func NewLedgerService(
	substrate domain.Substrate,
	eng *engine.Engine,
	cache domain.MarketCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *LedgerService {
	return &LedgerService{
		substrate: substrate,
		engine:    eng,
		cache:     cache,
		bus:       bus,
		audit:     audit,
		logger:    logger.With(slog.String("component", "ledger_service")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ClaimScope reports the claim watermark scope in effect.
func (s *LedgerService) ClaimScope() domain.ClaimScope { return s.engine.Claims.Scope() }

// InitGlobal creates the id sequences. It fails with domain.ErrAlreadyExists
// when they already exist.
func (s *LedgerService) InitGlobal(ctx context.Context) error {
	err := s.substrate.Atomically(ctx, func(ctx context.Context, tx domain.Tx) error {
		return s.engine.Sequencer.Init(ctx, tx)
	})
	if err != nil {
		return s.fail(ctx, fmt.Errorf("ledger_service: init global: %w", err))
	}

	s.committed(ctx, domain.LedgerEvent{Kind: domain.EventGlobalInitialized})
	return nil
}

// CreateMarket opens a new market owned by creator.
func (s *LedgerService) CreateMarket(ctx context.Context, creator common.Address, params domain.MarketParams) (domain.Market, error) {
	var m domain.Market
	err := s.substrate.Atomically(ctx, func(ctx context.Context, tx domain.Tx) (err error) {
		m, err = s.engine.Markets.Create(ctx, tx, creator, params)
		return err
	})
	if err != nil {
		return domain.Market{}, s.fail(ctx, fmt.Errorf("ledger_service: create market: %w", err))
	}

	s.cacheMarket(ctx, m)
	s.committed(ctx, domain.LedgerEvent{
		Kind:     domain.EventMarketCreated,
		MarketID: &m.ID,
		Owner:    creator.Hex(),
		Amount:   m.MinDeposit,
	})
	return m, nil
}

// DepositToMarket moves amount of the market's deposit token from owner into
// the market and returns the owner's new deposit total.
func (s *LedgerService) DepositToMarket(ctx context.Context, marketID uint64, owner common.Address, amount uint64) (uint64, error) {
	var total uint64
	err := s.substrate.Atomically(ctx, func(ctx context.Context, tx domain.Tx) (err error) {
		total, err = s.engine.Deposits.Deposit(ctx, tx, marketID, owner, amount)
		return err
	})
	if err != nil {
		return 0, s.fail(ctx, fmt.Errorf("ledger_service: deposit to market %d: %w", marketID, err))
	}

	s.committed(ctx, domain.LedgerEvent{
		Kind:     domain.EventDeposited,
		MarketID: &marketID,
		Owner:    owner.Hex(),
		Amount:   amount,
	})
	return total, nil
}

// CreateProposal consumes the market's min_deposit from owner and issues the
// proposal's tokens.
func (s *LedgerService) CreateProposal(ctx context.Context, marketID uint64, owner common.Address, payload []byte) (domain.Proposal, error) {
	var p domain.Proposal
	err := s.substrate.Atomically(ctx, func(ctx context.Context, tx domain.Tx) (err error) {
		p, err = s.engine.Issuance.CreateProposal(ctx, tx, marketID, owner, payload)
		return err
	})
	if err != nil {
		return domain.Proposal{}, s.fail(ctx, fmt.Errorf("ledger_service: create proposal in market %d: %w", marketID, err))
	}

	if s.cache != nil {
		if err := s.cache.SetProposal(ctx, p); err != nil {
			s.warn(ctx, "cache set proposal failed", err, slog.Uint64("proposal_id", p.ID))
		}
	}
	s.committed(ctx, domain.LedgerEvent{
		Kind:       domain.EventProposalCreated,
		MarketID:   &p.MarketID,
		ProposalID: &p.ID,
		Owner:      owner.Hex(),
	})
	return p, nil
}

// MintYesNo exchanges amount stable units for amount yes and amount no.
func (s *LedgerService) MintYesNo(ctx context.Context, proposalID uint64, owner common.Address, amount uint64) (uint64, uint64, error) {
	var yes, no uint64
	err := s.substrate.Atomically(ctx, func(ctx context.Context, tx domain.Tx) (err error) {
		yes, no, err = s.engine.Issuance.ExchangeStableForPair(ctx, tx, proposalID, owner, amount)
		return err
	})
	if err != nil {
		return 0, 0, s.fail(ctx, fmt.Errorf("ledger_service: mint pair on proposal %d: %w", proposalID, err))
	}

	s.committed(ctx, domain.LedgerEvent{
		Kind:       domain.EventPairMinted,
		ProposalID: &proposalID,
		Owner:      owner.Hex(),
		Amount:     amount,
	})
	return yes, no, nil
}

// RedeemYesNo exchanges amount yes and amount no back into stable units.
func (s *LedgerService) RedeemYesNo(ctx context.Context, proposalID uint64, owner common.Address, amount uint64) (uint64, error) {
	var out uint64
	err := s.substrate.Atomically(ctx, func(ctx context.Context, tx domain.Tx) (err error) {
		out, err = s.engine.Issuance.ExchangePairForStable(ctx, tx, proposalID, owner, amount)
		return err
	})
	if err != nil {
		return 0, s.fail(ctx, fmt.Errorf("ledger_service: redeem pair on proposal %d: %w", proposalID, err))
	}

	s.committed(ctx, domain.LedgerEvent{
		Kind:       domain.EventPairRedeemed,
		ProposalID: &proposalID,
		Owner:      owner.Hex(),
		Amount:     out,
	})
	return out, nil
}

// ClaimForProposal mints the stable units owner has accrued on proposalID.
// A zero delta is always domain.ErrNothingToClaim.
func (s *LedgerService) ClaimForProposal(ctx context.Context, proposalID uint64, owner common.Address) (uint64, error) {
	var minted uint64
	err := s.substrate.Atomically(ctx, func(ctx context.Context, tx domain.Tx) (err error) {
		minted, err = s.engine.Claims.Claim(ctx, tx, proposalID, owner)
		return err
	})
	if err != nil {
		return 0, s.fail(ctx, fmt.Errorf("ledger_service: claim on proposal %d: %w", proposalID, err))
	}

	s.committed(ctx, domain.LedgerEvent{
		Kind:       domain.EventClaimed,
		ProposalID: &proposalID,
		Owner:      owner.Hex(),
		Amount:     minted,
	})
	return minted, nil
}

// AcceptProposal records proposalID as its market's accepted proposal. The
// caller must be the market's resolver.
func (s *LedgerService) AcceptProposal(ctx context.Context, proposalID uint64, caller common.Address) (domain.Market, error) {
	var m domain.Market
	err := s.substrate.Atomically(ctx, func(ctx context.Context, tx domain.Tx) error {
		p, err := s.engine.Proposals.Get(ctx, tx, proposalID)
		if err != nil {
			return err
		}
		m, err = s.engine.Markets.AcceptProposal(ctx, tx, caller, p)
		return err
	})
	if err != nil {
		return domain.Market{}, s.fail(ctx, fmt.Errorf("ledger_service: accept proposal %d: %w", proposalID, err))
	}

	s.cacheMarket(ctx, m)
	s.committed(ctx, domain.LedgerEvent{
		Kind:       domain.EventProposalAccepted,
		MarketID:   &m.ID,
		ProposalID: &proposalID,
		Owner:      caller.Hex(),
	})
	return m, nil
}

// GetMarket returns a market, checking the cache first.
func (s *LedgerService) GetMarket(ctx context.Context, id uint64) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.GetMarket(ctx, id); err == nil {
			return m, nil
		}
	}

	var m domain.Market
	err := s.substrate.Atomically(ctx, func(ctx context.Context, tx domain.Tx) (err error) {
		m, err = s.engine.Markets.Get(ctx, tx, id)
		return err
	})
	if err != nil {
		return domain.Market{}, s.fail(ctx, fmt.Errorf("ledger_service: get market %d: %w", id, err))
	}
	s.cacheMarket(ctx, m)
	return m, nil
}

// GetProposal returns a proposal, checking the cache first.
func (s *LedgerService) GetProposal(ctx context.Context, id uint64) (domain.Proposal, error) {
	if s.cache != nil {
		if p, err := s.cache.GetProposal(ctx, id); err == nil {
			return p, nil
		}
	}

	var p domain.Proposal
	err := s.substrate.Atomically(ctx, func(ctx context.Context, tx domain.Tx) (err error) {
		p, err = s.engine.Proposals.Get(ctx, tx, id)
		return err
	})
	if err != nil {
		return domain.Proposal{}, s.fail(ctx, fmt.Errorf("ledger_service: get proposal %d: %w", id, err))
	}
	if s.cache != nil {
		if err := s.cache.SetProposal(ctx, p); err != nil {
			s.warn(ctx, "cache set proposal failed", err, slog.Uint64("proposal_id", id))
		}
	}
	return p, nil
}

// GetDeposit returns owner's deposit balance in a market. Markets that do not
// exist are domain.ErrNotFound; owners without a record have zero.
func (s *LedgerService) GetDeposit(ctx context.Context, marketID uint64, owner common.Address) (uint64, error) {
	var bal uint64
	err := s.substrate.Atomically(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := s.engine.Markets.Get(ctx, tx, marketID); err != nil {
			return err
		}
		var err error
		bal, err = s.engine.Deposits.Balance(ctx, tx, marketID, owner)
		return err
	})
	if err != nil {
		return 0, s.fail(ctx, fmt.Errorf("ledger_service: get deposit in market %d: %w", marketID, err))
	}
	return bal, nil
}

// GetClaim returns owner's claim watermark on proposalID.
func (s *LedgerService) GetClaim(ctx context.Context, proposalID uint64, owner common.Address) (domain.ClaimRecord, error) {
	var rec domain.ClaimRecord
	err := s.substrate.Atomically(ctx, func(ctx context.Context, tx domain.Tx) (err error) {
		rec, err = s.engine.Claims.Claimed(ctx, tx, proposalID, owner)
		return err
	})
	if err != nil {
		return domain.ClaimRecord{}, s.fail(ctx, fmt.Errorf("ledger_service: get claim on proposal %d: %w", proposalID, err))
	}
	return rec, nil
}

// Balance returns owner's balance of token.
func (s *LedgerService) Balance(ctx context.Context, token domain.TokenID, owner common.Address) (uint64, error) {
	var bal uint64
	err := s.substrate.Atomically(ctx, func(ctx context.Context, tx domain.Tx) (err error) {
		bal, err = tx.Ledger().BalanceOf(ctx, token, owner)
		return err
	})
	if err != nil {
		return 0, s.fail(ctx, fmt.Errorf("ledger_service: balance of %s: %w", token, err))
	}
	return bal, nil
}

func (s *LedgerService) cacheMarket(ctx context.Context, m domain.Market) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetMarket(ctx, m); err != nil {
		s.warn(ctx, "cache set market failed", err, slog.Uint64("market_id", m.ID))
	}
}

// committed publishes evt on the bus, appends it to the audit log and writes
// the operation's log line.
func (s *LedgerService) committed(ctx context.Context, evt domain.LedgerEvent) {
	evt.ID = uuid.NewString()
	evt.At = s.now()

	attrs := []any{
		slog.String("event_id", evt.ID),
		slog.String("kind", string(evt.Kind)),
		slog.Uint64("amount", evt.Amount),
	}
	detail := map[string]any{"event_id": evt.ID, "amount": evt.Amount}
	if evt.MarketID != nil {
		attrs = append(attrs, slog.Uint64("market_id", *evt.MarketID))
		detail["market_id"] = *evt.MarketID
	}
	if evt.ProposalID != nil {
		attrs = append(attrs, slog.Uint64("proposal_id", *evt.ProposalID))
		detail["proposal_id"] = *evt.ProposalID
	}
	if evt.Owner != "" {
		attrs = append(attrs, slog.String("owner", evt.Owner))
		detail["owner"] = evt.Owner
	}

	if s.bus != nil {
		payload, err := json.Marshal(evt)
		if err != nil {
			s.warn(ctx, "marshal event failed", err)
		} else {
			if err := s.bus.Publish(ctx, domain.LedgerChannel, payload); err != nil {
				s.warn(ctx, "publish event failed", err, slog.String("event_id", evt.ID))
			}
			if err := s.bus.StreamAppend(ctx, domain.LedgerStream, payload); err != nil {
				s.warn(ctx, "stream append failed", err, slog.String("event_id", evt.ID))
			}
		}
	}

	if s.audit != nil {
		if err := s.audit.Log(ctx, string(evt.Kind), detail); err != nil {
			s.warn(ctx, "audit log failed", err, slog.String("event_id", evt.ID))
		}
	}

	s.logger.InfoContext(ctx, "ledger_service: "+string(evt.Kind), attrs...)
}

// fail logs a failed operation, at Debug for caller errors and at Error for
// substrate faults, and returns err.
func (s *LedgerService) fail(ctx context.Context, err error) error {
	if IsCallerError(err) {
		s.logger.DebugContext(ctx, "ledger_service: operation rejected", slog.String("error", err.Error()))
	} else {
		s.logger.ErrorContext(ctx, "ledger_service: operation failed", slog.String("error", err.Error()))
	}
	return err
}

func (s *LedgerService) warn(ctx context.Context, msg string, err error, attrs ...any) {
	attrs = append(attrs, slog.String("error", err.Error()))
	s.logger.WarnContext(ctx, "ledger_service: "+msg, attrs...)
}

// IsCallerError reports whether err is a deterministic precondition failure
// rather than a substrate fault.
func IsCallerError(err error) bool {
	for _, target := range []error{
		domain.ErrOverflow,
		domain.ErrUnderflow,
		domain.ErrInsufficientDeposit,
		domain.ErrMarketClosed,
		domain.ErrProposalAccepted,
		domain.ErrNothingToClaim,
		domain.ErrNotFound,
		domain.ErrAlreadyExists,
		domain.ErrInsufficientBalance,
		domain.ErrUnauthorized,
		domain.ErrInvalidArgument,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
