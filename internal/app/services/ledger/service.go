// Package ledger is the sole authority over token balances. Every balance
// change goes through CreateTransaction, which checks the solvency floor
// and applies the movement as one critical section per account pair.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/cardverse/token_layer/internal/app/domain/ledger"
	"github.com/cardverse/token_layer/internal/app/events"
	"github.com/cardverse/token_layer/internal/app/metrics"
	"github.com/cardverse/token_layer/internal/app/storage"
	"github.com/cardverse/token_layer/pkg/logger"
)

// Pricing holds the token amounts the platform issues and charges.
type Pricing struct {
	InitialBalance     int64
	CardCreationReward int64
	CorrectCardCost    int64
	SpecialContentCost int64
}

// DefaultPricing returns the platform defaults.
func DefaultPricing() Pricing {
	return Pricing{
		InitialBalance:     15,
		CardCreationReward: 5,
		CorrectCardCost:    2,
		SpecialContentCost: 5,
	}
}

// Service owns balances and the transaction log.
type Service struct {
	store     storage.LedgerStore
	pricing   Pricing
	publisher events.Publisher
	locks     *accountLocks
	log       *logger.Logger
}

// New constructs a ledger. publisher may be nil when nothing listens for
// commits.
func New(store storage.LedgerStore, pricing Pricing, publisher events.Publisher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Service{
		store:     store,
		pricing:   pricing,
		publisher: publisher,
		locks:     newAccountLocks(),
		log:       log,
	}
}

// Pricing returns the amounts this ledger issues and charges.
func (s *Service) Pricing() Pricing {
	return s.pricing
}

// CreateTransaction moves amount from one party to another. The sender's
// balance is checked before anything is recorded; on failure no
// transaction exists and no balance changes.
func (s *Service) CreateTransaction(ctx context.Context, from, to string, amount int64, kind domain.Kind) (domain.Transaction, error) {
	start := time.Now()
	tx, err := s.createTransaction(ctx, from, to, amount, kind)
	metrics.RecordTransaction(string(kind), amount, time.Since(start), err)
	if err != nil {
		return domain.Transaction{}, err
	}

	s.log.WithField("tx_id", tx.ID).
		WithField("from", tx.From).
		WithField("to", tx.To).
		WithField("amount", tx.Amount).
		WithField("kind", tx.Kind).
		Debug("ledger transaction committed")
	if s.publisher != nil {
		s.publisher.Publish(tx)
	}
	return tx, nil
}

func (s *Service) createTransaction(ctx context.Context, from, to string, amount int64, kind domain.Kind) (domain.Transaction, error) {
	if amount <= 0 {
		return domain.Transaction{}, fmt.Errorf("%w: %d", domain.ErrInvalidAmount, amount)
	}
	if !kind.Valid() {
		return domain.Transaction{}, fmt.Errorf("%w: %q", domain.ErrInvalidKind, kind)
	}
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" || to == "" {
		return domain.Transaction{}, fmt.Errorf("%w: both parties are required", domain.ErrInvalidTransfer)
	}
	if from == to {
		return domain.Transaction{}, fmt.Errorf("%w: sender and receiver are the same account", domain.ErrInvalidTransfer)
	}

	unlock := s.locks.lock(from, to)
	defer unlock()

	if from != domain.SystemAccount {
		balance, err := s.store.GetBalance(ctx, from)
		if err != nil {
			return domain.Transaction{}, err
		}
		if balance < amount {
			return domain.Transaction{}, &domain.InsufficientFundsError{Account: from, Balance: balance, Required: amount}
		}
	}

	return s.store.ApplyTransaction(ctx, domain.Transaction{
		From:   from,
		To:     to,
		Amount: amount,
		Kind:   kind,
	})
}

// GrantInitialBalance issues the signup allowance. A zero allowance records
// nothing.
func (s *Service) GrantInitialBalance(ctx context.Context, userID string) (domain.Transaction, error) {
	if s.pricing.InitialBalance <= 0 {
		return domain.Transaction{}, nil
	}
	return s.CreateTransaction(ctx, domain.SystemAccount, userID, s.pricing.InitialBalance, domain.KindInitialBalance)
}

// RewardCardCreation credits the author of a new card. The system account
// has no floor, so this only fails for unknown users or storage errors.
func (s *Service) RewardCardCreation(ctx context.Context, userID string) (domain.Transaction, error) {
	return s.CreateTransaction(ctx, domain.SystemAccount, userID, s.pricing.CardCreationReward, domain.KindCardCreation)
}

// ChargeCorrectCard debits the cost of marking a card correct.
func (s *Service) ChargeCorrectCard(ctx context.Context, userID string) (domain.Transaction, error) {
	return s.CreateTransaction(ctx, userID, domain.SystemAccount, s.pricing.CorrectCardCost, domain.KindCorrect)
}

// ChargeSpecialContent debits the cost of unlocking special content.
func (s *Service) ChargeSpecialContent(ctx context.Context, userID string) (domain.Transaction, error) {
	return s.CreateTransaction(ctx, userID, domain.SystemAccount, s.pricing.SpecialContentCost, domain.KindSpecialContent)
}

// Transfer moves tokens between two users. Malformed requests are rejected
// with ErrInvalidTransfer before the ledger is touched.
func (s *Service) Transfer(ctx context.Context, fromUserID, toUserID string, amount int64) (domain.Transaction, error) {
	fromUserID = strings.TrimSpace(fromUserID)
	toUserID = strings.TrimSpace(toUserID)
	switch {
	case amount <= 0:
		return domain.Transaction{}, fmt.Errorf("%w: amount must be positive, got %d", domain.ErrInvalidTransfer, amount)
	case fromUserID == "" || toUserID == "":
		return domain.Transaction{}, fmt.Errorf("%w: sender and receiver are required", domain.ErrInvalidTransfer)
	case fromUserID == toUserID:
		return domain.Transaction{}, fmt.Errorf("%w: cannot transfer to yourself", domain.ErrInvalidTransfer)
	case fromUserID == domain.SystemAccount || toUserID == domain.SystemAccount:
		return domain.Transaction{}, fmt.Errorf("%w: the system account cannot take part in transfers", domain.ErrInvalidTransfer)
	}
	return s.CreateTransaction(ctx, fromUserID, toUserID, amount, domain.KindTransfer)
}

// GetBalance returns the current balance of userID.
func (s *Service) GetBalance(ctx context.Context, userID string) (int64, error) {
	return s.store.GetBalance(ctx, userID)
}

// ListTransactions returns the user's history, newest first. A limit of
// zero or less returns everything.
func (s *Service) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	if _, err := s.store.GetBalance(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, userID, limit)
}
