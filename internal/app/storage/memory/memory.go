package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cardverse/token_layer/internal/app/domain/card"
	"github.com/cardverse/token_layer/internal/app/domain/ledger"
	"github.com/cardverse/token_layer/internal/app/domain/user"
	"github.com/cardverse/token_layer/internal/app/storage"
	"github.com/cardverse/token_layer/internal/app/storage/kv"
	"github.com/google/uuid"
)

// Store is an in-memory implementation of the storage interfaces built on
// the kv primitives. It is safe for concurrent use and is the default
// backend when no database is configured.
type Store struct {
	users        *kv.Store[user.User]
	cards        *kv.Store[card.Card]
	transactions *kv.Store[ledger.Transaction]

	authorIndex *kv.Index
	emailIndex  *kv.Index

	// signupMu serialises the email uniqueness check with the insert.
	signupMu sync.Mutex
	// ledgerMu serialises balance movements and log appends.
	ledgerMu sync.Mutex
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.CardStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:        kv.New(user.User.Clone),
		cards:        kv.New(card.Card.Clone),
		transactions: kv.New[ledger.Transaction](nil),
		authorIndex:  kv.NewIndex(),
		emailIndex:   kv.NewIndex(),
	}
}

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.signupMu.Lock()
	defer s.signupMu.Unlock()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	email := normaliseEmail(u.Email)
	if email != "" && s.emailIndex.Count(email) > 0 {
		return user.User{}, fmt.Errorf("%w: %s", user.ErrEmailTaken, u.Email)
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	u = u.Clone()

	if err := s.users.Insert(u.ID, u); err != nil {
		return user.User{}, fmt.Errorf("user %s already exists", u.ID)
	}
	if email != "" {
		s.emailIndex.Add(email, u.ID)
	}
	return u, nil
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	updated, err := s.users.Update(u.ID, func(existing *user.User) error {
		existing.Username = u.Username
		existing.ProfileImage = u.ProfileImage
		existing.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return user.User{}, userErr(u.ID, err)
	}
	return updated, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	u, err := s.users.Get(id)
	if err != nil {
		return user.User{}, userErr(id, err)
	}
	return u, nil
}

func (s *Store) ListUsers(_ context.Context) ([]user.User, error) {
	return s.users.Values(), nil
}

func (s *Store) AddUserCard(_ context.Context, userID string, rel user.Relation, cardID string) (user.User, error) {
	updated, err := s.users.Update(userID, func(existing *user.User) error {
		if existing.AddCard(rel, cardID) {
			existing.UpdatedAt = time.Now().UTC()
		}
		return nil
	})
	if err != nil {
		return user.User{}, userErr(userID, err)
	}
	return updated, nil
}

// CardStore implementation ----------------------------------------------------

func (s *Store) CreateCard(_ context.Context, c card.Card) (card.Card, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c = c.Clone()

	if err := s.cards.Insert(c.ID, c); err != nil {
		return card.Card{}, fmt.Errorf("card %s already exists", c.ID)
	}
	s.authorIndex.Add(c.AuthorID, c.ID)
	return c, nil
}

func (s *Store) GetCard(_ context.Context, id string) (card.Card, error) {
	c, err := s.cards.Get(id)
	if err != nil {
		return card.Card{}, cardErr(id, err)
	}
	return c, nil
}

func (s *Store) ListCards(_ context.Context) ([]card.Card, error) {
	return s.cards.Values(), nil
}

func (s *Store) ListCardsByAuthor(_ context.Context, authorID string) ([]card.Card, error) {
	ids := s.authorIndex.Lookup(authorID)
	result := make([]card.Card, 0, len(ids))
	for _, id := range ids {
		c, err := s.cards.Get(id)
		if err != nil {
			continue
		}
		result = append(result, c)
	}
	return result, nil
}

func (s *Store) CountCardsByAuthor(_ context.Context, authorID string) (int, error) {
	return s.authorIndex.Count(authorID), nil
}

func (s *Store) IncrementCorrectCount(_ context.Context, id string) (card.Card, error) {
	c, err := s.cards.Update(id, func(existing *card.Card) error {
		existing.CorrectCount++
		return nil
	})
	if err != nil {
		return card.Card{}, cardErr(id, err)
	}
	return c, nil
}

func (s *Store) SetMintStatus(_ context.Context, id string, status map[string]any) (card.Card, error) {
	c, err := s.cards.Update(id, func(existing *card.Card) error {
		existing.MintStatus = status
		return nil
	})
	if err != nil {
		return card.Card{}, cardErr(id, err)
	}
	return c, nil
}

func (s *Store) DeleteCard(_ context.Context, id string) error {
	c, err := s.cards.Get(id)
	if err != nil {
		return cardErr(id, err)
	}
	if err := s.cards.Delete(id); err != nil {
		return cardErr(id, err)
	}
	s.authorIndex.Remove(c.AuthorID, id)
	return nil
}

// LedgerStore implementation --------------------------------------------------

func (s *Store) ApplyTransaction(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	if tx.Amount <= 0 {
		return ledger.Transaction{}, ledger.ErrInvalidAmount
	}

	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()

	// Users are never removed, so checking the receiver up front means the
	// credit below cannot fail after the debit has been applied.
	if tx.To != ledger.SystemAccount && !s.users.Has(tx.To) {
		return ledger.Transaction{}, userErr(tx.To, kv.ErrNotFound)
	}

	if tx.From != ledger.SystemAccount {
		_, err := s.users.Update(tx.From, func(u *user.User) error {
			if u.Balance < tx.Amount {
				return &ledger.InsufficientFundsError{Account: u.ID, Balance: u.Balance, Required: tx.Amount}
			}
			u.Balance -= tx.Amount
			return nil
		})
		if err != nil {
			return ledger.Transaction{}, userErr(tx.From, err)
		}
	}

	if tx.To != ledger.SystemAccount {
		if _, err := s.users.Update(tx.To, func(u *user.User) error {
			u.Balance += tx.Amount
			return nil
		}); err != nil {
			return ledger.Transaction{}, userErr(tx.To, err)
		}
	}

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if err := s.transactions.Insert(tx.ID, tx); err != nil {
		return ledger.Transaction{}, fmt.Errorf("transaction %s already recorded", tx.ID)
	}
	return tx, nil
}

func (s *Store) GetBalance(_ context.Context, userID string) (int64, error) {
	u, err := s.users.Get(userID)
	if err != nil {
		return 0, userErr(userID, err)
	}
	return u.Balance, nil
}

func (s *Store) ListTransactions(_ context.Context, account string, limit int) ([]ledger.Transaction, error) {
	matched := s.transactions.Filter(func(tx ledger.Transaction) bool {
		return tx.Involves(account)
	})
	result := make([]ledger.Transaction, 0, len(matched))
	for i := len(matched) - 1; i >= 0; i-- {
		result = append(result, matched[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *Store) ListAllTransactions(_ context.Context) ([]ledger.Transaction, error) {
	return s.transactions.Values(), nil
}

func (s *Store) Snapshot(_ context.Context) (ledger.Snapshot, error) {
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()

	users := s.users.Values()
	snap := ledger.Snapshot{
		Balances:     make([]ledger.AccountBalance, 0, len(users)),
		Transactions: s.transactions.Values(),
	}
	for _, u := range users {
		snap.Balances = append(snap.Balances, ledger.AccountBalance{UserID: u.ID, Balance: u.Balance})
	}
	return snap, nil
}

// Helpers ---------------------------------------------------------------------

func userErr(id string, err error) error {
	if errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("%w: %s", user.ErrNotFound, id)
	}
	return err
}

func cardErr(id string, err error) error {
	if errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("%w: %s", card.ErrNotFound, id)
	}
	return err
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
