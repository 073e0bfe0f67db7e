package storage

import (
	"context"

	"github.com/cardverse/token_layer/internal/app/domain/card"
	"github.com/cardverse/token_layer/internal/app/domain/ledger"
	"github.com/cardverse/token_layer/internal/app/domain/user"
)

// Pinger is implemented by stores backed by an external server.
type Pinger interface {
	Ping(ctx context.Context) error
}

// UserStore persists user records. Balances are owned by LedgerStore and
// are never written through this interface.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)
	AddUserCard(ctx context.Context, userID string, rel user.Relation, cardID string) (user.User, error)
}

// CardStore persists cards and maintains the author index.
type CardStore interface {
	CreateCard(ctx context.Context, c card.Card) (card.Card, error)
	GetCard(ctx context.Context, id string) (card.Card, error)
	ListCards(ctx context.Context) ([]card.Card, error)
	ListCardsByAuthor(ctx context.Context, authorID string) ([]card.Card, error)
	CountCardsByAuthor(ctx context.Context, authorID string) (int, error)
	IncrementCorrectCount(ctx context.Context, id string) (card.Card, error)
	SetMintStatus(ctx context.Context, id string, status map[string]any) (card.Card, error)
	// DeleteCard exists only to roll back a creation whose reward failed.
	DeleteCard(ctx context.Context, id string) error
}

// LedgerStore owns balances and the append-only transaction log.
type LedgerStore interface {
	// ApplyTransaction atomically verifies the sender can cover the amount,
	// moves the balances and appends tx. On any error nothing changes.
	ApplyTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error)
	GetBalance(ctx context.Context, userID string) (int64, error)
	// ListTransactions returns the entries involving account, newest first.
	// A limit of zero or less returns everything.
	ListTransactions(ctx context.Context, account string, limit int) ([]ledger.Transaction, error)
	// ListAllTransactions returns the whole log in append order.
	ListAllTransactions(ctx context.Context) ([]ledger.Transaction, error)
	// Snapshot returns all balances and the log as of one instant.
	Snapshot(ctx context.Context) (ledger.Snapshot, error)
}
