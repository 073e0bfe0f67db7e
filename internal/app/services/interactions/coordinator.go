// Package interactions sequences the operations that touch both the ledger
// and the card repository, so callers see them as single steps.
package interactions

import (
	"context"
	"fmt"

	"github.com/cardverse/token_layer/internal/app/domain/card"
	"github.com/cardverse/token_layer/internal/app/domain/ledger"
	"github.com/cardverse/token_layer/internal/app/domain/user"
	"github.com/cardverse/token_layer/internal/app/metrics"
	"github.com/cardverse/token_layer/pkg/logger"
)

// Ledger is the token authority the coordinator charges and rewards through.
type Ledger interface {
	RewardCardCreation(ctx context.Context, userID string) (ledger.Transaction, error)
	ChargeCorrectCard(ctx context.Context, userID string) (ledger.Transaction, error)
	ChargeSpecialContent(ctx context.Context, userID string) (ledger.Transaction, error)
	Transfer(ctx context.Context, fromUserID, toUserID string, amount int64) (ledger.Transaction, error)
	GetBalance(ctx context.Context, userID string) (int64, error)
}

// Cards is the card repository.
type Cards interface {
	Create(ctx context.Context, c card.Card) (card.Card, error)
	Get(ctx context.Context, id string) (card.Card, error)
	ListByAuthor(ctx context.Context, authorID string) ([]card.Card, error)
	CountByAuthor(ctx context.Context, authorID string) (int, error)
	IncrementCorrectCount(ctx context.Context, id string) (card.Card, error)
	Discard(ctx context.Context, id string) error
}

// Distributor builds feeds.
type Distributor interface {
	DistributeInitialCards(ctx context.Context, userID string, desired int) ([]card.Card, error)
}

// Users resolves callers and records their card relations.
type Users interface {
	Get(ctx context.Context, id string) (user.User, error)
	RecordCard(ctx context.Context, userID string, rel user.Relation, cardID string) (user.User, error)
}

// Coordinator is constructed once per process and shares its collaborators
// with the rest of the application.
type Coordinator struct {
	ledger      Ledger
	cards       Cards
	distributor Distributor
	users       Users
	log         *logger.Logger
}

// New constructs a coordinator.
func New(l Ledger, c Cards, d Distributor, u Users, log *logger.Logger) *Coordinator {
	if log == nil {
		log = logger.NewDefault("interactions")
	}
	return &Coordinator{ledger: l, cards: c, distributor: d, users: u, log: log}
}

// CardInput is a user's request to publish a card.
type CardInput struct {
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	AuthorID  string   `json:"-"`
	MediaURLs []string `json:"media_urls,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// CreateResult reports what publishing a card did.
type CreateResult struct {
	Card   card.Card          `json:"card"`
	Reward ledger.Transaction `json:"reward"`
	// InitialFeed is set when this was the author's first card.
	InitialFeed []card.Card `json:"initial_feed,omitempty"`
}

// CorrectResult reports a successful correct mark.
type CorrectResult struct {
	Card        card.Card          `json:"card"`
	Transaction ledger.Transaction `json:"transaction"`
}

// CreateCard stores the card, rewards the author and, on the author's first
// card, builds their initial feed. A failed reward removes the card again.
func (c *Coordinator) CreateCard(ctx context.Context, in CardInput) (result CreateResult, err error) {
	defer func() { metrics.RecordInteraction("create", err) }()

	if _, err = c.users.Get(ctx, in.AuthorID); err != nil {
		return CreateResult{}, err
	}

	created, err := c.cards.Create(ctx, card.Card{
		Title:     in.Title,
		Content:   in.Content,
		AuthorID:  in.AuthorID,
		MediaURLs: in.MediaURLs,
		Tags:      in.Tags,
	})
	if err != nil {
		return CreateResult{}, err
	}

	reward, err := c.ledger.RewardCardCreation(ctx, in.AuthorID)
	if err != nil {
		if discardErr := c.cards.Discard(ctx, created.ID); discardErr != nil {
			c.log.WithError(discardErr).WithField("card_id", created.ID).Error("rollback of unrewarded card failed")
		}
		return CreateResult{}, fmt.Errorf("reward card creation: %w", err)
	}

	if _, recErr := c.users.RecordCard(ctx, in.AuthorID, user.RelationAuthored, created.ID); recErr != nil {
		c.log.WithError(recErr).WithField("card_id", created.ID).Warn("record authored card failed")
	}

	result = CreateResult{Card: created, Reward: reward}
	count, countErr := c.cards.CountByAuthor(ctx, in.AuthorID)
	if countErr != nil {
		c.log.WithError(countErr).WithField("user_id", in.AuthorID).Warn("count authored cards failed")
		return result, nil
	}
	if count == 1 {
		feed, feedErr := c.distributor.DistributeInitialCards(ctx, in.AuthorID, 0)
		if feedErr != nil {
			c.log.WithError(feedErr).WithField("user_id", in.AuthorID).Warn("initial feed distribution failed")
			return result, nil
		}
		result.InitialFeed = feed
	}
	return result, nil
}

// MarkCorrect charges the caller and then bumps the card's counter. The
// card is checked first so an unknown card costs nothing, and the counter is
// never bumped when the charge fails.
func (c *Coordinator) MarkCorrect(ctx context.Context, cardID, userID string) (result CorrectResult, err error) {
	defer func() { metrics.RecordInteraction("correct", err) }()

	if _, err = c.cards.Get(ctx, cardID); err != nil {
		return CorrectResult{}, err
	}

	tx, err := c.ledger.ChargeCorrectCard(ctx, userID)
	if err != nil {
		return CorrectResult{}, err
	}

	updated, err := c.cards.IncrementCorrectCount(ctx, cardID)
	if err != nil {
		c.log.WithError(err).
			WithField("card_id", cardID).
			WithField("tx_id", tx.ID).
			Error("correct charge recorded but counter increment failed")
		return CorrectResult{}, fmt.Errorf("increment correct count: %w", err)
	}

	if _, recErr := c.users.RecordCard(ctx, userID, user.RelationCorrect, cardID); recErr != nil {
		c.log.WithError(recErr).WithField("card_id", cardID).Warn("record correct card failed")
	}
	return CorrectResult{Card: updated, Transaction: tx}, nil
}

// MarkUnnecessary files the card in the caller's unnecessary set. It is
// free of charge.
func (c *Coordinator) MarkUnnecessary(ctx context.Context, cardID, userID string) (crd card.Card, err error) {
	defer func() { metrics.RecordInteraction("unnecessary", err) }()

	crd, err = c.cards.Get(ctx, cardID)
	if err != nil {
		return card.Card{}, err
	}
	if _, err = c.users.RecordCard(ctx, userID, user.RelationUnnecessary, cardID); err != nil {
		return card.Card{}, err
	}
	return crd, nil
}

// UnlockSpecialContent charges the special content cost.
func (c *Coordinator) UnlockSpecialContent(ctx context.Context, userID string) (tx ledger.Transaction, err error) {
	defer func() { metrics.RecordInteraction("special_content", err) }()
	return c.ledger.ChargeSpecialContent(ctx, userID)
}

// Transfer passes straight through to the ledger.
func (c *Coordinator) Transfer(ctx context.Context, fromUserID, toUserID string, amount int64) (ledger.Transaction, error) {
	return c.ledger.Transfer(ctx, fromUserID, toUserID, amount)
}

// GetBalance returns the caller's balance.
func (c *Coordinator) GetBalance(ctx context.Context, userID string) (int64, error) {
	return c.ledger.GetBalance(ctx, userID)
}

// GetFeed returns the caller's feed of other authors' cards.
func (c *Coordinator) GetFeed(ctx context.Context, userID string) ([]card.Card, error) {
	if _, err := c.users.Get(ctx, userID); err != nil {
		return nil, err
	}
	return c.distributor.DistributeInitialCards(ctx, userID, 0)
}

// ListMyCards returns the cards the caller authored.
func (c *Coordinator) ListMyCards(ctx context.Context, userID string) ([]card.Card, error) {
	if _, err := c.users.Get(ctx, userID); err != nil {
		return nil, err
	}
	return c.cards.ListByAuthor(ctx, userID)
}
