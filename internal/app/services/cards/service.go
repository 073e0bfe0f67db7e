package cards

import (
	"context"
	"fmt"
	"strings"

	"github.com/cardverse/token_layer/internal/app/domain/card"
	"github.com/cardverse/token_layer/internal/app/metrics"
	"github.com/cardverse/token_layer/internal/app/storage"
	"github.com/cardverse/token_layer/pkg/logger"
)

// Service is the card repository: it validates and stores cards and serves
// author-indexed lookups.
type Service struct {
	store storage.CardStore
	log   *logger.Logger
}

// New constructs a card repository.
func New(store storage.CardStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("cards")
	}
	return &Service{store: store, log: log}
}

// Create validates and stores c, assigning an id when absent.
func (s *Service) Create(ctx context.Context, c card.Card) (card.Card, error) {
	c.Title = strings.TrimSpace(c.Title)
	c.AuthorID = strings.TrimSpace(c.AuthorID)
	if c.Title == "" {
		return card.Card{}, fmt.Errorf("%w: title is required", card.ErrInvalid)
	}
	if c.AuthorID == "" {
		return card.Card{}, fmt.Errorf("%w: author_id is required", card.ErrInvalid)
	}
	c.MediaURLs = normalizeList(c.MediaURLs)
	c.Tags = normalizeList(c.Tags)
	c.CorrectCount = 0

	created, err := s.store.CreateCard(ctx, c)
	if err != nil {
		return card.Card{}, err
	}
	metrics.RecordCardCreated(created.IsFiller())
	s.log.WithField("card_id", created.ID).
		WithField("author_id", created.AuthorID).
		Info("card created")
	return created, nil
}

// Get fetches a card by id.
func (s *Service) Get(ctx context.Context, id string) (card.Card, error) {
	return s.store.GetCard(ctx, id)
}

// List returns every card in insertion order.
func (s *Service) List(ctx context.Context) ([]card.Card, error) {
	return s.store.ListCards(ctx)
}

// ListByAuthor returns the cards written by authorID in insertion order.
func (s *Service) ListByAuthor(ctx context.Context, authorID string) ([]card.Card, error) {
	return s.store.ListCardsByAuthor(ctx, authorID)
}

// CountByAuthor returns how many cards authorID has written.
func (s *Service) CountByAuthor(ctx context.Context, authorID string) (int, error) {
	return s.store.CountCardsByAuthor(ctx, authorID)
}

// IncrementCorrectCount atomically bumps the card's correct counter.
func (s *Service) IncrementCorrectCount(ctx context.Context, id string) (card.Card, error) {
	return s.store.IncrementCorrectCount(ctx, id)
}

// AttachMintStatus stores an opaque minting status blob on the card.
func (s *Service) AttachMintStatus(ctx context.Context, id string, status map[string]any) (card.Card, error) {
	if status == nil {
		return card.Card{}, fmt.Errorf("%w: mint status is required", card.ErrInvalid)
	}
	updated, err := s.store.SetMintStatus(ctx, id, status)
	if err != nil {
		return card.Card{}, err
	}
	s.log.WithField("card_id", id).Info("card mint status updated")
	return updated, nil
}

// Discard removes a card whose creation could not be completed. Published
// cards are never deleted.
func (s *Service) Discard(ctx context.Context, id string) error {
	if err := s.store.DeleteCard(ctx, id); err != nil {
		return err
	}
	s.log.WithField("card_id", id).Warn("card creation rolled back")
	return nil
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
