// Package distribution decides which cards a user is shown, synthesising
// platform filler cards when the catalog is too small.
package distribution

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cardverse/token_layer/internal/app/domain/card"
	"github.com/cardverse/token_layer/pkg/logger"
)

// DefaultFeedSize is used when no size is configured or requested.
const DefaultFeedSize = 5

// Repository is the slice of the card repository the engine needs.
type Repository interface {
	List(ctx context.Context) ([]card.Card, error)
	Create(ctx context.Context, c card.Card) (card.Card, error)
}

// FillerGenerator synthesises the n-th filler card of a feed (1-based).
type FillerGenerator interface {
	Generate(n int) card.Card
}

// SampleGenerator produces the platform's generic onboarding cards.
type SampleGenerator struct{}

// Generate implements FillerGenerator.
func (SampleGenerator) Generate(n int) card.Card {
	return card.Card{
		Title:    fmt.Sprintf("Sample Card %d", n),
		Content:  "This is a sample card to help you get started with the platform.",
		AuthorID: card.SystemAuthor,
		Tags:     []string{"sample"},
	}
}

// Engine builds feeds. Filler synthesis is serialised so concurrent callers
// never create duplicate fillers for the same shortfall.
type Engine struct {
	repo     Repository
	filler   FillerGenerator
	feedSize int
	log      *logger.Logger

	mu sync.Mutex
}

// New constructs an engine. A nil filler uses SampleGenerator and a
// non-positive feedSize uses DefaultFeedSize.
func New(repo Repository, filler FillerGenerator, feedSize int, log *logger.Logger) *Engine {
	if filler == nil {
		filler = SampleGenerator{}
	}
	if feedSize <= 0 {
		feedSize = DefaultFeedSize
	}
	if log == nil {
		log = logger.NewDefault("distribution")
	}
	return &Engine{repo: repo, filler: filler, feedSize: feedSize, log: log}
}

// FeedSize returns the configured number of cards per feed.
func (e *Engine) FeedSize() int {
	return e.feedSize
}

// DistributeInitialCards returns exactly desired cards not authored by
// userID, in catalog order, topping the catalog up with filler cards when
// it is short. Fillers persist, so repeated calls reuse them. A
// non-positive desired uses the configured feed size.
func (e *Engine) DistributeInitialCards(ctx context.Context, userID string, desired int) ([]card.Card, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || userID == card.SystemAuthor {
		return nil, fmt.Errorf("a user id is required to build a feed")
	}
	if desired <= 0 {
		desired = e.feedSize
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	all, err := e.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	pool := make([]card.Card, 0, len(all))
	for _, c := range all {
		if c.AuthorID != userID {
			pool = append(pool, c)
		}
	}

	created := 0
	for len(pool) < desired {
		filler := e.filler.Generate(len(pool) + 1)
		filler.AuthorID = card.SystemAuthor
		stored, err := e.repo.Create(ctx, filler)
		if err != nil {
			return nil, fmt.Errorf("create filler card: %w", err)
		}
		pool = append(pool, stored)
		created++
	}
	if created > 0 {
		e.log.WithField("user_id", userID).
			WithField("fillers", created).
			Info("synthesised filler cards for feed")
	}
	return pool[:desired], nil
}
