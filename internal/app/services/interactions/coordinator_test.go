package interactions

import (
	"context"
	"errors"
	"testing"

	"github.com/cardverse/token_layer/internal/app/domain/card"
	"github.com/cardverse/token_layer/internal/app/domain/ledger"
	"github.com/cardverse/token_layer/internal/app/domain/user"
	"github.com/cardverse/token_layer/internal/app/services/accounts"
	"github.com/cardverse/token_layer/internal/app/services/cards"
	"github.com/cardverse/token_layer/internal/app/services/distribution"
	ledgersvc "github.com/cardverse/token_layer/internal/app/services/ledger"
	"github.com/cardverse/token_layer/internal/app/storage/memory"
	"github.com/cardverse/token_layer/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *memory.Store
	ledger   *ledgersvc.Service
	cards    *cards.Service
	accounts *accounts.Service
	coord    *Coordinator
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	log := logger.NewNop()
	store := memory.New()
	l := ledgersvc.New(store, ledgersvc.DefaultPricing(), nil, log)
	c := cards.New(store, log)
	a := accounts.New(store, l, log)
	d := distribution.New(c, nil, 5, log)
	return fixture{store: store, ledger: l, cards: c, accounts: a, coord: New(l, c, d, a, log)}
}

func (f fixture) signup(t *testing.T, email string) user.User {
	t.Helper()
	u, err := f.accounts.Create(context.Background(), email, email[:1])
	require.NoError(t, err)
	return u
}

func (f fixture) balance(t *testing.T, id string) int64 {
	t.Helper()
	bal, err := f.ledger.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return bal
}

func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := f.signup(t, "u@example.com")
	require.Equal(t, int64(15), u.Balance)

	created, err := f.coord.CreateCard(ctx, CardInput{Title: "First", Content: "hello", AuthorID: u.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(20), f.balance(t, u.ID))
	assert.Equal(t, ledger.KindCardCreation, created.Reward.Kind)
	require.Len(t, created.InitialFeed, 5)
	for _, c := range created.InitialFeed {
		assert.NotEqual(t, u.ID, c.AuthorID)
	}

	target := created.InitialFeed[0]
	res, err := f.coord.MarkCorrect(ctx, target.ID, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(18), f.balance(t, u.ID))
	assert.Equal(t, int64(1), res.Card.CorrectCount)

	for i := 0; i < 9; i++ {
		feedCard := created.InitialFeed[i%len(created.InitialFeed)]
		_, err := f.coord.MarkCorrect(ctx, feedCard.ID, u.ID)
		require.NoError(t, err, "attempt %d", i+2)
	}
	assert.Equal(t, int64(0), f.balance(t, u.ID))

	before, err := f.cards.Get(ctx, target.ID)
	require.NoError(t, err)
	_, err = f.coord.MarkCorrect(ctx, target.ID, u.ID)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.Equal(t, int64(0), f.balance(t, u.ID))
	after, err := f.cards.Get(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, before.CorrectCount, after.CorrectCount)

	profile, err := f.accounts.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{created.Card.ID}, profile.CreatedCards)
	assert.Len(t, profile.CorrectCards, 5)

	report, err := f.ledger.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean())
}

func TestCreateCardOnlyFirstCardBuildsFeed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.signup(t, "u@example.com")

	first, err := f.coord.CreateCard(ctx, CardInput{Title: "one", AuthorID: u.ID})
	require.NoError(t, err)
	assert.Len(t, first.InitialFeed, 5)

	second, err := f.coord.CreateCard(ctx, CardInput{Title: "two", AuthorID: u.ID})
	require.NoError(t, err)
	assert.Empty(t, second.InitialFeed)
	assert.Equal(t, int64(25), f.balance(t, u.ID))

	mine, err := f.coord.ListMyCards(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	_, err = f.coord.CreateCard(ctx, CardInput{Title: "ghost", AuthorID: "ghost"})
	assert.ErrorIs(t, err, user.ErrNotFound)
}

func TestMarkCorrectFailuresLeaveStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.signup(t, "a@example.com")
	poor := f.signup(t, "p@example.com")

	c, err := f.coord.CreateCard(ctx, CardInput{Title: "t", AuthorID: author.ID})
	require.NoError(t, err)

	_, err = f.coord.UnlockSpecialContent(ctx, poor.ID)
	require.NoError(t, err)
	_, err = f.coord.UnlockSpecialContent(ctx, poor.ID)
	require.NoError(t, err)
	_, err = f.coord.Transfer(ctx, poor.ID, author.ID, 4)
	require.NoError(t, err)
	require.Equal(t, int64(1), f.balance(t, poor.ID))

	_, err = f.coord.MarkCorrect(ctx, c.Card.ID, poor.ID)
	var insufficient *ledger.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(1), f.balance(t, poor.ID))
	got, _ := f.cards.Get(ctx, c.Card.ID)
	assert.Equal(t, int64(0), got.CorrectCount)

	_, err = f.coord.MarkCorrect(ctx, "missing", author.ID)
	assert.ErrorIs(t, err, card.ErrNotFound)
	assert.Equal(t, int64(20)+4, f.balance(t, author.ID))
}

func TestMarkUnnecessaryIsFree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.signup(t, "u@example.com")
	feed, err := f.coord.GetFeed(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, feed, 5)

	_, err = f.coord.MarkUnnecessary(ctx, feed[0].ID, u.ID)
	require.NoError(t, err)
	_, err = f.coord.MarkUnnecessary(ctx, feed[0].ID, u.ID)
	require.NoError(t, err)

	profile, _ := f.accounts.Get(ctx, u.ID)
	assert.Equal(t, []string{feed[0].ID}, profile.UnnecessaryCards)
	assert.Equal(t, int64(15), profile.Balance)

	_, err = f.coord.MarkUnnecessary(ctx, "missing", u.ID)
	assert.ErrorIs(t, err, card.ErrNotFound)

	_, err = f.coord.GetFeed(ctx, "ghost")
	assert.ErrorIs(t, err, user.ErrNotFound)
}

func TestTransferPassThrough(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.signup(t, "a@example.com")
	b := f.signup(t, "b@example.com")

	_, err := f.coord.Transfer(ctx, a.ID, b.ID, -5)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransfer)
	_, err = f.coord.Transfer(ctx, a.ID, a.ID, 10)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransfer)
	assert.Equal(t, int64(15), f.balance(t, a.ID))
	assert.Equal(t, int64(15), f.balance(t, b.ID))
}

type failingLedger struct {
	Ledger
}

func (failingLedger) RewardCardCreation(context.Context, string) (ledger.Transaction, error) {
	return ledger.Transaction{}, errors.New("issuance paused")
}

func TestCreateCardRollsBackWhenRewardFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.signup(t, "u@example.com")

	coord := New(failingLedger{Ledger: f.ledger}, f.cards, distribution.New(f.cards, nil, 5, logger.NewNop()), f.accounts, logger.NewNop())
	_, err := coord.CreateCard(ctx, CardInput{Title: "t", AuthorID: u.ID})
	require.Error(t, err)

	all, err := f.cards.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	profile, _ := f.accounts.Get(ctx, u.ID)
	assert.Empty(t, profile.CreatedCards)
	assert.Equal(t, int64(15), profile.Balance)
}
