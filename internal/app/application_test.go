package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cardverse/token_layer/internal/app/domain/ledger"
	"github.com/cardverse/token_layer/internal/app/services/interactions"
	"github.com/cardverse/token_layer/internal/app/storage/memory"
	"github.com/cardverse/token_layer/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToMemoryStores(t *testing.T) {
	application, err := New(Stores{}, DefaultOptions(), logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"ledger-audit"}, application.Services())
	require.NoError(t, application.Ready(context.Background()))

	ctx := context.Background()
	require.NoError(t, application.Start(ctx))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(stopCtx)
	})

	u, err := application.Accounts.Create(ctx, "alice@example.com", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(15), u.Balance)

	var streamed []ledger.Kind
	cancel := application.Events.SubscribeAccount(u.ID, func(tx ledger.Transaction) {
		streamed = append(streamed, tx.Kind)
	})
	defer cancel()

	_, err = application.Interactions.CreateCard(ctx, interactions.CardInput{Title: "t", AuthorID: u.ID})
	require.NoError(t, err)
	assert.Equal(t, []ledger.Kind{ledger.KindCardCreation}, streamed)

	report, err := application.Audit.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean())
}

func TestNewHonoursOptions(t *testing.T) {
	store := memory.New()
	opts := DefaultOptions()
	opts.Pricing.InitialBalance = 100
	opts.FeedSize = 2
	opts.AuditEnabled = false

	application, err := New(Stores{Users: store, Cards: store, Ledger: store}, opts, logger.NewNop())
	require.NoError(t, err)
	assert.NotContains(t, application.Services(), "ledger-audit")

	ctx := context.Background()
	u, err := application.Accounts.Create(ctx, "bob@example.com", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(100), u.Balance)

	feed, err := application.Interactions.GetFeed(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, feed, 2)
}

type unreachableStore struct {
	*memory.Store
	pings int
}

func (s *unreachableStore) Ping(context.Context) error {
	s.pings++
	return errors.New("connection refused")
}

func TestReadyPingsExternalStoresOnce(t *testing.T) {
	store := &unreachableStore{Store: memory.New()}
	opts := DefaultOptions()
	opts.AuditEnabled = false

	application, err := New(Stores{Users: store, Cards: store, Ledger: store}, opts, logger.NewNop())
	require.NoError(t, err)

	err = application.Ready(context.Background())
	require.ErrorContains(t, err, "connection refused")
	assert.Equal(t, 1, store.pings)
}
