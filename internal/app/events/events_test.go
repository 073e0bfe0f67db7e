package events

import (
	"testing"

	"github.com/cardverse/token_layer/internal/app/domain/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubRecentWrapsAround(t *testing.T) {
	hub := NewHub(2)
	hub.Publish(ledger.Transaction{ID: "1"})
	hub.Publish(ledger.Transaction{ID: "2"})
	hub.Publish(ledger.Transaction{ID: "3"})

	recent := hub.Recent(0)
	require.Len(t, recent, 2)
	assert.Equal(t, "3", recent[0].ID)
	assert.Equal(t, "2", recent[1].ID)
}

func TestHubSubscribeAccount(t *testing.T) {
	hub := NewHub(8)

	var seen []string
	cancel := hub.SubscribeAccount("alice", func(tx ledger.Transaction) {
		seen = append(seen, tx.ID)
	})

	hub.Publish(ledger.Transaction{ID: "a", From: "system", To: "alice"})
	hub.Publish(ledger.Transaction{ID: "b", From: "bob", To: "system"})
	hub.Publish(ledger.Transaction{ID: "c", From: "alice", To: "bob"})
	assert.Equal(t, []string{"a", "c"}, seen)

	cancel()
	assert.Equal(t, 0, hub.Subscribers())
	hub.Publish(ledger.Transaction{ID: "d", From: "system", To: "alice"})
	assert.Len(t, seen, 2)
}
