// Package testutil provides shared fakes for exercising the ledger and its
// collaborators in tests.
package testutil

import (
	"context"
	"sync"

	"github.com/cardverse/token_layer/internal/app/domain/ledger"
	"github.com/cardverse/token_layer/internal/app/storage"
)

// RecordingPublisher captures published transactions in order.
type RecordingPublisher struct {
	mu  sync.Mutex
	txs []ledger.Transaction
}

// Publish records tx.
func (p *RecordingPublisher) Publish(tx ledger.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.txs = append(p.txs, tx)
}

// Published returns a copy of everything recorded so far.
func (p *RecordingPublisher) Published() []ledger.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ledger.Transaction, len(p.txs))
	copy(out, p.txs)
	return out
}

// FaultyLedgerStore wraps a LedgerStore and fails ApplyTransaction with
// ApplyErr while it is set. Reads pass through.
type FaultyLedgerStore struct {
	storage.LedgerStore

	mu       sync.Mutex
	applyErr error
	attempts int
}

// NewFaultyLedgerStore wraps inner.
func NewFaultyLedgerStore(inner storage.LedgerStore) *FaultyLedgerStore {
	return &FaultyLedgerStore{LedgerStore: inner}
}

// FailWith makes subsequent applies return err; nil restores normal behaviour.
func (s *FaultyLedgerStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyErr = err
}

// Attempts reports how many applies were attempted, failed or not.
func (s *FaultyLedgerStore) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *FaultyLedgerStore) ApplyTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	s.mu.Lock()
	s.attempts++
	err := s.applyErr
	s.mu.Unlock()
	if err != nil {
		return ledger.Transaction{}, err
	}
	return s.LedgerStore.ApplyTransaction(ctx, tx)
}
