package ledger

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	domain "github.com/cardverse/token_layer/internal/app/domain/ledger"
	"github.com/cardverse/token_layer/internal/app/domain/user"
	"github.com/cardverse/token_layer/internal/app/events"
	"github.com/cardverse/token_layer/internal/app/storage/memory"
	"github.com/cardverse/token_layer/pkg/logger"
	"github.com/cardverse/token_layer/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	return New(store, DefaultPricing(), nil, logger.NewNop()), store
}

func signup(t *testing.T, svc *Service, store *memory.Store, email string) user.User {
	t.Helper()
	u, err := store.CreateUser(context.Background(), user.User{Email: email})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := svc.GrantInitialBalance(context.Background(), u.ID); err != nil {
		t.Fatalf("grant initial balance: %v", err)
	}
	return u
}

func TestService_RewardsAndCharges(t *testing.T) {
	svc, store := newTestLedger(t)
	ctx := context.Background()
	alice := signup(t, svc, store, "alice@example.com")

	if bal, _ := svc.GetBalance(ctx, alice.ID); bal != 15 {
		t.Fatalf("expected initial balance 15, got %d", bal)
	}

	tx, err := svc.RewardCardCreation(ctx, alice.ID)
	if err != nil {
		t.Fatalf("reward: %v", err)
	}
	if tx.From != domain.SystemAccount || tx.Kind != domain.KindCardCreation || tx.Amount != 5 {
		t.Fatalf("unexpected reward transaction: %+v", tx)
	}

	if _, err := svc.ChargeCorrectCard(ctx, alice.ID); err != nil {
		t.Fatalf("charge correct: %v", err)
	}
	if _, err := svc.ChargeSpecialContent(ctx, alice.ID); err != nil {
		t.Fatalf("charge special: %v", err)
	}
	if bal, _ := svc.GetBalance(ctx, alice.ID); bal != 13 {
		t.Fatalf("expected 15+5-2-5=13, got %d", bal)
	}

	history, err := svc.ListTransactions(ctx, alice.ID, 0)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(history) != 4 || history[0].Kind != domain.KindSpecialContent || history[3].Kind != domain.KindInitialBalance {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestService_InsufficientFundsChangesNothing(t *testing.T) {
	svc, store := newTestLedger(t)
	ctx := context.Background()
	alice := signup(t, svc, store, "alice@example.com")

	for i := 0; i < 3; i++ {
		if _, err := svc.ChargeSpecialContent(ctx, alice.ID); err != nil {
			t.Fatalf("charge %d: %v", i, err)
		}
	}

	_, err := svc.ChargeCorrectCard(ctx, alice.ID)
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	var detail *domain.InsufficientFundsError
	if !errors.As(err, &detail) || detail.Balance != 0 || detail.Required != 2 {
		t.Fatalf("unexpected error detail: %v", err)
	}

	history, _ := svc.ListTransactions(ctx, alice.ID, 0)
	if len(history) != 4 {
		t.Fatalf("failed charge must not be recorded, got %d entries", len(history))
	}
}

func TestService_TransferRejection(t *testing.T) {
	svc, store := newTestLedger(t)
	ctx := context.Background()
	alice := signup(t, svc, store, "alice@example.com")
	bob := signup(t, svc, store, "bob@example.com")

	cases := []struct {
		name     string
		from, to string
		amount   int64
	}{
		{"negative amount", alice.ID, bob.ID, -5},
		{"zero amount", alice.ID, bob.ID, 0},
		{"self transfer", alice.ID, alice.ID, 10},
		{"missing receiver", alice.ID, "", 1},
		{"system sender", domain.SystemAccount, bob.ID, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Transfer(ctx, tc.from, tc.to, tc.amount)
			assert.ErrorIs(t, err, domain.ErrInvalidTransfer)
		})
	}

	aliceBal, _ := svc.GetBalance(ctx, alice.ID)
	bobBal, _ := svc.GetBalance(ctx, bob.ID)
	assert.Equal(t, int64(15), aliceBal)
	assert.Equal(t, int64(15), bobBal)

	_, err := svc.Transfer(ctx, alice.ID, bob.ID, 16)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	tx, err := svc.Transfer(ctx, alice.ID, bob.ID, 15)
	require.NoError(t, err)
	assert.Equal(t, domain.KindTransfer, tx.Kind)
	aliceBal, _ = svc.GetBalance(ctx, alice.ID)
	bobBal, _ = svc.GetBalance(ctx, bob.ID)
	assert.Equal(t, int64(0), aliceBal)
	assert.Equal(t, int64(30), bobBal)

	_, err = svc.Transfer(ctx, alice.ID, "ghost", 1)
	assert.Error(t, err)
}

func TestService_CreateTransactionValidation(t *testing.T) {
	svc, store := newTestLedger(t)
	ctx := context.Background()
	alice := signup(t, svc, store, "alice@example.com")

	_, err := svc.CreateTransaction(ctx, domain.SystemAccount, alice.ID, 0, domain.KindCardCreation)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.CreateTransaction(ctx, domain.SystemAccount, alice.ID, 1, domain.Kind("bonus"))
	assert.ErrorIs(t, err, domain.ErrInvalidKind)

	_, err = svc.GetBalance(ctx, "ghost")
	assert.ErrorIs(t, err, user.ErrNotFound)

	_, err = svc.ChargeCorrectCard(ctx, "ghost")
	assert.ErrorIs(t, err, user.ErrNotFound)
}

func TestService_PublishesCommittedTransactions(t *testing.T) {
	store := memory.New()
	hub := events.NewHub(16)
	svc := New(store, DefaultPricing(), hub, logger.NewNop())
	ctx := context.Background()

	alice := signup(t, svc, store, "alice@example.com")

	var seen []domain.Kind
	cancel := hub.SubscribeAccount(alice.ID, func(tx domain.Transaction) {
		seen = append(seen, tx.Kind)
	})
	defer cancel()

	_, _ = svc.RewardCardCreation(ctx, alice.ID)
	_, _ = svc.Transfer(ctx, alice.ID, alice.ID, 1)
	for i := 0; i < 5; i++ {
		_, _ = svc.ChargeSpecialContent(ctx, alice.ID)
	}

	// 20 tokens cover four special-content charges; the fifth fails and is not published.
	require.Len(t, seen, 5)
	assert.Equal(t, domain.KindCardCreation, seen[0])
	assert.Len(t, hub.Recent(0), 6)
}

func TestService_StoreFailureLeavesNoTrace(t *testing.T) {
	mem := memory.New()
	store := testutil.NewFaultyLedgerStore(mem)
	publisher := &testutil.RecordingPublisher{}
	svc := New(store, DefaultPricing(), publisher, logger.NewNop())
	ctx := context.Background()

	alice := signup(t, svc, mem, "alice@example.com")
	require.Len(t, publisher.Published(), 1)

	boom := errors.New("disk full")
	store.FailWith(boom)
	_, err := svc.ChargeCorrectCard(ctx, alice.ID)
	require.ErrorIs(t, err, boom)

	bal, err := svc.GetBalance(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(15), bal)
	assert.Len(t, publisher.Published(), 1, "failed transactions are not published")

	txs, err := svc.ListTransactions(ctx, alice.ID, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	store.FailWith(nil)
	_, err = svc.ChargeCorrectCard(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, store.Attempts())
	assert.Equal(t, domain.KindCorrect, publisher.Published()[1].Kind)
}

// Random operation sequences must never overdraw a user, and the audit
// replay must agree with the stored balances afterwards.
func TestService_SolvencyAndConservation(t *testing.T) {
	svc, store := newTestLedger(t)
	ctx := context.Background()

	users := []user.User{
		signup(t, svc, store, "a@example.com"),
		signup(t, svc, store, "b@example.com"),
		signup(t, svc, store, "c@example.com"),
	}

	rng := rand.New(rand.NewSource(42))
	var rewards, charges int64
	for i := 0; i < 500; i++ {
		u := users[rng.Intn(len(users))]
		switch rng.Intn(4) {
		case 0:
			if tx, err := svc.RewardCardCreation(ctx, u.ID); err == nil {
				rewards += tx.Amount
			}
		case 1:
			if tx, err := svc.ChargeCorrectCard(ctx, u.ID); err == nil {
				charges += tx.Amount
			}
		case 2:
			if tx, err := svc.ChargeSpecialContent(ctx, u.ID); err == nil {
				charges += tx.Amount
			}
		case 3:
			other := users[rng.Intn(len(users))]
			_, _ = svc.Transfer(ctx, u.ID, other.ID, int64(rng.Intn(12)-2))
		}

		for _, check := range users {
			bal, err := svc.GetBalance(ctx, check.ID)
			require.NoError(t, err)
			require.GreaterOrEqual(t, bal, int64(0))
		}
	}

	var total int64
	for _, u := range users {
		bal, _ := svc.GetBalance(ctx, u.ID)
		total += bal
	}
	initial := int64(len(users)) * DefaultPricing().InitialBalance
	assert.Equal(t, initial, total-rewards+charges)

	report, err := svc.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean(), "violations: %+v", report.Violations)
	assert.Equal(t, total, report.Circulating)
	assert.Equal(t, report.Issued-report.Collected, report.Circulating)
}

func TestService_ConcurrentOpposingTransfers(t *testing.T) {
	svc, store := newTestLedger(t)
	ctx := context.Background()
	alice := signup(t, svc, store, "alice@example.com")
	bob := signup(t, svc, store, "bob@example.com")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = svc.Transfer(ctx, alice.ID, bob.ID, 3)
		}()
		go func() {
			defer wg.Done()
			_, _ = svc.Transfer(ctx, bob.ID, alice.ID, 3)
		}()
	}
	wg.Wait()

	aliceBal, _ := svc.GetBalance(ctx, alice.ID)
	bobBal, _ := svc.GetBalance(ctx, bob.ID)
	assert.Equal(t, int64(30), aliceBal+bobBal)
	assert.GreaterOrEqual(t, aliceBal, int64(0))
	assert.GreaterOrEqual(t, bobBal, int64(0))

	report, err := svc.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean())
}

func TestService_ConcurrentChargesRespectFloor(t *testing.T) {
	svc, store := newTestLedger(t)
	ctx := context.Background()
	alice := signup(t, svc, store, "alice@example.com")

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.ChargeCorrectCard(ctx, alice.ID); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 7, ok)
	bal, _ := svc.GetBalance(ctx, alice.ID)
	assert.Equal(t, int64(1), bal)
}

func TestAccountLocksSkipSystemAndDuplicates(t *testing.T) {
	locks := newAccountLocks()
	release := locks.lock("b", domain.SystemAccount, "a", "b")
	assert.Len(t, locks.locks, 2)
	release()

	// Re-acquiring after release must not block.
	locks.lock("a", "b")()
}

func TestService_AuditStaysCleanDuringWrites(t *testing.T) {
	svc, store := newTestLedger(t)
	ctx := context.Background()
	alice := signup(t, svc, store, "alice@example.com")
	bob := signup(t, svc, store, "bob@example.com")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_, _ = svc.RewardCardCreation(ctx, alice.ID)
			_, _ = svc.Transfer(ctx, alice.ID, bob.ID, 1)
		}
	}()

	for i := 0; i < 200; i++ {
		report, err := svc.Audit(ctx)
		require.NoError(t, err)
		require.True(t, report.Clean(), "violations: %+v", report.Violations)
	}
	<-done

	report, err := svc.Audit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Users)
	assert.Equal(t, 402, report.Transactions)
}
