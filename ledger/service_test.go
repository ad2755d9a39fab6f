package ledger_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen/credits-engine/ledger"
	"github.com/lumen/credits-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// newTestService opens a file-backed store so concurrency tests exercise
// the real WAL and busy-timeout path.
func newTestService(t *testing.T) *ledger.Service {
	t.Helper()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "credits.db"), sqlite.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return ledger.NewService(store, 20)
}

// =============================================================================
// BOOTSTRAP
// =============================================================================

func TestGetBalance_NewAccount_SeedsInitialAllowance(t *testing.T) {
	// GIVEN: An account id never seen before
	// WHEN: Reading its balance
	// THEN: The account exists with the initial allowance granted

	svc := newTestService(t)
	ctx := context.Background()

	balance, err := svc.GetBalance(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, ledger.Balance{Total: 20, Used: 0, Remaining: 20}, balance)

	// The seed is recorded as a real grant transaction
	txs, err := svc.History(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.TxGrant, txs[0].Type)
	assert.Equal(t, int64(20), txs[0].Amount)
	assert.Equal(t, "initial_allocation", txs[0].Source)
	assert.Equal(t, "initial:s1", txs[0].IdempotencyKey)
}

func TestBootstrap_Idempotent(t *testing.T) {
	// GIVEN: An account already bootstrapped
	// WHEN: Touching it again via any operation
	// THEN: The allowance is not granted a second time

	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.GetBalance(ctx, "s1")
	require.NoError(t, err)
	balance, err := svc.GetBalance(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, int64(20), balance.Total, "allowance must be seeded exactly once")
}

func TestBootstrap_ConcurrentFirstTouch_SingleSeed(t *testing.T) {
	// GIVEN: An unseen account id
	// WHEN: Many requests race on the first touch
	// THEN: All observe total = initial allowance, never double-seeded

	svc := newTestService(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.GetBalance(ctx, "fresh")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	balance, err := svc.GetBalance(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(20), balance.Total)
	assert.Equal(t, int64(0), balance.Used)
}

// =============================================================================
// GRANT
// =============================================================================

func TestGrant_IncreasesTotal(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	balance, err := svc.Grant(ctx, "s1", 50, "purchase", "checkout-1")
	require.NoError(t, err)

	assert.Equal(t, ledger.Balance{Total: 70, Used: 0, Remaining: 70}, balance)
}

func TestGrant_SameKey_AppliedOnce(t *testing.T) {
	// GIVEN: A grant applied with key K
	// WHEN: The same grant is retried with key K (webhook redelivery)
	// THEN: The balance is unchanged by the retry

	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.Grant(ctx, "s1", 50, "purchase", "evt_123")
	require.NoError(t, err)

	second, err := svc.Grant(ctx, "s1", 50, "purchase", "evt_123")
	require.NoError(t, err)

	assert.Equal(t, first, second, "retry must not change state")
	assert.Equal(t, int64(70), second.Total)
}

func TestGrant_ConcurrentSameKey_AppliedOnce(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Grant(ctx, "s1", 50, "purchase", "evt_123")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	balance, err := svc.GetBalance(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(70), balance.Total, "exactly one grant must apply")
}

func TestGrant_InvalidInput_RejectedBeforeStorage(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Grant(ctx, "s1", 0, "purchase", "")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = svc.Grant(ctx, "s1", -5, "purchase", "")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = svc.Grant(ctx, "", 5, "purchase", "")
	assert.ErrorIs(t, err, ledger.ErrEmptyAccountID)

	assert.True(t, ledger.IsClientError(err))
	assert.False(t, ledger.IsRetryable(err))
}

// =============================================================================
// CONSUME
// =============================================================================

func TestConsume_ExampleScenario(t *testing.T) {
	// The canonical flow: seed 20, debit 1, replay, drain, overdraw.

	svc := newTestService(t)
	ctx := context.Background()

	balance, err := svc.GetBalance(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Balance{Total: 20, Used: 0, Remaining: 20}, balance)

	res, err := svc.Consume(ctx, "s1", 1, "translation", "t1")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.True(t, res.Charged)
	assert.Equal(t, ledger.Balance{Total: 20, Used: 1, Remaining: 19}, res.Balance)

	// Replay with the same key: success, but no second charge
	res, err = svc.Consume(ctx, "s1", 1, "translation", "t1")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.False(t, res.Charged)
	assert.Equal(t, ledger.Balance{Total: 20, Used: 1, Remaining: 19}, res.Balance)

	// Drain the rest
	res, err = svc.Consume(ctx, "s1", 19, "translation", "t2")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.True(t, res.Charged)
	assert.Equal(t, int64(0), res.Balance.Remaining)

	// Out of credits
	res, err = svc.Consume(ctx, "s1", 1, "translation", "t3")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.False(t, res.Charged)
	assert.Equal(t, int64(0), res.Balance.Remaining)
}

func TestConsume_Insufficient_NoMutation(t *testing.T) {
	// GIVEN: 20 credits remaining
	// WHEN: Consuming 21
	// THEN: ok=false and nothing changed, including the transaction log

	svc := newTestService(t)
	ctx := context.Background()

	res, err := svc.Consume(ctx, "s1", 21, "translation", "t1")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, ledger.Balance{Total: 20, Used: 0, Remaining: 20}, res.Balance)

	txs, err := svc.History(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1, "only the bootstrap grant should exist")
}

func TestConsume_ConcurrentSameKey_SingleDebit(t *testing.T) {
	// GIVEN: Two simultaneous consume calls sharing one idempotency key
	// THEN: Exactly one debit is applied

	svc := newTestService(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	results := make([]ledger.ConsumeResult, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Consume(ctx, "s1", 1, "translation", "t1")
		}(i)
	}
	wg.Wait()

	charged := 0
	for i := range results {
		require.NoError(t, errs[i])
		assert.True(t, results[i].OK)
		if results[i].Charged {
			charged++
		}
	}
	assert.Equal(t, 1, charged, "same key must charge exactly once")

	balance, err := svc.GetBalance(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), balance.Used)
}

func TestConsume_ConcurrentDifferentKeys_ExactBalance(t *testing.T) {
	// GIVEN: An account with exactly 1 credit remaining
	// WHEN: Two simultaneous consumes with different keys race on it
	// THEN: One succeeds, one is refused; never both

	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.GetBalance(ctx, "s1")
	require.NoError(t, err)
	res, err := svc.Consume(ctx, "s1", 19, "translation", "drain")
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Balance.Remaining)

	var wg sync.WaitGroup
	results := make([]ledger.ConsumeResult, 2)
	errs := make([]error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Consume(ctx, "s1", 1, "translation", fmt.Sprintf("race-%d", i))
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	succeeded := 0
	for _, r := range results {
		if r.OK {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one winner on an exact balance")

	balance, err := svc.GetBalance(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.Remaining)
	assert.GreaterOrEqual(t, balance.Total, balance.Used, "total >= used must always hold")
}

// =============================================================================
// ISOLATION & REFUNDS
// =============================================================================

func TestAccounts_Isolated(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Consume(ctx, "a", 5, "translation", "a-1")
	require.NoError(t, err)
	_, err = svc.Grant(ctx, "a", 100, "purchase", "a-2")
	require.NoError(t, err)

	balance, err := svc.GetBalance(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, ledger.Balance{Total: 20, Used: 0, Remaining: 20}, balance,
		"activity on account a must not touch account b")
}

func TestRefund_RoundTrip(t *testing.T) {
	// GIVEN: A consume charged for a downstream call that then failed
	// WHEN: The caller refunds via grant with a key tied to the operation
	// THEN: The balance returns exactly to its pre-consume value

	svc := newTestService(t)
	ctx := context.Background()

	before, err := svc.GetBalance(ctx, "s1")
	require.NoError(t, err)

	res, err := svc.Consume(ctx, "s1", 1, "translation", "req-42")
	require.NoError(t, err)
	require.True(t, res.Charged)

	after, err := svc.Grant(ctx, "s1", 1, "translation_refund", "refund:req-42")
	require.NoError(t, err)

	assert.Equal(t, before.Remaining, after.Remaining)

	// The refund itself is idempotent across caller retries
	again, err := svc.Grant(ctx, "s1", 1, "translation_refund", "refund:req-42")
	require.NoError(t, err)
	assert.Equal(t, after, again)
}

// =============================================================================
// HISTORY
// =============================================================================

func TestHistory_NewestFirst(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Grant(ctx, "s1", 50, "purchase", "p1")
	require.NoError(t, err)
	_, err = svc.Consume(ctx, "s1", 3, "translation", "c1")
	require.NoError(t, err)

	txs, err := svc.History(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, txs, 3)

	assert.Equal(t, ledger.TxConsume, txs[0].Type)
	assert.Equal(t, ledger.TxGrant, txs[1].Type)
	assert.Equal(t, "initial_allocation", txs[2].Source)
}

func TestHistory_LimitApplied(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Grant(ctx, "s1", 1, "purchase", fmt.Sprintf("p%d", i))
		require.NoError(t, err)
	}

	txs, err := svc.History(ctx, "s1", 2)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}
