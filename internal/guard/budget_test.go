package guard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"agentpay/internal/storage"
	"agentpay/pkg/clock"
	"agentpay/pkg/payerr"
)

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func payCtx(wallet, amount string) Context {
	return Context{WalletID: wallet, Amount: amt(amount), Recipient: "0xabc"}
}

func TestBudgetReserveCommit(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(clock.NewReal())
	g := NewBudgetGuard(store, clock.NewReal(), BudgetConfig{Daily: amt("10")})

	tok, err := g.Reserve(ctx, payCtx("w1", "6"))
	require.NoError(t, err)
	require.NoError(t, g.Commit(ctx, payCtx("w1", "6"), tok))

	// 6 committed, 5 more does not fit.
	_, err = g.Reserve(ctx, payCtx("w1", "5"))
	require.Equal(t, payerr.KindGuardBlocked, payerr.KindOf(err))

	// 4 still fits.
	_, err = g.Reserve(ctx, payCtx("w1", "4"))
	require.NoError(t, err)
}

func TestBudgetReleaseReturnsHeadroom(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(clock.NewReal())
	g := NewBudgetGuard(store, clock.NewReal(), BudgetConfig{Daily: amt("10")})

	tok, err := g.Reserve(ctx, payCtx("w1", "8"))
	require.NoError(t, err)

	_, err = g.Reserve(ctx, payCtx("w1", "8"))
	require.Error(t, err, "headroom is claimed while reserved")

	require.NoError(t, g.Release(ctx, payCtx("w1", "8"), tok))
	_, err = g.Reserve(ctx, payCtx("w1", "8"))
	require.NoError(t, err, "released headroom is usable again")
}

func TestBudgetFailedReserveLeavesNoResidue(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(clock.NewReal())
	g := NewBudgetGuard(store, clock.NewReal(), BudgetConfig{Daily: amt("10")})

	for i := 0; i < 5; i++ {
		_, err := g.Reserve(ctx, payCtx("w1", "11"))
		require.Equal(t, payerr.KindGuardBlocked, payerr.KindOf(err))
	}
	// A full-budget payment still fits: the rejected reserves rolled back.
	_, err := g.Reserve(ctx, payCtx("w1", "10"))
	require.NoError(t, err)
}

func TestBudgetConcurrentReserveAtomicity(t *testing.T) {
	// 100 concurrent payments of 1 against a limit of 10: exactly 10
	// may pass, no matter how the goroutines interleave.
	ctx := context.Background()
	store := storage.NewMemory(clock.NewReal())
	g := NewBudgetGuard(store, clock.NewReal(), BudgetConfig{Total: amt("10")})

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Reserve(ctx, payCtx("w1", "1")); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 10, succeeded)
}

// budgetClock returns a fake clock and an advance func safe for use from
// multiple goroutines.
func budgetClock(start time.Time) (clock.Clock, func(time.Duration)) {
	var mu sync.Mutex
	now := start
	c := clock.NewFunc(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
	return c, advance
}

func TestBudgetDailyWindowIsRolling(t *testing.T) {
	// Daily means the trailing 24 hours: spend just before midnight still
	// counts minutes into the next calendar day.
	ctx := context.Background()
	c, advance := budgetClock(time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC))
	store := storage.NewMemory(c)
	g := NewBudgetGuard(store, c, BudgetConfig{Daily: amt("50")})

	tok, err := g.Reserve(ctx, payCtx("w1", "50"))
	require.NoError(t, err)
	require.NoError(t, g.Commit(ctx, payCtx("w1", "50"), tok))

	advance(2 * time.Minute)
	_, err = g.Reserve(ctx, payCtx("w1", "50"))
	require.Equal(t, payerr.KindGuardBlocked, payerr.KindOf(err),
		"yesterday's spend still counts against the trailing 24 hours")

	// Once the spend ages past the window it stops counting.
	advance(25 * time.Hour)
	_, err = g.Reserve(ctx, payCtx("w1", "50"))
	require.NoError(t, err)
}

func TestBudgetHourlyWindowIsRolling(t *testing.T) {
	ctx := context.Background()
	c, advance := budgetClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := storage.NewMemory(c)
	g := NewBudgetGuard(store, c, BudgetConfig{Hourly: amt("5")})

	tok, err := g.Reserve(ctx, payCtx("w1", "5"))
	require.NoError(t, err)
	require.NoError(t, g.Commit(ctx, payCtx("w1", "5"), tok))

	advance(30 * time.Minute)
	_, err = g.Reserve(ctx, payCtx("w1", "1"))
	require.Error(t, err)

	advance(32 * time.Minute)
	_, err = g.Reserve(ctx, payCtx("w1", "5"))
	require.NoError(t, err)
}

func TestBudgetCommitAcrossShardBoundary(t *testing.T) {
	// A payment reserved just before an hour boundary commits into the
	// shard it reserved from and keeps counting after the boundary.
	ctx := context.Background()
	c, advance := budgetClock(time.Date(2026, 3, 1, 23, 59, 59, 0, time.UTC))
	store := storage.NewMemory(c)
	g := NewBudgetGuard(store, c, BudgetConfig{Daily: amt("10")})

	tok, err := g.Reserve(ctx, payCtx("w1", "10"))
	require.NoError(t, err)

	advance(2 * time.Second)
	require.NoError(t, g.Commit(ctx, payCtx("w1", "10"), tok))

	_, err = g.Reserve(ctx, payCtx("w1", "1"))
	require.Equal(t, payerr.KindGuardBlocked, payerr.KindOf(err))
}

func TestBudgetSetScope(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(clock.NewReal())
	g := NewBudgetGuard(store, clock.NewReal(), BudgetConfig{Total: amt("10"), SetScoped: true})

	a := Context{WalletID: "w1", WalletSetID: "team", Amount: amt("6"), Recipient: "r"}
	b := Context{WalletID: "w2", WalletSetID: "team", Amount: amt("6"), Recipient: "r"}

	_, err := g.Reserve(ctx, a)
	require.NoError(t, err)
	_, err = g.Reserve(ctx, b)
	require.Error(t, err, "wallets in the same set share the budget")
}
