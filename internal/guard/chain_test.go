package guard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"agentpay/internal/storage"
	"agentpay/pkg/clock"
	"agentpay/pkg/payerr"
)

func TestChainReserveRollsBackOnRejection(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(clock.NewReal())

	budget := NewBudgetGuard(store, clock.NewReal(), BudgetConfig{Total: amt("10")})
	single := NewSingleTxGuard(SingleTxConfig{Max: amt("5")})
	chain := NewChain(budget, single)

	// 6 passes the budget but trips the per-transaction ceiling; the
	// budget claim must roll back.
	_, err := chain.Reserve(ctx, payCtx("w1", "6"))
	require.Equal(t, payerr.KindGuardBlocked, payerr.KindOf(err))

	res, err := chain.Reserve(ctx, payCtx("w1", "5"))
	require.NoError(t, err)
	require.NoError(t, res.Commit(ctx, payCtx("w1", "5")))

	res, err = chain.Reserve(ctx, payCtx("w1", "5"))
	require.NoError(t, err, "full budget minus committed is still available")
	require.NoError(t, res.Release(ctx, payCtx("w1", "5")))
}

func TestChainEvaluationOrder(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(clock.NewReal())

	recipient := NewRecipientGuard(RecipientConfig{Deny: []string{"0xbad0000000000000000000000000000000000001"}})
	budget := NewBudgetGuard(store, clock.NewReal(), BudgetConfig{Total: amt("10")})
	chain := NewChain(recipient, budget)

	_, err := chain.Reserve(ctx, Context{
		WalletID:  "w1",
		Amount:    amt("1"),
		Recipient: "0xbad0000000000000000000000000000000000001",
	})
	var pe *payerr.Error
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "recipient", pe.GuardName, "first guard in the chain reports")

	// The denied attempt must not have consumed budget.
	res, err := chain.Reserve(ctx, Context{
		WalletID:  "w1",
		Amount:    amt("10"),
		Recipient: "0xok00000000000000000000000000000000000002",
	})
	require.NoError(t, err)
	require.NoError(t, res.Release(ctx, payCtx("w1", "10")))
}

func TestEmptyChainAllowsEverything(t *testing.T) {
	ctx := context.Background()
	chain := NewChain()
	require.NoError(t, chain.Check(ctx, payCtx("w1", "1000000")))
	res, err := chain.Reserve(ctx, payCtx("w1", "1000000"))
	require.NoError(t, err)
	require.NoError(t, res.Commit(ctx, payCtx("w1", "1000000")))
}
