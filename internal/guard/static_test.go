package guard

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"agentpay/pkg/payerr"
)

func TestSingleTxGuard(t *testing.T) {
	ctx := context.Background()
	g := NewSingleTxGuard(SingleTxConfig{Max: amt("5")})

	_, err := g.Reserve(ctx, payCtx("w1", "5"))
	require.NoError(t, err, "at the limit is allowed")

	_, err = g.Reserve(ctx, payCtx("w1", "5.01"))
	require.Equal(t, payerr.KindGuardBlocked, payerr.KindOf(err))
	var pe *payerr.Error
	require.True(t, errors.As(err, &pe))
	require.Equal(t, "single_tx", pe.GuardName)
}

func TestSingleTxGuardMinimum(t *testing.T) {
	ctx := context.Background()
	g := NewSingleTxGuard(SingleTxConfig{Min: amt("1"), Max: amt("5")})

	_, err := g.Reserve(ctx, payCtx("w1", "0.50"))
	require.Equal(t, payerr.KindGuardBlocked, payerr.KindOf(err))

	_, err = g.Reserve(ctx, payCtx("w1", "1"))
	require.NoError(t, err, "at the minimum is allowed")
}

func TestRecipientWhitelist(t *testing.T) {
	ctx := context.Background()
	g := NewRecipientGuard(RecipientConfig{
		Allow: []string{
			"0xAbC0000000000000000000000000000000000001",
			"api.example.com",
		},
	})

	tests := []struct {
		recipient string
		allowed   bool
	}{
		{"0xabc0000000000000000000000000000000000001", true},
		{"0xABC0000000000000000000000000000000000001", true},
		{"https://api.example.com/paid/report", true},
		{"https://sub.api.example.com/x", true},
		{"https://evil.com/api.example.com", false},
		{"0xdead000000000000000000000000000000000002", false},
	}
	for _, tt := range tests {
		err := g.Check(ctx, Context{WalletID: "w1", Amount: amt("1"), Recipient: tt.recipient})
		if tt.allowed {
			require.NoError(t, err, "recipient %s", tt.recipient)
		} else {
			require.Equal(t, payerr.KindGuardBlocked, payerr.KindOf(err), "recipient %s", tt.recipient)
		}
	}
}

func TestRecipientDenyBeatsAllow(t *testing.T) {
	ctx := context.Background()
	g := NewRecipientGuard(RecipientConfig{
		Allow: []string{`^0x[0-9a-fA-F]{40}$`},
		Deny:  []string{"0xdead000000000000000000000000000000000002"},
	})

	err := g.Check(ctx, Context{Recipient: "0xdead000000000000000000000000000000000002", Amount: amt("1")})
	require.Equal(t, payerr.KindGuardBlocked, payerr.KindOf(err))

	err = g.Check(ctx, Context{Recipient: "0xabc0000000000000000000000000000000000001", Amount: amt("1")})
	require.NoError(t, err, "regex allow entry matches other addresses")
}

func TestConfirmGuardThreshold(t *testing.T) {
	ctx := context.Background()

	approvals := 0
	approve := ApproverFunc(func(_ context.Context, g Context) (bool, error) {
		approvals++
		return g.Amount.LessThan(amt("100")), nil
	})
	g := NewConfirmGuard(ConfirmConfig{Threshold: amt("10")}, approve)

	_, err := g.Reserve(ctx, payCtx("w1", "9.99"))
	require.NoError(t, err)
	require.Zero(t, approvals, "below threshold skips the approver")

	_, err = g.Reserve(ctx, payCtx("w1", "50"))
	require.NoError(t, err)
	require.Equal(t, 1, approvals)

	_, err = g.Reserve(ctx, payCtx("w1", "500"))
	require.Equal(t, payerr.KindGuardBlocked, payerr.KindOf(err))
}

func TestConfirmGuardWithoutApproverBlocks(t *testing.T) {
	ctx := context.Background()
	g := NewConfirmGuard(ConfirmConfig{Threshold: amt("10")}, nil)

	_, err := g.Reserve(ctx, payCtx("w1", "10"))
	require.Equal(t, payerr.KindGuardBlocked, payerr.KindOf(err))

	_, err = g.Reserve(ctx, payCtx("w1", "9"))
	require.NoError(t, err)
}
