// Command agentpay-demo runs a payment flow against the in-memory fake
// provider: guards are attached, a payment settles, one is blocked, and
// a payment intent is created and confirmed. It exercises the full
// pipeline without touching a real wallet API.
//
// Configuration is read from the environment (see internal/config);
// AGENTPAY_STORAGE=redis with AGENTPAY_REDIS_URL runs the same flow on a
// shared Redis backend.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"agentpay"
	"agentpay/internal/custody"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "agentpay-demo: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	provider := custody.NewFake()
	provider.AddWallet(custody.Wallet{
		ID:      "agent-wallet",
		Address: "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd",
		Network: agentpay.NetworkBaseSepolia,
	}, decimal.RequireFromString("100"))

	client, err := agentpay.New(agentpay.Options{Provider: provider})
	if err != nil {
		return err
	}

	if err := client.AddBudgetGuard(ctx, "agent-wallet", agentpay.BudgetConfig{
		Daily: decimal.RequireFromString("20"),
	}); err != nil {
		return err
	}
	if err := client.AddSingleTxGuard(ctx, "agent-wallet", agentpay.SingleTxConfig{
		Max: decimal.RequireFromString("10"),
	}); err != nil {
		return err
	}

	recipient := "0x1111111111111111111111111111111111111111"

	res, err := client.Pay(ctx, agentpay.PaymentRequest{
		WalletID:  "agent-wallet",
		Recipient: recipient,
		Amount:    decimal.RequireFromString("5"),
	})
	if err != nil {
		return err
	}
	fmt.Printf("paid %s to %s via %s (tx %s)\n", res.Amount, res.Recipient, res.Method, res.TxHash)

	// Above the single-transaction cap: blocked, nothing moves.
	if _, err := client.Pay(ctx, agentpay.PaymentRequest{
		WalletID:  "agent-wallet",
		Recipient: recipient,
		Amount:    decimal.RequireFromString("50"),
	}); err != nil {
		fmt.Printf("blocked as expected: %v\n", err)
	}

	// Park a payment for explicit confirmation.
	in, err := client.CreatePaymentIntent(ctx, agentpay.IntentRequest{
		WalletID:  "agent-wallet",
		Recipient: recipient,
		Amount:    decimal.RequireFromString("3"),
	})
	if err != nil {
		return err
	}
	fmt.Printf("parked intent %s\n", in.ID)

	confirmed, err := client.ConfirmIntent(ctx, in.ID)
	if err != nil {
		return err
	}
	fmt.Printf("confirmed intent: %s (tx %s)\n", confirmed.Status, confirmed.TxHash)

	total, err := client.TotalSpent(ctx, "agent-wallet", time.Time{})
	if err != nil {
		return err
	}
	fmt.Printf("total spent: %s USDC\n", total)
	return nil
}
