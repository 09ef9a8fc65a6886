package agentpay

import (
	"context"

	"agentpay/internal/guard"
	"agentpay/internal/router"
	"agentpay/pkg/money"
	"agentpay/pkg/payerr"
)

// Simulate answers "would this payment go through" without moving funds,
// claiming guard headroom or writing the ledger. Guards are evaluated in
// their non-claiming mode, so a positive verdict is not a reservation and
// can be stale by the time Pay runs.
func (c *Client) Simulate(ctx context.Context, req PaymentRequest) (SimulationResult, error) {
	amount, err := money.Validate(req.Amount)
	if err != nil {
		return verdict(err), nil
	}
	req.Amount = amount
	if req.Recipient == "" {
		return verdict(payerr.E(payerr.KindValidation, "recipient is required")), nil
	}
	wallet, err := c.provider.GetWallet(ctx, req.WalletID)
	if err != nil {
		return SimulationResult{}, err
	}

	chain, err := c.guards.ChainFor(ctx, wallet.ID, wallet.SetID)
	if err != nil {
		return SimulationResult{}, err
	}
	gctx := guard.Context{
		WalletID:    wallet.ID,
		WalletSetID: wallet.SetID,
		Amount:      req.Amount,
		Recipient:   req.Recipient,
		Metadata:    req.Metadata,
	}
	// Each guard is evaluated individually so the verdict reports which
	// would pass and which would block.
	var passed, failed []string
	var guardErr error
	for _, g := range chain.Guards() {
		err := g.Check(ctx, gctx)
		switch {
		case err == nil:
			passed = append(passed, g.Name())
		case payerr.IsKind(err, payerr.KindGuardBlocked):
			failed = append(failed, g.Name())
			if guardErr == nil {
				guardErr = err
			}
		default:
			return SimulationResult{}, err
		}
	}
	if guardErr != nil {
		out := verdict(guardErr)
		out.GuardsPassed = passed
		out.GuardsFailed = failed
		return out, nil
	}

	balance, err := c.provider.GetBalance(ctx, wallet.ID)
	if err != nil {
		return SimulationResult{}, err
	}
	reserved, err := c.reservations.Total(ctx, wallet.ID)
	if err != nil {
		return SimulationResult{}, err
	}
	if balance.Sub(reserved).LessThan(req.Amount) {
		out := verdict(payerr.E(payerr.KindInsufficientBalance,
			"available balance %s is below %s", balance.Sub(reserved), req.Amount))
		out.GuardsPassed = passed
		return out, nil
	}

	sim, err := c.router.Simulate(ctx, router.Request{
		Wallet:             wallet,
		Recipient:          req.Recipient,
		Amount:             req.Amount,
		DestinationNetwork: req.DestinationNetwork,
		MaxFee:             req.MaxFee,
	})
	if err != nil {
		if payerr.IsKind(err, payerr.KindRoutingFailed) || payerr.IsKind(err, payerr.KindValidation) {
			return verdict(err), nil
		}
		return SimulationResult{}, err
	}
	out := SimulationResult{
		CanPay:       sim.Payable,
		Method:       sim.Method,
		Detail:       sim.Detail,
		EstimatedFee: sim.Fee,
		GuardsPassed: passed,
	}
	if !sim.Payable {
		out.Reason = sim.Detail
	}
	return out, nil
}

// CanPay is Simulate reduced to its verdict.
func (c *Client) CanPay(ctx context.Context, req PaymentRequest) (bool, error) {
	sim, err := c.Simulate(ctx, req)
	if err != nil {
		return false, err
	}
	return sim.CanPay, nil
}

// DetectMethod reports which rail would carry a payment from the wallet
// to the recipient.
func (c *Client) DetectMethod(ctx context.Context, walletID, recipient string, destination ...Network) (Method, error) {
	wallet, err := c.provider.GetWallet(ctx, walletID)
	if err != nil {
		return "", err
	}
	route := router.Route{Recipient: recipient, WalletNetwork: wallet.Network}
	if len(destination) > 0 {
		route.DestinationNetwork = destination[0]
	}
	return c.router.DetectMethod(route)
}

func verdict(cause error) SimulationResult {
	return SimulationResult{CanPay: false, Reason: cause.Error()}
}
