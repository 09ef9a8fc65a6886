package agentpay

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agentpay/internal/guard"
	"agentpay/internal/intent"
	"agentpay/internal/ledger"
	"agentpay/internal/metrics"
	"agentpay/internal/resilience"
	"agentpay/internal/router"
	"agentpay/internal/trust"
	"agentpay/pkg/money"
	"agentpay/pkg/payerr"
)

// Pay executes a payment end to end: audit entry, trust screening, guard
// reservation, fund lock, balance check, circuit breaker, routed
// execution, then guard commit or full unwind. Any failure leaves no
// partial effect behind: guard headroom is released, the fund lock is
// freed and the ledger entry lands in a terminal state.
func (c *Client) Pay(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	return c.execute(ctx, req, "", "")
}

// execute runs the payment pipeline. consumeIntentID, when set, names an
// intent whose fund reservation is released once the wallet's fund lock
// is held, so the reserved funds become spendable by exactly this
// payment. entryID, when set, continues an already-open ledger entry
// instead of recording a fresh one.
func (c *Client) execute(ctx context.Context, req PaymentRequest, consumeIntentID, entryID string) (PaymentResult, error) {
	start := c.clock.Now()

	// Step 1: validation and wallet resolution.
	if req.Strategy == "" {
		req.Strategy = StrategyFailFast
	}
	if !req.Strategy.valid() {
		return PaymentResult{}, payerr.E(payerr.KindValidation, "unknown strategy %q", req.Strategy)
	}
	switch req.TrustCheck {
	case TrustCheckDefault, TrustCheckSkip, TrustCheckRequire:
	default:
		return PaymentResult{}, payerr.E(payerr.KindValidation, "unknown trust check mode %q", req.TrustCheck)
	}
	amount, err := money.Validate(req.Amount)
	if err != nil {
		return PaymentResult{}, err
	}
	req.Amount = amount
	if req.Recipient == "" {
		return PaymentResult{}, payerr.E(payerr.KindValidation, "recipient is required")
	}

	// A caller-supplied idempotency key replays the prior outcome instead
	// of moving funds twice.
	if req.IdempotencyKey != "" && entryID == "" {
		if res, done, err := c.replay(ctx, req); done {
			return res, err
		}
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	wallet, err := c.provider.GetWallet(ctx, req.WalletID)
	if err != nil {
		return PaymentResult{}, err
	}

	// Step 2: the attempt enters the ledger before anything can fail.
	if entryID == "" {
		entry, err := c.ledger.Record(ctx, ledger.RecordRequest{
			WalletID:       wallet.ID,
			WalletSetID:    wallet.SetID,
			Amount:         req.Amount,
			Recipient:      req.Recipient,
			Strategy:       string(req.Strategy),
			Purpose:        req.Purpose,
			IdempotencyKey: req.IdempotencyKey,
			Metadata:       req.Metadata,
		})
		if err != nil {
			return PaymentResult{}, err
		}
		entryID = entry.ID
	}

	// Step 3: trust screening. Confirmed intents were screened when the
	// payment was first submitted.
	if consumeIntentID == "" && req.TrustCheck != TrustCheckSkip {
		if req.TrustCheck == TrustCheckRequire && !c.hasTrustHook {
			return c.fail(ctx, entryID, req, nil, payerr.E(payerr.KindConfiguration,
				"payment requires a trust check and no trust hook is configured"))
		}
		decision, err := c.trustHook.Evaluate(ctx, trust.Check{
			WalletID:  wallet.ID,
			Recipient: req.Recipient,
			Amount:    req.Amount,
			Network:   wallet.Network,
		})
		if err != nil {
			return c.fail(ctx, entryID, req, nil, payerr.Wrap(err, payerr.KindNetwork, "trust hook"))
		}
		switch decision.Verdict {
		case trust.VerdictBlock:
			return c.block(ctx, entryID, req, payerr.Blocked("trust", decision.Reason))
		case trust.VerdictHold:
			return c.park(ctx, entryID, req, "trust_hold: "+decision.Reason, nil)
		}
	}

	// Step 4: claim guard headroom.
	gctx := guard.Context{
		WalletID:    wallet.ID,
		WalletSetID: wallet.SetID,
		Amount:      req.Amount,
		Recipient:   req.Recipient,
		Metadata:    req.Metadata,
	}
	var claims *guard.Reservations
	if !req.SkipGuards {
		chain, err := c.guards.ChainFor(ctx, wallet.ID, wallet.SetID)
		if err != nil {
			return c.fail(ctx, entryID, req, nil, err)
		}
		claims, err = chain.Reserve(ctx, gctx)
		if err != nil {
			if payerr.IsKind(err, payerr.KindGuardBlocked) {
				return c.block(ctx, entryID, req, err)
			}
			return c.fail(ctx, entryID, req, nil, err)
		}
	}

	unwindGuards := func() {
		if err := claims.Release(ctx, gctx); err != nil {
			c.log.Error("guard release failed", zap.String("entry_id", entryID), zap.Error(err))
		}
	}

	// Step 5: serialize on the wallet.
	lockToken, err := c.locks.Acquire(ctx, wallet.ID)
	if err != nil {
		unwindGuards()
		return c.fail(ctx, entryID, req, nil, err)
	}
	defer func() {
		if err := c.locks.Release(ctx, wallet.ID, lockToken); err != nil {
			c.log.Error("fund lock release failed", zap.String("wallet_id", wallet.ID), zap.Error(err))
		}
	}()

	// A confirmed intent's reservation is consumed here, inside the
	// lock, so its funds count as available for exactly this payment.
	if consumeIntentID != "" {
		if err := c.reservations.Release(ctx, consumeIntentID); err != nil {
			unwindGuards()
			return c.fail(ctx, entryID, req, nil, err)
		}
	}

	// Step 6: available balance = balance minus active reservations.
	balance, err := c.provider.GetBalance(ctx, wallet.ID)
	if err != nil {
		unwindGuards()
		return c.fail(ctx, entryID, req, nil, err)
	}
	reserved, err := c.reservations.Total(ctx, wallet.ID)
	if err != nil {
		unwindGuards()
		return c.fail(ctx, entryID, req, nil, err)
	}
	available := balance.Sub(reserved)
	if available.LessThan(req.Amount) {
		unwindGuards()
		return c.fail(ctx, entryID, req, nil, payerr.E(payerr.KindInsufficientBalance,
			"available balance %s (balance %s, reserved %s) is below %s",
			available, balance, reserved, req.Amount))
	}

	// Route before touching the breaker so the circuit is per rail.
	route := router.Route{
		Recipient:          req.Recipient,
		WalletNetwork:      wallet.Network,
		DestinationNetwork: req.DestinationNetwork,
	}
	method, err := c.router.DetectMethod(route)
	if err != nil {
		unwindGuards()
		return c.fail(ctx, entryID, req, nil, err)
	}
	service := string(method)

	// Step 7: circuit breaker. Queued payments park for later
	// confirmation instead of failing while the rail is down.
	if err := c.breaker.Allow(ctx, service); err != nil {
		unwindGuards()
		if req.Strategy == StrategyQueueBackground && consumeIntentID == "" {
			return c.park(ctx, entryID, req, "queue_background: "+err.Error(), nil)
		}
		return c.fail(ctx, entryID, req, nil, err)
	}

	if _, err := c.ledger.UpdateStatus(ctx, entryID, ledger.StatusUpdate{
		Status: ledger.StatusProcessing,
		Method: service,
	}); err != nil {
		unwindGuards()
		return c.fail(ctx, entryID, req, nil, err)
	}

	// Step 8: execute under the chosen strategy.
	rreq := router.Request{
		Wallet:              wallet,
		Recipient:           req.Recipient,
		Amount:              req.Amount,
		DestinationNetwork:  req.DestinationNetwork,
		FeeLevel:            req.FeeLevel,
		IdempotencyKey:      req.IdempotencyKey,
		WaitForConfirmation: req.WaitForConfirmation,
		MaxFee:              req.MaxFee,
	}
	var result router.Result
	attempt := func() error {
		var execErr error
		result, execErr = c.router.Execute(ctx, rreq)
		return execErr
	}
	if req.Strategy == StrategyRetryThenFail {
		err = resilience.Retry(ctx, c.retryCfg, c.log, attempt)
	} else {
		err = attempt()
	}
	if err != nil {
		if recErr := c.breaker.RecordFailure(ctx, service); recErr != nil {
			c.log.Error("breaker record failed", zap.Error(recErr))
		}
		unwindGuards()
		if req.Strategy == StrategyQueueBackground && consumeIntentID == "" {
			return c.park(ctx, entryID, req, "queue_background: "+err.Error(), result.Metadata)
		}
		// Partial metadata (e.g. a CCTP attestation URL after a burn)
		// still lands in the ledger for reconciliation.
		return c.fail(ctx, entryID, req, result.Metadata, err)
	}
	if recErr := c.breaker.RecordSuccess(ctx, service); recErr != nil {
		c.log.Error("breaker record failed", zap.Error(recErr))
	}

	// Step 9: finalize guards, then the ledger.
	if err := claims.Commit(ctx, gctx); err != nil {
		c.log.Error("guard commit failed", zap.String("entry_id", entryID), zap.Error(err))
	}
	guardsPassed := claims.Names()
	if _, err := c.ledger.UpdateStatus(ctx, entryID, ledger.StatusUpdate{
		Status:        ledger.StatusCompleted,
		Method:        string(result.Method),
		TransactionID: result.TransactionID,
		GuardsPassed:  guardsPassed,
		Metadata:      withTxHash(result),
	}); err != nil {
		c.log.Error("ledger completion write failed", zap.String("entry_id", entryID), zap.Error(err))
	}
	metrics.Payments.WithLabelValues(string(result.Method), string(StatusCompleted)).Inc()
	metrics.PaymentDuration.WithLabelValues(string(result.Method)).Observe(c.clock.Now().Sub(start).Seconds())
	c.log.Info("payment completed",
		zap.String("entry_id", entryID),
		zap.String("method", string(result.Method)),
		zap.String("amount", req.Amount.String()),
		zap.String("tx_hash", result.TxHash))

	return PaymentResult{
		EntryID:       entryID,
		Status:        StatusCompleted,
		Method:        result.Method,
		TransactionID: result.TransactionID,
		TxHash:        result.TxHash,
		Amount:        req.Amount,
		Recipient:     req.Recipient,
		GuardsPassed:  guardsPassed,
		Metadata:      result.Metadata,
	}, nil
}

// replay resolves a caller-supplied idempotency key against the ledger.
// A completed prior attempt returns its result; one still in flight is
// reported as wallet_busy. Failed attempts fall through to a fresh try.
func (c *Client) replay(ctx context.Context, req PaymentRequest) (PaymentResult, bool, error) {
	entries, err := c.ledger.List(ctx, ledger.Query{
		WalletID:       req.WalletID,
		IdempotencyKey: req.IdempotencyKey,
		Limit:          1,
	})
	if err != nil {
		return PaymentResult{}, true, err
	}
	if len(entries) == 0 {
		return PaymentResult{}, false, nil
	}
	e := entries[0]
	switch e.Status {
	case ledger.StatusCompleted:
		return PaymentResult{
			EntryID:       e.ID,
			Status:        StatusCompleted,
			Method:        Method(e.Method),
			TransactionID: e.TransactionID,
			TxHash:        e.Metadata["tx_hash"],
			Amount:        e.Amount,
			Recipient:     e.Recipient,
			GuardsPassed:  e.GuardsPassed,
			Metadata:      e.Metadata,
		}, true, nil
	case ledger.StatusPending, ledger.StatusProcessing:
		return PaymentResult{}, true, payerr.E(payerr.KindWalletBusy,
			"payment with idempotency key %s is already in flight", req.IdempotencyKey)
	}
	return PaymentResult{}, false, nil
}

// fail lands the entry in failed state and returns the cause.
func (c *Client) fail(ctx context.Context, entryID string, req PaymentRequest, meta map[string]string, cause error) (PaymentResult, error) {
	if _, err := c.ledger.UpdateStatus(ctx, entryID, ledger.StatusUpdate{
		Status:   ledger.StatusFailed,
		Error:    cause.Error(),
		Metadata: meta,
	}); err != nil {
		c.log.Error("ledger failure write failed", zap.String("entry_id", entryID), zap.Error(err))
	}
	metrics.Payments.WithLabelValues("", string(StatusFailed)).Inc()
	return PaymentResult{
		EntryID:   entryID,
		Status:    StatusFailed,
		Amount:    req.Amount,
		Recipient: req.Recipient,
		Metadata:  meta,
		Error:     cause.Error(),
	}, cause
}

// block lands the entry in blocked state.
func (c *Client) block(ctx context.Context, entryID string, req PaymentRequest, cause error) (PaymentResult, error) {
	if _, err := c.ledger.UpdateStatus(ctx, entryID, ledger.StatusUpdate{
		Status: ledger.StatusBlocked,
		Error:  cause.Error(),
	}); err != nil {
		c.log.Error("ledger block write failed", zap.String("entry_id", entryID), zap.Error(err))
	}
	if guardName := guardNameOf(cause); guardName != "" {
		metrics.GuardBlocks.WithLabelValues(guardName).Inc()
	}
	metrics.Payments.WithLabelValues("", string(StatusBlocked)).Inc()
	c.log.Warn("payment blocked", zap.String("entry_id", entryID), zap.Error(cause))
	return PaymentResult{
		EntryID:   entryID,
		Status:    StatusBlocked,
		Amount:    req.Amount,
		Recipient: req.Recipient,
		Error:     cause.Error(),
	}, cause
}

// park converts the payment into an intent awaiting confirmation. The
// ledger entry stays open, linked to the intent, and the confirmed
// execution continues it to a terminal state.
func (c *Client) park(ctx context.Context, entryID string, req PaymentRequest, reason string, meta map[string]string) (PaymentResult, error) {
	in, err := c.intents.Create(ctx, intent.CreateRequest{
		WalletID:  req.WalletID,
		Amount:    req.Amount,
		Recipient: req.Recipient,
		Reason:    reason,
		EntryID:   entryID,
		Metadata:  req.Metadata,
	})
	if err != nil {
		return c.fail(ctx, entryID, req, nil, err)
	}
	parkMeta := map[string]string{"intent_id": in.ID, "park_reason": reason}
	for k, v := range meta {
		parkMeta[k] = v
	}
	if _, err := c.ledger.UpdateStatus(ctx, entryID, ledger.StatusUpdate{
		Status:   ledger.StatusPending,
		Metadata: parkMeta,
	}); err != nil {
		c.log.Error("ledger park write failed", zap.String("entry_id", entryID), zap.Error(err))
	}
	return PaymentResult{
		EntryID:   entryID,
		IntentID:  in.ID,
		Status:    StatusRequiresConfirmation,
		Amount:    req.Amount,
		Recipient: req.Recipient,
	}, nil
}

func withTxHash(result router.Result) map[string]string {
	meta := result.Metadata
	if meta == nil {
		meta = make(map[string]string, 1)
	}
	if result.TxHash != "" {
		meta["tx_hash"] = result.TxHash
	}
	return meta
}

func guardNameOf(err error) string {
	var pe *payerr.Error
	if errors.As(err, &pe) {
		return pe.GuardName
	}
	return ""
}
