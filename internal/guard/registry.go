package guard

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"agentpay/internal/storage"
	"agentpay/pkg/clock"
	"agentpay/pkg/payerr"
)

// Scope distinguishes wallet-level from wallet-set-level guard
// attachments.
type Scope string

// Guard attachment scopes.
const (
	ScopeWallet Scope = "wallet"
	ScopeSet    Scope = "set"
)

// Config is a persisted guard definition. Exactly one of the typed
// sections matching Type is set.
type Config struct {
	Type      Type             `json:"type"`
	Budget    *BudgetConfig    `json:"budget,omitempty"`
	Rate      *RateConfig      `json:"rate,omitempty"`
	SingleTx  *SingleTxConfig  `json:"single_tx,omitempty"`
	Recipient *RecipientConfig `json:"recipient,omitempty"`
	Confirm   *ConfirmConfig   `json:"confirm,omitempty"`
}

// Registry persists guard configurations per wallet and wallet set and
// rebuilds executable chains from them. Configurations survive process
// restarts when backed by Redis.
type Registry struct {
	store    storage.Store
	clock    clock.Clock
	approver Approver
	log      *zap.Logger
}

// NewRegistry returns a guard registry. approver backs confirm guards and
// may be nil.
func NewRegistry(store storage.Store, c clock.Clock, approver Approver, log *zap.Logger) *Registry {
	return &Registry{store: store, clock: c, approver: approver, log: log}
}

func configKey(scope Scope, id string) string {
	return fmt.Sprintf("guards:%s:%s", scope, id)
}

// Attach adds or replaces the guard of cfg.Type for the given scope.
func (r *Registry) Attach(ctx context.Context, scope Scope, id string, cfg Config) error {
	if _, err := r.build(cfg); err != nil {
		return err
	}
	return r.store.Update(ctx, configKey(scope, id), func(old []byte, exists bool) ([]byte, error) {
		var configs []Config
		if exists {
			if err := json.Unmarshal(old, &configs); err != nil {
				return nil, payerr.Wrap(err, payerr.KindConfiguration, "corrupt guard configs for %s %s", scope, id)
			}
		}
		replaced := false
		for i := range configs {
			if configs[i].Type == cfg.Type {
				configs[i] = cfg
				replaced = true
				break
			}
		}
		if !replaced {
			configs = append(configs, cfg)
		}
		return json.Marshal(configs)
	})
}

// Detach removes the guard of the given type. Detaching an absent guard
// is a no-op.
func (r *Registry) Detach(ctx context.Context, scope Scope, id string, t Type) error {
	return r.store.Update(ctx, configKey(scope, id), func(old []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, nil
		}
		var configs []Config
		if err := json.Unmarshal(old, &configs); err != nil {
			return nil, payerr.Wrap(err, payerr.KindConfiguration, "corrupt guard configs for %s %s", scope, id)
		}
		kept := configs[:0]
		for _, c := range configs {
			if c.Type != t {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			return nil, nil
		}
		return json.Marshal(kept)
	})
}

// List returns the persisted configs for a scope.
func (r *Registry) List(ctx context.Context, scope Scope, id string) ([]Config, error) {
	raw, ok, err := r.store.Get(ctx, configKey(scope, id))
	if err != nil || !ok {
		return nil, err
	}
	var configs []Config
	if err := json.Unmarshal(raw, &configs); err != nil {
		return nil, payerr.Wrap(err, payerr.KindConfiguration, "corrupt guard configs for %s %s", scope, id)
	}
	return configs, nil
}

// ChainFor builds the chain a payment from walletID must pass: the
// wallet set's guards first, then the wallet's own, when the wallet
// belongs to a set.
func (r *Registry) ChainFor(ctx context.Context, walletID, walletSetID string) (*Chain, error) {
	var guards []Guard
	if walletSetID != "" {
		setConfigs, err := r.List(ctx, ScopeSet, walletSetID)
		if err != nil {
			return nil, err
		}
		for _, cfg := range setConfigs {
			cfg = setScoped(cfg)
			g, err := r.build(cfg)
			if err != nil {
				return nil, err
			}
			guards = append(guards, g)
		}
	}
	walletConfigs, err := r.List(ctx, ScopeWallet, walletID)
	if err != nil {
		return nil, err
	}
	for _, cfg := range walletConfigs {
		g, err := r.build(cfg)
		if err != nil {
			return nil, err
		}
		guards = append(guards, g)
	}
	return NewChain(guards...), nil
}

// setScoped forces set-level accounting on configs attached to a set.
func setScoped(cfg Config) Config {
	switch cfg.Type {
	case TypeBudget:
		if cfg.Budget != nil {
			b := *cfg.Budget
			b.SetScoped = true
			cfg.Budget = &b
		}
	case TypeRateLimit:
		if cfg.Rate != nil {
			rc := *cfg.Rate
			rc.SetScoped = true
			cfg.Rate = &rc
		}
	}
	return cfg
}

func (r *Registry) build(cfg Config) (Guard, error) {
	switch cfg.Type {
	case TypeBudget:
		if cfg.Budget == nil {
			return nil, payerr.E(payerr.KindConfiguration, "budget guard config missing budget section")
		}
		return NewBudgetGuard(r.store, r.clock, *cfg.Budget), nil
	case TypeRateLimit:
		if cfg.Rate == nil {
			return nil, payerr.E(payerr.KindConfiguration, "rate_limit guard config missing rate section")
		}
		return NewRateLimitGuard(r.store, r.clock, *cfg.Rate), nil
	case TypeSingleTx:
		if cfg.SingleTx == nil {
			return nil, payerr.E(payerr.KindConfiguration, "single_tx guard config missing single_tx section")
		}
		return NewSingleTxGuard(*cfg.SingleTx), nil
	case TypeRecipient:
		if cfg.Recipient == nil {
			return nil, payerr.E(payerr.KindConfiguration, "recipient guard config missing recipient section")
		}
		return NewRecipientGuard(*cfg.Recipient), nil
	case TypeConfirm:
		if cfg.Confirm == nil {
			return nil, payerr.E(payerr.KindConfiguration, "confirm guard config missing confirm section")
		}
		return NewConfirmGuard(*cfg.Confirm, r.approver), nil
	}
	return nil, payerr.E(payerr.KindConfiguration, "unknown guard type %q", cfg.Type)
}
