package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"agentpay/internal/storage"
	"agentpay/pkg/clock"
	"agentpay/pkg/payerr"
)

// BudgetConfig caps spend over trailing windows. Daily limits the last
// 24 hours and Hourly the last 60 minutes, measured from the moment of
// the payment rather than calendar boundaries. A zero limit disables
// that window.
type BudgetConfig struct {
	Total  decimal.Decimal `json:"total"`
	Daily  decimal.Decimal `json:"daily"`
	Hourly decimal.Decimal `json:"hourly"`

	// SetScoped counts spend against the wallet set instead of the
	// individual wallet.
	SetScoped bool `json:"set_scoped,omitempty"`
}

// Shards outlive their window by one shard width so a trailing-window
// sum still covers spend recorded at the shard's first instant.
const (
	dailyShardTTL  = 24*time.Hour + time.Hour
	hourlyShardTTL = time.Hour + time.Minute
)

// budgetWindow pairs a limit with its shard naming. Spend inside a
// window lands in the current shard (an hour for daily budgets, a
// minute for hourly ones); summing every live shard under prefix yields
// the trailing-window total because shards expire as they age out.
type budgetWindow struct {
	name   string
	limit  decimal.Decimal
	bucket string
	prefix string
	ttl    time.Duration
}

// BudgetGuard enforces cumulative spend limits. Spend is tracked in two
// counters per shard: committed (settled payments) and reserved
// (payments in flight). A reserve claims headroom by incrementing the
// reserved counter first and checking the sum after, so two concurrent
// payments can never both fit into the last slot of a budget.
type BudgetGuard struct {
	store storage.Store
	clock clock.Clock
	cfg   BudgetConfig
}

// NewBudgetGuard returns a budget guard with the given limits.
func NewBudgetGuard(store storage.Store, c clock.Clock, cfg BudgetConfig) *BudgetGuard {
	return &BudgetGuard{store: store, clock: c, cfg: cfg}
}

// Name implements Guard.
func (b *BudgetGuard) Name() string { return "budget" }

// Type implements Guard.
func (b *BudgetGuard) Type() Type { return TypeBudget }

// budgetToken records what a reserve claimed so commit and release mutate
// the same shards even when a shard boundary passes in between.
type budgetToken struct {
	V       int      `json:"v"`
	Scope   string   `json:"scope"`
	Amount  string   `json:"amount"`
	Buckets []string `json:"buckets"`
	TS      int64    `json:"ts"`
}

func (b *BudgetGuard) windows(now time.Time) []budgetWindow {
	var ws []budgetWindow
	if b.cfg.Total.IsPositive() {
		ws = append(ws, budgetWindow{name: "total", limit: b.cfg.Total, bucket: "total", prefix: "total"})
	}
	if b.cfg.Daily.IsPositive() {
		ws = append(ws, budgetWindow{
			name:   "daily",
			limit:  b.cfg.Daily,
			bucket: "daily:" + now.UTC().Format("2006010215"),
			prefix: "daily:",
			ttl:    dailyShardTTL,
		})
	}
	if b.cfg.Hourly.IsPositive() {
		ws = append(ws, budgetWindow{
			name:   "hourly",
			limit:  b.cfg.Hourly,
			bucket: "hourly:" + now.UTC().Format("200601021504"),
			prefix: "hourly:",
			ttl:    hourlyShardTTL,
		})
	}
	return ws
}

func committedKey(scope, bucket string) string {
	return fmt.Sprintf("budget:%s:%s", scope, bucket)
}

func reservedKey(scope, bucket string) string {
	return committedKey(scope, bucket) + ":reserved"
}

func bucketTTL(bucket string) time.Duration {
	switch {
	case len(bucket) > 6 && bucket[:6] == "daily:":
		return dailyShardTTL
	case len(bucket) > 7 && bucket[:7] == "hourly:":
		return hourlyShardTTL
	}
	return 0
}

// spentOutside sums every live committed and reserved shard of the
// window, skipping exclude so a caller holding that shard's fresh total
// from AtomicAdd does not count it twice.
func (b *BudgetGuard) spentOutside(ctx context.Context, scope string, w budgetWindow, exclude string) (decimal.Decimal, error) {
	kvs, err := b.store.Scan(ctx, "budget:"+scope+":"+w.prefix)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, kv := range kvs {
		if kv.Key == exclude {
			continue
		}
		n, err := storage.DecodeCounter(kv.Value)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(n)
	}
	return total, nil
}

// Check reports whether the payment would fit without claiming headroom.
func (b *BudgetGuard) Check(ctx context.Context, g Context) error {
	scope := g.scopeKey(b.cfg.SetScoped)
	for _, w := range b.windows(b.clock.Now()) {
		spent, err := b.spentOutside(ctx, scope, w, "")
		if err != nil {
			return err
		}
		if spent.Add(g.Amount).GreaterThan(w.limit) {
			return blocked(b.Name(), fmt.Sprintf(
				"%s budget exceeded: limit %s, spent %s, requested %s",
				w.name, w.limit, spent, g.Amount))
		}
	}
	return nil
}

// Reserve claims headroom in every enabled window.
func (b *BudgetGuard) Reserve(ctx context.Context, g Context) (string, error) {
	scope := g.scopeKey(b.cfg.SetScoped)
	windows := b.windows(b.clock.Now())
	var claimed []budgetWindow
	rollback := func() {
		for _, w := range claimed {
			_, _ = b.store.AtomicAdd(ctx, reservedKey(scope, w.bucket), g.Amount.Neg(), 0)
		}
	}
	for _, w := range windows {
		reserved, err := b.store.AtomicAdd(ctx, reservedKey(scope, w.bucket), g.Amount, w.ttl)
		if err != nil {
			rollback()
			return "", err
		}
		claimed = append(claimed, w)
		rest, err := b.spentOutside(ctx, scope, w, reservedKey(scope, w.bucket))
		if err != nil {
			rollback()
			return "", err
		}
		if reserved.Add(rest).GreaterThan(w.limit) {
			rollback()
			return "", blocked(b.Name(), fmt.Sprintf(
				"%s budget exceeded: limit %s, spent %s, requested %s",
				w.name, w.limit, rest, g.Amount))
		}
	}
	tok := budgetToken{
		V:      2,
		Scope:  scope,
		Amount: g.Amount.String(),
		TS:     b.clock.Now().Unix(),
	}
	for _, w := range claimed {
		tok.Buckets = append(tok.Buckets, w.bucket)
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		rollback()
		return "", payerr.Wrap(err, payerr.KindConfiguration, "encode budget token")
	}
	return string(raw), nil
}

func (b *BudgetGuard) decode(token string) (budgetToken, decimal.Decimal, error) {
	var tok budgetToken
	if err := json.Unmarshal([]byte(token), &tok); err != nil {
		return tok, decimal.Zero, payerr.Wrap(err, payerr.KindValidation, "invalid budget token")
	}
	amount, err := decimal.NewFromString(tok.Amount)
	if err != nil {
		return tok, decimal.Zero, payerr.Wrap(err, payerr.KindValidation, "invalid budget token amount")
	}
	return tok, amount, nil
}

// Commit moves the claim from reserved to committed in each shard the
// reserve touched.
func (b *BudgetGuard) Commit(ctx context.Context, _ Context, token string) error {
	tok, amount, err := b.decode(token)
	if err != nil {
		return err
	}
	for _, bucket := range tok.Buckets {
		if _, err := b.store.AtomicAdd(ctx, committedKey(tok.Scope, bucket), amount, bucketTTL(bucket)); err != nil {
			return err
		}
		if _, err := b.store.AtomicAdd(ctx, reservedKey(tok.Scope, bucket), amount.Neg(), 0); err != nil {
			return err
		}
	}
	return nil
}

// Release returns the claimed headroom.
func (b *BudgetGuard) Release(ctx context.Context, _ Context, token string) error {
	tok, amount, err := b.decode(token)
	if err != nil {
		return err
	}
	for _, bucket := range tok.Buckets {
		if _, err := b.store.AtomicAdd(ctx, reservedKey(tok.Scope, bucket), amount.Neg(), 0); err != nil {
			return err
		}
	}
	return nil
}

var _ Guard = (*BudgetGuard)(nil)
