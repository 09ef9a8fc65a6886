// Package agentpay is a payment execution SDK for autonomous agents
// spending stablecoin from custodial wallets. A Client routes payments to
// direct transfers, cross-chain CCTP moves or x402 paid resources, behind
// spending guards, per-wallet fund locks, an audit ledger and circuit
// breakers.
package agentpay

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"agentpay/internal/config"
	"agentpay/internal/custody"
	"agentpay/internal/fundlock"
	"agentpay/internal/guard"
	"agentpay/internal/intent"
	"agentpay/internal/ledger"
	"agentpay/internal/logging"
	"agentpay/internal/reservation"
	"agentpay/internal/resilience"
	"agentpay/internal/router"
	"agentpay/internal/storage"
	"agentpay/internal/trust"
	"agentpay/pkg/clock"
	"agentpay/pkg/payerr"
)

// Options configures a Client. Provider is required; everything else has
// a working default.
type Options struct {
	// Provider executes wallet operations. Required.
	Provider custody.Provider

	// Store holds all SDK state. Defaults to the backend selected by the
	// environment configuration (in-memory unless AGENTPAY_STORAGE=redis).
	Store storage.Store

	// TrustHook screens recipients before funds are touched. Defaults to
	// approving everything.
	TrustHook trust.Hook

	// Approver backs confirm guards. Without one, payments needing
	// confirmation are blocked.
	Approver guard.Approver

	// Logger defaults to the environment-configured zap logger.
	Logger *zap.Logger

	// Clock defaults to real time.
	Clock clock.Clock

	// HTTPClient serves x402 and attestation traffic.
	HTTPClient *http.Client

	FundLock   fundlock.Config
	Breaker    resilience.BreakerConfig
	Retry      resilience.RetryConfig
	CrossChain router.CrossChainConfig

	// IntentExpiry is how long unconfirmed intents stay valid.
	IntentExpiry time.Duration

	// BatchConcurrency bounds parallel payments in BatchPay.
	BatchConcurrency int
}

// Client is the SDK entry point. Safe for concurrent use.
type Client struct {
	provider     custody.Provider
	store        storage.Store
	ledger       *ledger.Ledger
	guards       *guard.Registry
	locks        *fundlock.Service
	reservations *reservation.Registry
	breaker      *resilience.Breaker
	router       *router.Router
	intents      *intent.Service
	trustHook    trust.Hook
	hasTrustHook bool
	clock        clock.Clock
	log          *zap.Logger

	retryCfg  resilience.RetryConfig
	batchSize int
}

// New builds a Client.
func New(opts Options) (*Client, error) {
	if opts.Provider == nil {
		return nil, payerr.E(payerr.KindConfiguration, "custody provider is required")
	}
	c := opts.Clock
	if c == nil {
		c = clock.NewReal()
	}
	log := opts.Logger
	store := opts.Store
	if log == nil || store == nil {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		if log == nil {
			log, err = logging.New(cfg.LogLevel, cfg.Env)
			if err != nil {
				return nil, payerr.Wrap(err, payerr.KindConfiguration, "build logger")
			}
		}
		if store == nil {
			store, err = buildStore(cfg, c)
			if err != nil {
				return nil, err
			}
		}
	}
	hook := opts.TrustHook
	if hook == nil {
		hook = trust.ApproveAll()
	}
	if opts.FundLock.TTL <= 0 {
		opts.FundLock = fundlock.DefaultConfig()
	}
	if opts.Breaker.FailureThreshold <= 0 {
		opts.Breaker = resilience.DefaultBreakerConfig()
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = 5
	}

	reservations := reservation.NewRegistry(store, c, log)
	transfer := router.NewTransferAdapter(opts.Provider, log)
	crosschain := router.NewCrossChainAdapter(opts.Provider, transfer, opts.CrossChain, opts.HTTPClient, c, log)
	x402 := router.NewX402Adapter(transfer, crosschain, opts.HTTPClient, log)
	rt := router.New(log)
	rt.Register(x402)
	rt.Register(crosschain)
	rt.Register(transfer)

	return &Client{
		provider:     opts.Provider,
		store:        store,
		ledger:       ledger.New(store, c, log),
		guards:       guard.NewRegistry(store, c, opts.Approver, log),
		locks:        fundlock.New(store, opts.FundLock, log),
		reservations: reservations,
		breaker:      resilience.NewBreaker(store, opts.Breaker, c, log),
		router:       rt,
		intents:      intent.New(store, reservations, c, opts.IntentExpiry, log),
		trustHook:    hook,
		hasTrustHook: opts.TrustHook != nil,
		clock:        c,
		log:          log,
		retryCfg:     opts.Retry,
		batchSize:    opts.BatchConcurrency,
	}, nil
}

func buildStore(cfg config.Config, c clock.Clock) (storage.Store, error) {
	switch cfg.Storage {
	case config.StorageRedis:
		return storage.NewRedisFromURL(cfg.RedisURL)
	default:
		return storage.NewMemory(c), nil
	}
}
