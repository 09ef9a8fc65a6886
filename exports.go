package agentpay

import (
	"agentpay/internal/custody"
	"agentpay/internal/fundlock"
	"agentpay/internal/guard"
	"agentpay/internal/resilience"
	"agentpay/internal/router"
	"agentpay/internal/storage"
	"agentpay/internal/trust"
	"agentpay/pkg/clock"
	"agentpay/pkg/network"
)

// Custody provider surface. Implement Provider to plug in a wallet
// backend; the SDK never holds keys itself.
type (
	Provider            = custody.Provider
	Wallet              = custody.Wallet
	Transaction         = custody.Transaction
	TransferRequest     = custody.TransferRequest
	ContractCallRequest = custody.ContractCallRequest
	TxState             = custody.TxState
)

// Store is the SDK's persistence interface. NewMemoryStore suits tests
// and single-process use; NewRedisStore shares state across processes.
type Store = storage.Store

// NewMemoryStore returns an in-process store.
func NewMemoryStore() Store {
	return storage.NewMemory(clock.NewReal())
}

// NewRedisStore returns a Redis-backed store for the given URL, e.g.
// "redis://localhost:6379/0".
func NewRedisStore(url string) (Store, error) {
	return storage.NewRedisFromURL(url)
}

// Trust hook surface. A hook screens every payment's recipient before
// funds are reserved and answers approve, hold or block.
type (
	TrustHook     = trust.Hook
	TrustHookFunc = trust.HookFunc
	TrustCheck    = trust.Check
	TrustDecision = trust.Decision
	TrustVerdict  = trust.Verdict
)

// Trust verdicts.
const (
	TrustApprove = trust.VerdictApprove
	TrustHold    = trust.VerdictHold
	TrustBlock   = trust.VerdictBlock
)

// Approver surface backing confirm guards. An approver receives the
// payment's GuardContext and answers whether it may proceed.
type (
	Approver     = guard.Approver
	ApproverFunc = guard.ApproverFunc
	GuardContext = guard.Context
)

// Tuning configs accepted by Options.
type (
	FundLockConfig   = fundlock.Config
	BreakerConfig    = resilience.BreakerConfig
	RetryConfig      = resilience.RetryConfig
	CrossChainConfig = router.CrossChainConfig
)

// Supported networks.
const (
	NetworkEthereum        = network.Ethereum
	NetworkEthereumSepolia = network.EthereumSepolia
	NetworkBase            = network.Base
	NetworkBaseSepolia     = network.BaseSepolia
	NetworkArbitrum        = network.Arbitrum
	NetworkArbitrumSepolia = network.ArbitrumSepolia
	NetworkAvalanche       = network.Avalanche
	NetworkAvalancheFuji   = network.AvalancheFuji
	NetworkOptimism        = network.Optimism
	NetworkOptimismSepolia = network.OptimismSepolia
	NetworkPolygon         = network.Polygon
	NetworkPolygonAmoy     = network.PolygonAmoy
	NetworkSolana          = network.Solana
	NetworkSolanaDevnet    = network.SolanaDevnet
)
