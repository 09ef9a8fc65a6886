// Package router selects and runs the payment adapter for a recipient:
// direct USDC transfers for same-chain addresses, CCTP for cross-chain
// destinations, and the x402 protocol for paid HTTP resources.
package router

import (
	"context"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agentpay/internal/custody"
	"agentpay/pkg/network"
	"agentpay/pkg/payerr"
)

// Method identifies a payment rail.
type Method string

// Payment methods.
const (
	MethodTransfer   Method = "transfer"
	MethodX402       Method = "x402"
	MethodCrossChain Method = "crosschain"
)

// Route describes where a payment is going.
type Route struct {
	Recipient     string
	WalletNetwork network.Network

	// DestinationNetwork, when set and different from WalletNetwork,
	// forces a cross-chain route.
	DestinationNetwork network.Network
}

// crossChain reports whether the route leaves the wallet's chain.
func (r Route) crossChain() bool {
	return r.DestinationNetwork != "" && r.DestinationNetwork != r.WalletNetwork
}

// Request is a routed payment execution request.
type Request struct {
	Wallet             custody.Wallet
	Recipient          string
	Amount             decimal.Decimal
	DestinationNetwork network.Network

	FeeLevel            custody.FeeLevel
	IdempotencyKey      string
	WaitForConfirmation bool

	// MaxFee caps the CCTP fast-transfer fee in whole tokens. Zero
	// applies the adapter default.
	MaxFee decimal.Decimal
}

func (r Request) route() Route {
	return Route{
		Recipient:          r.Recipient,
		WalletNetwork:      r.Wallet.Network,
		DestinationNetwork: r.DestinationNetwork,
	}
}

// Result is a settled payment.
type Result struct {
	Method        Method
	TransactionID string
	TxHash        string
	Metadata      map[string]string
}

// Simulation is a dry-run verdict: which rail would run and what it
// checked, with no external effect.
type Simulation struct {
	Method  Method
	Detail  string
	Payable bool

	// Fee is the rail fee the payment would incur. Zero for rails that
	// charge nothing beyond gas.
	Fee decimal.Decimal
}

// Adapter is a payment rail. Lower priority wins when several adapters
// support the same route.
type Adapter interface {
	Method() Method
	Priority() int
	Supports(route Route) bool
	Execute(ctx context.Context, req Request) (Result, error)
	Simulate(ctx context.Context, req Request) (Simulation, error)
}

// Router dispatches payments to adapters.
type Router struct {
	adapters []Adapter
	log      *zap.Logger
}

// New returns an empty router.
func New(log *zap.Logger) *Router {
	return &Router{log: log}
}

// Register adds an adapter, keeping the priority order.
func (r *Router) Register(a Adapter) {
	r.adapters = append(r.adapters, a)
	sort.SliceStable(r.adapters, func(i, j int) bool {
		return r.adapters[i].Priority() < r.adapters[j].Priority()
	})
}

// Find returns the adapter for a route.
func (r *Router) Find(route Route) (Adapter, error) {
	for _, a := range r.adapters {
		if a.Supports(route) {
			return a, nil
		}
	}
	return nil, payerr.E(payerr.KindRoutingFailed,
		"no payment method handles recipient %q on %s", route.Recipient, route.WalletNetwork)
}

// DetectMethod reports which rail a route would take.
func (r *Router) DetectMethod(route Route) (Method, error) {
	a, err := r.Find(route)
	if err != nil {
		return "", err
	}
	return a.Method(), nil
}

// Execute routes and runs the payment.
func (r *Router) Execute(ctx context.Context, req Request) (Result, error) {
	a, err := r.Find(req.route())
	if err != nil {
		return Result{}, err
	}
	r.log.Debug("routing payment",
		zap.String("method", string(a.Method())),
		zap.String("recipient", req.Recipient),
		zap.String("wallet_network", string(req.Wallet.Network)))
	return a.Execute(ctx, req)
}

// Simulate routes and dry-runs the payment.
func (r *Router) Simulate(ctx context.Context, req Request) (Simulation, error) {
	a, err := r.Find(req.route())
	if err != nil {
		return Simulation{}, err
	}
	return a.Simulate(ctx, req)
}

// IsURL reports whether the recipient is a paid HTTP resource.
func IsURL(recipient string) bool {
	return strings.HasPrefix(recipient, "http://") || strings.HasPrefix(recipient, "https://")
}

// IsEVMAddress reports whether the recipient is a 20-byte hex address.
func IsEVMAddress(recipient string) bool {
	return ethcommon.IsHexAddress(recipient)
}

// IsSolanaAddress reports whether the recipient is a base58 32-byte key.
func IsSolanaAddress(recipient string) bool {
	if len(recipient) < 32 || len(recipient) > 44 {
		return false
	}
	return len(base58.Decode(recipient)) == 32
}

// AddressValidFor reports whether recipient is a plausible on-chain
// address for net.
func AddressValidFor(recipient string, net network.Network) bool {
	if net.IsEVM() {
		return IsEVMAddress(recipient)
	}
	return IsSolanaAddress(recipient)
}
