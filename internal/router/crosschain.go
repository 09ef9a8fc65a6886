package router

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agentpay/internal/custody"
	"agentpay/pkg/clock"
	"agentpay/pkg/money"
	"agentpay/pkg/network"
	"agentpay/pkg/payerr"
)

// CCTP V2 finality thresholds for depositForBurn.
const (
	finalityFast     = 1000
	finalityStandard = 2000
)

// DefaultMaxFee is the default fast-transfer fee cap, 0.0005 USDC.
var DefaultMaxFee = money.FromSubunits(500)

// CrossChainConfig tunes the CCTP adapter.
type CrossChainConfig struct {
	// Fast selects the fast finality threshold and its fee.
	Fast bool

	// ExecutorWallets maps destination networks to wallet ids used to
	// call receiveMessage there. Destinations without an executor rely
	// on an external relayer to mint.
	ExecutorWallets map[network.Network]string

	// IrisOverride replaces the network-derived attestation base URL.
	IrisOverride string

	// PollInterval and MaxWait bound attestation polling.
	PollInterval time.Duration
	MaxWait      time.Duration
}

// DefaultCrossChainConfig returns the standard CCTP tuning.
func DefaultCrossChainConfig() CrossChainConfig {
	return CrossChainConfig{
		Fast:         true,
		PollInterval: 2 * time.Second,
		MaxWait:      20 * time.Minute,
	}
}

// CrossChainAdapter moves USDC between chains with Circle's CCTP V2:
// approve, depositForBurn, Iris attestation, receiveMessage.
type CrossChainAdapter struct {
	provider custody.Provider
	transfer *TransferAdapter
	cfg      CrossChainConfig
	httpc    *http.Client
	clock    clock.Clock
	log      *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewCrossChainAdapter returns the CCTP rail. Same-network requests
// delegate to transfer.
func NewCrossChainAdapter(provider custody.Provider, transfer *TransferAdapter, cfg CrossChainConfig, httpc *http.Client, c clock.Clock, log *zap.Logger) *CrossChainAdapter {
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 20 * time.Minute
	}
	return &CrossChainAdapter{
		provider: provider,
		transfer: transfer,
		cfg:      cfg,
		httpc:    httpc,
		clock:    c,
		log:      log,
		sleep:    sleepCtx,
	}
}

// Method implements Adapter.
func (c *CrossChainAdapter) Method() Method { return MethodCrossChain }

// Priority implements Adapter. Beats transfer so explicit cross-chain
// destinations route here.
func (c *CrossChainAdapter) Priority() int { return 30 }

// Supports implements Adapter: address recipients with a destination
// network different from the wallet's.
func (c *CrossChainAdapter) Supports(route Route) bool {
	if !route.crossChain() {
		return false
	}
	return AddressValidFor(route.Recipient, route.DestinationNetwork)
}

// Execute implements Adapter. On partial failure after the burn the
// returned Result still carries the attestation URL so the caller can
// reconcile manually.
func (c *CrossChainAdapter) Execute(ctx context.Context, req Request) (Result, error) {
	if req.DestinationNetwork == "" || req.DestinationNetwork == req.Wallet.Network {
		return c.transfer.Execute(ctx, req)
	}
	src := req.Wallet.Network
	dst := req.DestinationNetwork

	srcDomain, ok := src.CCTPDomain()
	if !ok {
		return Result{}, payerr.E(payerr.KindConfiguration, "network %s has no CCTP domain", src)
	}
	dstDomain, ok := dst.CCTPDomain()
	if !ok {
		return Result{}, payerr.E(payerr.KindConfiguration, "network %s has no CCTP domain", dst)
	}
	usdc, ok := src.USDCContract()
	if !ok {
		return Result{}, payerr.E(payerr.KindConfiguration, "no USDC contract known for %s", src)
	}
	mintRecipient, err := toBytes32(req.Recipient, dst)
	if err != nil {
		return Result{}, err
	}

	subunits := money.ToSubunits(req.Amount)
	maxFee := req.MaxFee
	if maxFee.IsZero() {
		maxFee = DefaultMaxFee
	}
	finality := finalityStandard
	if c.cfg.Fast {
		finality = finalityFast
	}

	// Step 1: allow the TokenMessenger to burn the USDC.
	messenger := src.TokenMessenger()
	_, err = c.provider.CallContract(ctx, custody.ContractCallRequest{
		WalletID:             req.Wallet.ID,
		ContractAddress:      usdc,
		ABIFunctionSignature: "approve(address,uint256)",
		ABIParameters:        []string{messenger, strconv.FormatInt(subunits, 10)},
		FeeLevel:             req.FeeLevel,
		IdempotencyKey:       req.IdempotencyKey + ":approve",
		WaitForConfirmation:  true,
	})
	if err != nil {
		return Result{}, payerr.Wrap(err, payerr.KindProtocol, "cctp approve on %s", src)
	}

	// Step 2: burn on the source chain.
	burn, err := c.provider.CallContract(ctx, custody.ContractCallRequest{
		WalletID:             req.Wallet.ID,
		ContractAddress:      messenger,
		ABIFunctionSignature: "depositForBurn(uint256,uint32,bytes32,address,bytes32,uint256,uint32)",
		ABIParameters: []string{
			strconv.FormatInt(subunits, 10),
			strconv.FormatUint(uint64(dstDomain), 10),
			mintRecipient,
			usdc,
			zeroBytes32,
			strconv.FormatInt(money.ToSubunits(maxFee), 10),
			strconv.Itoa(finality),
		},
		FeeLevel:            req.FeeLevel,
		IdempotencyKey:      req.IdempotencyKey + ":burn",
		WaitForConfirmation: true,
	})
	if err != nil {
		return Result{}, payerr.Wrap(err, payerr.KindProtocol, "cctp depositForBurn on %s", src)
	}

	meta := map[string]string{
		"cctp_version":       "2",
		"source_network":     string(src),
		"source_domain":      strconv.FormatUint(uint64(srcDomain), 10),
		"destination":        string(dst),
		"destination_domain": strconv.FormatUint(uint64(dstDomain), 10),
		"burn_tx":            burn.TxHash,
	}

	// Step 3: wait for the Iris attestation.
	attURL := c.attestationURL(src, srcDomain, burn.TxHash)
	meta["attestation_url"] = attURL
	message, attestation, err := c.pollAttestation(ctx, attURL)
	if err != nil {
		// Funds are burned; the attestation URL in the metadata is the
		// recovery handle.
		return Result{Method: MethodCrossChain, TxHash: burn.TxHash, Metadata: meta}, err
	}

	// Step 4: mint on the destination chain.
	executor, ok := c.cfg.ExecutorWallets[dst]
	if !ok {
		meta["mint"] = "relayer"
		c.log.Info("cctp burn attested, mint left to relayer",
			zap.String("burn_tx", burn.TxHash),
			zap.String("destination", string(dst)))
		return Result{
			Method:        MethodCrossChain,
			TransactionID: burn.ID,
			TxHash:        burn.TxHash,
			Metadata:      meta,
		}, nil
	}
	mint, err := c.provider.CallContract(ctx, custody.ContractCallRequest{
		WalletID:             executor,
		ContractAddress:      dst.MessageTransmitter(),
		ABIFunctionSignature: "receiveMessage(bytes,bytes)",
		ABIParameters:        []string{message, attestation},
		FeeLevel:             req.FeeLevel,
		IdempotencyKey:       req.IdempotencyKey + ":mint",
		WaitForConfirmation:  true,
	})
	if err != nil {
		return Result{Method: MethodCrossChain, TxHash: burn.TxHash, Metadata: meta},
			payerr.Wrap(err, payerr.KindProtocol, "cctp receiveMessage on %s", dst)
	}
	meta["mint_tx"] = mint.TxHash
	c.log.Info("cctp transfer settled",
		zap.String("burn_tx", burn.TxHash),
		zap.String("mint_tx", mint.TxHash),
		zap.String("source", string(src)),
		zap.String("destination", string(dst)))
	return Result{
		Method:        MethodCrossChain,
		TransactionID: mint.ID,
		TxHash:        mint.TxHash,
		Metadata:      meta,
	}, nil
}

// Simulate implements Adapter.
func (c *CrossChainAdapter) Simulate(ctx context.Context, req Request) (Simulation, error) {
	if req.DestinationNetwork == "" || req.DestinationNetwork == req.Wallet.Network {
		return c.transfer.Simulate(ctx, req)
	}
	if _, ok := req.DestinationNetwork.CCTPDomain(); !ok {
		return Simulation{}, payerr.E(payerr.KindValidation,
			"network %s is not a CCTP destination", req.DestinationNetwork)
	}
	if !AddressValidFor(req.Recipient, req.DestinationNetwork) {
		return Simulation{}, payerr.E(payerr.KindValidation,
			"recipient %q is not a valid %s address", req.Recipient, req.DestinationNetwork)
	}
	speed := "standard"
	fee := decimal.Zero
	if c.cfg.Fast {
		speed = "fast"
		fee = req.MaxFee
		if fee.IsZero() {
			fee = DefaultMaxFee
		}
	}
	return Simulation{
		Method: MethodCrossChain,
		Detail: fmt.Sprintf("CCTP %s transfer of %s USDC from %s to %s",
			speed, req.Amount, req.Wallet.Network, req.DestinationNetwork),
		Payable: true,
		Fee:     fee,
	}, nil
}

// attestationURL builds the Iris V2 message lookup URL.
func (c *CrossChainAdapter) attestationURL(src network.Network, srcDomain uint32, txHash string) string {
	base := c.cfg.IrisOverride
	if base == "" {
		base = src.IrisBaseURL()
	}
	return fmt.Sprintf("%s/v2/messages/%d?transactionHash=%s", base, srcDomain, txHash)
}

// irisResponse is the Iris V2 message lookup payload.
type irisResponse struct {
	Messages []struct {
		Status      string `json:"status"`
		Message     string `json:"message"`
		Attestation string `json:"attestation"`
	} `json:"messages"`
}

// pollAttestation polls Iris until the message is attested.
func (c *CrossChainAdapter) pollAttestation(ctx context.Context, url string) (message, attestation string, err error) {
	deadline := c.clock.Now().Add(c.cfg.MaxWait)
	for {
		msg, att, done, pollErr := c.fetchAttestation(ctx, url)
		if pollErr != nil {
			return "", "", pollErr
		}
		if done {
			return msg, att, nil
		}
		if c.clock.Now().After(deadline) {
			return "", "", payerr.E(payerr.KindTimeout,
				"attestation not complete after %s", c.cfg.MaxWait)
		}
		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			return "", "", payerr.Wrap(err, payerr.KindTimeout, "waiting for attestation")
		}
	}
}

func (c *CrossChainAdapter) fetchAttestation(ctx context.Context, url string) (message, attestation string, done bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", false, payerr.Wrap(err, payerr.KindConfiguration, "build attestation request")
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", "", false, payerr.Wrap(err, payerr.KindNetwork, "fetch attestation")
	}
	defer resp.Body.Close()
	// 404 means Iris has not indexed the burn yet.
	if resp.StatusCode == http.StatusNotFound {
		return "", "", false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", false, payerr.E(payerr.KindProtocol,
			"attestation service returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", false, payerr.Wrap(err, payerr.KindNetwork, "read attestation response")
	}
	var ir irisResponse
	if err := json.Unmarshal(body, &ir); err != nil {
		return "", "", false, payerr.Wrap(err, payerr.KindProtocol, "decode attestation response")
	}
	for _, m := range ir.Messages {
		if strings.EqualFold(m.Status, "complete") && m.Message != "" && m.Attestation != "" {
			return m.Message, m.Attestation, true, nil
		}
	}
	return "", "", false, nil
}

const zeroBytes32 = "0x0000000000000000000000000000000000000000000000000000000000000000"

// toBytes32 left-pads an address into the bytes32 form CCTP expects.
func toBytes32(recipient string, net network.Network) (string, error) {
	if net.IsEVM() {
		if !IsEVMAddress(recipient) {
			return "", payerr.E(payerr.KindValidation,
				"recipient %q is not a valid %s address", recipient, net)
		}
		return "0x" + strings.Repeat("0", 24) + strings.ToLower(strings.TrimPrefix(recipient, "0x")), nil
	}
	raw := base58.Decode(recipient)
	if len(raw) != 32 {
		return "", payerr.E(payerr.KindValidation,
			"recipient %q is not a valid %s address", recipient, net)
	}
	return "0x" + hex.EncodeToString(raw), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ Adapter = (*CrossChainAdapter)(nil)
