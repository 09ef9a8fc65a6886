package router

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agentpay/pkg/money"
	"agentpay/pkg/network"
	"agentpay/pkg/payerr"
)

// x402Version is the protocol version this adapter speaks.
const x402Version = 2

// x402Networks maps protocol network names to custody networks.
var x402Networks = map[string]network.Network{
	"ethereum":         network.Ethereum,
	"ethereum-sepolia": network.EthereumSepolia,
	"sepolia":          network.EthereumSepolia,
	"base":             network.Base,
	"base-sepolia":     network.BaseSepolia,
	"arbitrum":         network.Arbitrum,
	"arbitrum-sepolia": network.ArbitrumSepolia,
	"avalanche":        network.Avalanche,
	"optimism":         network.Optimism,
	"polygon":          network.Polygon,
	"solana":           network.Solana,
	"solana-devnet":    network.SolanaDevnet,
}

// descriptor is the seller's payment requirement.
type descriptor struct {
	Scheme   string
	Network  network.Network
	PayTo    string
	Amount   decimal.Decimal
	Resource string
	Version  int
}

// X402Adapter pays for HTTP resources behind 402 Payment Required: probe,
// settle the on-chain payment the seller asks for, then retry the request
// with the payment proof attached.
type X402Adapter struct {
	crosschain *CrossChainAdapter
	transfer   *TransferAdapter
	httpc      *http.Client
	log        *zap.Logger
}

// NewX402Adapter returns the x402 rail. Cross-network seller requirements
// settle through the crosschain adapter.
func NewX402Adapter(transfer *TransferAdapter, crosschain *CrossChainAdapter, httpc *http.Client, log *zap.Logger) *X402Adapter {
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	return &X402Adapter{transfer: transfer, crosschain: crosschain, httpc: httpc, log: log}
}

// Method implements Adapter.
func (x *X402Adapter) Method() Method { return MethodX402 }

// Priority implements Adapter. URL recipients route here first.
func (x *X402Adapter) Priority() int { return 10 }

// Supports implements Adapter.
func (x *X402Adapter) Supports(route Route) bool {
	return IsURL(route.Recipient)
}

// Execute implements Adapter.
func (x *X402Adapter) Execute(ctx context.Context, req Request) (Result, error) {
	desc, err := x.probe(ctx, req.Recipient)
	if err != nil {
		return Result{}, err
	}
	if desc.Amount.GreaterThan(req.Amount) {
		return Result{}, payerr.E(payerr.KindValidation,
			"resource requires %s USDC, payment authorized up to %s", desc.Amount, req.Amount)
	}

	settleReq := req
	settleReq.Recipient = desc.PayTo
	settleReq.Amount = desc.Amount

	var settled Result
	if desc.Network != "" && desc.Network != req.Wallet.Network {
		settleReq.DestinationNetwork = desc.Network
		settled, err = x.crosschain.Execute(ctx, settleReq)
	} else {
		settleReq.DestinationNetwork = ""
		settled, err = x.transfer.Execute(ctx, settleReq)
	}
	if err != nil {
		return Result{}, err
	}

	if err := x.redeem(ctx, req.Recipient, req.Wallet.Address, desc, settled.TxHash); err != nil {
		return Result{}, err
	}
	x.log.Info("x402 payment settled",
		zap.String("resource", req.Recipient),
		zap.String("pay_to", desc.PayTo),
		zap.String("amount", desc.Amount.String()),
		zap.String("tx_hash", settled.TxHash))

	meta := map[string]string{
		"resource":      desc.Resource,
		"pay_to":        desc.PayTo,
		"amount_paid":   desc.Amount.String(),
		"x402_version":  fmt.Sprintf("%d", desc.Version),
		"settle_method": string(settled.Method),
	}
	for k, v := range settled.Metadata {
		meta[k] = v
	}
	return Result{
		Method:        MethodX402,
		TransactionID: settled.TransactionID,
		TxHash:        settled.TxHash,
		Metadata:      meta,
	}, nil
}

// Simulate implements Adapter: probes the resource and reports what it
// would cost, without paying.
func (x *X402Adapter) Simulate(ctx context.Context, req Request) (Simulation, error) {
	desc, err := x.probe(ctx, req.Recipient)
	if err != nil {
		return Simulation{}, err
	}
	return Simulation{
		Method: MethodX402,
		Detail: fmt.Sprintf("x402 resource %s requires %s USDC to %s on %s",
			req.Recipient, desc.Amount, desc.PayTo, desc.Network),
		Payable: desc.Amount.LessThanOrEqual(req.Amount),
	}, nil
}

// probe requests the resource and parses the payment requirement from the
// 402 response.
func (x *X402Adapter) probe(ctx context.Context, url string) (descriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return descriptor{}, payerr.Wrap(err, payerr.KindValidation, "invalid resource url %q", url)
	}
	resp, err := x.httpc.Do(req)
	if err != nil {
		return descriptor{}, payerr.Wrap(err, payerr.KindNetwork, "probe %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		return descriptor{}, payerr.E(payerr.KindProtocol,
			"expected 402 Payment Required from %s, got %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return descriptor{}, payerr.Wrap(err, payerr.KindNetwork, "read 402 response")
	}
	if desc, ok := parseV2Body(body); ok {
		return desc, nil
	}
	if header := resp.Header.Get("X-Payment-Required"); header != "" {
		if desc, ok := parseV1Header(header); ok {
			return desc, nil
		}
	}
	return descriptor{}, payerr.E(payerr.KindProtocol,
		"402 response from %s carries no usable payment descriptor", url)
}

// v2Requirement is one entry of the x402 v2 payment-required body.
type v2Requirement struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	Resource          string `json:"resource"`
	PayTo             string `json:"payTo"`
	PaymentAddress    string `json:"paymentAddress"`
	Recipient         string `json:"recipient"`
}

func (r v2Requirement) payTo() string {
	switch {
	case r.PayTo != "":
		return r.PayTo
	case r.PaymentAddress != "":
		return r.PaymentAddress
	}
	return r.Recipient
}

// parseV2Body decodes the JSON 402 body, either an accepts list or a
// single flat requirement.
func parseV2Body(body []byte) (descriptor, bool) {
	var envelope struct {
		X402Version int             `json:"x402Version"`
		Accepts     []v2Requirement `json:"accepts"`
	}
	var req v2Requirement
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Accepts) > 0 {
		req = envelope.Accepts[0]
	} else if err := json.Unmarshal(body, &req); err != nil {
		return descriptor{}, false
	}
	if req.payTo() == "" || req.MaxAmountRequired == "" {
		return descriptor{}, false
	}
	amount, err := parseRequiredAmount(req.MaxAmountRequired)
	if err != nil {
		return descriptor{}, false
	}
	return descriptor{
		Scheme:   req.Scheme,
		Network:  x402Networks[strings.ToLower(req.Network)],
		PayTo:    req.payTo(),
		Amount:   amount,
		Resource: req.Resource,
		Version:  2,
	}, true
}

// parseV1Header decodes the legacy base64 X-Payment-Required header.
func parseV1Header(header string) (descriptor, bool) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return descriptor{}, false
	}
	var req v2Requirement
	if err := json.Unmarshal(raw, &req); err != nil {
		return descriptor{}, false
	}
	if req.payTo() == "" || req.MaxAmountRequired == "" {
		return descriptor{}, false
	}
	amount, err := parseRequiredAmount(req.MaxAmountRequired)
	if err != nil {
		return descriptor{}, false
	}
	return descriptor{
		Scheme:   req.Scheme,
		Network:  x402Networks[strings.ToLower(req.Network)],
		PayTo:    req.payTo(),
		Amount:   amount,
		Resource: req.Resource,
		Version:  1,
	}, true
}

// parseRequiredAmount reads the seller's amount: integer strings are USDC
// subunits, decimal strings are whole tokens.
func parseRequiredAmount(s string) (decimal.Decimal, error) {
	if strings.Contains(s, ".") {
		return money.Parse(s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	return money.Validate(money.FromSubunits(d.IntPart()))
}

// paymentProof is the PAYMENT-SIGNATURE payload.
type paymentProof struct {
	X402Version int          `json:"x402Version"`
	Scheme      string       `json:"scheme"`
	Network     string       `json:"network"`
	Payload     proofPayload `json:"payload"`
	Resource    string       `json:"resource,omitempty"`
}

type proofPayload struct {
	TransactionHash string `json:"transactionHash"`
	FromAddress     string `json:"fromAddress"`
	ToAddress       string `json:"toAddress"`
	Amount          string `json:"amount"`
}

// redeem retries the request with the payment proof attached. The payment
// only counts once the seller serves the resource.
func (x *X402Adapter) redeem(ctx context.Context, url, fromAddress string, desc descriptor, txHash string) error {
	proof := paymentProof{
		X402Version: x402Version,
		Scheme:      desc.Scheme,
		Network:     strings.ToLower(string(desc.Network)),
		Payload: proofPayload{
			TransactionHash: txHash,
			FromAddress:     fromAddress,
			ToAddress:       desc.PayTo,
			Amount:          desc.Amount.String(),
		},
		Resource: desc.Resource,
	}
	raw, err := json.Marshal(proof)
	if err != nil {
		return payerr.Wrap(err, payerr.KindConfiguration, "encode payment proof")
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return payerr.Wrap(err, payerr.KindValidation, "invalid resource url %q", url)
	}
	req.Header.Set("PAYMENT-SIGNATURE", encoded)
	// Legacy servers read the v1 header name.
	req.Header.Set("X-Payment", encoded)

	resp, err := x.httpc.Do(req)
	if err != nil {
		return payerr.Wrap(err, payerr.KindNetwork, "redeem %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return payerr.E(payerr.KindProtocol,
			"seller rejected payment proof for %s with status %d (paid tx %s)", url, resp.StatusCode, txHash)
	}
	return nil
}

var _ Adapter = (*X402Adapter)(nil)
