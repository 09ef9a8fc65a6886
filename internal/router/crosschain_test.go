package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"agentpay/internal/custody"
	"agentpay/pkg/clock"
	"agentpay/pkg/network"
	"agentpay/pkg/payerr"
)

// newIris serves the V2 message lookup, returning pending for the first
// pendingPolls requests.
func newIris(t *testing.T, pendingPolls int32) *httptest.Server {
	t.Helper()
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v2/messages/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if atomic.AddInt32(&polls, 1) <= pendingPolls {
			json.NewEncoder(w).Encode(map[string]any{
				"messages": []map[string]any{{"status": "pending_confirmations"}},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]any{{
				"status":      "complete",
				"message":     "0xmessagebytes",
				"attestation": "0xattestationbytes",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newCCTP(t *testing.T, fake *custody.Fake, iris *httptest.Server, cfg CrossChainConfig) *CrossChainAdapter {
	t.Helper()
	log := zap.NewNop()
	cfg.IrisOverride = iris.URL
	cfg.PollInterval = time.Millisecond
	transfer := NewTransferAdapter(fake, log)
	a := NewCrossChainAdapter(fake, transfer, cfg, iris.Client(), clock.NewReal(), log)
	a.sleep = func(context.Context, time.Duration) error { return nil }
	return a
}

func cctpRequest(w custody.Wallet) Request {
	return Request{
		Wallet:             w,
		Recipient:          evmRecipient,
		Amount:             amt("3"),
		DestinationNetwork: network.Arbitrum,
		IdempotencyKey:     "idem-1",
	}
}

func TestCrossChainHappyPathWithExecutor(t *testing.T) {
	ctx := context.Background()
	iris := newIris(t, 2)
	fake := custody.NewFake()
	src := custody.Wallet{ID: "w1", Address: "0xfeed", Network: network.Base}
	fake.AddWallet(src, amt("100"))
	fake.AddWallet(custody.Wallet{ID: "exec-arb", Network: network.Arbitrum}, amt("0"))

	cfg := DefaultCrossChainConfig()
	cfg.ExecutorWallets = map[network.Network]string{network.Arbitrum: "exec-arb"}
	a := newCCTP(t, fake, iris, cfg)

	res, err := a.Execute(ctx, cctpRequest(src))
	require.NoError(t, err)
	require.Equal(t, MethodCrossChain, res.Method)
	require.Equal(t, "2", res.Metadata["cctp_version"])
	require.Equal(t, "6", res.Metadata["source_domain"])
	require.Equal(t, "3", res.Metadata["destination_domain"])
	require.Contains(t, res.Metadata["attestation_url"], "/v2/messages/6?transactionHash=")
	require.NotEmpty(t, res.Metadata["mint_tx"])

	// approve, depositForBurn, receiveMessage in order.
	require.Len(t, fake.Calls, 3)
	usdc, _ := network.Base.USDCContract()
	require.Equal(t, usdc, fake.Calls[0].ContractAddress)
	require.Equal(t, "approve(address,uint256)", fake.Calls[0].ABIFunctionSignature)
	require.Equal(t, []string{network.Base.TokenMessenger(), "3000000"}, fake.Calls[0].ABIParameters)

	burn := fake.Calls[1]
	require.Equal(t, network.Base.TokenMessenger(), burn.ContractAddress)
	require.Equal(t, "depositForBurn(uint256,uint32,bytes32,address,bytes32,uint256,uint32)", burn.ABIFunctionSignature)
	require.Equal(t, "3000000", burn.ABIParameters[0])
	require.Equal(t, "3", burn.ABIParameters[1])
	require.Equal(t, "0x"+strings.Repeat("0", 24)+strings.TrimPrefix(evmRecipient, "0x"), burn.ABIParameters[2])
	require.Equal(t, usdc, burn.ABIParameters[3])
	require.Equal(t, "500", burn.ABIParameters[5], "default max fee")
	require.Equal(t, "1000", burn.ABIParameters[6], "fast finality")

	mint := fake.Calls[2]
	require.Equal(t, "exec-arb", mint.WalletID)
	require.Equal(t, network.Arbitrum.MessageTransmitter(), mint.ContractAddress)
	require.Equal(t, "receiveMessage(bytes,bytes)", mint.ABIFunctionSignature)
	require.Equal(t, []string{"0xmessagebytes", "0xattestationbytes"}, mint.ABIParameters)
}

func TestCrossChainRelayerMint(t *testing.T) {
	ctx := context.Background()
	iris := newIris(t, 0)
	fake := custody.NewFake()
	src := custody.Wallet{ID: "w1", Network: network.Base}
	fake.AddWallet(src, amt("100"))

	a := newCCTP(t, fake, iris, DefaultCrossChainConfig())
	res, err := a.Execute(ctx, cctpRequest(src))
	require.NoError(t, err)
	require.Equal(t, "relayer", res.Metadata["mint"])
	require.Len(t, fake.Calls, 2, "no receiveMessage without an executor wallet")
}

func TestCrossChainStandardFinality(t *testing.T) {
	ctx := context.Background()
	iris := newIris(t, 0)
	fake := custody.NewFake()
	src := custody.Wallet{ID: "w1", Network: network.Base}
	fake.AddWallet(src, amt("100"))

	cfg := DefaultCrossChainConfig()
	cfg.Fast = false
	a := newCCTP(t, fake, iris, cfg)

	_, err := a.Execute(ctx, cctpRequest(src))
	require.NoError(t, err)
	require.Equal(t, "2000", fake.Calls[1].ABIParameters[6])
}

func TestCrossChainAttestationTimeoutKeepsRecoveryHandle(t *testing.T) {
	ctx := context.Background()
	iris := newIris(t, 1<<30)
	fake := custody.NewFake()
	src := custody.Wallet{ID: "w1", Network: network.Base}
	fake.AddWallet(src, amt("100"))

	cfg := DefaultCrossChainConfig()
	cfg.MaxWait = time.Nanosecond
	a := newCCTP(t, fake, iris, cfg)

	res, err := a.Execute(ctx, cctpRequest(src))
	require.Equal(t, payerr.KindTimeout, payerr.KindOf(err))
	require.NotEmpty(t, res.Metadata["attestation_url"], "burned funds keep their recovery handle")
	require.NotEmpty(t, res.Metadata["burn_tx"])
}

func TestCrossChainSameNetworkDelegatesToTransfer(t *testing.T) {
	ctx := context.Background()
	iris := newIris(t, 0)
	fake := custody.NewFake()
	src := custody.Wallet{ID: "w1", Network: network.Base}
	fake.AddWallet(src, amt("100"))

	a := newCCTP(t, fake, iris, DefaultCrossChainConfig())
	req := cctpRequest(src)
	req.DestinationNetwork = network.Base

	res, err := a.Execute(ctx, req)
	require.NoError(t, err)
	require.Equal(t, MethodTransfer, res.Method)
	require.Empty(t, fake.Calls)
	require.Len(t, fake.Transfers, 1)
}

func TestCrossChainSolanaRecipientPadding(t *testing.T) {
	ctx := context.Background()
	iris := newIris(t, 0)
	fake := custody.NewFake()
	src := custody.Wallet{ID: "w1", Network: network.Base}
	fake.AddWallet(src, amt("100"))

	a := newCCTP(t, fake, iris, DefaultCrossChainConfig())
	req := cctpRequest(src)
	req.Recipient = solRecipient
	req.DestinationNetwork = network.Solana

	_, err := a.Execute(ctx, req)
	require.NoError(t, err)
	mintRecipient := fake.Calls[1].ABIParameters[2]
	require.True(t, strings.HasPrefix(mintRecipient, "0x"))
	require.Len(t, mintRecipient, 66, "bytes32 hex")
}
