package router

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"agentpay/internal/custody"
	"agentpay/pkg/network"
	"agentpay/pkg/payerr"
)

const sellerAddress = "0x2222222222222222222222222222222222222222"

// newSeller serves a v2 402 descriptor until a payment proof arrives.
func newSeller(t *testing.T, requiredSubunits string, netName string) (*httptest.Server, *[]string) {
	t.Helper()
	var proofs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sig := r.Header.Get("PAYMENT-SIGNATURE"); sig != "" {
			proofs = append(proofs, sig)
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"report":"paid content"}`))
			return
		}
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]any{
			"x402Version": 2,
			"accepts": []map[string]any{{
				"scheme":            "exact",
				"network":           netName,
				"maxAmountRequired": requiredSubunits,
				"resource":          "/report",
				"payTo":             sellerAddress,
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &proofs
}

func baseWallet(fake *custody.Fake, balance string) custody.Wallet {
	w := custody.Wallet{ID: "w1", Address: "0xfeedfeedfeedfeedfeedfeedfeedfeedfeedfeed", Network: network.Base}
	fake.AddWallet(w, amt(balance))
	return w
}

func TestX402HappyPath(t *testing.T) {
	ctx := context.Background()
	srv, proofs := newSeller(t, "1500000", "base") // 1.5 USDC
	fake := custody.NewFake()
	w := baseWallet(fake, "10")
	r := newRouter(fake, srv.Client())

	res, err := r.Execute(ctx, Request{Wallet: w, Recipient: srv.URL, Amount: amt("2")})
	require.NoError(t, err)
	require.Equal(t, MethodX402, res.Method)
	require.Equal(t, "1.5", res.Metadata["amount_paid"])
	require.Equal(t, sellerAddress, res.Metadata["pay_to"])

	// The on-chain settlement paid the seller exactly what was asked.
	require.Len(t, fake.Transfers, 1)
	require.Equal(t, sellerAddress, fake.Transfers[0].To)
	require.True(t, fake.Transfers[0].Amount.Equal(amt("1.5")))

	// The proof carries the transaction details.
	require.Len(t, *proofs, 1)
	raw, err := base64.StdEncoding.DecodeString((*proofs)[0])
	require.NoError(t, err)
	var proof struct {
		X402Version int    `json:"x402Version"`
		Scheme      string `json:"scheme"`
		Payload     struct {
			TransactionHash string `json:"transactionHash"`
			ToAddress       string `json:"toAddress"`
			Amount          string `json:"amount"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(raw, &proof))
	require.Equal(t, 2, proof.X402Version)
	require.Equal(t, "exact", proof.Scheme)
	require.Equal(t, sellerAddress, proof.Payload.ToAddress)
	require.Equal(t, "1.5", proof.Payload.Amount)
	require.NotEmpty(t, proof.Payload.TransactionHash)
}

func TestX402RequiredAmountExceedsAuthorization(t *testing.T) {
	ctx := context.Background()
	srv, _ := newSeller(t, "5000000", "base") // 5 USDC
	fake := custody.NewFake()
	w := baseWallet(fake, "10")
	r := newRouter(fake, srv.Client())

	_, err := r.Execute(ctx, Request{Wallet: w, Recipient: srv.URL, Amount: amt("2")})
	require.Equal(t, payerr.KindValidation, payerr.KindOf(err))
	require.Empty(t, fake.Transfers, "nothing settles when the price exceeds authorization")
}

func TestX402NonPaymentErrorStatus(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)
	fake := custody.NewFake()
	w := baseWallet(fake, "10")
	r := newRouter(fake, srv.Client())

	_, err := r.Execute(ctx, Request{Wallet: w, Recipient: srv.URL, Amount: amt("2")})
	require.Equal(t, payerr.KindProtocol, payerr.KindOf(err))
}

func TestX402SellerRejectsProof(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("PAYMENT-SIGNATURE") != "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]any{
			"scheme": "exact", "network": "base",
			"maxAmountRequired": "1000000", "payTo": sellerAddress,
		})
	}))
	t.Cleanup(srv.Close)
	fake := custody.NewFake()
	w := baseWallet(fake, "10")
	r := newRouter(fake, srv.Client())

	_, err := r.Execute(ctx, Request{Wallet: w, Recipient: srv.URL, Amount: amt("2")})
	require.Equal(t, payerr.KindProtocol, payerr.KindOf(err))
	// The transfer already happened; the error message must reference it.
	require.Len(t, fake.Transfers, 1)
	require.Contains(t, err.Error(), "paid tx")
}

func TestX402V1HeaderDescriptor(t *testing.T) {
	ctx := context.Background()
	desc, _ := json.Marshal(map[string]any{
		"scheme": "exact", "network": "base",
		"maxAmountRequired": "250000", "paymentAddress": sellerAddress,
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("PAYMENT-SIGNATURE") != "" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("X-Payment-Required", base64.StdEncoding.EncodeToString(desc))
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte("payment required"))
	}))
	t.Cleanup(srv.Close)
	fake := custody.NewFake()
	w := baseWallet(fake, "10")
	r := newRouter(fake, srv.Client())

	res, err := r.Execute(ctx, Request{Wallet: w, Recipient: srv.URL, Amount: amt("1")})
	require.NoError(t, err)
	require.Equal(t, "1", res.Metadata["x402_version"])
	require.Len(t, fake.Transfers, 1)
	require.True(t, fake.Transfers[0].Amount.Equal(amt("0.25")))
}

func TestX402SimulateProbesWithoutPaying(t *testing.T) {
	ctx := context.Background()
	srv, proofs := newSeller(t, "1500000", "base")
	fake := custody.NewFake()
	w := baseWallet(fake, "10")
	r := newRouter(fake, srv.Client())

	sim, err := r.Simulate(ctx, Request{Wallet: w, Recipient: srv.URL, Amount: amt("2")})
	require.NoError(t, err)
	require.Equal(t, MethodX402, sim.Method)
	require.True(t, sim.Payable)
	require.Empty(t, fake.Transfers)
	require.Empty(t, *proofs)

	sim, err = r.Simulate(ctx, Request{Wallet: w, Recipient: srv.URL, Amount: amt("1")})
	require.NoError(t, err)
	require.False(t, sim.Payable, "price above authorization is reported, not paid")
}
