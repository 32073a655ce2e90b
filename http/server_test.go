package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/x402-foundation/x402-go"
)

type stubScheme struct{}

func (stubScheme) Scheme() string { return "exact" }

func (stubScheme) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	return x402.AssetAmount{Amount: "1000", Asset: "0xUSDC"}, nil
}

func (stubScheme) EnhancePaymentRequirements(ctx context.Context, requirements x402.PaymentRequirements, kind x402.SupportedKind, facilitatorExtensions []string) (x402.PaymentRequirements, error) {
	return requirements, nil
}

type stubFacilitatorClient struct {
	verifyFunc func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error)
	settleFunc func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error)
}

func (f *stubFacilitatorClient) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	if f.verifyFunc != nil {
		return f.verifyFunc(ctx, payload, requirements)
	}
	return x402.VerifyResponse{IsValid: true, Payer: "0xPayer"}, nil
}

func (f *stubFacilitatorClient) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	if f.settleFunc != nil {
		return f.settleFunc(ctx, payload, requirements)
	}
	return x402.SettleResponse{Success: true, Payer: "0xPayer", Transaction: "0xTx", Network: requirements.Network}, nil
}

func (f *stubFacilitatorClient) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	return x402.SupportedResponse{Kinds: []x402.SupportedKind{{
		X402Version: x402.ProtocolVersion,
		Scheme:      "exact",
		Network:     "eip155:8453",
	}}}, nil
}

func newTestService(t *testing.T, facilitator *stubFacilitatorClient) *ResourceService {
	t.Helper()
	core := x402.NewResourceServer(x402.WithFacilitatorClient(facilitator))
	require.NoError(t, core.Register("eip155:8453", stubScheme{}))

	service := NewResourceService(core, RoutesConfig{
		"GET /api/data": {
			Accepts: []PaymentOption{{
				Scheme:  "exact",
				Network: "eip155:8453",
				PayTo:   "0xMerchant",
				Price:   "$1.00",
			}},
			Description: "Premium data",
		},
	})
	require.NoError(t, service.Initialize(context.Background()))
	return service
}

func paymentHeaderFor(t *testing.T, resp *http.Response) (string, string) {
	t.Helper()
	required, err := ParsePaymentRequired(resp)
	require.NoError(t, err)

	accepted := required.Accepts[0]
	name, value, err := EncodePaymentSignatureHeader(x402.PaymentPayload{
		X402Version: required.X402Version,
		Resource:    required.Resource,
		Accepted:    &accepted,
		Payload:     map[string]any{"signature": "0xSig"},
	})
	require.NoError(t, err)
	return name, value
}

func TestMiddlewarePassesUnguardedRoutes(t *testing.T) {
	service := newTestService(t, &stubFacilitatorClient{})
	handler := service.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("free"))
	}))
	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/public")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMiddlewareRespondsPaymentRequired(t *testing.T) {
	service := newTestService(t, &stubFacilitatorClient{})
	handler := service.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("paid content"))
	}))
	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/data")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	// V2 terms in the header.
	required, err := DecodePaymentRequiredHeader(resp.Header.Get(HeaderPaymentRequired))
	require.NoError(t, err)
	assert.Equal(t, x402.ProtocolVersion, required.X402Version)
	require.Len(t, required.Accepts, 1)
	assert.Equal(t, "1000", required.Accepts[0].Amount)
	assert.Equal(t, "0xMerchant", required.Accepts[0].PayTo)

	// V1-compatible terms in the body.
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, float64(1), body["x402Version"])
	accepts, ok := body["accepts"].([]any)
	require.True(t, ok)
	require.Len(t, accepts, 1)
	first := accepts[0].(map[string]any)
	assert.Equal(t, "1000", first["maxAmountRequired"])
}

func TestMiddlewareServesPaywallToBrowsers(t *testing.T) {
	service := newTestService(t, &stubFacilitatorClient{})
	handler := service.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv := httptest.NewServer(handler)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/data", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, "text/html", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Payment Required")
	assert.Contains(t, string(body), "0xMerchant")
}

func TestMiddlewareRejectsMalformedHeader(t *testing.T) {
	service := newTestService(t, &stubFacilitatorClient{})
	handler := service.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv := httptest.NewServer(handler)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/data", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderPaymentSignature, "invalid@#$%")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Invalid payment header format: not valid base64", body["error"])
}

func TestMiddlewareVerifiesSettlesAndDelivers(t *testing.T) {
	service := newTestService(t, &stubFacilitatorClient{})
	handler := service.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("paid content"))
	}))
	srv := httptest.NewServer(handler)
	defer srv.Close()

	first, err := http.Get(srv.URL + "/api/data")
	require.NoError(t, err)
	name, value := paymentHeaderFor(t, first)
	first.Body.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/data", nil)
	require.NoError(t, err)
	req.Header.Set(name, value)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "paid content", string(body))

	settlement, err := DecodeSettlementHeader(resp.Header.Get(HeaderPaymentResponse))
	require.NoError(t, err)
	assert.True(t, settlement.Success)
	assert.Equal(t, "0xTx", settlement.Transaction)
	assert.Equal(t, "0xPayer", settlement.Payer)
}

func TestMiddlewareSkipsSettlementOnHandlerError(t *testing.T) {
	settled := false
	facilitator := &stubFacilitatorClient{
		settleFunc: func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
			settled = true
			return x402.SettleResponse{Success: true}, nil
		},
	}
	service := newTestService(t, facilitator)
	handler := service.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", http.StatusBadGateway)
	}))
	srv := httptest.NewServer(handler)
	defer srv.Close()

	first, err := http.Get(srv.URL + "/api/data")
	require.NoError(t, err)
	name, value := paymentHeaderFor(t, first)
	first.Body.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/data", nil)
	require.NoError(t, err)
	req.Header.Set(name, value)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.False(t, settled)
	assert.Empty(t, resp.Header.Get(HeaderPaymentResponse))
}

func TestMiddlewareInvalidPaymentGets402(t *testing.T) {
	facilitator := &stubFacilitatorClient{
		verifyFunc: func(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
			return x402.VerifyResponse{IsValid: false, InvalidReason: "insufficient_funds"}, nil
		},
	}
	service := newTestService(t, facilitator)
	handler := service.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("paid content"))
	}))
	srv := httptest.NewServer(handler)
	defer srv.Close()

	first, err := http.Get(srv.URL + "/api/data")
	require.NoError(t, err)
	name, value := paymentHeaderFor(t, first)
	first.Body.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/data", nil)
	require.NoError(t, err)
	req.Header.Set(name, value)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "insufficient_funds", body["error"])
}

func TestMiddlewareHandlesDecline(t *testing.T) {
	service := newTestService(t, &stubFacilitatorClient{})
	handler := service.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("paid content"))
	}))
	srv := httptest.NewServer(handler)
	defer srv.Close()

	value, err := EncodeDeclineHeader(x402.PaymentDecline{
		X402Version: x402.ProtocolVersion,
		Decline:     true,
		IntentTrace: x402.NewInsufficientFundsTrace("1000", "250", "0xUSDC"),
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/data", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderPaymentSignature, value)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
}

func TestTransportPaysAndRetries(t *testing.T) {
	service := newTestService(t, &stubFacilitatorClient{})
	handler := service.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("paid content"))
	}))
	srv := httptest.NewServer(handler)
	defer srv.Close()

	payer := x402.NewClient()
	require.NoError(t, payer.Register("eip155:8453", stubClientScheme{}))

	resp, err := NewPayingClient(payer).Get(srv.URL + "/api/data")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "paid content", string(body))

	settlement, err := SettlementFromResponse(resp)
	require.NoError(t, err)
	require.NotNil(t, settlement)
	assert.True(t, settlement.Success)
}

func TestTransportLeaves402WhenUnpayable(t *testing.T) {
	service := newTestService(t, &stubFacilitatorClient{})
	handler := service.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv := httptest.NewServer(handler)
	defer srv.Close()

	// No schemes registered: the client cannot pay.
	resp, err := NewPayingClient(x402.NewClient()).Get(srv.URL + "/api/data")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	required, err := ParsePaymentRequired(resp)
	require.NoError(t, err)
	assert.Len(t, required.Accepts, 1)
}

type stubClientScheme struct{}

func (stubClientScheme) Scheme() string { return "exact" }

func (stubClientScheme) CreatePaymentPayload(ctx context.Context, version int, requirements x402.PaymentRequirements) (x402.PartialPaymentPayload, error) {
	return x402.PartialPaymentPayload{Payload: map[string]any{"signature": "0xSig"}}, nil
}
