package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	x402 "github.com/x402-foundation/x402-go"
)

// maxBodyBytes caps how much of a 402 body the client reads when falling
// back to V1 body parsing.
const maxBodyBytes = 1 << 20

// ParsePaymentRequired extracts the payment terms from a 402 response. V2
// servers carry them in the PAYMENT-REQUIRED header; V1 servers put them in
// the JSON body. The response body may be consumed.
func ParsePaymentRequired(resp *http.Response) (*x402.PaymentRequired, error) {
	if header := resp.Header.Get(HeaderPaymentRequired); header != "" {
		return DecodePaymentRequiredHeader(header)
	}

	if resp.Body == nil {
		return nil, fmt.Errorf("402 response carries no payment requirements")
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read 402 body: %w", err)
	}
	var required x402.PaymentRequired
	if err := json.Unmarshal(body, &required); err != nil {
		return nil, fmt.Errorf("parse 402 body: %w", err)
	}
	if required.X402Version < 1 {
		return nil, fmt.Errorf("402 body missing x402Version")
	}
	if len(required.Accepts) == 0 {
		return nil, fmt.Errorf("402 body missing accepts")
	}
	return &required, nil
}

// Transport is an http.RoundTripper that pays for protected resources: on a
// 402 it builds a payment payload with the wrapped protocol client and
// retries the request once with the payment header attached. Anything other
// than a 402, and any payment the client cannot produce, passes through to
// the caller unchanged.
type Transport struct {
	base   http.RoundTripper
	client *x402.Client
}

// NewTransport wraps base (http.DefaultTransport when nil) with payment
// handling.
func NewTransport(client *x402.Client, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, client: client}
}

// NewPayingClient returns an *http.Client whose transport answers 402s with
// payment.
func NewPayingClient(client *x402.Client) *http.Client {
	return &http.Client{Transport: NewTransport(client, nil)}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	// Requests with a one-shot body cannot be replayed.
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if readErr != nil {
		return resp, nil
	}

	required, err := ParsePaymentRequired(resp)
	// Parsing may consume the body on the V1 path; restore it so the caller
	// still sees the full 402 when payment is not possible.
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return resp, nil
	}

	payload, err := t.client.CreatePaymentForRequired(req.Context(), *required)
	if err != nil {
		// Not payable with the registered schemes; the 402 stands.
		return resp, nil
	}
	name, value, err := EncodePaymentSignatureHeader(payload)
	if err != nil {
		return resp, nil
	}

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		retryBody, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		retry.Body = retryBody
	}
	retry.Header.Set(name, value)

	paid, err := t.base.RoundTrip(retry)
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// SettlementFromResponse extracts the settlement confirmation attached to a
// paid response, trying the V2 header then the V1 one. Returns nil when the
// response carries no confirmation.
func SettlementFromResponse(resp *http.Response) (*x402.SettleResponse, error) {
	header := resp.Header.Get(HeaderPaymentResponse)
	if header == "" {
		header = resp.Header.Get(HeaderPaymentResponseV1)
	}
	if header == "" {
		return nil, nil
	}
	return DecodeSettlementHeader(header)
}
