// Package cash is a toy payment scheme used in tests: payments are signed
// by prefixing the payer's name with a tilde and settle by narration. It
// exercises every protocol role without touching a chain.
package cash

import (
	"context"
	"fmt"
	"strings"
	"time"

	x402 "github.com/x402-foundation/x402-go"
)

const (
	// Scheme is the scheme identifier.
	Scheme = "cash"

	// Network is the toy network the scheme settles on.
	Network = x402.Network("x402:cash")

	// validityWindow is how long a client signature stays valid.
	validityWindow = 1000 * time.Second
)

// Server implements the resource-server half.
type Server struct{}

// NewServer builds a Server.
func NewServer() *Server {
	return &Server{}
}

// Scheme returns the scheme identifier.
func (s *Server) Scheme() string {
	return Scheme
}

// ParsePrice reads "$1", "1 USD", or a bare amount as whole US dollars.
func (s *Server) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	priceStr, ok := price.(string)
	if !ok {
		priceStr = fmt.Sprintf("%v", price)
	}
	priceStr = strings.TrimSpace(priceStr)
	priceStr = strings.TrimPrefix(priceStr, "$")
	priceStr = strings.TrimSuffix(priceStr, " USD")
	priceStr = strings.TrimSpace(priceStr)
	if priceStr == "" {
		return x402.AssetAmount{}, fmt.Errorf("empty cash price")
	}
	return x402.AssetAmount{Amount: priceStr, Asset: "USD"}, nil
}

// EnhancePaymentRequirements is a no-op: cash has no chain specifics.
func (s *Server) EnhancePaymentRequirements(ctx context.Context, requirements x402.PaymentRequirements, kind x402.SupportedKind, facilitatorExtensions []string) (x402.PaymentRequirements, error) {
	return requirements, nil
}

// Client implements the paying half for one named payer.
type Client struct {
	payer string
	now   func() time.Time
}

// NewClient builds a Client for payer.
func NewClient(payer string) *Client {
	return &Client{payer: payer, now: time.Now}
}

// Scheme returns the scheme identifier.
func (c *Client) Scheme() string {
	return Scheme
}

// CreatePaymentPayload signs by tilde-prefixing the payer's name.
func (c *Client) CreatePaymentPayload(ctx context.Context, version int, requirements x402.PaymentRequirements) (x402.PartialPaymentPayload, error) {
	return x402.PartialPaymentPayload{
		Payload: map[string]any{
			"signature":  "~" + c.payer,
			"name":       c.payer,
			"validUntil": c.now().Add(validityWindow).Unix(),
		},
	}, nil
}

// Facilitator verifies tilde signatures and settles by narration.
type Facilitator struct {
	now   func() time.Time
	extra map[string]any
}

// NewFacilitator builds a Facilitator.
func NewFacilitator() *Facilitator {
	return &Facilitator{now: time.Now}
}

// WithExtra sets the extra advertised in the supported directory.
func (f *Facilitator) WithExtra(extra map[string]any) *Facilitator {
	f.extra = extra
	return f
}

// Scheme returns the scheme identifier.
func (f *Facilitator) Scheme() string {
	return Scheme
}

// GetExtra advertises facilitator metadata per network.
func (f *Facilitator) GetExtra(network x402.Network) map[string]any {
	return f.extra
}

// Verify checks the payload's shape, signature, and validity window.
func (f *Facilitator) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	signature, ok := payload.Payload["signature"].(string)
	if !ok || signature == "" {
		return x402.VerifyResponse{IsValid: false, InvalidReason: "missing_signature",
			IntentTrace: x402.NewSignatureInvalidTrace("payload has no signature")}, nil
	}
	name, ok := payload.Payload["name"].(string)
	if !ok || name == "" {
		return x402.VerifyResponse{IsValid: false, InvalidReason: "missing_name",
			IntentTrace: x402.NewSignatureInvalidTrace("payload has no name")}, nil
	}
	validUntil, ok := asInt64(payload.Payload["validUntil"])
	if !ok {
		return x402.VerifyResponse{IsValid: false, InvalidReason: "missing_validUntil",
			IntentTrace: x402.NewSignatureInvalidTrace("payload has no validUntil")}, nil
	}

	if signature != "~"+name {
		return x402.VerifyResponse{IsValid: false, InvalidReason: "invalid_signature",
			IntentTrace: x402.NewSignatureInvalidTrace(fmt.Sprintf("signature %q does not match name %q", signature, name))}, nil
	}
	if validUntil < f.now().Unix() {
		return x402.VerifyResponse{IsValid: false, InvalidReason: "expired_signature",
			IntentTrace: x402.NewSignatureExpiredTrace(validUntil)}, nil
	}

	return x402.VerifyResponse{IsValid: true, Payer: signature}, nil
}

// Settle re-verifies and narrates the transfer.
func (f *Facilitator) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	verification, err := f.Verify(ctx, payload, requirements)
	if err != nil {
		return x402.SettleResponse{}, err
	}
	if !verification.IsValid {
		return x402.SettleResponse{
			Success:     false,
			ErrorReason: verification.InvalidReason,
			Network:     requirements.Network,
			IntentTrace: verification.IntentTrace,
		}, nil
	}

	name, _ := payload.Payload["name"].(string)
	return x402.SettleResponse{
		Success:     true,
		Payer:       verification.Payer,
		Transaction: fmt.Sprintf("%s transferred %s %s to %s", name, requirements.Amount, requirements.Asset, requirements.PayTo),
		Network:     requirements.Network,
	}, nil
}

// asInt64 reads an int from the decoded JSON forms it can take.
func asInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// NewFacilitatorClient wires a cash facilitator into an in-process client
// advertising the cash network.
func NewFacilitatorClient(facilitator *Facilitator) (*x402.LocalFacilitatorClient, error) {
	core := x402.NewFacilitator()
	if err := core.Register([]x402.Network{Network}, facilitator); err != nil {
		return nil, err
	}
	return x402.NewLocalFacilitatorClient(core, Network), nil
}
