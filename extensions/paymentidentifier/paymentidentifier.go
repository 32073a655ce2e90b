// Package paymentidentifier implements the payment identifier extension:
// the client attaches a unique ID to its payment so both sides can
// correlate retries, receipts, and support requests.
package paymentidentifier

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	x402 "github.com/x402-foundation/x402-go"
)

// Key is the extension identifier under which declarations and payloads
// travel.
const Key = "paymentIdentifier"

const (
	// MinIDLength and MaxIDLength bound accepted identifiers.
	MinIDLength = 16
	MaxIDLength = 128
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Info is the extension's wire shape under extensions[Key].
type Info struct {
	Required bool   `json:"required"`
	ID       string `json:"id,omitempty"`
}

// Extension wraps Info for JSON round-tripping.
type Extension struct {
	Info Info `json:"info"`
}

// GenerateID produces a fresh payment identifier: prefix plus a UUID v4
// without hyphens. An empty prefix defaults to "pay_".
func GenerateID(prefix string) string {
	if prefix == "" {
		prefix = "pay_"
	}
	return prefix + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// IsValidID reports whether id satisfies the length and alphabet rules.
func IsValidID(id string) bool {
	if len(id) < MinIDLength || len(id) > MaxIDLength {
		return false
	}
	return idPattern.MatchString(id)
}

// Declaration builds the server-side declaration advertising the
// extension.
func Declaration(required bool) map[string]any {
	return map[string]any{
		"info": map[string]any{"required": required},
	}
}

// decode coerces an arbitrary extension value into the typed shape.
func decode(value any) (Extension, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Extension{}, fmt.Errorf("marshal payment identifier extension: %w", err)
	}
	var ext Extension
	if err := json.Unmarshal(raw, &ext); err != nil {
		return Extension{}, fmt.Errorf("payment identifier extension must have an info object: %w", err)
	}
	return ext, nil
}

// FromPayload extracts the payment identifier from a payload's extensions.
// Returns an empty string when the extension or ID is absent.
func FromPayload(payload x402.PaymentPayload) (string, error) {
	value, ok := payload.Extensions[Key]
	if !ok {
		return "", nil
	}
	ext, err := decode(value)
	if err != nil {
		return "", err
	}
	if ext.Info.ID == "" {
		return "", nil
	}
	if !IsValidID(ext.Info.ID) {
		return "", fmt.Errorf("invalid payment identifier: must be %d-%d characters of [a-zA-Z0-9_-]", MinIDLength, MaxIDLength)
	}
	return ext.Info.ID, nil
}

// RequiredByDeclaration reads the required flag from a declared extension
// value.
func RequiredByDeclaration(value any) bool {
	ext, err := decode(value)
	if err != nil {
		return false
	}
	return ext.Info.Required
}

// ServerExtension declares the extension on routes and echoes the client's
// identifier into verification and settlement responses.
type ServerExtension struct {
	required bool
}

// NewServerExtension builds the server half. When required is true, clients
// without an identifier fail verification.
func NewServerExtension(required bool) *ServerExtension {
	return &ServerExtension{required: required}
}

// Key returns the extension identifier.
func (e *ServerExtension) Key() string {
	return Key
}

// EnrichDeclaration normalizes a route's declaration to the canonical
// shape.
func (e *ServerExtension) EnrichDeclaration(declaration, transportContext any) (any, error) {
	if declaration == nil {
		return Declaration(e.required), nil
	}
	ext, err := decode(declaration)
	if err != nil {
		return nil, err
	}
	return map[string]any{"info": map[string]any{"required": ext.Info.Required}}, nil
}

// EnrichVerification echoes the identifier back, or fails the result when
// one is required and missing.
func (e *ServerExtension) EnrichVerification(declaration any, enrichment x402.VerificationEnrichment) (any, error) {
	id, err := FromPayload(enrichment.Payload)
	if err != nil {
		return nil, err
	}
	if id == "" {
		if RequiredByDeclaration(declaration) {
			return nil, fmt.Errorf("payment identifier required but not provided")
		}
		return nil, nil
	}
	return map[string]any{"info": map[string]any{"id": id}}, nil
}

// EnrichSettlement echoes the identifier on the settlement confirmation.
func (e *ServerExtension) EnrichSettlement(declaration any, enrichment x402.SettlementEnrichment) (any, error) {
	id, err := FromPayload(enrichment.Payload)
	if err != nil || id == "" {
		return nil, err
	}
	return map[string]any{"info": map[string]any{"id": id}}, nil
}

// ClientExtension attaches a payment identifier to outgoing payloads when
// the server declares the extension.
type ClientExtension struct {
	prefix string
	// newID is swapped in tests for determinism.
	newID func(prefix string) string
}

// NewClientExtension builds the client half. prefix may be empty.
func NewClientExtension(prefix string) *ClientExtension {
	return &ClientExtension{prefix: prefix, newID: GenerateID}
}

// Key returns the extension identifier.
func (e *ClientExtension) Key() string {
	return Key
}

// EnrichPaymentPayload writes a fresh identifier under extensions[Key],
// keeping the server's required flag.
func (e *ClientExtension) EnrichPaymentPayload(ctx context.Context, payload x402.PaymentPayload, required x402.PaymentRequired) (x402.PaymentPayload, error) {
	declared, ok := required.Extensions[Key]
	if !ok {
		return payload, nil
	}

	extensions := make(map[string]any, len(payload.Extensions)+1)
	for k, v := range payload.Extensions {
		extensions[k] = v
	}
	extensions[Key] = map[string]any{
		"info": map[string]any{
			"required": RequiredByDeclaration(declared),
			"id":       e.newID(e.prefix),
		},
	}
	payload.Extensions = extensions
	return payload, nil
}
