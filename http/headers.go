// Package http adapts the x402 protocol core to HTTP: header encoding,
// route matching, the resource-server middleware surface, the paying
// client, and the facilitator client.
package http

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"

	x402 "github.com/x402-foundation/x402-go"
)

// Wire headers. The V2 names are bare; V1 kept the X- prefix.
const (
	HeaderPaymentRequired  = "PAYMENT-REQUIRED"
	HeaderPaymentSignature = "PAYMENT-SIGNATURE"
	HeaderPaymentResponse  = "PAYMENT-RESPONSE"
	HeaderPaymentOffer     = "PAYMENT-OFFER"
	HeaderPaymentReceipt   = "PAYMENT-RECEIPT"

	HeaderPaymentV1         = "X-PAYMENT"
	HeaderPaymentResponseV1 = "X-PAYMENT-RESPONSE"
)

// base64Regex accepts both the standard and URL-safe alphabets; decoding
// figures out which one was used. Requires at least one character.
var base64Regex = regexp.MustCompile(`^[A-Za-z0-9+/_-]+={0,2}$`)

// encodeBase64JSON is the single encoding path for every wire header.
func encodeBase64JSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal header value: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// decodeBase64 accepts standard or URL-safe base64, padded or not.
func decodeBase64(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	} {
		if decoded, err := enc.DecodeString(s); err == nil {
			return decoded, nil
		}
	}
	return nil, fmt.Errorf("unrecognized base64 alphabet or padding")
}

// EncodePaymentRequiredHeader validates and encodes the 402 header value.
// Emitting a malformed header is a programming error, surfaced here
// synchronously.
func EncodePaymentRequiredHeader(required x402.PaymentRequired) (string, error) {
	if required.X402Version < 1 {
		return "", fmt.Errorf("x402Version must be at least 1")
	}
	if len(required.Accepts) == 0 {
		return "", fmt.Errorf("accepts must not be empty")
	}
	for i, req := range required.Accepts {
		if err := req.Validate(); err != nil {
			return "", fmt.Errorf("accepts[%d]: %w", i, err)
		}
	}
	return encodeBase64JSON(required)
}

// DecodePaymentRequiredHeader decodes a PAYMENT-REQUIRED header value.
func DecodePaymentRequiredHeader(header string) (*x402.PaymentRequired, error) {
	if header == "" {
		return nil, fmt.Errorf("payment required header is empty")
	}
	if !base64Regex.MatchString(header) {
		return nil, fmt.Errorf("Invalid payment header format: not valid base64")
	}
	decoded, err := decodeBase64(header)
	if err != nil {
		return nil, fmt.Errorf("Invalid payment header format: base64 decoding failed - %v", err)
	}
	var required x402.PaymentRequired
	if err := json.Unmarshal(decoded, &required); err != nil {
		return nil, fmt.Errorf("Invalid payment header format: not valid JSON - %v", err)
	}
	if required.X402Version < 1 {
		return nil, fmt.Errorf("Invalid value: x402Version must be at least 1")
	}
	if len(required.Accepts) == 0 {
		return nil, fmt.Errorf("Missing required field: accepts")
	}
	return &required, nil
}

// DecodePaymentSignatureHeader validates and decodes a payment header
// (PAYMENT-SIGNATURE or X-PAYMENT). It returns either a payload or, when
// the client sent decline:true, a decline.
//
// Validation is exhaustive and every violation produces a specific, named
// error: clients depend on these strings for diagnostics, so they are part
// of the protocol's observable surface.
func DecodePaymentSignatureHeader(header string) (*x402.PaymentPayload, *x402.PaymentDecline, error) {
	if header == "" {
		return nil, nil, fmt.Errorf("payment header is empty")
	}
	if !base64Regex.MatchString(header) {
		return nil, nil, fmt.Errorf("Invalid payment header format: not valid base64")
	}
	decoded, err := decodeBase64(header)
	if err != nil {
		return nil, nil, fmt.Errorf("Invalid payment header format: base64 decoding failed - %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(decoded, &raw); err != nil {
		return nil, nil, fmt.Errorf("Invalid payment header format: not valid JSON - %v", err)
	}

	version, err := validateVersion(raw)
	if err != nil {
		return nil, nil, err
	}

	if declined, ok := raw["decline"].(bool); ok && declined {
		var decline x402.PaymentDecline
		if err := json.Unmarshal(decoded, &decline); err != nil {
			return nil, nil, fmt.Errorf("failed to parse payment decline: %v", err)
		}
		return nil, &decline, nil
	}

	if version == x402.ProtocolVersionV1 {
		if err := validateV1Payload(raw); err != nil {
			return nil, nil, err
		}
	} else {
		if err := validateV2Payload(raw); err != nil {
			return nil, nil, err
		}
	}

	var payload x402.PaymentPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, nil, fmt.Errorf("failed to parse payment payload: %v", err)
	}
	return &payload, nil, nil
}

func validateVersion(raw map[string]any) (int, error) {
	value, exists := raw["x402Version"]
	if !exists {
		return 0, fmt.Errorf("Missing required field: x402Version")
	}
	version, ok := value.(float64)
	if !ok {
		return 0, fmt.Errorf("Invalid field type: x402Version must be a number")
	}
	if int(version) < 1 {
		return 0, fmt.Errorf("Invalid value: x402Version must be at least 1")
	}
	return int(version), nil
}

func validateV1Payload(raw map[string]any) error {
	if _, exists := raw["scheme"]; !exists {
		return fmt.Errorf("Missing required field: scheme")
	}
	if _, ok := raw["scheme"].(string); !ok {
		return fmt.Errorf("Invalid field type: scheme must be a string")
	}
	if _, exists := raw["network"]; !exists {
		return fmt.Errorf("Missing required field: network")
	}
	if _, ok := raw["network"].(string); !ok {
		return fmt.Errorf("Invalid field type: network must be a string")
	}
	if _, exists := raw["payload"]; !exists {
		return fmt.Errorf("Missing required field: payload")
	}
	if _, ok := raw["payload"].(map[string]any); !ok {
		return fmt.Errorf("Invalid field type: payload must be an object")
	}
	return nil
}

func validateV2Payload(raw map[string]any) error {
	resource, exists := raw["resource"]
	if !exists {
		return fmt.Errorf("Missing required field: resource")
	}
	resourceMap, ok := resource.(map[string]any)
	if !ok {
		return fmt.Errorf("Invalid field type: resource must be an object")
	}
	for _, field := range []string{"url", "description", "mimeType"} {
		value, exists := resourceMap[field]
		if !exists {
			return fmt.Errorf("Missing required field: resource.%s", field)
		}
		if _, ok := value.(string); !ok {
			return fmt.Errorf("Invalid field type: resource.%s must be a string", field)
		}
	}

	if _, exists := raw["accepted"]; !exists {
		return fmt.Errorf("Missing required field: accepted")
	}
	if _, ok := raw["accepted"].(map[string]any); !ok {
		return fmt.Errorf("Invalid field type: accepted must be an object")
	}

	if _, exists := raw["payload"]; !exists {
		return fmt.Errorf("Missing required field: payload")
	}
	if _, ok := raw["payload"].(map[string]any); !ok {
		return fmt.Errorf("Invalid field type: payload must be an object")
	}
	return nil
}

// EncodePaymentSignatureHeader validates and encodes an outgoing payload.
// The header name depends on the payload version: PAYMENT-SIGNATURE for V2,
// X-PAYMENT for V1.
func EncodePaymentSignatureHeader(payload x402.PaymentPayload) (name, value string, err error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal payment payload: %w", err)
	}
	var check map[string]any
	if err := json.Unmarshal(raw, &check); err != nil {
		return "", "", fmt.Errorf("failed to validate payment payload: %w", err)
	}
	version, err := validateVersion(check)
	if err != nil {
		return "", "", err
	}
	if version == x402.ProtocolVersionV1 {
		if err := validateV1Payload(check); err != nil {
			return "", "", err
		}
		return HeaderPaymentV1, base64.StdEncoding.EncodeToString(raw), nil
	}
	if err := validateV2Payload(check); err != nil {
		return "", "", err
	}
	return HeaderPaymentSignature, base64.StdEncoding.EncodeToString(raw), nil
}

// EncodeDeclineHeader encodes an explicit payment decline for the
// PAYMENT-SIGNATURE header.
func EncodeDeclineHeader(decline x402.PaymentDecline) (string, error) {
	if decline.X402Version < 1 {
		return "", fmt.Errorf("x402Version must be at least 1")
	}
	if !decline.Decline {
		return "", fmt.Errorf("decline flag must be set")
	}
	return encodeBase64JSON(decline)
}

// EncodeSettlementHeader encodes a settle response for PAYMENT-RESPONSE or
// X-PAYMENT-RESPONSE.
func EncodeSettlementHeader(result x402.SettleResponse) (string, error) {
	return encodeBase64JSON(result)
}

// DecodeSettlementHeader decodes a settlement confirmation header.
func DecodeSettlementHeader(header string) (*x402.SettleResponse, error) {
	if header == "" {
		return nil, fmt.Errorf("settlement header is empty")
	}
	if !base64Regex.MatchString(header) {
		return nil, fmt.Errorf("Invalid payment header format: not valid base64")
	}
	decoded, err := decodeBase64(header)
	if err != nil {
		return nil, fmt.Errorf("Invalid payment header format: base64 decoding failed - %v", err)
	}
	var result x402.SettleResponse
	if err := json.Unmarshal(decoded, &result); err != nil {
		return nil, fmt.Errorf("Invalid payment header format: not valid JSON - %v", err)
	}
	return &result, nil
}
