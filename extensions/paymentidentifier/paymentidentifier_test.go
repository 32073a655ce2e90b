package paymentidentifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/x402-foundation/x402-go"
)

func payloadWithID(id string) x402.PaymentPayload {
	return x402.PaymentPayload{
		X402Version: 2,
		Payload:     map[string]any{"signature": "0xSig"},
		Extensions: map[string]any{
			Key: map[string]any{"info": map[string]any{"id": id, "required": true}},
		},
	}
}

func TestGenerateID(t *testing.T) {
	id := GenerateID("")
	assert.True(t, IsValidID(id))
	assert.Contains(t, id, "pay_")

	custom := GenerateID("inv_")
	assert.Contains(t, custom, "inv_")
	assert.NotEqual(t, id, custom)
}

func TestIsValidID(t *testing.T) {
	assert.True(t, IsValidID("pay_7d5d747be160e280504c099d984bcfe0"))
	assert.False(t, IsValidID("short"))
	assert.False(t, IsValidID("has spaces in the identifier"))
	assert.False(t, IsValidID(""))
}

func TestFromPayload(t *testing.T) {
	id, err := FromPayload(payloadWithID("pay_7d5d747be160e280504c099d984bcfe0"))
	require.NoError(t, err)
	assert.Equal(t, "pay_7d5d747be160e280504c099d984bcfe0", id)

	id, err = FromPayload(x402.PaymentPayload{X402Version: 2})
	require.NoError(t, err)
	assert.Empty(t, id)

	_, err = FromPayload(payloadWithID("bad!id"))
	require.Error(t, err)
}

func TestServerExtensionEchoesIDOnVerification(t *testing.T) {
	ext := NewServerExtension(false)

	out, err := ext.EnrichVerification(Declaration(false), x402.VerificationEnrichment{
		Payload: payloadWithID("pay_7d5d747be160e280504c099d984bcfe0"),
		Result:  x402.VerifyResponse{IsValid: true},
	})
	require.NoError(t, err)

	info := out.(map[string]any)["info"].(map[string]any)
	assert.Equal(t, "pay_7d5d747be160e280504c099d984bcfe0", info["id"])
}

func TestServerExtensionRequiresID(t *testing.T) {
	ext := NewServerExtension(true)

	_, err := ext.EnrichVerification(Declaration(true), x402.VerificationEnrichment{
		Payload: x402.PaymentPayload{X402Version: 2},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required")

	// Optional declaration: silence, not failure.
	out, err := ext.EnrichVerification(Declaration(false), x402.VerificationEnrichment{
		Payload: x402.PaymentPayload{X402Version: 2},
	})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestServerExtensionEchoesIDOnSettlement(t *testing.T) {
	ext := NewServerExtension(false)

	out, err := ext.EnrichSettlement(Declaration(false), x402.SettlementEnrichment{
		Payload: payloadWithID("pay_7d5d747be160e280504c099d984bcfe0"),
		Result:  x402.SettleResponse{Success: true},
	})
	require.NoError(t, err)

	info := out.(map[string]any)["info"].(map[string]any)
	assert.Equal(t, "pay_7d5d747be160e280504c099d984bcfe0", info["id"])
}

func TestClientExtensionAttachesID(t *testing.T) {
	ext := NewClientExtension("")
	ext.newID = func(prefix string) string { return "pay_fixedfixedfixedfixed" }

	payload := x402.PaymentPayload{
		X402Version: 2,
		Payload:     map[string]any{"signature": "0xSig"},
	}
	required := x402.PaymentRequired{
		X402Version: 2,
		Extensions:  map[string]any{Key: Declaration(true)},
	}

	enriched, err := ext.EnrichPaymentPayload(context.Background(), payload, required)
	require.NoError(t, err)

	info := enriched.Extensions[Key].(map[string]any)["info"].(map[string]any)
	assert.Equal(t, "pay_fixedfixedfixedfixed", info["id"])
	assert.Equal(t, true, info["required"])
	// Core fields untouched.
	assert.True(t, x402.DeepEqual(payload.Payload, enriched.Payload))
}

func TestClientExtensionSkipsWhenUndeclared(t *testing.T) {
	ext := NewClientExtension("")
	payload := x402.PaymentPayload{X402Version: 2}

	enriched, err := ext.EnrichPaymentPayload(context.Background(), payload, x402.PaymentRequired{X402Version: 2})
	require.NoError(t, err)
	assert.Nil(t, enriched.Extensions)
}
