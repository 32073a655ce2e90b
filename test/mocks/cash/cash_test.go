package cash

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/x402-foundation/x402-go"
)

func requirements() x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:  Scheme,
		Network: Network,
		Asset:   "USD",
		Amount:  "1",
		PayTo:   "Alice",
	}
}

func TestParsePrice(t *testing.T) {
	server := NewServer()

	got, err := server.ParsePrice("$1", Network)
	require.NoError(t, err)
	assert.Equal(t, x402.AssetAmount{Amount: "1", Asset: "USD"}, got)

	got, err = server.ParsePrice("2 USD", Network)
	require.NoError(t, err)
	assert.Equal(t, "2", got.Amount)

	_, err = server.ParsePrice("$", Network)
	require.Error(t, err)
}

func TestClientSignsWithTilde(t *testing.T) {
	client := NewClient("John")
	client.now = func() time.Time { return time.Unix(1000, 0) }

	partial, err := client.CreatePaymentPayload(context.Background(), 2, requirements())
	require.NoError(t, err)
	assert.Equal(t, "~John", partial.Payload["signature"])
	assert.Equal(t, "John", partial.Payload["name"])
	assert.Equal(t, int64(2000), partial.Payload["validUntil"])
}

func TestFacilitatorVerify(t *testing.T) {
	facilitator := NewFacilitator()
	facilitator.now = func() time.Time { return time.Unix(1000, 0) }

	payload := func(fields map[string]any) x402.PaymentPayload {
		return x402.PaymentPayload{X402Version: 2, Payload: fields}
	}

	cases := []struct {
		name   string
		fields map[string]any
		valid  bool
		reason string
	}{
		{
			name:   "valid",
			fields: map[string]any{"signature": "~John", "name": "John", "validUntil": int64(2000)},
			valid:  true,
		},
		{
			name:   "missing signature",
			fields: map[string]any{"name": "John", "validUntil": int64(2000)},
			reason: "missing_signature",
		},
		{
			name:   "missing name",
			fields: map[string]any{"signature": "~John", "validUntil": int64(2000)},
			reason: "missing_name",
		},
		{
			name:   "missing validUntil",
			fields: map[string]any{"signature": "~John", "name": "John"},
			reason: "missing_validUntil",
		},
		{
			name:   "forged signature",
			fields: map[string]any{"signature": "~Jane", "name": "John", "validUntil": int64(2000)},
			reason: "invalid_signature",
		},
		{
			name:   "expired",
			fields: map[string]any{"signature": "~John", "name": "John", "validUntil": int64(0)},
			reason: "expired_signature",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := facilitator.Verify(context.Background(), payload(tc.fields), requirements())
			require.NoError(t, err)
			assert.Equal(t, tc.valid, got.IsValid)
			if tc.valid {
				assert.Equal(t, "~John", got.Payer)
			} else {
				assert.Equal(t, tc.reason, got.InvalidReason)
				assert.NotNil(t, got.IntentTrace)
			}
		})
	}
}

func TestFacilitatorExpiredTrace(t *testing.T) {
	facilitator := NewFacilitator()

	got, err := facilitator.Verify(context.Background(), x402.PaymentPayload{
		X402Version: 2,
		Payload:     map[string]any{"signature": "~John", "name": "John", "validUntil": int64(0)},
	}, requirements())
	require.NoError(t, err)
	assert.Equal(t, x402.ReasonSignatureExpired, got.IntentTrace.ReasonCode)
}

func TestFacilitatorSettleNarrates(t *testing.T) {
	facilitator := NewFacilitator()
	facilitator.now = func() time.Time { return time.Unix(1000, 0) }

	got, err := facilitator.Settle(context.Background(), x402.PaymentPayload{
		X402Version: 2,
		Payload:     map[string]any{"signature": "~John", "name": "John", "validUntil": int64(2000)},
	}, requirements())
	require.NoError(t, err)
	assert.True(t, got.Success)
	assert.Equal(t, "John transferred 1 USD to Alice", got.Transaction)
	assert.Equal(t, Network, got.Network)
	assert.Equal(t, "~John", got.Payer)
}

func TestFacilitatorSettleRefusesInvalid(t *testing.T) {
	facilitator := NewFacilitator()

	got, err := facilitator.Settle(context.Background(), x402.PaymentPayload{
		X402Version: 2,
		Payload:     map[string]any{"signature": "~Jane", "name": "John", "validUntil": int64(1 << 40)},
	}, requirements())
	require.NoError(t, err)
	assert.False(t, got.Success)
	assert.Equal(t, "invalid_signature", got.ErrorReason)
}
