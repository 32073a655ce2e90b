package evm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/x402-foundation/x402-go"
)

func TestParsePrice(t *testing.T) {
	server := NewExactServer()

	cases := []struct {
		name  string
		price x402.Price
		want  string
	}{
		{"dollar string", "$1.00", "1000000"},
		{"usd suffix", "1.50 USD", "1500000"},
		{"bare decimal", "0.10", "100000"},
		{"smallest unit", "1000000", "1000000"},
		{"small integer is dollars", "2", "2000000"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := server.ParsePrice(tc.price, "eip155:8453")
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Amount)
			assert.Equal(t, usdcBase.Address, got.Asset)
		})
	}
}

func TestParsePricePreParsed(t *testing.T) {
	server := NewExactServer()
	got, err := server.ParsePrice(x402.AssetAmount{Amount: "42", Asset: "0xCustom"}, "eip155:8453")
	require.NoError(t, err)
	assert.Equal(t, "42", got.Amount)
	assert.Equal(t, "0xCustom", got.Asset)
}

func TestParsePriceErrors(t *testing.T) {
	server := NewExactServer()

	_, err := server.ParsePrice("$1.00", "eip155:999999")
	require.Error(t, err)

	_, err = server.ParsePrice("not a price", "eip155:8453")
	require.Error(t, err)

	_, err = server.ParsePrice("1.0000001", "eip155:8453")
	require.Error(t, err)
}

func TestEnhancePaymentRequirements(t *testing.T) {
	server := NewExactServer()

	got, err := server.EnhancePaymentRequirements(context.Background(), x402.PaymentRequirements{
		Scheme:  SchemeExact,
		Network: "eip155:8453",
		Amount:  "1000000",
		PayTo:   "0x209693bc6afc0c5328ba36faf03c514ef312287c",
	}, x402.SupportedKind{X402Version: 2, Scheme: SchemeExact, Network: "eip155:8453"}, nil)
	require.NoError(t, err)

	// Checksummed recipient, default asset, EIP-712 domain fields.
	assert.Equal(t, ChecksumAddress("0x209693bc6afc0c5328ba36faf03c514ef312287c"), got.PayTo)
	assert.NotEqual(t, "0x209693bc6afc0c5328ba36faf03c514ef312287c", got.PayTo)
	assert.Equal(t, usdcBase.Address, got.Asset)
	assert.Equal(t, "USD Coin", got.Extra["name"])
	assert.Equal(t, "2", got.Extra["version"])
}

func TestEnhancePaymentRequirementsKeepsClientDomain(t *testing.T) {
	server := NewExactServer()

	got, err := server.EnhancePaymentRequirements(context.Background(), x402.PaymentRequirements{
		Scheme:  SchemeExact,
		Network: "eip155:8453",
		Amount:  "1000000",
		PayTo:   "0x209693bc6afc0c5328ba36faf03c514ef312287c",
		Extra:   map[string]any{"name": "Custom Token", "version": "1"},
	}, x402.SupportedKind{X402Version: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Custom Token", got.Extra["name"])
	assert.Equal(t, "1", got.Extra["version"])
}

func TestEnhancePaymentRequirementsConvertsDecimalAmount(t *testing.T) {
	server := NewExactServer()

	got, err := server.EnhancePaymentRequirements(context.Background(), x402.PaymentRequirements{
		Scheme:  SchemeExact,
		Network: "eip155:8453",
		Amount:  "1.50",
		PayTo:   "0x209693bc6afc0c5328ba36faf03c514ef312287c",
	}, x402.SupportedKind{X402Version: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, "1500000", got.Amount)
}

func TestEnhancePaymentRequirementsRejectsBadPayTo(t *testing.T) {
	server := NewExactServer()

	_, err := server.EnhancePaymentRequirements(context.Background(), x402.PaymentRequirements{
		Scheme:  SchemeExact,
		Network: "eip155:8453",
		Amount:  "1000000",
		PayTo:   "not-an-address",
	}, x402.SupportedKind{X402Version: 2}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payTo")
}

func TestEnhancePaymentRequirementsCopiesFacilitatorExtensions(t *testing.T) {
	server := NewExactServer()

	got, err := server.EnhancePaymentRequirements(context.Background(), x402.PaymentRequirements{
		Scheme:  SchemeExact,
		Network: "eip155:8453",
		Amount:  "1000000",
		PayTo:   "0x209693bc6afc0c5328ba36faf03c514ef312287c",
	}, x402.SupportedKind{
		X402Version: 2,
		Extra:       map[string]any{"gasSponsor": "0xSponsor", "unrelated": "x"},
	}, []string{"gasSponsor"})
	require.NoError(t, err)
	assert.Equal(t, "0xSponsor", got.Extra["gasSponsor"])
	assert.NotContains(t, got.Extra, "unrelated")
}

func TestAmountHelpers(t *testing.T) {
	amount, err := ParseAmount("1.5", 6)
	require.NoError(t, err)
	assert.Equal(t, "1500000", amount.String())
	assert.Equal(t, "1.5", FormatAmount(amount, 6))

	_, err = ParseAmount("-1", 6)
	require.Error(t, err)
}
