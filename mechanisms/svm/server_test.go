package svm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/x402-foundation/x402-go"
)

const (
	mainnet = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	payTo   = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

func TestParsePrice(t *testing.T) {
	server := NewExactServer()

	cases := []struct {
		name  string
		price x402.Price
		want  string
	}{
		{"dollar string", "$0.10", "100000"},
		{"usdc suffix", "0.10 USDC", "100000"},
		{"bare decimal", "1.5", "1500000"},
		{"float", 0.25, "250000"},
		{"int", 2, "2000000"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := server.ParsePrice(tc.price, mainnet)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Amount)
			assert.Equal(t, usdcMainnet.Address, got.Asset)
		})
	}
}

func TestParsePriceUnknownNetwork(t *testing.T) {
	server := NewExactServer()
	_, err := server.ParsePrice("$1.00", "solana:unknown")
	require.Error(t, err)
}

func TestEnhancePaymentRequirements(t *testing.T) {
	server := NewExactServer()

	got, err := server.EnhancePaymentRequirements(context.Background(), x402.PaymentRequirements{
		Scheme:  SchemeExact,
		Network: mainnet,
		Amount:  "0.10",
		PayTo:   payTo,
	}, x402.SupportedKind{
		X402Version: 2,
		Extra:       map[string]any{"feePayer": "FeePayer111111111111111111111111111111111111"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "100000", got.Amount)
	assert.Equal(t, usdcMainnet.Address, got.Asset)
	assert.Equal(t, "FeePayer111111111111111111111111111111111111", got.Extra["feePayer"])
}

func TestEnhancePaymentRequirementsRejectsBadPayTo(t *testing.T) {
	server := NewExactServer()

	_, err := server.EnhancePaymentRequirements(context.Background(), x402.PaymentRequirements{
		Scheme:  SchemeExact,
		Network: mainnet,
		Amount:  "100000",
		PayTo:   "0xNotSolana",
	}, x402.SupportedKind{X402Version: 2}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payTo")
}

func TestIsValidAddress(t *testing.T) {
	assert.True(t, IsValidAddress(payTo))
	assert.False(t, IsValidAddress("0xdeadbeef"))
	assert.False(t, IsValidAddress(""))
}
