package jws

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/x402-foundation/x402-go"
)

func requirements() []x402.PaymentRequirements {
	return []x402.PaymentRequirements{{
		Scheme:  "exact",
		Network: "eip155:8453",
		Asset:   "0xUSDC",
		Amount:  "1000",
		PayTo:   "0xMerchant",
	}}
}

func TestOfferRoundTripEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	signer, err := NewSigner("api.example.com", "key-1", priv)
	require.NoError(t, err)

	token, err := signer.SignOffer(context.Background(), "https://api.example.com/data", requirements())
	require.NoError(t, err)

	claims, err := VerifyOffer(token, pub)
	require.NoError(t, err)
	assert.Equal(t, "api.example.com", claims.Issuer)
	assert.Equal(t, "https://api.example.com/data", claims.Resource)
	require.Len(t, claims.Accepts, 1)
	assert.Equal(t, "1000", claims.Accepts[0].Amount)
	assert.True(t, claims.Expiry.Time().After(claims.IssuedAt.Time()))
}

func TestReceiptRoundTripECDSA(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	signer, err := NewSigner("api.example.com", "key-1", key)
	require.NoError(t, err)

	token, err := signer.SignReceipt(context.Background(), "https://api.example.com/data", "0xPayer")
	require.NoError(t, err)

	claims, err := VerifyReceipt(token, &key.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, "0xPayer", claims.Payer)
	assert.Equal(t, "https://api.example.com/data", claims.Resource)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	signer, err := NewSigner("api.example.com", "key-1", priv)
	require.NoError(t, err)

	token, err := signer.SignOffer(context.Background(), "https://api.example.com/data", requirements())
	require.NoError(t, err)

	_, err = VerifyOffer(token, otherPub)
	require.Error(t, err)
}

func TestSignerRejectsUnsupportedKey(t *testing.T) {
	_, err := NewSigner("api.example.com", "key-1", "not a key")
	require.Error(t, err)
}

func TestWithTTL(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	signer, err := NewSigner("api.example.com", "key-1", priv, WithTTL(time.Hour))
	require.NoError(t, err)

	fixed := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	signer.now = func() time.Time { return fixed }

	token, err := signer.SignOffer(context.Background(), "https://api.example.com/data", requirements())
	require.NoError(t, err)

	pub := priv.Public().(ed25519.PublicKey)
	claims, err := VerifyOffer(token, pub)
	require.NoError(t, err)
	assert.Equal(t, fixed.Add(time.Hour).Unix(), claims.Expiry.Time().Unix())
}
