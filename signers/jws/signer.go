// Package jws signs payment offers and receipts as compact JWS tokens, so
// clients can prove what a server offered and what they paid for.
package jws

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"fmt"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"

	x402 "github.com/x402-foundation/x402-go"
)

const defaultTTL = 5 * time.Minute

// OfferClaims is the signed body of a PAYMENT-OFFER header.
type OfferClaims struct {
	*jwt.Claims
	Resource string                     `json:"resource"`
	Accepts  []x402.PaymentRequirements `json:"accepts"`
}

// ReceiptClaims is the signed body of a PAYMENT-RECEIPT header.
type ReceiptClaims struct {
	*jwt.Claims
	Resource string `json:"resource"`
	Payer    string `json:"payer"`
}

// Signer signs offers and receipts with a caller-supplied key. ECDSA keys
// sign with ES256, Ed25519 with EdDSA.
type Signer struct {
	issuer string
	ttl    time.Duration
	signer jose.Signer
	now    func() time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithTTL overrides the default five-minute offer validity window.
func WithTTL(ttl time.Duration) Option {
	return func(s *Signer) {
		s.ttl = ttl
	}
}

// NewSigner builds a Signer. key must be an *ecdsa.PrivateKey or an
// ed25519.PrivateKey; keyID is placed in the JWS header so verifiers can
// select the right public key.
func NewSigner(issuer, keyID string, key any, opts ...Option) (*Signer, error) {
	if issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}

	var alg jose.SignatureAlgorithm
	switch key.(type) {
	case *ecdsa.PrivateKey:
		alg = jose.ES256
	case ed25519.PrivateKey:
		alg = jose.EdDSA
	default:
		return nil, fmt.Errorf("unsupported key type %T: want *ecdsa.PrivateKey or ed25519.PrivateKey", key)
	}

	joseSigner, err := jose.NewSigner(
		jose.SigningKey{Algorithm: alg, Key: key},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", keyID),
	)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	s := &Signer{
		issuer: issuer,
		ttl:    defaultTTL,
		signer: joseSigner,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SignOffer signs the terms offered for a resource.
func (s *Signer) SignOffer(ctx context.Context, url string, requirements []x402.PaymentRequirements) (string, error) {
	now := s.now()
	claims := &OfferClaims{
		Claims: &jwt.Claims{
			Issuer:   s.issuer,
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Resource: url,
		Accepts:  requirements,
	}
	token, err := jwt.Signed(s.signer).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("sign offer: %w", err)
	}
	return token, nil
}

// SignReceipt signs proof that payer paid for a resource.
func (s *Signer) SignReceipt(ctx context.Context, url, payer string) (string, error) {
	claims := &ReceiptClaims{
		Claims: &jwt.Claims{
			Issuer:   s.issuer,
			IssuedAt: jwt.NewNumericDate(s.now()),
		},
		Resource: url,
		Payer:    payer,
	}
	token, err := jwt.Signed(s.signer).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("sign receipt: %w", err)
	}
	return token, nil
}

// VerifyOffer parses and verifies an offer token against the issuer's
// public key.
func VerifyOffer(token string, publicKey any) (*OfferClaims, error) {
	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return nil, fmt.Errorf("parse offer token: %w", err)
	}
	var claims OfferClaims
	if err := parsed.Claims(publicKey, &claims); err != nil {
		return nil, fmt.Errorf("verify offer token: %w", err)
	}
	return &claims, nil
}

// VerifyReceipt parses and verifies a receipt token against the issuer's
// public key.
func VerifyReceipt(token string, publicKey any) (*ReceiptClaims, error) {
	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return nil, fmt.Errorf("parse receipt token: %w", err)
	}
	var claims ReceiptClaims
	if err := parsed.Claims(publicKey, &claims); err != nil {
		return nil, fmt.Errorf("verify receipt token: %w", err)
	}
	return &claims, nil
}
