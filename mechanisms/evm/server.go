package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	x402 "github.com/x402-foundation/x402-go"
)

// ExactServer implements the resource-server half of the exact scheme on
// EVM networks: price parsing and requirement enhancement.
type ExactServer struct{}

// NewExactServer builds an ExactServer.
func NewExactServer() *ExactServer {
	return &ExactServer{}
}

// Scheme returns the scheme identifier.
func (s *ExactServer) Scheme() string {
	return SchemeExact
}

// ParsePrice accepts "$1.00", "1.00 USD", a bare decimal, a smallest-unit
// integer, or a pre-parsed AssetAmount, and resolves it against the
// network's default asset.
func (s *ExactServer) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	config, err := GetNetworkConfig(string(network))
	if err != nil {
		return x402.AssetAmount{}, err
	}

	if preParsed, ok := price.(x402.AssetAmount); ok {
		if preParsed.Amount == "" {
			return x402.AssetAmount{}, fmt.Errorf("asset amount missing amount")
		}
		if preParsed.Asset == "" {
			preParsed.Asset = config.DefaultAsset.Address
		}
		return preParsed, nil
	}

	priceStr, ok := price.(string)
	if !ok {
		priceStr = fmt.Sprintf("%v", price)
	}
	priceStr = strings.TrimSpace(priceStr)
	priceStr = strings.TrimPrefix(priceStr, "$")
	priceStr = strings.TrimSuffix(priceStr, " USD")
	priceStr = strings.TrimSuffix(priceStr, " USDC")
	priceStr = strings.TrimSpace(priceStr)

	if strings.Contains(priceStr, ".") {
		amount, err := ParseAmount(priceStr, config.DefaultAsset.Decimals)
		if err != nil {
			return x402.AssetAmount{}, fmt.Errorf("failed to parse decimal price: %w", err)
		}
		return x402.AssetAmount{
			Amount: amount.String(),
			Asset:  config.DefaultAsset.Address,
		}, nil
	}

	amount, ok := new(big.Int).SetString(priceStr, 10)
	if !ok {
		return x402.AssetAmount{}, fmt.Errorf("invalid price format: %v", price)
	}

	// A value of at least one whole token is taken as already being in the
	// smallest unit; smaller integers are whole-dollar amounts.
	oneUnit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(config.DefaultAsset.Decimals)), nil)
	if amount.Cmp(oneUnit) < 0 {
		amount.Mul(amount, oneUnit)
	}
	return x402.AssetAmount{
		Amount: amount.String(),
		Asset:  config.DefaultAsset.Address,
	}, nil
}

// EnhancePaymentRequirements fills in EVM specifics: checksummed
// addresses, smallest-unit amounts, and the EIP-712 domain fields clients
// need to sign.
func (s *ExactServer) EnhancePaymentRequirements(ctx context.Context, requirements x402.PaymentRequirements, kind x402.SupportedKind, facilitatorExtensions []string) (x402.PaymentRequirements, error) {
	config, err := GetNetworkConfig(string(requirements.Network))
	if err != nil {
		return requirements, err
	}

	if !IsValidAddress(requirements.PayTo) {
		return requirements, fmt.Errorf("invalid payTo address: %s", requirements.PayTo)
	}
	requirements.PayTo = ChecksumAddress(requirements.PayTo)

	var assetInfo *AssetInfo
	if requirements.Asset != "" {
		assetInfo, err = GetAssetInfo(string(requirements.Network), requirements.Asset)
		if err != nil {
			return requirements, err
		}
		requirements.Asset = assetInfo.Address
	} else {
		assetInfo = &config.DefaultAsset
		requirements.Asset = assetInfo.Address
	}

	if strings.Contains(requirements.Amount, ".") {
		amount, err := ParseAmount(requirements.Amount, assetInfo.Decimals)
		if err != nil {
			return requirements, fmt.Errorf("failed to parse amount: %w", err)
		}
		requirements.Amount = amount.String()
	}

	if requirements.Extra == nil {
		requirements.Extra = make(map[string]any)
	}
	// The client may have pinned exact domain values already.
	if _, ok := requirements.Extra["name"]; !ok {
		requirements.Extra["name"] = assetInfo.Name
	}
	if _, ok := requirements.Extra["version"]; !ok {
		requirements.Extra["version"] = assetInfo.Version
	}

	if kind.Extra != nil {
		for _, key := range facilitatorExtensions {
			if value, ok := kind.Extra[key]; ok {
				requirements.Extra[key] = value
			}
		}
	}

	return requirements, nil
}
