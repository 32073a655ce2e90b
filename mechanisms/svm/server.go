package svm

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	x402 "github.com/x402-foundation/x402-go"
)

// ExactServer implements the resource-server half of the exact scheme on
// Solana networks.
type ExactServer struct{}

// NewExactServer builds an ExactServer.
func NewExactServer() *ExactServer {
	return &ExactServer{}
}

// Scheme returns the scheme identifier.
func (s *ExactServer) Scheme() string {
	return SchemeExact
}

// ParsePrice accepts "$0.10", "0.10 USDC", a bare decimal, a number, or a
// pre-parsed AssetAmount, resolving against the cluster's default mint.
func (s *ExactServer) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	config, err := GetNetworkConfig(string(network))
	if err != nil {
		return x402.AssetAmount{}, err
	}

	switch v := price.(type) {
	case x402.AssetAmount:
		if v.Amount == "" {
			return x402.AssetAmount{}, fmt.Errorf("asset amount missing amount")
		}
		if v.Asset == "" {
			v.Asset = config.DefaultAsset.Address
		}
		return v, nil
	case string:
		return s.parseStringPrice(v, config)
	case float64:
		return s.decimalToAssetAmount(strconv.FormatFloat(v, 'f', -1, 64), config)
	case int:
		return s.decimalToAssetAmount(strconv.Itoa(v), config)
	case int64:
		return s.decimalToAssetAmount(strconv.FormatInt(v, 10), config)
	}
	return x402.AssetAmount{}, fmt.Errorf("invalid price format: %v", price)
}

func (s *ExactServer) parseStringPrice(priceStr string, config *NetworkConfig) (x402.AssetAmount, error) {
	clean := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(priceStr), "$"))
	parts := strings.Fields(clean)

	switch len(parts) {
	case 1:
		return s.decimalToAssetAmount(parts[0], config)
	case 2:
		symbol := strings.ToUpper(parts[1])
		var assetInfo *AssetInfo
		if symbol == "USDC" || symbol == "USD" {
			assetInfo = &config.DefaultAsset
		} else {
			info, err := GetAssetInfo(config.CAIP2, symbol)
			if err != nil {
				return x402.AssetAmount{}, fmt.Errorf("unsupported asset %s on network %s", symbol, config.CAIP2)
			}
			assetInfo = info
		}
		amount, err := ParseAmount(parts[0], assetInfo.Decimals)
		if err != nil {
			return x402.AssetAmount{}, err
		}
		return x402.AssetAmount{
			Amount: strconv.FormatUint(amount, 10),
			Asset:  assetInfo.Address,
		}, nil
	}
	return x402.AssetAmount{}, fmt.Errorf("invalid price format: %s", priceStr)
}

func (s *ExactServer) decimalToAssetAmount(decimal string, config *NetworkConfig) (x402.AssetAmount, error) {
	amount, err := ParseAmount(decimal, config.DefaultAsset.Decimals)
	if err != nil {
		return x402.AssetAmount{}, err
	}
	return x402.AssetAmount{
		Amount: strconv.FormatUint(amount, 10),
		Asset:  config.DefaultAsset.Address,
	}, nil
}

// EnhancePaymentRequirements fills in Solana specifics: validated
// addresses, smallest-unit amounts, and the facilitator's fee payer, which
// the client needs to build the transaction.
func (s *ExactServer) EnhancePaymentRequirements(ctx context.Context, requirements x402.PaymentRequirements, kind x402.SupportedKind, facilitatorExtensions []string) (x402.PaymentRequirements, error) {
	_, err := GetNetworkConfig(string(requirements.Network))
	if err != nil {
		return requirements, err
	}

	if !IsValidAddress(requirements.PayTo) {
		return requirements, fmt.Errorf("invalid payTo address: %s", requirements.PayTo)
	}

	var assetInfo *AssetInfo
	if requirements.Asset != "" {
		assetInfo, err = GetAssetInfo(string(requirements.Network), requirements.Asset)
		if err != nil {
			return requirements, err
		}
		requirements.Asset = assetInfo.Address
	} else {
		config, _ := GetNetworkConfig(string(requirements.Network))
		assetInfo = &config.DefaultAsset
		requirements.Asset = assetInfo.Address
	}

	if strings.Contains(requirements.Amount, ".") {
		amount, err := ParseAmount(requirements.Amount, assetInfo.Decimals)
		if err != nil {
			return requirements, fmt.Errorf("failed to parse amount: %w", err)
		}
		requirements.Amount = strconv.FormatUint(amount, 10)
	}

	if requirements.Extra == nil {
		requirements.Extra = make(map[string]any)
	}
	if kind.Extra != nil {
		if feePayer, ok := kind.Extra["feePayer"]; ok {
			requirements.Extra["feePayer"] = feePayer
		}
		for _, key := range facilitatorExtensions {
			if value, ok := kind.Extra[key]; ok {
				requirements.Extra[key] = value
			}
		}
	}

	return requirements, nil
}
