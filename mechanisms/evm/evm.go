// Package evm implements the "exact" payment scheme for EVM networks.
package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// SchemeExact is the scheme identifier.
	SchemeExact = "exact"

	// DefaultDecimals is the USDC token precision.
	DefaultDecimals = 6
)

// AssetInfo describes one token on one network.
type AssetInfo struct {
	Address  string
	Name     string
	Version  string
	Decimals int
}

// NetworkConfig describes one supported EVM network.
type NetworkConfig struct {
	CAIP2           string
	ChainID         *big.Int
	DefaultAsset    AssetInfo
	SupportedAssets map[string]AssetInfo
}

var usdcBase = AssetInfo{
	Address:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	Name:     "USD Coin",
	Version:  "2",
	Decimals: DefaultDecimals,
}

var usdcBaseSepolia = AssetInfo{
	Address:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	Name:     "USDC",
	Version:  "2",
	Decimals: DefaultDecimals,
}

var usdcEthereum = AssetInfo{
	Address:  "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	Name:     "USD Coin",
	Version:  "2",
	Decimals: DefaultDecimals,
}

// NetworkConfigs maps CAIP-2 identifiers to their configuration.
var NetworkConfigs = map[string]NetworkConfig{
	"eip155:8453": {
		CAIP2:        "eip155:8453",
		ChainID:      big.NewInt(8453),
		DefaultAsset: usdcBase,
		SupportedAssets: map[string]AssetInfo{
			"USDC": usdcBase,
		},
	},
	"eip155:84532": {
		CAIP2:        "eip155:84532",
		ChainID:      big.NewInt(84532),
		DefaultAsset: usdcBaseSepolia,
		SupportedAssets: map[string]AssetInfo{
			"USDC": usdcBaseSepolia,
		},
	},
	"eip155:1": {
		CAIP2:        "eip155:1",
		ChainID:      big.NewInt(1),
		DefaultAsset: usdcEthereum,
		SupportedAssets: map[string]AssetInfo{
			"USDC": usdcEthereum,
		},
	},
}

// GetNetworkConfig looks up a network by CAIP-2 identifier.
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	config, ok := NetworkConfigs[network]
	if !ok {
		return nil, fmt.Errorf("unsupported EVM network: %s", network)
	}
	return &config, nil
}

// GetAssetInfo resolves an asset by address or symbol on a network.
func GetAssetInfo(network, asset string) (*AssetInfo, error) {
	config, ok := NetworkConfigs[network]
	if !ok {
		return nil, fmt.Errorf("unsupported EVM network: %s", network)
	}
	if info, ok := config.SupportedAssets[strings.ToUpper(asset)]; ok {
		return &info, nil
	}
	for _, info := range config.SupportedAssets {
		if strings.EqualFold(info.Address, asset) {
			return &info, nil
		}
	}
	return nil, fmt.Errorf("unknown asset %s on network %s", asset, network)
}

// IsValidAddress reports whether s is a well-formed EVM address.
func IsValidAddress(s string) bool {
	return common.IsHexAddress(s)
}

// ChecksumAddress normalizes an address to its EIP-55 checksum form.
func ChecksumAddress(s string) string {
	return common.HexToAddress(s).Hex()
}

// ParseAmount converts a decimal string like "1.50" into the token's
// smallest unit. Excess fractional digits are rejected rather than rounded.
func ParseAmount(amount string, decimals int) (*big.Int, error) {
	parts := strings.SplitN(amount, ".", 2)
	whole := parts[0]
	fraction := ""
	if len(parts) == 2 {
		fraction = parts[1]
	}
	if whole == "" {
		whole = "0"
	}
	if len(fraction) > decimals {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", amount, decimals)
	}
	fraction += strings.Repeat("0", decimals-len(fraction))

	result, ok := new(big.Int).SetString(whole+fraction, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", amount)
	}
	if result.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative: %s", amount)
	}
	return result, nil
}

// FormatAmount renders a smallest-unit amount as a decimal string.
func FormatAmount(amount *big.Int, decimals int) string {
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, remainder := new(big.Int).DivMod(amount, divisor, new(big.Int))
	if remainder.Sign() == 0 {
		return whole.String()
	}
	fraction := fmt.Sprintf("%0*s", decimals, remainder.String())
	fraction = strings.TrimRight(fraction, "0")
	return whole.String() + "." + fraction
}
