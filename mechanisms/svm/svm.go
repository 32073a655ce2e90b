// Package svm implements the "exact" payment scheme for Solana networks.
package svm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
)

const (
	// SchemeExact is the scheme identifier.
	SchemeExact = "exact"

	// DefaultDecimals is the USDC mint precision.
	DefaultDecimals = 6
)

// AssetInfo describes one SPL token mint.
type AssetInfo struct {
	Address  string
	Symbol   string
	Decimals int
}

// NetworkConfig describes one supported Solana cluster.
type NetworkConfig struct {
	CAIP2           string
	DefaultAsset    AssetInfo
	SupportedAssets map[string]AssetInfo
}

var usdcMainnet = AssetInfo{
	Address:  "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	Symbol:   "USDC",
	Decimals: DefaultDecimals,
}

var usdcDevnet = AssetInfo{
	Address:  "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
	Symbol:   "USDC",
	Decimals: DefaultDecimals,
}

// NetworkConfigs maps CAIP-2 identifiers to their configuration.
var NetworkConfigs = map[string]NetworkConfig{
	"solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp": {
		CAIP2:        "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp",
		DefaultAsset: usdcMainnet,
		SupportedAssets: map[string]AssetInfo{
			"USDC": usdcMainnet,
		},
	},
	"solana:EtWTRABZaYq6iMfeYKouRu166VbV3U8F": {
		CAIP2:        "solana:EtWTRABZaYq6iMfeYKouRu166VbV3U8F",
		DefaultAsset: usdcDevnet,
		SupportedAssets: map[string]AssetInfo{
			"USDC": usdcDevnet,
		},
	},
}

// GetNetworkConfig looks up a cluster by CAIP-2 identifier.
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	config, ok := NetworkConfigs[network]
	if !ok {
		return nil, fmt.Errorf("unsupported Solana network: %s", network)
	}
	return &config, nil
}

// GetAssetInfo resolves an asset by mint address or symbol on a network.
func GetAssetInfo(network, asset string) (*AssetInfo, error) {
	config, ok := NetworkConfigs[network]
	if !ok {
		return nil, fmt.Errorf("unsupported Solana network: %s", network)
	}
	if info, ok := config.SupportedAssets[strings.ToUpper(asset)]; ok {
		return &info, nil
	}
	for _, info := range config.SupportedAssets {
		if info.Address == asset {
			return &info, nil
		}
	}
	return nil, fmt.Errorf("unknown asset %s on network %s", asset, network)
}

// IsValidAddress reports whether s is a well-formed Solana public key.
func IsValidAddress(s string) bool {
	_, err := solana.PublicKeyFromBase58(s)
	return err == nil
}

// ParseAmount converts a decimal string into the mint's smallest unit.
func ParseAmount(amount string, decimals int) (uint64, error) {
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
		return 0, fmt.Errorf("amount %s has more than %d decimal places", amount, decimals)
	}
	fraction += strings.Repeat("0", decimals-len(fraction))

	result, err := strconv.ParseUint(whole+fraction, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount: %s", amount)
	}
	return result, nil
}
