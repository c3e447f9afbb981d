// Package config loads the engine configuration from the environment.
// Every network ships with a public default RPC endpoint that can be
// overridden per chain; required fields are validated at load time so the
// engine fails fast on misconfiguration.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// NetworkConfig describes one supported chain.
type NetworkConfig struct {
	ChainID         uint64 `validate:"required"`
	Name            string `validate:"required"`
	RPCURL          string `validate:"required,url"`
	ExplorerBaseURL string `validate:"required,url"`
	NativeSymbol    string `validate:"required"`
}

// StablecoinConfig pins metadata for a well-known token contract, used as
// a fallback when on-chain metadata calls fail.
type StablecoinConfig struct {
	ChainID  uint64 `validate:"required"`
	Address  string `validate:"required,eth_addr"`
	Symbol   string `validate:"required"`
	Decimals uint8
}

// Config is the full engine configuration.
type Config struct {
	LogLevel string `validate:"omitempty,oneof=debug info warn error"`

	Networks []NetworkConfig `validate:"min=1,dive"`

	// ServiceWalletAddress receives native-currency payments. Payment
	// verification refuses to run without it.
	ServiceWalletAddress string `validate:"omitempty,eth_addr"`

	// ServiceTokenWalletAddress receives ERC20 payments; falls back to
	// ServiceWalletAddress when empty.
	ServiceTokenWalletAddress string `validate:"omitempty,eth_addr"`

	// Stablecoins is the static metadata fallback table.
	Stablecoins []StablecoinConfig `validate:"dive"`

	// CoinGeckoAPIKey is optional; sent as a header when set.
	CoinGeckoAPIKey string

	// PaymentScanDepth bounds the legacy block-scanning verifier.
	PaymentScanDepth uint64 `validate:"omitempty,max=100"`
}

const defaultScanDepth = 50

var validate = validator.New()

// Default returns the built-in configuration: Ethereum, Polygon and
// BNB Smart Chain with public RPC endpoints and the canonical USDT/USDC
// contracts per chain.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Networks: []NetworkConfig{
			{
				ChainID:         1,
				Name:            "ethereum",
				RPCURL:          "https://eth.llamarpc.com",
				ExplorerBaseURL: "https://etherscan.io",
				NativeSymbol:    "ETH",
			},
			{
				ChainID:         137,
				Name:            "polygon",
				RPCURL:          "https://polygon-rpc.com",
				ExplorerBaseURL: "https://polygonscan.com",
				NativeSymbol:    "POL",
			},
			{
				ChainID:         56,
				Name:            "bsc",
				RPCURL:          "https://bsc-dataseed.binance.org",
				ExplorerBaseURL: "https://bscscan.com",
				NativeSymbol:    "BNB",
			},
		},
		Stablecoins: []StablecoinConfig{
			{ChainID: 1, Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Symbol: "USDT", Decimals: 6},
			{ChainID: 1, Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6},
			{ChainID: 137, Address: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", Symbol: "USDT", Decimals: 6},
			{ChainID: 137, Address: "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174", Symbol: "USDC", Decimals: 6},
			{ChainID: 56, Address: "0x55d398326f99059fF775485246999027B3197955", Symbol: "USDT", Decimals: 18},
			{ChainID: 56, Address: "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d", Symbol: "USDC", Decimals: 18},
		},
		PaymentScanDepth: defaultScanDepth,
	}
}

// Load builds the configuration from defaults plus environment overrides.
// A .env file in the working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.ServiceWalletAddress = os.Getenv("SERVICE_WALLET_ADDRESS")
	cfg.ServiceTokenWalletAddress = os.Getenv("SERVICE_TOKEN_WALLET_ADDRESS")
	cfg.CoinGeckoAPIKey = os.Getenv("COINGECKO_API_KEY")

	rpcOverrides := map[uint64]string{
		1:   "ETH_RPC_URL",
		137: "POLYGON_RPC_URL",
		56:  "BSC_RPC_URL",
	}
	for i := range cfg.Networks {
		if key, ok := rpcOverrides[cfg.Networks[i].ChainID]; ok {
			if url := os.Getenv(key); url != "" {
				cfg.Networks[i].RPCURL = url
			}
		}
	}

	if raw := os.Getenv("PAYMENT_SCAN_DEPTH"); raw != "" {
		depth, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid PAYMENT_SCAN_DEPTH %q: %w", raw, err)
		}
		cfg.PaymentScanDepth = depth
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate runs struct-tag validation over the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// ScanDepth returns the configured block-scanning window, defaulted when unset.
func (c *Config) ScanDepth() uint64 {
	if c.PaymentScanDepth == 0 {
		return defaultScanDepth
	}
	return c.PaymentScanDepth
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
