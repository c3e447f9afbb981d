// Package types defines the shared value types of the transaction
// resolution engine: network descriptors, transfer legs, aggregated
// transaction details and price quotes.
package types

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// NetworkDescriptor is the immutable per-chain configuration. Descriptors
// are built once at startup and never mutated afterwards.
type NetworkDescriptor struct {
	// ChainID is the EIP-155 chain id (e.g. 1, 137, 56).
	ChainID uint64 `json:"chainId"`

	// Name is a human-readable network name (e.g. "ethereum", "polygon").
	Name string `json:"name"`

	// RPCURL is the JSON-RPC endpoint used for this network.
	RPCURL string `json:"rpcUrl"`

	// ExplorerBaseURL is the block-explorer base, without trailing slash
	// (e.g. "https://polygonscan.com").
	ExplorerBaseURL string `json:"explorerBaseUrl"`

	// NativeSymbol is the ticker of the chain's native currency
	// (e.g. "ETH", "POL", "BNB"), used to price gas fees.
	NativeSymbol string `json:"nativeSymbol"`
}

// DecimalKey returns the decimal chain-id registry key (e.g. "137").
func (d NetworkDescriptor) DecimalKey() string {
	return fmt.Sprintf("%d", d.ChainID)
}

// HexKey returns the 0x-prefixed hex chain-id registry key (e.g. "0x89").
func (d NetworkDescriptor) HexKey() string {
	return fmt.Sprintf("0x%x", d.ChainID)
}

// ExplorerTxURL builds the explorer link for a transaction hash.
func (d NetworkDescriptor) ExplorerTxURL(hash common.Hash) string {
	return d.ExplorerBaseURL + "/tx/" + hash.Hex()
}

// TokenMetadata is the resolved (or defaulted) ERC20 metadata of a contract.
type TokenMetadata struct {
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// DefaultTokenMetadata is the sentinel returned when neither the contract
// nor the static fallback table could provide metadata.
func DefaultTokenMetadata() TokenMetadata {
	return TokenMetadata{Symbol: "TOKEN", Decimals: 18}
}

// TransferLeg is one observed value movement inside a transaction: either a
// decoded ERC20 Transfer event or the transaction's native value.
type TransferLeg struct {
	From common.Address `json:"from"`
	To   common.Address `json:"to"`

	// Token is the ERC20 contract address, or nil for the native currency.
	Token *common.Address `json:"token,omitempty"`

	// RawValue is the unscaled on-chain amount (wei / base units).
	RawValue *big.Int `json:"rawValue"`

	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol"`

	// Amount is RawValue scaled by Decimals into human units.
	Amount decimal.Decimal `json:"amount"`
}

// IsNative reports whether the leg moves the chain's native currency.
func (l TransferLeg) IsNative() bool { return l.Token == nil }

// SameToken reports whether two legs move the same asset.
func (l TransferLeg) SameToken(other TransferLeg) bool {
	if l.Token == nil || other.Token == nil {
		return l.Token == nil && other.Token == nil
	}
	return strings.EqualFold(l.Token.Hex(), other.Token.Hex())
}

// TxStatus is the execution outcome of a transaction.
type TxStatus string

const (
	TxStatusSuccess TxStatus = "success"
	TxStatusFailed  TxStatus = "failed"
)

// UniversalTransactionDetails is the aggregated resolution result for a
// transaction hash. USD fields are nil when pricing was unavailable; the
// rest of the struct is still populated.
type UniversalTransactionDetails struct {
	Hash        common.Hash    `json:"hash"`
	ChainID     uint64         `json:"chainId"`
	Network     string         `json:"network"`
	ExplorerURL string         `json:"explorerUrl"`
	Sender      common.Address `json:"sender"`
	Receiver    common.Address `json:"receiver"`

	TokenFrom  string          `json:"tokenFrom"`
	AmountFrom decimal.Decimal `json:"amountFrom"`
	TokenTo    string          `json:"tokenTo"`
	AmountTo   decimal.Decimal `json:"amountTo"`

	// FeeNative is gasUsed x effectiveGasPrice in native units.
	FeeNative decimal.Decimal  `json:"feeNative"`
	FeeUSD    *decimal.Decimal `json:"feeUsd,omitempty"`

	USDValueFrom *decimal.Decimal `json:"usdValueFrom,omitempty"`
	USDValueTo   *decimal.Decimal `json:"usdValueTo,omitempty"`

	Status    TxStatus  `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// IsSwap reports whether the resolved input and output assets differ.
func (d *UniversalTransactionDetails) IsSwap() bool {
	return d.TokenFrom != d.TokenTo
}

// Confidence qualifies how a symbol was mapped to a price-feed id.
type Confidence string

const (
	// ConfidenceHigh means the mapping came from the static config table.
	ConfidenceHigh Confidence = "high"
	// ConfidenceMedium means the mapping was sourced from the price API.
	ConfidenceMedium Confidence = "medium"
)

// PricingMode tags the provenance of a price quote.
type PricingMode string

const (
	PricingModeIntraday        PricingMode = "intraday"
	PricingModeDaily           PricingMode = "daily"
	PricingModeCurrentFallback PricingMode = "current-fallback"
)

// PriceQuote is one resolved price for a token at some point in time.
type PriceQuote struct {
	// Price is the USD price per whole token.
	Price decimal.Decimal `json:"pricePerToken"`

	Mode       PricingMode `json:"pricingMode"`
	CoinID     string      `json:"coinGeckoId"`
	Confidence Confidence  `json:"confidence"`
}
