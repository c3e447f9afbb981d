// Package txcore locates a transaction hash across multiple EVM networks,
// extracts normalized transfer details with historical USD valuations, and
// verifies claimed payments against a configured service wallet.
package txcore

import (
	"context"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/chainvoice/txcore/cache"
	"github.com/chainvoice/txcore/config"
	"github.com/chainvoice/txcore/logger"
	"github.com/chainvoice/txcore/metrics"
	"github.com/chainvoice/txcore/networks"
	"github.com/chainvoice/txcore/payments"
	"github.com/chainvoice/txcore/prices"
	"github.com/chainvoice/txcore/tokens"
	"github.com/chainvoice/txcore/txdetails"
	"github.com/chainvoice/txcore/types"
)

// Engine is the main entry point. It wires the network registry, token
// metadata resolver, price resolver, transaction extractor and payment
// verifier from a single configuration.
type Engine struct {
	cfg *config.Config

	log logger.Logger
	rec metrics.Recorder

	// pre-wiring knobs set by options
	httpClient   *http.Client
	priceBaseURL string
	dialer       networks.Dialer

	registry  *networks.Registry
	locator   *networks.Locator
	tokens    *tokens.Resolver
	prices    *prices.Resolver
	extractor *txdetails.Extractor
	verifier  *payments.Verifier

	sweeper *cache.Sweeper
}

// New builds an Engine from the given configuration. A nil config uses
// the built-in defaults (Ethereum, Polygon and BNB Smart Chain). The
// payment verifier is wired only when a service wallet is configured;
// payment operations return a configuration error otherwise.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.NewZapLogger(cfg.LogLevel)
	}
	if e.rec == nil {
		e.rec = metrics.NoopRecorder{}
	}

	e.registry = networks.NewRegistry(e.dialer, e.log)
	for _, nc := range cfg.Networks {
		e.registry.Register(types.NetworkDescriptor{
			ChainID:         nc.ChainID,
			Name:            nc.Name,
			RPCURL:          nc.RPCURL,
			ExplorerBaseURL: nc.ExplorerBaseURL,
			NativeSymbol:    nc.NativeSymbol,
		})
	}

	e.locator = networks.NewLocator(e.registry, e.log, e.rec)
	e.tokens = tokens.NewResolver(e.registry, cfg.Stablecoins, e.log, e.rec)

	priceClient := prices.NewClient(e.httpClient, e.priceBaseURL, cfg.CoinGeckoAPIKey, e.log, e.rec)
	e.prices = prices.NewResolver(priceClient, e.log, e.rec)

	e.extractor = txdetails.NewExtractor(e.registry, e.locator, e.tokens, e.prices, e.log, e.rec)

	if cfg.ServiceWalletAddress != "" {
		verifier, err := payments.NewVerifier(
			e.registry, e.locator, e.tokens,
			common.HexToAddress(cfg.ServiceWalletAddress),
			common.HexToAddress(cfg.ServiceTokenWalletAddress),
			cfg.ScanDepth(), e.log, e.rec,
		)
		if err != nil {
			return nil, err
		}
		e.verifier = verifier
	}

	targets := append(e.locator.Caches(), e.prices.Caches()...)
	e.sweeper = cache.NewSweeper(networks.SweepInterval(), targets...)
	e.sweeper.Start()

	e.log.Info("engine ready", map[string]any{"networks": len(cfg.Networks)})
	return e, nil
}

// NewFromEnv builds an Engine from environment variables layered over the
// built-in defaults.
func NewFromEnv(opts ...Option) (*Engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

// ResolveTransaction locates the hash, extracts transfer legs and gas
// fees, and attaches USD valuations. chainIDHint may be a decimal chain
// id, a "0x" hex chain id, or empty to search all configured networks.
func (e *Engine) ResolveTransaction(ctx context.Context, hash common.Hash, chainIDHint string) (*types.UniversalTransactionDetails, error) {
	return e.extractor.Resolve(ctx, hash, chainIDHint)
}

// LocateNetwork reports which configured network carries the hash, or a
// not-found error when none does.
func (e *Engine) LocateNetwork(ctx context.Context, hash common.Hash) (*types.NetworkDescriptor, error) {
	desc, err := e.locator.Locate(ctx, hash)
	if err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, types.ErrTxNotFound
	}
	return desc, nil
}

// ExistsAcrossNetworks reports whether the hash exists on any configured
// network. Lookup failures count as absent.
func (e *Engine) ExistsAcrossNetworks(ctx context.Context, hash common.Hash) bool {
	return e.locator.ExistsAcrossNetworks(ctx, hash)
}

// TokenMetadata resolves symbol and decimals for an ERC20 contract,
// falling back to the configured stablecoin table and then to a generic
// 18-decimal placeholder.
func (e *Engine) TokenMetadata(ctx context.Context, chainID uint64, addr common.Address) types.TokenMetadata {
	return e.tokens.Resolve(ctx, chainID, addr)
}

// PriceAt returns the USD price of a coin at the given time, choosing
// intraday, daily or current-price granularity by recency.
func (e *Engine) PriceAt(ctx context.Context, coinID string, at time.Time) (*types.PriceQuote, error) {
	return e.prices.PriceAt(ctx, coinID, at)
}

// FindTokenID maps a token symbol to the price API's coin id.
func (e *Engine) FindTokenID(ctx context.Context, symbol string) (string, types.Confidence, error) {
	return e.prices.FindTokenID(ctx, symbol)
}

// VerifyPaymentByHash checks that the referenced transaction pays the
// expected amount from payer to the configured service wallet.
func (e *Engine) VerifyPaymentByHash(ctx context.Context, txHash common.Hash, payer common.Address, amount decimal.Decimal, tokenType payments.TokenType, contract *common.Address) (bool, error) {
	if e.verifier == nil {
		return false, types.ErrNotConfigured
	}
	return e.verifier.VerifyByHash(ctx, txHash, payer, amount, tokenType, contract)
}

// VerifyPaymentByScanning scans recent blocks of the primary network for
// a matching native payment.
func (e *Engine) VerifyPaymentByScanning(ctx context.Context, payer common.Address, amount decimal.Decimal) (bool, error) {
	if e.verifier == nil {
		return false, types.ErrNotConfigured
	}
	return e.verifier.VerifyByScanning(ctx, payer, amount)
}

// ClearCaches drops all cached network locations and prices.
func (e *Engine) ClearCaches() {
	e.locator.ClearCache()
	e.prices.ClearCache()
}

// Close stops background sweeping and closes all RPC connections.
func (e *Engine) Close() {
	e.sweeper.Stop()
	e.registry.Close()
}
