// Package tokens resolves ERC20 symbol/decimals metadata. Results are
// cached permanently: contract metadata cannot change post-deployment, so
// even fallback outcomes are kept for the life of the process.
package tokens

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/chainvoice/txcore/cache"
	"github.com/chainvoice/txcore/config"
	"github.com/chainvoice/txcore/logger"
	"github.com/chainvoice/txcore/metrics"
	"github.com/chainvoice/txcore/networks"
	"github.com/chainvoice/txcore/types"
)

const erc20MetadataABI = `[
  {"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
  {"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

var erc20ABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc20MetadataABI))
	if err != nil {
		panic(fmt.Sprintf("invalid ERC20 metadata ABI: %v", err))
	}
	return parsed
}()

// Resolver looks up token metadata with a permanent cache and a static
// stablecoin fallback table.
type Resolver struct {
	reg    *networks.Registry
	static map[string]types.TokenMetadata
	memo   *cache.Cache[types.TokenMetadata]
	log    logger.Logger
	rec    metrics.Recorder
}

// NewResolver builds a resolver over the registry. The stablecoin table is
// keyed per (chainID, lowercased address) from the configuration entries.
func NewResolver(reg *networks.Registry, stablecoins []config.StablecoinConfig, log logger.Logger, rec metrics.Recorder) *Resolver {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	static := make(map[string]types.TokenMetadata, len(stablecoins))
	for _, sc := range stablecoins {
		static[metadataKey(sc.ChainID, common.HexToAddress(sc.Address))] = types.TokenMetadata{
			Symbol:   sc.Symbol,
			Decimals: sc.Decimals,
		}
	}
	return &Resolver{
		reg:    reg,
		static: static,
		memo:   cache.New[types.TokenMetadata](0), // metadata is immutable
		log:    log,
		rec:    rec,
	}
}

// Resolve returns the metadata for a token contract. It never fails: when
// both the on-chain calls and the static table come up empty it returns the
// {"TOKEN", 18} sentinel. Every outcome is cached permanently.
func (r *Resolver) Resolve(ctx context.Context, chainID uint64, addr common.Address) types.TokenMetadata {
	key := metadataKey(chainID, addr)
	if meta, ok := r.memo.Get(key); ok {
		r.rec.IncCounter("token_metadata_cache_hit", map[string]string{"component": "tokens"})
		return meta
	}

	meta, err := r.fetchOnChain(ctx, chainID, addr)
	if err != nil {
		r.log.Warn("on-chain metadata lookup failed", map[string]any{
			"chain_id": chainID,
			"token":    addr.Hex(),
			"error":    err.Error(),
		})
		if fallback, ok := r.static[key]; ok {
			meta = fallback
		} else {
			meta = types.DefaultTokenMetadata()
		}
	}

	r.memo.Set(key, meta)
	return meta
}

// ClearCache drops all memoized metadata.
func (r *Resolver) ClearCache() { r.memo.Clear() }

// fetchOnChain calls symbol() and decimals() in parallel via eth_call.
func (r *Resolver) fetchOnChain(ctx context.Context, chainID uint64, addr common.Address) (types.TokenMetadata, error) {
	client, err := r.reg.Client(chainID)
	if err != nil {
		return types.TokenMetadata{}, err
	}

	var (
		wg       sync.WaitGroup
		symbol   string
		decimals uint8
		symErr   error
		decErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		symbol, symErr = callSymbol(ctx, client, addr)
	}()
	go func() {
		defer wg.Done()
		decimals, decErr = callDecimals(ctx, client, addr)
	}()
	wg.Wait()

	if symErr != nil {
		return types.TokenMetadata{}, symErr
	}
	if decErr != nil {
		return types.TokenMetadata{}, decErr
	}
	return types.TokenMetadata{Symbol: symbol, Decimals: decimals}, nil
}

func callSymbol(ctx context.Context, client networks.Client, addr common.Address) (string, error) {
	data, err := erc20ABI.Pack("symbol")
	if err != nil {
		return "", err
	}
	ret, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return "", fmt.Errorf("symbol() call failed: %w", err)
	}
	if len(ret) == 0 {
		return "", fmt.Errorf("symbol() returned no data")
	}

	out, err := erc20ABI.Unpack("symbol", ret)
	if err == nil && len(out) == 1 {
		if s, ok := out[0].(string); ok && s != "" {
			return s, nil
		}
	}
	// Some tokens (MKR-style) return bytes32 instead of an ABI string.
	if len(ret) == 32 {
		if s := string(bytes.TrimRight(ret, "\x00")); s != "" {
			return s, nil
		}
	}
	return "", fmt.Errorf("undecodable symbol() return")
}

func callDecimals(ctx context.Context, client networks.Client, addr common.Address) (uint8, error) {
	data, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, err
	}
	ret, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("decimals() call failed: %w", err)
	}

	out, err := erc20ABI.Unpack("decimals", ret)
	if err != nil || len(out) != 1 {
		return 0, fmt.Errorf("undecodable decimals() return: %w", err)
	}
	dec, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals() returned unexpected type %T", out[0])
	}
	return dec, nil
}

func metadataKey(chainID uint64, addr common.Address) string {
	return fmt.Sprintf("%d:%s", chainID, strings.ToLower(addr.Hex()))
}
