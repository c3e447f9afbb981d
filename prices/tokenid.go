package prices

import (
	"context"
	"strings"

	"github.com/chainvoice/txcore/types"
)

// staticCoinIDs maps well-known symbols straight to their price-feed ids.
// Hits here are high-confidence and skip the API entirely.
var staticCoinIDs = map[string]string{
	"eth":   "ethereum",
	"weth":  "weth",
	"btc":   "bitcoin",
	"wbtc":  "wrapped-bitcoin",
	"matic": "matic-network",
	"pol":   "matic-network",
	"bnb":   "binancecoin",
	"usdt":  "tether",
	"usdc":  "usd-coin",
	"dai":   "dai",
	"busd":  "binance-usd",
	"link":  "chainlink",
	"uni":   "uniswap",
	"aave":  "aave",
	"shib":  "shiba-inu",
	"avax":  "avalanche-2",
}

// idResult memoizes one symbol resolution, negative outcomes included.
type idResult struct {
	id         string
	confidence types.Confidence
	found      bool
}

// idStrategy is one tier of the symbol-to-id fallback chain.
type idStrategy struct {
	name       string
	confidence types.Confidence
	resolve    func(ctx context.Context, symbol string) (string, bool)
}

func (r *Resolver) idStrategies() []idStrategy {
	return []idStrategy{
		{name: "static", confidence: types.ConfidenceHigh, resolve: r.staticIDTier},
		{name: "search", confidence: types.ConfidenceMedium, resolve: r.searchIDTier},
		{name: "list", confidence: types.ConfidenceMedium, resolve: r.listIDTier},
	}
}

// FindTokenID resolves a ticker symbol to a price-feed id through the
// ordered fallback chain. Resolutions, including failures, are memoized
// indefinitely.
func (r *Resolver) FindTokenID(ctx context.Context, symbol string) (string, types.Confidence, error) {
	sym := strings.ToLower(strings.TrimSpace(symbol))
	if sym == "" {
		return "", "", types.NewCoreError(types.ErrCodeInvalidInput, "empty token symbol", nil)
	}

	r.countSymbolUsage(sym)

	if res, ok := r.ids.Get(sym); ok {
		if !res.found {
			return "", "", types.NewCoreError(types.ErrCodeNotFound,
				"no price-feed id for symbol "+sym, nil)
		}
		return res.id, res.confidence, nil
	}

	for _, tier := range r.idStrategies() {
		id, ok := tier.resolve(ctx, sym)
		if !ok {
			continue
		}
		r.ids.Set(sym, idResult{id: id, confidence: tier.confidence, found: true})
		r.log.Debug("token id resolved", map[string]any{
			"symbol": sym,
			"id":     id,
			"tier":   tier.name,
		})
		return id, tier.confidence, nil
	}

	// Negative results are cached to avoid repeat failing lookups.
	r.ids.Set(sym, idResult{found: false})
	return "", "", types.NewCoreError(types.ErrCodeNotFound,
		"no price-feed id for symbol "+sym, nil)
}

func (r *Resolver) staticIDTier(_ context.Context, sym string) (string, bool) {
	id, ok := staticCoinIDs[sym]
	return id, ok
}

// searchIDTier queries the fuzzy search endpoint; an exact case-insensitive
// symbol match is preferred over the first result.
func (r *Resolver) searchIDTier(ctx context.Context, sym string) (string, bool) {
	coins, err := r.client.Search(ctx, sym)
	if err != nil || len(coins) == 0 {
		return "", false
	}
	for _, c := range coins {
		if strings.EqualFold(c.Symbol, sym) {
			return c.ID, true
		}
	}
	return coins[0].ID, true
}

// listIDTier scans the full coin list (cached 24h) for an exact match.
func (r *Resolver) listIDTier(ctx context.Context, sym string) (string, bool) {
	list, ok := r.coinList.Get(coinListKey)
	if !ok {
		fetched, err := r.client.CoinsList(ctx)
		if err != nil {
			return "", false
		}
		list = fetched
		r.coinList.Set(coinListKey, list)
	}
	for _, c := range list {
		if strings.EqualFold(c.Symbol, sym) {
			return c.ID, true
		}
	}
	return "", false
}

// countSymbolUsage tracks per-symbol lookup counts. Purely an operational
// signal; it has no behavioral effect.
func (r *Resolver) countSymbolUsage(sym string) {
	r.usageMu.Lock()
	r.usage[sym]++
	r.usageMu.Unlock()
	r.rec.IncCounter("symbol_lookup", map[string]string{"component": "prices"})
}

// SymbolUsage returns a copy of the per-symbol lookup counters.
func (r *Resolver) SymbolUsage() map[string]uint64 {
	r.usageMu.Lock()
	defer r.usageMu.Unlock()
	out := make(map[string]uint64, len(r.usage))
	for k, v := range r.usage {
		out[k] = v
	}
	return out
}
