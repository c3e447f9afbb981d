package prices

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chainvoice/txcore/cache"
	"github.com/chainvoice/txcore/logger"
	"github.com/chainvoice/txcore/metrics"
	"github.com/chainvoice/txcore/types"
)

const (
	coinListKey = "coins:list"

	coinListTTL = 24 * time.Hour
	intradayTTL = 30 * time.Minute
	dailyTTL    = 6 * time.Hour

	intradayWindow = 30 * time.Minute
	intradayBucket = 5 * time.Minute
	// Two candidate samples whose distances to the target differ by no
	// more than this are treated as equidistant and averaged.
	equidistantSlack = time.Minute
)

// Resolver performs symbol-to-id and price-at-time resolution, each through
// an ordered fallback chain with independently cached tiers.
type Resolver struct {
	client *Client

	ids      *cache.Cache[idResult]     // permanent, negatives included
	coinList *cache.Cache[[]ListedCoin] // 24h
	intraday *cache.Cache[types.PriceQuote]
	daily    *cache.Cache[types.PriceQuote]

	usageMu sync.Mutex
	usage   map[string]uint64

	now func() time.Time

	log logger.Logger
	rec metrics.Recorder
}

// NewResolver builds a price resolver over the given API client.
func NewResolver(client *Client, log logger.Logger, rec metrics.Recorder) *Resolver {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Resolver{
		client:   client,
		ids:      cache.New[idResult](0),
		coinList: cache.New[[]ListedCoin](coinListTTL),
		intraday: cache.New[types.PriceQuote](intradayTTL),
		daily:    cache.New[types.PriceQuote](dailyTTL),
		usage:    make(map[string]uint64),
		now:      time.Now,
		log:      log,
		rec:      rec,
	}
}

// Caches exposes the resolver's TTL caches for background sweeping.
func (r *Resolver) Caches() []cache.Sweepable {
	return []cache.Sweepable{r.coinList, r.intraday, r.daily}
}

// ClearCache drops all memoized ids, coin lists and quotes.
func (r *Resolver) ClearCache() {
	r.ids.Clear()
	r.coinList.Clear()
	r.intraday.Clear()
	r.daily.Clear()
}

// priceTier is one tier of the price-at-time fallback chain.
type priceTier struct {
	name    string
	resolve func(ctx context.Context, coinID string, at time.Time) (types.PriceQuote, bool)
}

func (r *Resolver) priceTiers() []priceTier {
	return []priceTier{
		{name: "intraday", resolve: r.intradayTier},
		{name: "daily", resolve: r.dailyTier},
		{name: "current", resolve: r.currentTier},
	}
}

// PriceAt resolves the USD price of a coin id at a point in time through
// the intraday -> daily -> current fallback chain. Future timestamps are
// clamped to now, since the upstream rejects future dates.
func (r *Resolver) PriceAt(ctx context.Context, coinID string, at time.Time) (*types.PriceQuote, error) {
	if coinID == "" {
		return nil, types.NewCoreError(types.ErrCodeInvalidInput, "empty coin id", nil)
	}
	if now := r.now(); at.After(now) {
		at = now
	}

	for _, tier := range r.priceTiers() {
		quote, ok := tier.resolve(ctx, coinID, at)
		if !ok {
			continue
		}
		r.rec.IncCounter("price_tier_"+tier.name, map[string]string{"component": "prices"})
		return &quote, nil
	}

	return nil, types.NewCoreError(types.ErrCodeUpstreamTransient,
		fmt.Sprintf("no pricing tier produced a price for %s", coinID), nil)
}

// ValueAt resolves the USD value of an amount of a token at a point in
// time: symbol -> id, then price, then multiplication.
func (r *Resolver) ValueAt(ctx context.Context, symbol string, amount decimal.Decimal, at time.Time) (*types.PriceQuote, *decimal.Decimal, error) {
	id, confidence, err := r.FindTokenID(ctx, symbol)
	if err != nil {
		return nil, nil, err
	}
	quote, err := r.PriceAt(ctx, id, at)
	if err != nil {
		return nil, nil, err
	}
	quote.Confidence = confidence
	value := quote.Price.Mul(amount)
	return quote, &value, nil
}

// intradayTier queries a +/-30 minute window of samples and picks the one
// nearest to the target, averaging two samples when they are equidistant.
// Quotes are cached by (coinID, 5-minute-aligned bucket).
func (r *Resolver) intradayTier(ctx context.Context, coinID string, at time.Time) (types.PriceQuote, bool) {
	bucket := at.UTC().Truncate(intradayBucket)
	key := coinID + "@" + strconv.FormatInt(bucket.Unix(), 10)
	if quote, ok := r.intraday.Get(key); ok {
		return quote, true
	}

	points, err := r.client.MarketChartRange(ctx, coinID, at.Add(-intradayWindow), at.Add(intradayWindow))
	if err != nil || len(points) == 0 {
		return types.PriceQuote{}, false
	}

	price := nearestPrice(points, at)
	quote := types.PriceQuote{
		Price:  price,
		Mode:   types.PricingModeIntraday,
		CoinID: coinID,
	}
	r.intraday.Set(key, quote)
	return quote, true
}

// dailyTier fetches the historical snapshot for the calendar date, cached
// by (coinID, DD-MM-YYYY).
func (r *Resolver) dailyTier(ctx context.Context, coinID string, at time.Time) (types.PriceQuote, bool) {
	date := at.UTC().Format("02-01-2006")
	key := coinID + "@" + date
	if quote, ok := r.daily.Get(key); ok {
		return quote, true
	}

	price, ok, err := r.client.History(ctx, coinID, date)
	if err != nil || !ok {
		return types.PriceQuote{}, false
	}

	quote := types.PriceQuote{
		Price:  price,
		Mode:   types.PricingModeDaily,
		CoinID: coinID,
	}
	r.daily.Set(key, quote)
	return quote, true
}

// currentTier serves the live spot price as a last resort.
func (r *Resolver) currentTier(ctx context.Context, coinID string, _ time.Time) (types.PriceQuote, bool) {
	price, err := r.client.SimplePrice(ctx, coinID)
	if err != nil {
		return types.PriceQuote{}, false
	}
	return types.PriceQuote{
		Price:  price,
		Mode:   types.PricingModeCurrentFallback,
		CoinID: coinID,
	}, true
}

// nearestPrice picks the sample closest in time to the target. When the
// two best samples are equidistant within the slack, their average is used.
func nearestPrice(points []PricePoint, at time.Time) decimal.Decimal {
	best := points[0]
	bestDist := absDuration(points[0].At.Sub(at))
	var second *PricePoint
	var secondDist time.Duration

	for i := 1; i < len(points); i++ {
		d := absDuration(points[i].At.Sub(at))
		switch {
		case d < bestDist:
			s := best
			second, secondDist = &s, bestDist
			best, bestDist = points[i], d
		case second == nil || d < secondDist:
			p := points[i]
			second, secondDist = &p, d
		}
	}

	if second != nil && absDuration(secondDist-bestDist) <= equidistantSlack {
		return best.Price.Add(second.Price).Div(decimal.NewFromInt(2))
	}
	return best.Price
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
