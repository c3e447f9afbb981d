// Package prices resolves historical and current USD prices from a
// CoinGecko-compatible API. Symbol-to-id resolution and price-at-time
// lookup each run an ordered fallback chain; every HTTP call goes through
// a shared retry/backoff primitive tuned for an unreliable upstream.
package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"github.com/chainvoice/txcore/logger"
	"github.com/chainvoice/txcore/metrics"
	"github.com/chainvoice/txcore/types"
)

const (
	DefaultBaseURL = "https://api.coingecko.com/api/v3"

	defaultUserAgent   = "txcore/1.0"
	defaultMaxAttempts = 3
	defaultBackoffBase = 500 * time.Millisecond
	requestTimeout     = 15 * time.Second
)

// Client is the HTTP client for the price API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	userAgent  string

	maxAttempts int
	backoffBase time.Duration

	log logger.Logger
	rec metrics.Recorder
}

// NewClient builds a price API client. httpClient may be nil; apiKey is
// optional and sent as a header when set.
func NewClient(httpClient *http.Client, baseURL, apiKey string, log logger.Logger, rec metrics.Recorder) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Client{
		httpClient:  httpClient,
		baseURL:     baseURL,
		apiKey:      apiKey,
		userAgent:   defaultUserAgent,
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		log:         log,
		rec:         rec,
	}
}

// getJSON performs a GET with the shared retry policy: up to maxAttempts
// total attempts on 429/5xx/network errors, honoring Retry-After when the
// server sends one, otherwise exponential backoff. Other 4xx responses are
// permanent and never retried.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.backoffBase
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return types.NewCoreError(types.ErrCodeInvalidInput, "building price API request", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		if c.apiKey != "" {
			req.Header.Set("x-cg-demo-api-key", c.apiKey)
		}

		var serverDelay time.Duration
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			switch {
			case resp.StatusCode == http.StatusOK:
				err = json.NewDecoder(resp.Body).Decode(out)
				resp.Body.Close()
				if err != nil {
					return types.NewCoreError(types.ErrCodeUpstreamPermanent,
						fmt.Sprintf("malformed response from %s", path), err)
				}
				return nil
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
				lastErr = fmt.Errorf("price API returned %d for %s", resp.StatusCode, path)
				serverDelay = retryAfter(resp)
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			default:
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				return types.NewCoreError(types.ErrCodeUpstreamPermanent,
					fmt.Sprintf("price API returned %d for %s", resp.StatusCode, path), nil)
			}
		}

		if attempt == c.maxAttempts {
			break
		}

		delay := bo.NextBackOff()
		if serverDelay > 0 {
			delay = serverDelay
		}
		c.rec.IncCounter("price_api_retry", map[string]string{"component": "prices"})
		c.log.Warn("price API call failed, retrying", map[string]any{
			"path":    path,
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   fmt.Sprint(lastErr),
		})

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return types.NewCoreError(types.ErrCodeUpstreamTransient, "price API call canceled", ctx.Err())
		}
	}

	return types.NewCoreError(types.ErrCodeUpstreamTransient,
		fmt.Sprintf("price API call to %s exhausted %d attempts", path, c.maxAttempts), lastErr)
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// SearchCoin is one hit from the symbol search endpoint.
type SearchCoin struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// Search queries the fuzzy symbol search endpoint.
func (c *Client) Search(ctx context.Context, query string) ([]SearchCoin, error) {
	var body struct {
		Coins []SearchCoin `json:"coins"`
	}
	q := url.Values{"query": {query}}
	if err := c.getJSON(ctx, "/search", q, &body); err != nil {
		return nil, err
	}
	return body.Coins, nil
}

// ListedCoin is one entry of the full coin list.
type ListedCoin struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// CoinsList fetches the full coin list.
func (c *Client) CoinsList(ctx context.Context) ([]ListedCoin, error) {
	var body []ListedCoin
	if err := c.getJSON(ctx, "/coins/list", nil, &body); err != nil {
		return nil, err
	}
	return body, nil
}

// SimplePrice fetches the live spot price in USD for a coin id.
func (c *Client) SimplePrice(ctx context.Context, coinID string) (decimal.Decimal, error) {
	var body map[string]map[string]float64
	q := url.Values{"ids": {coinID}, "vs_currencies": {"usd"}}
	if err := c.getJSON(ctx, "/simple/price", q, &body); err != nil {
		return decimal.Zero, err
	}
	usd, ok := body[coinID]["usd"]
	if !ok {
		return decimal.Zero, types.NewCoreError(types.ErrCodeUpstreamPermanent,
			fmt.Sprintf("no spot price for %s", coinID), nil)
	}
	return decimal.NewFromFloat(usd), nil
}

// History fetches the historical daily snapshot price for DD-MM-YYYY. The
// boolean is false when the snapshot carries no USD price.
func (c *Client) History(ctx context.Context, coinID, date string) (decimal.Decimal, bool, error) {
	var body struct {
		MarketData *struct {
			CurrentPrice map[string]float64 `json:"current_price"`
		} `json:"market_data"`
	}
	q := url.Values{"date": {date}, "localization": {"false"}}
	if err := c.getJSON(ctx, "/coins/"+coinID+"/history", q, &body); err != nil {
		return decimal.Zero, false, err
	}
	if body.MarketData == nil {
		return decimal.Zero, false, nil
	}
	usd, ok := body.MarketData.CurrentPrice["usd"]
	if !ok {
		return decimal.Zero, false, nil
	}
	return decimal.NewFromFloat(usd), true, nil
}

// PricePoint is one sample from the time-range market chart.
type PricePoint struct {
	At    time.Time
	Price decimal.Decimal
}

// MarketChartRange fetches price samples between from and to.
func (c *Client) MarketChartRange(ctx context.Context, coinID string, from, to time.Time) ([]PricePoint, error) {
	var body struct {
		Prices [][2]float64 `json:"prices"`
	}
	q := url.Values{
		"vs_currency": {"usd"},
		"from":        {strconv.FormatInt(from.Unix(), 10)},
		"to":          {strconv.FormatInt(to.Unix(), 10)},
	}
	if err := c.getJSON(ctx, "/coins/"+coinID+"/market_chart/range", q, &body); err != nil {
		return nil, err
	}
	points := make([]PricePoint, 0, len(body.Prices))
	for _, p := range body.Prices {
		points = append(points, PricePoint{
			At:    time.UnixMilli(int64(p[0])),
			Price: decimal.NewFromFloat(p[1]),
		})
	}
	return points, nil
}
