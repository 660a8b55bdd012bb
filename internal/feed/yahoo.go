package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const chartPath = "/v8/finance/chart/"

// YahooOptions parameterise the Yahoo Finance chart-API fetcher.
type YahooOptions struct {
	BaseURL        string
	ExchangeSuffix string
	Timeout        time.Duration
	UserAgent      string
	RateLimit      float64
	RateBurst      int
}

// Yahoo fetches quotes from the Yahoo Finance v8 chart API.
type Yahoo struct {
	opts    YahooOptions
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewYahoo constructs a Yahoo quote fetcher.
func NewYahoo(opts YahooOptions, logger zerolog.Logger) *Yahoo {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://query1.finance.yahoo.com"
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Yahoo{
		opts:    opts,
		logger:  logger.With().Str("component", "quote_feed").Logger(),
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		baseURL: baseURL,
	}
}

// Normalize returns the exchange-qualified ticker for a raw symbol.
// Symbols already carrying an exchange suffix are left untouched.
func (y *Yahoo) Normalize(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(symbol, ".") || y.opts.ExchangeSuffix == "" {
		return symbol
	}
	return symbol + y.opts.ExchangeSuffix
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Meta struct {
		RegularMarketPrice decimal.Decimal `json:"regularMarketPrice"`
		ChartPreviousClose decimal.Decimal `json:"chartPreviousClose"`
		PreviousClose      decimal.Decimal `json:"previousClose"`
		RegularMarketTime  int64           `json:"regularMarketTime"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open  []*float64 `json:"open"`
			Close []*float64 `json:"close"`
		} `json:"quote"`
	} `json:"indicators"`
}

// FetchQuote retrieves the latest quote for symbol.
func (y *Yahoo) FetchQuote(ctx context.Context, symbol string) (Quote, error) {
	ticker := y.Normalize(symbol)

	query := url.Values{}
	query.Set("interval", "1d")
	query.Set("range", "5d")

	result, err := y.fetchChart(ctx, ticker, query)
	if err != nil {
		return Quote{}, err
	}

	quote := Quote{
		Symbol: strings.ToUpper(strings.TrimSpace(symbol)),
		Ticker: ticker,
		AsOf:   time.Now().UTC(),
	}
	if t := result.Meta.RegularMarketTime; t > 0 {
		quote.AsOf = time.Unix(t, 0).UTC()
	}

	closes := make([]float64, 0)
	opens := make([]float64, 0)
	if len(result.Indicators.Quote) > 0 {
		for _, v := range result.Indicators.Quote[0].Close {
			if v != nil {
				closes = append(closes, *v)
			}
		}
		for _, v := range result.Indicators.Quote[0].Open {
			if v != nil {
				opens = append(opens, *v)
			}
		}
	}

	switch {
	case !result.Meta.RegularMarketPrice.IsZero():
		quote.Price = result.Meta.RegularMarketPrice
	case len(closes) > 0:
		quote.Price = decimal.NewFromFloat(closes[len(closes)-1])
	default:
		return Quote{}, fmt.Errorf("feed: no price data for %s", ticker)
	}

	if len(opens) > 0 {
		quote.Open = decimal.NewFromFloat(opens[0])
	} else {
		quote.Open = quote.Price
	}

	switch {
	case len(closes) >= 2:
		quote.PrevClose = decimal.NewFromFloat(closes[len(closes)-2])
	case !result.Meta.ChartPreviousClose.IsZero():
		quote.PrevClose = result.Meta.ChartPreviousClose
	case !result.Meta.PreviousClose.IsZero():
		quote.PrevClose = result.Meta.PreviousClose
	default:
		quote.PrevClose = quote.Price
	}

	y.logger.Debug().
		Str("symbol", quote.Symbol).
		Str("ticker", ticker).
		Str("price", quote.Price.StringFixed(2)).
		Msg("quote fetched")
	return quote, nil
}

// FetchRange retrieves intraday prices between from and to.
func (y *Yahoo) FetchRange(ctx context.Context, symbol string, from, to time.Time, interval time.Duration) ([]RangePoint, error) {
	ticker := y.Normalize(symbol)

	query := url.Values{}
	query.Set("interval", intervalParam(interval))
	query.Set("period1", fmt.Sprintf("%d", from.Unix()))
	query.Set("period2", fmt.Sprintf("%d", to.Unix()))

	result, err := y.fetchChart(ctx, ticker, query)
	if err != nil {
		return nil, err
	}
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("feed: no indicator data for %s", ticker)
	}

	closes := result.Indicators.Quote[0].Close
	points := make([]RangePoint, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(closes) || closes[i] == nil {
			continue
		}
		points = append(points, RangePoint{
			Price: decimal.NewFromFloat(*closes[i]),
			At:    time.Unix(ts, 0).UTC(),
		})
	}
	return points, nil
}

func (y *Yahoo) fetchChart(ctx context.Context, ticker string, query url.Values) (*chartResult, error) {
	if y.limiter != nil {
		if err := y.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("feed rate limiter: %w", err)
		}
	}

	endpoint := y.baseURL + chartPath + url.PathEscape(ticker) + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(y.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "stocksentinel/1.0")
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request for %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read feed response for %s: %w", ticker, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("feed returned status %d for %s", resp.StatusCode, ticker)
	}

	var parsed chartResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("decode feed response for %s: %w", ticker, err)
	}
	if parsed.Chart.Error != nil {
		return nil, fmt.Errorf("feed error for %s: %s (%s)", ticker, parsed.Chart.Error.Description, parsed.Chart.Error.Code)
	}
	if len(parsed.Chart.Result) == 0 {
		return nil, fmt.Errorf("feed returned empty result for %s", ticker)
	}
	return &parsed.Chart.Result[0], nil
}

func intervalParam(d time.Duration) string {
	switch {
	case d <= time.Minute:
		return "1m"
	case d <= 5*time.Minute:
		return "5m"
	case d <= 15*time.Minute:
		return "15m"
	case d <= time.Hour:
		return "60m"
	default:
		return "1d"
	}
}

var _ QuoteFetcher = (*Yahoo)(nil)
var _ RangeFetcher = (*Yahoo)(nil)
