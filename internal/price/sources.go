package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solcrank/perp-keeper/internal/model"
)

// Validation failures. These mean "no usable price from this source"
// and cascade to the next source; they are never fatal.
var (
	ErrNoPairs      = errors.New("source returned no trading pairs")
	ErrNotPositive  = errors.New("quoted price is zero or negative")
	ErrNoLiquidity  = errors.New("no pair with positive liquidity")
	ErrBadQuote     = errors.New("quoted price is not a finite number")
	ErrSourceStatus = errors.New("source returned error status")
)

// Source is one external price API.
type Source interface {
	// Name identifies the source in cache entries and logs.
	Name() model.PriceSource

	// Quote returns the token's price in E6 fixed point, selecting
	// the most liquid pair. Validation failures are returned as
	// errors and treated like any other source failure.
	Quote(ctx context.Context, mint string) (int64, error)
}

// parseQuoteE6 converts a decimal price string to E6 fixed point,
// rejecting non-finite and non-positive values.
func parseQuoteE6(quote string) (int64, error) {
	d, err := decimal.NewFromString(quote)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadQuote, quote)
	}
	e6 := d.Shift(6).IntPart()
	if e6 <= 0 {
		// Covers negatives, zero, and prices too small to represent.
		return 0, fmt.Errorf("%w: %s", ErrNotPositive, d)
	}
	return e6, nil
}

func doGet(ctx context.Context, hc *http.Client, rawURL string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %d", ErrSourceStatus, resp.StatusCode)
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// pairsSource queries a DEX pair-listing API: every known trading pair
// for the token with a quoted USD price and a liquidity figure.
type pairsSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewPairsSource creates the primary (pair-listing) source.
func NewPairsSource(baseURL string, hc *http.Client) Source {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &pairsSource{baseURL: baseURL, httpClient: hc}
}

func (s *pairsSource) Name() model.PriceSource {
	return model.SourcePrimary
}

func (s *pairsSource) Quote(ctx context.Context, mint string) (int64, error) {
	var resp struct {
		Pairs []struct {
			PriceUSD  string `json:"priceUsd"`
			Liquidity struct {
				USD float64 `json:"usd"`
			} `json:"liquidity"`
		} `json:"pairs"`
	}

	u := s.baseURL + "/latest/dex/tokens/" + url.PathEscape(mint)
	if err := doGet(ctx, s.httpClient, u, &resp); err != nil {
		return 0, err
	}
	if len(resp.Pairs) == 0 {
		return 0, ErrNoPairs
	}

	// Most liquid pair wins.
	best := -1
	var bestLiq float64
	for i, p := range resp.Pairs {
		if p.Liquidity.USD > bestLiq {
			best = i
			bestLiq = p.Liquidity.USD
		}
	}
	if best < 0 {
		return 0, ErrNoLiquidity
	}

	return parseQuoteE6(resp.Pairs[best].PriceUSD)
}

// aggSource queries a price-aggregator API keyed by mint.
type aggSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewAggSource creates the secondary (aggregator) source.
func NewAggSource(baseURL string, hc *http.Client) Source {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &aggSource{baseURL: baseURL, httpClient: hc}
}

func (s *aggSource) Name() model.PriceSource {
	return model.SourceSecondary
}

func (s *aggSource) Quote(ctx context.Context, mint string) (int64, error) {
	var resp struct {
		Data map[string]struct {
			Price        json.Number `json:"price"`
			LiquidityUSD float64     `json:"liquidityUsd"`
		} `json:"data"`
	}

	u := s.baseURL + "/v1/price?id=" + url.QueryEscape(mint)
	if err := doGet(ctx, s.httpClient, u, &resp); err != nil {
		return 0, err
	}

	entry, ok := resp.Data[mint]
	if !ok {
		return 0, ErrNoPairs
	}
	if entry.LiquidityUSD <= 0 {
		return 0, ErrNoLiquidity
	}

	return parseQuoteE6(entry.Price.String())
}
