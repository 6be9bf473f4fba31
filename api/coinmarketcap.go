package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const DefaultCoinMarketCapURL = "https://pro-api.coinmarketcap.com"

// CoinMarketCap serves quotes by symbol, the market cap ranking and its
// own numeric ids.
type CoinMarketCap struct {
	client *Client
	base   string
	key    string
}

func NewCoinMarketCap(c *Client, base, key string) *CoinMarketCap {
	if len(base) == 0 {
		base = DefaultCoinMarketCapURL
	}
	return &CoinMarketCap{client: c, base: strings.TrimRight(base, "/"), key: key}
}

// Quote is a price in one currency.
type Quote struct {
	Price     decimal.NullDecimal `json:"price"`
	MarketCap decimal.NullDecimal `json:"market_cap"`
	Volume24h decimal.NullDecimal `json:"volume_24h"`
	Change24h decimal.NullDecimal `json:"percent_change_24h"`
}

// Listing is a coin with its USD quote.
type Listing struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	Slug   string `json:"slug"`
	Rank   int    `json:"cmc_rank"`
	Quote  struct {
		USD Quote `json:"USD"`
	} `json:"quote"`
}

// USD returns the USD quote.
func (l Listing) USD() Quote {
	return l.Quote.USD
}

// MapEntry is a row of the CoinMarketCap id map.
type MapEntry struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	Slug   string `json:"slug"`
	Rank   int    `json:"rank"`
}

func (m *CoinMarketCap) get(ctx context.Context, path string, q url.Values, v any) error {
	u := m.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := NewRequest(ctx, "coinmarketcap", http.MethodGet, u)
	if err != nil {
		return err
	}
	if len(m.key) > 0 {
		req.Header.Set("X-CMC_PRO_API_KEY", m.key)
	}

	b, err := m.client.GetJSON(req)
	if err != nil {
		return err
	}

	rsp := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(b, &rsp); err != nil {
		return fmt.Errorf("coinmarketcap %s: decoding: %w", path, err)
	}
	if len(rsp.Data) == 0 || string(rsp.Data) == "null" {
		return ErrNotFound
	}
	if err := json.Unmarshal(rsp.Data, v); err != nil {
		return fmt.Errorf("coinmarketcap %s: decoding data: %w", path, err)
	}
	return nil
}

// Quote returns the latest quote for a ticker symbol.
func (m *CoinMarketCap) Quote(ctx context.Context, symbol string) (Listing, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("convert", "USD")

	var rsp map[string]Listing
	err := m.get(ctx, "/v1/cryptocurrency/quotes/latest", q, &rsp)

	// an unknown symbol comes back as 400
	var serr *StatusError
	if errors.As(err, &serr) && serr.Code == http.StatusBadRequest {
		return Listing{}, ErrNotFound
	}
	if err != nil {
		return Listing{}, err
	}

	l, ok := rsp[symbol]
	if !ok {
		return Listing{}, ErrNotFound
	}
	return l, nil
}

// Listings returns the top limit coins by market cap.
func (m *CoinMarketCap) Listings(ctx context.Context, limit int) ([]Listing, error) {
	q := url.Values{}
	q.Set("start", "1")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("convert", "USD")

	var rows []Listing
	if err := m.get(ctx, "/v1/cryptocurrency/listings/latest", q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Map returns the full id map.
func (m *CoinMarketCap) Map(ctx context.Context) ([]MapEntry, error) {
	var rows []MapEntry
	if err := m.get(ctx, "/v1/cryptocurrency/map", nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Lookup finds the map entry whose name matches case-insensitively.
func (m *CoinMarketCap) Lookup(ctx context.Context, name string) (MapEntry, error) {
	rows, err := m.Map(ctx)
	if err != nil {
		return MapEntry{}, err
	}

	name = strings.TrimSpace(name)
	for _, r := range rows {
		if strings.EqualFold(r.Name, name) {
			return r, nil
		}
	}
	return MapEntry{}, ErrNotFound
}
