package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"coinbot.ai/data"
)

const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// CoinGecko serves the reference table, prices and volumes.
type CoinGecko struct {
	client *Client
	base   string
	key    string
}

func NewCoinGecko(c *Client, base, key string) *CoinGecko {
	if len(base) == 0 {
		base = DefaultCoinGeckoURL
	}
	return &CoinGecko{client: c, base: strings.TrimRight(base, "/"), key: key}
}

func (g *CoinGecko) get(ctx context.Context, path string, q url.Values, v any) error {
	u := g.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := NewRequest(ctx, "coingecko", http.MethodGet, u)
	if err != nil {
		return err
	}
	if len(g.key) > 0 {
		req.Header.Set("x-cg-demo-api-key", g.key)
	}

	b, err := g.client.GetJSON(req)
	if err != nil {
		var serr *StatusError
		if errors.As(err, &serr) && serr.Code == http.StatusNotFound {
			return ErrNotFound
		}
		return err
	}

	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("coingecko %s: decoding: %w", path, err)
	}
	return nil
}

// Coins fetches the full coin list. It is the data.Source for the
// reference table.
func (g *CoinGecko) Coins(ctx context.Context) ([]data.Coin, error) {
	var coins []data.Coin
	if err := g.get(ctx, "/coins/list", nil, &coins); err != nil {
		return nil, err
	}
	return coins, nil
}

// SimplePrice is the USD price and 24 hour volume of one coin.
type SimplePrice struct {
	USD       decimal.NullDecimal `json:"usd"`
	Volume24h decimal.NullDecimal `json:"usd_24h_vol"`
}

func (g *CoinGecko) SimplePrice(ctx context.Context, id string) (SimplePrice, error) {
	q := url.Values{}
	q.Set("ids", id)
	q.Set("vs_currencies", "usd")
	q.Set("include_24hr_vol", "true")
	q.Set("precision", "full")

	var rsp map[string]SimplePrice
	if err := g.get(ctx, "/simple/price", q, &rsp); err != nil {
		return SimplePrice{}, err
	}

	p, ok := rsp[id]
	if !ok {
		return SimplePrice{}, ErrNotFound
	}
	return p, nil
}

// Market is one row of /coins/markets.
type Market struct {
	ID            string              `json:"id"`
	Symbol        string              `json:"symbol"`
	Name          string              `json:"name"`
	CurrentPrice  decimal.NullDecimal `json:"current_price"`
	MarketCap     decimal.NullDecimal `json:"market_cap"`
	MarketCapRank int                 `json:"market_cap_rank"`
	TotalVolume   decimal.NullDecimal `json:"total_volume"`
	Change24h     decimal.NullDecimal `json:"price_change_percentage_24h"`
}

// Markets returns market rows for the given ids in upstream order.
func (g *CoinGecko) Markets(ctx context.Context, ids ...string) ([]Market, error) {
	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("ids", strings.Join(ids, ","))
	q.Set("precision", "full")

	var rows []Market
	if err := g.get(ctx, "/coins/markets", q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Market returns the market row of a single coin.
func (g *CoinGecko) Market(ctx context.Context, id string) (Market, error) {
	rows, err := g.Markets(ctx, id)
	if err != nil {
		return Market{}, err
	}
	if len(rows) == 0 {
		return Market{}, ErrNotFound
	}
	return rows[0], nil
}

// Info describes a coin in plain text.
type Info struct {
	ID          string
	Symbol      string
	Name        string
	Homepage    string
	Description string
}

type coinDetail struct {
	ID          string            `json:"id"`
	Symbol      string            `json:"symbol"`
	Name        string            `json:"name"`
	Description map[string]string `json:"description"`
	Links       struct {
		Homepage []string `json:"homepage"`
	} `json:"links"`
}

// Info fetches /coins/{id}. The description comes as HTML and is
// flattened to text.
func (g *CoinGecko) Info(ctx context.Context, id string) (Info, error) {
	q := url.Values{}
	for _, k := range []string{"localization", "tickers", "market_data", "community_data", "developer_data"} {
		q.Set(k, "false")
	}

	var d coinDetail
	if err := g.get(ctx, "/coins/"+url.PathEscape(id), q, &d); err != nil {
		return Info{}, err
	}

	info := Info{ID: d.ID, Symbol: d.Symbol, Name: d.Name}
	for _, h := range d.Links.Homepage {
		if len(h) > 0 {
			info.Homepage = h
			break
		}
	}

	text, err := plainText(d.Description["en"])
	if err != nil {
		return Info{}, fmt.Errorf("coingecko: description of %s: %w", id, err)
	}
	info.Description = text

	return info, nil
}

func plainText(html string) (string, error) {
	if len(strings.TrimSpace(html)) == 0 {
		return "", nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(doc.Text()), " "), nil
}
