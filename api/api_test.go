package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"coinbot.ai/cache"
)

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestCoinGeckoCoins(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/coins/list" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("x-cg-demo-api-key"); got != "secret" {
			t.Errorf("api key header = %q", got)
		}
		fmt.Fprint(w, `[{"id":"bitcoin","symbol":"btc","name":"Bitcoin"},{"id":"ethereum","symbol":"eth","name":"Ethereum"}]`)
	})

	g := NewCoinGecko(NewClient(), srv.URL, "secret")
	coins, err := g.Coins(context.Background())
	if err != nil {
		t.Fatalf("Coins() error: %v", err)
	}
	if len(coins) != 2 || coins[1].ID != "ethereum" || coins[1].Symbol != "eth" || coins[0].Name != "Bitcoin" {
		t.Errorf("Coins() = %+v", coins)
	}
}

func TestCoinGeckoSimplePrice(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("include_24hr_vol") != "true" || q.Get("precision") != "full" {
			t.Errorf("query = %v", q)
		}
		switch q.Get("ids") {
		case "tiny":
			fmt.Fprint(w, `{"tiny":{"usd":0.00000000123456789,"usd_24h_vol":1234.5}}`)
		case "other":
			// CoinGecko answers unknown ids with an empty object
			fmt.Fprint(w, `{}`)
		default:
			t.Errorf("ids = %q", q.Get("ids"))
		}
	})

	g := NewCoinGecko(NewClient(), srv.URL, "")

	p, err := g.SimplePrice(context.Background(), "tiny")
	if err != nil {
		t.Fatalf("SimplePrice() error: %v", err)
	}
	if !p.USD.Valid || p.USD.Decimal.String() != "0.00000000123456789" {
		t.Errorf("price = %v, want exact decimal", p.USD.Decimal)
	}
	if p.Volume24h.Decimal.String() != "1234.5" {
		t.Errorf("volume = %v", p.Volume24h.Decimal)
	}

	if _, err := g.SimplePrice(context.Background(), "other"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing id: err = %v, want ErrNotFound", err)
	}
}

func TestCoinGeckoMarket(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ids") == "bitcoin" {
			fmt.Fprint(w, `[{"id":"bitcoin","symbol":"btc","name":"Bitcoin","current_price":67000.12,"market_cap":null,"market_cap_rank":1,"total_volume":1.5e10}]`)
			return
		}
		fmt.Fprint(w, `[]`)
	})

	g := NewCoinGecko(NewClient(), srv.URL, "")

	m, err := g.Market(context.Background(), "bitcoin")
	if err != nil {
		t.Fatalf("Market() error: %v", err)
	}
	if m.Name != "Bitcoin" || m.MarketCapRank != 1 {
		t.Errorf("Market() = %+v", m)
	}
	if m.CurrentPrice.Decimal.String() != "67000.12" {
		t.Errorf("price = %s", m.CurrentPrice.Decimal)
	}
	if m.MarketCap.Valid {
		t.Error("null market cap should be invalid")
	}
	if m.TotalVolume.Decimal.String() != "15000000000" {
		t.Errorf("volume = %s", m.TotalVolume.Decimal)
	}

	if _, err := g.Market(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty list: err = %v, want ErrNotFound", err)
	}
}

func TestCoinGeckoInfo(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/coins/missing" {
			http.Error(w, `{"error":"coin not found"}`, http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"id":"bitcoin","symbol":"btc","name":"Bitcoin",
			"description":{"en":"Bitcoin is the first <a href=\"https://example.com\">cryptocurrency</a>.\r\n\r\nIt was  created in 2009."},
			"links":{"homepage":["","http://www.bitcoin.org"]}}`)
	})

	g := NewCoinGecko(NewClient(), srv.URL, "")

	info, err := g.Info(context.Background(), "bitcoin")
	if err != nil {
		t.Fatalf("Info() error: %v", err)
	}
	want := "Bitcoin is the first cryptocurrency. It was created in 2009."
	if info.Description != want {
		t.Errorf("description = %q, want %q", info.Description, want)
	}
	if info.Homepage != "http://www.bitcoin.org" {
		t.Errorf("homepage = %q", info.Homepage)
	}

	if _, err := g.Info(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("404: err = %v, want ErrNotFound", err)
	}
}

func TestCoinMarketCapQuote(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-CMC_PRO_API_KEY"); got != "cmc" {
			t.Errorf("api key header = %q", got)
		}
		switch r.URL.Query().Get("symbol") {
		case "BTC":
			fmt.Fprint(w, `{"status":{},"data":{"BTC":{"id":1,"name":"Bitcoin","symbol":"BTC","cmc_rank":1,"quote":{"USD":{"price":67000.5,"market_cap":1320000000000.4}}}}}`)
		case "BAD":
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"status":{"error_message":"Invalid value for \"symbol\""}}`)
		default:
			fmt.Fprint(w, `{"status":{},"data":{}}`)
		}
	})

	m := NewCoinMarketCap(NewClient(WithMaxBackoff(0)), srv.URL, "cmc")

	l, err := m.Quote(context.Background(), "btc")
	if err != nil {
		t.Fatalf("Quote() error: %v", err)
	}
	if l.Name != "Bitcoin" || l.USD().Price.Decimal.String() != "67000.5" {
		t.Errorf("Quote() = %+v", l)
	}

	for _, sym := range []string{"xyz", "bad"} {
		if _, err := m.Quote(context.Background(), sym); !errors.Is(err, ErrNotFound) {
			t.Errorf("Quote(%s): err = %v, want ErrNotFound", sym, err)
		}
	}
}

func TestCoinMarketCapListingsAndLookup(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/cryptocurrency/listings/latest":
			if r.URL.Query().Get("limit") != "2" {
				t.Errorf("limit = %q", r.URL.Query().Get("limit"))
			}
			fmt.Fprint(w, `{"data":[
				{"id":1,"name":"Bitcoin","symbol":"BTC","cmc_rank":1,"quote":{"USD":{"price":67000,"market_cap":1.3e12}}},
				{"id":1027,"name":"Ethereum","symbol":"ETH","cmc_rank":2,"quote":{"USD":{"price":3500.25,"market_cap":4.2e11}}}]}`)
		case "/v1/cryptocurrency/map":
			fmt.Fprint(w, `{"data":[{"id":1,"name":"Bitcoin","symbol":"BTC"},{"id":1831,"name":"Bitcoin Cash","symbol":"BCH"}]}`)
		default:
			http.NotFound(w, r)
		}
	})

	m := NewCoinMarketCap(NewClient(), srv.URL, "")

	rows, err := m.Listings(context.Background(), 2)
	if err != nil {
		t.Fatalf("Listings() error: %v", err)
	}
	if len(rows) != 2 || rows[1].Symbol != "ETH" || rows[1].Rank != 2 {
		t.Errorf("Listings() = %+v", rows)
	}

	e, err := m.Lookup(context.Background(), "bitcoin CASH")
	if err != nil || e.ID != 1831 {
		t.Errorf("Lookup() = %+v, %v", e, err)
	}
	if _, err := m.Lookup(context.Background(), "dogecoin"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup(dogecoin): err = %v", err)
	}
}

func TestClientCache(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `{"bitcoin":{"usd":1}}`)
	})

	c := NewClient(WithCache(cache.NewMemory(), time.Minute))
	g := NewCoinGecko(c, srv.URL, "")

	for i := 0; i < 3; i++ {
		if _, err := g.SimplePrice(context.Background(), "bitcoin"); err != nil {
			t.Fatalf("SimplePrice() error: %v", err)
		}
	}

	if hits.Load() != 1 {
		t.Errorf("upstream hit %d times, want 1", hits.Load())
	}
	if s := c.Stats().Get("coingecko"); s.CacheHits != 2 || s.Calls != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestClientErrors(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "limited") {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	})

	c := NewClient(WithMaxBackoff(0), WithCache(cache.NewMemory(), time.Minute))

	get := func(path string) error {
		req, err := NewRequest(context.Background(), "test", http.MethodGet, srv.URL+path)
		if err != nil {
			t.Fatal(err)
		}
		_, err = c.GetJSON(req)
		return err
	}

	var serr *StatusError
	if err := get("/boom"); !errors.As(err, &serr) || serr.Code != 500 {
		t.Errorf("500: err = %v", err)
	}
	if err := get("/limited"); !errors.As(err, &serr) || serr.Code != 429 {
		t.Errorf("429: err = %v", err)
	}

	s := c.Stats().Get("test")
	if s.Calls != 2 || s.Errors != 1 || s.RateLimitHits != 1 || s.ConsecErrors != 2 {
		t.Errorf("stats = %+v", s)
	}
	if s.CacheHits != 0 {
		t.Error("errors must not be cached")
	}
	if !strings.Contains(c.Stats().Summary(), "test") {
		t.Error("summary should list the api")
	}
}

func TestClientMinInterval(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})

	c := NewClient(WithMinInterval(30 * time.Millisecond))

	start := time.Now()
	for i := 0; i < 3; i++ {
		req, _ := NewRequest(context.Background(), "spaced", http.MethodGet, srv.URL)
		if _, err := c.GetJSON(req); err != nil {
			t.Fatal(err)
		}
	}

	if took := time.Since(start); took < 60*time.Millisecond {
		t.Errorf("three calls took %v, want at least 60ms", took)
	}
}

func TestBackoff(t *testing.T) {
	s := NewStats()
	if d := s.Backoff("x", time.Minute); d != 0 {
		t.Errorf("no errors: backoff = %v", d)
	}

	testCases := []struct {
		errors int
		want   time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{4, 8 * time.Second},
		{7, time.Minute},
		{40, time.Minute},
	}

	for _, tc := range testCases {
		s := NewStats()
		for i := 0; i < tc.errors; i++ {
			s.RecordError("x", errors.New("boom"))
		}
		if d := s.Backoff("x", time.Minute); d != tc.want {
			t.Errorf("%d errors: backoff = %v, want %v", tc.errors, d, tc.want)
		}
	}

	s.RecordError("x", errors.New("boom"))
	s.RecordSuccess("x")
	if d := s.Backoff("x", time.Minute); d != 0 {
		t.Errorf("after success: backoff = %v", d)
	}
}
