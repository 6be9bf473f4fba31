package command

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"coinbot.ai/api"
	"coinbot.ai/data"
	"coinbot.ai/news"
	"coinbot.ai/resolve"
)

func price(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

type fakeGecko struct {
	prices  map[string]api.SimplePrice
	markets map[string]api.Market
	infos   map[string]api.Info
	err     error
	asked   []string
}

func (f *fakeGecko) SimplePrice(ctx context.Context, id string) (api.SimplePrice, error) {
	f.asked = append(f.asked, id)
	if f.err != nil {
		return api.SimplePrice{}, f.err
	}
	p, ok := f.prices[id]
	if !ok {
		return p, api.ErrNotFound
	}
	return p, nil
}

func (f *fakeGecko) Market(ctx context.Context, id string) (api.Market, error) {
	f.asked = append(f.asked, id)
	if f.err != nil {
		return api.Market{}, f.err
	}
	m, ok := f.markets[id]
	if !ok {
		return m, api.ErrNotFound
	}
	return m, nil
}

func (f *fakeGecko) Info(ctx context.Context, id string) (api.Info, error) {
	i, ok := f.infos[id]
	if !ok {
		return i, api.ErrNotFound
	}
	return i, nil
}

type fakeCMC struct {
	quotes   map[string]api.Listing
	listings []api.Listing
	entries  []api.MapEntry
	limit    int
}

func (f *fakeCMC) Quote(ctx context.Context, symbol string) (api.Listing, error) {
	l, ok := f.quotes[strings.ToUpper(symbol)]
	if !ok {
		return l, api.ErrNotFound
	}
	return l, nil
}

func (f *fakeCMC) Listings(ctx context.Context, limit int) ([]api.Listing, error) {
	f.limit = limit
	if limit < len(f.listings) {
		return f.listings[:limit], nil
	}
	return f.listings, nil
}

func (f *fakeCMC) Lookup(ctx context.Context, name string) (api.MapEntry, error) {
	for _, e := range f.entries {
		if strings.EqualFold(e.Name, name) {
			return e, nil
		}
	}
	return api.MapEntry{}, api.ErrNotFound
}

type fakeNews struct {
	items    []news.Headline
	keywords []string
}

func (f *fakeNews) Headlines(ctx context.Context, limit int) ([]news.Headline, error) {
	if limit < len(f.items) {
		return f.items[:limit], nil
	}
	return f.items, nil
}

func (f *fakeNews) About(ctx context.Context, limit int, keywords ...string) ([]news.Headline, error) {
	f.keywords = keywords
	return f.items[:1], nil
}

type fakeConversation struct {
	said   []string
	answer string
	err    error
}

func (f *fakeConversation) Reply(ctx context.Context, text string) error {
	f.said = append(f.said, text)
	return nil
}

func (f *fakeConversation) Await(ctx context.Context, timeout time.Duration) (string, error) {
	return f.answer, f.err
}

func listing(name, symbol string, rank int, p, cap string) api.Listing {
	l := api.Listing{Name: name, Symbol: symbol, Rank: rank}
	l.Quote.USD = api.Quote{Price: price(p), MarketCap: price(cap)}
	return l
}

type fixture struct {
	reg   *Registry
	gecko *fakeGecko
	cmc   *fakeCMC
	news  *fakeNews
	store *data.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tbl, err := data.NewTable([]data.Coin{
		{ID: "bitcoin", Name: "Bitcoin", Symbol: "btc"},
		{ID: "bitcoin-cash", Name: "Bitcoin Cash", Symbol: "bch"},
		{ID: "bitcoin-cash-sv", Name: "Bitcoin SV", Symbol: "bsv"},
		{ID: "shiba-inu", Name: "Shiba Inu", Symbol: "shib"},
		{ID: "dust", Name: "Dust", Symbol: "dst"},
	})
	if err != nil {
		t.Fatal(err)
	}
	store := data.NewStore()
	store.Swap(tbl)

	f := &fixture{
		store: store,
		gecko: &fakeGecko{
			prices: map[string]api.SimplePrice{
				"bitcoin":      {USD: price("67000.5"), Volume24h: price("31415926535.897")},
				"bitcoin-cash": {USD: price("350.255"), Volume24h: price("1234.5")},
				"shiba-inu":    {USD: price("0.00001234567"), Volume24h: decimal.NullDecimal{}},
				"dust":         {USD: price("0.00000000000000001"), Volume24h: price("0")},
			},
			markets: map[string]api.Market{
				"bitcoin":   {ID: "bitcoin", Name: "Bitcoin", CurrentPrice: price("67000.129"), TotalVolume: price("15000000000")},
				"shiba-inu": {ID: "shiba-inu", Name: "Shiba Inu", CurrentPrice: price("0.00001234567")},
			},
			infos: map[string]api.Info{
				"bitcoin": {ID: "bitcoin", Name: "Bitcoin", Symbol: "btc", Homepage: "http://www.bitcoin.org",
					Description: "Bitcoin is the first cryptocurrency. It was created in 2009. It has a fixed supply."},
			},
		},
		cmc: &fakeCMC{
			quotes: map[string]api.Listing{
				"BTC":  listing("Bitcoin", "BTC", 1, "67000.5", "1320000000000.4"),
				"DUST": listing("Dust", "DUST", 999, "0.00000000000000001", "1"),
			},
			listings: []api.Listing{
				listing("Bitcoin", "BTC", 1, "67000.5", "1320000000000.4"),
				listing("Ethereum", "ETH", 2, "3500.25", "420000000000.6"),
				listing("Tether", "USDT", 3, "0.99985", "110000000000"),
			},
			entries: []api.MapEntry{{ID: 1, Name: "Bitcoin"}, {ID: 1831, Name: "Bitcoin Cash"}},
		},
		news: &fakeNews{items: []news.Headline{
			{Title: "Bitcoin rallies", Link: "https://example.com/1", Source: "Desk"},
			{Title: "Ether upgrade", Link: "https://example.com/2"},
		}},
	}

	f.reg = NewRegistry(Deps{
		Store:     store,
		Resolver:  resolve.New(store),
		Gecko:     f.gecko,
		MarketCap: f.cmc,
		News:      f.news,
		Stats:     api.NewStats(),
	})
	return f
}

func (f *fixture) run(input string, conv resolve.Conversation) (string, bool) {
	return f.reg.Dispatch(&Context{Context: context.Background(), Conv: conv, Author: "alice", Input: input})
}

func TestDispatchOutputs(t *testing.T) {
	testCases := []struct {
		input string
		want  []string
	}{
		{"/hello", []string{"hi"}},
		{"/HELLO", []string{"hi"}},
		{"/price btc", []string{"Bitcoin", "Price (USD): $67,000.50", footerCMC}},
		{"/price nope", []string{"Cryptocurrency not found", "symbol you provided"}},
		{"/price dust", []string{"Price display error", "too small to display"}},
		{"/price", []string{"Usage: /price"}},
		{"/priceid BITCOIN", []string{"Bitcoin", "Price (USD): $67,000.13", footerGecko}},
		{"/priceid shiba-inu", []string{"Price (USD): $0.0000123"}},
		{"/pricename bitcoin cash", []string{"Bitcoin Cash (BCH)", "Price (USD): $350.26"}},
		{"/pricename dust", []string{"Price display error"}},
		{"/vol24 Bitcoin", []string{"Bitcoin (BTC)", "24h Volume (USD): $31,415,926,535.90", footerGecko}},
		{"/vol24 shiba inu", []string{"Cryptocurrency Data Not Found", "name is not available"}},
		{"/vol24 dust", []string{"Volume display error"}},
		{"/vol24id bitcoin-cash", []string{"Bitcoin Cash (BCH)", "24h Volume (USD): $1,234.50"}},
		{"/totalvol bitcoin", []string{"Total Volume (USD): $15,000,000,000.00"}},
		{"/topcap 0", []string{"Please enter a valid input (1-10)"}},
		{"/topcap 11", []string{"Please enter a valid input (1-10)"}},
		{"/topcap ten", []string{"Please enter a valid input (1-10)"}},
		{"/topcap 1", []string{"Top Cryptocurrency by Market Cap", "1. Bitcoin (BTC)", "Market Cap: $1,320,000,000,000"}},
		{"/topcap 3", []string{"Top 3 Cryptocurrencies", "2. Ethereum (ETH)", "Price: $3,500.25", "Market Cap: $420,000,000,001", "Price: $0.9998"}},
		{"/id bitcoin cash", []string{"Coin-Specific CMC API id", "Bitcoin Cash id: 1831"}},
		{"/id dogecoin", []string{"not recognized"}},
		{"/info bitcoin", []string{"Bitcoin (BTC)", "Bitcoin is the first cryptocurrency. It was created in 2009.", "http://www.bitcoin.org"}},
		{"/news", []string{"📰 Crypto News", "1. Bitcoin rallies (Desk)", "2. Ether upgrade"}},
		{"/status", []string{"Server Status", "Coins: 5", "Uptime"}},
		{"/help", []string{"Available commands:", "/price <symbol>", "/topcap <1-10>"}},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			f := newFixture(t)
			got, handled := f.run(tc.input, &fakeConversation{})
			if !handled {
				t.Fatalf("%s was not handled", tc.input)
			}
			for _, w := range tc.want {
				if !strings.Contains(got, w) {
					t.Errorf("%s:\n%s\nwant it to contain %q", tc.input, got, w)
				}
			}
		})
	}
}

func TestDispatchNotACommand(t *testing.T) {
	f := newFixture(t)
	for _, input := range []string{"hello", "/unknown", "", "   "} {
		if _, handled := f.run(input, nil); handled {
			t.Errorf("%q should not be handled", input)
		}
	}
}

func TestInfoIsSummarized(t *testing.T) {
	f := newFixture(t)
	got, _ := f.run("/info bitcoin", nil)
	if strings.Contains(got, "fixed supply") {
		t.Errorf("description not cut to two sentences: %q", got)
	}
}

func TestInteractiveFallback(t *testing.T) {
	f := newFixture(t)
	conv := &fakeConversation{answer: "1"}

	got, _ := f.run("/vol24 bitcon", conv)

	if len(conv.said) != 1 || !strings.Contains(conv.said[0], "Perhaps you meant") {
		t.Fatalf("prompt = %q", conv.said)
	}
	if !strings.Contains(got, "Bitcoin (BTC)") {
		t.Errorf("after choosing 1: %q", got)
	}
	if f.gecko.asked[0] != "bitcoin" {
		t.Errorf("asked gecko for %v", f.gecko.asked)
	}
}

func TestInteractiveOutcomesSayNothingMore(t *testing.T) {
	testCases := []struct {
		name   string
		answer string
		err    error
	}{
		{"cancel", "q", nil},
		{"invalid", "9", nil},
		{"timeout", "", context.DeadlineExceeded},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			conv := &fakeConversation{answer: tc.answer, err: tc.err}

			got, handled := f.run("/vol24 bitcon", conv)
			if !handled || got != "" {
				t.Errorf("got %q, %v; want nothing more after the notice", got, handled)
			}
			if len(conv.said) != 2 {
				t.Errorf("said %q, want prompt and notice", conv.said)
			}
			if len(f.gecko.asked) != 0 {
				t.Error("upstream called without a coin")
			}
		})
	}
}

func TestWithoutConversationListsCandidates(t *testing.T) {
	f := newFixture(t)

	got, err := f.reg.Execute(context.Background(), "pricename", []string{"bitcon"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "Did you mean: Bitcoin (bitcoin), Bitcoin SV (bitcoin-cash-sv)") {
		t.Errorf("got %q", got)
	}
}

func TestUnavailable(t *testing.T) {
	f := newFixture(t)

	empty := NewRegistry(Deps{Store: data.NewStore(), Resolver: resolve.New(data.NewStore()), Gecko: f.gecko})
	got, _ := empty.Dispatch(&Context{Context: context.Background(), Input: "/vol24 bitcoin"})
	if !strings.Contains(got, "still loading") {
		t.Errorf("empty table: %q", got)
	}
}

func TestUpstreamError(t *testing.T) {
	f := newFixture(t)
	f.gecko.err = errors.New("connection refused")

	got, _ := f.run("/vol24 bitcoin", nil)
	if !strings.HasPrefix(got, "❌ ") || !strings.Contains(got, "CoinGecko") {
		t.Errorf("got %q", got)
	}
	if strings.Contains(got, "connection refused") {
		t.Error("internal error leaked to the user")
	}
}

func TestNewsAboutCoin(t *testing.T) {
	f := newFixture(t)

	got, _ := f.run("/news bitcoin", nil)
	if !strings.Contains(got, "News about bitcoin") {
		t.Errorf("got %q", got)
	}
	if len(f.news.keywords) != 2 || f.news.keywords[1] != "btc" {
		t.Errorf("keywords = %v", f.news.keywords)
	}
}

func TestMissingServices(t *testing.T) {
	r := NewRegistry(Deps{})
	got, _ := r.Dispatch(&Context{Context: context.Background(), Input: "/price btc"})
	if !strings.HasPrefix(got, "❌ ") {
		t.Errorf("got %q", got)
	}
}

func TestSummarize(t *testing.T) {
	testCases := []struct {
		in   string
		max  int
		want string
	}{
		{"One. Two. Three.", 512, "One. Two."},
		{"Version 1.0 is out. Then more. And more.", 512, "Version 1.0 is out. Then more."},
		{"No full stop here", 512, "No full stop here"},
		{"A very long sentence with words", 12, "A very long..."},
		{"", 10, ""},
	}

	for _, tc := range testCases {
		if got := summarize(tc.in, 2, tc.max); got != tc.want {
			t.Errorf("summarize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
