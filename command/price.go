package command

import (
	"fmt"
	"strconv"
	"strings"

	"coinbot.ai/format"
	"coinbot.ai/resolve"
)

const maxTop = 10

func (r *Registry) registerPrices() {
	r.Register(&Command{
		Name:        "price",
		Description: "Price of a coin by ticker symbol (CoinMarketCap)",
		Usage:       "/price <symbol>",
		Handler:     r.price,
	})
	r.Register(&Command{
		Name:        "priceid",
		Description: "Price of a coin by CoinGecko id",
		Usage:       "/priceid <id>",
		Handler:     r.priceID,
	})
	r.Register(&Command{
		Name:        "pricename",
		Description: "Price of a coin by name",
		Usage:       "/pricename <name>",
		Handler:     r.priceName,
	})
	r.Register(&Command{
		Name:        "topcap",
		Description: "Top coins by market cap",
		Usage:       "/topcap <1-10>",
		Handler:     r.topCap,
	})
	r.Register(&Command{
		Name:        "id",
		Description: "CoinMarketCap id of a coin",
		Usage:       "/id <name>",
		Handler:     r.cmcID,
	})
}

func (r *Registry) price(ctx *Context, args []string) (string, error) {
	if len(args) == 0 {
		return "Usage: /price <symbol> (e.g. /price btc)", nil
	}
	if r.deps.MarketCap == nil {
		return "", errUnavailable
	}

	l, err := r.deps.MarketCap.Quote(ctx, args[0])
	if notFound(err) {
		return failure("Cryptocurrency not found", "The symbol you provided is not recognized. Please check the symbol and try again."), nil
	}
	if err != nil {
		return "", upstream("CoinMarketCap", err)
	}

	p := format.Price(l.USD().Price)
	if p == format.Sentinel {
		return failure("Price display error", "The price of this coin is too small to display. For more accurate results, visit coinmarketcap.com"), nil
	}

	return card(l.Name, footerCMC, "Price (USD): "+p), nil
}

func (r *Registry) priceID(ctx *Context, args []string) (string, error) {
	if len(args) == 0 {
		return "Usage: /priceid <id> (e.g. /priceid bitcoin)", nil
	}
	if r.deps.Gecko == nil {
		return "", errUnavailable
	}

	coin, msg, ok := r.resolveCoin(ctx, resolve.ByID, strings.Join(args, " "))
	if !ok {
		return msg, nil
	}

	m, err := r.deps.Gecko.Market(ctx, coin.ID)
	if notFound(err) {
		return failure("Cryptocurrency not found", "The id you provided is not recognized. Please check the id and try again."), nil
	}
	if err != nil {
		return "", upstream("CoinGecko", err)
	}

	p := format.Price(m.CurrentPrice)
	if p == format.Sentinel {
		return failure("Price display error", "The price of this coin does not exist, or is too small to display. For more accurate results, visit coingecko.com"), nil
	}

	return card(m.Name, footerGecko, "Price (USD): "+p), nil
}

func (r *Registry) priceName(ctx *Context, args []string) (string, error) {
	if len(args) == 0 {
		return "Usage: /pricename <name> (e.g. /pricename bitcoin cash)", nil
	}
	if r.deps.Gecko == nil {
		return "", errUnavailable
	}

	coin, msg, ok := r.resolveCoin(ctx, resolve.ByName, strings.Join(args, " "))
	if !ok {
		return msg, nil
	}

	sp, err := r.deps.Gecko.SimplePrice(ctx, coin.ID)
	if notFound(err) {
		return failure("Cryptocurrency Data Not Found", "The data for the provided cryptocurrency name is not available. For more information, visit coingecko.com"), nil
	}
	if err != nil {
		return "", upstream("CoinGecko", err)
	}

	p := format.Price(sp.USD)
	if p == format.Sentinel {
		return failure("Price display error", "The price of this coin does not exist, or is too small to display. For more accurate results, visit coingecko.com"), nil
	}

	return card(title(coin.Name, coin.Symbol), footerGecko, "Price (USD): "+p), nil
}

func (r *Registry) topCap(ctx *Context, args []string) (string, error) {
	n := 0
	if len(args) > 0 {
		n, _ = strconv.Atoi(args[0])
	}
	if n < 1 || n > maxTop {
		return failure("Invalid input", "Please enter a valid input (1-10)"), nil
	}
	if r.deps.MarketCap == nil {
		return "", errUnavailable
	}

	rows, err := r.deps.MarketCap.Listings(ctx, n)
	if err != nil {
		return "", upstream("CoinMarketCap", err)
	}

	heading := "Top Cryptocurrency by Market Cap"
	if n > 1 {
		heading = fmt.Sprintf("Top %d Cryptocurrencies by Market Cap", n)
	}

	var fields []string
	for _, l := range rows {
		q := l.USD()
		mc := "n/a"
		if q.MarketCap.Valid {
			mc = format.Whole(q.MarketCap.Decimal)
		}
		fields = append(fields, fmt.Sprintf("%d. %s (%s)\n   Price: %s\n   Market Cap: %s",
			l.Rank, l.Name, l.Symbol, format.Price(q.Price), mc))
	}

	return card(heading, footerCMC, fields...), nil
}

func (r *Registry) cmcID(ctx *Context, args []string) (string, error) {
	if len(args) == 0 {
		return "Usage: /id <name> (e.g. /id bitcoin)", nil
	}
	if r.deps.MarketCap == nil {
		return "", errUnavailable
	}

	e, err := r.deps.MarketCap.Lookup(ctx, strings.Join(args, " "))
	if notFound(err) {
		return failure("Invalid input", "The cryptocurrency you provided is not recognized. Please check the spelling and try again."), nil
	}
	if err != nil {
		return "", upstream("CoinMarketCap", err)
	}

	return card("Coin-Specific CMC API id", footerCMC, fmt.Sprintf("%s id: %d", e.Name, e.ID)), nil
}

func title(name, symbol string) string {
	return fmt.Sprintf("%s (%s)", name, strings.ToUpper(symbol))
}
