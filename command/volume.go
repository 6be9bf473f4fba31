package command

import (
	"strings"

	"github.com/shopspring/decimal"

	"coinbot.ai/data"
	"coinbot.ai/format"
	"coinbot.ai/resolve"
)

func (r *Registry) registerVolumes() {
	r.Register(&Command{
		Name:        "vol24",
		Description: "24 hour trading volume by name",
		Usage:       "/vol24 <name>",
		Handler: func(ctx *Context, args []string) (string, error) {
			return r.volume24(ctx, resolve.ByName, args)
		},
	})
	r.Register(&Command{
		Name:        "vol24id",
		Description: "24 hour trading volume by CoinGecko id",
		Usage:       "/vol24id <id>",
		Handler: func(ctx *Context, args []string) (string, error) {
			return r.volume24(ctx, resolve.ByID, args)
		},
	})
	r.Register(&Command{
		Name:        "totalvol",
		Description: "Total trading volume by name",
		Usage:       "/totalvol <name>",
		Handler:     r.totalVolume,
	})
}

func (r *Registry) volume24(ctx *Context, field resolve.Field, args []string) (string, error) {
	if len(args) == 0 {
		return "Usage: /vol24 <name> or /vol24id <id>", nil
	}
	if r.deps.Gecko == nil {
		return "", errUnavailable
	}

	coin, msg, ok := r.resolveCoin(ctx, field, strings.Join(args, " "))
	if !ok {
		return msg, nil
	}

	sp, err := r.deps.Gecko.SimplePrice(ctx, coin.ID)
	if notFound(err) || (err == nil && !sp.Volume24h.Valid) {
		return missingData(field), nil
	}
	if err != nil {
		return "", upstream("CoinGecko", err)
	}

	return volumeCard(coin, "24h Volume (USD): ", sp.Volume24h), nil
}

func (r *Registry) totalVolume(ctx *Context, args []string) (string, error) {
	if len(args) == 0 {
		return "Usage: /totalvol <name>", nil
	}
	if r.deps.Gecko == nil {
		return "", errUnavailable
	}

	coin, msg, ok := r.resolveCoin(ctx, resolve.ByName, strings.Join(args, " "))
	if !ok {
		return msg, nil
	}

	m, err := r.deps.Gecko.Market(ctx, coin.ID)
	if notFound(err) || (err == nil && !m.TotalVolume.Valid) {
		return missingData(resolve.ByName), nil
	}
	if err != nil {
		return "", upstream("CoinGecko", err)
	}

	return volumeCard(coin, "Total Volume (USD): ", m.TotalVolume), nil
}

func volumeCard(coin data.Coin, label string, v decimal.NullDecimal) string {
	vol := format.Price(v)
	if vol == format.Sentinel {
		return failure("Volume display error", "The volume of this coin does not exist, or is too small to display. For more accurate results, visit coingecko.com")
	}
	return card(title(coin.Name, coin.Symbol), footerGecko, label+vol)
}

func missingData(field resolve.Field) string {
	return failure("Cryptocurrency Data Not Found",
		"The data for the provided cryptocurrency "+field.String()+" is not available. For more information, visit coingecko.com")
}
