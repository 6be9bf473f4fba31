package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"coinbot.ai/api"
	"coinbot.ai/data"
	"coinbot.ai/resolve"
)

var errUnavailable = errors.New("this command is not configured")

const (
	footerGecko = "Powered by CoinGecko"
	footerCMC   = "Data retrieved from CoinMarketCap"
)

// card renders a titled block of fields with a footer.
func card(title, footer string, fields ...string) string {
	var b strings.Builder
	b.WriteString(title)
	for _, f := range fields {
		b.WriteString("\n")
		b.WriteString(f)
	}
	if len(footer) > 0 {
		b.WriteString("\n_")
		b.WriteString(footer)
		b.WriteString("_")
	}
	return b.String()
}

func failure(title, detail string) string {
	return "❌ " + title + "\n" + detail
}

// upstream turns a provider failure into what the user sees.
func upstream(source string, err error) error {
	log.Warn().Str("component", "command").Str("source", source).Err(err).Msg("upstream failed")
	return fmt.Errorf("an error occurred while fetching the data from %s, please try again later", source)
}

// resolveCoin resolves text against the reference table. When ok is
// false msg is what to tell the user, which may be nothing because the
// prompt already said it.
func (r *Registry) resolveCoin(ctx *Context, field resolve.Field, text string) (coin data.Coin, msg string, ok bool) {
	if r.deps.Resolver == nil {
		return coin, "⏳ The coin list is still loading. Please try again in a moment.", false
	}

	res := r.deps.Resolver.Resolve(ctx, field, text, ctx.Conv)

	switch res.Status {
	case resolve.Found:
		return res.Coin, "", true
	case resolve.Unavailable:
		return coin, "⏳ The coin list is still loading. Please try again in a moment.", false
	case resolve.NotFound:
		return coin, failure("Cryptocurrency not found",
			fmt.Sprintf("The %s you provided is not recognized. Please check the spelling and try again.", field)), false
	case resolve.Ambiguous:
		var opts []string
		for _, c := range res.Candidates {
			opts = append(opts, fmt.Sprintf("%s (%s)", c.Coin.Name, c.Coin.ID))
		}
		return coin, fmt.Sprintf("❓ No exact match for '%s'. Did you mean: %s?", strings.TrimSpace(text), strings.Join(opts, ", ")), false
	case resolve.Failed:
		log.Warn().Str("component", "command").Err(res.Err).Msg("interactive selection failed")
	}

	// cancelled, timed out and invalid were already answered
	return coin, "", false
}

func notFound(err error) bool {
	return errors.Is(err, api.ErrNotFound)
}
