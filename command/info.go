package command

import (
	"fmt"
	"strings"
	"unicode"

	"coinbot.ai/resolve"
)

const (
	maxSentences   = 2
	maxDescription = 512
)

func (r *Registry) registerInfo() {
	r.Register(&Command{
		Name:        "info",
		Description: "What a coin is",
		Usage:       "/info <id>",
		Handler:     r.info,
	})
	r.Register(&Command{
		Name:        "news",
		Description: "Latest crypto headlines, optionally about a coin",
		Usage:       "/news [coin]",
		Handler:     r.news,
	})
}

func (r *Registry) info(ctx *Context, args []string) (string, error) {
	if len(args) == 0 {
		return "Usage: /info <id> (e.g. /info bitcoin)", nil
	}
	if r.deps.Gecko == nil {
		return "", errUnavailable
	}

	coin, msg, ok := r.resolveCoin(ctx, resolve.ByID, strings.Join(args, " "))
	if !ok {
		return msg, nil
	}

	info, err := r.deps.Gecko.Info(ctx, coin.ID)
	if notFound(err) {
		return missingData(resolve.ByID), nil
	}
	if err != nil {
		return "", upstream("CoinGecko", err)
	}

	desc := summarize(info.Description, maxSentences, maxDescription)
	if len(desc) == 0 {
		desc = "No description available."
	}

	fields := []string{desc}
	if len(info.Homepage) > 0 {
		fields = append(fields, info.Homepage)
	}
	return card(title(info.Name, info.Symbol), footerGecko, fields...), nil
}

func (r *Registry) news(ctx *Context, args []string) (string, error) {
	if r.deps.News == nil {
		return "", errUnavailable
	}

	var (
		heading = "📰 Crypto News"
		items   []newsItem
	)

	if len(args) > 0 {
		query := strings.Join(args, " ")
		keywords := []string{query}
		// a known coin also matches on its symbol
		if r.deps.Resolver != nil {
			if res := r.deps.Resolver.Lookup(resolve.ByName, query); res.Found() && len(res.Coin.Symbol) > 2 {
				keywords = append(keywords, res.Coin.Symbol)
			}
		}

		found, err := r.deps.News.About(ctx, r.deps.NewsLimit, keywords...)
		if err != nil {
			return "", upstream("the news feeds", err)
		}
		heading = fmt.Sprintf("📰 News about %s", query)
		for _, h := range found {
			items = append(items, newsItem{h.Title, h.Link, h.Source})
		}
	} else {
		found, err := r.deps.News.Headlines(ctx, r.deps.NewsLimit)
		if err != nil {
			return "", upstream("the news feeds", err)
		}
		for _, h := range found {
			items = append(items, newsItem{h.Title, h.Link, h.Source})
		}
	}

	if len(items) == 0 {
		return heading + "\nNothing right now.", nil
	}

	var fields []string
	for i, it := range items {
		line := fmt.Sprintf("%d. %s", i+1, it.title)
		if len(it.source) > 0 {
			line += " (" + it.source + ")"
		}
		if len(it.link) > 0 {
			line += "\n   " + it.link
		}
		fields = append(fields, line)
	}
	return card(heading, "", fields...), nil
}

type newsItem struct {
	title, link, source string
}

// summarize keeps the first n sentences, cut at max bytes on a word
// boundary.
func summarize(text string, n, max int) string {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return ""
	}

	end := len(text)
	count := 0
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		next := i + 1
		if next < len(text) && !unicode.IsSpace(rune(text[next])) {
			continue
		}
		count++
		if count == n {
			end = next
			break
		}
	}
	text = text[:end]

	if len(text) <= max {
		return text
	}

	cut := strings.LastIndex(text[:max], " ")
	if cut <= 0 {
		cut = max
	}
	return strings.TrimRight(text[:cut], " ,;:") + "..."
}
