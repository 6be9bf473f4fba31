// Package news reads crypto headlines from RSS feeds.
package news

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"coinbot.ai/cache"
)

// DefaultFeeds are used when none are configured.
var DefaultFeeds = []string{
	"https://www.coindesk.com/arc/outboundfeeds/rss/",
	"https://cointelegraph.com/rss",
	"https://decrypt.co/feed",
}

var ErrNoFeeds = errors.New("no news feed could be read")

// Headline is one feed item.
type Headline struct {
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Source    string    `json:"source"`
	Summary   string    `json:"summary"`
	Published time.Time `json:"published"`
}

// Feed merges several RSS feeds.
type Feed struct {
	urls  []string
	cache cache.Cache
	ttl   time.Duration
}

func New(urls []string, c cache.Cache, ttl time.Duration) *Feed {
	if len(urls) == 0 {
		urls = DefaultFeeds
	}
	if c == nil {
		c = cache.NewMemory()
	}
	return &Feed{
		urls:  urls,
		cache: c,
		ttl:   ttl,
	}
}

// Headlines returns up to limit items across all feeds, newest first.
// Feeds that fail are skipped; only when all fail is an error returned.
func (f *Feed) Headlines(ctx context.Context, limit int) ([]Headline, error) {
	all, err := f.all(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// About returns headlines mentioning any of the keywords.
func (f *Feed) About(ctx context.Context, limit int, keywords ...string) ([]Headline, error) {
	all, err := f.all(ctx)
	if err != nil {
		return nil, err
	}

	var found []Headline
	for _, h := range all {
		if matchesAny(h.Title+" "+h.Summary, keywords) {
			found = append(found, h)
		}
		if limit > 0 && len(found) == limit {
			break
		}
	}
	return found, nil
}

func (f *Feed) all(ctx context.Context) ([]Headline, error) {
	const key = "news:all"

	if v, ok := f.cache.Get(ctx, key); ok {
		var cached []Headline
		if err := json.Unmarshal([]byte(v), &cached); err == nil {
			return cached, nil
		}
	}

	results := make([][]Headline, len(f.urls))
	g, gctx := errgroup.WithContext(ctx)

	for i, u := range f.urls {
		g.Go(func() error {
			items, err := f.fetch(gctx, u)
			if err != nil {
				log.Warn().Str("component", "news").Str("feed", u).Err(err).Msg("skipping feed")
				return nil
			}
			results[i] = items
			return nil
		})
	}
	g.Wait()

	var all []Headline
	read := 0
	for _, items := range results {
		if items != nil {
			read++
		}
		all = append(all, items...)
	}
	if read == 0 {
		return nil, ErrNoFeeds
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Published.After(all[j].Published)
	})

	if b, err := json.Marshal(all); err == nil {
		f.cache.Set(ctx, key, string(b), f.ttl)
	}
	return all, nil
}

func (f *Feed) fetch(ctx context.Context, url string) ([]Headline, error) {
	feed, err := gofeed.NewParser().ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse RSS %s: %w", url, err)
	}

	items := make([]Headline, 0, len(feed.Items))
	for _, item := range feed.Items {
		h := Headline{
			Title:   strings.TrimSpace(item.Title),
			Link:    item.Link,
			Source:  feed.Title,
			Summary: cleanHTML(item.Description),
		}
		if item.PublishedParsed != nil {
			h.Published = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			h.Published = *item.UpdatedParsed
		}
		items = append(items, h)
	}
	return items, nil
}

// cleanHTML strips HTML tags from a string using goquery.
func cleanHTML(s string) string {
	if len(s) == 0 {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + s + "</body>"))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func matchesAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if len(kw) > 0 && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
