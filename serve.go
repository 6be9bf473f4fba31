package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"coinbot.ai/agent"
	"coinbot.ai/api"
	"coinbot.ai/cache"
	"coinbot.ai/client/whatsapp"
	"coinbot.ai/command"
	"coinbot.ai/config"
	"coinbot.ai/data"
	"coinbot.ai/news"
	"coinbot.ai/resolve"
	"coinbot.ai/server"
)

const historySize = 10

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot: HTTP chat surface plus the optional WhatsApp bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

// services are the pieces every entry point shares.
type services struct {
	store    *data.Store
	cache    cache.Cache
	client   *api.Client
	gecko    *api.CoinGecko
	resolver *resolve.Resolver
	registry *command.Registry
}

func newServices(c *config.Config) *services {
	cc := cache.New(c.Cache.RedisURL)
	client := api.NewClient(
		api.WithTimeout(c.HTTP.Timeout),
		api.WithMinInterval(c.HTTP.MinInterval),
		api.WithCache(cc, c.Cache.TTL),
	)

	store := data.NewStore()
	gecko := api.NewCoinGecko(client, c.CoinGecko.URL, c.CoinGecko.APIKey)
	resolver := resolve.New(store,
		resolve.WithTimeout(c.Resolve.Timeout),
		resolve.WithLimit(c.Resolve.Candidates),
	)

	deps := command.Deps{
		Store:     store,
		Resolver:  resolver,
		Gecko:     gecko,
		News:      news.New(c.News.Feeds, cc, c.Cache.TTL),
		NewsLimit: c.News.Limit,
		Stats:     client.Stats(),
	}
	if len(c.CoinMarketCap.APIKey) > 0 {
		deps.MarketCap = api.NewCoinMarketCap(client, c.CoinMarketCap.URL, c.CoinMarketCap.APIKey)
	} else {
		log.Warn().Str("component", "main").Msg("no CoinMarketCap key, /price /topcap and /id are disabled")
	}

	return &services{
		store:    store,
		cache:    cc,
		client:   client,
		gecko:    gecko,
		resolver: resolver,
		registry: command.NewRegistry(deps),
	}
}

// prompter answers free text.
type prompter interface {
	Prompt(ctx context.Context, history []agent.Message, userPrompt string) (string, error)
}

// bot turns incoming chat messages into replies.
type bot struct {
	registry *command.Registry
	agent    prompter
	srv      *server.Server
}

func (b *bot) handle(ctx context.Context, conv *server.Conversation) {
	text := strings.TrimSpace(conv.Text())
	if len(text) == 0 {
		return
	}

	result, handled := b.registry.Dispatch(&command.Context{
		Context: ctx,
		Conv:    conv,
		Author:  conv.Author(),
		Input:   text,
	})

	if !handled {
		switch {
		case strings.HasPrefix(text, "/"):
			result = "Unknown command. Try /help"
		case b.agent != nil:
			answer, err := b.agent.Prompt(ctx, b.history(conv), text)
			if err != nil {
				log.Error().Str("component", "main").Err(err).Msg("agent failed")
				result = "❌ Sorry, I could not answer that right now."
			} else {
				result = answer
			}
		default:
			return
		}
	}

	if len(result) == 0 {
		return
	}
	if err := conv.Reply(ctx, result); err != nil {
		log.Error().Str("component", "main").Str("stream", conv.Stream()).Err(err).Msg("reply failed")
	}
}

// history is the recent exchange between the author and the bot, without
// the message being answered.
func (b *bot) history(conv *server.Conversation) []agent.Message {
	if b.srv == nil {
		return nil
	}

	var out []agent.Message
	for _, m := range b.srv.Retrieve(conv.Stream(), conv.Author(), 0, historySize+1) {
		switch {
		case m.Id == conv.Message().Id:
		case m.Type == server.TypeReply:
			out = append(out, agent.Message{Role: "assistant", Content: m.Text})
		case m.Type == server.TypeMessage && m.Author == conv.Author():
			out = append(out, agent.Message{Role: "user", Content: m.Text})
		}
	}
	return out
}

func newAgent(c *config.Config, reg *command.Registry) prompter {
	if len(c.OpenAI.APIKey) == 0 {
		return nil
	}
	a, err := agent.NewOpenAI(c.OpenAI.APIKey, c.OpenAI.URL, c.OpenAI.Model, reg)
	if err != nil {
		log.Warn().Str("component", "main").Err(err).Msg("agent disabled")
		return nil
	}
	return a
}

func serve(ctx context.Context, c *config.Config) error {
	svc := newServices(c)

	b := &bot{
		registry: svc.registry,
		agent:    newAgent(c, svc.registry),
	}
	srv := server.New(b.handle)
	b.srv = srv

	httpServer := &http.Server{
		Addr:              c.Server.Address,
		Handler:           srv.Routes(svc.registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		svc.store.Run(ctx, svc.gecko, c.Refresh.Interval)
		return nil
	})

	g.Go(func() error {
		return srv.Run(ctx)
	})

	if mem, ok := svc.cache.(*cache.Memory); ok && c.Cache.TTL > 0 {
		g.Go(func() error {
			mem.Run(ctx, c.Cache.TTL)
			return nil
		})
	}

	g.Go(func() error {
		log.Info().Str("component", "main").Str("address", c.Server.Address).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdown)
	})

	if c.WhatsApp.Enabled {
		bridge := whatsapp.New(srv, c.WhatsApp.DB)
		g.Go(func() error {
			return bridge.Run(ctx)
		})
	}

	err := g.Wait()
	if r, ok := svc.cache.(*cache.Redis); ok {
		r.Close()
	}
	log.Info().Str("component", "main").Msg("stopped")
	return err
}
