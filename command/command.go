// Package command holds the bot's chat commands.
package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"coinbot.ai/api"
	"coinbot.ai/data"
	"coinbot.ai/news"
	"coinbot.ai/resolve"
)

// Context is what a command knows about the request.
type Context struct {
	context.Context

	// Conv is where interactive prompts go. Nil means nobody can be
	// asked, e.g. when the AI agent runs a command.
	Conv   resolve.Conversation
	Author string
	Input  string
}

// Command represents a pluggable command handler
type Command struct {
	Name        string
	Description string
	Usage       string
	Handler     func(ctx *Context, args []string) (string, error)
}

// Gecko is the part of the CoinGecko client the commands use.
type Gecko interface {
	SimplePrice(ctx context.Context, id string) (api.SimplePrice, error)
	Market(ctx context.Context, id string) (api.Market, error)
	Info(ctx context.Context, id string) (api.Info, error)
}

// MarketCap is the part of the CoinMarketCap client the commands use.
type MarketCap interface {
	Quote(ctx context.Context, symbol string) (api.Listing, error)
	Listings(ctx context.Context, limit int) ([]api.Listing, error)
	Lookup(ctx context.Context, name string) (api.MapEntry, error)
}

// Headlines is the news feed.
type Headlines interface {
	Headlines(ctx context.Context, limit int) ([]news.Headline, error)
	About(ctx context.Context, limit int, keywords ...string) ([]news.Headline, error)
}

// Deps are the services commands are built on. Nil services disable the
// commands that need them.
type Deps struct {
	Store     *data.Store
	Resolver  *resolve.Resolver
	Gecko     Gecko
	MarketCap MarketCap
	News      Headlines
	NewsLimit int
	Stats     *api.Stats
}

// Registry holds all registered commands
type Registry struct {
	deps     Deps
	started  time.Time
	commands map[string]*Command
	order    []string
}

// NewRegistry registers the built-in commands.
func NewRegistry(deps Deps) *Registry {
	if deps.NewsLimit <= 0 {
		deps.NewsLimit = 5
	}

	r := &Registry{
		deps:     deps,
		started:  time.Now(),
		commands: make(map[string]*Command),
	}

	r.registerSystem()
	r.registerPrices()
	r.registerVolumes()
	r.registerInfo()

	return r
}

// Register adds a command to the registry
func (r *Registry) Register(cmd *Command) {
	if _, ok := r.commands[cmd.Name]; !ok {
		r.order = append(r.order, cmd.Name)
	}
	r.commands[cmd.Name] = cmd
}

// Get returns a command by name
func (r *Registry) Get(name string) *Command {
	return r.commands[strings.ToLower(name)]
}

// List returns all commands in registration order
func (r *Registry) List() []*Command {
	cmds := make([]*Command, 0, len(r.order))
	for _, name := range r.order {
		cmds = append(cmds, r.commands[name])
	}
	return cmds
}

// Names returns the sorted command names.
func (r *Registry) Names() []string {
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Help lists every command with its usage.
func (r *Registry) Help() string {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, cmd := range r.List() {
		usage := cmd.Usage
		if len(usage) == 0 {
			usage = "/" + cmd.Name
		}
		fmt.Fprintf(&b, "%s - %s\n", usage, cmd.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Dispatch routes a slash command to its handler. handled is false when
// the input is not a known command. Everything after the command name is
// one argument string split on spaces, so names may contain spaces.
func (r *Registry) Dispatch(ctx *Context) (string, bool) {
	input := strings.TrimSpace(ctx.Input)
	if !strings.HasPrefix(input, "/") {
		return "", false
	}

	parts := strings.Fields(input)
	name := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	cmd := r.Get(name)
	if cmd == nil {
		return "", false
	}

	log.Debug().Str("component", "command").Str("command", name).Str("author", ctx.Author).Msg("dispatch")

	result, err := cmd.Handler(ctx, parts[1:])
	if err != nil {
		log.Warn().Str("component", "command").Str("command", name).Err(err).Msg("command failed")
		return "❌ " + err.Error(), true
	}
	return result, true
}

// Execute runs a command by name without a conversation to prompt in.
func (r *Registry) Execute(ctx context.Context, name string, args []string) (string, error) {
	cmd := r.Get(name)
	if cmd == nil {
		return "", fmt.Errorf("unknown command %q", name)
	}
	return cmd.Handler(&Context{
		Context: ctx,
		Input:   "/" + name + " " + strings.Join(args, " "),
	}, args)
}
