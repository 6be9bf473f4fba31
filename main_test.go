package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"coinbot.ai/agent"
	"coinbot.ai/api"
	"coinbot.ai/command"
	"coinbot.ai/data"
	"coinbot.ai/resolve"
	"coinbot.ai/server"
)

type fakeGecko struct {
	asked []string
}

func (g *fakeGecko) SimplePrice(ctx context.Context, id string) (api.SimplePrice, error) {
	g.asked = append(g.asked, id)
	if id != "bitcoin" {
		return api.SimplePrice{}, api.ErrNotFound
	}
	return api.SimplePrice{
		USD:       decimal.NewNullDecimal(decimal.RequireFromString("67000.5")),
		Volume24h: decimal.NewNullDecimal(decimal.RequireFromString("31415926535.897")),
	}, nil
}

func (g *fakeGecko) Market(ctx context.Context, id string) (api.Market, error) {
	return api.Market{}, api.ErrNotFound
}

func (g *fakeGecko) Info(ctx context.Context, id string) (api.Info, error) {
	return api.Info{}, api.ErrNotFound
}

type fakePrompter struct {
	history []agent.Message
	prompt  string
}

func (p *fakePrompter) Prompt(ctx context.Context, history []agent.Message, userPrompt string) (string, error) {
	p.history = history
	p.prompt = userPrompt
	return "42", nil
}

func newBot(t *testing.T) (*bot, *fakeGecko) {
	t.Helper()

	tbl, err := data.NewTable([]data.Coin{
		{ID: "bitcoin", Name: "Bitcoin", Symbol: "btc"},
		{ID: "ethereum", Name: "Ethereum", Symbol: "eth"},
	})
	if err != nil {
		t.Fatal(err)
	}
	store := data.NewStore()
	store.Swap(tbl)

	gecko := &fakeGecko{}
	reg := command.NewRegistry(command.Deps{
		Store:    store,
		Resolver: resolve.New(store, resolve.WithTimeout(time.Second)),
		Gecko:    gecko,
	})
	return &bot{registry: reg}, gecko
}

func next(t *testing.T, srv *server.Server) *server.Message {
	t.Helper()
	select {
	case m := <-srv.Events:
		return m
	case <-time.After(time.Second):
		t.Fatal("no message posted")
		return nil
	}
}

func TestTerminalAwait(t *testing.T) {
	var out bytes.Buffer
	term := newTerminal(strings.NewReader("2\n"), &out)

	line, err := term.Await(context.Background(), time.Second)
	if err != nil || line != "2" {
		t.Fatalf("got %q, %v, want %q", line, err, "2")
	}
	if _, err := term.Await(context.Background(), time.Second); !errors.Is(err, io.EOF) {
		t.Errorf("got %v, want EOF", err)
	}

	if err := term.Reply(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	if out.String() != "hello\n" {
		t.Errorf("got %q, want %q", out.String(), "hello\n")
	}
}

func TestTerminalTimeout(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	term := newTerminal(r, io.Discard)
	_, err := term.Await(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want deadline exceeded", err)
	}
}

func TestAskInteractive(t *testing.T) {
	b, gecko := newBot(t)

	var out bytes.Buffer
	term := newTerminal(strings.NewReader("1\n"), &out)
	if err := b.ask(context.Background(), "/vol24 bitcon", term, &out); err != nil {
		t.Fatal(err)
	}

	got := out.String()
	if !strings.Contains(got, "1. Bitcoin (BTC)") {
		t.Errorf("prompt missing from output:\n%s", got)
	}
	if !strings.Contains(got, "$31,415,926,535.90") {
		t.Errorf("volume missing from output:\n%s", got)
	}
	if len(gecko.asked) != 1 || gecko.asked[0] != "bitcoin" {
		t.Errorf("asked CoinGecko for %v, want [bitcoin]", gecko.asked)
	}
}

func TestAskUnknownWithoutAgent(t *testing.T) {
	b, _ := newBot(t)

	err := b.ask(context.Background(), "/moon", newTerminal(strings.NewReader(""), io.Discard), io.Discard)
	if err == nil || !strings.Contains(err.Error(), "/moon") {
		t.Errorf("got %v, want unknown command error", err)
	}
}

func TestHandle(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		agent bool
		want  string
	}{
		{"command", "/hello", false, "hi"},
		{"unknown command", "/moon", false, "Unknown command. Try /help"},
		{"free text goes to the agent", "what is bitcoin?", true, "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newBot(t)
			if tt.agent {
				b.agent = &fakePrompter{}
			}
			srv := server.New(b.handle)
			b.srv = srv

			conv := srv.NewConversation(server.NewMessage(tt.text, "s", "alice"))
			b.handle(context.Background(), conv)

			m := next(t, srv)
			if m.Type != server.TypeReply || m.Text != tt.want || m.Stream != "s" {
				t.Errorf("got %s %q on %q, want reply %q on s", m.Type, m.Text, m.Stream, tt.want)
			}
		})
	}
}

func TestHandleIgnoresChatter(t *testing.T) {
	b, _ := newBot(t)
	srv := server.New(b.handle)
	b.srv = srv

	b.handle(context.Background(), srv.NewConversation(server.NewMessage("gm everyone", "s", "alice")))

	select {
	case m := <-srv.Events:
		t.Errorf("unexpected reply %q", m.Text)
	default:
	}
}

func TestHistory(t *testing.T) {
	b, _ := newBot(t)
	p := &fakePrompter{}
	b.agent = p
	srv := server.New(b.handle)
	b.srv = srv

	first := server.NewMessage("/hello", "s", "alice")
	srv.Store(first)
	srv.Store(server.NewReply("hi", first))
	srv.Store(server.NewMessage("unrelated", "s", "bob"))

	current := server.NewMessage("and you?", "s", "alice")
	srv.Store(current)

	b.handle(context.Background(), srv.NewConversation(current))
	next(t, srv)

	want := []agent.Message{
		{Role: "user", Content: "/hello"},
		{Role: "assistant", Content: "hi"},
	}
	if len(p.history) != len(want) {
		t.Fatalf("got %d history messages %v, want %v", len(p.history), p.history, want)
	}
	for i := range want {
		if p.history[i] != want[i] {
			t.Errorf("history[%d] = %v, want %v", i, p.history[i], want[i])
		}
	}
	if p.prompt != "and you?" {
		t.Errorf("prompt %q, want %q", p.prompt, "and you?")
	}
}
