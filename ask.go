package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"coinbot.ai/command"
)

var askCmd = &cobra.Command{
	Use:   "ask <text...>",
	Short: "Run one command in the terminal, e.g. coinbot ask /vol24 bitcoin",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		text := strings.Join(args, " ")
		if !strings.HasPrefix(text, "/") {
			text = "/" + text
		}
		return ask(ctx, text, os.Stdin, cmd.OutOrStdout())
	},
}

func ask(ctx context.Context, text string, in io.Reader, out io.Writer) error {
	svc := newServices(cfg)
	if err := svc.store.Refresh(ctx, svc.gecko); err != nil {
		// commands that need the coin list say so themselves
		fmt.Fprintf(out, "⚠️ %v\n", err)
	}

	b := &bot{
		registry: svc.registry,
		agent:    newAgent(cfg, svc.registry),
	}
	return b.ask(ctx, text, newTerminal(in, out), out)
}

// ask answers one input on the terminal.
func (b *bot) ask(ctx context.Context, text string, term *terminal, out io.Writer) error {
	result, handled := b.registry.Dispatch(&command.Context{
		Context: ctx,
		Conv:    term,
		Author:  "terminal",
		Input:   text,
	})
	if !handled {
		if b.agent == nil {
			return fmt.Errorf("unknown command %q, try /help", strings.Fields(text)[0])
		}
		answer, err := b.agent.Prompt(ctx, nil, strings.TrimPrefix(text, "/"))
		if err != nil {
			return err
		}
		result = answer
	}
	if len(result) > 0 {
		fmt.Fprintln(out, result)
	}
	return nil
}

// terminal is a conversation on stdin and stdout.
type terminal struct {
	out   io.Writer
	lines chan string

	once sync.Once
	in   *bufio.Scanner
}

func newTerminal(in io.Reader, out io.Writer) *terminal {
	return &terminal{
		out:   out,
		lines: make(chan string),
		in:    bufio.NewScanner(in),
	}
}

func (t *terminal) Reply(ctx context.Context, text string) error {
	_, err := fmt.Fprintln(t.out, text)
	return err
}

// Await reads the next line. The reader runs until input ends so a line
// typed after a timeout is not lost to the next prompt.
func (t *terminal) Await(ctx context.Context, timeout time.Duration) (string, error) {
	t.once.Do(func() {
		go func() {
			defer close(t.lines)
			for t.in.Scan() {
				t.lines <- t.in.Text()
			}
		}()
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case line, ok := <-t.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-timer.C:
		return "", fmt.Errorf("no answer within %s: %w", timeout, context.DeadlineExceeded)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
