package resolve

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// state of one interactive selection
type state int

const (
	awaitingSelection state = iota
	resolved
	cancelled
	timedOut
	invalid
)

// prompt is a single "did you mean" exchange. It leaves
// awaitingSelection exactly once.
type prompt struct {
	field      Field
	query      string
	candidates []Candidate
	state      state
	choice     int
}

func newPrompt(field Field, query string, candidates []Candidate) *prompt {
	return &prompt{
		field:      field,
		query:      query,
		candidates: candidates,
	}
}

func (p *prompt) answer(reply string) {
	if p.state != awaitingSelection {
		return
	}

	reply = strings.TrimSpace(reply)
	if strings.EqualFold(reply, "q") {
		p.state = cancelled
		return
	}

	n, err := strconv.Atoi(reply)
	if err != nil || n < 1 || n > len(p.candidates) {
		p.state = invalid
		return
	}

	p.choice = n - 1
	p.state = resolved
}

func (p *prompt) expire() {
	if p.state == awaitingSelection {
		p.state = timedOut
	}
}

func (p *prompt) result() Result {
	switch p.state {
	case resolved:
		return Result{Status: Found, Coin: p.candidates[p.choice].Coin, Candidates: p.candidates}
	case cancelled:
		return Result{Status: Cancelled, Candidates: p.candidates}
	case timedOut:
		return Result{Status: TimedOut, Candidates: p.candidates}
	case invalid:
		return Result{Status: Invalid, Candidates: p.candidates}
	}
	return Result{Status: NotFound, Candidates: p.candidates}
}

func (p *prompt) text() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Sorry, I didn't find a match for '%s'. Perhaps you meant one of these?\n", p.query)
	for i, c := range p.candidates {
		label := c.Coin.Name
		if p.field == ByID {
			label = c.Coin.ID
		}
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, label, strings.ToUpper(c.Coin.Symbol))
	}
	b.WriteString("Enter the number of your choice, or 'q' to quit.")

	return b.String()
}

// notice is what the user is told once the prompt has ended, if anything.
func (p *prompt) notice(timeout time.Duration) string {
	switch p.state {
	case timedOut:
		return fmt.Sprintf("⏱️ No answer within %s. Quitting.", timeout)
	case cancelled:
		return "Quitting."
	case invalid:
		return "❌ Invalid input. Quitting."
	}
	return ""
}

func (r *Resolver) choose(ctx context.Context, conv Conversation, p *prompt) Result {
	if err := conv.Reply(ctx, p.text()); err != nil {
		return Result{Status: Failed, Candidates: p.candidates, Err: fmt.Errorf("sending candidates: %w", err)}
	}

	reply, err := conv.Await(ctx, r.timeout)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		p.expire()
	case err != nil:
		return Result{Status: Failed, Candidates: p.candidates, Err: fmt.Errorf("awaiting choice: %w", err)}
	default:
		p.answer(reply)
	}

	if notice := p.notice(r.timeout); len(notice) > 0 {
		if err := conv.Reply(ctx, notice); err != nil {
			log.Warn().Str("component", "resolve").Err(err).Msg("sending notice failed")
		}
	}

	log.Debug().Str("component", "resolve").Str("field", p.field.String()).Str("query", p.query).
		Str("outcome", p.result().Status.String()).Msg("interactive selection finished")

	return p.result()
}
