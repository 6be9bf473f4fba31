// Package resolve maps user-typed coin names and ids to canonical ids.
//
// An exact, case-insensitive match returns immediately. Otherwise the
// closest candidates are offered to the user and one reply is awaited.
package resolve

import (
	"context"
	"strings"
	"time"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"coinbot.ai/data"
)

const (
	DefaultTimeout = 30 * time.Second
	DefaultLimit   = 3
)

// Field selects the reference table column to match against.
type Field int

const (
	ByName Field = iota
	ByID
)

func (f Field) String() string {
	if f == ByID {
		return "id"
	}
	return "name"
}

func (f Field) value(c data.Coin) string {
	if f == ByID {
		return c.ID
	}
	return c.Name
}

// Status is the outcome of a resolution.
type Status int

const (
	// NotFound means no exact match and no candidates.
	NotFound Status = iota
	// Found means Result.Coin holds the match.
	Found
	// Ambiguous means there was no exact match and no conversation to ask
	// in. Result.Candidates holds the closest matches.
	Ambiguous
	// Cancelled means the user answered q.
	Cancelled
	// TimedOut means the user did not answer in time.
	TimedOut
	// Invalid means the answer was not a listed number.
	Invalid
	// Unavailable means the reference table has not been loaded.
	Unavailable
	// Failed means the conversation itself broke; see Result.Err.
	Failed
)

var statusNames = map[Status]string{
	NotFound:    "not found",
	Found:       "found",
	Ambiguous:   "ambiguous",
	Cancelled:   "cancelled",
	TimedOut:    "timed out",
	Invalid:     "invalid",
	Unavailable: "unavailable",
	Failed:      "failed",
}

func (s Status) String() string {
	return statusNames[s]
}

// Candidate is a fuzzy match offered to the user.
type Candidate struct {
	Coin  data.Coin
	Value string
	Score float64
}

// Result is the outcome of a resolution.
type Result struct {
	Status     Status
	Coin       data.Coin
	Candidates []Candidate
	Err        error
}

// ID returns the canonical id, or "" unless the status is Found.
func (r Result) ID() string {
	if r.Status != Found {
		return ""
	}
	return r.Coin.ID
}

// Found reports whether a coin was resolved.
func (r Result) Found() bool {
	return r.Status == Found
}

// Conversation is the chat the request came from. Await returns the next
// message from the same user in the same channel. When no message arrives
// within timeout it returns an error matching context.DeadlineExceeded.
type Conversation interface {
	Reply(ctx context.Context, text string) error
	Await(ctx context.Context, timeout time.Duration) (string, error)
}

// Resolver resolves against the current snapshot of a data.Store.
type Resolver struct {
	store   *data.Store
	timeout time.Duration
	limit   int
	metric  strutil.StringMetric
}

type Option func(*Resolver)

// WithTimeout sets how long to wait for the user's choice.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLimit sets how many candidates are offered.
func WithLimit(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.limit = n
		}
	}
}

// WithMetric replaces the similarity metric.
func WithMetric(m strutil.StringMetric) Option {
	return func(r *Resolver) {
		if m != nil {
			r.metric = m
		}
	}
}

func New(store *data.Store, opts ...Option) *Resolver {
	r := &Resolver{
		store:   store,
		timeout: DefaultTimeout,
		limit:   DefaultLimit,
		metric:  metrics.NewLevenshtein(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Timeout returns how long the resolver waits for a choice.
func (r *Resolver) Timeout() time.Duration {
	return r.timeout
}

// Lookup is the exact match only. It never talks to the user.
func (r *Resolver) Lookup(field Field, text string) Result {
	t := r.store.Table()
	if t.Len() == 0 {
		return Result{Status: Unavailable}
	}
	return lookup(t, field, text)
}

// Suggest returns the closest candidates for text without asking anyone.
func (r *Resolver) Suggest(field Field, text string) []Candidate {
	return suggest(r.store.Table(), field, text, r.limit, r.metric)
}

// Resolve tries an exact match and falls back to asking the user to pick
// one of the closest candidates. With a nil conv the candidates are
// returned as Ambiguous instead.
func (r *Resolver) Resolve(ctx context.Context, field Field, text string, conv Conversation) Result {
	// one snapshot for the whole exchange, even if a refresh lands meanwhile
	t := r.store.Table()
	if t.Len() == 0 {
		return Result{Status: Unavailable}
	}

	if res := lookup(t, field, text); res.Found() {
		return res
	}

	candidates := suggest(t, field, text, r.limit, r.metric)
	if len(candidates) == 0 {
		return Result{Status: NotFound}
	}

	if conv == nil {
		return Result{Status: Ambiguous, Candidates: candidates}
	}

	return r.choose(ctx, conv, newPrompt(field, text, candidates))
}

// ResolveByName resolves against coin names.
func (r *Resolver) ResolveByName(ctx context.Context, text string, conv Conversation) Result {
	return r.Resolve(ctx, ByName, text, conv)
}

// ResolveByID resolves against coin ids.
func (r *Resolver) ResolveByID(ctx context.Context, text string, conv Conversation) Result {
	return r.Resolve(ctx, ByID, text, conv)
}

func lookup(t *data.Table, field Field, text string) Result {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return Result{Status: NotFound}
	}

	var (
		c  data.Coin
		ok bool
	)
	if field == ByID {
		c, ok = t.ByID(text)
	} else {
		c, ok = t.ByName(text)
	}
	if !ok {
		return Result{Status: NotFound}
	}

	return Result{Status: Found, Coin: c}
}
