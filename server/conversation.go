package server

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// waiter is a prompt waiting for one message.
type waiter struct {
	id    string
	match func(*Message) bool
	ch    chan *Message
}

// offer hands m to the first registered waiter that matches.
func (s *Server) offer(m *Message) bool {
	s.wmtx.Lock()
	defer s.wmtx.Unlock()

	for i, w := range s.waiters {
		if !w.match(m) {
			continue
		}
		s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
		w.ch <- m
		return true
	}
	return false
}

func (s *Server) remove(id string) {
	s.wmtx.Lock()
	defer s.wmtx.Unlock()

	for i, w := range s.waiters {
		if w.id == id {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

func (s *Server) closeWaiters() {
	s.wmtx.Lock()
	defer s.wmtx.Unlock()

	for _, w := range s.waiters {
		close(w.ch)
	}
	s.waiters = nil
}

// Wait blocks until a message matching match is delivered. Messages that
// don't match go on to other waiters or the handler. After timeout it
// returns an error wrapping context.DeadlineExceeded.
func (s *Server) Wait(ctx context.Context, match func(*Message) bool, timeout time.Duration) (*Message, error) {
	w := &waiter{
		id:    uuid.New().String(),
		match: match,
		ch:    make(chan *Message, 1),
	}

	s.wmtx.Lock()
	s.waiters = append(s.waiters, w)
	s.wmtx.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case m, ok := <-w.ch:
		if !ok {
			return nil, ErrClosed
		}
		return m, nil
	case <-t.C:
		if m, ok := s.withdraw(w); ok {
			return m, nil
		}
		return nil, fmt.Errorf("no reply within %s: %w", timeout, context.DeadlineExceeded)
	case <-ctx.Done():
		if m, ok := s.withdraw(w); ok {
			return m, nil
		}
		return nil, ctx.Err()
	}
}

// withdraw unregisters w. A message offered to w just before is returned
// rather than lost, since offer has already consumed it.
func (s *Server) withdraw(w *waiter) (*Message, bool) {
	s.remove(w.id)

	select {
	case m, ok := <-w.ch:
		return m, ok
	default:
		return nil, false
	}
}

// Pending is the number of prompts waiting for an answer.
func (s *Server) Pending() int {
	s.wmtx.Lock()
	defer s.wmtx.Unlock()
	return len(s.waiters)
}

// Conversation is the exchange started by one user message.
type Conversation struct {
	server *Server
	msg    *Message
}

// NewConversation wraps m for callers outside the run loop.
func (s *Server) NewConversation(m *Message) *Conversation {
	return &Conversation{server: s, msg: m}
}

func (c *Conversation) Text() string {
	return c.msg.Text
}

func (c *Conversation) Author() string {
	return c.msg.Author
}

func (c *Conversation) Stream() string {
	return c.msg.Stream
}

func (c *Conversation) Message() *Message {
	return c.msg
}

// Reply posts text to the stream the message came from.
func (c *Conversation) Reply(ctx context.Context, text string) error {
	return c.server.Post(ctx, NewReply(text, c.msg))
}

// Await returns the next message from the same author on the same
// stream.
func (c *Conversation) Await(ctx context.Context, timeout time.Duration) (string, error) {
	m, err := c.server.Wait(ctx, func(m *Message) bool {
		return m.Type == TypeMessage && m.Author == c.msg.Author && m.Stream == c.msg.Stream
	}, timeout)
	if err != nil {
		return "", err
	}
	return m.Text, nil
}
