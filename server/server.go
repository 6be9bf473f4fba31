// Package server implements the chat stream server.
//
// Streams are conversations. Every message posted to a stream is stored
// for a while and broadcast to the stream's observers. A user message is
// first offered to any prompt waiting for that user's answer; otherwise it
// goes to the handler, which runs in its own goroutine.
//
// Channels filter who sees what within a stream:
//
//	channel = ""         -> everyone on the stream
//	channel = "@session" -> only that session
package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	MaxMessageSize = 1024
	MaxMessages    = 1024
	StreamTTL      = 24 * time.Hour
)

// Message types
const (
	TypeMessage = "message" // from a user
	TypeReply   = "reply"   // from the bot
	TypeEvent   = "event"
)

var (
	ErrClosed  = errors.New("server closed")
	ErrTimeout = errors.New("timed out posting message")
)

type Stream struct {
	// A unique id
	Id string
	// Messages in the stream
	Messages []*Message
	// In nanoseconds
	Updated int64
	// In nanoseconds
	TTL int64
	// stream observers
	Observers int64
}

type Message struct {
	Id      string
	Text    string
	Type    string
	Created int64 `json:",string"`
	Stream  string
	Channel string // "" = public, "@session" = addressed
	Author  string `json:",omitempty"`
}

type Observer struct {
	Id      string
	Stream  string
	Session string // session token for channel filtering
	Events  chan *Message
	Kill    chan bool
}

// Handler answers a user message that no prompt was waiting for.
type Handler func(ctx context.Context, c *Conversation)

type Server struct {
	Created int64
	Events  chan *Message

	handler Handler

	mtx       sync.RWMutex
	streams   map[string]*Stream
	observers map[string]*Observer
	taps      []func(*Message)

	wmtx    sync.Mutex
	waiters []*waiter
}

func New(h Handler) *Server {
	return &Server{
		Created:   time.Now().UnixNano(),
		Events:    make(chan *Message, 100),
		handler:   h,
		streams:   make(map[string]*Stream),
		observers: make(map[string]*Observer),
	}
}

func NewStream(id string, ttl time.Duration) *Stream {
	return &Stream{
		Id:      id,
		Updated: time.Now().UnixNano(),
		TTL:     ttl.Nanoseconds(),
	}
}

// NewMessage is a message typed by author.
func NewMessage(text, stream, author string) *Message {
	return &Message{
		Id:      uuid.New().String(),
		Text:    text,
		Type:    TypeMessage,
		Created: time.Now().UnixNano(),
		Stream:  stream,
		Author:  author,
	}
}

// NewReply is a bot message on the stream and channel of the message it
// answers.
func NewReply(text string, to *Message) *Message {
	return &Message{
		Id:      uuid.New().String(),
		Text:    text,
		Type:    TypeReply,
		Created: time.Now().UnixNano(),
		Stream:  to.Stream,
		Channel: to.Channel,
	}
}

func NewEvent(text, stream string) *Message {
	return &Message{
		Id:      uuid.New().String(),
		Text:    text,
		Type:    TypeEvent,
		Created: time.Now().UnixNano(),
		Stream:  stream,
	}
}

func NewObserver(stream, session string) *Observer {
	return &Observer{
		Id:      uuid.New().String(),
		Events:  make(chan *Message, 8),
		Kill:    make(chan bool),
		Stream:  stream,
		Session: session,
	}
}

// Post queues a message for the run loop.
func (s *Server) Post(ctx context.Context, m *Message) error {
	if len(m.Text) > MaxMessageSize {
		m.Text = m.Text[:MaxMessageSize]
	}

	select {
	case s.Events <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Second):
		return ErrTimeout
	}
}

// Tap registers fn to see every message after it is stored. Bridges to
// other chat networks use it to pick up replies.
func (s *Server) Tap(fn func(*Message)) {
	s.mtx.Lock()
	s.taps = append(s.taps, fn)
	s.mtx.Unlock()
}

func (s *Server) Broadcast(message *Message) {
	var observers []*Observer

	s.mtx.RLock()
	for _, o := range s.observers {
		observers = append(observers, o)
	}
	taps := s.taps
	s.mtx.RUnlock()

	for _, fn := range taps {
		fn(message)
	}

	for _, o := range observers {
		// only broadcast what they care about
		if message.Stream != o.Stream {
			continue
		}
		// public or addressed to this observer's session
		if len(message.Channel) > 0 && message.Channel != "@"+o.Session {
			continue
		}
		select {
		case o.Events <- message:
		default:
		}
	}
}

func (s *Server) List() map[string]*Stream {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	// copies without the messages
	streams := make(map[string]*Stream, len(s.streams))
	for k, v := range s.streams {
		streams[k] = &Stream{
			Id:        v.Id,
			Updated:   v.Updated,
			TTL:       v.TTL,
			Observers: v.Observers,
		}
	}
	return streams
}

func (s *Server) Observe(o *Observer) {
	s.mtx.Lock()
	s.observers[o.Id] = o

	st, ok := s.streams[o.Stream]
	if !ok {
		st = NewStream(o.Stream, StreamTTL)
		s.streams[o.Stream] = st
	}
	st.Observers++

	s.mtx.Unlock()

	go func() {
		<-o.Kill
		s.mtx.Lock()
		delete(s.observers, o.Id)
		if st, ok := s.streams[o.Stream]; ok {
			st.Observers--
		}
		s.mtx.Unlock()
	}()
}

func (s *Server) Store(message *Message) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	stream, ok := s.streams[message.Stream]
	if !ok {
		stream = NewStream(message.Stream, StreamTTL)
		s.streams[stream.Id] = stream
	}

	stream.Messages = append(stream.Messages, message)
	if len(stream.Messages) > MaxMessages {
		stream.Messages = stream.Messages[1:]
	}

	stream.Updated = time.Now().UnixNano()
}

// Retrieve gets up to limit messages newer than last that session may
// see, oldest first.
func (s *Server) Retrieve(streem, session string, last, limit int64) []*Message {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	stream, ok := s.streams[streem]
	if !ok {
		return []*Message{}
	}

	li := int(limit)
	if li <= 0 {
		li = 25
	}
	channel := "@" + session

	messages := []*Message{}
	for i := len(stream.Messages) - 1; i >= 0 && len(messages) < li; i-- {
		msg := stream.Messages[i]
		if msg.Created <= last {
			break
		}
		if len(msg.Channel) == 0 || msg.Channel == channel {
			messages = append(messages, msg)
		}
	}

	// chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages
}

// Deliver routes a user message: the oldest waiting prompt that wants it
// consumes it, otherwise the handler gets it in a new goroutine.
func (s *Server) Deliver(ctx context.Context, m *Message) {
	if m.Type != TypeMessage {
		return
	}
	if s.offer(m) {
		log.Debug().Str("component", "server").Str("stream", m.Stream).Str("author", m.Author).Msg("message answered a prompt")
		return
	}
	if s.handler == nil {
		return
	}
	go s.handler(ctx, &Conversation{server: s, msg: m})
}

// Run processes posted messages and expires old streams until ctx is
// done.
func (s *Server) Run(ctx context.Context) error {
	t1 := time.NewTicker(time.Minute)
	defer t1.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeWaiters()
			return nil
		case message := <-s.Events:
			if message.Type != TypeEvent {
				s.Store(message)
			}
			s.Broadcast(message)
			s.Deliver(ctx, message)
		case <-t1.C:
			s.expire(time.Now())
		}
	}
}

func (s *Server) expire(t time.Time) {
	now := t.UnixNano()

	s.mtx.Lock()
	defer s.mtx.Unlock()

	for name, stream := range s.streams {
		// delete older than the TTL
		if now-stream.Updated > stream.TTL && stream.Observers <= 0 {
			delete(s.streams, name)
			continue
		}

		var messages []*Message
		for _, message := range stream.Messages {
			if now-message.Created > stream.TTL {
				continue
			}
			messages = append(messages, message)
		}
		stream.Messages = messages
	}
}
