package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// Time allowed to write a message to the client.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the client.
	pongWait = 60 * time.Second

	// Send pings to client with this period. Must be less than pongWait.
	pingPeriod = 15 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// check if the request is for websockets
func IsWebSocket(r *http.Request) bool {
	contains := func(key, val string) bool {
		vv := strings.Split(r.Header.Get(key), ",")
		for _, v := range vv {
			if val == strings.ToLower(strings.TrimSpace(v)) {
				return true
			}
		}
		return false
	}

	return contains("Connection", "upgrade") && contains("Upgrade", "websocket")
}

// ServeWebSocket streams the observer's events to the client. Text frames
// from the client are posted to the stream as the session's messages.
func (s *Server) ServeWebSocket(w http.ResponseWriter, r *http.Request, o *Observer) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Str("component", "socket").Err(err).Msg("upgrade failed")
		return
	}

	st := socket{
		ctx:      r.Context(),
		conn:     conn,
		server:   s,
		observer: o,
	}
	st.run()
}

type socket struct {
	// request context
	ctx context.Context
	// the websocket connection.
	conn *websocket.Conn
	// where client messages go
	server *Server
	// the observer
	observer *Observer
}

func (s *socket) run() {
	defer s.conn.Close()

	// to cancel everything
	stopCtx, cancel := context.WithCancel(context.Background())

	wg := sync.WaitGroup{}
	wg.Add(2)

	go s.bufToClientLoop(cancel, &wg, stopCtx)
	go s.clientToServerLoop(cancel, &wg, stopCtx)
	wg.Wait()
}

func (s *socket) clientToServerLoop(cancel context.CancelFunc, wg *sync.WaitGroup, stopCtx context.Context) {
	defer func() {
		cancel()
		wg.Done()
	}()

	s.conn.SetReadLimit(MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error { s.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		select {
		case <-stopCtx.Done():
			return
		default:
		}

		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Str("component", "socket").Err(err).Msg("read failed")
			}
			return
		}

		text := strings.TrimSpace(string(msg))
		if len(text) == 0 {
			continue
		}

		m := NewMessage(text, s.observer.Stream, s.observer.Session)
		if err := s.server.Post(stopCtx, m); err != nil {
			log.Warn().Str("component", "socket").Err(err).Msg("dropping client message")
		}
	}
}

func (s *socket) bufToClientLoop(cancel context.CancelFunc, wg *sync.WaitGroup, stopCtx context.Context) {
	defer func() {
		s.conn.Close()
		cancel()
		wg.Done()
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stopCtx.Done():
			return
		case <-s.ctx.Done():
			return
		case <-s.observer.Kill:
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg := <-s.observer.Events:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			b, _ := json.Marshal(msg)
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}
}
