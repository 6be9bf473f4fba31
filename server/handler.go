package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	defaultStream     = "~"
	sessionCookieName = "coinbot_session"
)

// Helper lists the available commands.
type Helper interface {
	Help() string
}

// Routes returns the HTTP surface of the server.
func (s *Server) Routes(help Helper) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /messages", s.PostHandler)
	mux.HandleFunc("GET /messages", s.GetHandler)
	mux.HandleFunc("GET /events", s.GetEvents)
	mux.HandleFunc("GET /streams", s.GetStreamsHandler)
	mux.HandleFunc("GET /commands", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(help.Help()))
	})

	return WithCors(mux)
}

// getSessionToken returns the session cookie, setting a new one if absent.
func getSessionToken(w http.ResponseWriter, r *http.Request) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && len(cookie.Value) > 0 {
		return cookie.Value
	}

	b := make([]byte, 16)
	rand.Read(b)
	token := hex.EncodeToString(b)

	// secure behind an https proxy too
	isSecure := r.Header.Get("X-Forwarded-Proto") == "https" || r.TLS != nil
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
	})

	return token
}

func formStream(r *http.Request) string {
	stream := r.Form.Get("stream")
	if len(stream) == 0 {
		return defaultStream
	}
	return stream
}

// PostHandler accepts a user message. The author is the form's author
// field or else the session.
func (s *Server) PostHandler(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()

	text := strings.TrimSpace(r.Form.Get("text"))
	if len(text) == 0 {
		http.Error(w, "Message cannot be blank", http.StatusBadRequest)
		return
	}

	author := r.Form.Get("author")
	if len(author) == 0 {
		author = getSessionToken(w, r)
	}

	m := NewMessage(text, formStream(r), author)
	if err := s.Post(r.Context(), m); err != nil {
		log.Warn().Str("component", "server").Err(err).Msg("post failed")
		http.Error(w, "Timed out creating message", http.StatusGatewayTimeout)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}

func (s *Server) GetHandler(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()

	last, err := strconv.ParseInt(r.Form.Get("last"), 10, 64)
	if err != nil {
		last = 0
	}

	limit, err := strconv.ParseInt(r.Form.Get("limit"), 10, 64)
	if err != nil {
		limit = 25
	}

	session := getSessionToken(w, r)
	messages := s.Retrieve(formStream(r), session, last, limit)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(messages)
}

// GetEvents streams messages as server-sent events, or over a websocket
// when the client asks for an upgrade.
func (s *Server) GetEvents(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()

	o := NewObserver(formStream(r), getSessionToken(w, r))
	defer close(o.Kill)

	s.Observe(o)

	if IsWebSocket(r) {
		s.ServeWebSocket(w, r, o)
		return
	}

	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Content-Type", "text/event-stream")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	for {
		select {
		case message := <-o.Events:
			b, _ := json.Marshal(message)
			fmt.Fprintf(w, "data: %v\n\n", string(b))

			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) GetStreamsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.List())
}

func SetHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func WithCors(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetHeaders(w, r)

		// if options return immediately
		if r.Method == http.MethodOptions {
			return
		}

		h.ServeHTTP(w, r)
	})
}
