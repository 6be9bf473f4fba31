// Package whatsapp bridges WhatsApp chats to the stream server. Each chat
// is a stream, each sender an author, and the bot's replies on those
// streams go back to the chat.
package whatsapp

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mdp/qrterminal/v3"
	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow"
	waproto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"coinbot.ai/server"
)

const streamPrefix = "whatsapp:"

// sender is the part of whatsmeow.Client used for replies.
type sender interface {
	SendMessage(ctx context.Context, to types.JID, message *waproto.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
}

type Bridge struct {
	server *server.Server
	db     string

	mtx   sync.Mutex
	chats map[string]types.JID

	client sender
	out    chan *server.Message
}

// New creates a bridge that keeps its device session in the sqlite file db.
func New(srv *server.Server, db string) *Bridge {
	b := &Bridge{
		server: srv,
		db:     db,
		chats:  make(map[string]types.JID),
		out:    make(chan *server.Message, 64),
	}
	srv.Tap(b.tap)
	return b
}

// Key hashes a chat id into a stream name.
func Key(id string) string {
	hasher := fnv.New128()
	hasher.Write([]byte(id))
	return fmt.Sprintf("%x", hasher.Sum(nil))
}

func (b *Bridge) streamFor(chat types.JID) string {
	stream := streamPrefix + Key(chat.String())

	b.mtx.Lock()
	b.chats[stream] = chat
	b.mtx.Unlock()

	return stream
}

func (b *Bridge) chatFor(stream string) (types.JID, bool) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	jid, ok := b.chats[stream]
	return jid, ok
}

// messageText is the plain or extended text of a message.
func messageText(m *waproto.Message) string {
	if m == nil {
		return ""
	}
	if text := m.GetConversation(); len(text) > 0 {
		return text
	}
	return m.GetExtendedTextMessage().GetText()
}

func (b *Bridge) eventHandler(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		if v.Info.IsFromMe {
			return
		}

		text := strings.TrimSpace(messageText(v.Message))
		if len(text) == 0 {
			return
		}

		stream := b.streamFor(v.Info.Chat)
		m := server.NewMessage(text, stream, v.Info.Sender.ToNonAD().String())

		log.Debug().Str("component", "whatsapp").Str("stream", stream).Msg("incoming message")

		if err := b.server.Post(context.Background(), m); err != nil {
			log.Warn().Str("component", "whatsapp").Err(err).Msg("dropping incoming message")
		}
	case *events.Connected:
		log.Info().Str("component", "whatsapp").Msg("connected")
	case *events.LoggedOut:
		log.Warn().Str("component", "whatsapp").Msg("logged out")
	}
}

// tap queues bot replies on WhatsApp streams for sending.
func (b *Bridge) tap(m *server.Message) {
	if m.Type != server.TypeReply || !strings.HasPrefix(m.Stream, streamPrefix) {
		return
	}
	select {
	case b.out <- m:
	default:
		log.Warn().Str("component", "whatsapp").Str("stream", m.Stream).Msg("outbox full, dropping reply")
	}
}

// send delivers queued replies in order until ctx is done.
func (b *Bridge) send(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-b.out:
			jid, ok := b.chatFor(m.Stream)
			if !ok || b.client == nil {
				continue
			}
			_, err := b.client.SendMessage(ctx, jid, &waproto.Message{
				Conversation: proto.String(m.Text),
			})
			if err != nil {
				log.Warn().Str("component", "whatsapp").Err(err).Msg("send failed")
			}
		}
	}
}

// Run logs in, showing a QR code on first use, and bridges messages
// until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	dbLog := waLog.Stdout("Database", "ERROR", true)
	container, err := sqlstore.New("sqlite3", "file:"+b.db+"?_foreign_keys=on", dbLog)
	if err != nil {
		return fmt.Errorf("opening whatsapp store: %w", err)
	}

	// one device per bot
	deviceStore, err := container.GetFirstDevice()
	if err != nil {
		return fmt.Errorf("loading whatsapp device: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "ERROR", true))
	client.AddEventHandler(b.eventHandler)

	if client.Store.ID == nil {
		// No ID stored, new login
		qrChan, _ := client.GetQRChannel(ctx)
		if err := client.Connect(); err != nil {
			return fmt.Errorf("connecting to whatsapp: %w", err)
		}
		for evt := range qrChan {
			if evt.Event == "code" {
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
			} else {
				log.Info().Str("component", "whatsapp").Str("event", evt.Event).Msg("login event")
			}
		}
	} else if err := client.Connect(); err != nil {
		return fmt.Errorf("connecting to whatsapp: %w", err)
	}

	b.client = client
	go b.send(ctx)

	<-ctx.Done()

	client.Disconnect()
	return nil
}
