package webchat

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// error strings surfaced to the connection as ERROR events
const (
	errRoomNotFound  = "Room not found"
	errEmptyMessage  = "Message cannot be empty"
	errNotInRoom     = "Not in a room"
	errUnknownType   = "Unknown message type"
	errInvalidFormat = "Invalid message format"
	errInternal      = "Internal error"
)

// MessageStore is the durable collaborator behind the hub. Implementations
// must return history oldest first and must trim retained history as part of
// the same transaction that inserts a message.
type MessageStore interface {
	RoomExists(ctx context.Context, roomID string) (bool, error)
	History(ctx context.Context, roomID string, limit int) ([]Message, error)
	AddMessage(ctx context.Context, roomID, username, content string) (*Message, error)
}

// Session drives the per-connection protocol: it decodes inbound frames,
// validates them against the connection's current state and turns them into
// registry mutations, store calls and broadcasts.
//
// Commands for a single connection are handled strictly sequentially by its
// read pump, so the session itself needs no locking; all cross-connection
// synchronization lives in the hub's room-scoped critical sections.
type Session struct {
	client *Client
	hub    *Hub
	store  MessageStore
	limit  int
	log    *logrus.Entry

	closeOnce sync.Once
}

// NewSession binds a connection to the hub and the message store.
func NewSession(client *Client, hub *Hub, store MessageStore, historyLimit int) *Session {
	return &Session{
		client: client,
		hub:    hub,
		store:  store,
		limit:  historyLimit,
		log:    logrus.WithField("comp", "session").WithField("user", client.Username),
	}
}

// Serve attaches an authenticated connection to the hub and pumps frames
// until the transport closes.
func Serve(conn *websocket.Conn, identity Identity, hub *Hub, store MessageStore, historyLimit int) {
	client := NewClient(conn, identity)
	session := NewSession(client, hub, store, historyLimit)
	go client.writePump()
	go client.readPump(session)
}

// Handle decodes and applies one inbound frame.
func (s *Session) Handle(rawData []byte) {
	cmd := &Command{}
	if err := json.Unmarshal(rawData, cmd); err != nil {
		s.client.deliver(ErrorEvent(errInvalidFormat))
		return
	}

	switch cmd.Type {
	case cmdJoinRoom:
		s.handleJoin(cmd.RoomID)
	case cmdLeaveRoom:
		s.handleLeave()
	case cmdSendMessage:
		s.handleSend(cmd.Content)
	default:
		s.client.deliver(ErrorEvent(errUnknownType))
	}
}

func (s *Session) handleJoin(roomID string) {
	ctx := context.Background()

	exists, err := s.store.RoomExists(ctx, roomID)
	if err != nil {
		s.log.WithError(err).Error("room lookup failed")
		s.client.deliver(ErrorEvent(errInternal))
		return
	}
	if !exists {
		s.client.deliver(ErrorEvent(errRoomNotFound))
		return
	}

	// history is read before the membership change, outside any room lock; a
	// message persisted in the same instant can land in neither the replay
	// nor the fan-out for this connection
	history, err := s.store.History(ctx, roomID, s.limit)
	if err != nil {
		s.log.WithError(err).Error("history fetch failed")
		s.client.deliver(ErrorEvent(errInternal))
		return
	}

	s.hub.Leave(s.client)
	s.hub.Join(s.client, roomID, history)
}

func (s *Session) handleLeave() {
	if s.client.Room() == "" {
		return
	}
	s.hub.Leave(s.client)
	s.client.deliver(RoomLeft())
}

func (s *Session) handleSend(content string) {
	roomID := s.client.Room()
	if roomID == "" {
		s.client.deliver(ErrorEvent(errNotInRoom))
		return
	}
	if strings.TrimSpace(content) == "" {
		s.client.deliver(ErrorEvent(errEmptyMessage))
		return
	}

	msg, err := s.store.AddMessage(context.Background(), roomID, s.client.Username, content)
	if err != nil {
		s.log.WithError(err).Error("message insert failed")
		s.client.deliver(ErrorEvent(errInternal))
		return
	}

	s.hub.BroadcastToAll(roomID, NewMessage(msg))
}

// Close runs the disconnect transition: the connection leaves its room with
// the usual side effects for the remaining members, but no ROOM_LEFT is sent
// to the departing connection. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.hub.Leave(s.client)
	})
}
