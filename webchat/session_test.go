package webchat

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory MessageStore which trims retained history the way
// the real store does, inside the insert.
type fakeStore struct {
	rooms    map[string]bool
	messages map[string][]Message
	limit    int
	inserts  int
	failWith error
}

func newFakeStore(limit int, rooms ...string) *fakeStore {
	s := &fakeStore{
		rooms:    make(map[string]bool),
		messages: make(map[string][]Message),
		limit:    limit,
	}
	for _, room := range rooms {
		s.rooms[room] = true
	}
	return s
}

func (s *fakeStore) RoomExists(_ context.Context, roomID string) (bool, error) {
	if s.failWith != nil {
		return false, s.failWith
	}
	return s.rooms[roomID], nil
}

func (s *fakeStore) History(_ context.Context, roomID string, limit int) ([]Message, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}
	history := s.messages[roomID]
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return append([]Message(nil), history...), nil
}

func (s *fakeStore) AddMessage(_ context.Context, roomID, username, content string) (*Message, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}
	s.inserts++
	msg := Message{
		ID:        fmt.Sprintf("msg-%d", s.inserts),
		Content:   content,
		Username:  username,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, s.inserts, time.UTC),
	}
	history := append(s.messages[roomID], msg)
	if len(history) > s.limit {
		history = history[len(history)-s.limit:]
	}
	s.messages[roomID] = history
	return &msg, nil
}

func command(t *testing.T, cmdType, roomID, content string) []byte {
	t.Helper()
	payload, err := json.Marshal(&Command{Type: cmdType, RoomID: roomID, Content: content})
	require.NoError(t, err)
	return payload
}

func newTestSession(hub *Hub, store MessageStore, username string) (*Session, *Client) {
	client := newTestClient(username)
	return NewSession(client, hub, store, 50), client
}

func TestJoinEmptyRoom(t *testing.T) {
	hub := NewHub()
	store := newFakeStore(50, "general")
	session, alice := newTestSession(hub, store, "alice")

	session.Handle(command(t, cmdJoinRoom, "general", ""))

	event := nextEvent(t, alice)
	assert.Equal(t, "ROOM_JOINED", event["type"])
	assert.Equal(t, "general", event["roomId"])
	assert.Equal(t, []interface{}{}, event["messages"], "empty history must replay as an empty array")
	assert.Empty(t, eventTypes(alice))
}

func TestJoinAnnouncesToExistingMembers(t *testing.T) {
	hub := NewHub()
	store := newFakeStore(50, "general")
	sessionA, alice := newTestSession(hub, store, "alice")
	sessionB, bob := newTestSession(hub, store, "bob")

	sessionA.Handle(command(t, cmdJoinRoom, "general", ""))
	eventTypes(alice)

	sessionB.Handle(command(t, cmdJoinRoom, "general", ""))

	joined := nextEvent(t, bob)
	assert.Equal(t, "ROOM_JOINED", joined["type"])

	announce := nextEvent(t, alice)
	assert.Equal(t, "USER_JOINED", announce["type"])
	assert.Equal(t, "bob", announce["username"])
}

func TestJoinUnknownRoom(t *testing.T) {
	hub := NewHub()
	store := newFakeStore(50, "general")
	session, alice := newTestSession(hub, store, "alice")

	session.Handle(command(t, cmdJoinRoom, "lounge", ""))

	event := nextEvent(t, alice)
	assert.Equal(t, "ERROR", event["type"])
	assert.Equal(t, "Room not found", event["message"])
	assert.Empty(t, alice.Room(), "failed join must leave the state unchanged")
}

func TestJoinSwitchesRooms(t *testing.T) {
	hub := NewHub()
	store := newFakeStore(50, "general", "random")
	sessionA, alice := newTestSession(hub, store, "alice")
	sessionB, bob := newTestSession(hub, store, "bob")

	sessionA.Handle(command(t, cmdJoinRoom, "general", ""))
	sessionB.Handle(command(t, cmdJoinRoom, "general", ""))
	eventTypes(alice)
	eventTypes(bob)

	sessionB.Handle(command(t, cmdJoinRoom, "random", ""))

	assert.Equal(t, "random", bob.Room())
	assert.Equal(t, 1, hub.MemberCount("general"))
	assert.Equal(t, 1, hub.MemberCount("random"))
	assert.Equal(t, []string{"USER_LEFT"}, eventTypes(alice), "implicit leave must announce to the old room")
	assert.Equal(t, []string{"ROOM_JOINED"}, eventTypes(bob), "implicit leave must not send ROOM_LEFT")
}

func TestJoinReplaysHistoryInOrder(t *testing.T) {
	hub := NewHub()
	store := newFakeStore(50, "general")
	for i := 0; i < 5; i++ {
		_, err := store.AddMessage(context.Background(), "general", "alice", fmt.Sprintf("hello %d", i))
		require.NoError(t, err)
	}

	session, bob := newTestSession(hub, store, "bob")
	session.Handle(command(t, cmdJoinRoom, "general", ""))

	event := nextEvent(t, bob)
	require.Equal(t, "ROOM_JOINED", event["type"])
	messages, ok := event["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, messages, 5)
	for i, raw := range messages {
		msg := raw.(map[string]interface{})
		assert.Equal(t, fmt.Sprintf("hello %d", i), msg["content"], "history must replay oldest first")
	}
}

func TestSendFansOutToAllMembers(t *testing.T) {
	hub := NewHub()
	store := newFakeStore(50, "general")
	sessionA, alice := newTestSession(hub, store, "alice")
	sessionB, bob := newTestSession(hub, store, "bob")

	sessionA.Handle(command(t, cmdJoinRoom, "general", ""))
	sessionB.Handle(command(t, cmdJoinRoom, "general", ""))
	eventTypes(alice)
	eventTypes(bob)

	sessionA.Handle(command(t, cmdSendMessage, "", "hi"))

	for _, client := range []*Client{alice, bob} {
		event := nextEvent(t, client)
		require.Equal(t, "NEW_MESSAGE", event["type"])
		msg := event["message"].(map[string]interface{})
		assert.Equal(t, "hi", msg["content"])
		assert.Equal(t, "alice", msg["username"])
	}
}

func TestSendBlankMessage(t *testing.T) {
	hub := NewHub()
	store := newFakeStore(50, "general")
	session, alice := newTestSession(hub, store, "alice")

	session.Handle(command(t, cmdJoinRoom, "general", ""))
	eventTypes(alice)

	session.Handle(command(t, cmdSendMessage, "", "   "))

	event := nextEvent(t, alice)
	assert.Equal(t, "ERROR", event["type"])
	assert.Equal(t, "Message cannot be empty", event["message"])
	assert.Zero(t, store.inserts, "blank messages must not be persisted")
}

func TestSendWhileUnjoined(t *testing.T) {
	hub := NewHub()
	store := newFakeStore(50, "general")
	session, alice := newTestSession(hub, store, "alice")

	session.Handle(command(t, cmdSendMessage, "", "hi"))

	event := nextEvent(t, alice)
	assert.Equal(t, "ERROR", event["type"])
	assert.Equal(t, "Not in a room", event["message"])
}

func TestLeaveRoom(t *testing.T) {
	hub := NewHub()
	store := newFakeStore(50, "general")
	sessionA, alice := newTestSession(hub, store, "alice")
	sessionB, bob := newTestSession(hub, store, "bob")

	sessionA.Handle(command(t, cmdJoinRoom, "general", ""))
	sessionB.Handle(command(t, cmdJoinRoom, "general", ""))
	eventTypes(alice)
	eventTypes(bob)

	sessionA.Handle(command(t, cmdLeaveRoom, "", ""))

	assert.Equal(t, []string{"ROOM_LEFT"}, eventTypes(alice))
	assert.Equal(t, []string{"USER_LEFT"}, eventTypes(bob))
	assert.Empty(t, alice.Room())

	// leaving again is a silent no-op
	sessionA.Handle(command(t, cmdLeaveRoom, "", ""))
	assert.Empty(t, eventTypes(alice))
	assert.Empty(t, eventTypes(bob))
}

func TestRoomDeletionForcesUnjoined(t *testing.T) {
	hub := NewHub()
	store := newFakeStore(50, "general")
	sessionA, alice := newTestSession(hub, store, "alice")
	sessionB, bob := newTestSession(hub, store, "bob")

	sessionA.Handle(command(t, cmdJoinRoom, "general", ""))
	sessionB.Handle(command(t, cmdJoinRoom, "general", ""))
	eventTypes(alice)
	eventTypes(bob)

	hub.RemoveRoom("general")

	for _, client := range []*Client{alice, bob} {
		event := nextEvent(t, client)
		assert.Equal(t, "ROOM_DELETED", event["type"])
		assert.Equal(t, "general", event["roomId"])
	}

	sessionA.Handle(command(t, cmdSendMessage, "", "anyone?"))
	event := nextEvent(t, alice)
	assert.Equal(t, "ERROR", event["type"])
	assert.Equal(t, "Not in a room", event["message"])
}

func TestTransportClose(t *testing.T) {
	hub := NewHub()
	store := newFakeStore(50, "general")
	sessionA, alice := newTestSession(hub, store, "alice")
	sessionB, bob := newTestSession(hub, store, "bob")

	sessionA.Handle(command(t, cmdJoinRoom, "general", ""))
	sessionB.Handle(command(t, cmdJoinRoom, "general", ""))
	eventTypes(alice)
	eventTypes(bob)

	sessionA.Close()
	sessionA.Close()

	assert.Equal(t, []string{"USER_LEFT"}, eventTypes(bob), "close must announce exactly once")
	assert.Empty(t, eventTypes(alice), "the departing connection gets no ROOM_LEFT")
	assert.Empty(t, alice.Room())
	assert.Equal(t, 1, hub.MemberCount("general"))
}

func TestMalformedFrames(t *testing.T) {
	hub := NewHub()
	store := newFakeStore(50, "general")
	session, alice := newTestSession(hub, store, "alice")

	tcs := []struct {
		name    string
		rawData []byte
		message string
	}{
		{"not json", []byte("hello there"), "Invalid message format"},
		{"unknown type", []byte(`{"type": "SHOUT"}`), "Unknown message type"},
		{"missing type", []byte(`{"roomId": "general"}`), "Unknown message type"},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			session.Handle(tc.rawData)
			event := nextEvent(t, alice)
			assert.Equal(t, "ERROR", event["type"])
			assert.Equal(t, tc.message, event["message"])
			assert.Empty(t, alice.Room(), "bad frames must leave the state unchanged")
		})
	}
}

func TestStoreFailuresAreNotFatal(t *testing.T) {
	hub := NewHub()
	store := newFakeStore(50, "general")
	session, alice := newTestSession(hub, store, "alice")

	session.Handle(command(t, cmdJoinRoom, "general", ""))
	eventTypes(alice)

	store.failWith = errors.New("connection refused")
	session.Handle(command(t, cmdSendMessage, "", "hi"))

	event := nextEvent(t, alice)
	assert.Equal(t, "ERROR", event["type"])
	assert.Equal(t, "Internal error", event["message"])
	assert.Equal(t, "general", alice.Room(), "store failures must not change protocol state")
}

func TestRetentionBound(t *testing.T) {
	store := newFakeStore(3, "general")
	for i := 0; i < 4; i++ {
		_, err := store.AddMessage(context.Background(), "general", "alice", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	history, err := store.History(context.Background(), "general", 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "m1", history[0].Content, "oldest message beyond the bound must be gone")
	assert.Equal(t, "m3", history[2].Content)
}
