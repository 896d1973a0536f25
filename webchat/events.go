package webchat

import (
	"encoding/json"
	"time"
)

// Inbound command types.
const (
	cmdJoinRoom    = "JOIN_ROOM"
	cmdLeaveRoom   = "LEAVE_ROOM"
	cmdSendMessage = "SEND_MESSAGE"
)

// Outbound event types.
const (
	evtRoomJoined  = "ROOM_JOINED"
	evtRoomLeft    = "ROOM_LEFT"
	evtNewMessage  = "NEW_MESSAGE"
	evtUserJoined  = "USER_JOINED"
	evtUserLeft    = "USER_LEFT"
	evtRoomDeleted = "ROOM_DELETED"
	evtError       = "ERROR"
)

// Command is a decoded inbound frame. The type tag decides which of the other
// fields are meaningful.
type Command struct {
	Type    string `json:"type"`
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

// Message is a chat message as it appears on the wire and in history replays.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// Room describes a named room as returned by the room endpoints.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

type roomJoinedEvent struct {
	Type     string    `json:"type"`
	RoomID   string    `json:"roomId"`
	Messages []Message `json:"messages"`
}

type roomLeftEvent struct {
	Type string `json:"type"`
}

type newMessageEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message"`
}

type userEvent struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

type roomDeletedEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// the event shapes above cannot fail to marshal
func mustMarshal(v interface{}) []byte {
	payload, _ := json.Marshal(v)
	return payload
}

// RoomJoined is sent to a connection that just joined a room, carrying the
// retained history oldest first.
func RoomJoined(roomID string, history []Message) []byte {
	if history == nil {
		history = []Message{}
	}
	return mustMarshal(&roomJoinedEvent{Type: evtRoomJoined, RoomID: roomID, Messages: history})
}

// RoomLeft is sent to a connection that just left its room.
func RoomLeft() []byte {
	return mustMarshal(&roomLeftEvent{Type: evtRoomLeft})
}

// NewMessage is fanned out to every member of a room, sender included.
func NewMessage(msg *Message) []byte {
	return mustMarshal(&newMessageEvent{Type: evtNewMessage, Message: msg})
}

// UserJoined tells the existing members of a room who just joined.
func UserJoined(username string) []byte {
	return mustMarshal(&userEvent{Type: evtUserJoined, Username: username})
}

// UserLeft tells the remaining members of a room who just left.
func UserLeft(username string) []byte {
	return mustMarshal(&userEvent{Type: evtUserLeft, Username: username})
}

// RoomDeleted tells the members of a deleted room that it is gone.
func RoomDeleted(roomID string) []byte {
	return mustMarshal(&roomDeletedEvent{Type: evtRoomDeleted, RoomID: roomID})
}

// ErrorEvent reports a rejected command back to the connection that issued it.
func ErrorEvent(message string) []byte {
	return mustMarshal(&errorEvent{Type: evtError, Message: message})
}
