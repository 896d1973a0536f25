package webchat

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"
	"github.com/pbnjay/memory"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/parleyhq/parley/utils"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
	HandshakeTimeout: 8 * time.Second,
	CheckOrigin:      func(r *http.Request) bool { return true },
}

// Authenticator validates the opaque credential presented when a connection
// or request is established and resolves it to a stable identity.
type Authenticator interface {
	Authenticate(credential string) (Identity, error)
}

// RoomStore is the durable collaborator behind the room endpoints.
type RoomStore interface {
	CreateRoom(ctx context.Context, name, createdBy string) (*Room, error)
	GetRoom(ctx context.Context, roomID string) (*Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
	DeleteRoom(ctx context.Context, roomID string) error
}

// ErrRoomNotFound is returned by RoomStore implementations when an operation
// references a room that does not exist.
var ErrRoomNotFound = errors.New("room not found")

// ServeWS authenticates the credential passed in the token query parameter,
// upgrades the connection and hands it to the hub. Connections with a bad
// credential are refused before they ever reach the hub.
func ServeWS(hub *Hub, store MessageStore, gate Authenticator, historyLimit int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := gate.Authenticate(r.URL.Query().Get("token"))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or missing token"})
			return
		}

		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			logrus.WithField("comp", "webchat").WithError(err).Error("failed to upgrade connection")
			return
		}

		Serve(conn, identity, hub, store, historyLimit)
	}
}

// RoomAPI exposes the thin HTTP surface for creating, listing and deleting
// rooms. Deletion fans the ROOM_DELETED notice out through the hub before the
// room is removed from the store.
type RoomAPI struct {
	hub   *Hub
	store RoomStore
	gate  Authenticator
}

// NewRoomAPI creates the handler set for the room endpoints.
func NewRoomAPI(hub *Hub, store RoomStore, gate Authenticator) *RoomAPI {
	return &RoomAPI{hub: hub, store: store, gate: gate}
}

type createRoomPayload struct {
	Name string `json:"name" validate:"required,min=1,max=128"`
}

// Create handles POST /rooms.
func (a *RoomAPI) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := a.authorize(w, r)
	if !ok {
		return
	}

	payload := &createRoomPayload{}
	if err := utils.DecodeAndValidateJSON(payload, r); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	room, err := a.store.CreateRoom(r.Context(), payload.Name, identity.UserID)
	if err != nil {
		logrus.WithField("comp", "rooms").WithError(err).Error("failed to create room")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create room"})
		return
	}

	writeJSON(w, http.StatusCreated, room)
}

// List handles GET /rooms.
func (a *RoomAPI) List(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r); !ok {
		return
	}

	rooms, err := a.store.ListRooms(r.Context())
	if err != nil {
		logrus.WithField("comp", "rooms").WithError(err).Error("failed to list rooms")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list rooms"})
		return
	}
	if rooms == nil {
		rooms = []Room{}
	}

	writeJSON(w, http.StatusOK, rooms)
}

// Get handles GET /rooms/{roomID}.
func (a *RoomAPI) Get(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r); !ok {
		return
	}

	roomID := chi.URLParam(r, "roomID")
	room, err := a.store.GetRoom(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "room not found"})
			return
		}
		logrus.WithField("comp", "rooms").WithError(err).Error("failed to fetch room")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to fetch room"})
		return
	}

	writeJSON(w, http.StatusOK, room)
}

// Delete handles DELETE /rooms/{roomID}. The hub is drained first so every
// member sees the ROOM_DELETED notice before the history disappears.
func (a *RoomAPI) Delete(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r); !ok {
		return
	}

	roomID := chi.URLParam(r, "roomID")
	if _, err := a.store.GetRoom(r.Context(), roomID); err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "room not found"})
			return
		}
		logrus.WithField("comp", "rooms").WithError(err).Error("failed to fetch room")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete room"})
		return
	}

	a.hub.RemoveRoom(roomID)

	if err := a.store.DeleteRoom(r.Context(), roomID); err != nil {
		logrus.WithField("comp", "rooms").WithError(err).Error("failed to delete room")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete room"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *RoomAPI) authorize(w http.ResponseWriter, r *http.Request) (Identity, bool) {
	identity, err := a.gate.Authenticate(bearerToken(r))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or missing token"})
		return Identity{}, false
	}
	return identity, true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// Index handles GET /.
func Index(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"service": "parley", "version": version})
	}
}

type pingPayload struct {
	PID      int64  `json:"pid"`
	HostName string `json:"hostname"`
	UpTime   int64  `json:"uptime"`
	FreeMem  int64  `json:"free_mem"`
}

// Ping handles GET /ping with a minimal status readout.
func Ping(startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hostname, err := os.Hostname()
		if err != nil {
			logrus.WithField("comp", "webchat").WithError(err).Error()
			hostname = ""
		}

		writeJSON(w, http.StatusOK, &pingPayload{
			PID:      int64(os.Getpid()),
			HostName: hostname,
			UpTime:   int64(time.Since(startTime).Seconds()),
			FreeMem:  int64(memory.FreeMemory()),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithField("comp", "webchat").WithError(err).Error("failed to write response")
	}
}
