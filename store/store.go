// Package store implements the durable side of the chat service on postgres:
// rooms, retained message history and user accounts all live here.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/parleyhq/parley/webchat"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	language TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS rooms (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	created_by UUID NOT NULL REFERENCES users(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
	id UUID PRIMARY KEY,
	room_id UUID NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	username TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS messages_room_created ON messages(room_id, created_at);
`

// Store provides access to rooms and messages, implementing both the hub's
// MessageStore and RoomStore contracts.
type Store struct {
	pool         *pgxpool.Pool
	historyLimit int
}

// Connect opens a pool against the passed in postgres URL and verifies it is
// reachable. historyLimit is the number of messages retained per room.
func Connect(ctx context.Context, url string, historyLimit int) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "unable to reach database")
	}
	return &Store{pool: pool, historyLimit: historyLimit}, nil
}

// Migrate creates our tables when they don't exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return errors.Wrap(err, "unable to create schema")
}

// Pool exposes the underlying connection pool so collaborators sharing the
// database (the user repository) don't open a second one.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// RoomExists reports whether the room is present in the store. Identifiers
// that aren't valid UUIDs cannot name a room and are reported as absent.
func (s *Store) RoomExists(ctx context.Context, roomID string) (bool, error) {
	id, err := uuid.Parse(roomID)
	if err != nil {
		return false, nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM rooms WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "room lookup failed")
	}
	return exists, nil
}

// History returns up to limit retained messages for the room, oldest first.
func (s *Store) History(ctx context.Context, roomID string, limit int) ([]webchat.Message, error) {
	id, err := uuid.Parse(roomID)
	if err != nil {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, content, username, created_at FROM messages
		 WHERE room_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, id, limit)
	if err != nil {
		return nil, errors.Wrap(err, "history query failed")
	}
	defer rows.Close()

	var messages []webchat.Message
	for rows.Next() {
		var msg webchat.Message
		if err := rows.Scan(&msg.ID, &msg.Content, &msg.Username, &msg.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "history scan failed")
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "history query failed")
	}

	// we fetched newest first, reverse to chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// AddMessage persists a message for the room and trims its retained history
// in the same transaction, so a concurrent history read never observes the
// inserted message without the retention bound holding.
func (s *Store) AddMessage(ctx context.Context, roomID, username, content string) (*webchat.Message, error) {
	id, err := uuid.Parse(roomID)
	if err != nil {
		return nil, errors.Errorf("invalid room id %q", roomID)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "unable to begin transaction")
	}
	defer tx.Rollback(ctx)

	msg := &webchat.Message{
		ID:        uuid.NewString(),
		Content:   content,
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, room_id, username, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, id, msg.Username, msg.Content, msg.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "message insert failed")
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM messages WHERE room_id = $1 AND id NOT IN (
			SELECT id FROM messages WHERE room_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2
		)`, id, s.historyLimit)
	if err != nil {
		return nil, errors.Wrap(err, "history trim failed")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "unable to commit transaction")
	}
	return msg, nil
}

// CreateRoom inserts a new room owned by the passed in user.
func (s *Store) CreateRoom(ctx context.Context, name, createdBy string) (*webchat.Room, error) {
	room := &webchat.Room{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rooms (id, name, created_by, created_at) VALUES ($1, $2, $3, $4)`,
		room.ID, room.Name, room.CreatedBy, room.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "room insert failed")
	}
	return room, nil
}

// GetRoom fetches a room by id, returning webchat.ErrRoomNotFound when it
// does not exist.
func (s *Store) GetRoom(ctx context.Context, roomID string) (*webchat.Room, error) {
	id, err := uuid.Parse(roomID)
	if err != nil {
		return nil, webchat.ErrRoomNotFound
	}

	room := &webchat.Room{}
	err = s.pool.QueryRow(ctx,
		`SELECT id, name, created_by, created_at FROM rooms WHERE id = $1`, id).
		Scan(&room.ID, &room.Name, &room.CreatedBy, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, webchat.ErrRoomNotFound
		}
		return nil, errors.Wrap(err, "room fetch failed")
	}
	return room, nil
}

// ListRooms returns all rooms, newest first.
func (s *Store) ListRooms(ctx context.Context) ([]webchat.Room, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, created_by, created_at FROM rooms ORDER BY created_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "room list query failed")
	}
	defer rows.Close()

	var rooms []webchat.Room
	for rows.Next() {
		var room webchat.Room
		if err := rows.Scan(&room.ID, &room.Name, &room.CreatedBy, &room.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "room scan failed")
		}
		rooms = append(rooms, room)
	}
	return rooms, errors.Wrap(rows.Err(), "room list query failed")
}

// DeleteRoom removes the room and, through the cascade, its retained history.
func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	id, err := uuid.Parse(roomID)
	if err != nil {
		return webchat.ErrRoomNotFound
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "room delete failed")
	}
	if tag.RowsAffected() == 0 {
		return webchat.ErrRoomNotFound
	}
	return nil
}
