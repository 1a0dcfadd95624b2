package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/chatkit/internal/model"
)

// UpsertRoom records a room snapshot and clears any deleted mark.
func (db *DB) UpsertRoom(r model.Room) error {
	members, err := json.Marshal(r.MemberIDs)
	if err != nil {
		return fmt.Errorf("encode members: %w", err)
	}
	updated := r.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err = db.Exec(`
		INSERT INTO rooms (id, name, private, created_by, member_ids, unread_count, deleted, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			private = excluded.private,
			created_by = CASE WHEN excluded.created_by != '' THEN excluded.created_by ELSE rooms.created_by END,
			member_ids = excluded.member_ids,
			unread_count = excluded.unread_count,
			deleted = 0,
			updated_at = excluded.updated_at`,
		r.ID, r.Name, r.Private, r.CreatedByID, string(members), r.UnreadCount, updated.UnixMilli())
	return err
}

// MarkRoomDeleted hides a room from ListRooms. Its messages are kept.
func (db *DB) MarkRoomDeleted(id string) error {
	_, err := db.Exec(`UPDATE rooms SET deleted = 1, updated_at = ? WHERE id = ?`, time.Now().UnixMilli(), id)
	return err
}

// SetUnread updates a room's unread count.
func (db *DB) SetUnread(id string, n int) error {
	_, err := db.Exec(`UPDATE rooms SET unread_count = ? WHERE id = ?`, n, id)
	return err
}

const roomColumns = `id, name, private, created_by, member_ids, unread_count, updated_at`

func scanRoom(row interface{ Scan(...any) error }) (model.Room, error) {
	var (
		r       model.Room
		members string
		updated int64
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Private, &r.CreatedByID, &members, &r.UnreadCount, &updated); err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(members), &r.MemberIDs); err != nil {
		return r, fmt.Errorf("decode members of %s: %w", r.ID, err)
	}
	r.UpdatedAt = time.UnixMilli(updated)
	return r, nil
}

// ListRooms returns live rooms, most recently updated first.
func (db *DB) ListRooms(limit int) ([]model.Room, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT `+roomColumns+` FROM rooms WHERE deleted = 0 ORDER BY updated_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var rooms []model.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// GetRoom returns a live room, or nil when unknown or deleted.
func (db *DB) GetRoom(id string) (*model.Room, error) {
	r, err := scanRoom(db.QueryRow(`SELECT `+roomColumns+` FROM rooms WHERE id = ? AND deleted = 0`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
