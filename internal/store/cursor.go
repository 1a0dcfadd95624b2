package store

import (
	"time"

	"github.com/matheus3301/chatkit/internal/model"
)

// UpsertCursor records the latest cursor of (user, room).
func (db *DB) UpsertCursor(c model.Cursor) error {
	updated := c.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO cursors (user_id, room_id, position, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, room_id) DO UPDATE SET
			position = excluded.position,
			updated_at = excluded.updated_at`,
		c.UserID, c.RoomID, c.Position, updated.UnixMilli())
	return err
}

// ListCursors returns every cursor recorded for a room.
func (db *DB) ListCursors(roomID string) ([]model.Cursor, error) {
	rows, err := db.Query(`SELECT user_id, room_id, position, updated_at FROM cursors WHERE room_id = ? ORDER BY user_id`, roomID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var cursors []model.Cursor
	for rows.Next() {
		var (
			c       model.Cursor
			updated int64
		)
		if err := rows.Scan(&c.UserID, &c.RoomID, &c.Position, &updated); err != nil {
			return nil, err
		}
		c.UpdatedAt = time.UnixMilli(updated)
		cursors = append(cursors, c)
	}
	return cursors, rows.Err()
}
