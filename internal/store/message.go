package store

import (
	"time"

	"github.com/matheus3301/chatkit/internal/model"
)

// UpsertMessage records a message; replays of the same (room, id) are no-ops
// apart from text edits.
func (db *DB) UpsertMessage(m model.Message) error {
	var link, typ string
	if m.Attachment != nil {
		link, typ = m.Attachment.Link, m.Attachment.Type
	}
	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO messages (room_id, id, sender_id, text, attachment_link, attachment_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_id, id) DO UPDATE SET text = excluded.text`,
		m.RoomID, m.ID, m.SenderID, m.Text, link, typ, created.UnixMilli())
	return err
}

const messageColumns = `room_id, id, sender_id, text, attachment_link, attachment_type, created_at`

func scanMessages(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]model.Message, error) {
	var msgs []model.Message
	for rows.Next() {
		var (
			m         model.Message
			link, typ string
			created   int64
		)
		if err := rows.Scan(&m.RoomID, &m.ID, &m.SenderID, &m.Text, &link, &typ, &created); err != nil {
			return nil, err
		}
		if link != "" {
			m.Attachment = &model.Attachment{Link: link, Type: typ}
		}
		m.CreatedAt = time.UnixMilli(created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ListMessages pages backwards through a room by message id. beforeID <= 0
// starts from the newest. Results are newest first.
func (db *DB) ListMessages(roomID string, beforeID int64, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + messageColumns + ` FROM messages WHERE room_id = ?`
	args := []any{roomID}
	if beforeID > 0 {
		q += ` AND id < ?`
		args = append(args, beforeID)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// SearchMessages finds messages whose text contains query, case-insensitively
// for ASCII. roomID narrows the search when set.
func (db *DB) SearchMessages(query, roomID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + messageColumns + ` FROM messages WHERE text LIKE '%' || ? || '%' ESCAPE '\'`
	args := []any{escapeLike(query)}
	if roomID != "" {
		q += ` AND room_id = ?`
		args = append(args, roomID)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
