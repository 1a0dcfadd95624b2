package store

import (
	"database/sql"
	"time"

	"github.com/matheus3301/chatkit/internal/model"
)

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// UpsertUser records a user profile and presence. Empty names and avatars do
// not overwrite known ones.
func (db *DB) UpsertUser(u model.User) error {
	_, err := db.Exec(`
		INSERT INTO users (id, name, avatar_url, presence, last_seen_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END,
			avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE users.avatar_url END,
			presence = excluded.presence,
			last_seen_at = MAX(users.last_seen_at, excluded.last_seen_at),
			updated_at = excluded.updated_at`,
		u.ID, u.Name, u.AvatarURL, string(u.Presence), millis(u.LastSeenAt), time.Now().UnixMilli())
	return err
}

// GetUser returns a user, or nil when unknown.
func (db *DB) GetUser(id string) (*model.User, error) {
	var (
		u        model.User
		presence string
		lastSeen int64
	)
	err := db.QueryRow(`SELECT id, name, avatar_url, presence, last_seen_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.AvatarURL, &presence, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Presence = model.ParsePresence(presence)
	if lastSeen > 0 {
		u.LastSeenAt = time.UnixMilli(lastSeen)
	}
	return &u, nil
}
