// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/EmilynnJ/ccodeseer/internal/domain"
)

func (q *Queries) InsertNotification(ctx context.Context, n *domain.Notification) error {
	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		meta = []byte("{}")
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, body, metadata_json, read, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Type, n.Title, n.Body, string(meta), boolToInt(n.Read), timeToMs(n.CreatedAt))
	return err
}

// NotificationsForUser returns the durable inbox newest first, so late
// joiners can rehydrate what the transient pub/sub channel may have dropped.
func (q *Queries) NotificationsForUser(ctx context.Context, userID string, limit int) ([]*domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, type, title, body, metadata_json, read, created_at_ms
		FROM notifications WHERE user_id = ? ORDER BY created_at_ms DESC, id LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead flips the read flag, scoped to the owning user.
func (q *Queries) MarkNotificationRead(ctx context.Context, id, userID string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func scanNotification(rows *sql.Rows) (*domain.Notification, error) {
	var n domain.Notification
	var meta string
	var read int
	var createdMs int64
	if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &meta, &read, &createdMs); err != nil {
		return nil, err
	}
	if meta != "" {
		_ = json.Unmarshal([]byte(meta), &n.Metadata)
	}
	n.Read = read != 0
	n.CreatedAt = msToTime(createdMs)
	return &n, nil
}
