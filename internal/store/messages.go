// SPDX-License-Identifier: MIT

package store

import (
	"context"

	"github.com/EmilynnJ/ccodeseer/internal/domain"
)

func (q *Queries) InsertMessage(ctx context.Context, m *domain.Message) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, sender_id, body, created_at_ms)
		VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.SenderID, m.Body, timeToMs(m.CreatedAt))
	return err
}

func (q *Queries) MessagesForSession(ctx context.Context, sessionID string, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, session_id, sender_id, body, created_at_ms
		FROM messages WHERE session_id = ? ORDER BY created_at_ms, id LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Message
	for rows.Next() {
		var m domain.Message
		var createdMs int64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.SenderID, &m.Body, &createdMs); err != nil {
			return nil, err
		}
		m.CreatedAt = msToTime(createdMs)
		out = append(out, &m)
	}
	return out, rows.Err()
}
