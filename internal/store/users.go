// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/EmilynnJ/ccodeseer/internal/domain"
)

// ErrNotFound is returned when an addressed row does not exist.
var ErrNotFound = errors.New("store: not found")

func (q *Queries) CreateUser(ctx context.Context, u *domain.User) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO users (id, subject, role, email, name, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Subject, string(u.Role), u.Email, u.Name, timeToMs(u.CreatedAt), timeToMs(u.UpdatedAt))
	return err
}

func (q *Queries) UserByID(ctx context.Context, id string) (*domain.User, error) {
	return q.scanUser(q.db.QueryRowContext(ctx, `
		SELECT id, subject, role, email, name, created_at_ms, updated_at_ms
		FROM users WHERE id = ?`, id))
}

func (q *Queries) UserBySubject(ctx context.Context, subject string) (*domain.User, error) {
	return q.scanUser(q.db.QueryRowContext(ctx, `
		SELECT id, subject, role, email, name, created_at_ms, updated_at_ms
		FROM users WHERE subject = ?`, subject))
}

func (q *Queries) UsersByRole(ctx context.Context, role domain.Role) ([]*domain.User, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, subject, role, email, name, created_at_ms, updated_at_ms
		FROM users WHERE role = ?`, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		var u domain.User
		var roleCol string
		var createdMs, updatedMs int64
		if err := rows.Scan(&u.ID, &u.Subject, &roleCol, &u.Email, &u.Name, &createdMs, &updatedMs); err != nil {
			return nil, err
		}
		u.Role = domain.Role(roleCol)
		u.CreatedAt = msToTime(createdMs)
		u.UpdatedAt = msToTime(updatedMs)
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (q *Queries) UpdateUserRole(ctx context.Context, id string, role domain.Role, now time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE users SET role = ?, updated_at_ms = ? WHERE id = ?`,
		string(role), timeToMs(now), id)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (q *Queries) scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	var role string
	var createdMs, updatedMs int64
	err := row.Scan(&u.ID, &u.Subject, &role, &u.Email, &u.Name, &createdMs, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = domain.Role(role)
	u.CreatedAt = msToTime(createdMs)
	u.UpdatedAt = msToTime(updatedMs)
	return &u, nil
}

func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
