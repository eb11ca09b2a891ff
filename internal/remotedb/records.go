package remotedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/jot/internal/model"
	"github.com/matheus3301/jot/internal/remote"
)

// PutUser inserts or replaces a user record.
func (d *DB) PutUser(ctx context.Context, u model.User) error {
	if u.ID == "" {
		return fmt.Errorf("put user: empty id: %w", remote.ErrInvalid)
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, profile_pic, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			profile_pic = excluded.profile_pic,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		u.ID, u.Name, u.Email, u.ProfilePic, toNanos(u.CreatedAt), toNanos(u.UpdatedAt))
	if err != nil {
		return mapErr("put user", err)
	}
	return nil
}

// GetUser returns the user with id.
func (d *DB) GetUser(ctx context.Context, id string) (*model.User, error) {
	var (
		u                model.User
		created, updated sql.NullInt64
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT id, name, email, profile_pic, created_at, updated_at
		FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.ProfilePic, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, remote.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt, u.UpdatedAt = fromNanos(created), fromNanos(updated)
	return &u, nil
}

const chatColumns = `id, user_id, name, last_message, last_message_time, unread_count, profile_pic, created_at, updated_at`

// PutChat inserts or replaces a chat record.
func (d *DB) PutChat(ctx context.Context, c model.Chat) error {
	if c.ID == "" || c.UserID == "" {
		return fmt.Errorf("put chat: id and owner are required: %w", remote.ErrInvalid)
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO chats (`+chatColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			name = excluded.name,
			last_message = excluded.last_message,
			last_message_time = excluded.last_message_time,
			unread_count = excluded.unread_count,
			profile_pic = excluded.profile_pic,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		c.ID, c.UserID, c.Name, c.LastMessage, toNanos(c.LastMessageTime), c.UnreadCount,
		c.ProfilePic, toNanos(c.CreatedAt), toNanos(c.UpdatedAt))
	if err != nil {
		return mapErr("put chat", err)
	}
	return nil
}

// PatchChat applies p to the stored chat and stamps it with now, in one
// transaction.
func (d *DB) PatchChat(ctx context.Context, id string, p model.ChatPatch, now time.Time) (*model.Chat, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	c, err := scanChat(tx.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chat %s: %w", id, remote.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read chat: %w", err)
	}
	p.Apply(c)
	c.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		UPDATE chats SET name = ?, last_message = ?, last_message_time = ?,
			unread_count = ?, profile_pic = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, c.LastMessage, toNanos(c.LastMessageTime), c.UnreadCount, c.ProfilePic, toNanos(c.UpdatedAt), id)
	if err != nil {
		return nil, mapErr("patch chat", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

// DeleteChat removes a chat and, through the foreign key, its messages.
func (d *DB) DeleteChat(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("chat %s: %w", id, remote.ErrNotFound)
	}
	return nil
}

// ChatsByUser returns the chats owned by userID, by id.
func (d *DB) ChatsByUser(ctx context.Context, userID string) ([]model.Chat, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+chatColumns+` FROM chats WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chats []model.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, *c)
	}
	return chats, rows.Err()
}

func scanChat(s scanner) (*model.Chat, error) {
	var (
		c                        model.Chat
		lastAt, created, updated sql.NullInt64
	)
	if err := s.Scan(&c.ID, &c.UserID, &c.Name, &c.LastMessage, &lastAt, &c.UnreadCount,
		&c.ProfilePic, &created, &updated); err != nil {
		return nil, err
	}
	c.LastMessageTime = fromNanos(lastAt)
	c.CreatedAt, c.UpdatedAt = fromNanos(created), fromNanos(updated)
	return &c, nil
}

const messageColumns = `id, chat_id, user_id, text, time_label, timestamp, status, is_own, created_at, updated_at`

// PutMessage inserts or replaces a message record. The chat must exist.
func (d *DB) PutMessage(ctx context.Context, m model.Message) error {
	if m.ID == "" || m.ChatID == "" {
		return fmt.Errorf("put message: id and chat are required: %w", remote.ErrInvalid)
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			chat_id = excluded.chat_id,
			user_id = excluded.user_id,
			text = excluded.text,
			time_label = excluded.time_label,
			timestamp = excluded.timestamp,
			status = excluded.status,
			is_own = excluded.is_own,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		m.ID, m.ChatID, m.UserID, m.Text, m.Time, toNanos(m.Timestamp), string(m.Status), m.IsOwn,
		toNanos(m.CreatedAt), toNanos(m.UpdatedAt))
	if err != nil {
		return mapErr("put message", err)
	}
	return nil
}

// MessagesByChat returns a chat's messages by timestamp, then id. Messages
// without a timestamp sort first.
func (d *DB) MessagesByChat(ctx context.Context, chatID string) ([]model.Message, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = ?
		ORDER BY timestamp ASC, id ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// SetMessageStatus updates one message's status and stamps it with now.
func (d *DB) SetMessageStatus(ctx context.Context, id string, status model.Status, now time.Time) (*model.Message, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("status %q: %w", status, remote.ErrInvalid)
	}
	res, err := d.db.ExecContext(ctx,
		`UPDATE messages SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), toNanos(now), id)
	if err != nil {
		return nil, fmt.Errorf("set message status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("message %s: %w", id, remote.ErrNotFound)
	}
	m, err := scanMessage(d.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	return m, nil
}

func scanMessage(s scanner) (*model.Message, error) {
	var (
		m                    model.Message
		status               string
		ts, created, updated sql.NullInt64
	)
	if err := s.Scan(&m.ID, &m.ChatID, &m.UserID, &m.Text, &m.Time, &ts, &status, &m.IsOwn,
		&created, &updated); err != nil {
		return nil, err
	}
	m.Status = model.Status(status)
	m.Timestamp = fromNanos(ts)
	m.CreatedAt, m.UpdatedAt = fromNanos(created), fromNanos(updated)
	return &m, nil
}
