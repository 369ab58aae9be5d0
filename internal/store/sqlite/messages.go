package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vovakirdan/groupchat-server/internal/channel"
	"github.com/vovakirdan/groupchat-server/internal/store"
)

// messageQueries holds the statements for one message table.
type messageQueries struct {
	last    string
	insert  string
	history string
	recent  string
}

var (
	roomMessageQueries = messageQueries{
		last: `SELECT created_at FROM room_messages WHERE room_id = ? ORDER BY id DESC LIMIT 1`,
		insert: `
			INSERT INTO room_messages (room_id, sender_id, content, created_at)
			VALUES (?, ?, ?, ?)
		`,
		history: `
			SELECT m.id, m.sender_id, COALESCE(u.name, ''), m.content, m.created_at
			FROM room_messages m
			LEFT JOIN users u ON u.id = m.sender_id
			WHERE m.room_id = ?
			ORDER BY m.created_at ASC, m.id ASC
		`,
		recent: `
			SELECT m.id, m.sender_id, COALESCE(u.name, ''), m.content, m.created_at
			FROM room_messages m
			LEFT JOIN users u ON u.id = m.sender_id
			WHERE m.room_id = ?
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT ?
		`,
	}

	groupMessageQueries = messageQueries{
		last: `SELECT created_at FROM group_messages WHERE group_id = ? ORDER BY id DESC LIMIT 1`,
		insert: `
			INSERT INTO group_messages (group_id, sender_id, message, created_at)
			VALUES (?, ?, ?, ?)
		`,
		history: `
			SELECT m.id, m.sender_id, COALESCE(u.name, ''), m.message, m.created_at
			FROM group_messages m
			LEFT JOIN users u ON u.id = m.sender_id
			WHERE m.group_id = ?
			ORDER BY m.created_at ASC, m.id ASC
		`,
		recent: `
			SELECT m.id, m.sender_id, COALESCE(u.name, ''), m.message, m.created_at
			FROM group_messages m
			LEFT JOIN users u ON u.id = m.sender_id
			WHERE m.group_id = ?
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT ?
		`,
	}
)

func queriesFor(key channel.Key) (messageQueries, error) {
	switch key.Kind {
	case channel.KindRoom:
		return roomMessageQueries, nil
	case channel.KindGroup:
		return groupMessageQueries, nil
	default:
		return messageQueries{}, fmt.Errorf("unsupported channel %s", key)
	}
}

// ==== MessageStore implementation ====

// AppendMessage persists a message and assigns its timestamp.
func (s *SQLiteStore) AppendMessage(ctx context.Context, key channel.Key, sender *store.User, body string) (*store.Message, error) {
	q, err := queriesFor(key)
	if err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, errors.New("append message: nil sender")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	var last time.Time
	if err := tx.QueryRowContext(ctx, q.last, key.ID).Scan(&last); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query last message: %w", err)
	}

	createdAt := store.NextStamp(time.Now(), last)
	result, err := tx.ExecContext(ctx, q.insert, key.ID, sender.ID, body, createdAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return &store.Message{
		ID:         id,
		Channel:    key,
		SenderID:   sender.ID,
		SenderName: sender.Name,
		Body:       body,
		CreatedAt:  createdAt,
	}, nil
}

// History returns the channel's messages in chronological order.
func (s *SQLiteStore) History(ctx context.Context, key channel.Key, limit int) ([]*store.Message, error) {
	q, err := queriesFor(key)
	if err != nil {
		return nil, err
	}

	var rows *sql.Rows
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, q.recent, key.ID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, q.history, key.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		msg := store.Message{Channel: key}
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.SenderName, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	if limit > 0 {
		// Reverse to get chronological order
		for i := 0; i < len(messages)/2; i++ {
			messages[i], messages[len(messages)-1-i] = messages[len(messages)-1-i], messages[i]
		}
	}

	return messages, nil
}
