package messaging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"farmconnect/internal/models"
)

const messageColumns = `id, conversation_id, sender_id, content, is_read, is_automated, created_at`

func scanMessage(row rowScanner) (*models.Message, error) {
	var msg models.Message
	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.IsRead, &msg.IsAutomated, &msg.CreatedAt); err != nil {
		return nil, err
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return &msg, nil
}

// ValidateContent trims message text and rejects it when nothing is left.
func ValidateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", validationf("Please enter a message.")
	}
	return content, nil
}

// Append stores a message from one of the participants and records activity
// on the conversation. A MessageAppended event is published once the write
// has committed.
func (s *Store) Append(ctx context.Context, conv *models.Conversation, senderID int64, content string, automated bool) (*models.Message, error) {
	if conv == nil {
		return nil, NotFoundf("conversation not found")
	}
	if !conv.IsParticipant(senderID) {
		return nil, validationf("user %d is not a participant of conversation %d", senderID, conv.ID)
	}
	content, err := ValidateContent(content)
	if err != nil {
		return nil, err
	}

	now := s.timestamp()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	id, err := s.db.InsertID(ctx, tx,
		`INSERT INTO messages (conversation_id, sender_id, content, is_read, is_automated, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID, senderID, content, false, automated, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if err := touch(ctx, tx, conv.ID, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit message: %w", err)
	}
	conv.UpdatedAt = now
	s.cache.invalidate(ctx, conv.ID)

	msg := &models.Message{
		ID:             id,
		ConversationID: conv.ID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      now,
		IsAutomated:    automated,
	}
	s.logger.Debug("message appended", "conversation_id", conv.ID, "message_id", id, "automated", automated)
	s.bus.Publish(MessageAppended{Conversation: conv, Message: msg})
	return msg, nil
}

// MarkRead flips the message to read. Already read messages are left alone.
func (s *Store) MarkRead(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.IsRead {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_read = ? WHERE id = ? AND is_read = ?`,
		true, msg.ID, false,
	)
	if err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	msg.IsRead = true
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.cache.invalidate(ctx, msg.ConversationID)
	}
	return nil
}

// MarkConversationRead marks every unread message not sent by readerID as
// read and returns how many changed.
func (s *Store) MarkConversationRead(ctx context.Context, conv *models.Conversation, readerID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_read = ? WHERE conversation_id = ? AND sender_id <> ? AND is_read = ?`,
		true, conv.ID, readerID, false,
	)
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	if n > 0 {
		s.cache.invalidate(ctx, conv.ID)
	}
	return n, nil
}

// ListOrdered returns the conversation's messages oldest first. Messages
// sharing a timestamp keep insertion order.
func (s *Store) ListOrdered(ctx context.Context, conv *models.Conversation) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC`,
		conv.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// LastMessage returns the newest message, or nil for an empty conversation.
func (s *Store) LastMessage(ctx context.Context, conv *models.Conversation) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		conv.ID,
	)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("last message: %w", err)
	}
	return msg, nil
}
