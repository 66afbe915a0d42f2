package cache

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jonc1987/fastmail/pkg/types"
)

// Store provides methods for storing and retrieving data from the cache
type Store struct {
	cache  *Cache
	logger *logrus.Logger
}

// NewStore creates a new store instance
func NewStore(cache *Cache, logger *logrus.Logger) *Store {
	return &Store{
		cache:  cache,
		logger: logger,
	}
}

// UpsertMessage inserts or updates a cached message for the user. The
// merge rule preserves a previously fetched body when the incoming record
// carries none, so a metadata-only refresh never erases a lazily fetched
// body.
func (s *Store) UpsertMessage(userID string, msg *types.Message) error {
	query := `
		INSERT INTO messages (user_id, message_id, mailbox, sender, recipients, subject, body, status, created_at, updated_at, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, message_id) DO UPDATE SET
			mailbox = excluded.mailbox,
			sender = excluded.sender,
			recipients = excluded.recipients,
			subject = excluded.subject,
			body = CASE WHEN excluded.body != '' THEN excluded.body ELSE messages.body END,
			status = excluded.status,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			sent_at = excluded.sent_at,
			cached_at = CURRENT_TIMESTAMP
	`
	var sentAt interface{}
	if msg.SentAt != nil {
		sentAt = msg.SentAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.cache.DB().Exec(query,
		userID,
		msg.ID,
		msg.Mailbox,
		msg.From,
		msg.To,
		msg.Subject,
		msg.Body,
		string(msg.Status),
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		msg.UpdatedAt.UTC().Format(time.RFC3339Nano),
		sentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert message: %w", err)
	}
	return nil
}

// GetMessage retrieves a cached message. A cache miss returns (nil, nil).
func (s *Store) GetMessage(userID, messageID string) (*types.Message, error) {
	query := `
		SELECT message_id, mailbox, sender, recipients, subject, body, status, created_at, updated_at, sent_at
		FROM messages
		WHERE user_id = ? AND message_id = ?
	`
	var msg types.Message
	var status string
	var createdStr, updatedStr string
	var sentStr sql.NullString

	err := s.cache.DB().QueryRow(query, userID, messageID).Scan(
		&msg.ID,
		&msg.Mailbox,
		&msg.From,
		&msg.To,
		&msg.Subject,
		&msg.Body,
		&status,
		&createdStr,
		&updatedStr,
		&sentStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	msg.Status = types.Status(status)
	msg.CreatedAt = parseTime(createdStr)
	msg.UpdatedAt = parseTime(updatedStr)
	if sentStr.Valid {
		t := parseTime(sentStr.String)
		msg.SentAt = &t
	}
	return &msg, nil
}

// DeleteMessage removes a cached message, if present. Used when an append
// re-keys a message with a provider-assigned id.
func (s *Store) DeleteMessage(userID, messageID string) error {
	_, err := s.cache.DB().Exec("DELETE FROM messages WHERE user_id = ? AND message_id = ?", userID, messageID)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// SentMailbox returns the user's previously resolved "Sent" path, or ""
// when none has been resolved yet.
func (s *Store) SentMailbox(userID string) (string, error) {
	var path string
	err := s.cache.DB().QueryRow("SELECT path FROM sent_mailboxes WHERE user_id = ?", userID).Scan(&path)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to get sent mailbox: %w", err)
	}
	return path, nil
}

// SetSentMailbox records the resolved "Sent" path for the user.
func (s *Store) SetSentMailbox(userID, path string) error {
	query := `
		INSERT INTO sent_mailboxes (user_id, path)
		VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			path = excluded.path,
			resolved_at = CURRENT_TIMESTAMP
	`
	if _, err := s.cache.DB().Exec(query, userID, path); err != nil {
		return fmt.Errorf("failed to set sent mailbox: %w", err)
	}
	return nil
}

// parseTime accepts the formats sqlite hands back for DATETIME columns.
func parseTime(value string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
