package cache

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jonc1987/fastmail/pkg/types"
)

// SearchMessages performs a full-text search over the user's cached
// messages using FTS5, newest first.
func (s *Store) SearchMessages(userID, query string, limit int) ([]types.MessageSummary, error) {
	// Escape query for FTS5
	query = strings.ReplaceAll(query, "\"", "\"\"")
	query = strings.ReplaceAll(query, "'", "''")

	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	sqlQuery := `
		SELECT m.message_id, m.mailbox, m.sender, m.subject, m.created_at, m.body
		FROM messages m
		WHERE m.user_id = ?
		  AND m.rowid_alias IN (SELECT rowid FROM messages_fts WHERE messages_fts MATCH ?)
		ORDER BY m.created_at DESC
		LIMIT ?
	`

	rows, err := s.cache.DB().Query(sqlQuery, userID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()

	var results []types.MessageSummary
	for rows.Next() {
		var summary types.MessageSummary
		var dateStr string
		var body string

		err := rows.Scan(
			&summary.ID,
			&summary.Mailbox,
			&summary.From,
			&summary.Subject,
			&dateStr,
			&body,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		summary.Date = parseTime(dateStr)

		summary.Snippet = snippet(body)

		results = append(results, summary)
	}

	return results, nil
}

// snippet shortens a body to roughly 200 bytes without splitting a
// UTF-8 sequence.
func snippet(body string) string {
	const max = 200
	if len(body) <= max {
		return body
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "..."
}
