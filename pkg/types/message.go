package types

import "time"

// Status describes where a message is in its lifecycle.
type Status string

const (
	StatusDraft  Status = "draft"
	StatusUnread Status = "unread"
	StatusRead   Status = "read"
	StatusSent   Status = "sent"
)

// Message represents a single mail message owned by one user's mailbox.
type Message struct {
	ID        string     `json:"id"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	Subject   string     `json:"subject"`
	Body      string     `json:"body"`
	Status    Status     `json:"status"`
	Mailbox   string     `json:"mailbox"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

// Clone returns a shallow copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	return &c
}

// MailboxSummary describes one mailbox with its message counters.
type MailboxSummary struct {
	Name   string `json:"name"`
	Total  int    `json:"total"`
	Unread int    `json:"unread"`
}

// MessageSummary is a search result row: envelope data plus a body snippet.
type MessageSummary struct {
	ID      string    `json:"id"`
	Mailbox string    `json:"mailbox"`
	From    string    `json:"from"`
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`
	Snippet string    `json:"snippet"`
}
