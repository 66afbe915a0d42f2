// Package store implements the in-memory mailbox backend: per-user
// mailbox lists plus a flat message index, mutated synchronously under
// one lock.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/jonc1987/fastmail/pkg/types"
)

// Mailbox names recognized by the in-memory backend.
const (
	MailboxInbox   = "inbox"
	MailboxSent    = "sent"
	MailboxDrafts  = "drafts"
	MailboxArchive = "archive"
)

var recognizedMailboxes = map[string]bool{
	MailboxInbox:   true,
	MailboxSent:    true,
	MailboxDrafts:  true,
	MailboxArchive: true,
}

// Display order for ListMailboxes.
var mailboxOrder = []string{MailboxInbox, MailboxSent, MailboxDrafts, MailboxArchive}

// Store holds every in-memory-backed user's mailboxes. Construct one per
// service instance with NewStore; all operations are safe for concurrent
// use.
type Store struct {
	mu sync.RWMutex

	// mailboxes maps user id -> mailbox name -> newest-first message list.
	mailboxes map[string]map[string][]*types.Message
	// index maps user id -> message id -> message, mirroring mailboxes.
	index map[string]map[string]*types.Message
	// drafts maps user id -> draft id -> message, until the draft is sent.
	drafts map[string]map[string]*types.Message
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		mailboxes: make(map[string]map[string][]*types.Message),
		index:     make(map[string]map[string]*types.Message),
		drafts:    make(map[string]map[string]*types.Message),
	}
}

// InitUser initializes the default mailboxes for a user. Safe to call
// again for an existing user; existing messages are kept.
func (s *Store) InitUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mailboxes[userID]; ok {
		return
	}
	s.mailboxes[userID] = map[string][]*types.Message{
		MailboxInbox:   {},
		MailboxSent:    {},
		MailboxArchive: {},
	}
	s.index[userID] = make(map[string]*types.Message)
	s.drafts[userID] = make(map[string]*types.Message)
}

// ListMailboxes returns the user's mailboxes with total and unread counts.
func (s *Store) ListMailboxes(user *types.User) ([]types.MailboxSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	boxes, ok := s.mailboxes[user.ID]
	if !ok {
		return nil, types.NewNotFoundError("user", user.ID)
	}

	var out []types.MailboxSummary
	for _, name := range mailboxOrder {
		msgs, ok := boxes[name]
		if !ok {
			continue
		}
		unread := 0
		for _, m := range msgs {
			if m.Status == types.StatusUnread {
				unread++
			}
		}
		out = append(out, types.MailboxSummary{Name: name, Total: len(msgs), Unread: unread})
	}
	return out, nil
}

// ListMessages returns the named mailbox's messages, newest first.
func (s *Store) ListMessages(user *types.User, mailbox string) ([]*types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	boxes, ok := s.mailboxes[user.ID]
	if !ok {
		return nil, types.NewNotFoundError("user", user.ID)
	}
	msgs, ok := boxes[mailbox]
	if !ok {
		return nil, types.NewNotFoundError("mailbox", mailbox)
	}
	out := make([]*types.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out, nil
}

// GetMessage looks up a message by id across all of the user's mailboxes.
func (s *Store) GetMessage(user *types.User, id string) (*types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.index[user.ID][id]
	if !ok {
		return nil, types.NewNotFoundError("message", id)
	}
	return msg.Clone(), nil
}

// StoreMessage prepends msg to its mailbox and indexes it. The mailbox
// named by msg.Mailbox must be one the backend recognizes.
func (s *Store) StoreMessage(user *types.User, msg *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeLocked(user.ID, msg)
}

func (s *Store) storeLocked(userID string, msg *types.Message) error {
	boxes, ok := s.mailboxes[userID]
	if !ok {
		return types.NewNotFoundError("user", userID)
	}
	if !recognizedMailboxes[msg.Mailbox] {
		return types.NewValidationError("unknown mailbox: %s", msg.Mailbox)
	}
	boxes[msg.Mailbox] = append([]*types.Message{msg}, boxes[msg.Mailbox]...)
	s.index[userID][msg.ID] = msg
	return nil
}

// MarkRead marks the message read and refreshes its UpdatedAt. Marking an
// already-read message again succeeds.
func (s *Store) MarkRead(user *types.User, id string) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.index[user.ID][id]
	if !ok {
		return nil, types.NewNotFoundError("message", id)
	}

	updated := old.Clone()
	updated.Status = types.StatusRead
	updated.UpdatedAt = time.Now()
	s.replaceLocked(user.ID, old, updated)
	return updated.Clone(), nil
}

// replaceLocked splice-replaces old with updated in both the mailbox list
// and the flat index.
func (s *Store) replaceLocked(userID string, old, updated *types.Message) {
	list := s.mailboxes[userID][old.Mailbox]
	for i, m := range list {
		if m.ID == old.ID {
			list[i] = updated
			break
		}
	}
	s.index[userID][updated.ID] = updated
}

// AppendSent stores an already-sent message into the sent mailbox. It
// satisfies the same backend contract as the protocol adapter; the
// in-memory variant keeps the message's id and status unchanged.
func (s *Store) AppendSent(user *types.User, msg *types.Message) (*types.Message, error) {
	msg.Mailbox = MailboxSent
	if err := s.StoreMessage(user, msg); err != nil {
		return nil, err
	}
	return msg.Clone(), nil
}

// CreateDraft validates and stores a new draft for the user.
func (s *Store) CreateDraft(user *types.User, to, subject, body string) (*types.Message, error) {
	if strings.TrimSpace(user.Email) == "" {
		return nil, types.NewValidationError("from is required")
	}
	if strings.TrimSpace(to) == "" {
		return nil, types.NewValidationError("to is required")
	}
	if strings.TrimSpace(subject) == "" {
		return nil, types.NewValidationError("subject is required")
	}

	now := time.Now()
	draft := &types.Message{
		ID:        uuid.NewString(),
		From:      user.Email,
		To:        to,
		Subject:   subject,
		Body:      body,
		Status:    types.StatusDraft,
		Mailbox:   MailboxDrafts,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mailboxes[user.ID]; !ok {
		return nil, types.NewNotFoundError("user", user.ID)
	}
	// The drafts mailbox appears on first use.
	if _, ok := s.mailboxes[user.ID][MailboxDrafts]; !ok {
		s.mailboxes[user.ID][MailboxDrafts] = []*types.Message{}
	}
	if err := s.storeLocked(user.ID, draft); err != nil {
		return nil, err
	}
	s.drafts[user.ID][draft.ID] = draft
	return draft.Clone(), nil
}

// SendDraft turns the draft into a sent message and delivers an unread
// copy to the owner's inbox (the single-mailbox demo's "send to self").
func (s *Store) SendDraft(user *types.User, id string) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft, ok := s.drafts[user.ID][id]
	if !ok {
		if msg, indexed := s.index[user.ID][id]; indexed && msg.Status == types.StatusSent {
			return nil, types.NewConflictError("draft already sent")
		}
		return nil, types.NewNotFoundError("draft", id)
	}

	now := time.Now()
	sent := draft.Clone()
	sent.Status = types.StatusSent
	sent.Mailbox = MailboxSent
	sent.UpdatedAt = now
	sent.SentAt = &now

	// Move out of drafts into sent.
	s.removeFromMailboxLocked(user.ID, MailboxDrafts, id)
	delete(s.drafts[user.ID], id)
	if err := s.storeLocked(user.ID, sent); err != nil {
		return nil, err
	}

	delivered := sent.Clone()
	delivered.ID = uuid.NewString()
	delivered.Status = types.StatusUnread
	delivered.Mailbox = MailboxInbox
	delivered.SentAt = nil
	if err := s.storeLocked(user.ID, delivered); err != nil {
		return nil, err
	}

	return sent.Clone(), nil
}

func (s *Store) removeFromMailboxLocked(userID, mailbox, id string) {
	list := s.mailboxes[userID][mailbox]
	for i, m := range list {
		if m.ID == id {
			s.mailboxes[userID][mailbox] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// SearchMessages scans the user's messages for the query (case-insensitive
// match on from, subject or body), newest first.
func (s *Store) SearchMessages(user *types.User, query string, limit int) ([]types.MessageSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs, ok := s.index[user.ID]
	if !ok {
		return nil, types.NewNotFoundError("user", user.ID)
	}
	q := strings.ToLower(query)

	var out []types.MessageSummary
	for _, m := range msgs {
		if !strings.Contains(strings.ToLower(m.From), q) &&
			!strings.Contains(strings.ToLower(m.Subject), q) &&
			!strings.Contains(strings.ToLower(m.Body), q) {
			continue
		}
		out = append(out, types.MessageSummary{
			ID:      m.ID,
			Mailbox: m.Mailbox,
			From:    m.From,
			Subject: m.Subject,
			Date:    m.CreatedAt,
			Snippet: snippet(m.Body),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
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
