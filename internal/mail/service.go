// Package mail orchestrates mailbox operations: it owns the user table,
// routes each operation to the backend resolved for the user, and runs
// the send and draft lifecycles.
package mail

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jonc1987/fastmail/internal/address"
	"github.com/jonc1987/fastmail/internal/auth"
	"github.com/jonc1987/fastmail/internal/cache"
	"github.com/jonc1987/fastmail/internal/config"
	"github.com/jonc1987/fastmail/internal/relay"
	"github.com/jonc1987/fastmail/internal/store"
	"github.com/jonc1987/fastmail/pkg/types"
)

const minPasswordLen = 6

// Service is the mailbox orchestrator.
type Service struct {
	mu           sync.RWMutex
	usersByEmail map[string]*types.User
	usersByID    map[string]*types.User

	store  *store.Store
	remote Backend
	cache  *cache.Store
	relay  relay.Relay
	hasher auth.Hasher
	cfg    *config.Config
	logger *logrus.Logger
}

// NewService creates a mailbox service wired to both backends.
func NewService(cfg *config.Config, memStore *store.Store, remoteBackend Backend, cacheStore *cache.Store, rly relay.Relay, hasher auth.Hasher, logger *logrus.Logger) *Service {
	return &Service{
		usersByEmail: make(map[string]*types.User),
		usersByID:    make(map[string]*types.User),
		store:        memStore,
		remote:       remoteBackend,
		cache:        cacheStore,
		relay:        rly,
		hasher:       hasher,
		cfg:          cfg,
		logger:       logger,
	}
}

// EnsureUserInput is the provisioning payload.
type EnsureUserInput struct {
	Email    string
	Password string
	Name     string
	Remote   *types.RemoteConfig
}

// EnsureUser provisions an account, or re-provisions the existing account
// with the same normalized email (credential hash and overrides are
// replaced; the account id and mailboxes are kept).
func (s *Service) EnsureUser(in EnsureUserInput) (types.UserInfo, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if !address.Valid(email) {
		return types.UserInfo{}, types.NewValidationError("invalid email address")
	}
	if len(in.Password) < minPasswordLen {
		return types.UserInfo{}, types.NewValidationError("password must be at least %d characters", minPasswordLen)
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return types.UserInfo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.usersByEmail[email]; ok {
		existing.CredentialHash = digest
		if in.Name != "" {
			existing.Name = in.Name
		}
		if in.Remote != nil {
			existing.Remote = in.Remote
		}
		s.logger.WithField("email", email).Info("Re-provisioned user")
		return s.projectLocked(existing), nil
	}

	user := &types.User{
		ID:             uuid.NewString(),
		Email:          email,
		Name:           in.Name,
		CredentialHash: digest,
		Remote:         in.Remote,
	}
	s.usersByEmail[email] = user
	s.usersByID[user.ID] = user
	s.store.InitUser(user.ID)

	s.logger.WithFields(logrus.Fields{
		"email":   email,
		"user_id": user.ID,
	}).Info("Provisioned user")
	return s.projectLocked(user), nil
}

// projectLocked returns the public projection, exposing the resolved
// remote connection when the user is protocol-backed.
func (s *Service) projectLocked(user *types.User) types.UserInfo {
	info := user.Info()
	if resolved := s.resolveRemote(user); resolved != nil {
		info.RemoteHost = resolved.Host
		info.RemoteUser = resolved.Username
	}
	return info
}

// Authenticate returns the user for valid credentials, or nil for an
// unknown email or a wrong password. Bad credentials are not an error.
func (s *Service) Authenticate(email, password string) (*types.User, error) {
	s.mu.RLock()
	user, ok := s.usersByEmail[strings.ToLower(strings.TrimSpace(email))]
	var digest string
	if ok {
		// Copied under the lock: EnsureUser rewrites the hash in place.
		digest = user.CredentialHash
	}
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !s.hasher.Compare(digest, password) {
		return nil, nil
	}
	return user, nil
}

// UserByID resolves a user id.
func (s *Service) UserByID(id string) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.usersByID[id]
	if !ok {
		return nil, types.NewNotFoundError("user", id)
	}
	return user, nil
}

func (s *Service) userByEmail(email string) *types.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usersByEmail[strings.ToLower(email)]
}

// resolveRemote merges the user's overrides over the service-level
// defaults. The result is nil — meaning in-memory backed — unless host
// and credentials all resolve.
func (s *Service) resolveRemote(user *types.User) *types.RemoteConfig {
	d := s.cfg.Remote
	merged := types.RemoteConfig{
		Host:          d.Host,
		Port:          d.Port,
		TLS:           d.TLS,
		Username:      d.Username,
		Password:      d.Password,
		SentMailbox:   d.SentMailbox,
		TLSSkipVerify: d.TLSSkipVerify,
	}
	if o := user.Remote; o != nil {
		if o.Host != "" {
			merged.Host = o.Host
			merged.TLS = o.TLS
			merged.TLSSkipVerify = o.TLSSkipVerify
		}
		if o.Port > 0 {
			merged.Port = o.Port
		}
		if o.Username != "" {
			merged.Username = o.Username
		}
		if o.Password != "" {
			merged.Password = o.Password
		}
		if o.SentMailbox != "" {
			merged.SentMailbox = o.SentMailbox
		}
	}
	if merged.Host == "" || merged.Username == "" || merged.Password == "" {
		return nil
	}
	if merged.Port == 0 {
		merged.Port = 993
	}
	return &merged
}

// backendFor picks the backend governing the user's mail and returns the
// user record the backend should see (with the resolved remote config
// attached for the protocol backend).
func (s *Service) backendFor(user *types.User) (Backend, *types.User) {
	resolved := s.resolveRemote(user)
	if resolved == nil {
		return s.store, user
	}
	u := *user
	u.Remote = resolved
	return s.remote, &u
}

// ListMailboxes lists the user's mailboxes with counters.
func (s *Service) ListMailboxes(userID string) ([]types.MailboxSummary, error) {
	user, err := s.UserByID(userID)
	if err != nil {
		return nil, err
	}
	b, u := s.backendFor(user)
	return b.ListMailboxes(u)
}

// ListMessages lists the named mailbox, newest first.
func (s *Service) ListMessages(userID, mailbox string) ([]*types.Message, error) {
	user, err := s.UserByID(userID)
	if err != nil {
		return nil, err
	}
	b, u := s.backendFor(user)
	return b.ListMessages(u, mailbox)
}

// GetMessage fetches a single message, with its body.
func (s *Service) GetMessage(userID, id string) (*types.Message, error) {
	user, err := s.UserByID(userID)
	if err != nil {
		return nil, err
	}
	b, u := s.backendFor(user)
	return b.GetMessage(u, id)
}

// MarkRead marks a message read. Idempotent.
func (s *Service) MarkRead(userID, id string) (*types.Message, error) {
	user, err := s.UserByID(userID)
	if err != nil {
		return nil, err
	}
	b, u := s.backendFor(user)
	return b.MarkRead(u, id)
}

// SendInput is the outbound message payload.
type SendInput struct {
	To      string
	Subject string
	Body    string
}

// SendMessage validates and relays the message, persists the sent copy
// through the user's backend, and fans out inbox copies to recipients
// with local in-memory accounts. Recipients that are unknown or
// protocol-backed get no local copy; their delivery happens through the
// real provider.
func (s *Service) SendMessage(userID string, in SendInput) (*types.Message, error) {
	user, err := s.UserByID(userID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.To) == "" {
		return nil, types.NewValidationError("to is required")
	}
	if strings.TrimSpace(in.Subject) == "" {
		return nil, types.NewValidationError("subject is required")
	}

	normalized, err := address.NormalizeRecipientList(in.To)
	if err != nil {
		return nil, err
	}
	recipients := address.ParseAddresses(in.To)

	now := time.Now()
	msg := &types.Message{
		ID:        uuid.NewString(),
		From:      user.Email,
		To:        normalized,
		Subject:   strings.TrimSpace(in.Subject),
		Body:      in.Body,
		Status:    types.StatusSent,
		Mailbox:   store.MailboxSent,
		CreatedAt: now,
		UpdatedAt: now,
		SentAt:    &now,
	}

	addrs := make([]string, len(recipients))
	for i, r := range recipients {
		addrs[i] = r.Address
	}
	if err := s.relay.Send(&relay.Outbound{
		From:    user.Email,
		To:      addrs,
		Subject: msg.Subject,
		Body:    msg.Body,
	}); err != nil {
		return nil, types.NewRemoteMailError("relay", err)
	}

	b, u := s.backendFor(user)
	sent, err := b.AppendSent(u, msg)
	if err != nil {
		return nil, err
	}

	s.fanOut(recipients, sent)
	return sent, nil
}

// fanOut synthesizes a fresh unread inbox copy for every recipient with a
// locally known, in-memory-backed account.
func (s *Service) fanOut(recipients []address.Parsed, msg *types.Message) {
	for _, rcpt := range recipients {
		target := s.userByEmail(rcpt.Address)
		if target == nil {
			continue
		}
		if s.resolveRemote(target) != nil {
			continue
		}

		delivered := msg.Clone()
		delivered.ID = uuid.NewString()
		delivered.Status = types.StatusUnread
		delivered.Mailbox = store.MailboxInbox
		delivered.SentAt = nil
		if err := s.store.StoreMessage(target, delivered); err != nil {
			s.logger.WithError(err).WithField("recipient", rcpt.Address).Warn("Failed to deliver local copy")
			continue
		}
		s.logger.WithFields(logrus.Fields{
			"recipient": rcpt.Address,
			"subject":   msg.Subject,
		}).Debug("Delivered local copy")
	}
}

// DraftInput is the draft payload.
type DraftInput struct {
	To      string
	Subject string
	Body    string
}

// CreateDraft stores a new draft. Drafts live only in the in-memory
// store.
func (s *Service) CreateDraft(userID string, in DraftInput) (*types.Message, error) {
	user, err := s.UserByID(userID)
	if err != nil {
		return nil, err
	}
	return s.store.CreateDraft(user, in.To, in.Subject, in.Body)
}

// SendDraft transforms the draft into a sent message and delivers the
// demo's send-to-self inbox copy.
func (s *Service) SendDraft(userID, draftID string) (*types.Message, error) {
	user, err := s.UserByID(userID)
	if err != nil {
		return nil, err
	}
	return s.store.SendDraft(user, draftID)
}

// SearchMessages searches the user's messages: the cached remote
// messages for protocol-backed users, the in-memory store otherwise.
func (s *Service) SearchMessages(userID, query string, limit int) ([]types.MessageSummary, error) {
	user, err := s.UserByID(userID)
	if err != nil {
		return nil, err
	}
	if s.resolveRemote(user) != nil {
		return s.cache.SearchMessages(user.ID, query, limit)
	}
	return s.store.SearchMessages(user, query, limit)
}
