// Package remote implements the protocol-backed mailbox backend: every
// operation runs against a fresh IMAP session, and fetched messages are
// kept in a per-user cache so bodies can be filled in lazily.
package remote

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/jonc1987/fastmail/pkg/types"
)

// Session is one authenticated IMAP connection performing a single
// logical unit of work. Logout must always be called, regardless of the
// unit's outcome.
type Session interface {
	ListMailboxes() ([]*imap.MailboxInfo, error)
	Status(name string) (*imap.MailboxStatus, error)
	Select(name string) (*imap.MailboxStatus, error)
	Fetch(seqSet *imap.SeqSet, items []imap.FetchItem) ([]*imap.Message, error)
	AddFlags(seqSet *imap.SeqSet, flags ...string) error
	Append(mailbox string, flags []string, date time.Time, raw []byte) error
	Logout() error
}

// Dialer produces a connected, authenticated Session from a connection
// descriptor.
type Dialer func(cfg *types.RemoteConfig) (Session, error)

// DialIMAP is the production Dialer backed by go-imap's client.
func DialIMAP(cfg *types.RemoteConfig) (Session, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var cl *client.Client
	var err error
	if cfg.TLS {
		cl, err = client.DialTLS(addr, &tls.Config{
			ServerName:         cfg.Host,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.TLSSkipVerify,
		})
	} else {
		cl, err = client.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := cl.Login(cfg.Username, cfg.Password); err != nil {
		cl.Logout() //nolint:errcheck
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	return &imapSession{client: cl}, nil
}

// imapSession adapts go-imap's channel-streamed client to the Session
// interface.
type imapSession struct {
	client *client.Client
}

func (s *imapSession) ListMailboxes() ([]*imap.MailboxInfo, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- s.client.List("", "*", mailboxes)
	}()

	var infos []*imap.MailboxInfo
	for m := range mailboxes {
		infos = append(infos, m)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list mailboxes: %w", err)
	}
	return infos, nil
}

func (s *imapSession) Status(name string) (*imap.MailboxStatus, error) {
	status, err := s.client.Status(name, []imap.StatusItem{imap.StatusMessages, imap.StatusUnseen})
	if err != nil {
		return nil, fmt.Errorf("failed to get mailbox status: %w", err)
	}
	return status, nil
}

func (s *imapSession) Select(name string) (*imap.MailboxStatus, error) {
	mbox, err := s.client.Select(name, false)
	if err != nil {
		return nil, fmt.Errorf("failed to select mailbox: %w", err)
	}
	return mbox, nil
}

func (s *imapSession) Fetch(seqSet *imap.SeqSet, items []imap.FetchItem) ([]*imap.Message, error) {
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)

	go func() {
		done <- s.client.Fetch(seqSet, items, messages)
	}()

	var msgs []*imap.Message
	for msg := range messages {
		msgs = append(msgs, msg)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return msgs, nil
}

func (s *imapSession) AddFlags(seqSet *imap.SeqSet, flags ...string) error {
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	values := make([]interface{}, len(flags))
	for i, f := range flags {
		values[i] = f
	}
	if err := s.client.Store(seqSet, item, values, nil); err != nil {
		return fmt.Errorf("failed to store flags: %w", err)
	}
	return nil
}

func (s *imapSession) Append(mailbox string, flags []string, date time.Time, raw []byte) error {
	if err := s.client.Append(mailbox, flags, date, bytes.NewBuffer(raw)); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (s *imapSession) Logout() error {
	return s.client.Logout()
}
