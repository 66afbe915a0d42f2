package remote

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"
	"github.com/sirupsen/logrus"

	"github.com/jonc1987/fastmail/internal/cache"
	"github.com/jonc1987/fastmail/pkg/types"
)

// fetchWindow caps how many messages a single listing pulls from a
// remote mailbox, counted back from the newest sequence number.
const fetchWindow = 50

// Mailbox names tried when no "Sent" path is configured and the remote
// advertises no \Sent special-use mailbox.
var sentNames = map[string]bool{
	"sent":          true,
	"sent items":    true,
	"sent messages": true,
}

// Adapter serves the mailbox backend contract against a remote IMAP
// server. Each operation dials a fresh session and always logs out;
// logout failures are logged, never propagated.
type Adapter struct {
	dial   Dialer
	cache  *cache.Store
	logger *logrus.Logger
}

// NewAdapter creates an adapter using the given dialer. A nil dialer
// falls back to the production IMAP dialer.
func NewAdapter(dial Dialer, cacheStore *cache.Store, logger *logrus.Logger) *Adapter {
	if dial == nil {
		dial = DialIMAP
	}
	return &Adapter{
		dial:   dial,
		cache:  cacheStore,
		logger: logger,
	}
}

// withSession runs fn against a fresh session for the user and tears the
// session down afterwards. Connection and protocol failures come back as
// *types.RemoteMailError; domain errors pass through unchanged.
func (a *Adapter) withSession(user *types.User, op string, fn func(Session) error) error {
	sess, err := a.dial(user.Remote)
	if err != nil {
		return types.NewRemoteMailError(op, err)
	}
	defer func() {
		if err := sess.Logout(); err != nil {
			a.logger.WithError(err).WithField("op", op).Warn("Failed to close IMAP session")
		}
	}()

	if err := fn(sess); err != nil {
		if types.IsNotFound(err) || types.IsValidation(err) || types.IsConflict(err) || types.IsRemote(err) {
			return err
		}
		return types.NewRemoteMailError(op, err)
	}
	return nil
}

// ListMailboxes enumerates the remote mailboxes with their counters,
// ordered inbox-first by the fixed mailbox priority.
func (a *Adapter) ListMailboxes(user *types.User) ([]types.MailboxSummary, error) {
	var out []types.MailboxSummary
	err := a.withSession(user, "list mailboxes", func(sess Session) error {
		infos, err := sess.ListMailboxes()
		if err != nil {
			return err
		}
		for _, info := range infos {
			if hasAttr(info.Attributes, imap.NoSelectAttr) {
				continue
			}
			summary := types.MailboxSummary{Name: info.Name}
			status, err := sess.Status(info.Name)
			if err != nil {
				// A mailbox whose STATUS fails still shows up, with zeroes.
				a.logger.WithError(err).WithField("mailbox", info.Name).Debug("Mailbox status failed")
			} else {
				summary.Total = int(status.Messages)
				summary.Unread = int(status.Unseen)
			}
			out = append(out, summary)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		ri, rj := mailboxRank(out[i].Name), mailboxRank(out[j].Name)
		if ri != rj {
			return ri < rj
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// mailboxRank orders mailboxes for display: inbox, sent, drafts, archive,
// spam, trash, everything else.
func mailboxRank(name string) int {
	lower := strings.ToLower(name)
	switch {
	case lower == "inbox":
		return 0
	case strings.Contains(lower, "sent"):
		return 1
	case strings.Contains(lower, "draft"):
		return 2
	case strings.Contains(lower, "archive"):
		return 3
	case strings.Contains(lower, "spam"), strings.Contains(lower, "junk"):
		return 4
	case strings.Contains(lower, "trash"):
		return 5
	default:
		return 6
	}
}

// ListMessages fetches up to the last fetchWindow messages of the named
// mailbox, newest first. A missing or empty mailbox yields an empty list.
func (a *Adapter) ListMessages(user *types.User, mailbox string) ([]*types.Message, error) {
	var out []*types.Message
	err := a.withSession(user, "list messages", func(sess Session) error {
		mbox, err := sess.Select(mailbox)
		if err != nil {
			a.logger.WithError(err).WithField("mailbox", mailbox).Debug("Mailbox select failed, treating as empty")
			return nil
		}
		if mbox.Messages == 0 {
			return nil
		}

		from := uint32(1)
		if mbox.Messages > fetchWindow {
			from = mbox.Messages - fetchWindow + 1
		}
		seqSet := new(imap.SeqSet)
		seqSet.AddRange(from, mbox.Messages)

		items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchInternalDate, imap.FetchUid}
		msgs, err := sess.Fetch(seqSet, items)
		if err != nil {
			return err
		}

		for _, msg := range msgs {
			mapped := a.mapMessage(msg, mailbox)
			if err := a.cache.UpsertMessage(user.ID, mapped); err != nil {
				a.logger.WithError(err).WithField("message_id", mapped.ID).Warn("Failed to cache message")
			}
			out = append(out, mapped)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// GetMessage returns the message by id, fetching and parsing its body
// from the remote on first access.
func (a *Adapter) GetMessage(user *types.User, id string) (*types.Message, error) {
	cached, err := a.cache.GetMessage(user.ID, id)
	if err != nil {
		return nil, err
	}
	if cached == nil {
		return nil, types.NewNotFoundError("message", id)
	}
	if cached.Body != "" {
		return cached, nil
	}

	seq, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		// Not a remote sequence number, so there is nothing to refetch.
		// The cached record is the best answer available.
		return cached, nil
	}

	err = a.withSession(user, "get message", func(sess Session) error {
		if _, err := sess.Select(cached.Mailbox); err != nil {
			return err
		}

		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uint32(seq))

		section := &imap.BodySectionName{}
		items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchInternalDate, section.FetchItem()}
		msgs, err := sess.Fetch(seqSet, items)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return types.NewNotFoundError("message", id)
		}

		msg := msgs[0]
		fresh := a.mapMessage(msg, cached.Mailbox)
		fresh.ID = id
		fresh.Body = a.parseBody(msg, section)

		// Refreshed envelope and flags win; the cached record only
		// survives fields the refetch could not produce.
		cached = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := a.cache.UpsertMessage(user.ID, cached); err != nil {
		a.logger.WithError(err).WithField("message_id", id).Warn("Failed to cache message body")
	}
	return cached, nil
}

// parseBody extracts plain text from the raw message source, falling back
// to the HTML part and then to the raw bytes.
func (a *Adapter) parseBody(msg *imap.Message, section *imap.BodySectionName) string {
	literal := msg.GetBody(section)
	if literal == nil {
		return ""
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(literal); err != nil {
		a.logger.WithError(err).Error("Failed to read message body")
		return ""
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(buf.Bytes()))
	if err != nil {
		a.logger.WithError(err).Debug("Failed to parse MIME body, using raw source")
		return buf.String()
	}
	if env.Text != "" {
		return env.Text
	}
	return env.HTML
}

// MarkRead adds the \Seen flag remotely, then marks the cached record
// read. Adding an already-present flag is a remote no-op, so the call is
// idempotent.
func (a *Adapter) MarkRead(user *types.User, id string) (*types.Message, error) {
	cached, err := a.cache.GetMessage(user.ID, id)
	if err != nil {
		return nil, err
	}
	if cached == nil {
		return nil, types.NewNotFoundError("message", id)
	}

	seq, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return nil, types.NewNotFoundError("message", id)
	}

	err = a.withSession(user, "mark read", func(sess Session) error {
		if _, err := sess.Select(cached.Mailbox); err != nil {
			return err
		}
		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uint32(seq))
		return sess.AddFlags(seqSet, imap.SeenFlag)
	})
	if err != nil {
		return nil, err
	}

	cached.Status = types.StatusRead
	cached.UpdatedAt = time.Now()
	if err := a.cache.UpsertMessage(user.ID, cached); err != nil {
		a.logger.WithError(err).WithField("message_id", id).Warn("Failed to cache read status")
	}
	return cached, nil
}

// AppendSent stores an outbound message into the remote "Sent" mailbox,
// pre-flagged seen, and re-keys it with the provider-assigned sequence id
// and the resolved mailbox path.
func (a *Adapter) AppendSent(user *types.User, msg *types.Message) (*types.Message, error) {
	pendingID := msg.ID
	err := a.withSession(user, "append sent", func(sess Session) error {
		path, err := a.resolveSentMailbox(user, sess)
		if err != nil {
			return err
		}

		raw := buildRawMessage(msg)
		appended := time.Now()
		if err := sess.Append(path, []string{imap.SeenFlag}, appended, raw); err != nil {
			return err
		}

		msg.Mailbox = path
		msg.Status = types.StatusRead
		msg.UpdatedAt = appended

		// The provider assigns the id: the appended message is the
		// mailbox's newest sequence number.
		if mbox, err := sess.Select(path); err == nil && mbox.Messages > 0 {
			msg.ID = strconv.FormatUint(uint64(mbox.Messages), 10)
		} else if err != nil {
			a.logger.WithError(err).WithField("mailbox", path).Warn("Could not read back appended message id")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if msg.ID != pendingID {
		// Drop any record cached under the pre-append id.
		if err := a.cache.DeleteMessage(user.ID, pendingID); err != nil {
			a.logger.WithError(err).Warn("Failed to drop pending cache entry")
		}
	}
	if err := a.cache.UpsertMessage(user.ID, msg); err != nil {
		a.logger.WithError(err).WithField("message_id", msg.ID).Warn("Failed to cache sent message")
	}
	return msg, nil
}

// resolveSentMailbox determines which remote mailbox holds sent mail:
// explicit configuration, then the cached resolution, then a scan for the
// \Sent special use or a conventional name, then the literal "Sent".
func (a *Adapter) resolveSentMailbox(user *types.User, sess Session) (string, error) {
	if user.Remote.SentMailbox != "" {
		return user.Remote.SentMailbox, nil
	}

	cached, err := a.cache.SentMailbox(user.ID)
	if err != nil {
		return "", err
	}
	if cached != "" {
		return cached, nil
	}

	path := "Sent"
	infos, err := sess.ListMailboxes()
	if err != nil {
		return "", err
	}
	for _, info := range infos {
		if hasAttr(info.Attributes, imap.SentAttr) {
			path = info.Name
			break
		}
		if sentNames[strings.ToLower(info.Name)] {
			path = info.Name
		}
	}

	if err := a.cache.SetSentMailbox(user.ID, path); err != nil {
		a.logger.WithError(err).Warn("Failed to cache sent mailbox path")
	}
	return path, nil
}

// mapMessage translates a wire-level message into the service's model.
func (a *Adapter) mapMessage(msg *imap.Message, mailbox string) *types.Message {
	out := &types.Message{
		Mailbox: mailbox,
		Status:  types.StatusUnread,
	}

	if msg.SeqNum != 0 {
		out.ID = strconv.FormatUint(uint64(msg.SeqNum), 10)
	} else {
		out.ID = uuid.NewString()
	}

	if msg.Envelope != nil {
		out.From = formatAddressList(msg.Envelope.From)
		out.To = formatAddressList(msg.Envelope.To)
		out.Subject = msg.Envelope.Subject
	}
	if out.Subject == "" {
		out.Subject = "(no subject)"
	}

	if hasAttr(msg.Flags, imap.SeenFlag) {
		out.Status = types.StatusRead
	}

	switch {
	case !msg.InternalDate.IsZero():
		out.CreatedAt = msg.InternalDate
	case msg.Envelope != nil && !msg.Envelope.Date.IsZero():
		out.CreatedAt = msg.Envelope.Date
	default:
		out.CreatedAt = time.Now()
	}
	out.UpdatedAt = out.CreatedAt

	return out
}

// formatAddressList renders envelope addresses as "Name <addr>" joined
// with ", ".
func formatAddressList(addrs []*imap.Address) string {
	var parts []string
	for _, addr := range addrs {
		if addr == nil {
			continue
		}
		spec := addr.Address()
		if spec == "@" || spec == "" {
			continue
		}
		if addr.PersonalName != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", addr.PersonalName, spec))
		} else {
			parts = append(parts, spec)
		}
	}
	return strings.Join(parts, ", ")
}

// buildRawMessage renders an RFC 822 message from the service model.
func buildRawMessage(msg *types.Message) []byte {
	var buf bytes.Buffer
	date := msg.CreatedAt
	if date.IsZero() {
		date = time.Now()
	}
	buf.WriteString(fmt.Sprintf("From: %s\r\n", msg.From))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", msg.To))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", date.Format(time.RFC1123Z)))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(msg.Body)
	return buf.Bytes()
}

func hasAttr(attrs []string, want string) bool {
	for _, attr := range attrs {
		if strings.EqualFold(attr, want) {
			return true
		}
	}
	return false
}
