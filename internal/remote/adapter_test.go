package remote

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonc1987/fastmail/internal/cache"
	"github.com/jonc1987/fastmail/pkg/types"
)

type appendCall struct {
	mailbox string
	flags   []string
	raw     []byte
}

type flagCall struct {
	mailbox string
	flags   []string
}

// fakeSession scripts the remote server for one or more operations.
type fakeSession struct {
	infos      []*imap.MailboxInfo
	statuses   map[string]*imap.MailboxStatus
	statusErrs map[string]error
	selectable map[string]*imap.MailboxStatus
	messages   map[string][]*imap.Message

	cur        string
	appends    []appendCall
	flagCalls  []flagCall
	fetchSets  []*imap.SeqSet
	listCalls  int
	fetchCalls int
	logouts    int
}

func (f *fakeSession) ListMailboxes() ([]*imap.MailboxInfo, error) {
	f.listCalls++
	return f.infos, nil
}

func (f *fakeSession) Status(name string) (*imap.MailboxStatus, error) {
	if err, ok := f.statusErrs[name]; ok {
		return nil, err
	}
	if st, ok := f.statuses[name]; ok {
		return st, nil
	}
	return nil, errors.New("no status")
}

func (f *fakeSession) Select(name string) (*imap.MailboxStatus, error) {
	st, ok := f.selectable[name]
	if !ok {
		return nil, errors.New("no such mailbox")
	}
	f.cur = name
	return st, nil
}

func (f *fakeSession) Fetch(seqSet *imap.SeqSet, items []imap.FetchItem) ([]*imap.Message, error) {
	f.fetchCalls++
	f.fetchSets = append(f.fetchSets, seqSet)
	var out []*imap.Message
	for _, msg := range f.messages[f.cur] {
		if seqSet.Contains(msg.SeqNum) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (f *fakeSession) AddFlags(seqSet *imap.SeqSet, flags ...string) error {
	f.flagCalls = append(f.flagCalls, flagCall{mailbox: f.cur, flags: flags})
	return nil
}

func (f *fakeSession) Append(mailbox string, flags []string, date time.Time, raw []byte) error {
	f.appends = append(f.appends, appendCall{mailbox: mailbox, flags: flags, raw: raw})
	if st, ok := f.selectable[mailbox]; ok {
		st.Messages++
	} else {
		if f.selectable == nil {
			f.selectable = map[string]*imap.MailboxStatus{}
		}
		f.selectable[mailbox] = &imap.MailboxStatus{Messages: 1}
	}
	return nil
}

func (f *fakeSession) Logout() error {
	f.logouts++
	return nil
}

func newTestAdapter(t *testing.T, sess Session) *Adapter {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	c, err := cache.NewCache(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	dial := func(cfg *types.RemoteConfig) (Session, error) { return sess, nil }
	return NewAdapter(dial, cache.NewStore(c, logger), logger)
}

func remoteUser() *types.User {
	return &types.User{
		ID:    "u1",
		Email: "alice@example.com",
		Remote: &types.RemoteConfig{
			Host:     "mail.example.com",
			Port:     993,
			TLS:      true,
			Username: "alice@example.com",
			Password: "secret",
		},
	}
}

func envelope(from, subject string, date time.Time) *imap.Envelope {
	return &imap.Envelope{
		Date:    date,
		Subject: subject,
		From: []*imap.Address{{
			PersonalName: "Bob",
			MailboxName:  from,
			HostName:     "example.com",
		}},
		To: []*imap.Address{{
			MailboxName: "alice",
			HostName:    "example.com",
		}},
	}
}

func TestListMailboxesOrderAndCounts(t *testing.T) {
	sess := &fakeSession{
		infos: []*imap.MailboxInfo{
			{Name: "Trash"},
			{Name: "Junk"},
			{Name: "[Gmail]", Attributes: []string{imap.NoSelectAttr}},
			{Name: "Sent"},
			{Name: "Archive"},
			{Name: "INBOX"},
		},
		statuses: map[string]*imap.MailboxStatus{
			"INBOX":   {Messages: 5, Unseen: 2},
			"Trash":   {Messages: 1},
			"Junk":    {},
			"Archive": {Messages: 3},
		},
		statusErrs: map[string]error{"Sent": errors.New("status failed")},
	}
	a := newTestAdapter(t, sess)

	boxes, err := a.ListMailboxes(remoteUser())
	require.NoError(t, err)
	require.Len(t, boxes, 5)

	names := make([]string, len(boxes))
	for i, b := range boxes {
		names[i] = b.Name
	}
	assert.Equal(t, []string{"INBOX", "Sent", "Archive", "Junk", "Trash"}, names)

	assert.Equal(t, 5, boxes[0].Total)
	assert.Equal(t, 2, boxes[0].Unread)
	// STATUS failure tolerated with zeroes.
	assert.Equal(t, 0, boxes[1].Total)
	assert.Equal(t, 0, boxes[1].Unread)

	assert.Equal(t, 1, sess.logouts)
}

func TestListMessagesMapsAndCaches(t *testing.T) {
	date := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	sess := &fakeSession{
		selectable: map[string]*imap.MailboxStatus{
			"INBOX": {Messages: 1},
		},
		messages: map[string][]*imap.Message{
			"INBOX": {{
				SeqNum:       1,
				Envelope:     envelope("bob", "Hello", date),
				InternalDate: date,
			}},
		},
	}
	a := newTestAdapter(t, sess)
	user := remoteUser()

	msgs, err := a.ListMessages(user, "INBOX")
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	msg := msgs[0]
	assert.Equal(t, "1", msg.ID)
	assert.Equal(t, "Bob <bob@example.com>", msg.From)
	assert.Equal(t, "alice@example.com", msg.To)
	assert.Equal(t, "Hello", msg.Subject)
	assert.Equal(t, types.StatusUnread, msg.Status)
	assert.Equal(t, "INBOX", msg.Mailbox)
	assert.True(t, msg.CreatedAt.Equal(date))
}

func TestListMessagesFetchWindow(t *testing.T) {
	base := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	var scripted []*imap.Message
	for i := uint32(1); i <= 60; i++ {
		when := base.Add(time.Duration(i) * time.Minute)
		scripted = append(scripted, &imap.Message{
			SeqNum:       i,
			Envelope:     envelope("bob", fmt.Sprintf("message %d", i), when),
			InternalDate: when,
		})
	}
	sess := &fakeSession{
		selectable: map[string]*imap.MailboxStatus{"INBOX": {Messages: 60}},
		messages:   map[string][]*imap.Message{"INBOX": scripted},
	}
	a := newTestAdapter(t, sess)

	msgs, err := a.ListMessages(remoteUser(), "INBOX")
	require.NoError(t, err)
	require.Len(t, msgs, 50)

	// Only the newest 50 sequence numbers are requested.
	require.Len(t, sess.fetchSets, 1)
	set := sess.fetchSets[0]
	assert.False(t, set.Contains(10))
	assert.True(t, set.Contains(11))
	assert.True(t, set.Contains(60))

	assert.Equal(t, "60", msgs[0].ID)
	assert.Equal(t, "11", msgs[49].ID)
}

func TestListMessagesMissingMailboxEmpty(t *testing.T) {
	sess := &fakeSession{}
	a := newTestAdapter(t, sess)

	msgs, err := a.ListMessages(remoteUser(), "Nope")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestListMessagesSeenFlag(t *testing.T) {
	sess := &fakeSession{
		selectable: map[string]*imap.MailboxStatus{"INBOX": {Messages: 1}},
		messages: map[string][]*imap.Message{
			"INBOX": {{
				SeqNum:   1,
				Envelope: envelope("bob", "Hello", time.Now()),
				Flags:    []string{imap.SeenFlag},
			}},
		},
	}
	a := newTestAdapter(t, sess)

	msgs, err := a.ListMessages(remoteUser(), "INBOX")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, types.StatusRead, msgs[0].Status)
}

func TestSubjectFallback(t *testing.T) {
	sess := &fakeSession{
		selectable: map[string]*imap.MailboxStatus{"INBOX": {Messages: 1}},
		messages: map[string][]*imap.Message{
			"INBOX": {{SeqNum: 1, Envelope: envelope("bob", "", time.Now())}},
		},
	}
	a := newTestAdapter(t, sess)

	msgs, err := a.ListMessages(remoteUser(), "INBOX")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "(no subject)", msgs[0].Subject)
}

func TestMarkReadRemote(t *testing.T) {
	sess := &fakeSession{
		selectable: map[string]*imap.MailboxStatus{"INBOX": {Messages: 1}},
		messages: map[string][]*imap.Message{
			"INBOX": {{SeqNum: 1, Envelope: envelope("bob", "Hello", time.Now())}},
		},
	}
	a := newTestAdapter(t, sess)
	user := remoteUser()

	_, err := a.ListMessages(user, "INBOX")
	require.NoError(t, err)

	msg, err := a.MarkRead(user, "1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRead, msg.Status)

	require.Len(t, sess.flagCalls, 1)
	assert.Equal(t, "INBOX", sess.flagCalls[0].mailbox)
	assert.Equal(t, []string{imap.SeenFlag}, sess.flagCalls[0].flags)

	// Second call succeeds; adding a present flag is a remote no-op.
	again, err := a.MarkRead(user, "1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRead, again.Status)
}

func TestMarkReadUncached(t *testing.T) {
	a := newTestAdapter(t, &fakeSession{})

	_, err := a.MarkRead(remoteUser(), "42")
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

func TestGetMessageLazyBodyFetch(t *testing.T) {
	raw := "Subject: Hello\r\nContent-Type: text/plain; charset=utf-8\r\n\r\nplain body here"
	section := &imap.BodySectionName{}
	date := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

	sess := &fakeSession{
		selectable: map[string]*imap.MailboxStatus{"INBOX": {Messages: 1}},
		messages: map[string][]*imap.Message{
			"INBOX": {{
				SeqNum:       1,
				Envelope:     envelope("bob", "Hello", date),
				InternalDate: date,
				Body: map[*imap.BodySectionName]imap.Literal{
					section: bytes.NewBufferString(raw),
				},
			}},
		},
	}
	a := newTestAdapter(t, sess)
	user := remoteUser()

	_, err := a.ListMessages(user, "INBOX")
	require.NoError(t, err)
	fetchesAfterList := sess.fetchCalls

	msg, err := a.GetMessage(user, "1")
	require.NoError(t, err)
	assert.Equal(t, "plain body here", msg.Body)
	assert.Equal(t, "Bob <bob@example.com>", msg.From)
	assert.Equal(t, sess.fetchCalls, fetchesAfterList+1)

	// A populated body short-circuits to the cache.
	again, err := a.GetMessage(user, "1")
	require.NoError(t, err)
	assert.Equal(t, "plain body here", again.Body)
	assert.Equal(t, fetchesAfterList+1, sess.fetchCalls)
}

func TestGetMessageNonNumericID(t *testing.T) {
	sess := &fakeSession{}
	a := newTestAdapter(t, sess)
	user := remoteUser()

	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	cached := &types.Message{
		ID: "0c9f0b38-3f4e-4adf-9d0b-6f2d4f8f4a21", From: "bob@example.com",
		To: user.Email, Subject: "Hello", Status: types.StatusUnread,
		Mailbox: "INBOX", CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, a.cache.UpsertMessage(user.ID, cached))

	// No remote sequence number to refetch by; the cached record wins.
	got, err := a.GetMessage(user, cached.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", got.Subject)
	assert.Empty(t, got.Body)
	assert.Equal(t, 0, sess.fetchCalls)
}

func TestGetMessageUncached(t *testing.T) {
	a := newTestAdapter(t, &fakeSession{})

	_, err := a.GetMessage(remoteUser(), "7")
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

func TestAppendSentExplicitMailbox(t *testing.T) {
	sess := &fakeSession{}
	a := newTestAdapter(t, sess)

	user := remoteUser()
	user.Remote.SentMailbox = "Custom/Sent"

	now := time.Now()
	msg := &types.Message{
		ID: "pending", From: user.Email, To: "bob@example.com",
		Subject: "Hi", Body: "B", Status: types.StatusSent,
		Mailbox: "sent", CreatedAt: now, UpdatedAt: now, SentAt: &now,
	}

	out, err := a.AppendSent(user, msg)
	require.NoError(t, err)

	require.Len(t, sess.appends, 1)
	assert.Equal(t, "Custom/Sent", sess.appends[0].mailbox)
	assert.Equal(t, []string{imap.SeenFlag}, sess.appends[0].flags)
	assert.Contains(t, string(sess.appends[0].raw), "Subject: Hi")

	// Re-keyed to the provider-assigned sequence id.
	assert.Equal(t, "1", out.ID)
	assert.Equal(t, "Custom/Sent", out.Mailbox)
	assert.Equal(t, types.StatusRead, out.Status)
	// The explicit path never triggers a LIST scan.
	assert.Equal(t, 0, sess.listCalls)
}

func TestAppendSentResolvesSpecialUse(t *testing.T) {
	sess := &fakeSession{
		infos: []*imap.MailboxInfo{
			{Name: "INBOX"},
			{Name: "Outbound", Attributes: []string{imap.SentAttr}},
		},
	}
	a := newTestAdapter(t, sess)
	user := remoteUser()

	msg := &types.Message{ID: "p1", From: user.Email, To: "bob@example.com", Subject: "S", Status: types.StatusSent}
	out, err := a.AppendSent(user, msg)
	require.NoError(t, err)
	assert.Equal(t, "Outbound", out.Mailbox)
	assert.Equal(t, 1, sess.listCalls)

	// The resolved path is cached; the next append skips the scan.
	msg2 := &types.Message{ID: "p2", From: user.Email, To: "bob@example.com", Subject: "S2", Status: types.StatusSent}
	out2, err := a.AppendSent(user, msg2)
	require.NoError(t, err)
	assert.Equal(t, "Outbound", out2.Mailbox)
	assert.Equal(t, 1, sess.listCalls)
}

func TestAppendSentNamedMailbox(t *testing.T) {
	sess := &fakeSession{
		infos: []*imap.MailboxInfo{
			{Name: "INBOX"},
			{Name: "Sent Items"},
		},
	}
	a := newTestAdapter(t, sess)

	msg := &types.Message{ID: "p1", From: "alice@example.com", To: "bob@example.com", Subject: "S", Status: types.StatusSent}
	out, err := a.AppendSent(remoteUser(), msg)
	require.NoError(t, err)
	assert.Equal(t, "Sent Items", out.Mailbox)
}

func TestAppendSentFallbackLiteral(t *testing.T) {
	sess := &fakeSession{
		infos: []*imap.MailboxInfo{{Name: "INBOX"}},
	}
	a := newTestAdapter(t, sess)

	msg := &types.Message{ID: "p1", From: "alice@example.com", To: "bob@example.com", Subject: "S", Status: types.StatusSent}
	out, err := a.AppendSent(remoteUser(), msg)
	require.NoError(t, err)
	assert.Equal(t, "Sent", out.Mailbox)
}

func TestDialFailureIsRemoteError(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	c, err := cache.NewCache(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	dial := func(cfg *types.RemoteConfig) (Session, error) { return nil, errors.New("connection refused") }
	a := NewAdapter(dial, cache.NewStore(c, logger), logger)

	_, err = a.ListMailboxes(remoteUser())
	require.Error(t, err)
	assert.True(t, types.IsRemote(err))
}
