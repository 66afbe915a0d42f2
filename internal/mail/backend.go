package mail

import "github.com/jonc1987/fastmail/pkg/types"

// Backend is the mailbox contract both storage backends satisfy: the
// in-memory store and the remote protocol adapter. The service resolves
// one backend per user and dispatches every mailbox operation through it.
type Backend interface {
	ListMailboxes(user *types.User) ([]types.MailboxSummary, error)
	ListMessages(user *types.User, mailbox string) ([]*types.Message, error)
	GetMessage(user *types.User, id string) (*types.Message, error)
	MarkRead(user *types.User, id string) (*types.Message, error)
	AppendSent(user *types.User, msg *types.Message) (*types.Message, error)
}
