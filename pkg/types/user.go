package types

// RemoteConfig describes how to reach a user's mailboxes on a remote
// IMAP server. A nil RemoteConfig means the user is in-memory backed.
type RemoteConfig struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	TLS           bool   `json:"tls"`
	Username      string `json:"username"`
	Password      string `json:"-"`
	SentMailbox   string `json:"sent_mailbox,omitempty"`
	TLSSkipVerify bool   `json:"tls_skip_verify,omitempty"`
}

// User is a provisioned account. CredentialHash is never exposed at the
// API boundary; use Info for a public-safe projection.
type User struct {
	ID             string
	Email          string
	Name           string
	CredentialHash string
	Remote         *RemoteConfig
}

// UserInfo is the public-safe projection of a User.
type UserInfo struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	RemoteHost string `json:"remote_host,omitempty"`
	RemoteUser string `json:"remote_user,omitempty"`
}

// Info returns the public-safe projection of the user.
func (u *User) Info() UserInfo {
	info := UserInfo{
		ID:    u.ID,
		Email: u.Email,
		Name:  u.Name,
	}
	if u.Remote != nil {
		info.RemoteHost = u.Remote.Host
		info.RemoteUser = u.Remote.Username
	}
	return info
}
