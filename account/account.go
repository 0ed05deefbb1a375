// Package account looks up the credentials of mail accounts.
package account

import (
	"context"
	"net/mail"
	"strings"

	"github.com/mailpulse/mailpulse"
)

// Account holds the credentials of one mailbox.
//
// Hosts and ports are optional; when empty the provider table keyed by the
// address domain is used.
type Account struct {
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	// OAuthToken is an OAuth 2.0 access token used instead of Password.
	OAuthToken string `json:"oauth_token,omitempty"`

	IMAPHost string `json:"imap_host,omitempty"`
	IMAPPort int    `json:"imap_port,omitempty"`
	SMTPHost string `json:"smtp_host,omitempty"`
	SMTPPort int    `json:"smtp_port,omitempty"`
}

// Login returns the user name to authenticate with: Username when set, the
// address otherwise.
func (a *Account) Login() string {
	if a.Username != "" {
		return a.Username
	}
	return a.Email
}

// Domain returns the lower-cased domain of the address.
func (a *Account) Domain() string {
	i := strings.LastIndexByte(a.Email, '@')
	if i < 0 {
		return ""
	}
	return strings.ToLower(a.Email[i+1:])
}

// Validate checks the address and that a password or token is present.
func (a *Account) Validate() error {
	addr, err := mail.ParseAddress(a.Email)
	if err != nil || addr.Address != a.Email {
		return &mailpulse.ValidationError{Field: "email", Value: a.Email, Reason: "not a bare address"}
	}
	if a.Password == "" && a.OAuthToken == "" {
		return &mailpulse.ValidationError{Field: "password", Reason: "empty"}
	}
	for _, port := range []int{a.IMAPPort, a.SMTPPort} {
		if port < 0 || port > 65535 {
			return &mailpulse.ValidationError{Field: "port", Reason: "out of range"}
		}
	}
	return nil
}

// Key returns the normalized lookup key of an address.
func Key(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Store looks up accounts by address. A missing account is reported with an
// error wrapping mailpulse.ErrNotFound.
type Store interface {
	Account(ctx context.Context, email string) (*Account, error)
}
