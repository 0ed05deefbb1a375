package mailclient

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mailpulse/mailpulse/account"
)

// ErrUnknownProvider is returned for an address whose domain is not in the
// provider table and whose account carries no explicit hosts.
var ErrUnknownProvider = errors.New("mailclient: unknown mail provider")

const (
	defaultIMAPPort = 993
	defaultSMTPPort = 587
)

// Provider holds the server endpoints of a mail provider.
type Provider struct {
	IMAPHost string
	IMAPPort int
	SMTPHost string
	SMTPPort int
}

func provider(imapHost, smtpHost string) Provider {
	return Provider{IMAPHost: imapHost, IMAPPort: defaultIMAPPort, SMTPHost: smtpHost, SMTPPort: defaultSMTPPort}
}

var providers = map[string]Provider{
	"gmail.com":      provider("imap.gmail.com", "smtp.gmail.com"),
	"googlemail.com": provider("imap.gmail.com", "smtp.gmail.com"),
	"outlook.com":    provider("outlook.office365.com", "smtp.office365.com"),
	"hotmail.com":    provider("outlook.office365.com", "smtp.office365.com"),
	"live.com":       provider("outlook.office365.com", "smtp.office365.com"),
	"office365.com":  provider("outlook.office365.com", "smtp.office365.com"),
	"yahoo.com":      provider("imap.mail.yahoo.com", "smtp.mail.yahoo.com"),
	"icloud.com":     provider("imap.mail.me.com", "smtp.mail.me.com"),
	"me.com":         provider("imap.mail.me.com", "smtp.mail.me.com"),
	"mac.com":        provider("imap.mail.me.com", "smtp.mail.me.com"),
	"aol.com":        provider("imap.aol.com", "smtp.aol.com"),
	"zoho.com":       provider("imap.zoho.com", "smtp.zoho.com"),
	"gmx.com":        provider("imap.gmx.com", "mail.gmx.com"),
	"fastmail.com":   provider("imap.fastmail.com", "smtp.fastmail.com"),
	"yandex.com":     provider("imap.yandex.com", "smtp.yandex.com"),
}

// LookupProvider returns the endpoints for an email domain.
func LookupProvider(domain string) (Provider, error) {
	p, ok := providers[strings.ToLower(domain)]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %q", ErrUnknownProvider, domain)
	}
	return p, nil
}

// Endpoints returns the endpoints for acc. Hosts set on the account take
// precedence over the provider table; ports default to 993 and 587.
func Endpoints(acc *account.Account) (Provider, error) {
	var p Provider
	if acc.IMAPHost == "" || acc.SMTPHost == "" {
		var err error
		p, err = LookupProvider(acc.Domain())
		if err != nil {
			return Provider{}, err
		}
	}
	if acc.IMAPHost != "" {
		p.IMAPHost, p.IMAPPort = acc.IMAPHost, defaultIMAPPort
	}
	if acc.SMTPHost != "" {
		p.SMTPHost, p.SMTPPort = acc.SMTPHost, defaultSMTPPort
	}
	if acc.IMAPPort != 0 {
		p.IMAPPort = acc.IMAPPort
	}
	if acc.SMTPPort != 0 {
		p.SMTPPort = acc.SMTPPort
	}
	return p, nil
}
