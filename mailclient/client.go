// Package mailclient pairs an IMAP connection with an SMTP sender for one
// account, and keeps track of the open clients.
package mailclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mailpulse/mailpulse"
	"github.com/mailpulse/mailpulse/account"
	"github.com/mailpulse/mailpulse/attachment"
	"github.com/mailpulse/mailpulse/imapclient"
	"github.com/mailpulse/mailpulse/smtpsender"
)

// DefaultDisconnectTimeout bounds Disconnect when the context has no
// deadline.
const DefaultDisconnectTimeout = 10 * time.Second

// Sender is the send-capable transport of a Client.
type Sender interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, msg *smtpsender.Message) error
	Close(ctx context.Context) error
}

var _ Sender = (*smtpsender.Sender)(nil)

// Options contains options for Connect.
type Options struct {
	// IMAP is the template for IMAP client options. OnNewMail is replaced
	// when Options.OnNewMail is set.
	IMAP *imapclient.Options
	// SMTP is the template for sender options. Host, port and credentials
	// come from the account.
	SMTP *smtpsender.Options

	// OnNewMail receives the new mail events of every account.
	OnNewMail func(email string, ev imapclient.NewMailEvent)

	Resolver          *attachment.Resolver
	DisconnectTimeout time.Duration
	Logger            *zerolog.Logger

	// DialIMAP connects to the IMAP server. Defaults to imapclient.DialTLS.
	DialIMAP func(ctx context.Context, address string, options *imapclient.Options) (*imapclient.Client, error)
	// NewSender creates the SMTP transport. Defaults to smtpsender.New.
	NewSender func(options *smtpsender.Options) Sender
}

func (o *Options) logger() zerolog.Logger {
	if o.Logger == nil {
		return zerolog.Nop()
	}
	return *o.Logger
}

// Client is a connected account.
type Client struct {
	Email string
	IMAP  *imapclient.Client
	SMTP  Sender

	from              string
	resolver          *attachment.Resolver
	disconnectTimeout time.Duration
	logger            zerolog.Logger
}

// Connect resolves the endpoints of acc, then dials and logs in to the IMAP
// and SMTP servers concurrently.
func Connect(ctx context.Context, acc *account.Account, options *Options) (*Client, error) {
	if options == nil {
		options = &Options{}
	}
	if err := acc.Validate(); err != nil {
		return nil, err
	}
	endpoints, err := Endpoints(acc)
	if err != nil {
		return nil, err
	}

	logger := options.logger().With().Str("account", acc.Email).Logger()

	var imapOptions imapclient.Options
	if options.IMAP != nil {
		imapOptions = *options.IMAP
	}
	if imapOptions.Logger == nil {
		imapOptions.Logger = &logger
	}
	if options.OnNewMail != nil {
		email, onNewMail := acc.Email, options.OnNewMail
		imapOptions.OnNewMail = func(ev imapclient.NewMailEvent) {
			onNewMail(email, ev)
		}
	}

	var smtpOptions smtpsender.Options
	if options.SMTP != nil {
		smtpOptions = *options.SMTP
	}
	smtpOptions.Host = endpoints.SMTPHost
	smtpOptions.Port = endpoints.SMTPPort
	smtpOptions.Username = acc.Login()
	smtpOptions.Password = acc.Password
	smtpOptions.OAuthToken = acc.OAuthToken
	if smtpOptions.Logger == nil {
		smtpOptions.Logger = &logger
	}

	dial := options.DialIMAP
	if dial == nil {
		dial = imapclient.DialTLS
	}
	var sender Sender
	if options.NewSender != nil {
		sender = options.NewSender(&smtpOptions)
	} else {
		sender = smtpsender.New(&smtpOptions)
	}

	var imap *imapclient.Client
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := net.JoinHostPort(endpoints.IMAPHost, strconv.Itoa(endpoints.IMAPPort))
		c, err := dial(gctx, addr, &imapOptions)
		if err != nil {
			return fmt.Errorf("mailclient: connecting to %s: %w", addr, err)
		}
		imap = c
		login := c.Login
		if acc.OAuthToken != "" {
			login = c.LoginOAuth2
		}
		if err := login(gctx, acc.Login(), credential(acc)); err != nil {
			return fmt.Errorf("mailclient: IMAP login: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := sender.Connect(gctx); err != nil {
			return fmt.Errorf("mailclient: SMTP: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		if imap != nil {
			imap.Close()
		}
		sender.Close(context.Background())
		return nil, err
	}

	timeout := options.DisconnectTimeout
	if timeout <= 0 {
		timeout = DefaultDisconnectTimeout
	}
	logger.Info().Str("imap", endpoints.IMAPHost).Str("smtp", endpoints.SMTPHost).Msg("connected")
	return &Client{
		Email:             acc.Email,
		IMAP:              imap,
		SMTP:              sender,
		from:              acc.Email,
		resolver:          options.Resolver,
		disconnectTimeout: timeout,
		logger:            logger,
	}, nil
}

func credential(acc *account.Account) string {
	if acc.OAuthToken != "" {
		return acc.OAuthToken
	}
	return acc.Password
}

// Alive reports whether the IMAP session is still usable.
func (c *Client) Alive() bool {
	return c.IMAP.State() != mailpulse.ConnStateLoggedOut
}

// DisconnectError reports the sides which failed to disconnect.
type DisconnectError struct {
	IMAP error
	SMTP error
}

func (err *DisconnectError) Error() string {
	switch {
	case err.IMAP != nil && err.SMTP != nil:
		return fmt.Sprintf("mailclient: disconnect: IMAP: %v; SMTP: %v", err.IMAP, err.SMTP)
	case err.IMAP != nil:
		return fmt.Sprintf("mailclient: disconnect: IMAP: %v", err.IMAP)
	default:
		return fmt.Sprintf("mailclient: disconnect: SMTP: %v", err.SMTP)
	}
}

func (err *DisconnectError) Unwrap() []error {
	var errs []error
	for _, e := range []error{err.IMAP, err.SMTP} {
		if e != nil {
			errs = append(errs, e)
		}
	}
	return errs
}

func isTimeout(err error) bool {
	if errors.Is(err, mailpulse.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Disconnect logs out of both servers concurrently. A side which times out
// is logged and considered disconnected; other failures are returned as a
// *DisconnectError. The IMAP connection is closed in every case.
func (c *Client) Disconnect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.disconnectTimeout)
	defer cancel()

	var derr DisconnectError
	var g errgroup.Group
	g.Go(func() error {
		err := c.IMAP.Logout(ctx)
		if err != nil && !errors.Is(err, mailpulse.ErrLoggedOut) {
			if isTimeout(err) {
				c.logger.Warn().Err(err).Msg("IMAP logout timed out")
			} else {
				derr.IMAP = err
			}
		}
		c.IMAP.Close()
		return nil
	})
	g.Go(func() error {
		if err := c.SMTP.Close(ctx); err != nil {
			if isTimeout(err) {
				c.logger.Warn().Err(err).Msg("SMTP quit timed out")
			} else {
				derr.SMTP = err
			}
		}
		return nil
	})
	g.Wait()

	if derr.IMAP != nil || derr.SMTP != nil {
		return &derr
	}
	c.logger.Info().Msg("disconnected")
	return nil
}

// Draft is a message to send. Attachment and inline references are resolved
// with the attachment resolver before sending.
type Draft struct {
	smtpsender.Message

	AttachmentRefs []string
	InlineRefs     []string
}

// Send resolves the draft attachments and sends it. From defaults to the
// account address. A regular attachment which fails to resolve aborts the
// send; an inline one is logged and skipped.
func (c *Client) Send(ctx context.Context, draft *Draft) (string, error) {
	msg := draft.Message
	if msg.From == "" {
		msg.From = c.from
	}
	msg.Attachments = append([]mailpulse.Attachment(nil), draft.Attachments...)

	resolver := c.resolver
	if resolver == nil {
		resolver = &attachment.Resolver{Logger: &c.logger}
	}
	for i := range msg.Attachments {
		if err := resolver.Complete(ctx, &msg.Attachments[i]); err != nil {
			return "", fmt.Errorf("mailclient: attachment %q: %w", msg.Attachments[i].Name, err)
		}
	}
	for _, ref := range draft.AttachmentRefs {
		att, err := resolver.Resolve(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("mailclient: attachment: %w", err)
		}
		msg.Attachments = append(msg.Attachments, *att)
	}
	for _, ref := range draft.InlineRefs {
		att, err := resolver.ResolveInline(ctx, ref)
		if err != nil {
			c.logger.Warn().Err(err).Msg("skipping inline attachment")
			continue
		}
		msg.Attachments = append(msg.Attachments, *att)
	}

	if err := c.SMTP.Send(ctx, &msg); err != nil {
		return "", err
	}
	draft.MessageID = msg.MessageID
	draft.Date = msg.Date
	return fmt.Sprintf("Email sent to %d recipients", len(msg.Recipients())), nil
}

// Result is the outcome envelope of an operation.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ResultOf turns the outcome of an operation into a Result.
func ResultOf(msg string, err error) Result {
	if err != nil {
		return Result{Success: false, Message: err.Error()}
	}
	return Result{Success: true, Message: msg}
}
