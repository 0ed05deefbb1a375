// Package smtpsender sends composed messages over SMTP with STARTTLS.
package smtpsender

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/rs/zerolog"

	"github.com/mailpulse/mailpulse/internal"
)

// DefaultPort is the submission port.
const DefaultPort = 587

const defaultTimeout = 30 * time.Second

// Options contains options for a Sender.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string
	// OAuthToken selects XOAUTH2 over PLAIN.
	OAuthToken string

	// TLSConfig is used for STARTTLS. ServerName defaults to Host.
	TLSConfig *tls.Config
	// AllowInsecure permits sending when the server does not advertise
	// STARTTLS.
	AllowInsecure bool
	// Timeout bounds dialing and each SMTP exchange. Defaults to 30s.
	Timeout time.Duration

	Logger *zerolog.Logger
}

func (o *Options) port() int {
	if o.Port == 0 {
		return DefaultPort
	}
	return o.Port
}

func (o *Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return defaultTimeout
	}
	return o.Timeout
}

// Sender keeps one authenticated SMTP session open. It is safe for concurrent
// use; sends are serialized.
type Sender struct {
	options Options
	logger  zerolog.Logger

	mutex  sync.Mutex
	conn   net.Conn
	client *smtp.Client
}

// New creates a Sender. It does not connect.
func New(options *Options) *Sender {
	s := &Sender{logger: zerolog.Nop()}
	if options != nil {
		s.options = *options
	}
	if s.options.Logger != nil {
		s.logger = *s.options.Logger
	}
	s.logger = s.logger.With().Str("component", "smtp").Str("host", s.options.Host).Logger()
	return s
}

// Connect dials the server, upgrades the connection with STARTTLS and
// authenticates.
func (s *Sender) Connect(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.connect(ctx)
}

func (s *Sender) connect(ctx context.Context) error {
	if s.client != nil {
		s.closeLocked()
	}

	addr := net.JoinHostPort(s.options.Host, strconv.Itoa(s.options.port()))
	dialer := net.Dialer{Timeout: s.options.timeout()}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtpsender: dial to %s: %w", addr, err)
	}
	s.setDeadline(ctx, conn)

	client, err := smtp.NewClient(conn, s.options.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtpsender: creating SMTP client: %w", err)
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := s.options.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{ServerName: s.options.Host}
		} else if tlsConfig.ServerName == "" {
			tlsConfig = tlsConfig.Clone()
			tlsConfig.ServerName = s.options.Host
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return fmt.Errorf("smtpsender: STARTTLS: %w", err)
		}
	} else if !s.options.AllowInsecure {
		client.Close()
		return fmt.Errorf("smtpsender: %s does not support STARTTLS", addr)
	}

	if s.options.Username != "" {
		var auth smtp.Auth
		if s.options.OAuthToken != "" {
			auth = saslAuth{internal.NewXOAuth2Client(s.options.Username, s.options.OAuthToken)}
		} else {
			auth = smtp.PlainAuth("", s.options.Username, s.options.Password, s.options.Host)
		}
		if err := client.Auth(auth); err != nil {
			client.Close()
			return fmt.Errorf("smtpsender: auth: %w", err)
		}
	}

	s.conn = conn
	s.client = client
	s.logger.Debug().Str("addr", addr).Msg("connected")
	return nil
}

// saslAuth adapts a SASL client to net/smtp.
type saslAuth struct {
	sasl.Client
}

func (a saslAuth) Start(*smtp.ServerInfo) (string, []byte, error) {
	return a.Client.Start()
}

func (a saslAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	return a.Client.Next(fromServer)
}

func (s *Sender) setDeadline(ctx context.Context, conn net.Conn) {
	deadline := time.Now().Add(s.options.timeout())
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)
}

// Connected reports whether a session is open.
func (s *Sender) Connected() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.client != nil
}

// Send composes msg and sends it to every recipient, Bcc included. A session
// that went stale is reconnected once.
func (s *Sender) Send(ctx context.Context, msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	b, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("smtpsender: composing message: %w", err)
	}
	from, _ := mail.ParseAddress(msg.From)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.client != nil {
		s.setDeadline(ctx, s.conn)
		if err := s.client.Noop(); err != nil {
			s.logger.Debug().Err(err).Msg("session went stale, reconnecting")
			s.closeLocked()
		}
	}
	if s.client == nil {
		if err := s.connect(ctx); err != nil {
			return err
		}
	}
	s.setDeadline(ctx, s.conn)

	if err := s.transmit(from.Address, msg.Recipients(), b); err != nil {
		if rerr := s.client.Reset(); rerr != nil {
			s.closeLocked()
		}
		return err
	}
	s.logger.Info().
		Str("message_id", msg.MessageID).
		Int("recipients", len(msg.Recipients())).
		Msg("message sent")
	return nil
}

func (s *Sender) transmit(from string, rcpts []string, body []byte) error {
	if err := s.client.Mail(from); err != nil {
		return fmt.Errorf("smtpsender: MAIL FROM: %w", err)
	}
	for _, rcpt := range rcpts {
		if err := s.client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtpsender: RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := s.client.Data()
	if err != nil {
		return fmt.Errorf("smtpsender: DATA: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		w.Close()
		return fmt.Errorf("smtpsender: writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtpsender: closing message: %w", err)
	}
	return nil
}

// Close sends QUIT and closes the connection. Closing a Sender which is not
// connected is a no-op.
func (s *Sender) Close(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.client == nil {
		return nil
	}
	s.setDeadline(ctx, s.conn)
	err := s.client.Quit()
	s.closeLocked()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("smtpsender: QUIT: %w", err)
	}
	return nil
}

func (s *Sender) closeLocked() {
	s.client.Close()
	s.client = nil
	s.conn = nil
}
