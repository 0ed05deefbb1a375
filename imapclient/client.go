// Package imapclient implements a stateful IMAP client for a mail backend.
//
// A Client owns one connection. A single reader goroutine consumes every line
// the server sends: while a command is in flight, its responses are handed to
// that command; otherwise lines are classified in the background (IDLE
// acknowledgements, EXISTS pushes, BYE). Commands are serialized by a gate,
// and every command transparently interrupts and restores IDLE.
package imapclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mailpulse/mailpulse"
	"github.com/mailpulse/mailpulse/imapresp"
	"github.com/mailpulse/mailpulse/internal/imapwire"
)

const (
	DefaultCommandTimeout    = 30 * time.Second
	DefaultCloseTimeout      = 5 * time.Second
	DefaultIdleTimeout       = 29 * time.Minute
	DefaultIdleRefreshMargin = time.Minute
	DefaultRecentLookback    = 5 * time.Minute
)

// Options contains options for Client.
type Options struct {
	// Raw ingress and egress data will be written to this writer, if any
	DebugWriter io.Writer
	// Logger receives client events. Nil disables logging.
	Logger *zerolog.Logger
	// TLSConfig is used by DialTLS. Nil means the default configuration with
	// the server name taken from the address.
	TLSConfig *tls.Config

	// CommandTimeout bounds every wait for the server: a command response,
	// an IDLE acknowledgement, a DONE completion, the gate.
	CommandTimeout time.Duration
	// CloseTimeout bounds the wait for the reader goroutine in Close.
	CloseTimeout time.Duration

	// IdleTimeout is the server's IDLE timeout. IDLE is refreshed
	// IdleRefreshMargin before it elapses.
	IdleTimeout       time.Duration
	IdleRefreshMargin time.Duration
	// IdleActivationDelay debounces Idle: IDLE is only entered once no new
	// request arrived for this long. Zero enters IDLE immediately.
	IdleActivationDelay time.Duration

	// ListenNewMail records an event for every INBOX growth seen while
	// idling.
	ListenNewMail bool
	// RecentLookback is subtracted from the earliest event time to get the
	// oldest Date header RecentEmails accepts.
	RecentLookback time.Duration
	// OnNewMail is called from the reader goroutine for each new mail event.
	// It must not block nor call Client methods.
	OnNewMail func(NewMailEvent)
}

func (options *Options) wrapReadWriter(rw io.ReadWriter) io.ReadWriter {
	if options.DebugWriter == nil {
		return rw
	}
	return struct {
		io.Reader
		io.Writer
	}{
		Reader: io.TeeReader(rw, options.DebugWriter),
		Writer: io.MultiWriter(rw, options.DebugWriter),
	}
}

func (options *Options) commandTimeout() time.Duration {
	if options.CommandTimeout > 0 {
		return options.CommandTimeout
	}
	return DefaultCommandTimeout
}

func (options *Options) closeTimeout() time.Duration {
	if options.CloseTimeout > 0 {
		return options.CloseTimeout
	}
	return DefaultCloseTimeout
}

// idleRefreshAfter returns how long an IDLE session may last before it is
// refreshed.
func (options *Options) idleRefreshAfter() time.Duration {
	timeout := options.IdleTimeout
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	margin := options.IdleRefreshMargin
	if margin <= 0 {
		margin = DefaultIdleRefreshMargin
	}
	if margin >= timeout {
		return timeout / 2
	}
	return timeout - margin
}

func (options *Options) recentLookback() time.Duration {
	if options.RecentLookback > 0 {
		return options.RecentLookback
	}
	return DefaultRecentLookback
}

// SelectedMailbox describes the currently selected mailbox.
type SelectedMailbox struct {
	Name        string
	ReadOnly    bool
	Exists      uint32
	UIDValidity uint32
	UIDNext     uint32
}

// Client is an IMAP client.
//
// Methods are safe for concurrent use: they queue on a gate so that exactly
// one command is on the wire at a time.
type Client struct {
	conn    net.Conn
	options Options
	logger  zerolog.Logger
	r       *imapwire.Reader
	bw      *bufio.Writer
	bwDst   io.Writer

	encMutex sync.Mutex
	gate     chan struct{}

	closed      chan struct{}
	closeOnce   sync.Once
	readerDone  chan struct{}
	monitorDone chan struct{}
	monitorWake chan struct{}

	mutex     sync.Mutex
	cmdTag    uint64
	state     mailpulse.ConnState
	greeting  *imapresp.Status
	caps      map[string]bool
	utf8      bool
	delim     string
	delimSet  bool
	mailbox   *SelectedMailbox
	inflight  *command
	readErr   error
	// abandoned holds the tags of timed out commands whose completion has
	// not arrived yet. drained is closed once it empties.
	abandoned map[string]bool
	drained   chan struct{}
	search    *mailpulse.SearchResult
	idleState IdleState
	idleCmd   *idleCommand
	idle      *IdleSession
	countdown time.Time
	listening bool
	inbox     inboxTracker
	events    []NewMailEvent
}

// New creates a new IMAP client and reads the server greeting.
func New(conn net.Conn, options *Options) (*Client, error) {
	if options == nil {
		options = &Options{}
	}

	rw := options.wrapReadWriter(conn)
	logger := zerolog.Nop()
	if options.Logger != nil {
		logger = *options.Logger
	}

	c := &Client{
		conn:        conn,
		options:     *options,
		logger:      logger.With().Str("component", "imapclient").Logger(),
		r:           imapwire.NewReader(bufio.NewReader(rw)),
		bw:          bufio.NewWriter(rw),
		bwDst:       rw,
		gate:        make(chan struct{}, 1),
		closed:      make(chan struct{}),
		readerDone:  make(chan struct{}),
		monitorDone: make(chan struct{}),
		monitorWake: make(chan struct{}, 1),
		state:       mailpulse.ConnStateNone,
		caps:        make(map[string]bool),
		listening:   options.ListenNewMail,
	}

	if err := c.readGreeting(); err != nil {
		conn.Close()
		return nil, err
	}

	go c.read()
	go c.monitor()
	return c, nil
}

// Dial connects to an IMAP server without TLS.
func Dial(ctx context.Context, address string, options *Options) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return newWithDeadline(ctx, conn, options)
}

// DialTLS connects to an IMAP server with implicit TLS.
func DialTLS(ctx context.Context, address string, options *Options) (*Client, error) {
	var config *tls.Config
	if options != nil && options.TLSConfig != nil {
		config = options.TLSConfig.Clone()
	} else {
		config = &tls.Config{}
	}
	if config.ServerName == "" {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			return nil, err
		}
		config.ServerName = host
	}

	dialer := tls.Dialer{Config: config}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return newWithDeadline(ctx, conn, options)
}

// newWithDeadline applies the context deadline to the greeting.
func newWithDeadline(ctx context.Context, conn net.Conn, options *Options) (*Client, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	c, err := New(conn, options)
	if err != nil {
		return nil, err
	}
	conn.SetDeadline(time.Time{})
	return c, nil
}

func (c *Client) readGreeting() error {
	timeout := c.options.commandTimeout()
	conn := c.conn
	conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	line, err := c.r.ReadLine()
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return &mailpulse.TimeoutError{Op: "greeting", Timeout: timeout}
		}
		return fmt.Errorf("imapclient: reading greeting: %w", err)
	}
	st, ok := imapresp.ParseStatus(line)
	if !ok || st.Tag != "*" {
		return fmt.Errorf("imapclient: malformed greeting: %q", line)
	}
	switch st.Type {
	case mailpulse.StatusResponseTypeOK:
		c.state = mailpulse.ConnStateNotAuthenticated
	case mailpulse.StatusResponseTypePreAuth:
		c.state = mailpulse.ConnStateAuthenticated
	case mailpulse.StatusResponseTypeBye:
		return &mailpulse.Error{StatusResponse: st.StatusResponse, Command: "greeting", Raw: line}
	default:
		return fmt.Errorf("imapclient: unexpected greeting: %q", line)
	}
	if st.Code == mailpulse.ResponseCodeCapability {
		c.caps = imapresp.Capabilities(st.CodeArg)
	}
	c.greeting = st
	c.logger.Debug().Str("greeting", st.Text).Msg("connected")
	return nil
}

// State returns the current connection state.
func (c *Client) State() mailpulse.ConnState {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// Capabilities returns the capabilities last advertised by the server.
func (c *Client) Capabilities() map[string]bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	caps := make(map[string]bool, len(c.caps))
	for k, v := range c.caps {
		caps[k] = v
	}
	return caps
}

// Has reports whether the server advertised a capability.
func (c *Client) Has(capability string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.caps[strings.ToUpper(capability)]
}

// Mailbox returns a snapshot of the selected mailbox, or nil.
func (c *Client) Mailbox() *SelectedMailbox {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.mailbox == nil {
		return nil
	}
	mbox := *c.mailbox
	return &mbox
}

// Delimiter returns the hierarchy delimiter discovered after login.
func (c *Client) Delimiter() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.delim
}

// Close immediately closes the connection and stops the background
// goroutines. It waits at most Options.CloseTimeout for the reader.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()

		timer := time.NewTimer(c.options.closeTimeout())
		defer timer.Stop()
		for _, done := range []chan struct{}{c.readerDone, c.monitorDone} {
			select {
			case <-done:
			case <-timer.C:
				c.logger.Warn().Msg("background goroutine did not stop in time")
				return
			}
		}
	})
	return err
}

func (c *Client) wakeMonitor() {
	select {
	case c.monitorWake <- struct{}{}:
	default:
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
