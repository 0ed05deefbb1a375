package imapclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mailpulse/mailpulse"
	"github.com/mailpulse/mailpulse/imapresp"
	"github.com/mailpulse/mailpulse/internal/imapwire"
)

// command is a command in flight. Its fields are protected by Client.mutex
// until done is closed.
type command struct {
	tag  string
	name string

	lines  []string
	status *imapresp.Status
	err    error
	done   chan struct{}

	// contReq is a pending synchronizing literal. conts receives other
	// continuation requests, for AUTHENTICATE.
	contReq *imapwire.ContinuationRequest
	conts   chan string
}

// response is the outcome of a completed command.
type response struct {
	Lines  []string
	Status *imapresp.Status
}

// finishLocked completes the command. The caller must hold Client.mutex.
func (cmd *command) finishLocked(st *imapresp.Status, err error) {
	select {
	case <-cmd.done:
		return
	default:
	}
	cmd.status = st
	cmd.err = err
	if cmd.contReq != nil {
		cmd.contReq.Cancel(err)
		cmd.contReq = nil
	}
	close(cmd.done)
}

func (c *Client) nextTagLocked() string {
	c.cmdTag++
	return fmt.Sprintf("T%v", c.cmdTag)
}

// newEncoderLocked returns an encoder for the connection. The caller must
// hold encMutex.
func (c *Client) newEncoderLocked(cmd *command) *imapwire.Encoder {
	c.mutex.Lock()
	utf8, literalPlus := c.utf8, c.caps["LITERAL+"]
	c.mutex.Unlock()

	enc := imapwire.NewEncoder(c.bw)
	enc.QuotedUTF8 = utf8
	enc.LiteralPlus = literalPlus
	if cmd != nil {
		enc.NewContinuationRequest = func() *imapwire.ContinuationRequest {
			c.mutex.Lock()
			defer c.mutex.Unlock()
			select {
			case <-cmd.done:
				return nil
			default:
			}
			req := imapwire.NewContinuationRequest()
			cmd.contReq = req
			timeout := c.options.commandTimeout()
			time.AfterFunc(timeout, func() {
				c.mutex.Lock()
				defer c.mutex.Unlock()
				if cmd.contReq == req {
					req.Cancel(&mailpulse.TimeoutError{Op: cmd.name + " literal", Timeout: timeout})
					cmd.contReq = nil
				}
			})
			return req
		}
	}
	return enc
}

// start registers a command as the one in flight and writes it. args writes
// everything after the command name.
//
// The caller must hold the gate.
func (c *Client) start(name string, args func(enc *imapwire.Encoder)) (*command, error) {
	c.drainAbandoned()

	c.mutex.Lock()
	if c.state == mailpulse.ConnStateLoggedOut {
		err := c.readErr
		c.mutex.Unlock()
		if err == nil {
			err = mailpulse.ErrLoggedOut
		}
		return nil, fmt.Errorf("imapclient: %v: %w", name, err)
	}
	if c.inflight != nil {
		other := c.inflight.name
		c.mutex.Unlock()
		panic("imapclient: command " + name + " started while " + other + " is in flight")
	}
	cmd := &command{
		tag:   c.nextTagLocked(),
		name:  name,
		done:  make(chan struct{}),
		conts: make(chan string, 4),
	}
	c.inflight = cmd
	c.mutex.Unlock()

	c.encMutex.Lock()
	enc := c.newEncoderLocked(cmd)
	enc.Atom(cmd.tag).SP().Atom(name)
	if args != nil {
		args(enc)
	}
	err := enc.CRLF()
	if mailpulse.IsValidation(err) {
		// Nothing reached the wire yet, drop the partial line.
		c.bw.Reset(c.bwDst)
	}
	c.encMutex.Unlock()
	if mailpulse.IsValidation(err) {
		c.mutex.Lock()
		if c.inflight == cmd {
			c.inflight = nil
		}
		cmd.finishLocked(nil, err)
		c.mutex.Unlock()
		return nil, err
	}
	if err != nil {
		c.mutex.Lock()
		if c.inflight == cmd {
			c.inflight = nil
		}
		cmd.finishLocked(nil, err)
		c.mutex.Unlock()
		// The connection is unusable once a write failed.
		return nil, fmt.Errorf("imapclient: writing %v: %w: %w", name, mailpulse.ErrLoggedOut, err)
	}
	return cmd, nil
}

// wait blocks until the command completes or Options.CommandTimeout elapses.
// A NO or BAD completion is returned as a *mailpulse.Error.
func (c *Client) wait(cmd *command) (*response, error) {
	timeout := c.options.commandTimeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-cmd.done:
	case <-timer.C:
		c.abandon(cmd)
		return nil, &mailpulse.TimeoutError{Op: cmd.name, Timeout: timeout}
	}
	return cmd.result()
}

func (cmd *command) result() (*response, error) {
	if cmd.err != nil {
		return nil, cmd.err
	}
	resp := &response{Lines: cmd.lines, Status: cmd.status}
	if cmd.status.Type != mailpulse.StatusResponseTypeOK {
		return resp, &mailpulse.Error{
			StatusResponse: cmd.status.StatusResponse,
			Command:        cmd.name,
			Raw:            cmd.status.Tag + " " + string(cmd.status.Type) + " " + cmd.status.Text,
		}
	}
	return resp, nil
}

// abandon gives up on a command which did not complete in time. Any IDLE
// state is cleared so that later calls do not wait on a dead handshake. The
// tag is remembered until its late completion arrives, see drainAbandoned.
func (c *Client) abandon(cmd *command) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.inflight == cmd {
		c.inflight = nil
		if c.abandoned == nil {
			c.abandoned = make(map[string]bool)
			c.drained = make(chan struct{})
		}
		c.abandoned[cmd.tag] = true
	}
	cmd.finishLocked(nil, &mailpulse.TimeoutError{Op: cmd.name, Timeout: c.options.commandTimeout()})
	c.clearIdleLocked(nil)
	c.logger.Warn().Str("command", cmd.name).Str("tag", cmd.tag).Msg("command timed out")
}

// drainAbandoned waits for the completion of timed out commands, so that
// their late untagged responses are not mistaken for the next command's. A
// server which still has not answered after Options.CommandTimeout is
// assumed to have dropped them.
func (c *Client) drainAbandoned() {
	c.mutex.Lock()
	drained := c.drained
	c.mutex.Unlock()
	if drained == nil {
		return
	}

	timer := time.NewTimer(c.options.commandTimeout())
	defer timer.Stop()
	select {
	case <-drained:
	case <-c.closed:
	case <-timer.C:
		c.mutex.Lock()
		if c.drained == drained {
			tags := make([]string, 0, len(c.abandoned))
			for tag := range c.abandoned {
				tags = append(tags, tag)
			}
			c.logger.Warn().Strs("tags", tags).Msg("timed out commands never completed")
			c.clearAbandonedLocked()
		}
		c.mutex.Unlock()
	}
}

// completeAbandonedLocked reports whether tag belongs to a timed out command,
// forgetting it. The caller must hold Client.mutex.
func (c *Client) completeAbandonedLocked(tag string) bool {
	if !c.abandoned[tag] {
		return false
	}
	delete(c.abandoned, tag)
	if len(c.abandoned) == 0 {
		c.clearAbandonedLocked()
	}
	return true
}

func (c *Client) clearAbandonedLocked() {
	if c.drained != nil {
		close(c.drained)
	}
	c.abandoned = nil
	c.drained = nil
}

// execute starts a command and waits for its completion.
func (c *Client) execute(name string, args func(enc *imapwire.Encoder)) (*response, error) {
	cmd, err := c.start(name, args)
	if err != nil {
		return nil, err
	}
	return c.wait(cmd)
}

// acquire takes the gate. It waits for any IDLE handshake or command in
// progress.
func (c *Client) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := c.options.commandTimeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return fmt.Errorf("imapclient: client closed: %w", mailpulse.ErrLoggedOut)
	case <-timer.C:
		return &mailpulse.TimeoutError{Op: "waiting for connection", Timeout: timeout}
	}
}

func (c *Client) release() {
	<-c.gate
}

// interrupt runs fn with the connection to itself: an active IDLE is
// terminated first and restored afterwards, unless fn logged out. A pending
// IDLE countdown is paused and restarted the same way.
//
// The context only bounds the wait for the gate; once fn starts, commands
// run to completion or to Options.CommandTimeout.
func (c *Client) interrupt(ctx context.Context, name string, fn func() error) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	c.mutex.Lock()
	wasIdle := c.idleState == IdleStateActive || c.idleState == IdleStateCountdown
	if c.idleState == IdleStateCountdown {
		c.idleState = IdleStateNone
	}
	authenticated := c.state == mailpulse.ConnStateAuthenticated || c.state == mailpulse.ConnStateSelected
	c.mutex.Unlock()

	if err := c.exitIdle(); err != nil {
		return c.mapErr(authenticated, err)
	}

	err := fn()

	if wasIdle && name != "LOGOUT" {
		c.restoreIdle()
	}
	return c.mapErr(authenticated, err)
}

// mapErr marks failures caused by a session the server no longer considers
// authenticated.
func (c *Client) mapErr(authenticated bool, err error) error {
	if err == nil || errors.Is(err, mailpulse.ErrLoggedOut) {
		return err
	}
	var imapErr *mailpulse.Error
	if !authenticated || !errors.As(err, &imapErr) {
		return err
	}
	if imapErr.Code == mailpulse.ResponseCodeAuthenticationFailed {
		return err
	}
	text := strings.ToUpper(imapErr.Text)
	if strings.Contains(text, "AUTH") || strings.Contains(text, "SELECTED") {
		c.logger.Warn().Str("command", imapErr.Command).Str("text", imapErr.Text).Msg("server dropped the session")
		return fmt.Errorf("%w: %w", mailpulse.ErrLoggedOut, err)
	}
	return err
}
