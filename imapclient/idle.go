package imapclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mailpulse/mailpulse"
)

// IdleState is the IDLE sub-state of a connection.
type IdleState int

const (
	IdleStateNone IdleState = iota
	// IdleStateCountdown means IDLE was requested and will be entered once
	// Options.IdleActivationDelay elapses without another request.
	IdleStateCountdown
	// IdleStateRequested means IDLE was sent and the continuation request is
	// awaited.
	IdleStateRequested
	IdleStateActive
	// IdleStateDoneRequested means DONE was sent and the command completion
	// is awaited.
	IdleStateDoneRequested
)

func (state IdleState) String() string {
	switch state {
	case IdleStateNone:
		return "none"
	case IdleStateCountdown:
		return "countdown"
	case IdleStateRequested:
		return "requested"
	case IdleStateActive:
		return "active"
	case IdleStateDoneRequested:
		return "done requested"
	default:
		panic("imapclient: unknown idle state")
	}
}

// IdleSession describes an active IDLE command.
type IdleSession struct {
	Tag   string
	Start time.Time
}

// idleCommand is the IDLE command on the wire. Its fields are protected by
// Client.mutex.
type idleCommand struct {
	tag      string
	acked    bool
	finished bool
	err      error
	ack      chan struct{}
	done     chan struct{}
}

func (cmd *idleCommand) ackLocked() {
	if !cmd.acked {
		cmd.acked = true
		close(cmd.ack)
	}
}

// finishIdleLocked completes the IDLE command on the wire.
func (c *Client) finishIdleLocked(err error) {
	idle := c.idleCmd
	if idle == nil {
		return
	}
	if err == nil && !idle.acked {
		err = errors.New("imapclient: IDLE completed without continuation request")
	}
	if c.idleState == IdleStateActive {
		c.logger.Info().Str("tag", idle.tag).Msg("server terminated IDLE")
	}
	idle.err = err
	idle.ackLocked()
	if !idle.finished {
		idle.finished = true
		close(idle.done)
	}
	c.idleCmd = nil
	c.idle = nil
	c.idleState = IdleStateNone
}

// clearIdleLocked drops every IDLE state, including a pending countdown.
func (c *Client) clearIdleLocked(err error) {
	if c.idleCmd != nil {
		if err == nil {
			err = errors.New("imapclient: IDLE state cleared")
		}
		c.finishIdleLocked(err)
	}
	c.idle = nil
	c.idleState = IdleStateNone
}

// IdleState returns the current IDLE sub-state.
func (c *Client) IdleState() IdleState {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.idleState
}

// IdleSession returns the active IDLE session, or nil.
func (c *Client) IdleSession() *IdleSession {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.idle == nil {
		return nil
	}
	session := *c.idle
	return &session
}

// Idle starts listening for pushes on INBOX.
//
// Without an activation delay, INBOX is examined, IDLE is sent and Idle
// returns once the server acknowledged it. With a delay, Idle starts or
// resets the countdown and returns immediately.
//
// While idling, every other method terminates IDLE, runs its command and
// restores IDLE. The session is refreshed before Options.IdleTimeout.
func (c *Client) Idle(ctx context.Context) error {
	if delay := c.options.IdleActivationDelay; delay > 0 {
		c.mutex.Lock()
		if c.state == mailpulse.ConnStateLoggedOut {
			c.mutex.Unlock()
			return fmt.Errorf("imapclient: IDLE: %w", mailpulse.ErrLoggedOut)
		}
		switch c.idleState {
		case IdleStateRequested, IdleStateActive:
			c.mutex.Unlock()
			return nil
		}
		c.idleState = IdleStateCountdown
		c.countdown = time.Now().Add(delay)
		c.mutex.Unlock()
		c.wakeMonitor()
		return nil
	}

	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()
	return c.enterIdle()
}

// Done terminates IDLE and cancels a pending countdown. It is a no-op when
// the connection is not idling.
func (c *Client) Done(ctx context.Context) error {
	c.mutex.Lock()
	if c.idleState == IdleStateCountdown {
		c.idleState = IdleStateNone
	}
	active := c.idleCmd != nil
	c.mutex.Unlock()
	if !active {
		return nil
	}

	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()
	return c.exitIdle()
}

// enterIdle examines INBOX and sends IDLE. The caller must hold the gate.
func (c *Client) enterIdle() error {
	c.mutex.Lock()
	switch {
	case c.state == mailpulse.ConnStateLoggedOut:
		c.mutex.Unlock()
		return fmt.Errorf("imapclient: IDLE: %w", mailpulse.ErrLoggedOut)
	case c.idleCmd != nil:
		c.mutex.Unlock()
		return nil
	case !c.caps["IDLE"]:
		c.mutex.Unlock()
		return fmt.Errorf("imapclient: server does not support IDLE")
	}
	c.mutex.Unlock()

	if err := c.examineInbox(); err != nil {
		return err
	}

	c.mutex.Lock()
	if c.state == mailpulse.ConnStateLoggedOut {
		c.mutex.Unlock()
		return fmt.Errorf("imapclient: IDLE: %w", mailpulse.ErrLoggedOut)
	}
	idle := &idleCommand{
		tag:  c.nextTagLocked(),
		ack:  make(chan struct{}),
		done: make(chan struct{}),
	}
	c.idleCmd = idle
	c.idleState = IdleStateRequested
	c.mutex.Unlock()

	c.encMutex.Lock()
	enc := c.newEncoderLocked(nil)
	enc.Atom(idle.tag).SP().Atom("IDLE")
	err := enc.CRLF()
	c.encMutex.Unlock()
	if err != nil {
		c.mutex.Lock()
		if c.idleCmd == idle {
			c.clearIdleLocked(err)
		}
		c.mutex.Unlock()
		return fmt.Errorf("imapclient: writing IDLE: %w", err)
	}

	timeout := c.options.commandTimeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-idle.ack:
		c.mutex.Lock()
		err := idle.err
		c.mutex.Unlock()
		return err
	case <-timer.C:
		terr := &mailpulse.TimeoutError{Op: "IDLE", Timeout: timeout}
		c.mutex.Lock()
		if c.idleCmd == idle {
			c.clearIdleLocked(terr)
		}
		c.mutex.Unlock()
		// The acknowledgement may still come: make sure the server leaves
		// IDLE before the next command.
		c.writeDone()
		return terr
	}
}

func (c *Client) writeDone() error {
	c.encMutex.Lock()
	defer c.encMutex.Unlock()
	enc := c.newEncoderLocked(nil)
	return enc.Atom("DONE").CRLF()
}

// exitIdle sends DONE and waits for the IDLE completion. It is a no-op
// without an IDLE command on the wire. The caller must hold the gate.
func (c *Client) exitIdle() error {
	c.mutex.Lock()
	idle := c.idleCmd
	if idle == nil {
		c.mutex.Unlock()
		return nil
	}
	c.idleState = IdleStateDoneRequested
	c.mutex.Unlock()

	if err := c.writeDone(); err != nil {
		c.mutex.Lock()
		if c.idleCmd == idle {
			c.clearIdleLocked(err)
		}
		c.mutex.Unlock()
		return fmt.Errorf("imapclient: writing DONE: %w", err)
	}

	timeout := c.options.commandTimeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-idle.done:
	case <-timer.C:
		terr := &mailpulse.TimeoutError{Op: "DONE", Timeout: timeout}
		c.mutex.Lock()
		if c.idleCmd == idle {
			c.clearIdleLocked(terr)
		}
		c.mutex.Unlock()
		return terr
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	return idle.err
}

// restoreIdle re-enters IDLE after an interrupting command, or restarts the
// countdown. Failures are logged. The caller must hold the gate.
func (c *Client) restoreIdle() {
	c.mutex.Lock()
	if c.state == mailpulse.ConnStateLoggedOut || c.idleCmd != nil {
		c.mutex.Unlock()
		return
	}
	if delay := c.options.IdleActivationDelay; delay > 0 {
		c.idleState = IdleStateCountdown
		c.countdown = time.Now().Add(delay)
		c.mutex.Unlock()
		c.wakeMonitor()
		return
	}
	c.mutex.Unlock()

	if err := c.enterIdle(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to restore IDLE")
	}
}

// nextDeadline returns when the monitor must act next.
func (c *Client) nextDeadline() (time.Time, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	switch c.idleState {
	case IdleStateCountdown:
		return c.countdown, true
	case IdleStateActive:
		if c.idle != nil {
			return c.idle.Start.Add(c.options.idleRefreshAfter()), true
		}
	}
	return time.Time{}, false
}

// monitor fires the activation countdown and refreshes IDLE before the
// server times it out.
func (c *Client) monitor() {
	defer close(c.monitorDone)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	for {
		var timerC <-chan time.Time
		if at, ok := c.nextDeadline(); ok {
			timer.Reset(time.Until(at))
			timerC = timer.C
		}

		select {
		case <-c.closed:
			return
		case <-c.monitorWake:
			timer.Stop()
		case <-timerC:
			c.fire()
		}
	}
}

func (c *Client) fire() {
	c.mutex.Lock()
	state := c.idleState
	c.mutex.Unlock()
	if state != IdleStateCountdown && state != IdleStateActive {
		return
	}

	if err := c.acquire(context.Background()); err != nil {
		if !errors.Is(err, mailpulse.ErrLoggedOut) {
			c.logger.Warn().Err(err).Msg("IDLE monitor could not take the connection")
		}
		return
	}
	defer c.release()

	now := time.Now()
	c.mutex.Lock()
	state = c.idleState
	due := false
	switch state {
	case IdleStateCountdown:
		due = !now.Before(c.countdown)
	case IdleStateActive:
		due = c.idle != nil && !now.Before(c.idle.Start.Add(c.options.idleRefreshAfter()))
	}
	if due && state == IdleStateCountdown {
		c.idleState = IdleStateNone
	}
	c.mutex.Unlock()
	if !due {
		return
	}

	if state == IdleStateActive {
		c.logger.Debug().Msg("refreshing IDLE")
		if err := c.exitIdle(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to terminate IDLE for refresh")
			return
		}
	}
	if err := c.enterIdle(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to enter IDLE")
	}
}
