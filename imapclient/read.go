package imapclient

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/mailpulse/mailpulse"
	"github.com/mailpulse/mailpulse/imapresp"
)

// read is the only consumer of the connection's read side.
func (c *Client) read() {
	defer close(c.readerDone)
	for {
		line, err := c.r.ReadLine()
		if err != nil {
			c.readFailed(err)
			return
		}
		c.handleLine(line)
	}
}

func (c *Client) readFailed(err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	select {
	case <-c.closed:
		err = fmt.Errorf("imapclient: client closed: %w", mailpulse.ErrLoggedOut)
	default:
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			err = fmt.Errorf("imapclient: connection closed by server: %w", mailpulse.ErrLoggedOut)
		} else {
			err = fmt.Errorf("imapclient: read: %w: %w", mailpulse.ErrLoggedOut, err)
		}
		if c.state != mailpulse.ConnStateLoggedOut {
			c.logger.Warn().Err(err).Msg("connection lost")
		}
	}

	c.state = mailpulse.ConnStateLoggedOut
	c.mailbox = nil
	c.readErr = err
	if cmd := c.inflight; cmd != nil {
		c.inflight = nil
		cmd.finishLocked(nil, err)
	}
	c.clearAbandonedLocked()
	c.clearIdleLocked(err)
}

func (c *Client) handleLine(line string) {
	var events []NewMailEvent
	defer func() {
		if c.options.OnNewMail != nil {
			for _, ev := range events {
				c.options.OnNewMail(ev)
			}
		}
	}()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	switch {
	case strings.HasPrefix(line, "+"):
		c.handleContinuationLocked(strings.TrimPrefix(strings.TrimPrefix(line, "+"), " "))
	case strings.HasPrefix(line, "* "):
		events = c.handleUntaggedLocked(line)
	default:
		c.handleTaggedLocked(line)
	}
}

func (c *Client) handleContinuationLocked(text string) {
	if cmd := c.inflight; cmd != nil {
		if cmd.contReq != nil {
			cmd.contReq.Done(text)
			cmd.contReq = nil
			return
		}
		select {
		case cmd.conts <- text:
		default:
			c.logger.Warn().Str("command", cmd.name).Msg("dropping unexpected continuation request")
		}
		return
	}
	if idle := c.idleCmd; idle != nil && !idle.acked {
		idle.ackLocked()
		c.idleState = IdleStateActive
		c.idle = &IdleSession{Tag: idle.tag, Start: time.Now()}
		c.logger.Debug().Str("tag", idle.tag).Msg("idling")
		c.wakeMonitor()
		return
	}
	c.logger.Warn().Str("text", text).Msg("unexpected continuation request")
}

func (c *Client) handleTaggedLocked(line string) {
	st, ok := imapresp.ParseStatus(line)
	if !ok {
		c.logger.Warn().Str("line", line).Msg("malformed response")
		return
	}

	if cmd := c.inflight; cmd != nil && st.Tag == cmd.tag {
		c.inflight = nil
		c.commandDoneLocked(cmd, st)
		cmd.finishLocked(st, nil)
		return
	}
	if idle := c.idleCmd; idle != nil && st.Tag == idle.tag {
		var err error
		if st.Type != mailpulse.StatusResponseTypeOK {
			err = &mailpulse.Error{StatusResponse: st.StatusResponse, Command: "IDLE", Raw: line}
		}
		c.finishIdleLocked(err)
		return
	}
	if c.completeAbandonedLocked(st.Tag) {
		c.logger.Debug().Str("tag", st.Tag).Msg("discarding late completion of timed out command")
		return
	}
	c.logger.Debug().Str("tag", st.Tag).Msg("discarding response with unknown tag")
}

// commandDoneLocked updates the connection state after a completed command.
func (c *Client) commandDoneLocked(cmd *command, st *imapresp.Status) {
	if st.Code == mailpulse.ResponseCodeCapability {
		c.caps = imapresp.Capabilities(st.CodeArg)
	}
	if st.Type != mailpulse.StatusResponseTypeOK {
		if cmd.name == "SELECT" || cmd.name == "EXAMINE" {
			// A failed SELECT leaves no mailbox selected.
			c.mailbox = nil
			if c.state == mailpulse.ConnStateSelected {
				c.state = mailpulse.ConnStateAuthenticated
			}
		}
		return
	}
	switch cmd.name {
	case "LOGIN", "AUTHENTICATE":
		c.state = mailpulse.ConnStateAuthenticated
	case "SELECT", "EXAMINE":
		c.state = mailpulse.ConnStateSelected
		if c.mailbox != nil {
			c.mailbox.ReadOnly = st.Code == mailpulse.ResponseCodeReadOnly
		}
	case "CLOSE", "UNSELECT":
		c.state = mailpulse.ConnStateAuthenticated
		c.mailbox = nil
	case "LOGOUT":
		c.state = mailpulse.ConnStateLoggedOut
		c.mailbox = nil
	}
}

// handleUntaggedLocked keeps track of the mailbox and the session, and hands
// the line to the command in flight. It returns the new mail events to
// publish.
func (c *Client) handleUntaggedLocked(line string) []NewMailEvent {
	cmd := c.inflight
	if cmd != nil {
		cmd.lines = append(cmd.lines, line)
	}

	num, _, name, rest, _ := imapresp.Untagged(line)
	switch name {
	case "BYE":
		c.handleByeLocked(line)
	case "CAPABILITY":
		c.caps = imapresp.Capabilities(rest)
	case "OK", "NO", "BAD":
		st, ok := imapresp.ParseStatus(line)
		if !ok {
			break
		}
		if st.Type == mailpulse.StatusResponseTypeOK && c.mailbox != nil && cmd != nil && (cmd.name == "SELECT" || cmd.name == "EXAMINE") {
			switch st.Code {
			case mailpulse.ResponseCodeUIDValidity:
				c.mailbox.UIDValidity = parseUint32(st.CodeArg)
			case mailpulse.ResponseCodeUIDNext:
				c.mailbox.UIDNext = parseUint32(st.CodeArg)
			}
		}
		if st.Type != mailpulse.StatusResponseTypeOK || st.Code == mailpulse.ResponseCodeAlert {
			c.logger.Warn().Str("text", st.Text).Str("code", string(st.Code)).Msg("server notice")
		}
	case "EXISTS":
		if c.mailbox == nil {
			break
		}
		c.mailbox.Exists = num
		// While a timed out command is draining the count may belong to
		// another mailbox; IDLE entry re-examines INBOX anyway.
		if cmd == nil && c.abandoned == nil {
			return c.inboxExistsLocked(num)
		}
	case "EXPUNGE":
		if c.mailbox == nil {
			break
		}
		if c.mailbox.Exists > 0 {
			c.mailbox.Exists--
		}
		if c.mailbox.Name == mailpulse.InboxName {
			c.inbox.expunged()
		}
	}
	return nil
}

func (c *Client) handleByeLocked(line string) {
	if c.state == mailpulse.ConnStateLoggedOut {
		return
	}
	st, _ := imapresp.ParseStatus(line)
	loggingOut := c.inflight != nil && c.inflight.name == "LOGOUT"
	c.state = mailpulse.ConnStateLoggedOut
	c.mailbox = nil
	if loggingOut {
		return
	}

	var text string
	if st != nil {
		text = st.Text
	}
	err := fmt.Errorf("imapclient: server closed the session (%v): %w", text, mailpulse.ErrLoggedOut)
	c.readErr = err
	c.logger.Warn().Str("text", text).Msg("received BYE")
	if cmd := c.inflight; cmd != nil {
		c.inflight = nil
		cmd.finishLocked(nil, err)
	}
	c.clearIdleLocked(err)
}
