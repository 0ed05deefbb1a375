// Package imaptest implements an in-memory IMAP server for tests.
//
// The server speaks enough IMAP4rev1 for the client packages: LOGIN,
// AUTHENTICATE PLAIN, LIST, NAMESPACE, SELECT, EXAMINE, folder management,
// UID SEARCH, UID FETCH, UID STORE, UID COPY, UID MOVE, EXPUNGE and IDLE.
// Messages are stored raw; BODYSTRUCTURE and body sections are computed from
// the stored bytes.
package imaptest

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"
)

const mailboxDelim = "/"

// DefaultCaps is the capability list advertised by a new Server.
var DefaultCaps = []string{"IMAP4rev1", "IDLE", "MOVE", "UIDPLUS", "NAMESPACE", "LITERAL+", "SASL-IR", "AUTH=PLAIN"}

// Server is an in-memory IMAP server with a single user.
type Server struct {
	Username, Password string
	// Token is the bearer token accepted by AUTHENTICATE XOAUTH2. Add
	// "AUTH=XOAUTH2" to Caps to advertise it.
	Token string
	// Caps is the capability list; it can be changed before the first Dial.
	Caps []string
	// IdleAckDelay delays the "+ idling" continuation request.
	IdleAckDelay time.Duration
	// OnCommand, if set, is called with the command line (without tag) when a
	// command is received, before it is handled.
	OnCommand func(line string)

	mutex       sync.Mutex
	mailboxes   map[string]*mailbox
	sessions    map[*session]struct{}
	commands    []string
	stalled     map[string]bool
	delayed     map[string]time.Duration
	dropIdleAck bool
	uidValidity uint32
	wg          sync.WaitGroup
}

// NewServer creates a server with an INBOX, a Trash folder carrying the
// \Trash attribute, and Sent and Drafts folders.
func NewServer(username, password string) *Server {
	srv := &Server{
		Username:    username,
		Password:    password,
		Caps:        append([]string(nil), DefaultCaps...),
		mailboxes:   make(map[string]*mailbox),
		sessions:    make(map[*session]struct{}),
		stalled:     make(map[string]bool),
		delayed:     make(map[string]time.Duration),
		uidValidity: 1,
	}
	srv.CreateMailbox("INBOX")
	srv.CreateMailbox("Trash", `\Trash`)
	srv.CreateMailbox("Sent", `\Sent`)
	srv.CreateMailbox("Drafts", `\Drafts`)
	return srv
}

// Dial returns the client side of a new in-memory connection served by srv.
func (srv *Server) Dial() net.Conn {
	client, server := net.Pipe()
	srv.ServeConn(server)
	return client
}

// ServeConn serves conn in a new goroutine.
func (srv *Server) ServeConn(conn net.Conn) {
	sess := newSession(srv, conn)

	srv.mutex.Lock()
	srv.sessions[sess] = struct{}{}
	srv.mutex.Unlock()

	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		sess.serve()

		srv.mutex.Lock()
		delete(srv.sessions, sess)
		srv.mutex.Unlock()
	}()
}

// Serve accepts connections on ln until it is closed.
func (srv *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		srv.ServeConn(conn)
	}
}

// Close terminates every session and waits for them to exit.
func (srv *Server) Close() {
	srv.mutex.Lock()
	var sessions []*session
	for sess := range srv.sessions {
		sessions = append(sessions, sess)
	}
	srv.mutex.Unlock()

	for _, sess := range sessions {
		sess.conn.Close()
	}
	srv.wg.Wait()
}

// Bye sends an untagged BYE to every session and closes them.
func (srv *Server) Bye(text string) {
	srv.mutex.Lock()
	var sessions []*session
	for sess := range srv.sessions {
		sessions = append(sessions, sess)
	}
	srv.mutex.Unlock()

	for _, sess := range sessions {
		sess.writeLines("* BYE " + text)
		sess.conn.Close()
	}
}

// Stall makes the server read but never answer commands with the given name
// ("NOOP", "UID FETCH").
func (srv *Server) Stall(name string) {
	srv.mutex.Lock()
	defer srv.mutex.Unlock()
	srv.stalled[strings.ToUpper(name)] = true
}

// Delay makes the server wait d before answering the next command with the
// given name. Commands received meanwhile queue behind it.
func (srv *Server) Delay(name string, d time.Duration) {
	srv.mutex.Lock()
	defer srv.mutex.Unlock()
	srv.delayed[strings.ToUpper(name)] = d
}

// DropIdleAck makes the server never acknowledge IDLE.
func (srv *Server) DropIdleAck() {
	srv.mutex.Lock()
	defer srv.mutex.Unlock()
	srv.dropIdleAck = true
}

// Commands returns the received command lines, without tags, in order.
func (srv *Server) Commands() []string {
	srv.mutex.Lock()
	defer srv.mutex.Unlock()
	return append([]string(nil), srv.commands...)
}

// CommandNames returns the command names received, such as "UID FETCH".
func (srv *Server) CommandNames() []string {
	var names []string
	for _, line := range srv.Commands() {
		names = append(names, commandName(line))
	}
	return names
}

func commandName(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	name := strings.ToUpper(fields[0])
	if name == "UID" && len(fields) > 1 {
		name += " " + strings.ToUpper(fields[1])
	}
	return name
}

// CreateMailbox adds a mailbox. It is a no-op if the mailbox exists.
func (srv *Server) CreateMailbox(name string, attrs ...string) {
	srv.mutex.Lock()
	defer srv.mutex.Unlock()
	srv.createMailboxLocked(name, attrs...)
}

func (srv *Server) createMailboxLocked(name string, attrs ...string) *mailbox {
	name = canonicalName(name)
	if mbox, ok := srv.mailboxes[name]; ok {
		return mbox
	}
	srv.uidValidity++
	mbox := &mailbox{name: name, attrs: attrs, uidValidity: srv.uidValidity, uidNext: 1}
	srv.mailboxes[name] = mbox
	return mbox
}

// Mailboxes returns the sorted mailbox names.
func (srv *Server) Mailboxes() []string {
	srv.mutex.Lock()
	defer srv.mutex.Unlock()
	var names []string
	for name := range srv.mailboxes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Deliver appends a message to a mailbox with the current time as internal
// date, notifies idling sessions and returns the new UID.
func (srv *Server) Deliver(mailboxName string, raw []byte, flags ...string) uint32 {
	return srv.AddMessage(mailboxName, raw, time.Now(), flags...)
}

// AddMessage appends a message with the given internal date.
func (srv *Server) AddMessage(mailboxName string, raw []byte, t time.Time, flags ...string) uint32 {
	srv.mutex.Lock()
	mbox, ok := srv.mailboxes[canonicalName(mailboxName)]
	if !ok {
		srv.mutex.Unlock()
		panic(fmt.Sprintf("imaptest: no mailbox %q", mailboxName))
	}
	uid := mbox.append(raw, t, flags)
	var sessions []*session
	for sess := range srv.sessions {
		sessions = append(sessions, sess)
	}
	srv.mutex.Unlock()

	for _, sess := range sessions {
		sess.notify()
	}
	return uid
}

// UIDs returns the UIDs of a mailbox in ascending order.
func (srv *Server) UIDs(mailboxName string) []uint32 {
	srv.mutex.Lock()
	defer srv.mutex.Unlock()
	mbox, ok := srv.mailboxes[canonicalName(mailboxName)]
	if !ok {
		return nil
	}
	uids := make([]uint32, 0, len(mbox.msgs))
	for _, msg := range mbox.msgs {
		uids = append(uids, msg.uid)
	}
	return uids
}

// Flags returns the flags of a message, sorted, or nil if it doesn't exist.
func (srv *Server) Flags(mailboxName string, uid uint32) []string {
	srv.mutex.Lock()
	defer srv.mutex.Unlock()
	mbox, ok := srv.mailboxes[canonicalName(mailboxName)]
	if !ok {
		return nil
	}
	if _, msg := mbox.byUID(uid); msg != nil {
		return msg.flagList()
	}
	return nil
}

func (srv *Server) logCommand(line string) (stalled bool) {
	srv.mutex.Lock()
	srv.commands = append(srv.commands, line)
	stalled = srv.stalled[commandName(line)]
	hook := srv.OnCommand
	srv.mutex.Unlock()

	if hook != nil {
		hook(line)
	}
	return stalled
}

func (srv *Server) takeDelay(line string) time.Duration {
	srv.mutex.Lock()
	defer srv.mutex.Unlock()
	name := commandName(line)
	d := srv.delayed[name]
	delete(srv.delayed, name)
	return d
}

func canonicalName(name string) string {
	if strings.EqualFold(name, "INBOX") {
		return "INBOX"
	}
	return name
}
