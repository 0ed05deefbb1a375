package imaptest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-sasl"

	"github.com/mailpulse/mailpulse"
	"github.com/mailpulse/mailpulse/internal"
	"github.com/mailpulse/mailpulse/internal/imapwire"
	"github.com/mailpulse/mailpulse/utf7"
)

// statusError is turned into a tagged status response.
type statusError struct {
	typ  string
	code string
	text string
}

func (err *statusError) Error() string {
	return err.typ + " " + err.text
}

func no(code, text string) error {
	return &statusError{typ: "NO", code: code, text: text}
}

func bad(text string) error {
	return &statusError{typ: "BAD", text: text}
}

var errLogout = errors.New("logout")

type session struct {
	srv  *Server
	conn net.Conn
	br   *bufio.Reader

	writeMutex sync.Mutex
	bw         *bufio.Writer

	// protected by srv.mutex
	authenticated bool
	utf8          bool
	selected      *mailbox
	readOnly      bool
	exists        uint32
	idling        bool
}

func newSession(srv *Server, conn net.Conn) *session {
	return &session{
		srv:  srv,
		conn: conn,
		br:   bufio.NewReader(conn),
		bw:   bufio.NewWriter(conn),
	}
}

func (sess *session) writeLines(lines ...string) {
	sess.writeMutex.Lock()
	defer sess.writeMutex.Unlock()
	sess.writeLinesLocked(lines...)
}

func (sess *session) writeLinesLocked(lines ...string) {
	for _, line := range lines {
		sess.bw.WriteString(line)
		sess.bw.WriteString("\r\n")
	}
	sess.bw.Flush()
}

// notify pushes pending EXISTS updates to an idling session.
func (sess *session) notify() {
	sess.writeMutex.Lock()
	defer sess.writeMutex.Unlock()

	sess.srv.mutex.Lock()
	var lines []string
	if sess.idling {
		lines = sess.syncLocked()
	}
	sess.srv.mutex.Unlock()

	sess.writeLinesLocked(lines...)
}

// syncLocked returns the EXISTS update for the selected mailbox, if any.
func (sess *session) syncLocked() []string {
	if sess.selected == nil {
		return nil
	}
	n := uint32(len(sess.selected.msgs))
	if n == sess.exists {
		return nil
	}
	sess.exists = n
	return []string{fmt.Sprintf("* %v EXISTS", n)}
}

// readCommand reads a command line with its literals inlined. Synchronizing
// literals are acknowledged with a continuation request.
func (sess *session) readCommand() (string, error) {
	var sb strings.Builder
	for {
		line, err := sess.br.ReadString('\n')
		if err != nil {
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")
		sb.WriteString(line)

		size, ok := imapwire.LiteralSize(line)
		if !ok {
			return sb.String(), nil
		}
		if !strings.HasSuffix(line, "+}") {
			sess.writeLines("+ Ready for literal data")
		}
		sb.WriteString("\r\n")
		if _, err := io.CopyN(&sb, sess.br, size); err != nil {
			return "", err
		}
	}
}

func (sess *session) serve() {
	defer sess.conn.Close()

	sess.writeLines("* OK [CAPABILITY " + sess.capabilities() + "] imaptest ready")

	var pending string
	for {
		line := pending
		pending = ""
		if line == "" {
			var err error
			if line, err = sess.readCommand(); err != nil {
				return
			}
		}

		tag, cmd, ok := strings.Cut(line, " ")
		if !ok || tag == "" {
			sess.writeLines("* BAD Missing command")
			continue
		}
		if sess.srv.logCommand(cmd) {
			continue
		}
		if d := sess.srv.takeDelay(cmd); d > 0 {
			time.Sleep(d)
		}

		var err error
		if strings.EqualFold(commandName(cmd), "IDLE") {
			pending, err = sess.handleIdle(tag)
		} else {
			err = sess.handle(tag, cmd)
		}
		if err == errLogout {
			return
		} else if err != nil {
			sess.writeLines(tag + " BAD " + err.Error())
		}
	}
}

func (sess *session) capabilities() string {
	sess.srv.mutex.Lock()
	defer sess.srv.mutex.Unlock()
	return strings.Join(sess.srv.Caps, " ")
}

func (sess *session) hasCap(c string) bool {
	for _, have := range sess.srv.Caps {
		if strings.EqualFold(have, c) {
			return true
		}
	}
	return false
}

// handle runs a command. Responses are built under the server lock and
// written atomically with respect to EXISTS notifications.
func (sess *session) handle(tag, cmd string) error {
	name := commandName(cmd)
	rest := strings.TrimSpace(cmd[len(strings.SplitN(cmd, " ", 2)[0]):])
	if strings.HasPrefix(name, "UID ") {
		_, rest, _ = strings.Cut(rest, " ")
	}

	switch name {
	case "LOGOUT":
		sess.writeLines("* BYE Logging out", tag+" OK LOGOUT completed")
		return errLogout
	case "AUTHENTICATE":
		return sess.reply(tag, name, sess.handleAuthenticate(rest))
	}

	sess.writeMutex.Lock()
	defer sess.writeMutex.Unlock()

	sess.srv.mutex.Lock()
	lines, code, err := sess.dispatch(name, rest)
	if err == nil && name != "SELECT" && name != "EXAMINE" {
		lines = append(lines, sess.syncLocked()...)
	}
	sess.srv.mutex.Unlock()

	sess.writeLinesLocked(lines...)
	sess.writeLinesLocked(statusLine(tag, name, code, err))
	return nil
}

func (sess *session) reply(tag, name string, err error) error {
	sess.writeLines(statusLine(tag, name, "", err))
	return nil
}

func statusLine(tag, name, code string, err error) string {
	if err != nil {
		var serr *statusError
		if !errors.As(err, &serr) {
			serr = &statusError{typ: "NO", text: err.Error()}
		}
		line := tag + " " + serr.typ + " "
		if serr.code != "" {
			line += "[" + serr.code + "] "
		}
		return line + serr.text
	}
	line := tag + " OK "
	if code != "" {
		line += "[" + code + "] "
	}
	return line + name + " completed"
}

// dispatch runs a command with srv.mutex held. It returns the untagged
// responses and the response code of the tagged OK.
func (sess *session) dispatch(name, rest string) (lines []string, code string, err error) {
	switch name {
	case "CAPABILITY":
		return []string{"* CAPABILITY " + strings.Join(sess.srv.Caps, " ")}, "", nil
	case "NOOP", "CHECK":
		return nil, "", nil
	case "LOGIN":
		return nil, "", sess.handleLogin(rest)
	}

	if !sess.authenticated {
		return nil, "", bad("Command requires AUTH state, not authenticated")
	}

	switch name {
	case "ENABLE":
		return sess.handleEnable(rest)
	case "NAMESPACE":
		return []string{`* NAMESPACE (("" "` + mailboxDelim + `")) NIL NIL`}, "", nil
	case "LIST", "LSUB":
		return sess.handleList(rest)
	case "SELECT", "EXAMINE":
		return sess.handleSelect(rest, name == "EXAMINE")
	case "CREATE":
		return nil, "", sess.handleCreate(rest)
	case "DELETE":
		return nil, "", sess.handleDelete(rest)
	case "RENAME":
		return nil, "", sess.handleRename(rest)
	case "STATUS":
		return sess.handleStatus(rest)
	}

	if sess.selected == nil {
		return nil, "", bad("No mailbox selected")
	}

	switch name {
	case "CLOSE", "UNSELECT":
		if name == "CLOSE" && !sess.readOnly {
			sess.selected.expunge("")
		}
		sess.selected = nil
		return nil, "", nil
	case "EXPUNGE", "UID EXPUNGE":
		if sess.readOnly {
			return nil, "", no("READ-ONLY", "Mailbox is read-only")
		}
		return sess.expunge(strings.TrimSpace(rest)), "", nil
	case "UID SEARCH", "SEARCH":
		return sess.handleSearch(rest, name == "UID SEARCH")
	case "UID FETCH":
		return sess.handleFetch(rest)
	case "UID STORE":
		return sess.handleStore(rest)
	case "UID COPY":
		return sess.handleCopy(rest, false)
	case "UID MOVE":
		if !sess.hasCap("MOVE") {
			return nil, "", bad("Unknown command")
		}
		return sess.handleCopy(rest, true)
	}
	return nil, "", bad("Unknown command " + name)
}

func decodeArgs(s string) ([]imapwire.Value, error) {
	dec := imapwire.NewDecoder(s)
	var args []imapwire.Value
	for !dec.EOF() {
		v, ok := dec.Value()
		if !ok {
			return nil, fmt.Errorf("invalid arguments: %v", dec.Err())
		}
		args = append(args, v)
		if !dec.EOF() && !dec.ExpectSP() {
			return nil, dec.Err()
		}
	}
	return args, nil
}

func (sess *session) mailboxName(v imapwire.Value) string {
	name := v.String()
	if !sess.utf8 {
		if decoded, err := utf7.Decode(name); err == nil {
			name = decoded
		}
	}
	return canonicalName(name)
}

func (sess *session) formatMailbox(name string) string {
	if name == "INBOX" {
		return name
	}
	if !sess.utf8 {
		name = utf7.Encode(name)
	}
	return imapwire.Str(name).Format()
}

func (sess *session) handleLogin(rest string) error {
	args, err := decodeArgs(rest)
	if err != nil || len(args) != 2 {
		return bad("Expected username and password")
	}
	if args[0].String() != sess.srv.Username || args[1].String() != sess.srv.Password {
		return no("AUTHENTICATIONFAILED", "Invalid credentials")
	}
	sess.authenticated = true
	return nil
}

// handleAuthenticate runs AUTHENTICATE PLAIN or XOAUTH2, without holding any
// lock since it may need a round-trip with the client.
func (sess *session) handleAuthenticate(rest string) error {
	mech, initial, hasInitial := strings.Cut(rest, " ")
	if strings.EqualFold(mech, internal.XOAuth2) && sess.hasCap("AUTH=XOAUTH2") {
		return sess.handleXOAuth2(initial, hasInitial)
	}
	if !strings.EqualFold(mech, "PLAIN") {
		return no("", "SASL mechanism not supported")
	}

	var resp []byte
	if hasInitial {
		var err error
		if resp, err = internal.DecodeSASL(initial); err != nil {
			return bad("Invalid base64")
		}
	}

	srv := sess.srv
	saslServer := sasl.NewPlainServer(func(identity, username, password string) error {
		if identity != "" && identity != username {
			return no("AUTHORIZATIONFAILED", "SASL identity not supported")
		}
		if username != srv.Username || password != srv.Password {
			return no("AUTHENTICATIONFAILED", "Invalid credentials")
		}
		return nil
	})

	for {
		challenge, done, err := saslServer.Next(resp)
		if err != nil {
			return err
		} else if done {
			break
		}

		var challengeStr string
		if challenge != nil {
			challengeStr = internal.EncodeSASL(challenge)
		}
		sess.writeLines("+ " + challengeStr)

		line, err := sess.br.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "*" {
			return bad("AUTHENTICATE cancelled")
		}
		if resp, err = internal.DecodeSASL(line); err != nil {
			return bad("Invalid base64")
		}
	}

	srv.mutex.Lock()
	sess.authenticated = true
	srv.mutex.Unlock()
	return nil
}

func (sess *session) handleXOAuth2(initial string, hasInitial bool) error {
	srv := sess.srv
	if !hasInitial {
		sess.writeLines("+ ")
		line, err := sess.br.ReadString('\n')
		if err != nil {
			return err
		}
		initial = strings.TrimRight(line, "\r\n")
	}
	resp, err := internal.DecodeSASL(initial)
	if err != nil {
		return bad("Invalid base64")
	}
	username, token, err := internal.ParseXOAuth2Response(resp)
	if err != nil {
		return bad(err.Error())
	}
	if srv.Token == "" || username != srv.Username || token != srv.Token {
		sess.writeLines("+ " + internal.EncodeSASL([]byte(`{"status":"401"}`)))
		if _, err := sess.br.ReadString('\n'); err != nil {
			return err
		}
		return no("AUTHENTICATIONFAILED", "Invalid credentials")
	}

	srv.mutex.Lock()
	sess.authenticated = true
	srv.mutex.Unlock()
	return nil
}

func (sess *session) handleEnable(rest string) ([]string, string, error) {
	var enabled []string
	for _, c := range strings.Fields(rest) {
		if strings.EqualFold(c, "UTF8=ACCEPT") && sess.hasCap("UTF8=ACCEPT") {
			sess.utf8 = true
			enabled = append(enabled, "UTF8=ACCEPT")
		}
	}
	return []string{strings.TrimSpace("* ENABLED " + strings.Join(enabled, " "))}, "", nil
}

func (sess *session) handleList(rest string) ([]string, string, error) {
	args, err := decodeArgs(rest)
	if err != nil || len(args) != 2 {
		return nil, "", bad("Expected reference and pattern")
	}
	ref, pattern := args[0].String(), args[1].String()
	if pattern == "" {
		return []string{`* LIST (\Noselect) "` + mailboxDelim + `" ""`}, "", nil
	}
	if !sess.utf8 {
		if decoded, err := utf7.Decode(pattern); err == nil {
			pattern = decoded
		}
	}
	pattern = ref + pattern

	var names []string
	for name := range sess.srv.mailboxes {
		if matchList(name, pattern) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var lines []string
	for _, name := range names {
		mbox := sess.srv.mailboxes[name]
		attrs := append([]string(nil), mbox.attrs...)
		if sess.hasChildren(name) {
			attrs = append(attrs, `\HasChildren`)
		} else {
			attrs = append(attrs, `\HasNoChildren`)
		}
		lines = append(lines, fmt.Sprintf(`* LIST (%v) "%v" %v`, strings.Join(attrs, " "), mailboxDelim, sess.formatMailbox(name)))
	}
	return lines, "", nil
}

func (sess *session) hasChildren(name string) bool {
	for other := range sess.srv.mailboxes {
		if strings.HasPrefix(other, name+mailboxDelim) {
			return true
		}
	}
	return false
}

// matchList matches a LIST pattern: "*" matches anything, "%" anything but
// the delimiter.
func matchList(name, pattern string) bool {
	if pattern == "" {
		return name == ""
	}
	switch pattern[0] {
	case '*':
		for i := 0; i <= len(name); i++ {
			if matchList(name[i:], pattern[1:]) {
				return true
			}
		}
		return false
	case '%':
		for i := 0; i <= len(name); i++ {
			if matchList(name[i:], pattern[1:]) {
				return true
			}
			if i < len(name) && strings.HasPrefix(name[i:], mailboxDelim) {
				return false
			}
		}
		return false
	}
	if name == "" || name[0] != pattern[0] {
		return false
	}
	return matchList(name[1:], pattern[1:])
}

func (sess *session) handleSelect(rest string, readOnly bool) ([]string, string, error) {
	args, err := decodeArgs(rest)
	if err != nil || len(args) != 1 {
		return nil, "", bad("Expected mailbox")
	}
	sess.selected = nil
	mbox, ok := sess.srv.mailboxes[sess.mailboxName(args[0])]
	if !ok {
		return nil, "", no("NONEXISTENT", "No such mailbox")
	}
	sess.selected = mbox
	sess.readOnly = readOnly
	sess.exists = uint32(len(mbox.msgs))

	lines := []string{
		`* FLAGS (\Answered \Flagged \Deleted \Seen \Draft)`,
		fmt.Sprintf("* %v EXISTS", len(mbox.msgs)),
		"* 0 RECENT",
		fmt.Sprintf("* OK [UIDVALIDITY %v] UIDs valid", mbox.uidValidity),
		fmt.Sprintf("* OK [UIDNEXT %v] Predicted next UID", mbox.uidNext),
	}
	if readOnly {
		return lines, "READ-ONLY", nil
	}
	lines = append(lines, `* OK [PERMANENTFLAGS (\Answered \Flagged \Deleted \Seen \Draft \*)] Limited`)
	return lines, "READ-WRITE", nil
}

func (sess *session) handleCreate(rest string) error {
	args, err := decodeArgs(rest)
	if err != nil || len(args) != 1 {
		return bad("Expected mailbox")
	}
	name := strings.TrimSuffix(sess.mailboxName(args[0]), mailboxDelim)
	if _, ok := sess.srv.mailboxes[name]; ok {
		return no("ALREADYEXISTS", "Mailbox already exists")
	}
	sess.srv.createMailboxLocked(name)
	return nil
}

func (sess *session) handleDelete(rest string) error {
	args, err := decodeArgs(rest)
	if err != nil || len(args) != 1 {
		return bad("Expected mailbox")
	}
	name := sess.mailboxName(args[0])
	if name == "INBOX" {
		return no("CANNOT", "Cannot delete INBOX")
	}
	mbox, ok := sess.srv.mailboxes[name]
	if !ok {
		return no("NONEXISTENT", "No such mailbox")
	}
	if sess.selected == mbox {
		sess.selected = nil
	}
	delete(sess.srv.mailboxes, name)
	return nil
}

func (sess *session) handleRename(rest string) error {
	args, err := decodeArgs(rest)
	if err != nil || len(args) != 2 {
		return bad("Expected mailboxes")
	}
	oldName, newName := sess.mailboxName(args[0]), sess.mailboxName(args[1])
	if oldName == "INBOX" {
		return no("CANNOT", "Cannot rename INBOX")
	}
	if _, ok := sess.srv.mailboxes[oldName]; !ok {
		return no("NONEXISTENT", "No such mailbox")
	}
	if _, ok := sess.srv.mailboxes[newName]; ok {
		return no("ALREADYEXISTS", "Mailbox already exists")
	}
	for name, mbox := range sess.srv.mailboxes {
		var renamed string
		switch {
		case name == oldName:
			renamed = newName
		case strings.HasPrefix(name, oldName+mailboxDelim):
			renamed = newName + strings.TrimPrefix(name, oldName)
		default:
			continue
		}
		delete(sess.srv.mailboxes, name)
		mbox.name = renamed
		sess.srv.mailboxes[renamed] = mbox
	}
	return nil
}

func (sess *session) handleStatus(rest string) ([]string, string, error) {
	args, err := decodeArgs(rest)
	if err != nil || len(args) != 2 {
		return nil, "", bad("Expected mailbox and items")
	}
	mbox, ok := sess.srv.mailboxes[sess.mailboxName(args[0])]
	if !ok {
		return nil, "", no("NONEXISTENT", "No such mailbox")
	}
	unseen := 0
	for _, msg := range mbox.msgs {
		if !msg.hasFlag(string(mailpulse.FlagSeen)) {
			unseen++
		}
	}
	line := fmt.Sprintf("* STATUS %v (MESSAGES %v UIDNEXT %v UIDVALIDITY %v UNSEEN %v)",
		sess.formatMailbox(mbox.name), len(mbox.msgs), mbox.uidNext, mbox.uidValidity, unseen)
	return []string{line}, "", nil
}

func (sess *session) expunge(set string) []string {
	var lines []string
	for _, seqNum := range sess.selected.expunge(set) {
		lines = append(lines, fmt.Sprintf("* %v EXPUNGE", seqNum))
		sess.exists--
	}
	return lines
}

func (sess *session) handleSearch(rest string, uid bool) ([]string, string, error) {
	args, err := decodeArgs(rest)
	if err != nil {
		return nil, "", bad(err.Error())
	}
	m, err := parseSearch(args)
	if err != nil {
		return nil, "", bad(err.Error())
	}
	max := sess.selected.maxUID()
	var nums []string
	for i, msg := range sess.selected.msgs {
		seqNum := uint32(i + 1)
		if !m(seqNum, msg, max) {
			continue
		}
		if uid {
			nums = append(nums, uitoa(msg.uid))
		} else {
			nums = append(nums, uitoa(seqNum))
		}
	}
	return []string{strings.TrimSpace("* SEARCH " + strings.Join(nums, " "))}, "", nil
}

func (sess *session) handleFetch(rest string) ([]string, string, error) {
	set, itemsStr, ok := strings.Cut(rest, " ")
	if !ok || mailpulse.CheckSeqSet(set) != nil {
		return nil, "", bad("Expected sequence set and items")
	}

	var items []string
	dec := imapwire.NewDecoder(itemsStr)
	readItem := func() error {
		var item string
		if !dec.FetchItemName(&item) {
			return fmt.Errorf("invalid fetch item")
		}
		items = append(items, item)
		return nil
	}
	isList, err := dec.List(readItem)
	if err == nil && !isList {
		err = readItem()
	}
	if err != nil {
		return nil, "", bad(err.Error())
	}

	var lines []string
	var fetchErr error
	sess.selected.forUIDSet(set, func(seqNum uint32, msg *message) {
		values := []imapwire.Value{imapwire.Atom("UID"), imapwire.Num(int64(msg.uid))}
		for _, item := range items {
			if item == "UID" {
				continue
			}
			name, v, ok := msg.fetchItem(item)
			if !ok {
				fetchErr = bad("Unknown fetch item " + item)
				return
			}
			if strings.HasPrefix(item, "BODY[") && !sess.readOnly {
				msg.store("+FLAGS", []string{string(mailpulse.FlagSeen)})
			}
			values = append(values, imapwire.Atom(name), v)
		}
		lines = append(lines, fmt.Sprintf("* %v FETCH %v", seqNum, imapwire.List(values...).Format()))
	})
	if fetchErr != nil {
		return nil, "", fetchErr
	}
	return lines, "", nil
}

func (sess *session) handleStore(rest string) ([]string, string, error) {
	args, err := decodeArgs(rest)
	if err != nil || len(args) != 3 {
		return nil, "", bad("Expected sequence set, operation and flags")
	}
	if sess.readOnly {
		return nil, "", no("READ-ONLY", "Mailbox is read-only")
	}
	set, op := args[0].String(), strings.ToUpper(args[1].String())
	silent := strings.HasSuffix(op, ".SILENT")
	op = strings.TrimSuffix(op, ".SILENT")
	if op != "FLAGS" && op != "+FLAGS" && op != "-FLAGS" {
		return nil, "", bad("Unknown STORE operation")
	}
	flags := args[2].Strings()
	if !args[2].IsList() {
		flags = []string{args[2].String()}
	}

	var lines []string
	sess.selected.forUIDSet(set, func(seqNum uint32, msg *message) {
		msg.store(op, flags)
		if !silent {
			fetch := imapwire.List(imapwire.Atom("UID"), imapwire.Num(int64(msg.uid)), imapwire.Atom("FLAGS"), msg.flagValue())
			lines = append(lines, fmt.Sprintf("* %v FETCH %v", seqNum, fetch.Format()))
		}
	})
	return lines, "", nil
}

// handleCopy implements UID COPY and UID MOVE. MOVE reports COPYUID in an
// untagged OK before the EXPUNGE responses, as RFC 6851 requires.
func (sess *session) handleCopy(rest string, move bool) ([]string, string, error) {
	args, err := decodeArgs(rest)
	if err != nil || len(args) != 2 {
		return nil, "", bad("Expected sequence set and mailbox")
	}
	if move && sess.readOnly {
		return nil, "", no("READ-ONLY", "Mailbox is read-only")
	}
	set := args[0].String()
	dest, ok := sess.srv.mailboxes[sess.mailboxName(args[1])]
	if !ok {
		return nil, "", no("TRYCREATE", "No such mailbox")
	}

	var srcUIDs, dstUIDs []uint32
	var moved []*message
	sess.selected.forUIDSet(set, func(seqNum uint32, msg *message) {
		srcUIDs = append(srcUIDs, msg.uid)
		dstUIDs = append(dstUIDs, dest.append(msg.buf, msg.t, msg.flagList()))
		moved = append(moved, msg)
	})

	var code string
	if len(srcUIDs) > 0 && sess.hasCap("UIDPLUS") {
		code = fmt.Sprintf("COPYUID %v %v %v", dest.uidValidity, mailpulse.FormatUIDSet(srcUIDs), mailpulse.FormatUIDSet(dstUIDs))
	}
	if !move {
		return nil, code, nil
	}

	var lines []string
	if code != "" {
		lines = append(lines, "* OK ["+code+"] Moved")
	}
	for _, msg := range moved {
		seqNum, _ := sess.selected.byUID(msg.uid)
		sess.selected.msgs = append(sess.selected.msgs[:seqNum-1], sess.selected.msgs[seqNum:]...)
		sess.exists--
		lines = append(lines, fmt.Sprintf("* %v EXPUNGE", seqNum))
	}
	return lines, "", nil
}

// handleIdle runs IDLE until DONE. If the client sends another command
// instead of DONE, IDLE fails and that command is returned to be run next.
func (sess *session) handleIdle(tag string) (pending string, err error) {
	srv := sess.srv
	srv.mutex.Lock()
	authenticated, drop, delay := sess.authenticated, srv.dropIdleAck, srv.IdleAckDelay
	srv.mutex.Unlock()
	if !authenticated {
		sess.writeLines(tag + " BAD Command requires AUTH state, not authenticated")
		return "", nil
	}

	if !drop {
		if delay > 0 {
			time.Sleep(delay)
		}
		sess.writeMutex.Lock()
		srv.mutex.Lock()
		sess.idling = true
		lines := sess.syncLocked()
		srv.mutex.Unlock()
		sess.writeLinesLocked(append([]string{"+ idling"}, lines...)...)
		sess.writeMutex.Unlock()
	}

	line, err := sess.readCommand()

	sess.writeMutex.Lock()
	defer sess.writeMutex.Unlock()
	srv.mutex.Lock()
	sess.idling = false
	lines := sess.syncLocked()
	srv.mutex.Unlock()

	if err != nil {
		return "", errLogout
	}
	if !strings.EqualFold(line, "DONE") {
		sess.writeLinesLocked(tag + " BAD Expected DONE")
		return line, nil
	}
	srv.mutex.Lock()
	srv.commands = append(srv.commands, "DONE")
	srv.mutex.Unlock()
	sess.writeLinesLocked(append(lines, tag+" OK IDLE terminated")...)
	return "", nil
}

func uitoa(n uint32) string {
	return strconv.FormatUint(uint64(n), 10)
}
