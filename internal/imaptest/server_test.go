package imaptest

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailpulse/mailpulse/imapresp"
	"github.com/mailpulse/mailpulse/internal/imapwire"
)

type testConn struct {
	t    *testing.T
	conn net.Conn
	r    *imapwire.Reader
	tag  int
}

func dialTest(t *testing.T, srv *Server) *testConn {
	conn := srv.Dial()
	t.Cleanup(func() { conn.Close() })
	tc := &testConn{t: t, conn: conn, r: imapwire.NewReader(bufio.NewReader(conn))}
	greeting, err := tc.r.ReadLine()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(greeting, "* OK [CAPABILITY "), greeting)
	return tc
}

// exec sends a command and returns the untagged lines and the tagged status.
func (tc *testConn) exec(cmd string) ([]string, string) {
	tc.t.Helper()
	tc.tag++
	tag := fmt.Sprintf("T%v", tc.tag)
	_, err := fmt.Fprintf(tc.conn, "%v %v\r\n", tag, cmd)
	require.NoError(tc.t, err)

	var lines []string
	for {
		line, err := tc.r.ReadLine()
		require.NoError(tc.t, err)
		if strings.HasPrefix(line, tag+" ") {
			return lines, strings.TrimPrefix(line, tag+" ")
		}
		lines = append(lines, line)
	}
}

func (tc *testConn) mustOK(cmd string) []string {
	tc.t.Helper()
	lines, status := tc.exec(cmd)
	require.True(tc.t, strings.HasPrefix(status, "OK"), "%v: %v", cmd, status)
	return lines
}

func TestServer_login(t *testing.T) {
	srv := NewServer("user", "pass")
	defer srv.Close()
	tc := dialTest(t, srv)

	_, status := tc.exec("SELECT INBOX")
	assert.True(t, strings.HasPrefix(status, "BAD"), status)

	_, status = tc.exec(`LOGIN "user" "wrong"`)
	assert.Equal(t, "NO [AUTHENTICATIONFAILED] Invalid credentials", status)

	// "\x00user\x00pass"
	tc.mustOK("AUTHENTICATE PLAIN AHVzZXIAcGFzcw==")
	tc.mustOK("NOOP")
}

func TestServer_fetch(t *testing.T) {
	srv := NewServer("user", "pass")
	defer srv.Close()

	raw := (&Message{
		From:    "Ann <ann@example.org>",
		To:      []string{"bob@example.org"},
		Subject: "Report",
		Text:    "see attached",
		Parts:   []Part{{Filename: "report.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")}},
	}).Bytes()
	uid := srv.Deliver("INBOX", raw)

	tc := dialTest(t, srv)
	tc.mustOK(`LOGIN user pass`)
	tc.mustOK("EXAMINE INBOX")

	lines := tc.mustOK(fmt.Sprintf("UID FETCH %v (UID FLAGS BODYSTRUCTURE BODY.PEEK[HEADER.FIELDS (SUBJECT FROM)])", uid))
	groups := imapresp.GroupFetch(lines)
	require.Len(t, groups, 1)
	g := groups[0]
	assert.EqualValues(t, uid, g.UIDNum())
	assert.Equal(t, "Report", g.Headers()["Subject"])

	bs := g.BodyStructure()
	require.NotNil(t, bs)
	assert.Equal(t, "1.1", bs.TextPart().Path)
	atts := bs.Attachments()
	require.Len(t, atts, 1)
	assert.Equal(t, "report.pdf", atts[0].Name)
	assert.Equal(t, "2", atts[0].PartPath)

	lines = tc.mustOK(fmt.Sprintf("UID FETCH %v (BODY.PEEK[2])", uid))
	body, ok := imapresp.GroupFetch(lines)[0].Body("2")
	require.True(t, ok)
	assert.Equal(t, "%PDF-1.4", string(imapresp.DecodeBytes(body, "base64")))
}

func TestServer_searchStoreMove(t *testing.T) {
	srv := NewServer("user", "pass")
	defer srv.Close()
	srv.Deliver("INBOX", (&Message{From: "a@example.org", Subject: "one", Text: "alpha"}).Bytes())
	srv.Deliver("INBOX", (&Message{From: "b@example.org", Subject: "two", Text: "beta"}).Bytes(), `\Seen`)
	srv.Deliver("INBOX", (&Message{From: "c@example.org", Subject: "three", Text: "alpha beta"}).Bytes())

	tc := dialTest(t, srv)
	tc.mustOK(`LOGIN user pass`)
	tc.mustOK("SELECT INBOX")

	tests := []struct {
		query string
		want  []uint32
	}{
		{"ALL", []uint32{1, 2, 3}},
		{`(BODY "alpha")`, []uint32{1, 3}},
		{`(OR (FROM "a@") (FROM "b@"))`, []uint32{1, 2}},
		{`(UNSEEN) (NOT BODY "beta")`, []uint32{1}},
		{`CHARSET UTF-8 (SUBJECT "TWO")`, []uint32{2}},
	}
	for _, test := range tests {
		lines := tc.mustOK("UID SEARCH " + test.query)
		assert.Equal(t, test.want, imapresp.SearchUIDs(lines), test.query)
	}

	tc.mustOK(`UID STORE 1 +FLAGS.SILENT (\Flagged)`)
	assert.Equal(t, []string{`\Flagged`}, srv.Flags("INBOX", 1))

	_, status := tc.exec(`UID MOVE 1:2 "Trash"`)
	assert.Equal(t, "OK UID MOVE completed", status)
	assert.Equal(t, []uint32{3}, srv.UIDs("INBOX"))
	assert.Equal(t, []uint32{1, 2}, srv.UIDs("Trash"))

	_, status = tc.exec(`UID COPY 3 "Nowhere"`)
	assert.Equal(t, "NO [TRYCREATE] No such mailbox", status)
}

func TestServer_idle(t *testing.T) {
	srv := NewServer("user", "pass")
	defer srv.Close()

	tc := dialTest(t, srv)
	tc.mustOK(`LOGIN user pass`)
	tc.mustOK("EXAMINE INBOX")

	_, err := fmt.Fprintf(tc.conn, "I1 IDLE\r\n")
	require.NoError(t, err)
	line, err := tc.r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "+ idling", line)

	go srv.Deliver("INBOX", (&Message{From: "a@example.org", Subject: "new", Text: "hi"}).Bytes())
	line, err = tc.r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "* 1 EXISTS", line)

	_, err = fmt.Fprintf(tc.conn, "DONE\r\n")
	require.NoError(t, err)
	line, err = tc.r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "I1 OK IDLE terminated", line)

	assert.Equal(t, []string{"LOGIN", "EXAMINE", "IDLE", "DONE"}, srv.CommandNames())
}

func TestMatchList(t *testing.T) {
	tests := []struct {
		name, pattern string
		want          bool
	}{
		{"INBOX", "*", true},
		{"a/b", "*", true},
		{"a/b", "%", false},
		{"a", "%", true},
		{"a/b", "a/%", true},
		{"a/b/c", "a/%", false},
		{"Trash", "Tr*", true},
		{"Trash", "Sent", false},
	}
	for _, test := range tests {
		if got := matchList(test.name, test.pattern); got != test.want {
			t.Errorf("matchList(%q, %q) = %v, want %v", test.name, test.pattern, got, test.want)
		}
	}
}

func TestServer_Serve(t *testing.T) {
	srv := NewServer("user", "pass")
	defer srv.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	tc := &testConn{t: t, conn: conn, r: imapwire.NewReader(bufio.NewReader(conn))}
	greeting, err := tc.r.ReadLine()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(greeting, "* OK"), greeting)
	tc.mustOK(`LOGIN "user" "pass"`)

	ln.Close()
	assert.NoError(t, <-done)
}
