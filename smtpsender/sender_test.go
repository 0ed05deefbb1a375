package smtpsender_test

import (
	"bufio"
	"context"
	"encoding/base64"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailpulse/mailpulse/smtpsender"
)

// smtpServer is a minimal plaintext SMTP server accepting one identity, with
// AUTH PLAIN or XOAUTH2.
type smtpServer struct {
	ln       net.Listener
	username string
	password string
	token    string

	mutex    sync.Mutex
	commands []string
	messages []receivedMessage
	sessions int
}

type receivedMessage struct {
	from  string
	rcpts []string
	data  string
}

func newSMTPServer(t *testing.T) *smtpServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &smtpServer{ln: ln, username: "user@example.org", password: "secret", token: "ya29.token"}
	go srv.serve()
	t.Cleanup(func() { ln.Close() })
	return srv
}

func (srv *smtpServer) port() int {
	return srv.ln.Addr().(*net.TCPAddr).Port
}

func (srv *smtpServer) options() *smtpsender.Options {
	return &smtpsender.Options{
		Host:          "127.0.0.1",
		Port:          srv.port(),
		Username:      srv.username,
		Password:      srv.password,
		AllowInsecure: true,
	}
}

func (srv *smtpServer) serve() {
	for {
		conn, err := srv.ln.Accept()
		if err != nil {
			return
		}
		srv.mutex.Lock()
		srv.sessions++
		srv.mutex.Unlock()
		go srv.handle(conn)
	}
}

func (srv *smtpServer) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(s string) { conn.Write([]byte(s + "\r\n")) }

	reply("220 localhost ESMTP")
	var cur receivedMessage
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
		srv.mutex.Lock()
		srv.commands = append(srv.commands, verb)
		srv.mutex.Unlock()

		switch verb {
		case "EHLO":
			reply("250-localhost")
			reply("250 AUTH PLAIN XOAUTH2")
		case "AUTH":
			fields := strings.Fields(line)
			want := base64.StdEncoding.EncodeToString([]byte("\x00" + srv.username + "\x00" + srv.password))
			if len(fields) == 3 && strings.EqualFold(fields[1], "XOAUTH2") {
				want = base64.StdEncoding.EncodeToString([]byte("user=" + srv.username + "\x01auth=Bearer " + srv.token + "\x01\x01"))
			}
			if len(fields) == 3 && fields[2] == want {
				reply("235 2.7.0 Authentication successful")
			} else {
				reply("535 5.7.8 Authentication failed")
			}
		case "MAIL":
			cur = receivedMessage{from: addrArg(line)}
			reply("250 OK")
		case "RCPT":
			cur.rcpts = append(cur.rcpts, addrArg(line))
			reply("250 OK")
		case "DATA":
			reply("354 End data with <CR><LF>.<CR><LF>")
			var sb strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				sb.WriteString(strings.TrimPrefix(l, "."))
			}
			cur.data = sb.String()
			srv.mutex.Lock()
			srv.messages = append(srv.messages, cur)
			srv.mutex.Unlock()
			reply("250 OK queued")
		case "RSET", "NOOP":
			reply("250 OK")
		case "QUIT":
			reply("221 Bye")
			return
		default:
			reply("502 Command not implemented")
		}
	}
}

func addrArg(line string) string {
	i := strings.IndexByte(line, '<')
	j := strings.IndexByte(line, '>')
	if i < 0 || j < i {
		return ""
	}
	return line[i+1 : j]
}

func (srv *smtpServer) received() []receivedMessage {
	srv.mutex.Lock()
	defer srv.mutex.Unlock()
	return append([]receivedMessage(nil), srv.messages...)
}

func (srv *smtpServer) sessionCount() int {
	srv.mutex.Lock()
	defer srv.mutex.Unlock()
	return srv.sessions
}

func TestSender_Send(t *testing.T) {
	srv := newSMTPServer(t)
	sender := smtpsender.New(srv.options())
	ctx := context.Background()

	require.NoError(t, sender.Connect(ctx))
	assert.True(t, sender.Connected())

	msg := &smtpsender.Message{
		From:    "Me <user@example.org>",
		To:      []string{"a@example.org"},
		Cc:      []string{"b@example.org"},
		Bcc:     []string{"hidden@example.org", "A@example.org"},
		Subject: "Status",
		Text:    "all good",
	}
	require.NoError(t, sender.Send(ctx, msg))

	got := srv.received()
	require.Len(t, got, 1)
	assert.Equal(t, "user@example.org", got[0].from)
	assert.Equal(t, []string{"a@example.org", "b@example.org", "hidden@example.org"}, got[0].rcpts)
	assert.Contains(t, got[0].data, "Subject: Status")
	assert.Contains(t, got[0].data, "all good")
	assert.NotContains(t, got[0].data, "hidden@example.org")
	assert.NotEmpty(t, msg.MessageID)

	require.NoError(t, sender.Close(ctx))
	assert.False(t, sender.Connected())
	require.NoError(t, sender.Close(ctx))
}

func TestSender_Send_connectsLazily(t *testing.T) {
	srv := newSMTPServer(t)
	sender := smtpsender.New(srv.options())
	defer sender.Close(context.Background())

	msg := &smtpsender.Message{From: "user@example.org", To: []string{"a@example.org"}, Text: "hi"}
	require.NoError(t, sender.Send(context.Background(), msg))
	require.NoError(t, sender.Send(context.Background(), msg))
	assert.Len(t, srv.received(), 2)
	assert.Equal(t, 1, srv.sessionCount())
}

func TestSender_Connect_authFailed(t *testing.T) {
	srv := newSMTPServer(t)
	options := srv.options()
	options.Password = "wrong"

	err := smtpsender.New(options).Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth")
}

func TestSender_Connect_oauth(t *testing.T) {
	srv := newSMTPServer(t)
	options := srv.options()
	options.Password = ""
	options.OAuthToken = srv.token

	sender := smtpsender.New(options)
	require.NoError(t, sender.Connect(context.Background()))
	defer sender.Close(context.Background())
	assert.True(t, sender.Connected())

	options.OAuthToken = "expired"
	err := smtpsender.New(options).Connect(context.Background())
	require.Error(t, err)
}

func TestSender_Connect_requiresTLS(t *testing.T) {
	srv := newSMTPServer(t)
	options := srv.options()
	options.AllowInsecure = false

	err := smtpsender.New(options).Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STARTTLS")
}

func TestSender_Send_invalid(t *testing.T) {
	srv := newSMTPServer(t)
	sender := smtpsender.New(srv.options())

	err := sender.Send(context.Background(), &smtpsender.Message{From: "user@example.org", Text: "hi"})
	require.Error(t, err)
	assert.Zero(t, srv.sessionCount())
}
