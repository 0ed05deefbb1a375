package imapclient_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailpulse/mailpulse"
	"github.com/mailpulse/mailpulse/imapclient"
	"github.com/mailpulse/mailpulse/internal/imaptest"
)

const (
	testUsername = "test-user"
	testPassword = "test-password"
)

func newServer(t *testing.T) *imaptest.Server {
	srv := imaptest.NewServer(testUsername, testPassword)
	t.Cleanup(srv.Close)
	return srv
}

// newClientServerPair returns a client logged in to a fresh server.
func newClientServerPair(t *testing.T, options *imapclient.Options) (*imapclient.Client, *imaptest.Server) {
	srv := newServer(t)
	return newClient(t, srv, options), srv
}

func newClient(t *testing.T, srv *imaptest.Server, options *imapclient.Options) *imapclient.Client {
	client, err := imapclient.New(srv.Dial(), options)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	t.Cleanup(func() { client.Close() })

	if err := client.Login(context.Background(), testUsername, testPassword); err != nil {
		t.Fatalf("Login() = %v", err)
	}
	return client
}

func deliver(srv *imaptest.Server, mbox string, msg *imaptest.Message, flags ...string) uint32 {
	return srv.Deliver(mbox, msg.Bytes(), flags...)
}

func TestClient_greeting(t *testing.T) {
	srv := newServer(t)
	client, err := imapclient.New(srv.Dial(), nil)
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, mailpulse.ConnStateNotAuthenticated, client.State())
	assert.True(t, client.Has("idle"))
	assert.True(t, client.Has("IMAP4rev1"))
}

func TestClient_Login(t *testing.T) {
	client, _ := newClientServerPair(t, nil)

	assert.Equal(t, mailpulse.ConnStateAuthenticated, client.State())
	assert.Equal(t, "/", client.Delimiter())
}

func TestClient_Login_invalid(t *testing.T) {
	srv := newServer(t)
	client, err := imapclient.New(srv.Dial(), nil)
	require.NoError(t, err)
	defer client.Close()

	err = client.Login(context.Background(), testUsername, "wrong")
	var imapErr *mailpulse.Error
	require.ErrorAs(t, err, &imapErr)
	assert.Equal(t, mailpulse.ResponseCodeAuthenticationFailed, imapErr.Code)
	assert.NotErrorIs(t, err, mailpulse.ErrLoggedOut)
	assert.Equal(t, mailpulse.ConnStateNotAuthenticated, client.State())

	err = client.Login(context.Background(), "", testPassword)
	assert.True(t, mailpulse.IsValidation(err), "Login() = %v", err)
}

func TestClient_Login_nonASCII(t *testing.T) {
	srv := imaptest.NewServer("jürgen", "pässwörd")
	defer srv.Close()

	client, err := imapclient.New(srv.Dial(), nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Login(context.Background(), "jürgen", "pässwörd"))
	assert.Equal(t, mailpulse.ConnStateAuthenticated, client.State())
	assert.Contains(t, srv.CommandNames(), "AUTHENTICATE")
	assert.NotContains(t, srv.CommandNames(), "LOGIN")
}

func TestClient_LoginOAuth2(t *testing.T) {
	srv := newServer(t)
	srv.Token = "ya29.token"
	srv.Caps = append(srv.Caps, "AUTH=XOAUTH2")

	client, err := imapclient.New(srv.Dial(), nil)
	require.NoError(t, err)
	defer client.Close()

	err = client.LoginOAuth2(context.Background(), testUsername, "expired")
	var imapErr *mailpulse.Error
	require.ErrorAs(t, err, &imapErr)
	assert.Equal(t, mailpulse.ResponseCodeAuthenticationFailed, imapErr.Code)
	assert.Equal(t, mailpulse.ConnStateNotAuthenticated, client.State())

	require.NoError(t, client.LoginOAuth2(context.Background(), testUsername, "ya29.token"))
	assert.Equal(t, mailpulse.ConnStateAuthenticated, client.State())

	err = client.LoginOAuth2(context.Background(), testUsername, "")
	assert.True(t, mailpulse.IsValidation(err))
}

func TestClient_Logout(t *testing.T) {
	client, _ := newClientServerPair(t, nil)

	require.NoError(t, client.Logout(context.Background()))
	assert.Equal(t, mailpulse.ConnStateLoggedOut, client.State())

	err := client.Noop(context.Background())
	assert.ErrorIs(t, err, mailpulse.ErrLoggedOut)
}

func TestClient_bye(t *testing.T) {
	client, srv := newClientServerPair(t, nil)

	srv.Bye("Server shutting down")
	require.Eventually(t, func() bool {
		return client.State() == mailpulse.ConnStateLoggedOut
	}, time.Second, 5*time.Millisecond)

	_, err := client.Search(context.Background(), "INBOX", nil)
	assert.ErrorIs(t, err, mailpulse.ErrLoggedOut)
}

func TestClient_byeWhileIdle(t *testing.T) {
	client, srv := newClientServerPair(t, nil)
	require.NoError(t, client.Idle(context.Background()))

	srv.Bye("Idle for too long")
	require.Eventually(t, func() bool {
		return client.State() == mailpulse.ConnStateLoggedOut
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, imapclient.IdleStateNone, client.IdleState())
	_, err := client.Folders(context.Background())
	assert.ErrorIs(t, err, mailpulse.ErrLoggedOut)
}

func TestClient_timeout(t *testing.T) {
	client, srv := newClientServerPair(t, &imapclient.Options{CommandTimeout: 100 * time.Millisecond})
	srv.Stall("NOOP")

	err := client.Noop(context.Background())
	require.ErrorIs(t, err, mailpulse.ErrTimeout)
	var timeoutErr *mailpulse.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "NOOP", timeoutErr.Op)

	// The next command is not confused by the missing NOOP completion.
	mbox, err := client.Select(context.Background(), "INBOX", true)
	require.NoError(t, err)
	assert.True(t, mbox.ReadOnly)
}

func TestClient_lateResponse(t *testing.T) {
	client, srv := newClientServerPair(t, &imapclient.Options{CommandTimeout: 200 * time.Millisecond})
	deliver(srv, "INBOX", &imaptest.Message{From: "a@example.org", Subject: "one", Text: "1"})
	deliver(srv, "INBOX", &imaptest.Message{From: "b@example.org", Subject: "two", Text: "2"})
	ctx := context.Background()

	// The first search is answered after the client gave up on it.
	srv.Delay("UID SEARCH", 300*time.Millisecond)
	_, err := client.Search(ctx, "INBOX", &mailpulse.SearchCriteria{Senders: []string{"a@example.org"}})
	require.ErrorIs(t, err, mailpulse.ErrTimeout)

	// Its late "* SEARCH 1" must not be counted as part of this result.
	result, err := client.Search(ctx, "INBOX", &mailpulse.SearchCriteria{Senders: []string{"b@example.org"}})
	require.NoError(t, err)
	assert.Equal(t, []uint32{2}, result.UIDs)

	require.NoError(t, client.Noop(ctx))
}

func TestClient_canceledContext(t *testing.T) {
	client, _ := newClientServerPair(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := client.Noop(ctx)
	assert.True(t, errors.Is(err, context.Canceled), "Noop() = %v", err)
}

func TestClient_Select(t *testing.T) {
	client, srv := newClientServerPair(t, nil)
	deliver(srv, "INBOX", &imaptest.Message{From: "a@example.org", Subject: "one", Text: "1"})
	deliver(srv, "INBOX", &imaptest.Message{From: "a@example.org", Subject: "two", Text: "2"})

	mbox, err := client.Select(context.Background(), "inbox", false)
	require.NoError(t, err)
	assert.Equal(t, "INBOX", mbox.Name)
	assert.EqualValues(t, 2, mbox.Exists)
	assert.False(t, mbox.ReadOnly)
	assert.NotZero(t, mbox.UIDValidity)
	assert.EqualValues(t, 3, mbox.UIDNext)
	assert.Equal(t, mailpulse.ConnStateSelected, client.State())

	_, err = client.Select(context.Background(), "Nope", false)
	var imapErr *mailpulse.Error
	require.ErrorAs(t, err, &imapErr)
	assert.Equal(t, "Nope", imapErr.Folder)
	assert.Nil(t, client.Mailbox())
}
