package eventstore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailpulse/mailpulse"
	"github.com/mailpulse/mailpulse/eventstore"
	"github.com/mailpulse/mailpulse/imapclient"
)

func newStore(t *testing.T) *eventstore.Store {
	t.Helper()
	s, err := eventstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordList(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, acct := range []string{"a@example.org", "b@example.org", "A@example.org"} {
		_, err := s.Record(ctx, acct, imapclient.NewMailEvent{
			Count:    uint32(10 + i),
			Previous: uint32(9 + i),
			Time:     base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	events, err := s.List(ctx, eventstore.Filter{Account: "a@example.org"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.EqualValues(t, 12, events[0].Count)
	assert.EqualValues(t, 10, events[1].Count)
	assert.EqualValues(t, 1, events[0].New())
	assert.Equal(t, mailpulse.InboxName, events[0].Folder)
	assert.True(t, events[0].ReceivedAt.Equal(base.Add(2*time.Minute)))

	events, err = s.List(ctx, eventstore.Filter{Since: base.Add(time.Minute)})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = s.List(ctx, eventstore.Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.EqualValues(t, 12, events[0].Count)

	_, err = s.Record(ctx, "", imapclient.NewMailEvent{Count: 1})
	assert.True(t, mailpulse.IsValidation(err))
}

func TestStore_Prune(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := s.Record(ctx, "a@example.org", imapclient.NewMailEvent{Count: 1, Time: now.Add(-48 * time.Hour)})
	require.NoError(t, err)
	_, err = s.Record(ctx, "a@example.org", imapclient.NewMailEvent{Count: 2, Time: now})
	require.NoError(t, err)

	n, err := s.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	events, err := s.List(ctx, eventstore.Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.EqualValues(t, 2, events[0].Count)
}

func TestStore_reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	ctx := context.Background()

	s, err := eventstore.Open(path)
	require.NoError(t, err)
	_, err = s.Record(ctx, "a@example.org", imapclient.NewMailEvent{Count: 3})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = eventstore.Open(path)
	require.NoError(t, err)
	defer s.Close()
	events, err := s.List(ctx, eventstore.Filter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRecorder(t *testing.T) {
	s := newStore(t)
	r := s.NewRecorder("a@example.org", nil)
	for i := 1; i <= 3; i++ {
		r.Handle(imapclient.NewMailEvent{Count: uint32(i), Previous: uint32(i - 1), Time: time.Now()})
	}
	r.Close()
	r.Close()

	events, err := s.List(context.Background(), eventstore.Filter{Account: "a@example.org"})
	require.NoError(t, err)
	assert.Len(t, events, 3)
}
