package imapclient

import (
	"context"
	"sort"
	"time"

	"github.com/mailpulse/mailpulse"
)

// NewMailEvent records INBOX growth seen while listening for new mail.
type NewMailEvent struct {
	// Count is the new message count, Previous the last known one.
	Count    uint32
	Previous uint32
	Time     time.Time
	// Since is when INBOX was last seen with Previous messages: the new
	// ones arrived between Since and Time.
	Since time.Time
}

// inboxTracker is the last known INBOX size. It is updated when IDLE is
// entered, by EXISTS pushes while idling and by expunges.
type inboxTracker struct {
	known bool
	size  uint32
	at    time.Time
}

func (t *inboxTracker) expunged() {
	if t.known && t.size > 0 {
		t.size--
	}
}

// recordInboxSizeLocked updates the last known INBOX size and returns an
// event when it grew.
func (c *Client) recordInboxSizeLocked(n uint32) []NewMailEvent {
	prev, known, since := c.inbox.size, c.inbox.known, c.inbox.at
	now := time.Now()
	c.inbox.known = true
	c.inbox.size = n
	c.inbox.at = now
	if !known || n <= prev || !c.listening {
		return nil
	}
	ev := NewMailEvent{Count: n, Previous: prev, Time: now, Since: since}
	c.events = append(c.events, ev)
	c.logger.Info().Uint32("count", n).Uint32("previous", prev).Msg("new mail")
	return []NewMailEvent{ev}
}

// inboxExistsLocked handles an EXISTS push received outside of any command.
func (c *Client) inboxExistsLocked(n uint32) []NewMailEvent {
	if c.mailbox == nil || c.mailbox.Name != mailpulse.InboxName {
		return nil
	}
	return c.recordInboxSizeLocked(n)
}

func (c *Client) publish(events []NewMailEvent) {
	if c.options.OnNewMail == nil {
		return
	}
	for _, ev := range events {
		c.options.OnNewMail(ev)
	}
}

// ListenNewMail turns new mail recording on or off. Turning it off drops
// the recorded events.
func (c *Client) ListenNewMail(enable bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.listening = enable
	if !enable {
		c.events = nil
	}
}

// NewMailEvents returns the events recorded since the last RecentEmails.
func (c *Client) NewMailEvents() []NewMailEvent {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]NewMailEvent(nil), c.events...)
}

// RecentEmails returns the unseen INBOX messages which arrived since the
// earliest recorded new mail event, newest first, and consumes the events.
// It returns nothing when no event was recorded.
//
// The floor is the Since time of the earliest event. The server is searched
// from Options.RecentLookback before it, a margin for clock skew, but SINCE
// only compares dates: the messages found are then kept only when their Date
// header is not before the floor.
func (c *Client) RecentEmails(ctx context.Context) ([]mailpulse.Email, error) {
	c.mutex.Lock()
	events := c.events
	c.mutex.Unlock()
	if len(events) == 0 {
		return []mailpulse.Email{}, nil
	}

	floor := events[0].Since
	for _, ev := range events[1:] {
		if ev.Since.Before(floor) {
			floor = ev.Since
		}
	}
	// Date headers have a one second resolution.
	floor = floor.Truncate(time.Second)

	criteria := &mailpulse.SearchCriteria{
		Since:         floor.Add(-c.options.recentLookback()),
		ExcludedFlags: []string{string(mailpulse.FlagSeen)},
	}

	var emails []mailpulse.Email
	err := c.interrupt(ctx, "RECENT", func() error {
		uids, err := c.searchFolder(mailpulse.InboxName, criteria.Query())
		if err != nil {
			return err
		}
		fetched, err := c.fetchEmails(mailpulse.InboxName, uids)
		if err != nil {
			return err
		}
		for _, email := range fetched {
			if email.Date.IsZero() || !email.Date.Before(floor) {
				emails = append(emails, email)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(emails, func(i, j int) bool { return emails[i].UID > emails[j].UID })

	c.mutex.Lock()
	// Events recorded while fetching are kept for the next call.
	if len(c.events) >= len(events) {
		c.events = append([]NewMailEvent(nil), c.events[len(events):]...)
	}
	c.mutex.Unlock()
	if emails == nil {
		emails = []mailpulse.Email{}
	}
	return emails, nil
}
