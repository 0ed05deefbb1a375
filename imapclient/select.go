package imapclient

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mailpulse/mailpulse"
	"github.com/mailpulse/mailpulse/internal/imapwire"
)

// Select selects a folder, read-only with EXAMINE when readOnly is set.
func (c *Client) Select(ctx context.Context, folder string, readOnly bool) (*SelectedMailbox, error) {
	if err := mailpulse.ValidateFolderName(folder); err != nil {
		return nil, err
	}
	var mbox *SelectedMailbox
	err := c.interrupt(ctx, "SELECT", func() error {
		var err error
		mbox, err = c.selectFolder(folder, readOnly)
		return err
	})
	return mbox, err
}

// selectFolder runs SELECT or EXAMINE. The caller must hold the gate.
func (c *Client) selectFolder(folder string, readOnly bool) (*SelectedMailbox, error) {
	folder = mailpulse.CanonicalMailboxName(folder)
	name := "SELECT"
	if readOnly {
		name = "EXAMINE"
	}

	c.mutex.Lock()
	c.mailbox = &SelectedMailbox{Name: folder, ReadOnly: readOnly}
	c.mutex.Unlock()

	_, err := c.execute(name, func(enc *imapwire.Encoder) {
		enc.SP().Mailbox(folder)
	})
	if err != nil {
		return nil, withContext(err, folder, "")
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.mailbox == nil {
		return nil, fmt.Errorf("imapclient: %v %q: %w", name, folder, mailpulse.ErrLoggedOut)
	}
	mbox := *c.mailbox
	c.logger.Debug().Str("folder", folder).Bool("read_only", mbox.ReadOnly).Uint32("exists", mbox.Exists).Msg("selected")
	return &mbox, nil
}

// examineInbox examines INBOX before IDLE and records new mail which arrived
// since INBOX was last seen. The caller must hold the gate.
func (c *Client) examineInbox() error {
	mbox, err := c.selectFolder(mailpulse.InboxName, true)
	if err != nil {
		return err
	}
	c.mutex.Lock()
	events := c.recordInboxSizeLocked(mbox.Exists)
	c.mutex.Unlock()
	c.publish(events)
	return nil
}

// withContext adds the folder and the sequence set to a status error.
func withContext(err error, folder, set string) error {
	if imapErr, ok := err.(*mailpulse.Error); ok {
		imapErr.Folder = folder
		imapErr.SeqSet = set
	}
	return err
}

func parseUint32(s string) uint32 {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}
