package imapclient

import (
	"context"
	"fmt"

	"github.com/mailpulse/mailpulse"
	"github.com/mailpulse/mailpulse/imapresp"
	"github.com/mailpulse/mailpulse/internal/imapwire"
)

// Expunge permanently removes the messages flagged \Deleted in folder.
func (c *Client) Expunge(ctx context.Context, folder string) (string, error) {
	if err := mailpulse.ValidateFolderName(folder); err != nil {
		return "", err
	}
	var name string
	var n int
	err := c.interrupt(ctx, "EXPUNGE", func() error {
		var err error
		if name, err = c.folderName(folder); err != nil {
			return err
		}
		if _, err := c.selectFolder(name, false); err != nil {
			return err
		}
		resp, err := c.execute("EXPUNGE", nil)
		if err != nil {
			return withContext(err, name, "")
		}
		n = countExpunged(resp.Lines)
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Expunged %v messages from %q", n, name), nil
}

// expunge makes pending removals durable in the selected mailbox. With
// UIDPLUS only the messages of set are expunged. The caller must hold the
// gate.
func (c *Client) expunge(set string) error {
	mbox := c.Mailbox()
	folder := ""
	if mbox != nil {
		folder = mbox.Name
	}

	var err error
	if c.Has("UIDPLUS") && set != "" {
		_, err = c.execute("UID EXPUNGE", func(enc *imapwire.Encoder) {
			enc.SP().SeqSet(set)
		})
	} else {
		_, err = c.execute("EXPUNGE", nil)
	}
	return withContext(err, folder, set)
}

func countExpunged(lines []string) int {
	n := 0
	for _, line := range lines {
		if _, ok := imapresp.ExpungeSeq(line); ok {
			n++
		}
	}
	return n
}
