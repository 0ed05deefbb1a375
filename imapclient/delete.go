package imapclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/mailpulse/mailpulse"
	"github.com/mailpulse/mailpulse/imapresp"
	"github.com/mailpulse/mailpulse/internal/imapwire"
)

// Delete moves the messages of set to the Trash folder, then flags them
// \Deleted there and expunges them. Deleting from Trash itself flags and
// expunges in place.
func (c *Client) Delete(ctx context.Context, folder, set string) (string, error) {
	if err := validateTarget(folder, set); err != nil {
		return "", err
	}

	var name, trashName string
	err := c.interrupt(ctx, "DELETE", func() error {
		trash, err := c.resolveFolder(mailpulse.FolderRoleTrash)
		if err != nil {
			return err
		}
		trashName = trash.Name
		if name, _, err = c.selectSet(folder, set); err != nil {
			return err
		}

		if name == trashName {
			if err := c.store(set, StoreFlagsAdd, []mailpulse.Flag{mailpulse.FlagDeleted}); err != nil {
				return withContext(err, name, set)
			}
			return c.expunge(set)
		}

		var ids []string
		if !c.Has("UIDPLUS") {
			if ids, err = c.messageIDs(set); err != nil {
				return err
			}
		}
		moved, err := c.move(name, trashName, set)
		if err != nil {
			return err
		}

		if _, err := c.selectFolder(trashName, false); err != nil {
			return err
		}
		var dst []uint32
		if moved != nil {
			dst = moved.dst
		} else if dst, err = c.searchMessageIDs(ids); err != nil {
			return withContext(err, trashName, "")
		}
		if len(dst) == 0 {
			c.logger.Warn().Str("folder", name).Str("set", set).Msg("could not find deleted messages in trash")
			return nil
		}
		trashSet := mailpulse.FormatUIDSet(dst)
		if err := c.store(trashSet, StoreFlagsAdd, []mailpulse.Flag{mailpulse.FlagDeleted}); err != nil {
			return withContext(err, trashName, trashSet)
		}
		return c.expunge(trashSet)
	})
	if err != nil {
		return "", err
	}
	if name == trashName {
		return fmt.Sprintf("Messages %v deleted from %q", set, name), nil
	}
	return fmt.Sprintf("Messages %v moved from %q to %q and deleted", set, name, trashName), nil
}

// messageIDs fetches the Message-ID of the messages of set. The caller must
// hold the gate.
func (c *Client) messageIDs(set string) ([]string, error) {
	resp, err := c.execute("UID FETCH", func(enc *imapwire.Encoder) {
		enc.SP().SeqSet(set).SP().Text("(UID BODY.PEEK[HEADER.FIELDS (MESSAGE-ID)])")
	})
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, g := range imapresp.GroupFetch(resp.Lines) {
		h := g.Header()
		if id := strings.TrimSpace(h.Get("Message-Id")); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// searchMessageIDs finds messages of the selected mailbox by Message-ID. The
// caller must hold the gate.
func (c *Client) searchMessageIDs(ids []string) ([]uint32, error) {
	var uids []uint32
	for _, id := range ids {
		found, err := c.uidSearch("HEADER MESSAGE-ID " + mailpulse.Quote(id))
		if err != nil {
			return nil, err
		}
		uids = append(uids, found...)
	}
	return uids, nil
}
