package imapclient

import (
	"context"
	"fmt"

	"github.com/mailpulse/mailpulse"
	"github.com/mailpulse/mailpulse/imapresp"
	"github.com/mailpulse/mailpulse/internal/imapwire"
)

// copyResult maps source UIDs to destination UIDs, when the server reported
// them with COPYUID.
type copyResult struct {
	src, dst []uint32
}

func parseCopyUID(resp *response) *copyResult {
	if resp == nil {
		return nil
	}
	if resp.Status != nil && resp.Status.Code == mailpulse.ResponseCodeCopyUID {
		if _, src, dst, ok := imapresp.CopyUID(resp.Status.CodeArg); ok {
			return &copyResult{src, dst}
		}
	}
	// MOVE reports COPYUID in an untagged OK.
	for _, line := range resp.Lines {
		st, ok := imapresp.ParseStatus(line)
		if !ok || st.Tag != "*" || st.Code != mailpulse.ResponseCodeCopyUID {
			continue
		}
		if _, src, dst, ok := imapresp.CopyUID(st.CodeArg); ok {
			return &copyResult{src, dst}
		}
	}
	return nil
}

// Move moves the messages of set from src to dst.
func (c *Client) Move(ctx context.Context, src, dst, set string) (string, error) {
	if err := validateTarget(src, set); err != nil {
		return "", err
	}
	if err := mailpulse.ValidateFolderName(dst); err != nil {
		return "", err
	}
	var srcName, dstName string
	err := c.interrupt(ctx, "MOVE", func() error {
		var err error
		if dstName, err = c.folderName(dst); err != nil {
			return err
		}
		if srcName, _, err = c.selectSet(src, set); err != nil {
			return err
		}
		_, err = c.move(srcName, dstName, set)
		return err
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Messages %v moved from %q to %q", set, srcName, dstName), nil
}

// move moves set from the selected mailbox to dst with UID MOVE, or with
// COPY, STORE and EXPUNGE when the server lacks MOVE. The caller must hold
// the gate.
func (c *Client) move(srcName, dstName, set string) (*copyResult, error) {
	if c.Has("MOVE") {
		resp, err := c.execute("UID MOVE", func(enc *imapwire.Encoder) {
			enc.SP().SeqSet(set).SP().Mailbox(dstName)
		})
		if err != nil {
			return nil, withContext(err, srcName, set)
		}
		if err := c.expunge(set); err != nil {
			return nil, err
		}
		return parseCopyUID(resp), nil
	}

	resp, err := c.execute("UID COPY", func(enc *imapwire.Encoder) {
		enc.SP().SeqSet(set).SP().Mailbox(dstName)
	})
	if err != nil {
		return nil, withContext(err, srcName, set)
	}
	if err := c.store(set, StoreFlagsAdd, []mailpulse.Flag{mailpulse.FlagDeleted}); err != nil {
		return nil, withContext(err, srcName, set)
	}
	if err := c.expunge(set); err != nil {
		return nil, err
	}
	return parseCopyUID(resp), nil
}

// Copy copies the messages of set from src to dst.
func (c *Client) Copy(ctx context.Context, src, dst, set string) (string, error) {
	if err := validateTarget(src, set); err != nil {
		return "", err
	}
	if err := mailpulse.ValidateFolderName(dst); err != nil {
		return "", err
	}
	var srcName, dstName string
	err := c.interrupt(ctx, "COPY", func() error {
		var err error
		if dstName, err = c.folderName(dst); err != nil {
			return err
		}
		if srcName, _, err = c.selectSet(src, set); err != nil {
			return err
		}
		_, err = c.execute("UID COPY", func(enc *imapwire.Encoder) {
			enc.SP().SeqSet(set).SP().Mailbox(dstName)
		})
		if err != nil {
			return withContext(err, srcName, set)
		}
		return c.expunge(set)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Messages %v copied from %q to %q", set, srcName, dstName), nil
}
