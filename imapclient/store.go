package imapclient

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/mailpulse/mailpulse"
	"github.com/mailpulse/mailpulse/imapresp"
	"github.com/mailpulse/mailpulse/internal/imapwire"
)

// StoreFlagsOp is a flag operation.
type StoreFlagsOp int

const (
	StoreFlagsSet StoreFlagsOp = iota
	StoreFlagsAdd
	StoreFlagsDel
)

func (op StoreFlagsOp) item() string {
	switch op {
	case StoreFlagsAdd:
		return "+FLAGS.SILENT"
	case StoreFlagsDel:
		return "-FLAGS.SILENT"
	default:
		return "FLAGS.SILENT"
	}
}

// Mark adds a flag to the messages of set in folder.
func (c *Client) Mark(ctx context.Context, folder, set, flag string) (string, error) {
	return c.storeFlag(ctx, "mark", StoreFlagsAdd, folder, set, flag)
}

// Unmark removes a flag from the messages of set in folder.
func (c *Client) Unmark(ctx context.Context, folder, set, flag string) (string, error) {
	return c.storeFlag(ctx, "unmark", StoreFlagsDel, folder, set, flag)
}

func (c *Client) storeFlag(ctx context.Context, verb string, op StoreFlagsOp, folder, set, flagName string) (string, error) {
	if err := validateTarget(folder, set); err != nil {
		return "", err
	}
	flag, err := mailpulse.ParseFlag(flagName)
	if err != nil {
		return "", err
	}

	var name string
	err = c.interrupt(ctx, "STORE", func() error {
		var err error
		if name, _, err = c.selectSet(folder, set); err != nil {
			return err
		}
		if err := c.store(set, op, []mailpulse.Flag{flag}); err != nil {
			return withContext(err, name, set)
		}
		return c.expunge(set)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Messages %v in %q %sed %v", set, name, verb, flag), nil
}

// validateTarget checks a folder and a sequence set before any I/O.
func validateTarget(folder, set string) error {
	if err := mailpulse.ValidateFolderName(folder); err != nil {
		return err
	}
	return mailpulse.CheckSeqSet(set)
}

// selectSet selects folder read-write and checks that every UID of set
// exists in it. It returns the resolved folder name and its UIDs. The caller
// must hold the gate.
func (c *Client) selectSet(folder, set string) (string, []uint32, error) {
	name, err := c.folderName(folder)
	if err != nil {
		return "", nil, err
	}
	if _, err := c.selectFolder(name, false); err != nil {
		return "", nil, err
	}
	uids, err := c.uidSearch("ALL")
	if err != nil {
		return "", nil, withContext(err, name, set)
	}
	if !mailpulse.ValidateSeqSet(set, formatUIDs(uids)) {
		return "", nil, fmt.Errorf("imapclient: %w: set %q not in folder %q", mailpulse.ErrNotFound, set, name)
	}
	return name, uids, nil
}

// store runs UID STORE on the selected mailbox. The caller must hold the
// gate.
func (c *Client) store(set string, op StoreFlagsOp, flags []mailpulse.Flag) error {
	_, err := c.execute("UID STORE", func(enc *imapwire.Encoder) {
		enc.SP().SeqSet(set).SP().Atom(op.item()).SP().Flags(flags)
	})
	return err
}

// EmailExists reports whether folder holds a message with the given UID.
func (c *Client) EmailExists(ctx context.Context, folder string, uid uint32) (bool, error) {
	if err := mailpulse.ValidateFolderName(folder); err != nil {
		return false, err
	}
	if uid == 0 {
		return false, &mailpulse.ValidationError{Field: "uid", Value: "0", Reason: "UIDs start at 1"}
	}
	var exists bool
	err := c.interrupt(ctx, "SEARCH", func() error {
		name, err := c.folderName(folder)
		if err != nil {
			return err
		}
		if _, err := c.selectFolder(name, true); err != nil {
			return err
		}
		uids, err := c.uidSearch("UID " + strconv.FormatUint(uint64(uid), 10))
		if err != nil {
			return withContext(err, name, "")
		}
		for _, u := range uids {
			if u == uid {
				exists = true
			}
		}
		return nil
	})
	return exists, err
}

// uidSearch runs UID SEARCH with a prebuilt key list. Non-ASCII keys are
// announced with CHARSET UTF-8. The caller must hold the gate.
func (c *Client) uidSearch(query string) ([]uint32, error) {
	resp, err := c.execute("UID SEARCH", func(enc *imapwire.Encoder) {
		if !mailpulse.IsASCII(query) && !c.utf8Enabled() {
			enc.SP().Atom("CHARSET").SP().Atom("UTF-8")
		}
		enc.SP().Text(query)
	})
	if err != nil {
		return nil, err
	}
	return imapresp.SearchUIDs(resp.Lines), nil
}

func (c *Client) utf8Enabled() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.utf8
}

func formatUIDs(uids []uint32) []string {
	l := make([]string, len(uids))
	for i, uid := range uids {
		l[i] = strconv.FormatUint(uint64(uid), 10)
	}
	return l
}

func sortDesc(uids []uint32) {
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
}
