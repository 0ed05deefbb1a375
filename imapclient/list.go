package imapclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/mailpulse/mailpulse"
	"github.com/mailpulse/mailpulse/imapresp"
	"github.com/mailpulse/mailpulse/internal/imapwire"
)

// Folders lists every folder with its role.
func (c *Client) Folders(ctx context.Context) ([]mailpulse.Folder, error) {
	var folders []mailpulse.Folder
	err := c.interrupt(ctx, "LIST", func() error {
		var err error
		folders, err = c.listFolders()
		return err
	})
	return folders, err
}

// listFolders runs LIST "" "*". The caller must hold the gate.
func (c *Client) listFolders() ([]mailpulse.Folder, error) {
	resp, err := c.execute("LIST", func(enc *imapwire.Encoder) {
		enc.SP().Quoted("").SP().Quoted("*")
	})
	if err != nil {
		return nil, err
	}
	return imapresp.ListFolders(resp.Lines), nil
}

// ResolveFolder returns the folder holding a role, as advertised by
// special-use attributes, with common names as a fallback.
func (c *Client) ResolveFolder(ctx context.Context, role mailpulse.FolderRole) (*mailpulse.Folder, error) {
	var folder *mailpulse.Folder
	err := c.interrupt(ctx, "LIST", func() error {
		var err error
		folder, err = c.resolveFolder(role)
		return err
	})
	return folder, err
}

// resolveFolder is ResolveFolder with the gate held.
func (c *Client) resolveFolder(role mailpulse.FolderRole) (*mailpulse.Folder, error) {
	if role == mailpulse.FolderRoleInbox {
		return &mailpulse.Folder{Name: mailpulse.InboxName, Role: role, Delimiter: c.Delimiter()}, nil
	}
	folders, err := c.listFolders()
	if err != nil {
		return nil, err
	}
	folder, ok := mailpulse.FindFolder(folders, role)
	if !ok {
		return nil, fmt.Errorf("imapclient: no %v folder: %w", role, mailpulse.ErrNotFound)
	}
	return folder, nil
}

// folderName maps a role name ("trash", "Sent") to the server's folder and
// leaves other names unchanged. The caller must hold the gate.
func (c *Client) folderName(name string) (string, error) {
	role, ok := mailpulse.ParseFolderRole(name)
	if !ok {
		return mailpulse.CanonicalMailboxName(name), nil
	}
	folder, err := c.resolveFolder(role)
	if err != nil {
		return "", err
	}
	return folder.Name, nil
}

// CreateFolder creates a folder. Parent folders are created by the server
// as needed.
func (c *Client) CreateFolder(ctx context.Context, folder string) (string, error) {
	if err := mailpulse.ValidateFolderName(folder); err != nil {
		return "", err
	}
	err := c.interrupt(ctx, "CREATE", func() error {
		return c.simpleMailboxCommand("CREATE", folder)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Folder %q created", folder), nil
}

// DeleteFolder deletes a folder.
func (c *Client) DeleteFolder(ctx context.Context, folder string) (string, error) {
	if err := mailpulse.ValidateFolderName(folder); err != nil {
		return "", err
	}
	if mailpulse.CanonicalMailboxName(folder) == mailpulse.InboxName {
		return "", &mailpulse.ValidationError{Field: "folder", Value: folder, Reason: "INBOX cannot be deleted"}
	}
	err := c.interrupt(ctx, "DELETE", func() error {
		c.unselect(folder)
		return c.simpleMailboxCommand("DELETE", folder)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Folder %q deleted", folder), nil
}

// RenameFolder renames a folder. Its children follow.
func (c *Client) RenameFolder(ctx context.Context, folder, newName string) (string, error) {
	for _, name := range []string{folder, newName} {
		if err := mailpulse.ValidateFolderName(name); err != nil {
			return "", err
		}
	}
	if mailpulse.CanonicalMailboxName(folder) == mailpulse.InboxName {
		return "", &mailpulse.ValidationError{Field: "folder", Value: folder, Reason: "INBOX cannot be renamed"}
	}
	err := c.interrupt(ctx, "RENAME", func() error {
		return c.rename(folder, newName)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Folder %q renamed to %q", folder, newName), nil
}

// MoveFolder moves a folder under newParent, keeping its leaf name. An empty
// parent moves the folder to the top level.
func (c *Client) MoveFolder(ctx context.Context, folder, newParent string) (string, error) {
	if err := mailpulse.ValidateFolderName(folder); err != nil {
		return "", err
	}
	if newParent != "" {
		if err := mailpulse.ValidateFolderName(newParent); err != nil {
			return "", err
		}
	}
	if mailpulse.CanonicalMailboxName(folder) == mailpulse.InboxName {
		return "", &mailpulse.ValidationError{Field: "folder", Value: folder, Reason: "INBOX cannot be moved"}
	}

	var newName string
	err := c.interrupt(ctx, "RENAME", func() error {
		delim := c.Delimiter()
		leaf := (&mailpulse.Folder{Name: folder, Delimiter: delim}).Leaf()
		newName = mailpulse.JoinFolder(newParent, delim, leaf)
		if newParent != "" && delim != "" && (newParent == folder || strings.HasPrefix(newParent, folder+delim)) {
			return &mailpulse.ValidationError{Field: "parent", Value: newParent, Reason: "cannot move a folder into itself"}
		}
		if newName == folder {
			return nil
		}
		return c.rename(folder, newName)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Folder %q moved to %q", folder, newName), nil
}

// rename runs RENAME. The caller must hold the gate.
func (c *Client) rename(folder, newName string) error {
	c.unselect(folder)
	_, err := c.execute("RENAME", func(enc *imapwire.Encoder) {
		enc.SP().Mailbox(folder).SP().Mailbox(newName)
	})
	return withContext(err, folder, "")
}

func (c *Client) simpleMailboxCommand(name, folder string) error {
	_, err := c.execute(name, func(enc *imapwire.Encoder) {
		enc.SP().Mailbox(folder)
	})
	return withContext(err, folder, "")
}

// unselect leaves folder if it is selected, since some servers refuse to
// delete or rename the selected mailbox. The caller must hold the gate.
func (c *Client) unselect(folder string) {
	mbox := c.Mailbox()
	if mbox == nil || mbox.Name != mailpulse.CanonicalMailboxName(folder) {
		return
	}
	name := "CLOSE"
	if c.Has("UNSELECT") {
		name = "UNSELECT"
	}
	if _, err := c.execute(name, nil); err != nil {
		c.logger.Debug().Err(err).Str("folder", folder).Msg("failed to leave folder")
	}
}
