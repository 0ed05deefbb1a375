package imapclient_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailpulse/mailpulse"
)

func TestClient_Folders(t *testing.T) {
	client, srv := newClientServerPair(t, nil)
	srv.CreateMailbox("Work")
	srv.CreateMailbox("Work/Reports")

	folders, err := client.Folders(context.Background())
	require.NoError(t, err)

	roles := make(map[string]mailpulse.FolderRole)
	for _, f := range folders {
		roles[f.Name] = f.Role
		assert.Equal(t, "/", f.Delimiter)
	}
	assert.Equal(t, mailpulse.FolderRoleInbox, roles["INBOX"])
	assert.Equal(t, mailpulse.FolderRoleTrash, roles["Trash"])
	assert.Equal(t, mailpulse.FolderRoleSent, roles["Sent"])
	assert.Equal(t, mailpulse.FolderRoleNone, roles["Work/Reports"])
}

func TestClient_ResolveFolder(t *testing.T) {
	client, srv := newClientServerPair(t, nil)
	srv.CreateMailbox("Spam")
	ctx := context.Background()

	folder, err := client.ResolveFolder(ctx, mailpulse.FolderRoleTrash)
	require.NoError(t, err)
	assert.Equal(t, "Trash", folder.Name)

	// No folder advertises \Junk, the name is used instead.
	folder, err = client.ResolveFolder(ctx, mailpulse.FolderRoleJunk)
	require.NoError(t, err)
	assert.Equal(t, "Spam", folder.Name)

	_, err = client.ResolveFolder(ctx, mailpulse.FolderRoleArchive)
	assert.ErrorIs(t, err, mailpulse.ErrNotFound)
}

func TestClient_folderManagement(t *testing.T) {
	client, srv := newClientServerPair(t, nil)
	ctx := context.Background()

	_, err := client.CreateFolder(ctx, "Projects")
	require.NoError(t, err)
	_, err = client.CreateFolder(ctx, "Archive")
	require.NoError(t, err)
	assert.Contains(t, srv.Mailboxes(), "Projects")

	_, err = client.CreateFolder(ctx, "Projects")
	var imapErr *mailpulse.Error
	require.ErrorAs(t, err, &imapErr)
	assert.Equal(t, mailpulse.ResponseCodeAlreadyExists, imapErr.Code)
	assert.Equal(t, "Projects", imapErr.Folder)

	msg, err := client.MoveFolder(ctx, "Projects", "Archive")
	require.NoError(t, err)
	assert.Equal(t, `Folder "Projects" moved to "Archive/Projects"`, msg)
	assert.Contains(t, srv.Mailboxes(), "Archive/Projects")
	assert.NotContains(t, srv.Mailboxes(), "Projects")

	_, err = client.MoveFolder(ctx, "Archive", "Archive/Projects")
	assert.True(t, mailpulse.IsValidation(err), "MoveFolder() = %v", err)

	_, err = client.RenameFolder(ctx, "Archive", "Old")
	require.NoError(t, err)
	assert.Contains(t, srv.Mailboxes(), "Old/Projects")

	_, err = client.MoveFolder(ctx, "Old/Projects", "")
	require.NoError(t, err)
	assert.Contains(t, srv.Mailboxes(), "Projects")

	// Deleting the selected folder leaves it first.
	_, err = client.Select(ctx, "Old", false)
	require.NoError(t, err)
	_, err = client.DeleteFolder(ctx, "Old")
	require.NoError(t, err)
	assert.NotContains(t, srv.Mailboxes(), "Old")
	assert.Contains(t, srv.CommandNames(), "CLOSE")

	for _, err := range []error{
		func() error { _, err := client.DeleteFolder(ctx, "inbox"); return err }(),
		func() error { _, err := client.RenameFolder(ctx, "INBOX", "Other"); return err }(),
		func() error { _, err := client.CreateFolder(ctx, ""); return err }(),
		func() error { _, err := client.CreateFolder(ctx, "a\r\nb"); return err }(),
	} {
		assert.True(t, mailpulse.IsValidation(err), "got %v", err)
	}

	_, err = client.DeleteFolder(ctx, "Missing")
	require.ErrorAs(t, err, &imapErr)
	assert.Equal(t, mailpulse.ResponseCodeNonExistent, imapErr.Code)
}
