package imapresp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailpulse/mailpulse"
)

func TestListFolders(t *testing.T) {
	lines := []string{
		`* LIST (\HasNoChildren) "/" INBOX`,
		`* LIST (\HasChildren \Noselect) "/" "[Gmail]"`,
		`* LIST (\HasNoChildren \Trash) "/" "[Gmail]/Trash"`,
		`* LIST (\HasNoChildren) "/" "Entw&APw-rfe"`,
		`* LIST (\HasNoChildren) NIL Flat`,
		`* LIST (\Noselect) "/" ""`,
		`* 3 EXISTS`,
		`* LIST broken`,
	}
	folders := ListFolders(lines)
	require.Len(t, folders, 5)

	assert.Equal(t, "INBOX", folders[0].Name)
	assert.Equal(t, mailpulse.FolderRoleInbox, folders[0].Role)

	assert.Equal(t, "[Gmail]", folders[1].Name)
	assert.False(t, folders[1].Selectable())

	assert.Equal(t, "[Gmail]/Trash", folders[2].Name)
	assert.Equal(t, "/", folders[2].Delimiter)
	assert.Equal(t, mailpulse.FolderRoleTrash, folders[2].Role)
	assert.Equal(t, "Trash", folders[2].Leaf())

	assert.Equal(t, "Entwürfe", folders[3].Name)
	assert.Equal(t, mailpulse.FolderRoleNone, folders[3].Role)

	assert.Equal(t, "Flat", folders[4].Name)
	assert.Equal(t, "", folders[4].Delimiter)
}

func TestParseList_utf8Name(t *testing.T) {
	f, ok := ParseList(`* LIST () "." "Ä&Ö"`)
	require.True(t, ok)
	assert.Equal(t, "Ä&Ö", f.Name)

	f, ok = ParseList(`* LIST () "." "A&B"`)
	require.True(t, ok)
	assert.Equal(t, "A&B", f.Name)
}

func TestHierarchyDelimiter(t *testing.T) {
	tests := []struct {
		lines []string
		want  string
	}{
		{[]string{`* NAMESPACE (("" "/")) NIL NIL`}, "/"},
		{[]string{`* NAMESPACE (("INBOX." ".")) NIL (("#shared." "."))`}, "."},
		{[]string{`* LIST (\Noselect) "." ""`}, "."},
		{[]string{`* NAMESPACE NIL NIL NIL`}, ""},
		{[]string{`* LIST (\Noselect) NIL ""`}, ""},
		{nil, ""},
	}
	for _, test := range tests {
		if got := HierarchyDelimiter(test.lines); got != test.want {
			t.Errorf("HierarchyDelimiter(%q) = %q, want %q", test.lines, got, test.want)
		}
	}
}
