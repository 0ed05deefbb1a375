package mailpulse

import (
	"errors"
	"math"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestCanonicalMailboxName(t *testing.T) {
	for _, name := range []string{"INBOX", "inbox", "InBoX"} {
		if got := CanonicalMailboxName(name); got != InboxName {
			t.Errorf("CanonicalMailboxName(%q) = %v", name, got)
		}
	}
	if got := CanonicalMailboxName("Archive"); got != "Archive" {
		t.Errorf("CanonicalMailboxName(Archive) = %v", got)
	}
}

func TestValidateFolderName(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"INBOX", true},
		{"Work/Projets été", true},
		{"", false},
		{"   ", false},
		{"a\r\nb", false},
		{"nul\x00", false},
		{"\xff\xfe", false},
		{strings.Repeat("a", MaxFolderNameLength), true},
		{strings.Repeat("a", MaxFolderNameLength+1), false},
	}
	for _, test := range tests {
		err := ValidateFolderName(test.name)
		if test.ok && err != nil {
			t.Errorf("ValidateFolderName(%q) = %v", test.name, err)
		} else if !test.ok && !IsValidation(err) {
			t.Errorf("ValidateFolderName(%q) = %v, want a validation error", test.name, err)
		}
	}
}

func TestParseFolderRole(t *testing.T) {
	tests := []struct {
		in   string
		role FolderRole
		ok   bool
	}{
		{"trash", FolderRoleTrash, true},
		{" Sent ", FolderRoleSent, true},
		{"INBOX", FolderRoleInbox, true},
		{"junk", FolderRoleJunk, true},
		{"nope", "", false},
	}
	for _, test := range tests {
		role, ok := ParseFolderRole(test.in)
		if ok != test.ok || (ok && role != test.role) {
			t.Errorf("ParseFolderRole(%q) = %q, %v, want %q, %v", test.in, role, ok, test.role, test.ok)
		}
	}
}

func TestFolder(t *testing.T) {
	f := Folder{Name: "Work/2024/Q1", Delimiter: "/", Attrs: []MailboxAttr{"\\noselect"}}
	if f.Leaf() != "Q1" {
		t.Errorf("Leaf() = %v", f.Leaf())
	}
	if f.Selectable() {
		t.Errorf("Selectable() = true for a \\Noselect folder")
	}
	if !f.HasAttr(MailboxAttrNoSelect) {
		t.Errorf("HasAttr(\\Noselect) = false")
	}

	flat := Folder{Name: "Archive"}
	if flat.Leaf() != "Archive" || !flat.Selectable() {
		t.Errorf("Leaf() = %v, Selectable() = %v", flat.Leaf(), flat.Selectable())
	}
}

func TestRoleFromAttrs(t *testing.T) {
	if role := RoleFromAttrs("inbox", nil); role != FolderRoleInbox {
		t.Errorf("RoleFromAttrs(inbox) = %q", role)
	}
	if role := RoleFromAttrs("Papierkorb", []MailboxAttr{MailboxAttrHasNoChildren, "\\TRASH"}); role != FolderRoleTrash {
		t.Errorf("RoleFromAttrs(Papierkorb) = %q", role)
	}
	if role := RoleFromAttrs("Trash", nil); role != FolderRoleNone {
		t.Errorf("RoleFromAttrs(Trash) = %q, want none", role)
	}
}

func TestFindFolder(t *testing.T) {
	folders := []Folder{
		{Name: "INBOX", Delimiter: "."},
		{Name: "INBOX.Trash", Delimiter: "."},
		{Name: "Papierkorb", Delimiter: ".", Role: FolderRoleTrash},
		{Name: "INBOX.Sent Items", Delimiter: "."},
	}

	tests := []struct {
		role FolderRole
		name string
		ok   bool
	}{
		{FolderRoleInbox, "INBOX", true},
		// special-use wins over the common name
		{FolderRoleTrash, "Papierkorb", true},
		{FolderRoleSent, "INBOX.Sent Items", true},
		{FolderRoleDrafts, "", false},
	}
	for _, test := range tests {
		f, ok := FindFolder(folders, test.role)
		if ok != test.ok {
			t.Errorf("FindFolder(%q) ok = %v, want %v", test.role, ok, test.ok)
			continue
		}
		if ok && f.Name != test.name {
			t.Errorf("FindFolder(%q) = %v, want %v", test.role, f.Name, test.name)
		}
	}

	if f, ok := FindFolder(nil, FolderRoleInbox); !ok || f.Name != InboxName {
		t.Errorf("FindFolder(nil, inbox) = %v, %v", f, ok)
	}
}

func TestJoinFolder(t *testing.T) {
	tests := []struct {
		parent, delim, name, out string
	}{
		{"", "/", "Work", "Work"},
		{"Archive", "/", "2024", "Archive/2024"},
		{"Archive/", "/", "2024", "Archive/2024"},
		{"INBOX", ".", "Lists", "INBOX.Lists"},
		{"Archive", "", "2024", "2024"},
	}
	for _, test := range tests {
		if out := JoinFolder(test.parent, test.delim, test.name); out != test.out {
			t.Errorf("JoinFolder(%q, %q, %q) = %v, want %v", test.parent, test.delim, test.name, out, test.out)
		}
	}
}

func TestValidateFolderName_tooLongValue(t *testing.T) {
	// 'é' is two bytes: the cut at 32 bytes falls inside one when prefixed
	// by a single ASCII byte.
	name := "x" + strings.Repeat("é", MaxFolderNameLength)
	err := ValidateFolderName(name)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("ValidateFolderName() = %v, want *ValidationError", err)
	}
	if !utf8.ValidString(verr.Value) {
		t.Errorf("Value = %q, not valid UTF-8", verr.Value)
	}
	if want := "x" + strings.Repeat("é", 15) + "..."; verr.Value != want {
		t.Errorf("Value = %q, want %q", verr.Value, want)
	}
}

func TestSearchResult_Page(t *testing.T) {
	r := &SearchResult{UIDs: []uint32{9, 8, 7, 6, 5}}
	if r.Count() != 5 {
		t.Errorf("Count() = %v", r.Count())
	}
	tests := []struct {
		page, size int
		want       []uint32
	}{
		{1, 2, []uint32{9, 8}},
		{3, 2, []uint32{5}},
		{4, 2, nil},
		{0, 2, nil},
		{1, 0, nil},
		{1, 10, []uint32{9, 8, 7, 6, 5}},
		{math.MaxInt / 2, 4, nil},
		{math.MaxInt, 100, nil},
		{1, math.MaxInt, []uint32{9, 8, 7, 6, 5}},
	}
	for _, test := range tests {
		got := r.Page(test.page, test.size)
		if len(got) != len(test.want) {
			t.Errorf("Page(%v, %v) = %v, want %v", test.page, test.size, got, test.want)
			continue
		}
		for i := range got {
			if got[i] != test.want[i] {
				t.Errorf("Page(%v, %v) = %v, want %v", test.page, test.size, got, test.want)
				break
			}
		}
	}
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Field: "folder", Value: "x", Reason: "bad"}
	if err.Error() != `invalid folder "x": bad` {
		t.Errorf("Error() = %v", err.Error())
	}
	err = &ValidationError{Field: "folder", Reason: "empty name"}
	if err.Error() != "invalid folder: empty name" {
		t.Errorf("Error() = %v", err.Error())
	}
}
