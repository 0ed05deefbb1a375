package mailpulse

import (
	"strings"
	"unicode/utf8"
)

// The primary mailbox, as defined in RFC 3501 section 5.1.
const InboxName = "INBOX"

// MaxFolderNameLength is the longest folder name accepted, in bytes.
const MaxFolderNameLength = 255

// CanonicalMailboxName returns the canonical form of a mailbox name. The
// special INBOX mailbox is case-insensitive.
func CanonicalMailboxName(name string) string {
	if strings.EqualFold(name, InboxName) {
		return InboxName
	}
	return name
}

// ValidateFolderName checks a folder name before it is sent to the server.
func ValidateFolderName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return &ValidationError{Field: "folder", Reason: "empty name"}
	case len(name) > MaxFolderNameLength:
		return &ValidationError{Field: "folder", Value: truncate(name, 32) + "...", Reason: "name too long"}
	case !utf8.ValidString(name):
		return &ValidationError{Field: "folder", Value: name, Reason: "not valid UTF-8"}
	case strings.ContainsAny(name, "\r\n\x00"):
		return &ValidationError{Field: "folder", Value: name, Reason: "contains control characters"}
	}
	return nil
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// FolderRole is a well-known folder role.
type FolderRole string

const (
	FolderRoleNone    FolderRole = ""
	FolderRoleInbox   FolderRole = "inbox"
	FolderRoleSent    FolderRole = "sent"
	FolderRoleDrafts  FolderRole = "drafts"
	FolderRoleTrash   FolderRole = "trash"
	FolderRoleJunk    FolderRole = "junk"
	FolderRoleFlagged FolderRole = "flagged"
	FolderRoleAll     FolderRole = "all"
	FolderRoleArchive FolderRole = "archive"
)

var roleAttrs = map[MailboxAttr]FolderRole{
	MailboxAttrSent:    FolderRoleSent,
	MailboxAttrDrafts:  FolderRoleDrafts,
	MailboxAttrTrash:   FolderRoleTrash,
	MailboxAttrJunk:    FolderRoleJunk,
	MailboxAttrFlagged: FolderRoleFlagged,
	MailboxAttrAll:     FolderRoleAll,
	MailboxAttrArchive: FolderRoleArchive,
}

// roleNames lists common folder names per role, used only for servers which
// do not advertise special-use attributes.
var roleNames = map[FolderRole][]string{
	FolderRoleSent:    {"Sent", "Sent Items", "Sent Mail", "Sent Messages"},
	FolderRoleDrafts:  {"Drafts", "Draft"},
	FolderRoleTrash:   {"Trash", "Deleted Items", "Deleted Messages", "Bin"},
	FolderRoleJunk:    {"Junk", "Spam", "Junk E-mail", "Bulk Mail"},
	FolderRoleFlagged: {"Starred", "Flagged"},
	FolderRoleAll:     {"All Mail", "All"},
	FolderRoleArchive: {"Archive", "Archives"},
}

// ParseFolderRole parses a role name such as "trash" or "Sent".
func ParseFolderRole(s string) (FolderRole, bool) {
	role := FolderRole(strings.ToLower(strings.TrimSpace(s)))
	if role == FolderRoleInbox {
		return role, true
	}
	_, ok := roleNames[role]
	return role, ok
}

// Folder is a server-side mailbox node.
type Folder struct {
	Name      string
	Delimiter string
	Attrs     []MailboxAttr
	Role      FolderRole
}

// HasAttr reports whether the folder carries attr, ignoring case.
func (f *Folder) HasAttr(attr MailboxAttr) bool {
	for _, a := range f.Attrs {
		if strings.EqualFold(string(a), string(attr)) {
			return true
		}
	}
	return false
}

// Selectable reports whether the folder can be selected.
func (f *Folder) Selectable() bool {
	return !f.HasAttr(MailboxAttrNoSelect) && !f.HasAttr(MailboxAttrNonExistent)
}

// Leaf returns the last path segment of the folder name.
func (f *Folder) Leaf() string {
	if f.Delimiter == "" {
		return f.Name
	}
	if i := strings.LastIndex(f.Name, f.Delimiter); i >= 0 {
		return f.Name[i+len(f.Delimiter):]
	}
	return f.Name
}

// RoleFromAttrs returns the role advertised by special-use attributes.
func RoleFromAttrs(name string, attrs []MailboxAttr) FolderRole {
	if CanonicalMailboxName(name) == InboxName {
		return FolderRoleInbox
	}
	for _, a := range attrs {
		for attr, role := range roleAttrs {
			if strings.EqualFold(string(a), string(attr)) {
				return role
			}
		}
	}
	return FolderRoleNone
}

// FindFolder picks the folder for role. Special-use attributes win; common
// names are only consulted when no folder advertises the role.
func FindFolder(folders []Folder, role FolderRole) (*Folder, bool) {
	if role == FolderRoleInbox {
		for i := range folders {
			if CanonicalMailboxName(folders[i].Name) == InboxName {
				return &folders[i], true
			}
		}
		return &Folder{Name: InboxName, Role: FolderRoleInbox}, true
	}
	for i := range folders {
		if folders[i].Role == role {
			return &folders[i], true
		}
	}
	for _, name := range roleNames[role] {
		for i := range folders {
			f := &folders[i]
			if strings.EqualFold(f.Name, name) || strings.EqualFold(f.Leaf(), name) {
				return f, true
			}
		}
	}
	return nil, false
}

// JoinFolder joins a parent path and a leaf name with the delimiter.
func JoinFolder(parent, delim, name string) string {
	if parent == "" || delim == "" {
		return name
	}
	return strings.TrimSuffix(parent, delim) + delim + name
}
