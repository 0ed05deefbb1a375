// Package mailpulse holds the shared types of an IMAP-based mail client
// backend: messages, folders, sequence sets and search criteria.
//
// The protocol client lives in the imapclient package, the response grammar
// in imapresp.
package mailpulse

// ConnState describes the connection state.
//
// See RFC 9051 section 3.
type ConnState int

const (
	ConnStateNone ConnState = iota
	ConnStateNotAuthenticated
	ConnStateAuthenticated
	ConnStateSelected
	ConnStateLoggedOut
)

// String implements fmt.Stringer.
func (state ConnState) String() string {
	switch state {
	case ConnStateNone:
		return "none"
	case ConnStateNotAuthenticated:
		return "not authenticated"
	case ConnStateAuthenticated:
		return "authenticated"
	case ConnStateSelected:
		return "selected"
	case ConnStateLoggedOut:
		return "logged out"
	default:
		panic("mailpulse: unknown connection state")
	}
}

// MailboxAttr is a mailbox attribute.
//
// Mailbox attributes are defined in RFC 9051 section 7.3.1.
type MailboxAttr string

const (
	// Base attributes
	MailboxAttrNonExistent   MailboxAttr = "\\NonExistent"
	MailboxAttrNoInferiors   MailboxAttr = "\\Noinferiors"
	MailboxAttrNoSelect      MailboxAttr = "\\Noselect"
	MailboxAttrHasChildren   MailboxAttr = "\\HasChildren"
	MailboxAttrHasNoChildren MailboxAttr = "\\HasNoChildren"

	// Role (aka. "special-use") attributes
	MailboxAttrAll     MailboxAttr = "\\All"
	MailboxAttrArchive MailboxAttr = "\\Archive"
	MailboxAttrDrafts  MailboxAttr = "\\Drafts"
	MailboxAttrFlagged MailboxAttr = "\\Flagged"
	MailboxAttrJunk    MailboxAttr = "\\Junk"
	MailboxAttrSent    MailboxAttr = "\\Sent"
	MailboxAttrTrash   MailboxAttr = "\\Trash"
)

// Flag is a message flag.
//
// Message flags are defined in RFC 9051 section 2.3.2.
type Flag string

const (
	// System flags
	FlagSeen     Flag = "\\Seen"
	FlagAnswered Flag = "\\Answered"
	FlagFlagged  Flag = "\\Flagged"
	FlagDeleted  Flag = "\\Deleted"
	FlagDraft    Flag = "\\Draft"

	// Widely used flags
	FlagForwarded Flag = "$Forwarded"
	FlagJunk      Flag = "$Junk"
	FlagNotJunk   Flag = "$NotJunk"
	FlagImportant Flag = "$Important" // RFC 8457
)

var systemFlags = map[string]Flag{
	"seen":     FlagSeen,
	"answered": FlagAnswered,
	"flagged":  FlagFlagged,
	"deleted":  FlagDeleted,
	"draft":    FlagDraft,
}

// ParseFlag normalizes a user-supplied flag. System flags are accepted with or
// without the leading backslash and in any case ("seen", "\\SEEN"); anything
// else is returned as a keyword.
func ParseFlag(s string) (Flag, error) {
	if s == "" {
		return "", &ValidationError{Field: "flag", Reason: "empty flag"}
	}
	name := s
	if name[0] == '\\' {
		name = name[1:]
	}
	if f, ok := systemFlags[toLowerASCII(name)]; ok {
		return f, nil
	}
	if s[0] == '\\' {
		return "", &ValidationError{Field: "flag", Value: s, Reason: "unknown system flag"}
	}
	if !IsAtom(s) {
		return "", &ValidationError{Field: "flag", Value: s, Reason: "keyword is not a valid atom"}
	}
	return Flag(s), nil
}

// IsSystem reports whether the flag is one of the RFC 9051 system flags.
func (f Flag) IsSystem() bool {
	if len(f) < 2 || f[0] != '\\' {
		return false
	}
	_, ok := systemFlags[toLowerASCII(string(f[1:]))]
	return ok
}

// IsAtom reports whether s can be sent as an IMAP atom.
func IsAtom(s string) bool {
	if s == "" {
		return false
	}
	for _, ch := range s {
		if ch <= ' ' || ch >= 0x7f {
			return false
		}
		switch ch {
		case '(', ')', '{', '%', '*', '"', '\\', ']':
			return false
		}
	}
	return true
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, ch := range b {
		if 'A' <= ch && ch <= 'Z' {
			b[i] = ch + 'a' - 'A'
		}
	}
	return string(b)
}

// IsASCII reports whether s only contains 7-bit characters.
func IsASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
