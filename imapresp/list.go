package imapresp

import (
	"strings"

	"github.com/mailpulse/mailpulse"
	"github.com/mailpulse/mailpulse/internal/imapwire"
	"github.com/mailpulse/mailpulse/utf7"
)

// ParseList parses one "* LIST (attrs) delim name" line. Names in modified
// UTF-7 are decoded; names which do not decode are kept verbatim, as sent by
// servers with UTF8=ACCEPT enabled.
func ParseList(line string) (*mailpulse.Folder, bool) {
	_, _, name, rest, ok := Untagged(line)
	if !ok || (name != "LIST" && name != "LSUB") {
		return nil, false
	}
	dec := imapwire.NewDecoder(rest)
	attrs, ok := dec.Value()
	if !ok || !attrs.IsList() || !dec.ExpectSP() {
		return nil, false
	}
	delim, ok := dec.Value()
	if !ok || delim.IsList() || !dec.ExpectSP() {
		return nil, false
	}
	var mailbox string
	if !dec.ExpectAString(&mailbox) {
		return nil, false
	}

	f := &mailpulse.Folder{
		Name:      decodeMailbox(mailbox),
		Delimiter: delim.String(),
	}
	for _, attr := range attrs.Strings() {
		f.Attrs = append(f.Attrs, mailpulse.MailboxAttr(attr))
	}
	f.Name = mailpulse.CanonicalMailboxName(f.Name)
	f.Role = mailpulse.RoleFromAttrs(f.Name, f.Attrs)
	return f, true
}

func decodeMailbox(name string) string {
	if !strings.Contains(name, "&") || !mailpulse.IsASCII(name) {
		return name
	}
	decoded, err := utf7.Decode(name)
	if err != nil {
		return name
	}
	return decoded
}

// ListFolders collects the folders of a LIST command. Malformed lines and the
// empty-name reply of a delimiter query are skipped.
func ListFolders(lines []string) []mailpulse.Folder {
	folders := []mailpulse.Folder{}
	for _, line := range lines {
		f, ok := ParseList(line)
		if !ok || f.Name == "" {
			continue
		}
		folders = append(folders, *f)
	}
	return folders
}

// HierarchyDelimiter returns the delimiter of the first personal namespace of
// a NAMESPACE response, or the delimiter of a `LIST "" ""` reply. It returns
// "" when neither is present or the server has a flat hierarchy.
func HierarchyDelimiter(lines []string) string {
	for _, line := range lines {
		_, _, name, rest, ok := Untagged(line)
		if !ok {
			continue
		}
		switch name {
		case "NAMESPACE":
			personal, ok := imapwire.NewDecoder(rest).Value()
			if !ok {
				continue
			}
			// (("prefix" "delim" ext...) ...)
			return personal.Index(0).Index(1).String()
		case "LIST":
			if f, ok := ParseList(line); ok {
				return f.Delimiter
			}
		}
	}
	return ""
}
