package imapresp

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/mailpulse/mailpulse"
	"github.com/mailpulse/mailpulse/internal/imapwire"
)

// BodyStructure is one node of a BODYSTRUCTURE tree.
//
// Part numbering follows RFC 9051 section 6.4.5: a single-part message is
// part "1"; the children of a multipart at path p are p.1, p.2 and so on
// (1, 2 at the top level); a message/rfc822 part p exposes its body as p.1
// when it is single-part, or its children as p.1, p.2 when it is multipart.
// Multipart nodes which have no number of their own (the top level and
// encapsulated messages) get a TEXT path.
type BodyStructure struct {
	// Type and Subtype are lower-case.
	Type, Subtype string
	Params        map[string]string
	ID            string
	Description   string
	Encoding      string
	Size          int64
	Lines         int64

	Disposition       string
	DispositionParams map[string]string

	Children []*BodyStructure
	// Message is the body of an encapsulated message/rfc822 part.
	Message *BodyStructure

	Path string

	raw imapwire.Value
}

// ParseBodyStructure builds the part tree of a BODYSTRUCTURE value. It never
// fails: unknown or missing fields are left empty.
func ParseBodyStructure(v imapwire.Value) *BodyStructure {
	if !v.IsList() {
		return nil
	}
	if isMultipart(v) {
		return parseBody(v, "", "TEXT")
	}
	return parseBody(v, "", "1")
}

func isMultipart(v imapwire.Value) bool {
	return v.IsList() && len(v.List) > 0 && v.List[0].IsList()
}

// childPath returns the path of the i-th (0-based) child under base.
func childPath(base string, i int) string {
	n := strconv.Itoa(i + 1)
	if base == "" {
		return n
	}
	return base + "." + n
}

// parseBody parses v. base is the prefix for the numbers of a multipart's
// children, self is the node's own path.
func parseBody(v imapwire.Value, base, self string) *BodyStructure {
	bs := &BodyStructure{Path: self, raw: v}

	if isMultipart(v) {
		bs.Type = "multipart"
		i := 0
		for ; i < len(v.List) && v.List[i].IsList(); i++ {
			cp := childPath(base, i)
			bs.Children = append(bs.Children, parseBody(v.List[i], cp, cp))
		}
		bs.Subtype = strings.ToLower(v.Index(i).String())
		bs.Params = v.Index(i + 1).Params()
		bs.setDisposition(v.Index(i + 2))
		return bs
	}

	bs.Type = strings.ToLower(v.Index(0).String())
	bs.Subtype = strings.ToLower(v.Index(1).String())
	bs.Params = v.Index(2).Params()
	bs.ID = v.Index(3).String()
	bs.Description = v.Index(4).String()
	bs.Encoding = strings.ToLower(v.Index(5).String())
	bs.Size, _ = v.Index(6).Number()

	ext := 7
	switch {
	case bs.Type == "text":
		bs.Lines, _ = v.Index(7).Number()
		ext = 8
	case bs.Type == "message" && (bs.Subtype == "rfc822" || bs.Subtype == "global"):
		if body := v.Index(8); body.IsList() {
			if isMultipart(body) {
				bs.Message = parseBody(body, self, self+".TEXT")
			} else {
				bs.Message = parseBody(body, self, self+".1")
			}
		}
		bs.Lines, _ = v.Index(9).Number()
		ext = 10
	}
	// Extension data: md5, disposition, language, location
	bs.setDisposition(v.Index(ext + 1))
	return bs
}

func (bs *BodyStructure) setDisposition(v imapwire.Value) {
	if !v.IsList() {
		return
	}
	bs.Disposition = strings.ToLower(v.Index(0).String())
	bs.DispositionParams = v.Index(1).Params()
}

// MIMEType returns "type/subtype".
func (bs *BodyStructure) MIMEType() string {
	if bs == nil {
		return ""
	}
	return bs.Type + "/" + bs.Subtype
}

// IsMultipart reports whether the node is a multipart container.
func (bs *BodyStructure) IsMultipart() bool {
	return bs != nil && bs.Type == "multipart"
}

// Charset returns the charset parameter, or "".
func (bs *BodyStructure) Charset() string {
	if bs == nil {
		return ""
	}
	return bs.Params["charset"]
}

// Filename returns the decoded file name from the disposition or the
// Content-Type name parameter, with RFC 2231 and RFC 2047 encodings undone.
func (bs *BodyStructure) Filename() string {
	if bs == nil {
		return ""
	}
	for _, params := range []map[string]string{bs.DispositionParams, bs.Params} {
		for _, key := range []string{"filename", "name"} {
			if v, ok := params[key+"*"]; ok {
				if s, ok := decodeRFC2231(v); ok {
					return s
				}
			}
			if v := params[key]; v != "" {
				return DecodeHeader(v)
			}
		}
	}
	return ""
}

// decodeRFC2231 decodes charset'language'percent-encoded parameter values.
func decodeRFC2231(v string) (string, bool) {
	parts := strings.SplitN(v, "'", 3)
	if len(parts) != 3 {
		return "", false
	}
	s, err := url.PathUnescape(parts[2])
	if err != nil {
		return "", false
	}
	cs := strings.ToLower(parts[0])
	if cs == "" || cs == "utf-8" || cs == "us-ascii" {
		return s, true
	}
	return DecodeBody([]byte(s), "", cs), true
}

// Walk visits the node and its descendants depth first. Returning false from
// f skips the descendants of the visited node.
func (bs *BodyStructure) Walk(f func(*BodyStructure) bool) {
	if bs == nil || !f(bs) {
		return
	}
	for _, child := range bs.Children {
		child.Walk(f)
	}
	bs.Message.Walk(f)
}

// Part returns the node with the given path, or nil.
func (bs *BodyStructure) Part(path string) *BodyStructure {
	var found *BodyStructure
	bs.Walk(func(node *BodyStructure) bool {
		if found != nil {
			return false
		}
		if node.Path == path {
			found = node
			return false
		}
		return true
	})
	return found
}

// PartPath returns the path of the innermost part whose tokens contain all
// keywords, compared case-insensitively. Among candidates at the same depth,
// the first in document order wins. It returns "" when nothing matches.
//
// The walk descends before testing a node, so a multipart or an encapsulated
// message only matches when none of its parts does on its own.
func PartPath(bs *BodyStructure, keywords ...string) string {
	if bs == nil || len(keywords) == 0 {
		return ""
	}
	var find func(node *BodyStructure) string
	find = func(node *BodyStructure) string {
		for _, child := range node.Children {
			if p := find(child); p != "" {
				return p
			}
		}
		if node.Message != nil {
			if p := find(node.Message); p != "" {
				return p
			}
		}
		if containsAll(node.raw.Flatten(), keywords) {
			return node.Path
		}
		return ""
	}
	return find(bs)
}

func containsAll(tokens, keywords []string) bool {
	for _, kw := range keywords {
		found := false
		for _, tok := range tokens {
			if strings.EqualFold(tok, kw) || strings.EqualFold(DecodeHeader(tok), kw) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// TextPart returns the text/plain part, falling back to text/html. Parts
// disposed as attachments are skipped.
func (bs *BodyStructure) TextPart() *BodyStructure {
	var plain, html *BodyStructure
	bs.Walk(func(node *BodyStructure) bool {
		if node.Type != "text" || node.Disposition == "attachment" {
			return true
		}
		switch node.Subtype {
		case "plain":
			if plain == nil {
				plain = node
			}
		case "html":
			if html == nil {
				html = node
			}
		}
		return true
	})
	if plain != nil {
		return plain
	}
	return html
}

func (bs *BodyStructure) isAttachment() bool {
	switch bs.Disposition {
	case "attachment":
		return true
	case "inline":
		return false
	}
	return bs.Filename() != "" && bs.Type != "text"
}

func (bs *BodyStructure) isInline() bool {
	if bs.Disposition == "attachment" {
		return false
	}
	if bs.Disposition == "inline" {
		return bs.ID != "" || bs.Filename() != ""
	}
	return bs.ID != "" && bs.Type != "text"
}

func (bs *BodyStructure) attachment(inline bool) mailpulse.Attachment {
	name := bs.Filename()
	if name == "" {
		name = "part-" + bs.Path
	}
	return mailpulse.Attachment{
		Name:      name,
		Size:      bs.Size,
		MIMEType:  bs.MIMEType(),
		ContentID: strings.Trim(bs.ID, "<>"),
		Inline:    inline,
		PartPath:  bs.Path,
		Encoding:  bs.Encoding,
	}
}

// Attachment describes the part as listed by Attachments or
// InlineAttachments.
func (bs *BodyStructure) Attachment() mailpulse.Attachment {
	return bs.attachment(!bs.isAttachment() && bs.isInline())
}

// leaves calls f for every non-multipart node, not descending into
// encapsulated messages.
func (bs *BodyStructure) leaves(f func(*BodyStructure)) {
	bs.Walk(func(node *BodyStructure) bool {
		if node.IsMultipart() {
			return true
		}
		f(node)
		return false
	})
}

// Attachments lists the parts carried as files.
func (bs *BodyStructure) Attachments() []mailpulse.Attachment {
	atts := []mailpulse.Attachment{}
	bs.leaves(func(node *BodyStructure) {
		if node.isAttachment() {
			atts = append(atts, node.attachment(false))
		}
	})
	return atts
}

// InlineAttachments lists the inline parts, typically images referenced by
// Content-ID from an HTML body.
func (bs *BodyStructure) InlineAttachments() []mailpulse.Attachment {
	atts := []mailpulse.Attachment{}
	bs.leaves(func(node *BodyStructure) {
		if !node.isAttachment() && node.isInline() {
			atts = append(atts, node.attachment(true))
		}
	})
	return atts
}

// FindAttachment returns the attachment part named name, or nil.
func (bs *BodyStructure) FindAttachment(name string) *BodyStructure {
	var found *BodyStructure
	bs.leaves(func(node *BodyStructure) {
		if found != nil {
			return
		}
		if strings.EqualFold(node.Filename(), name) || (node.Filename() == "" && name == "part-"+node.Path) {
			found = node
		}
	})
	if found == nil {
		// Fall back to a structural keyword match, which also finds names the
		// server sent in a form Filename does not decode.
		if path := PartPath(bs, name); path != "" {
			found = bs.Part(path)
		}
	}
	return found
}
