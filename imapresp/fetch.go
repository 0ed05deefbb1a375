package imapresp

import (
	"bufio"
	"bytes"
	"fmt"
	nettextproto "net/textproto"
	"strconv"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/mailpulse/mailpulse"
	"github.com/mailpulse/mailpulse/internal/imapwire"
)

// Group holds the data items returned for one message by FETCH.
type Group struct {
	SeqNum uint32
	items  map[string]imapwire.Value
	names  []string
}

// ParseFetch parses one "* <seq> FETCH (...)" logical line.
func ParseFetch(line string) (*Group, error) {
	num, hasNum, name, rest, ok := Untagged(line)
	if !ok || !hasNum || name != "FETCH" {
		return nil, fmt.Errorf("imapresp: not a FETCH response: %.40q", line)
	}

	g := &Group{SeqNum: num, items: make(map[string]imapwire.Value)}
	dec := imapwire.NewDecoder(rest)
	err := dec.ExpectList(func() error {
		var key string
		if !dec.FetchItemName(&key) {
			return fmt.Errorf("imapresp: expected fetch item name: %v", dec.Err())
		}
		if !dec.ExpectSP() {
			return dec.Err()
		}
		v, ok := dec.ExpectValue()
		if !ok {
			return fmt.Errorf("imapresp: in %v: %w", key, dec.Err())
		}
		g.set(normalizeItemName(key), v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// normalizeItemName drops the partial origin of "BODY[...]<0>".
func normalizeItemName(key string) string {
	if i := strings.LastIndexByte(key, ']'); i >= 0 && i < len(key)-1 {
		return key[:i+1]
	}
	return key
}

func (g *Group) set(key string, v imapwire.Value) {
	if _, ok := g.items[key]; !ok {
		g.names = append(g.names, key)
	}
	g.items[key] = v
}

// GroupFetch splits the untagged lines of a FETCH command into one group per
// message. Items a server spreads over several responses for the same
// message are merged. Other lines are skipped.
func GroupFetch(lines []string) []*Group {
	var groups []*Group
	bySeq := make(map[uint32]*Group)
	for _, line := range lines {
		if !strings.HasPrefix(line, "* ") || !strings.Contains(line, "FETCH") {
			continue
		}
		g, err := ParseFetch(line)
		if err != nil {
			continue
		}
		if prev, ok := bySeq[g.SeqNum]; ok {
			for _, name := range g.names {
				prev.set(name, g.items[name])
			}
			continue
		}
		bySeq[g.SeqNum] = g
		groups = append(groups, g)
	}
	return groups
}

// Item returns a raw data item by upper-case name.
func (g *Group) Item(name string) (imapwire.Value, bool) {
	v, ok := g.items[strings.ToUpper(name)]
	return v, ok
}

// Names returns the data item names in response order.
func (g *Group) Names() []string {
	return append([]string(nil), g.names...)
}

// UID returns the UID, or "" if the server did not send one.
func (g *Group) UID() string {
	v, _ := g.Item("UID")
	return v.String()
}

// UIDNum returns the UID as a number, or zero.
func (g *Group) UIDNum() uint32 {
	n, err := strconv.ParseUint(g.UID(), 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// Flags returns the message flags.
func (g *Group) Flags() []string {
	v, ok := g.Item("FLAGS")
	if !ok {
		return []string{}
	}
	return v.Strings()
}

// Size returns RFC822.SIZE, or zero.
func (g *Group) Size() int64 {
	v, _ := g.Item("RFC822.SIZE")
	n, _ := v.Number()
	return n
}

// Body returns the contents of BODY[part], as sent by the server.
func (g *Group) Body(part string) ([]byte, bool) {
	v, ok := g.Item("BODY[" + part + "]")
	if !ok || v.IsNil() {
		return nil, false
	}
	return []byte(v.String()), true
}

// HeaderBytes returns the first header section of the group: BODY[HEADER],
// BODY[HEADER.FIELDS (...)] or RFC822.HEADER.
func (g *Group) HeaderBytes() []byte {
	for _, name := range g.names {
		if strings.HasPrefix(name, "BODY[HEADER") || name == "RFC822.HEADER" {
			return []byte(g.items[name].String())
		}
	}
	return nil
}

// Header parses the header section. A malformed header yields the fields
// parsed before the error.
func (g *Group) Header() mail.Header {
	return ParseHeader(g.HeaderBytes())
}

// Headers returns the decoded header fields as a map keyed by canonical
// field name. Repeated fields keep their first value.
func (g *Group) Headers() map[string]string {
	h := g.Header()
	out := make(map[string]string)
	fields := h.Fields()
	for fields.Next() {
		key := nettextproto.CanonicalMIMEHeaderKey(fields.Key())
		if _, ok := out[key]; ok {
			continue
		}
		text, err := fields.Text()
		if err != nil {
			text = DecodeHeader(fields.Value())
		}
		out[key] = text
	}
	return out
}

// BodyStructure returns the parsed BODYSTRUCTURE (or BODY), or nil.
func (g *Group) BodyStructure() *BodyStructure {
	v, ok := g.Item("BODYSTRUCTURE")
	if !ok {
		if v, ok = g.Item("BODY"); !ok || !v.IsList() {
			return nil
		}
	}
	return ParseBodyStructure(v)
}

// Attachments lists the attachment parts of the message.
func (g *Group) Attachments() []mailpulse.Attachment {
	return g.BodyStructure().Attachments()
}

// InlineAttachments lists the inline parts referenced by Content-ID.
func (g *Group) InlineAttachments() []mailpulse.Attachment {
	return g.BodyStructure().InlineAttachments()
}

// ParseHeader parses a raw header block.
func ParseHeader(b []byte) mail.Header {
	if len(b) == 0 {
		return mail.Header{}
	}
	if !bytes.HasSuffix(b, []byte("\r\n\r\n")) && !bytes.HasSuffix(b, []byte("\n\n")) {
		b = append(append([]byte(nil), b...), "\r\n\r\n"...)
	}
	h, _ := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(b)))
	return mail.Header{Header: message.Header{Header: h}}
}
