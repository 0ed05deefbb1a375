package imaptest

import (
	"bufio"
	"bytes"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"

	"github.com/mailpulse/mailpulse/internal/imapwire"
)

type message struct {
	// immutable
	uid uint32
	buf []byte
	t   time.Time

	// mutable, protected by Server.mutex
	flags map[string]struct{}
}

func newMessage(uid uint32, buf []byte, t time.Time, flags []string) *message {
	msg := &message{uid: uid, buf: buf, t: t, flags: make(map[string]struct{})}
	for _, f := range flags {
		msg.flags[canonicalFlag(f)] = struct{}{}
	}
	return msg
}

// fetchItem renders one FETCH data item. It returns the item name as sent
// back to the client and its value.
func (msg *message) fetchItem(item string) (string, imapwire.Value, bool) {
	switch item {
	case "UID":
		return "UID", imapwire.Num(int64(msg.uid)), true
	case "FLAGS":
		return "FLAGS", msg.flagValue(), true
	case "INTERNALDATE":
		return "INTERNALDATE", imapwire.Str(msg.t.Format("02-Jan-2006 15:04:05 -0700")), true
	case "RFC822.SIZE":
		return "RFC822.SIZE", imapwire.Num(int64(len(msg.buf))), true
	case "BODYSTRUCTURE", "BODY":
		return item, msg.bodyStructure(item == "BODYSTRUCTURE"), true
	case "RFC822":
		return "RFC822", imapwire.Str(string(msg.buf)), true
	case "RFC822.HEADER":
		return "RFC822.HEADER", imapwire.Str(string(msg.bodySection("HEADER"))), true
	}

	section, ok := parseSectionItem(item)
	if !ok {
		return "", imapwire.Value{}, false
	}
	buf := msg.bodySection(section)
	if buf == nil {
		return "BODY[" + section + "]", imapwire.Nil(), true
	}
	return "BODY[" + section + "]", imapwire.Str(string(buf)), true
}

// parseSectionItem extracts the section of "BODY[...]" or "BODY.PEEK[...]".
func parseSectionItem(item string) (string, bool) {
	var rest string
	switch {
	case strings.HasPrefix(item, "BODY.PEEK["):
		rest = strings.TrimPrefix(item, "BODY.PEEK[")
	case strings.HasPrefix(item, "BODY["):
		rest = strings.TrimPrefix(item, "BODY[")
	default:
		return "", false
	}
	end := strings.LastIndexByte(rest, ']')
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

func (msg *message) flagList() []string {
	flags := make([]string, 0, len(msg.flags))
	for flag := range msg.flags {
		flags = append(flags, displayFlag(flag))
	}
	sort.Strings(flags)
	return flags
}

func (msg *message) flagValue() imapwire.Value {
	var items []imapwire.Value
	for _, flag := range msg.flagList() {
		items = append(items, imapwire.Atom(flag))
	}
	return imapwire.List(items...)
}

func (msg *message) hasFlag(flag string) bool {
	_, ok := msg.flags[canonicalFlag(flag)]
	return ok
}

// store applies a STORE operation: "FLAGS", "+FLAGS" or "-FLAGS", with an
// optional ".SILENT" suffix already removed.
func (msg *message) store(op string, flags []string) {
	switch op {
	case "FLAGS":
		msg.flags = make(map[string]struct{})
		fallthrough
	case "+FLAGS":
		for _, flag := range flags {
			msg.flags[canonicalFlag(flag)] = struct{}{}
		}
	case "-FLAGS":
		for _, flag := range flags {
			delete(msg.flags, canonicalFlag(flag))
		}
	}
}

func (msg *message) header() textproto.Header {
	br := bufio.NewReader(bytes.NewReader(msg.buf))
	header, _ := textproto.ReadHeader(br)
	return header
}

func (msg *message) bodyStructure(extended bool) imapwire.Value {
	br := bufio.NewReader(bytes.NewReader(msg.buf))
	header, _ := textproto.ReadHeader(br)
	return getBodyStructure(header, br, extended)
}

func openMessagePart(header textproto.Header, body io.Reader, parentMediaType string) (textproto.Header, io.Reader) {
	msgHeader := gomessage.Header{Header: header}
	mediaType, _, _ := msgHeader.ContentType()
	if !msgHeader.Has("Content-Type") && parentMediaType == "multipart/digest" {
		mediaType = "message/rfc822"
	}
	if mediaType == "message/rfc822" || mediaType == "message/global" {
		br := bufio.NewReader(body)
		header, _ = textproto.ReadHeader(br)
		return header, br
	}
	return header, body
}

// bodySection returns the contents of a section such as "", "HEADER",
// "HEADER.FIELDS (FROM TO)", "TEXT", "1.2" or "2.HEADER". It returns nil if
// the part does not exist.
func (msg *message) bodySection(section string) []byte {
	partPath, specifier, fields := parseSection(section)

	br := bufio.NewReader(bytes.NewReader(msg.buf))
	header, err := textproto.ReadHeader(br)
	if err != nil {
		return nil
	}
	var body io.Reader = br

	// First part of non-multipart message refers to the message itself
	msgHeader := gomessage.Header{Header: header}
	mediaType, _, _ := msgHeader.ContentType()
	path := partPath
	if !strings.HasPrefix(mediaType, "multipart/") && len(path) > 0 && path[0] == 1 {
		path = path[1:]
	}

	var parentMediaType string
	for _, partNum := range path {
		header, body = openMessagePart(header, body, parentMediaType)

		msgHeader := gomessage.Header{Header: header}
		mediaType, typeParams, _ := msgHeader.ContentType()
		if !strings.HasPrefix(mediaType, "multipart/") {
			if partNum != 1 {
				return nil
			}
			continue
		}

		mr := textproto.NewMultipartReader(body, typeParams["boundary"])
		found := false
		for j := 1; j <= partNum; j++ {
			p, err := mr.NextPart()
			if err != nil {
				return nil
			}
			if j == partNum {
				parentMediaType = mediaType
				header = p.Header
				body = p
				found = true
				break
			}
		}
		if !found {
			return nil
		}
	}

	if len(partPath) > 0 && (specifier == "HEADER" || specifier == "TEXT" || specifier == "HEADER.FIELDS") {
		header, body = openMessagePart(header, body, parentMediaType)
	}

	if len(fields) > 0 {
		keep := make(map[string]struct{})
		for _, k := range fields {
			keep[strings.ToLower(k)] = struct{}{}
		}
		for field := header.Fields(); field.Next(); {
			if _, ok := keep[strings.ToLower(field.Key())]; !ok {
				field.Del()
			}
		}
	}

	var buf bytes.Buffer
	writeHeader := true
	switch specifier {
	case "":
		writeHeader = len(partPath) == 0
	case "TEXT":
		writeHeader = false
	}
	if writeHeader {
		if err := textproto.WriteHeader(&buf, header); err != nil {
			return nil
		}
	}
	switch specifier {
	case "", "TEXT":
		if _, err := io.Copy(&buf, body); err != nil {
			return nil
		}
	}
	return buf.Bytes()
}

// parseSection splits "1.2.HEADER.FIELDS (FROM TO)" into its part numbers,
// its specifier and the header field names.
func parseSection(section string) (path []int, specifier string, fields []string) {
	spec := section
	if i := strings.IndexByte(spec, ' '); i >= 0 {
		list := strings.Trim(strings.TrimSpace(spec[i:]), "()")
		fields = strings.Fields(list)
		spec = spec[:i]
	}
	for spec != "" {
		head, tail, _ := strings.Cut(spec, ".")
		n, err := strconv.Atoi(head)
		if err != nil {
			break
		}
		path = append(path, n)
		spec = tail
	}
	return path, strings.ToUpper(spec), fields
}

func getBodyStructure(rawHeader textproto.Header, r io.Reader, extended bool) imapwire.Value {
	header := gomessage.Header{Header: rawHeader}

	mediaType, typeParams, _ := header.ContentType()
	if mediaType == "" {
		mediaType = "text/plain"
	}
	primaryType, subType, _ := strings.Cut(mediaType, "/")

	if primaryType == "multipart" {
		var items []imapwire.Value
		mr := textproto.NewMultipartReader(r, typeParams["boundary"])
		for {
			part, _ := mr.NextPart()
			if part == nil {
				break
			}
			items = append(items, getBodyStructure(part.Header, part, extended))
		}
		items = append(items, imapwire.Str(strings.ToUpper(subType)))
		if extended {
			items = append(items, paramsValue(typeParams), getContentDisposition(header), imapwire.Nil(), imapwire.Nil())
		}
		return imapwire.List(items...)
	}

	body, _ := io.ReadAll(r)
	items := []imapwire.Value{
		imapwire.Str(strings.ToUpper(primaryType)),
		imapwire.Str(strings.ToUpper(subType)),
		paramsValue(typeParams),
		imapwire.NStr(header.Get("Content-Id")),
		imapwire.NStr(header.Get("Content-Description")),
		imapwire.Str(encodingOrDefault(header.Get("Content-Transfer-Encoding"))),
		imapwire.Num(int64(len(body))),
	}
	if mediaType == "message/rfc822" || mediaType == "message/global" {
		br := bufio.NewReader(bytes.NewReader(body))
		childHeader, _ := textproto.ReadHeader(br)
		items = append(items,
			getEnvelope(childHeader),
			getBodyStructure(childHeader, br, extended),
			imapwire.Num(int64(bytes.Count(body, []byte("\n")))),
		)
	} else if primaryType == "text" {
		items = append(items, imapwire.Num(int64(bytes.Count(body, []byte("\n")))))
	}
	if extended {
		items = append(items, imapwire.Nil(), getContentDisposition(header), imapwire.Nil(), imapwire.Nil())
	}
	return imapwire.List(items...)
}

func encodingOrDefault(enc string) string {
	if enc == "" {
		return "7BIT"
	}
	return strings.ToUpper(enc)
}

func paramsValue(params map[string]string) imapwire.Value {
	if len(params) == 0 {
		return imapwire.Nil()
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var items []imapwire.Value
	for _, k := range keys {
		items = append(items, imapwire.Str(strings.ToUpper(k)), imapwire.Str(params[k]))
	}
	return imapwire.List(items...)
}

func getContentDisposition(header gomessage.Header) imapwire.Value {
	disp, dispParams, _ := header.ContentDisposition()
	if disp == "" {
		return imapwire.Nil()
	}
	return imapwire.List(imapwire.Str(strings.ToUpper(disp)), paramsValue(dispParams))
}

// getEnvelope renders a minimal ENVELOPE. Address lists are left NIL: the
// client reads addresses from header fields.
func getEnvelope(h textproto.Header) imapwire.Value {
	return imapwire.List(
		imapwire.NStr(h.Get("Date")),
		imapwire.NStr(h.Get("Subject")),
		imapwire.Nil(), imapwire.Nil(), imapwire.Nil(),
		imapwire.Nil(), imapwire.Nil(), imapwire.Nil(),
		imapwire.NStr(h.Get("In-Reply-To")),
		imapwire.NStr(h.Get("Message-Id")),
	)
}

func canonicalFlag(flag string) string {
	return strings.ToLower(flag)
}

var displayFlags = map[string]string{
	`\seen`:     `\Seen`,
	`\answered`: `\Answered`,
	`\flagged`:  `\Flagged`,
	`\deleted`:  `\Deleted`,
	`\draft`:    `\Draft`,
}

func displayFlag(flag string) string {
	if f, ok := displayFlags[flag]; ok {
		return f
	}
	return flag
}
