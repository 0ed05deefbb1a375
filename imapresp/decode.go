package imapresp

import (
	"bytes"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/mailpulse/mailpulse"
)

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// DecodeHeader decodes RFC 2047 encoded words. Undecodable input is returned
// unchanged.
func DecodeHeader(s string) string {
	if !strings.Contains(s, "=?") {
		return s
	}
	out, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return out
}

// DecodeBody undoes the transfer encoding of a part and converts it to UTF-8.
// An unknown encoding leaves the payload as is, an unknown charset is read
// as UTF-8 with invalid sequences replaced. Whatever decodes before a
// corrupted byte is kept.
func DecodeBody(data []byte, encoding, cs string) string {
	b := DecodeBytes(data, encoding)
	if cs == "" || strings.EqualFold(cs, "utf-8") || strings.EqualFold(cs, "us-ascii") {
		return strings.ToValidUTF8(string(b), "\uFFFD")
	}
	r, err := charset.Reader(cs, bytes.NewReader(b))
	if err != nil {
		return strings.ToValidUTF8(string(b), "\uFFFD")
	}
	out, _ := io.ReadAll(r)
	return strings.ToValidUTF8(string(out), "\uFFFD")
}

// DecodeBytes undoes a Content-Transfer-Encoding, for binary payloads such
// as attachments.
func DecodeBytes(data []byte, encoding string) []byte {
	var h message.Header
	h.SetContentType("application/octet-stream", nil)
	if encoding != "" {
		h.Set("Content-Transfer-Encoding", encoding)
	}
	entity, err := message.New(h, bytes.NewReader(data))
	if entity == nil || (err != nil && message.IsUnknownEncoding(err)) {
		return data
	}
	b, _ := io.ReadAll(entity.Body)
	return b
}

// FillEmail copies the envelope header fields into email. Missing or
// malformed fields are left empty.
func FillEmail(email *mailpulse.Email, h mail.Header) {
	email.Sender = firstAddress(h, "From")
	if email.Sender == "" {
		email.Sender = firstAddress(h, "Sender")
	}
	email.Receivers = addresses(h, "To")
	email.Cc = addresses(h, "Cc")
	email.Bcc = addresses(h, "Bcc")

	if subject, err := h.Subject(); err == nil {
		email.Subject = subject
	} else {
		email.Subject = DecodeHeader(h.Get("Subject"))
	}

	if date, err := h.Date(); err == nil && !date.IsZero() {
		email.Date = date
	} else if date, err := mailpulse.ParseMessageDate(h.Get("Date")); err == nil {
		email.Date = date
	} else {
		email.Date = time.Time{}
	}

	if id, err := h.MessageID(); err == nil && id != "" {
		email.MessageID = "<" + id + ">"
	} else {
		email.MessageID = strings.TrimSpace(h.Get("Message-Id"))
	}
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		email.InReplyTo = "<" + ids[0] + ">"
	}
	if ids, err := h.MsgIDList("References"); err == nil {
		for _, id := range ids {
			email.References = append(email.References, "<"+id+">")
		}
	}
}

// FormatAddress renders an address as "Name <addr>", or the bare address.
func FormatAddress(addr *mail.Address) string {
	if addr.Name == "" {
		return addr.Address
	}
	return addr.Name + " <" + addr.Address + ">"
}

func addresses(h mail.Header, key string) []string {
	list, err := h.AddressList(key)
	if err != nil {
		raw := strings.TrimSpace(DecodeHeader(h.Get(key)))
		if raw == "" {
			return []string{}
		}
		out := []string{}
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	out := make([]string, 0, len(list))
	for _, addr := range list {
		out = append(out, FormatAddress(addr))
	}
	return out
}

func firstAddress(h mail.Header, key string) string {
	if list := addresses(h, key); len(list) > 0 {
		return list[0]
	}
	return ""
}
