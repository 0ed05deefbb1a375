package smtpsender

import (
	"bytes"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/mailpulse/mailpulse"
)

// Message is an outgoing message.
//
// Attachments must carry their Content. Inline attachments with a ContentID
// can be referenced from HTML as "cid:<ContentID>".
type Message struct {
	From       string
	To, Cc     []string
	Bcc        []string
	Subject    string
	Text       string
	HTML       string
	InReplyTo  string
	References []string

	Attachments []mailpulse.Attachment

	// Date and MessageID are set by Compose when empty.
	Date      time.Time
	MessageID string
}

// Recipients returns every envelope recipient, Bcc included, without
// duplicates.
func (msg *Message) Recipients() []string {
	seen := make(map[string]bool)
	var rcpts []string
	for _, list := range [][]string{msg.To, msg.Cc, msg.Bcc} {
		for _, s := range list {
			addr, err := mail.ParseAddress(s)
			if err != nil {
				continue
			}
			key := strings.ToLower(addr.Address)
			if !seen[key] {
				seen[key] = true
				rcpts = append(rcpts, addr.Address)
			}
		}
	}
	return rcpts
}

// Validate checks the addresses of the message.
func (msg *Message) Validate() error {
	if _, err := mail.ParseAddress(msg.From); err != nil {
		return &mailpulse.ValidationError{Field: "from", Value: msg.From, Reason: err.Error()}
	}
	for _, list := range [][]string{msg.To, msg.Cc, msg.Bcc} {
		for _, s := range list {
			if _, err := mail.ParseAddress(s); err != nil {
				return &mailpulse.ValidationError{Field: "recipient", Value: s, Reason: err.Error()}
			}
		}
	}
	if len(msg.To)+len(msg.Cc)+len(msg.Bcc) == 0 {
		return &mailpulse.ValidationError{Field: "recipient", Reason: "no recipient"}
	}
	for _, att := range msg.Attachments {
		if att.Name == "" && att.ContentID == "" {
			return &mailpulse.ValidationError{Field: "attachment", Reason: "attachment without name"}
		}
	}
	return nil
}

func parseAddressList(l []string) []*gomail.Address {
	var addrs []*gomail.Address
	for _, s := range l {
		if addr, err := mail.ParseAddress(s); err == nil {
			addrs = append(addrs, (*gomail.Address)(addr))
		}
	}
	return addrs
}

// NewMessageID returns a new Message-ID value for the domain of from, without
// angle brackets.
func NewMessageID(from string) string {
	domain := "localhost"
	if addr, err := mail.ParseAddress(from); err == nil {
		if i := strings.LastIndexByte(addr.Address, '@'); i >= 0 && i < len(addr.Address)-1 {
			domain = addr.Address[i+1:]
		}
	}
	return uuid.NewString() + "@" + domain
}

// Compose writes msg in RFC 5322 format. Bcc is never written.
//
// A message with only a text body is single-part; text and HTML become
// multipart/alternative; attachments make it multipart/mixed.
func Compose(w io.Writer, msg *Message) error {
	if msg.Date.IsZero() {
		msg.Date = time.Now()
	}
	if msg.MessageID == "" {
		msg.MessageID = NewMessageID(msg.From)
	}

	var h gomail.Header
	h.SetDate(msg.Date)
	h.SetAddressList("From", parseAddressList([]string{msg.From}))
	h.SetAddressList("To", parseAddressList(msg.To))
	if len(msg.Cc) > 0 {
		h.SetAddressList("Cc", parseAddressList(msg.Cc))
	}
	h.SetSubject(msg.Subject)
	h.SetMessageID(strings.Trim(msg.MessageID, "<>"))
	if msg.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{strings.Trim(msg.InReplyTo, "<>")})
	}
	if len(msg.References) > 0 {
		var refs []string
		for _, ref := range msg.References {
			refs = append(refs, strings.Trim(ref, "<>"))
		}
		h.SetMsgIDList("References", refs)
	}

	if len(msg.Attachments) == 0 {
		if msg.HTML == "" || msg.Text == "" {
			return writeSingle(w, h, msg)
		}
		iw, err := gomail.CreateInlineWriter(w, h)
		if err != nil {
			return err
		}
		if err := writeTexts(iw, msg); err != nil {
			return err
		}
		return iw.Close()
	}

	mw, err := gomail.CreateWriter(w, h)
	if err != nil {
		return err
	}
	iw, err := mw.CreateInline()
	if err != nil {
		return err
	}
	if err := writeTexts(iw, msg); err != nil {
		return err
	}
	if err := iw.Close(); err != nil {
		return err
	}
	for i := range msg.Attachments {
		if err := writeAttachment(mw, &msg.Attachments[i]); err != nil {
			return fmt.Errorf("smtpsender: attachment %q: %w", msg.Attachments[i].Name, err)
		}
	}
	return mw.Close()
}

func writeSingle(w io.Writer, h gomail.Header, msg *Message) error {
	body, ctype := msg.Text, "text/plain"
	if body == "" && msg.HTML != "" {
		body, ctype = msg.HTML, "text/html"
	}
	h.SetContentType(ctype, map[string]string{"charset": "utf-8"})
	bw, err := gomail.CreateSingleInlineWriter(w, h)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(bw, body); err != nil {
		return err
	}
	return bw.Close()
}

func writeTexts(iw *gomail.InlineWriter, msg *Message) error {
	texts := []struct{ body, ctype string }{{msg.Text, "text/plain"}, {msg.HTML, "text/html"}}
	for i, text := range texts {
		// An empty text/plain part is kept when there is no body at all.
		if text.body == "" && (i > 0 || msg.HTML != "") {
			continue
		}
		var ih gomail.InlineHeader
		ih.SetContentType(text.ctype, map[string]string{"charset": "utf-8"})
		pw, err := iw.CreatePart(ih)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(pw, text.body); err != nil {
			return err
		}
		if err := pw.Close(); err != nil {
			return err
		}
	}
	return nil
}

func writeAttachment(mw *gomail.Writer, att *mailpulse.Attachment) error {
	mimeType := att.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	var pw io.WriteCloser
	var err error
	if att.Inline {
		var ih gomail.InlineHeader
		params := map[string]string{}
		if att.Name != "" {
			params["name"] = att.Name
		}
		ih.SetContentType(mimeType, params)
		if att.ContentID != "" {
			ih.Set("Content-Id", "<"+strings.Trim(att.ContentID, "<>")+">")
		}
		if att.Name != "" {
			ih.SetContentDisposition("inline", map[string]string{"filename": att.Name})
		}
		ih.Set("Content-Transfer-Encoding", "base64")
		pw, err = mw.CreateSingleInline(ih)
	} else {
		var ah gomail.AttachmentHeader
		ah.SetContentType(mimeType, nil)
		ah.SetFilename(att.Name)
		pw, err = mw.CreateAttachment(ah)
	}
	if err != nil {
		return err
	}
	if _, err := pw.Write(att.Content); err != nil {
		return err
	}
	return pw.Close()
}

// Bytes returns the composed message.
func (msg *Message) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := Compose(&buf, msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Parse reads back a composed message header, for callers which need the
// values Compose filled in.
func Parse(b []byte) (*gomail.Header, error) {
	entity, err := message.Read(bytes.NewReader(b))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, err
	}
	return &gomail.Header{Header: entity.Header}, nil
}
