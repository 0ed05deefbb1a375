package imaptest

import (
	"bytes"
	"io"
	"net/mail"
	"time"

	gomail "github.com/emersion/go-message/mail"
)

// Message describes a message to deliver to the test server.
type Message struct {
	From       string
	To, Cc     []string
	Subject    string
	Date       time.Time
	MessageID  string // without angle brackets
	InReplyTo  string
	Text, HTML string
	Parts      []Part
}

// Part is an attachment or an inline part of a Message.
type Part struct {
	Filename    string
	ContentType string
	ContentID   string
	Inline      bool
	Data        []byte
}

func parseAddresses(l []string) []*gomail.Address {
	var addrs []*gomail.Address
	for _, s := range l {
		if addr, err := mail.ParseAddress(s); err == nil {
			addrs = append(addrs, (*gomail.Address)(addr))
		}
	}
	return addrs
}

// Bytes renders the message. A message with a single text body is sent as a
// single part; text and HTML become multipart/alternative; any extra part
// makes the message multipart/mixed.
func (m *Message) Bytes() []byte {
	var h gomail.Header
	h.SetAddressList("From", parseAddresses([]string{m.From}))
	h.SetAddressList("To", parseAddresses(m.To))
	if len(m.Cc) > 0 {
		h.SetAddressList("Cc", parseAddresses(m.Cc))
	}
	h.SetSubject(m.Subject)
	date := m.Date
	if date.IsZero() {
		date = time.Now()
	}
	h.SetDate(date)
	if m.MessageID != "" {
		h.SetMessageID(m.MessageID)
	}
	if m.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{m.InReplyTo})
	}

	var buf bytes.Buffer
	var err error
	switch {
	case len(m.Parts) > 0:
		err = m.writeMixed(&buf, h)
	case m.Text != "" && m.HTML != "":
		err = m.writeAlternative(&buf, h)
	default:
		body, ctype := m.Text, "text/plain"
		if body == "" && m.HTML != "" {
			body, ctype = m.HTML, "text/html"
		}
		h.SetContentType(ctype, map[string]string{"charset": "utf-8"})
		var w io.WriteCloser
		if w, err = gomail.CreateSingleInlineWriter(&buf, h); err == nil {
			io.WriteString(w, body)
			err = w.Close()
		}
	}
	if err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func (m *Message) writeAlternative(w io.Writer, h gomail.Header) error {
	iw, err := gomail.CreateInlineWriter(w, h)
	if err != nil {
		return err
	}
	if err := m.writeTexts(iw); err != nil {
		return err
	}
	return iw.Close()
}

func (m *Message) writeTexts(iw *gomail.InlineWriter) error {
	for _, text := range []struct{ body, ctype string }{{m.Text, "text/plain"}, {m.HTML, "text/html"}} {
		if text.body == "" {
			continue
		}
		var ih gomail.InlineHeader
		ih.SetContentType(text.ctype, map[string]string{"charset": "utf-8"})
		pw, err := iw.CreatePart(ih)
		if err != nil {
			return err
		}
		io.WriteString(pw, text.body)
		if err := pw.Close(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Message) writeMixed(w io.Writer, h gomail.Header) error {
	mw, err := gomail.CreateWriter(w, h)
	if err != nil {
		return err
	}
	iw, err := mw.CreateInline()
	if err != nil {
		return err
	}
	if err := m.writeTexts(iw); err != nil {
		return err
	}
	if err := iw.Close(); err != nil {
		return err
	}

	for _, part := range m.Parts {
		var pw io.WriteCloser
		if part.Inline {
			var ih gomail.InlineHeader
			params := map[string]string{}
			if part.Filename != "" {
				params["name"] = part.Filename
			}
			ih.SetContentType(part.ContentType, params)
			if part.ContentID != "" {
				ih.Set("Content-Id", "<"+part.ContentID+">")
			}
			pw, err = mw.CreateSingleInline(ih)
		} else {
			var ah gomail.AttachmentHeader
			ah.SetContentType(part.ContentType, nil)
			ah.SetFilename(part.Filename)
			pw, err = mw.CreateAttachment(ah)
		}
		if err != nil {
			return err
		}
		pw.Write(part.Data)
		if err := pw.Close(); err != nil {
			return err
		}
	}
	return mw.Close()
}
