package smtpsender

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailpulse/mailpulse"
)

func readParts(t *testing.T, b []byte) (*gomail.Reader, map[string]string) {
	mr, err := gomail.CreateReader(bytes.NewReader(b))
	require.NoError(t, err)

	parts := make(map[string]string)
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(p.Body)
		require.NoError(t, err)

		switch h := p.Header.(type) {
		case *gomail.InlineHeader:
			ctype, _, _ := h.ContentType()
			if id := h.Get("Content-Id"); id != "" {
				parts[id] = string(body)
			} else {
				parts[ctype] = string(body)
			}
		case *gomail.AttachmentHeader:
			name, _ := h.Filename()
			parts[name] = string(body)
		}
	}
	return mr, parts
}

func TestCompose_plain(t *testing.T) {
	msg := &Message{
		From:      "Me <me@example.org>",
		To:        []string{"you@example.org"},
		Subject:   "Grüße",
		Text:      "hello",
		InReplyTo: "<orig@example.org>",
		Date:      time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	b, err := msg.Bytes()
	require.NoError(t, err)

	h, err := Parse(b)
	require.NoError(t, err)
	subject, err := h.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Grüße", subject)

	ctype, _, err := h.ContentType()
	require.NoError(t, err)
	assert.Equal(t, "text/plain", ctype)

	id, err := h.MessageID()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(id, "@example.org"), "Message-ID = %q", id)
	assert.Equal(t, id, msg.MessageID)

	inReplyTo, err := h.MsgIDList("In-Reply-To")
	require.NoError(t, err)
	assert.Equal(t, []string{"orig@example.org"}, inReplyTo)

	date, err := h.Date()
	require.NoError(t, err)
	assert.True(t, date.Equal(msg.Date))
}

func TestCompose_alternative(t *testing.T) {
	msg := &Message{
		From:    "me@example.org",
		To:      []string{"you@example.org"},
		Subject: "both",
		Text:    "plain body",
		HTML:    "<p>html body</p>",
	}
	b, err := msg.Bytes()
	require.NoError(t, err)

	_, parts := readParts(t, b)
	assert.Equal(t, "plain body", parts["text/plain"])
	assert.Equal(t, "<p>html body</p>", parts["text/html"])
}

func TestCompose_attachments(t *testing.T) {
	msg := &Message{
		From:    "me@example.org",
		To:      []string{"you@example.org"},
		Bcc:     []string{"secret@example.org"},
		Subject: "files",
		HTML:    `<img src="cid:logo@local">`,
		Attachments: []mailpulse.Attachment{
			{Name: "report.pdf", MIMEType: "application/pdf", Content: []byte("%PDF-1.4")},
			{Name: "logo.png", MIMEType: "image/png", Inline: true, ContentID: "logo@local", Content: []byte("\x89PNG")},
		},
	}
	b, err := msg.Bytes()
	require.NoError(t, err)
	assert.NotContains(t, string(b), "secret@example.org")

	mr, parts := readParts(t, b)
	ctype, _, err := mr.Header.ContentType()
	require.NoError(t, err)
	assert.Equal(t, "multipart/mixed", ctype)
	assert.Equal(t, "%PDF-1.4", parts["report.pdf"])
	assert.Equal(t, "\x89PNG", parts["<logo@local>"])
	assert.Equal(t, `<img src="cid:logo@local">`, parts["text/html"])
}

func TestMessage_Validate(t *testing.T) {
	tests := []struct {
		name  string
		msg   Message
		field string
	}{
		{"from", Message{From: "not an address", To: []string{"a@example.org"}}, "from"},
		{"recipient", Message{From: "a@example.org", To: []string{"bad"}}, "recipient"},
		{"none", Message{From: "a@example.org"}, "recipient"},
		{"attachment", Message{From: "a@example.org", To: []string{"b@example.org"}, Attachments: []mailpulse.Attachment{{}}}, "attachment"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			var verr *mailpulse.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}

	ok := Message{From: "a@example.org", Bcc: []string{"b@example.org"}}
	assert.NoError(t, ok.Validate())
}
