package imapresp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mailpulse/mailpulse"
)

func TestDecodeBody(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		encoding string
		charset  string
		want     string
	}{
		{"7bit", []byte("hello"), "7bit", "", "hello"},
		{"no encoding", []byte("hello"), "", "utf-8", "hello"},
		{"base64", []byte("aGVsbG8g\r\nd29ybGQ="), "BASE64", "", "hello world"},
		{"quoted-printable", []byte("caf=C3=A9 =\r\nnoir"), "quoted-printable", "utf-8", "café noir"},
		{"latin1", []byte{'c', 'a', 'f', 0xe9}, "8bit", "iso-8859-1", "café"},
		{"qp latin1", []byte("caf=E9"), "quoted-printable", "ISO-8859-1", "café"},
		{"unknown encoding", []byte("raw"), "x-uuencode", "", "raw"},
		{"unknown charset", []byte("plain"), "7bit", "x-unknown", "plain"},
		{"invalid utf-8", []byte{'a', 0xff, 'b'}, "", "", "a\uFFFDb"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, DecodeBody(test.data, test.encoding, test.charset))
		})
	}
}

func TestDecodeBytes(t *testing.T) {
	assert.Equal(t, []byte{0, 1, 2, 0xff}, DecodeBytes([]byte("AAEC/w=="), "base64"))
	assert.Equal(t, []byte("as is"), DecodeBytes([]byte("as is"), "binary"))
}

func TestDecodeHeader(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"=?UTF-8?B?w6l0w6k=?=", "été"},
		{"=?ISO-8859-1?Q?caf=E9?= au lait", "café au lait"},
		{"=?broken", "=?broken"},
	}
	for _, test := range tests {
		if got := DecodeHeader(test.in); got != test.want {
			t.Errorf("DecodeHeader(%q) = %q, want %q", test.in, got, test.want)
		}
	}
}

func TestFillEmail(t *testing.T) {
	raw := "From: =?UTF-8?Q?Ren=C3=A9?= <rene@example.org>\r\n" +
		"To: a@example.org, B <b@example.org>\r\n" +
		"Cc: c@example.org\r\n" +
		"Subject: Status\r\n" +
		"Date: Mon, 2 Nov 2009 23:00:00 -0600\r\n" +
		"Message-ID: <m1@example.org>\r\n" +
		"In-Reply-To: <m0@example.org>\r\n" +
		"References: <r1@example.org> <m0@example.org>\r\n\r\n"

	var email mailpulse.Email
	FillEmail(&email, ParseHeader([]byte(raw)))

	assert.Equal(t, "René <rene@example.org>", email.Sender)
	assert.Equal(t, []string{"a@example.org", "B <b@example.org>"}, email.Receivers)
	assert.Equal(t, []string{"c@example.org"}, email.Cc)
	assert.Equal(t, []string{}, email.Bcc)
	assert.Equal(t, "Status", email.Subject)
	assert.True(t, email.Date.Equal(time.Date(2009, time.November, 3, 5, 0, 0, 0, time.UTC)))
	assert.Equal(t, "<m1@example.org>", email.MessageID)
	assert.Equal(t, "<m0@example.org>", email.InReplyTo)
	assert.Equal(t, []string{"<r1@example.org>", "<m0@example.org>"}, email.References)
}

func TestFillEmail_malformed(t *testing.T) {
	raw := "From: not an address\r\nDate: yesterday\r\n\r\n"
	var email mailpulse.Email
	FillEmail(&email, ParseHeader([]byte(raw)))
	assert.Equal(t, "not an address", email.Sender)
	assert.True(t, email.Date.IsZero())
	assert.Equal(t, "", email.MessageID)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  hello\r\n\tworld  ", "hello world"},
		{"see https://example.org/x?y=1 now", "see now"},
		{"visit www.example.org today", "visit today"},
		{"a [image: logo] b <https://x> c (note) d", "a b c d"},
		{"zero\u200bwidth\u00adsoft\ufeff", "zerowidthsoft"},
		{"cafe\u0301", "caf\u00e9"},
		{"\u034f\u3164hidden", "hidden"},
	}
	for _, test := range tests {
		if got := Sanitize(test.in); got != test.want {
			t.Errorf("Sanitize(%q) = %q, want %q", test.in, got, test.want)
		}
	}
}
