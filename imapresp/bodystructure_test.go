package imapresp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailpulse/mailpulse/internal/imapwire"
)

const (
	plainPart = `("TEXT" "PLAIN" ("CHARSET" "utf-8") NIL NIL "7BIT" 5 1 NIL NIL NIL NIL)`
	htmlPart  = `("TEXT" "HTML" ("CHARSET" "utf-8") NIL NIL "QUOTED-PRINTABLE" 20 1 NIL NIL NIL NIL)`
	altPart   = `(` + plainPart + htmlPart + ` "ALTERNATIVE" ("BOUNDARY" "b1") NIL NIL NIL)`
	pdfPart   = `("APPLICATION" "PDF" ("NAME" "report.pdf") NIL NIL "BASE64" 100 NIL ("ATTACHMENT" ("FILENAME" "report.pdf")) NIL NIL)`
	imagePart = `("IMAGE" "PNG" NIL "<img1@example.org>" NIL "BASE64" 50 NIL ("INLINE" NIL) NIL NIL)`
	mixedBody = `(` + altPart + pdfPart + imagePart + ` "MIXED" ("BOUNDARY" "b0") NIL NIL NIL)`

	envelope     = `("Mon, 2 Nov 2009 23:00:00 -0600" "Fwd" NIL NIL NIL NIL NIL NIL NIL "<inner@example.org>")`
	rfc822Part   = `("MESSAGE" "RFC822" NIL NIL NIL "7BIT" 300 ` + envelope + ` ` + altPart + ` 12 NIL NIL NIL NIL)`
	forwardedMsg = `(` + plainPart + rfc822Part + ` "MIXED" NIL NIL NIL NIL)`
)

func parseBS(t *testing.T, s string) *BodyStructure {
	t.Helper()
	dec := imapwire.NewDecoder(s)
	v, ok := dec.Value()
	require.True(t, ok, "decode %q: %v", s, dec.Err())
	bs := ParseBodyStructure(v)
	require.NotNil(t, bs)
	return bs
}

func TestParseBodyStructure_singlePart(t *testing.T) {
	bs := parseBS(t, plainPart)
	assert.Equal(t, "1", bs.Path)
	assert.Equal(t, "text/plain", bs.MIMEType())
	assert.Equal(t, "utf-8", bs.Charset())
	assert.Equal(t, "7bit", bs.Encoding)
	assert.EqualValues(t, 5, bs.Size)
	assert.EqualValues(t, 1, bs.Lines)
	assert.Equal(t, "1", PartPath(bs, "text", "plain"))
}

func TestParseBodyStructure_multipart(t *testing.T) {
	bs := parseBS(t, mixedBody)
	assert.True(t, bs.IsMultipart())
	assert.Equal(t, "mixed", bs.Subtype)
	assert.Equal(t, "b0", bs.Params["boundary"])
	require.Len(t, bs.Children, 3)

	alt := bs.Children[0]
	assert.Equal(t, "1", alt.Path)
	assert.Equal(t, "alternative", alt.Subtype)
	require.Len(t, alt.Children, 2)
	assert.Equal(t, "1.1", alt.Children[0].Path)
	assert.Equal(t, "1.2", alt.Children[1].Path)

	assert.Equal(t, "2", bs.Children[1].Path)
	assert.Equal(t, "attachment", bs.Children[1].Disposition)
	assert.Equal(t, "3", bs.Children[2].Path)
	assert.Equal(t, "inline", bs.Children[2].Disposition)
}

func TestPartPath(t *testing.T) {
	mixed := parseBS(t, mixedBody)
	fwd := parseBS(t, forwardedMsg)

	tests := []struct {
		name     string
		bs       *BodyStructure
		keywords []string
		want     string
	}{
		{"plain in alternative", mixed, []string{"text", "plain"}, "1.1"},
		{"html in alternative", mixed, []string{"TEXT", "HTML"}, "1.2"},
		{"attachment by name", mixed, []string{"report.pdf"}, "2"},
		{"inline by content id", mixed, []string{"<img1@example.org>"}, "3"},
		{"container", mixed, []string{"alternative"}, "1"},
		{"no match", mixed, []string{"text", "calendar"}, ""},
		{"first in document order", fwd, []string{"text", "plain"}, "1"},
		{"inside forwarded message", fwd, []string{"text", "html"}, "2.2"},
		{"forwarded message itself", fwd, []string{"rfc822"}, "2"},
		{"nil tree", nil, []string{"text"}, ""},
		{"no keywords", mixed, nil, ""},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, PartPath(test.bs, test.keywords...))
		})
	}
}

func TestBodyStructure_encapsulatedPaths(t *testing.T) {
	bs := parseBS(t, forwardedMsg)
	msg := bs.Part("2")
	require.NotNil(t, msg)
	require.NotNil(t, msg.Message)
	assert.Equal(t, "2.TEXT", msg.Message.Path)
	assert.Equal(t, "2.1", msg.Message.Children[0].Path)
	assert.Equal(t, "2.2", msg.Message.Children[1].Path)

	single := parseBS(t, `("MESSAGE" "RFC822" NIL NIL NIL "7BIT" 30 `+envelope+` `+plainPart+` 3 NIL NIL NIL NIL)`)
	assert.Equal(t, "1", single.Path)
	require.NotNil(t, single.Message)
	assert.Equal(t, "1.1", single.Message.Path)
}

func TestBodyStructure_TextPart(t *testing.T) {
	assert.Equal(t, "1.1", parseBS(t, mixedBody).TextPart().Path)

	htmlOnly := parseBS(t, `(`+htmlPart+pdfPart+` "MIXED" NIL NIL NIL NIL)`)
	assert.Equal(t, "1", htmlOnly.TextPart().Path)

	assert.Nil(t, parseBS(t, pdfPart).TextPart())
}

func TestBodyStructure_Attachments(t *testing.T) {
	bs := parseBS(t, mixedBody)

	atts := bs.Attachments()
	require.Len(t, atts, 1)
	assert.Equal(t, "report.pdf", atts[0].Name)
	assert.Equal(t, "application/pdf", atts[0].MIMEType)
	assert.Equal(t, "2", atts[0].PartPath)
	assert.Equal(t, "base64", atts[0].Encoding)
	assert.EqualValues(t, 100, atts[0].Size)
	assert.False(t, atts[0].Inline)

	inline := bs.InlineAttachments()
	require.Len(t, inline, 1)
	assert.Equal(t, "img1@example.org", inline[0].ContentID)
	assert.Equal(t, "3", inline[0].PartPath)
	assert.True(t, inline[0].Inline)

	var nilBS *BodyStructure
	assert.Empty(t, nilBS.Attachments())
	assert.Empty(t, nilBS.InlineAttachments())
}

func TestBodyStructure_Filename(t *testing.T) {
	tests := []struct {
		part string
		want string
	}{
		{`("APPLICATION" "PDF" NIL NIL NIL "BASE64" 1 NIL ("ATTACHMENT" ("FILENAME*" "utf-8''r%C3%A9sum%C3%A9.pdf")) NIL NIL)`, "résumé.pdf"},
		{`("APPLICATION" "PDF" ("NAME" "=?UTF-8?B?w6l0w6kucGRm?=") NIL NIL "BASE64" 1 NIL NIL NIL NIL)`, "été.pdf"},
		{`("APPLICATION" "PDF" ("NAME" "b.pdf") NIL NIL "BASE64" 1 NIL ("ATTACHMENT" ("FILENAME" "a.pdf")) NIL NIL)`, "a.pdf"},
		{`("APPLICATION" "OCTET-STREAM" NIL NIL NIL "BASE64" 1 NIL NIL NIL NIL)`, ""},
	}
	for _, test := range tests {
		if got := parseBS(t, test.part).Filename(); got != test.want {
			t.Errorf("Filename(%v) = %q, want %q", test.part, got, test.want)
		}
	}
}

func TestBodyStructure_FindAttachment(t *testing.T) {
	bs := parseBS(t, mixedBody)
	require.NotNil(t, bs.FindAttachment("REPORT.PDF"))
	assert.Equal(t, "2", bs.FindAttachment("report.pdf").Path)
	assert.Nil(t, bs.FindAttachment("missing.txt"))
}
