package imapresp

import (
	"reflect"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFetch(t *testing.T) {
	line := `* 7 FETCH (UID 42 FLAGS (\Seen \Flagged) RFC822.SIZE 1234 BODYSTRUCTURE ` + plainPart + `)`
	g, err := ParseFetch(line)
	require.NoError(t, err)

	assert.EqualValues(t, 7, g.SeqNum)
	assert.Equal(t, "42", g.UID())
	assert.EqualValues(t, 42, g.UIDNum())
	assert.Equal(t, []string{`\Seen`, `\Flagged`}, g.Flags())
	assert.EqualValues(t, 1234, g.Size())
	assert.Equal(t, "1", PartPath(g.BodyStructure(), "text", "plain"))
	assert.Equal(t, []string{"UID", "FLAGS", "RFC822.SIZE", "BODYSTRUCTURE"}, g.Names())
}

func TestParseFetch_notFetch(t *testing.T) {
	for _, line := range []string{
		"* 3 EXISTS",
		"* SEARCH 1 2",
		"A1 OK done",
		"* FETCH (UID 1)",
	} {
		if _, err := ParseFetch(line); err == nil {
			t.Errorf("ParseFetch(%q) = nil error, want failure", line)
		}
	}
}

func TestGroup_missingItems(t *testing.T) {
	g, err := ParseFetch("* 1 FETCH (FLAGS ())")
	require.NoError(t, err)
	assert.Equal(t, "", g.UID())
	assert.EqualValues(t, 0, g.UIDNum())
	assert.Equal(t, []string{}, g.Flags())
	assert.EqualValues(t, 0, g.Size())
	assert.Nil(t, g.BodyStructure())
	assert.Empty(t, g.Attachments())
	_, ok := g.Body("1")
	assert.False(t, ok)
	assert.Empty(t, g.Headers())
}

func TestGroupFetch(t *testing.T) {
	header := "Subject: hi\r\nFrom: Ann <ann@example.org>\r\n\r\n"
	lines := []string{
		"* 2 EXISTS",
		"* 1 FETCH (UID 10 FLAGS ())",
		"* 2 FETCH (UID 11 FLAGS (\\Seen))",
		"* 1 FETCH (BODY[HEADER.FIELDS (SUBJECT FROM)] {" + strconv.Itoa(len(header)) + "}\r\n" + header + ")",
		"* 2 FETCH (BODY[1]<0> {5}\r\nhello)",
		"A4 OK FETCH completed",
	}
	groups := GroupFetch(lines)
	require.Len(t, groups, 2)

	assert.Equal(t, "10", groups[0].UID())
	assert.Equal(t, "hi", groups[0].Headers()["Subject"])
	assert.Equal(t, "Ann <ann@example.org>", groups[0].Headers()["From"])

	assert.Equal(t, "11", groups[1].UID())
	body, ok := groups[1].Body("1")
	require.True(t, ok)
	assert.Equal(t, "hello", string(body))
}

func TestGroup_Header(t *testing.T) {
	raw := "Subject: =?UTF-8?Q?caf=C3=A9?=\r\nMessage-ID: <a@b>\r\nX-Spam: yes\r\nX-Spam: no\r\n\r\n"
	g, err := ParseFetch("* 1 FETCH (UID 1 BODY[HEADER] {" + strconv.Itoa(len(raw)) + "}\r\n" + raw + ")")
	require.NoError(t, err)

	h := g.Header()
	subject, err := h.Subject()
	require.NoError(t, err)
	assert.Equal(t, "café", subject)

	headers := g.Headers()
	want := map[string]string{
		"Subject":    "café",
		"Message-Id": "<a@b>",
		"X-Spam":     "yes",
	}
	if !reflect.DeepEqual(headers, want) {
		t.Errorf("Headers() = %v, want %v", headers, want)
	}
}

func TestParseHeader_unterminated(t *testing.T) {
	h := ParseHeader([]byte("Subject: no blank line"))
	assert.Equal(t, "no blank line", h.Get("Subject"))
	empty := ParseHeader(nil)
	assert.Equal(t, "", empty.Get("Subject"))
}
