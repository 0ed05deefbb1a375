package imapresp

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailpulse/mailpulse"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		line string
		want *Status
	}{
		{
			line: "A1 OK [READ-WRITE] SELECT completed",
			want: &Status{Tag: "A1", StatusResponse: mailpulse.StatusResponse{
				Type: mailpulse.StatusResponseTypeOK,
				Code: mailpulse.ResponseCodeReadWrite,
				Text: "SELECT completed",
			}},
		},
		{
			line: "A2 NO [TRYCREATE] No such mailbox",
			want: &Status{Tag: "A2", StatusResponse: mailpulse.StatusResponse{
				Type: mailpulse.StatusResponseTypeNo,
				Code: mailpulse.ResponseCodeTryCreate,
				Text: "No such mailbox",
			}},
		},
		{
			line: "A3 ok [COPYUID 38505 304,319:320 3956:3958] Done",
			want: &Status{Tag: "A3", StatusResponse: mailpulse.StatusResponse{
				Type:    mailpulse.StatusResponseTypeOK,
				Code:    mailpulse.ResponseCodeCopyUID,
				CodeArg: "38505 304,319:320 3956:3958",
				Text:    "Done",
			}},
		},
		{
			line: "* BYE Autologout; idle for too long",
			want: &Status{Tag: "*", StatusResponse: mailpulse.StatusResponse{
				Type: mailpulse.StatusResponseTypeBye,
				Text: "Autologout; idle for too long",
			}},
		},
		{line: "* 3 EXISTS"},
		{line: "+ idling"},
		{line: "garbage"},
	}
	for _, test := range tests {
		got, ok := ParseStatus(test.line)
		if test.want == nil {
			if ok {
				t.Errorf("ParseStatus(%q) = %+v, want no status", test.line, got)
			}
			continue
		}
		if !ok || !reflect.DeepEqual(got, test.want) {
			t.Errorf("ParseStatus(%q) = %+v, want %+v", test.line, got, test.want)
		}
	}
}

func TestUntagged(t *testing.T) {
	num, hasNum, name, rest, ok := Untagged("* 12 fetch (UID 1)")
	require.True(t, ok)
	assert.True(t, hasNum)
	assert.EqualValues(t, 12, num)
	assert.Equal(t, "FETCH", name)
	assert.Equal(t, "(UID 1)", rest)

	_, hasNum, name, rest, ok = Untagged("* SEARCH 4 5")
	require.True(t, ok)
	assert.False(t, hasNum)
	assert.Equal(t, "SEARCH", name)
	assert.Equal(t, "4 5", rest)

	_, _, _, _, ok = Untagged("A1 OK")
	assert.False(t, ok)
}

func TestExistsCount(t *testing.T) {
	n, ok := ExistsCount("* 23 EXISTS")
	assert.True(t, ok)
	assert.EqualValues(t, 23, n)

	_, ok = ExistsCount("* 23 RECENT")
	assert.False(t, ok)

	n, ok = ExpungeSeq("* 4 EXPUNGE")
	assert.True(t, ok)
	assert.EqualValues(t, 4, n)
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities("* CAPABILITY IMAP4rev1 idle MOVE AUTH=PLAIN")
	assert.Equal(t, map[string]bool{"IMAP4REV1": true, "IDLE": true, "MOVE": true, "AUTH=PLAIN": true}, caps)
}

func TestCopyUID(t *testing.T) {
	validity, src, dst, ok := CopyUID("38505 304,319:320 3956:3958")
	require.True(t, ok)
	assert.EqualValues(t, 38505, validity)
	assert.Equal(t, []uint32{304, 319, 320}, src)
	assert.Equal(t, []uint32{3956, 3957, 3958}, dst)

	for _, arg := range []string{"", "1 2", "x 1 2", "1 1:2 5", "1 1:* 5:6"} {
		if _, _, _, ok := CopyUID(arg); ok {
			t.Errorf("CopyUID(%q) succeeded, want failure", arg)
		}
	}
}

func TestSearchUIDs(t *testing.T) {
	lines := []string{"* SEARCH 2 84 882", "* 3 EXISTS", "* SEARCH", "A1 OK"}
	assert.Equal(t, []uint32{2, 84, 882}, SearchUIDs(lines))
	assert.Empty(t, SearchUIDs(nil))
}
