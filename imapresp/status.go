// Package imapresp parses IMAP server responses into mail data: FETCH
// groups, BODYSTRUCTURE part trees, folder lists and status lines.
//
// Accessors never fail on missing data, they return zero values. Decoding of
// bodies and headers is lenient and falls back to best-effort text.
package imapresp

import (
	"strconv"
	"strings"

	"github.com/mailpulse/mailpulse"
)

// Status is a status response line, tagged or untagged ("*").
type Status struct {
	Tag string
	mailpulse.StatusResponse
}

// ParseStatus parses "<tag> OK|NO|BAD|PREAUTH|BYE [code args] text".
func ParseStatus(line string) (*Status, bool) {
	tag, rest, ok := strings.Cut(line, " ")
	if !ok || tag == "" || tag == "+" {
		return nil, false
	}
	typ, rest, _ := strings.Cut(rest, " ")
	switch t := mailpulse.StatusResponseType(strings.ToUpper(typ)); t {
	case mailpulse.StatusResponseTypeOK, mailpulse.StatusResponseTypeNo, mailpulse.StatusResponseTypeBad,
		mailpulse.StatusResponseTypePreAuth, mailpulse.StatusResponseTypeBye:
		st := &Status{Tag: tag}
		st.Type = t
		st.Code, st.CodeArg, st.Text = parseCode(rest)
		return st, true
	}
	return nil, false
}

// parseCode splits "[CODE arg] text".
func parseCode(s string) (code mailpulse.ResponseCode, arg, text string) {
	if !strings.HasPrefix(s, "[") {
		return "", "", s
	}
	end := strings.IndexByte(s, ']')
	if end < 0 {
		return "", "", s
	}
	inner := s[1:end]
	name, arg, _ := strings.Cut(inner, " ")
	return mailpulse.ResponseCode(strings.ToUpper(name)), arg, strings.TrimPrefix(s[end+1:], " ")
}

// Untagged splits an untagged data line ("* 3 EXISTS", "* SEARCH 1 2") into
// its optional leading number, its upper-cased name and the rest.
func Untagged(line string) (num uint32, hasNum bool, name, rest string, ok bool) {
	if !strings.HasPrefix(line, "* ") {
		return 0, false, "", "", false
	}
	line = line[2:]
	first, after, _ := strings.Cut(line, " ")
	if n, err := strconv.ParseUint(first, 10, 32); err == nil {
		num, hasNum = uint32(n), true
		first, after, _ = strings.Cut(after, " ")
	}
	return num, hasNum, strings.ToUpper(first), after, first != ""
}

// ExistsCount returns the message count of an EXISTS push.
func ExistsCount(line string) (uint32, bool) {
	num, hasNum, name, _, ok := Untagged(line)
	if !ok || !hasNum || name != "EXISTS" {
		return 0, false
	}
	return num, true
}

// ExpungeSeq returns the sequence number of an EXPUNGE push.
func ExpungeSeq(line string) (uint32, bool) {
	num, hasNum, name, _, ok := Untagged(line)
	if !ok || !hasNum || name != "EXPUNGE" {
		return 0, false
	}
	return num, true
}

// Capabilities parses a CAPABILITY data line or response code argument.
func Capabilities(s string) map[string]bool {
	s = strings.TrimPrefix(s, "* CAPABILITY ")
	caps := make(map[string]bool)
	for _, c := range strings.Fields(s) {
		caps[strings.ToUpper(c)] = true
	}
	return caps
}

// CopyUID parses the argument of a COPYUID response code (RFC 4315):
// "<uidvalidity> <source set> <destination set>".
func CopyUID(arg string) (uidValidity uint32, src, dst []uint32, ok bool) {
	fields := strings.Fields(arg)
	if len(fields) != 3 {
		return 0, nil, nil, false
	}
	v, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0, nil, nil, false
	}
	if src, err = mailpulse.ExpandUIDSet(fields[1]); err != nil {
		return 0, nil, nil, false
	}
	if dst, err = mailpulse.ExpandUIDSet(fields[2]); err != nil || len(dst) != len(src) {
		return 0, nil, nil, false
	}
	return uint32(v), src, dst, true
}

// SearchUIDs collects the numbers of "* SEARCH" lines.
func SearchUIDs(lines []string) []uint32 {
	var uids []uint32
	for _, line := range lines {
		_, _, name, rest, ok := Untagged(line)
		if !ok || name != "SEARCH" {
			continue
		}
		uids = append(uids, mailpulse.ParseUIDs(strings.Fields(rest))...)
	}
	return uids
}
