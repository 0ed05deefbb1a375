package imaptest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/mailpulse/mailpulse"
	"github.com/mailpulse/mailpulse/internal/imapwire"
)

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

type matcher func(seqNum uint32, msg *message, max uint32) bool

// parseSearch compiles a list of search keys, implicitly ANDed. A leading
// CHARSET argument is skipped.
func parseSearch(keys []imapwire.Value) (matcher, error) {
	if len(keys) >= 2 && strings.EqualFold(keys[0].String(), "CHARSET") {
		keys = keys[2:]
	}
	p := &searchParser{keys: keys}
	var all []matcher
	for !p.done() {
		m, err := p.key()
		if err != nil {
			return nil, err
		}
		all = append(all, m)
	}
	return and(all), nil
}

func and(all []matcher) matcher {
	return func(seqNum uint32, msg *message, max uint32) bool {
		for _, m := range all {
			if !m(seqNum, msg, max) {
				return false
			}
		}
		return true
	}
}

type searchParser struct {
	keys []imapwire.Value
	pos  int
}

func (p *searchParser) done() bool {
	return p.pos >= len(p.keys)
}

func (p *searchParser) next() (imapwire.Value, error) {
	if p.done() {
		return imapwire.Value{}, fmt.Errorf("unexpected end of search keys")
	}
	v := p.keys[p.pos]
	p.pos++
	return v, nil
}

func (p *searchParser) arg() (string, error) {
	v, err := p.next()
	if err != nil {
		return "", err
	}
	if v.IsList() {
		return "", fmt.Errorf("expected string, got list")
	}
	return v.String(), nil
}

func (p *searchParser) date() (time.Time, error) {
	s, err := p.arg()
	if err != nil {
		return time.Time{}, err
	}
	return mailpulse.ParseDate(s)
}

func (p *searchParser) key() (matcher, error) {
	v, err := p.next()
	if err != nil {
		return nil, err
	}
	if v.IsList() {
		sub, err := parseSearch(v.List)
		if err != nil {
			return nil, err
		}
		return sub, nil
	}

	name := strings.ToUpper(v.String())
	switch name {
	case "ALL":
		return func(uint32, *message, uint32) bool { return true }, nil
	case "NOT":
		m, err := p.key()
		if err != nil {
			return nil, err
		}
		return func(seqNum uint32, msg *message, max uint32) bool { return !m(seqNum, msg, max) }, nil
	case "OR":
		left, err := p.key()
		if err != nil {
			return nil, err
		}
		right, err := p.key()
		if err != nil {
			return nil, err
		}
		return func(seqNum uint32, msg *message, max uint32) bool {
			return left(seqNum, msg, max) || right(seqNum, msg, max)
		}, nil
	case "FROM", "TO", "CC", "BCC", "SUBJECT":
		value, err := p.arg()
		if err != nil {
			return nil, err
		}
		return headerMatcher(name, value), nil
	case "HEADER":
		field, err := p.arg()
		if err != nil {
			return nil, err
		}
		value, err := p.arg()
		if err != nil {
			return nil, err
		}
		return headerMatcher(field, value), nil
	case "BODY":
		value, err := p.arg()
		if err != nil {
			return nil, err
		}
		return func(_ uint32, msg *message, _ uint32) bool {
			return matchBytes(msg.body(), value)
		}, nil
	case "TEXT":
		value, err := p.arg()
		if err != nil {
			return nil, err
		}
		return func(_ uint32, msg *message, _ uint32) bool {
			return matchBytes(msg.buf, value)
		}, nil
	case "SINCE", "BEFORE", "ON":
		t, err := p.date()
		if err != nil {
			return nil, err
		}
		return func(_ uint32, msg *message, _ uint32) bool {
			return matchDate(name, msg.t, t)
		}, nil
	case "SENTSINCE", "SENTBEFORE", "SENTON":
		t, err := p.date()
		if err != nil {
			return nil, err
		}
		return func(_ uint32, msg *message, _ uint32) bool {
			h := msg.mailHeader()
			sent, err := h.Date()
			return err == nil && matchDate(strings.TrimPrefix(name, "SENT"), sent, t)
		}, nil
	case "SEEN", "ANSWERED", "FLAGGED", "DELETED", "DRAFT":
		flag := `\` + name
		return func(_ uint32, msg *message, _ uint32) bool { return msg.hasFlag(flag) }, nil
	case "UNSEEN", "UNANSWERED", "UNFLAGGED", "UNDELETED", "UNDRAFT":
		flag := `\` + strings.TrimPrefix(name, "UN")
		return func(_ uint32, msg *message, _ uint32) bool { return !msg.hasFlag(flag) }, nil
	case "KEYWORD", "UNKEYWORD":
		flag, err := p.arg()
		if err != nil {
			return nil, err
		}
		want := name == "KEYWORD"
		return func(_ uint32, msg *message, _ uint32) bool { return msg.hasFlag(flag) == want }, nil
	case "LARGER", "SMALLER":
		s, err := p.arg()
		if err != nil {
			return nil, err
		}
		var n int64
		if _, err := fmt.Sscan(s, &n); err != nil {
			return nil, fmt.Errorf("bad size %q", s)
		}
		return func(_ uint32, msg *message, _ uint32) bool {
			if name == "LARGER" {
				return int64(len(msg.buf)) > n
			}
			return int64(len(msg.buf)) < n
		}, nil
	case "UID":
		set, err := p.arg()
		if err != nil {
			return nil, err
		}
		return func(_ uint32, msg *message, max uint32) bool {
			return uidSetContains(set, msg.uid, max)
		}, nil
	}

	if mailpulse.CheckSeqSet(v.String()) == nil {
		set := v.String()
		return func(seqNum uint32, _ *message, _ uint32) bool {
			return uidSetContains(set, seqNum, ^uint32(0))
		}, nil
	}
	return nil, fmt.Errorf("unknown search key %q", v.String())
}

func headerMatcher(field, value string) matcher {
	return func(_ uint32, msg *message, _ uint32) bool {
		h := msg.mailHeader()
		if !h.Has(field) {
			return false
		}
		if value == "" {
			return true
		}
		for _, v := range h.Values(field) {
			if decoded, err := wordDecoder.DecodeHeader(v); err == nil {
				v = decoded
			}
			if strings.Contains(strings.ToLower(v), strings.ToLower(value)) {
				return true
			}
		}
		return false
	}
}

func (msg *message) mailHeader() mail.Header {
	return mail.Header{Header: gomessage.Header{Header: msg.header()}}
}

func (msg *message) body() []byte {
	br := bufio.NewReader(bytes.NewReader(msg.buf))
	if _, err := textproto.ReadHeader(br); err != nil {
		return nil
	}
	body, _ := io.ReadAll(br)
	return body
}

// matchDate compares dates without their time and zone, as RFC 3501 requires.
func matchDate(op string, t, date time.Time) bool {
	t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	switch op {
	case "SINCE":
		return !t.Before(date)
	case "BEFORE":
		return t.Before(date)
	default:
		return t.Equal(date)
	}
}

func matchBytes(buf []byte, pattern string) bool {
	return bytes.Contains(bytes.ToLower(buf), bytes.ToLower([]byte(pattern)))
}
