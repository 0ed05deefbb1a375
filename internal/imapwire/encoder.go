package imapwire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/mailpulse/mailpulse"
	"github.com/mailpulse/mailpulse/utf7"
)

// maxQuotedLen is the longest string sent quoted; longer ones are literals.
const maxQuotedLen = 4096

var errLiteralOpen = errors.New("imapwire: cannot encode while a literal is open")

// An Encoder writes client commands.
//
// Methods don't return an error, they record the first one and report it
// from CRLF. This lets arguments be chained:
//
//	enc.Atom(tag).SP().Atom("UID MOVE").SP().SeqSet(set).SP().Mailbox(dst)
type Encoder struct {
	// QuotedUTF8 allows non-ASCII quoted strings and UTF-8 mailbox names.
	// This requires UTF8=ACCEPT to be enabled.
	QuotedUTF8 bool
	// LiteralPlus sends every literal as non-synchronizing. This requires
	// LITERAL+.
	LiteralPlus bool
	// NewContinuationRequest registers a synchronizing literal with the
	// reader. Without it, strings which need a literal fail unless
	// LiteralPlus is set.
	NewContinuationRequest func() *ContinuationRequest

	w         *bufio.Writer
	err       error
	inLiteral bool
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w *bufio.Writer) *Encoder {
	return &Encoder{w: w}
}

func (enc *Encoder) setErr(err error) {
	if enc.err == nil {
		enc.err = err
	}
}

// Err returns the first error encountered.
func (enc *Encoder) Err() error {
	return enc.err
}

func (enc *Encoder) writeString(s string) *Encoder {
	if enc.err != nil {
		return enc
	}
	if enc.inLiteral {
		enc.err = errLiteralOpen
		return enc
	}
	if _, err := enc.w.WriteString(s); err != nil {
		enc.err = err
	}
	return enc
}

// CRLF ends the line and flushes the buffered writer.
func (enc *Encoder) CRLF() error {
	enc.writeString("\r\n")
	if enc.err != nil {
		return enc.err
	}
	return enc.w.Flush()
}

// Atom writes s verbatim. Callers only pass command names and atoms.
func (enc *Encoder) Atom(s string) *Encoder {
	return enc.writeString(s)
}

// SP writes a space.
func (enc *Encoder) SP() *Encoder {
	return enc.writeString(" ")
}

// Text writes s verbatim. It is used for pre-built argument lists such as
// search keys and fetch items.
func (enc *Encoder) Text(s string) *Encoder {
	return enc.writeString(s)
}

// Quoted writes s as a quoted string, escaping quotes and backslashes.
func (enc *Encoder) Quoted(s string) *Encoder {
	var sb strings.Builder
	sb.Grow(2 + len(s))
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if ch := s[i]; ch == '"' || ch == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[i])
	}
	sb.WriteByte('"')
	return enc.writeString(sb.String())
}

// String writes s as a quoted string when possible, as a literal otherwise.
func (enc *Encoder) String(s string) *Encoder {
	if enc.canQuote(s) {
		return enc.Quoted(s)
	}
	enc.stringLiteral(s)
	return enc
}

func (enc *Encoder) canQuote(s string) bool {
	if len(s) > maxQuotedLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		switch ch := s[i]; {
		case ch == 0 || ch == '\r' || ch == '\n':
			return false
		case ch > unicode.MaxASCII && !enc.QuotedUTF8:
			return false
		}
	}
	return true
}

// Mailbox writes a mailbox name. INBOX is always sent as an atom; other names
// are encoded in modified UTF-7 unless QuotedUTF8 is set.
func (enc *Encoder) Mailbox(name string) *Encoder {
	if mailpulse.CanonicalMailboxName(name) == mailpulse.InboxName {
		return enc.Atom(mailpulse.InboxName)
	}
	if !enc.QuotedUTF8 {
		name = utf7.Encode(name)
	}
	return enc.String(name)
}

// SeqSet writes a sequence set after checking its syntax.
func (enc *Encoder) SeqSet(set string) *Encoder {
	if err := mailpulse.CheckSeqSet(set); err != nil {
		enc.setErr(err)
		return enc
	}
	return enc.writeString(set)
}

// Flags writes a parenthesized flag list.
func (enc *Encoder) Flags(flags []mailpulse.Flag) *Encoder {
	enc.writeString("(")
	for i, f := range flags {
		if i > 0 {
			enc.SP()
		}
		if !validFlag(string(f)) {
			enc.setErr(fmt.Errorf("imapwire: invalid flag %q", f))
			return enc
		}
		enc.writeString(string(f))
	}
	return enc.writeString(")")
}

// validFlag reports whether s is a flag-keyword or a backslash-prefixed
// flag-extension.
func validFlag(s string) bool {
	s = strings.TrimPrefix(s, "\\")
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !IsAtomChar(s[i]) {
			return false
		}
	}
	return true
}

func (enc *Encoder) stringLiteral(s string) {
	var sync *ContinuationRequest
	if !enc.LiteralPlus {
		if enc.NewContinuationRequest != nil {
			sync = enc.NewContinuationRequest()
		}
		if sync == nil {
			enc.setErr(errors.New("imapwire: cannot send synchronizing literal"))
			return
		}
	}
	wc := enc.literal(int64(len(s)), sync)
	_, err := io.WriteString(wc, s)
	if closeErr := wc.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		enc.setErr(err)
	}
}

// literal writes a literal header. A nil sync sends a non-synchronizing
// literal; otherwise the header is flushed and the encoder waits for the
// server's continuation request before the data.
//
// The caller must write exactly size bytes to the returned writer.
func (enc *Encoder) literal(size int64, sync *ContinuationRequest) io.WriteCloser {
	enc.writeString("{" + strconv.FormatInt(size, 10))
	if sync == nil {
		enc.writeString("+}\r\n")
	} else {
		enc.writeString("}")
		if err := enc.CRLF(); err != nil {
			return errorWriter{err}
		}
		if _, err := sync.Wait(); err != nil {
			enc.setErr(err)
			return errorWriter{err}
		}
	}
	if enc.err != nil {
		return errorWriter{enc.err}
	}

	enc.inLiteral = true
	return &literalWriter{enc: enc, n: size}
}

type errorWriter struct {
	err error
}

func (ew errorWriter) Write(b []byte) (int, error) {
	return 0, ew.err
}

func (ew errorWriter) Close() error {
	return ew.err
}

type literalWriter struct {
	enc *Encoder
	n   int64
}

func (lw *literalWriter) Write(b []byte) (int, error) {
	if int64(len(b)) > lw.n {
		return 0, errors.New("imapwire: literal overflow")
	}
	n, err := lw.enc.w.Write(b)
	lw.n -= int64(n)
	return n, err
}

func (lw *literalWriter) Close() error {
	lw.enc.inLiteral = false
	if lw.n != 0 {
		return fmt.Errorf("imapwire: literal short by %v bytes", lw.n)
	}
	return nil
}
