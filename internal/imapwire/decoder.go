package imapwire

import (
	"fmt"
	"strconv"
	"strings"
)

// A Decoder reads IMAP data from a logical line returned by Reader.ReadLine.
//
// Methods returning a bool don't consume input when they return false. Expect
// variants record an error instead; Err reports the first one.
type Decoder struct {
	s   string
	pos int
	err error
}

// NewDecoder creates a decoder for a logical line.
func NewDecoder(line string) *Decoder {
	return &Decoder{s: line}
}

func (dec *Decoder) Err() error {
	return dec.err
}

func (dec *Decoder) returnErr(err error) bool {
	if err == nil {
		return true
	}
	if dec.err == nil {
		dec.err = err
	}
	return false
}

func (dec *Decoder) peek() (byte, bool) {
	if dec.pos >= len(dec.s) {
		return 0, false
	}
	return dec.s[dec.pos], true
}

func (dec *Decoder) acceptByte(want byte) bool {
	if b, ok := dec.peek(); ok && b == want {
		dec.pos++
		return true
	}
	return false
}

// EOF reports whether the whole line has been consumed.
func (dec *Decoder) EOF() bool {
	return dec.pos >= len(dec.s)
}

// Rest returns the unconsumed part of the line and consumes it.
func (dec *Decoder) Rest() string {
	s := dec.s[dec.pos:]
	dec.pos = len(dec.s)
	return s
}

func (dec *Decoder) Expect(ok bool, name string) bool {
	if !ok {
		err := fmt.Errorf("imapwire: expected %v", name)
		if b, more := dec.peek(); more {
			err = fmt.Errorf("%v, got %q", err, string(b))
		}
		return dec.returnErr(err)
	}
	return true
}

func (dec *Decoder) SP() bool {
	return dec.acceptByte(' ')
}

func (dec *Decoder) ExpectSP() bool {
	return dec.Expect(dec.SP(), "SP")
}

func (dec *Decoder) Special(b byte) bool {
	return dec.acceptByte(b)
}

func (dec *Decoder) ExpectSpecial(b byte) bool {
	return dec.Expect(dec.Special(b), fmt.Sprintf("'%v'", string(b)))
}

// Atom reads an atom. A leading backslash is accepted so that flags and
// mailbox attributes ("\Seen", "\*") decode as atoms.
func (dec *Decoder) Atom(ptr *string) bool {
	start := dec.pos
	if dec.acceptByte('\\') {
		if dec.acceptByte('*') {
			*ptr = dec.s[start:dec.pos]
			return true
		}
	}
	for dec.pos < len(dec.s) && isValueAtomChar(dec.s[dec.pos]) {
		dec.pos++
	}
	if dec.pos == start || dec.s[start:dec.pos] == "\\" {
		dec.pos = start
		return false
	}
	*ptr = dec.s[start:dec.pos]
	return true
}

func (dec *Decoder) ExpectAtom(ptr *string) bool {
	return dec.Expect(dec.Atom(ptr), "atom")
}

// isValueAtomChar is IsAtomChar relaxed for what servers actually send in
// data items: "]" and "%" and "*" appear in unquoted mailbox names.
func isValueAtomChar(ch byte) bool {
	switch ch {
	case '(', ')', '{', ' ', '"', '\\':
		return false
	default:
		return ch > 0x1f && ch < 0x7f || ch >= 0x80
	}
}

// Text reads the rest of the line.
func (dec *Decoder) Text(ptr *string) bool {
	if dec.EOF() {
		return false
	}
	*ptr = dec.Rest()
	return true
}

func (dec *Decoder) ExpectText(ptr *string) bool {
	return dec.Expect(dec.Text(ptr), "text")
}

// Skip advances until untilCh, which is not consumed.
func (dec *Decoder) Skip(untilCh byte) {
	if i := strings.IndexByte(dec.s[dec.pos:], untilCh); i >= 0 {
		dec.pos += i
	} else {
		dec.pos = len(dec.s)
	}
}

// Until reads up to untilCh, which is not consumed.
func (dec *Decoder) Until(untilCh byte) string {
	start := dec.pos
	dec.Skip(untilCh)
	return dec.s[start:dec.pos]
}

func (dec *Decoder) Number64() (v int64, ok bool) {
	start := dec.pos
	for dec.pos < len(dec.s) && '0' <= dec.s[dec.pos] && dec.s[dec.pos] <= '9' {
		dec.pos++
	}
	if dec.pos == start {
		return 0, false
	}
	v, err := strconv.ParseInt(dec.s[start:dec.pos], 10, 64)
	if err != nil {
		dec.pos = start
		return 0, dec.returnErr(err)
	}
	return v, true
}

func (dec *Decoder) ExpectNumber64() (v int64, ok bool) {
	v, ok = dec.Number64()
	dec.Expect(ok, "number64")
	return v, ok
}

func (dec *Decoder) Number() (v uint32, ok bool) {
	start := dec.pos
	n, ok := dec.Number64()
	if !ok || n < 0 || n > 0xffffffff {
		dec.pos = start
		return 0, false
	}
	return uint32(n), true
}

func (dec *Decoder) ExpectNumber() (v uint32, ok bool) {
	v, ok = dec.Number()
	dec.Expect(ok, "number")
	return v, ok
}

// Quoted reads a quoted string.
func (dec *Decoder) Quoted(ptr *string) bool {
	start := dec.pos
	if !dec.acceptByte('"') {
		return false
	}
	var sb strings.Builder
	for dec.pos < len(dec.s) {
		ch := dec.s[dec.pos]
		dec.pos++
		switch ch {
		case '"':
			*ptr = sb.String()
			return true
		case '\\':
			if dec.pos < len(dec.s) {
				ch = dec.s[dec.pos]
				dec.pos++
			}
		case '\r', '\n':
			dec.pos = start
			return dec.returnErr(fmt.Errorf("imapwire: CR or LF in quoted string"))
		}
		sb.WriteByte(ch)
	}
	dec.pos = start
	return dec.returnErr(fmt.Errorf("imapwire: unterminated quoted string"))
}

// Literal reads a literal inlined by Reader.ReadLine.
func (dec *Decoder) Literal(ptr *string) bool {
	start := dec.pos
	if !dec.acceptByte('{') {
		return false
	}
	size, ok := dec.Number64()
	if !ok {
		dec.pos = start
		return false
	}
	if !dec.acceptByte('+') {
		dec.acceptByte('-')
	}
	if !dec.acceptByte('}') || !dec.acceptByte('\r') || !dec.acceptByte('\n') {
		dec.pos = start
		return dec.returnErr(fmt.Errorf("imapwire: malformed literal"))
	}
	if int64(len(dec.s)-dec.pos) < size {
		dec.pos = start
		return dec.returnErr(fmt.Errorf("imapwire: truncated literal"))
	}
	*ptr = dec.s[dec.pos : dec.pos+int(size)]
	dec.pos += int(size)
	return true
}

// String reads a quoted string or a literal.
func (dec *Decoder) String(ptr *string) bool {
	return dec.Quoted(ptr) || dec.Literal(ptr)
}

// AString reads an atom, a quoted string or a literal.
func (dec *Decoder) AString(ptr *string) bool {
	return dec.String(ptr) || dec.Atom(ptr)
}

func (dec *Decoder) ExpectAString(ptr *string) bool {
	return dec.Expect(dec.AString(ptr), "astring")
}

// List reads a parenthesized list, calling f for each item.
func (dec *Decoder) List(f func() error) (isList bool, err error) {
	if !dec.Special('(') {
		return false, nil
	}
	if dec.Special(')') {
		return true, nil
	}
	for {
		if err := f(); err != nil {
			return true, err
		}
		if dec.Special(')') {
			return true, nil
		}
		if !dec.ExpectSP() {
			return true, dec.Err()
		}
	}
}

func (dec *Decoder) ExpectList(f func() error) error {
	isList, err := dec.List(f)
	if err != nil {
		return err
	} else if !dec.Expect(isList, "(") {
		return dec.Err()
	}
	return nil
}

// FetchItemName reads a FETCH data item name, including a section
// ("BODY[1.2]", "BODY[HEADER.FIELDS (FROM)]") and a partial origin
// ("<0>"). The result is upper-cased.
func (dec *Decoder) FetchItemName(ptr *string) bool {
	start := dec.pos
	for dec.pos < len(dec.s) {
		ch := dec.s[dec.pos]
		if ch == '.' || ch == '-' || ch == '_' || 'A' <= ch && ch <= 'Z' || 'a' <= ch && ch <= 'z' || '0' <= ch && ch <= '9' {
			dec.pos++
			continue
		}
		break
	}
	if dec.pos == start {
		return false
	}
	if dec.acceptByte('[') {
		if i := strings.IndexByte(dec.s[dec.pos:], ']'); i >= 0 {
			dec.pos += i + 1
		} else {
			dec.pos = start
			return dec.returnErr(fmt.Errorf("imapwire: unterminated section"))
		}
		if dec.acceptByte('<') {
			dec.Skip('>')
			dec.acceptByte('>')
		}
	}
	*ptr = strings.ToUpper(dec.s[start:dec.pos])
	return true
}

// Value reads any value: NIL, an atom, a number, a string or a nested list.
func (dec *Decoder) Value() (Value, bool) {
	var s string
	switch {
	case dec.String(&s):
		return Value{Kind: KindString, Str: s}, true
	case dec.Atom(&s):
		if strings.EqualFold(s, "NIL") {
			return Value{Kind: KindNil}, true
		}
		return Value{Kind: KindAtom, Str: s}, true
	}

	start := dec.pos
	var items []Value
	isList, err := dec.List(func() error {
		v, ok := dec.Value()
		if !ok {
			if dec.err != nil {
				return dec.err
			}
			return fmt.Errorf("imapwire: expected value at offset %v", dec.pos)
		}
		items = append(items, v)
		return nil
	})
	if err != nil {
		dec.returnErr(err)
		dec.pos = start
		return Value{}, false
	}
	if !isList {
		return Value{}, false
	}
	if items == nil {
		items = []Value{}
	}
	return Value{Kind: KindList, List: items}, true
}

func (dec *Decoder) ExpectValue() (Value, bool) {
	v, ok := dec.Value()
	dec.Expect(ok, "value")
	return v, ok
}
