package imapwire

import (
	"strconv"
	"strings"
)

// ValueKind is the kind of a decoded Value.
type ValueKind int

const (
	KindNil ValueKind = iota
	KindAtom
	KindString
	KindList
)

// Value is a generic IMAP data value. Atoms and strings carry Str, lists
// carry List.
type Value struct {
	Kind ValueKind
	Str  string
	List []Value
}

// String returns the atom or string value, or "" for NIL and lists.
func (v Value) String() string {
	if v.Kind == KindAtom || v.Kind == KindString {
		return v.Str
	}
	return ""
}

// IsList reports whether v is a parenthesized list.
func (v Value) IsList() bool {
	return v.Kind == KindList
}

// IsNil reports whether v is NIL.
func (v Value) IsNil() bool {
	return v.Kind == KindNil
}

// Number returns the value as a number.
func (v Value) Number() (int64, bool) {
	if v.Kind != KindAtom {
		return 0, false
	}
	n, err := strconv.ParseInt(v.Str, 10, 64)
	return n, err == nil
}

// Index returns the i-th list item, or NIL when out of range.
func (v Value) Index(i int) Value {
	if v.Kind != KindList || i < 0 || i >= len(v.List) {
		return Value{Kind: KindNil}
	}
	return v.List[i]
}

// Flatten returns every atom and string of v, depth first.
func (v Value) Flatten() []string {
	var out []string
	var walk func(Value)
	walk = func(v Value) {
		switch v.Kind {
		case KindAtom, KindString:
			out = append(out, v.Str)
		case KindList:
			for _, item := range v.List {
				walk(item)
			}
		}
	}
	walk(v)
	return out
}

// Strings returns the string items of a flat list.
func (v Value) Strings() []string {
	if v.Kind != KindList {
		return nil
	}
	out := make([]string, 0, len(v.List))
	for _, item := range v.List {
		if item.Kind == KindAtom || item.Kind == KindString {
			out = append(out, item.Str)
		}
	}
	return out
}

// Params decodes a body parameter list ("NAME" "a.pdf" ...) into a map with
// lower-cased keys.
func (v Value) Params() map[string]string {
	if v.Kind != KindList {
		return nil
	}
	params := make(map[string]string, len(v.List)/2)
	for i := 0; i+1 < len(v.List); i += 2 {
		params[strings.ToLower(v.List[i].String())] = v.List[i+1].String()
	}
	return params
}

// Format renders v back into IMAP syntax. Strings are always quoted unless
// they need a literal.
func (v Value) Format() string {
	var sb strings.Builder
	v.format(&sb)
	return sb.String()
}

func (v Value) format(sb *strings.Builder) {
	switch v.Kind {
	case KindNil:
		sb.WriteString("NIL")
	case KindAtom:
		sb.WriteString(v.Str)
	case KindString:
		if strings.ContainsAny(v.Str, "\r\n\x00") {
			sb.WriteString("{")
			sb.WriteString(strconv.Itoa(len(v.Str)))
			sb.WriteString("}\r\n")
			sb.WriteString(v.Str)
			return
		}
		sb.WriteByte('"')
		for i := 0; i < len(v.Str); i++ {
			if v.Str[i] == '"' || v.Str[i] == '\\' {
				sb.WriteByte('\\')
			}
			sb.WriteByte(v.Str[i])
		}
		sb.WriteByte('"')
	case KindList:
		sb.WriteByte('(')
		for i, item := range v.List {
			if i > 0 {
				sb.WriteByte(' ')
			}
			item.format(sb)
		}
		sb.WriteByte(')')
	}
}

// Helpers to build values, mostly for servers and tests.

func Nil() Value { return Value{Kind: KindNil} }
func Atom(s string) Value { return Value{Kind: KindAtom, Str: s} }
func Str(s string) Value { return Value{Kind: KindString, Str: s} }
func List(items ...Value) Value { return Value{Kind: KindList, List: append([]Value{}, items...)} }
func Num(n int64) Value { return Atom(strconv.FormatInt(n, 10)) }
func NStr(s string) Value {
	if s == "" {
		return Nil()
	}
	return Str(s)
}
