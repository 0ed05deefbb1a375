// Package utf7 implements the modified UTF-7 encoding defined in RFC 3501
// section 5.1.3, used for mailbox names.
package utf7

import (
	"encoding/base64"
	"errors"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

const (
	min = 0x20 // Minimum self-representing UTF-7 value
	max = 0x7E // Maximum self-representing UTF-7 value

	repl = '\uFFFD' // Unicode replacement code point
)

var b64 = base64.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+,").
	WithPadding(base64.NoPadding).
	Strict()

// ErrInvalidUTF7 is returned by the decoder for malformed input.
var ErrInvalidUTF7 = errors.New("utf7: invalid UTF-7")

type modifiedUTF7 struct{}

// Encoding is the modified UTF-7 encoding. Its decoder converts to UTF-8, its
// encoder from UTF-8.
var Encoding encoding.Encoding = modifiedUTF7{}

func (modifiedUTF7) NewDecoder() *encoding.Decoder {
	return &encoding.Decoder{Transformer: &decoder{}}
}

func (modifiedUTF7) NewEncoder() *encoding.Encoder {
	return &encoding.Encoder{Transformer: &encoder{}}
}

// Encode returns the modified UTF-7 form of a UTF-8 mailbox name.
func Encode(s string) string {
	out, err := Encoding.NewEncoder().String(s)
	if err != nil {
		// The encoder replaces invalid UTF-8, it never fails.
		panic(err)
	}
	return out
}

// Decode returns the UTF-8 form of a modified UTF-7 mailbox name.
func Decode(s string) (string, error) {
	return Encoding.NewDecoder().String(s)
}

type decoder struct {
	// afterShift is set when the last output came from a base64 section.
	afterShift bool
}

func (d *decoder) Reset() {
	d.afterShift = false
}

func isBase64Char(ch byte) bool {
	switch {
	case 'A' <= ch && ch <= 'Z', 'a' <= ch && ch <= 'z', '0' <= ch && ch <= '9':
		return true
	case ch == '+', ch == ',':
		return true
	}
	return false
}

func (d *decoder) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		ch := src[nSrc]
		if ch < min || ch > max {
			return nDst, nSrc, ErrInvalidUTF7
		}
		if ch != '&' {
			if nDst >= len(dst) {
				return nDst, nSrc, transform.ErrShortDst
			}
			dst[nDst] = ch
			nDst++
			nSrc++
			d.afterShift = false
			continue
		}

		end := -1
		for i := nSrc + 1; i < len(src); i++ {
			if src[i] == '-' {
				end = i
				break
			}
			if !isBase64Char(src[i]) {
				return nDst, nSrc, ErrInvalidUTF7
			}
		}
		if end < 0 {
			if atEOF {
				return nDst, nSrc, ErrInvalidUTF7
			}
			return nDst, nSrc, transform.ErrShortSrc
		}

		if end == nSrc+1 {
			// "&-" is a literal ampersand
			if nDst >= len(dst) {
				return nDst, nSrc, transform.ErrShortDst
			}
			dst[nDst] = '&'
			nDst++
			nSrc = end + 1
			d.afterShift = false
			continue
		}

		if d.afterShift {
			// Two adjacent base64 sections must be a single one
			return nDst, nSrc, ErrInvalidUTF7
		}
		out, ok := decodeShifted(src[nSrc+1 : end])
		if !ok {
			return nDst, nSrc, ErrInvalidUTF7
		}
		if len(dst)-nDst < len(out) {
			return nDst, nSrc, transform.ErrShortDst
		}
		nDst += copy(dst[nDst:], out)
		nSrc = end + 1
		d.afterShift = true
	}
	return nDst, nSrc, nil
}

// decodeShifted decodes the base64 UTF-16BE payload of a shifted section to
// UTF-8.
func decodeShifted(b []byte) ([]byte, bool) {
	raw := make([]byte, b64.DecodedLen(len(b)))
	n, err := b64.Decode(raw, b)
	if err != nil || n%2 != 0 || n == 0 {
		return nil, false
	}
	raw = raw[:n]

	units := make([]uint16, 0, n/2)
	for i := 0; i < n; i += 2 {
		units = append(units, uint16(raw[i])<<8|uint16(raw[i+1]))
	}

	var out []byte
	for i := 0; i < len(units); i++ {
		u := rune(units[i])
		switch {
		case utf16.IsSurrogate(u):
			if i+1 >= len(units) {
				return nil, false
			}
			r := utf16.DecodeRune(u, rune(units[i+1]))
			if r == repl {
				return nil, false
			}
			out = utf8.AppendRune(out, r)
			i++
		case min <= u && u <= max:
			// Printable ASCII must not be shifted
			return nil, false
		default:
			out = utf8.AppendRune(out, u)
		}
	}
	return out, true
}

type encoder struct{}

func (e *encoder) Reset() {}

func (e *encoder) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		ch := src[nSrc]
		if min <= ch && ch <= max {
			out := []byte{ch}
			if ch == '&' {
				out = []byte{'&', '-'}
			}
			if len(dst)-nDst < len(out) {
				return nDst, nSrc, transform.ErrShortDst
			}
			nDst += copy(dst[nDst:], out)
			nSrc++
			continue
		}

		// Collect the run of characters which need shifting
		end := nSrc
		short := !atEOF
		var units []uint16
		for end < len(src) {
			c := src[end]
			if min <= c && c <= max {
				short = false
				break
			}
			r, size := utf8.DecodeRune(src[end:])
			if r == utf8.RuneError && size <= 1 {
				if !atEOF && !utf8.FullRune(src[end:]) {
					break
				}
				r = repl
				size = 1
			}
			units = utf16.AppendRune(units, r)
			end += size
		}
		if short {
			// The run may continue in the next chunk
			return nDst, nSrc, transform.ErrShortSrc
		}

		raw := make([]byte, 0, 2*len(units))
		for _, u := range units {
			raw = append(raw, byte(u>>8), byte(u))
		}
		out := make([]byte, 0, b64.EncodedLen(len(raw))+2)
		out = append(out, '&')
		out = b64.AppendEncode(out, raw)
		out = append(out, '-')
		if len(dst)-nDst < len(out) {
			return nDst, nSrc, transform.ErrShortDst
		}
		nDst += copy(dst[nDst:], out)
		nSrc = end
	}
	return nDst, nSrc, nil
}
