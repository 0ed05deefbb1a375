package imapwire

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Reader reads logical lines: a CRLF-terminated line together with every
// literal it announces and the text following each literal. Literal data is
// kept inline, right after its "{n}\r\n" marker, so a Decoder can walk it.
type Reader struct {
	br *bufio.Reader
	// MaxLiteralSize bounds a single literal. Zero means no bound.
	MaxLiteralSize int64
}

// NewReader creates a new reader.
func NewReader(br *bufio.Reader) *Reader {
	return &Reader{br: br}
}

// ReadLine reads the next logical line, without its trailing CRLF.
func (r *Reader) ReadLine() (string, error) {
	var sb strings.Builder
	for {
		line, err := r.br.ReadString('\n')
		if err != nil {
			if err == io.EOF && (sb.Len() > 0 || line != "") {
				err = io.ErrUnexpectedEOF
			}
			return "", err
		}
		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
		sb.WriteString(line)

		size, ok := LiteralSize(line)
		if !ok {
			return sb.String(), nil
		}
		if r.MaxLiteralSize > 0 && size > r.MaxLiteralSize {
			return "", fmt.Errorf("imapwire: literal too large (%v bytes)", size)
		}
		sb.WriteString("\r\n")
		if _, err := io.CopyN(&sb, r.br, size); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return "", err
		}
	}
}

// LiteralSize parses the literal marker ending line, if any: "{n}", "{n+}"
// or "{n-}".
func LiteralSize(line string) (int64, bool) {
	if !strings.HasSuffix(line, "}") {
		return 0, false
	}
	i := strings.LastIndexByte(line, '{')
	if i < 0 {
		return 0, false
	}
	digits := strings.TrimRight(line[i+1:len(line)-1], "+-")
	if digits == "" || len(digits) > 18 {
		return 0, false
	}
	for j := 0; j < len(digits); j++ {
		if digits[j] < '0' || digits[j] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	return n, err == nil
}
