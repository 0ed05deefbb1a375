package imapwire

import (
	"bufio"
	"io"
	"strings"
	"testing"
)

func TestReader_ReadLine(t *testing.T) {
	raw := "* 1 EXISTS\r\n" +
		"* 2 FETCH (UID 42 BODY[1] {7}\r\nhi\r\nyou FLAGS (\\Seen))\r\n" +
		"A1 OK done\r\n"
	r := NewReader(bufio.NewReader(strings.NewReader(raw)))

	want := []string{
		"* 1 EXISTS",
		"* 2 FETCH (UID 42 BODY[1] {7}\r\nhi\r\nyou FLAGS (\\Seen))",
		"A1 OK done",
	}
	for _, w := range want {
		line, err := r.ReadLine()
		if err != nil {
			t.Fatalf("ReadLine() = %v", err)
		}
		if line != w {
			t.Errorf("ReadLine() = %q, want %q", line, w)
		}
	}
	if _, err := r.ReadLine(); err != io.EOF {
		t.Errorf("ReadLine() at end = %v, want EOF", err)
	}
}

func TestReader_truncatedLiteral(t *testing.T) {
	r := NewReader(bufio.NewReader(strings.NewReader("* 1 FETCH (BODY[] {10}\r\nabc")))
	if _, err := r.ReadLine(); err != io.ErrUnexpectedEOF {
		t.Errorf("ReadLine() = %v, want %v", err, io.ErrUnexpectedEOF)
	}
}

func TestReader_maxLiteralSize(t *testing.T) {
	r := NewReader(bufio.NewReader(strings.NewReader("* 1 FETCH (BODY[] {10}\r\n0123456789)\r\n")))
	r.MaxLiteralSize = 5
	if _, err := r.ReadLine(); err == nil {
		t.Error("ReadLine() succeeded with an oversized literal")
	}
}

func TestLiteralSize(t *testing.T) {
	tests := []struct {
		line string
		size int64
		ok   bool
	}{
		{"A1 LOGIN {5}", 5, true},
		{"A1 APPEND INBOX {12+}", 12, true},
		{"A1 APPEND INBOX {3-}", 3, true},
		{"* OK ready", 0, false},
		{"* OK {}", 0, false},
		{"* OK {1a}", 0, false},
	}
	for _, test := range tests {
		size, ok := LiteralSize(test.line)
		if size != test.size || ok != test.ok {
			t.Errorf("LiteralSize(%q) = %v, %v, want %v, %v", test.line, size, ok, test.size, test.ok)
		}
	}
}
