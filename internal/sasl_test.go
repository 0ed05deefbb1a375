package internal

import (
	"bytes"
	"testing"
)

func TestSASLEncoding(t *testing.T) {
	if s := EncodeSASL(nil); s != "=" {
		t.Errorf("EncodeSASL(nil) = %q", s)
	}
	b, err := DecodeSASL("=")
	if err != nil || b == nil || len(b) != 0 {
		t.Errorf("DecodeSASL(=) = %v, %v", b, err)
	}
	b, err = DecodeSASL(EncodeSASL([]byte("\x00user\x00pass")))
	if err != nil || !bytes.Equal(b, []byte("\x00user\x00pass")) {
		t.Errorf("DecodeSASL(EncodeSASL()) = %q, %v", b, err)
	}
	if _, err := DecodeSASL("!!"); err == nil {
		t.Errorf("DecodeSASL(!!) succeeded")
	}
}

func TestXOAuth2(t *testing.T) {
	mech, ir, err := NewXOAuth2Client("user@example.org", "ya29.token").Start()
	if err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if mech != XOAuth2 {
		t.Errorf("mech = %v", mech)
	}
	if want := "user=user@example.org\x01auth=Bearer ya29.token\x01\x01"; string(ir) != want {
		t.Errorf("initial response = %q, want %q", ir, want)
	}

	username, token, err := ParseXOAuth2Response(ir)
	if err != nil || username != "user@example.org" || token != "ya29.token" {
		t.Errorf("ParseXOAuth2Response() = %q, %q, %v", username, token, err)
	}
	if _, _, err := ParseXOAuth2Response([]byte("user=a\x01\x01")); err == nil {
		t.Errorf("ParseXOAuth2Response(no token) succeeded")
	}
}
