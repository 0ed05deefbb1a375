// Package internal holds helpers shared by the client and the test server.
package internal

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/emersion/go-sasl"
)

// EncodeSASL encodes a SASL response for the wire. An empty response is "=".
func EncodeSASL(b []byte) string {
	if len(b) == 0 {
		return "="
	}
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeSASL decodes a SASL challenge or response.
func DecodeSASL(s string) ([]byte, error) {
	if s == "=" || s == "" {
		// go-sasl treats nil as no challenge/response, so return a non-nil
		// empty byte slice
		return []byte{}, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

// XOAuth2 is the mechanism name of Google's OAuth 2.0 SASL profile.
const XOAuth2 = "XOAUTH2"

type xoauth2Client struct {
	username string
	token    string
}

func (c *xoauth2Client) Start() (mech string, ir []byte, err error) {
	return XOAuth2, XOAuth2Response(c.username, c.token), nil
}

// Next answers the error challenge with an empty response, after which the
// server fails the exchange.
func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	return []byte{}, nil
}

// NewXOAuth2Client returns a client for the XOAUTH2 mechanism, described in
// https://developers.google.com/gmail/imap/xoauth2-protocol.
func NewXOAuth2Client(username, token string) sasl.Client {
	return &xoauth2Client{username, token}
}

// XOAuth2Response formats the XOAUTH2 initial response.
func XOAuth2Response(username, token string) []byte {
	return []byte("user=" + username + "\x01auth=Bearer " + token + "\x01\x01")
}

// ParseXOAuth2Response parses an XOAUTH2 initial response.
func ParseXOAuth2Response(b []byte) (username, token string, err error) {
	for _, field := range strings.Split(string(b), "\x01") {
		k, v, _ := strings.Cut(field, "=")
		switch k {
		case "user":
			username = v
		case "auth":
			token, _ = strings.CutPrefix(v, "Bearer ")
		}
	}
	if username == "" || token == "" {
		return "", "", errors.New("malformed XOAUTH2 response")
	}
	return username, token, nil
}
