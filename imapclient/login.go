package imapclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-sasl"

	"github.com/mailpulse/mailpulse"
	"github.com/mailpulse/mailpulse/imapresp"
	"github.com/mailpulse/mailpulse/internal"
	"github.com/mailpulse/mailpulse/internal/imapwire"
)

// Login authenticates. Credentials containing non-ASCII characters are sent
// with AUTHENTICATE PLAIN, since LOGIN only carries ASCII.
//
// After authentication the capabilities are refreshed, UTF8=ACCEPT is
// enabled when available and the hierarchy delimiter is discovered.
func (c *Client) Login(ctx context.Context, username, password string) error {
	if username == "" {
		return &mailpulse.ValidationError{Field: "username", Reason: "empty"}
	}
	return c.interrupt(ctx, "LOGIN", func() error {
		var err error
		if mailpulse.IsASCII(username) && mailpulse.IsASCII(password) && !c.Has("LOGINDISABLED") {
			_, err = c.execute("LOGIN", func(enc *imapwire.Encoder) {
				enc.SP().String(username).SP().String(password)
			})
		} else {
			err = c.authenticate(sasl.NewPlainClient("", username, password))
		}
		if err != nil {
			return err
		}
		c.logger.Info().Str("username", username).Msg("logged in")
		return c.afterLogin()
	})
}

// LoginOAuth2 authenticates with an OAuth 2.0 access token. OAUTHBEARER is
// used when the server only advertises that mechanism, XOAUTH2 otherwise.
func (c *Client) LoginOAuth2(ctx context.Context, username, token string) error {
	if username == "" {
		return &mailpulse.ValidationError{Field: "username", Reason: "empty"}
	}
	if token == "" {
		return &mailpulse.ValidationError{Field: "token", Reason: "empty"}
	}
	var saslClient sasl.Client
	if c.Has("AUTH=OAUTHBEARER") && !c.Has("AUTH=XOAUTH2") {
		saslClient = sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{Username: username, Token: token})
	} else {
		saslClient = internal.NewXOAuth2Client(username, token)
	}
	if err := c.Authenticate(ctx, saslClient); err != nil {
		return err
	}
	c.logger.Info().Str("username", username).Msg("logged in with OAuth 2.0")
	return nil
}

// Authenticate authenticates with a SASL mechanism.
func (c *Client) Authenticate(ctx context.Context, saslClient sasl.Client) error {
	return c.interrupt(ctx, "AUTHENTICATE", func() error {
		if err := c.authenticate(saslClient); err != nil {
			return err
		}
		return c.afterLogin()
	})
}

// authenticate runs the AUTHENTICATE exchange. The initial response is sent
// inline when the server supports SASL-IR. The caller must hold the gate.
func (c *Client) authenticate(saslClient sasl.Client) error {
	mech, initialResp, err := saslClient.Start()
	if err != nil {
		return err
	}
	inline := initialResp != nil && c.Has("SASL-IR")

	cmd, err := c.start("AUTHENTICATE", func(enc *imapwire.Encoder) {
		enc.SP().Atom(mech)
		if inline {
			enc.SP().Atom(internal.EncodeSASL(initialResp))
		}
	})
	if err != nil {
		return err
	}

	timeout := c.options.commandTimeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-cmd.done:
			_, err := cmd.result()
			return err
		case <-timer.C:
			c.abandon(cmd)
			return &mailpulse.TimeoutError{Op: "AUTHENTICATE", Timeout: timeout}
		case text := <-cmd.conts:
			var resp []byte
			if initialResp != nil && !inline {
				resp, initialResp = initialResp, nil
			} else {
				challenge, err := internal.DecodeSASL(text)
				if err == nil {
					resp, err = saslClient.Next(challenge)
				}
				if err != nil {
					// Cancel the exchange, the server answers with BAD.
					c.logger.Warn().Err(err).Msg("cancelling authentication")
					if werr := c.writeLine("*"); werr != nil {
						return werr
					}
					continue
				}
			}
			if err := c.writeLine(base64.StdEncoding.EncodeToString(resp)); err != nil {
				return err
			}
		}
	}
}

// writeLine writes a raw line, for continuation responses.
func (c *Client) writeLine(s string) error {
	c.encMutex.Lock()
	defer c.encMutex.Unlock()
	return c.newEncoderLocked(nil).Text(s).CRLF()
}

// afterLogin refreshes the session parameters. The caller must hold the
// gate.
func (c *Client) afterLogin() error {
	if _, err := c.execute("CAPABILITY", nil); err != nil {
		return err
	}

	if c.Has("UTF8=ACCEPT") {
		resp, err := c.execute("ENABLE", func(enc *imapwire.Encoder) {
			enc.SP().Atom("UTF8=ACCEPT")
		})
		if err != nil {
			c.logger.Warn().Err(err).Msg("failed to enable UTF8=ACCEPT")
		} else if enabled(resp.Lines, "UTF8=ACCEPT") {
			c.mutex.Lock()
			c.utf8 = true
			c.mutex.Unlock()
		}
	}

	return c.discoverDelimiter()
}

func enabled(lines []string, capability string) bool {
	for _, line := range lines {
		_, _, name, rest, ok := imapresp.Untagged(line)
		if ok && name == "ENABLED" && imapresp.Capabilities(rest)[capability] {
			return true
		}
	}
	return false
}

// discoverDelimiter asks NAMESPACE for the hierarchy delimiter, or LIST when
// the server lacks NAMESPACE. The caller must hold the gate.
func (c *Client) discoverDelimiter() error {
	var resp *response
	var err error
	if c.Has("NAMESPACE") {
		resp, err = c.execute("NAMESPACE", nil)
	}
	if !c.Has("NAMESPACE") || err != nil {
		resp, err = c.execute("LIST", func(enc *imapwire.Encoder) {
			enc.SP().Quoted("").SP().Quoted("")
		})
	}
	if err != nil {
		return err
	}

	delim := imapresp.HierarchyDelimiter(resp.Lines)
	c.mutex.Lock()
	c.delim = delim
	c.delimSet = true
	c.mutex.Unlock()
	c.logger.Debug().Str("delimiter", delim).Msg("discovered hierarchy delimiter")
	return nil
}

// Noop sends NOOP, which also collects pending updates.
func (c *Client) Noop(ctx context.Context) error {
	return c.interrupt(ctx, "NOOP", func() error {
		_, err := c.execute("NOOP", nil)
		return err
	})
}

// Logout logs out and closes the connection. A session the server already
// terminated is not an error.
func (c *Client) Logout(ctx context.Context) error {
	err := c.interrupt(ctx, "LOGOUT", func() error {
		_, err := c.execute("LOGOUT", nil)
		return err
	})
	if errors.Is(err, mailpulse.ErrLoggedOut) {
		err = nil
	}
	if closeErr := c.Close(); err == nil && closeErr != nil && !isClosedErr(closeErr) {
		err = fmt.Errorf("imapclient: close: %w", closeErr)
	}
	return err
}
