// Package attachment resolves attachment references into payloads.
//
// A reference is a filesystem path, an http(s) URL or a base64 data URI.
package attachment

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mailpulse/mailpulse"
)

// DefaultMaxSize is the default limit on a resolved payload.
const DefaultMaxSize = 25 << 20

// ErrTooLarge is returned when a payload exceeds the resolver limit.
var ErrTooLarge = errors.New("attachment: payload too large")

// Resolver turns references into attachments carrying their content.
type Resolver struct {
	// HTTPClient fetches remote references. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// MaxSize limits payloads. Defaults to DefaultMaxSize.
	MaxSize int64
	Logger  *zerolog.Logger
}

func (r *Resolver) maxSize() int64 {
	if r.MaxSize <= 0 {
		return DefaultMaxSize
	}
	return r.MaxSize
}

func (r *Resolver) logger() *zerolog.Logger {
	if r.Logger == nil {
		l := zerolog.Nop()
		return &l
	}
	return r.Logger
}

// Resolve loads ref and returns the attachment with its name, MIME type, size
// and content.
func (r *Resolver) Resolve(ctx context.Context, ref string) (*mailpulse.Attachment, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return nil, &mailpulse.ValidationError{Field: "attachment", Reason: "empty reference"}
	case hasPrefixFold(ref, "data:"):
		return r.resolveDataURI(ref)
	case hasPrefixFold(ref, "http://"), hasPrefixFold(ref, "https://"):
		return r.resolveURL(ctx, ref)
	default:
		return r.resolveFile(ref)
	}
}

// ResolveInline resolves ref as an inline attachment. A Content-ID is
// generated; HTML bodies reference it as "cid:<ContentID>".
func (r *Resolver) ResolveInline(ctx context.Context, ref string) (*mailpulse.Attachment, error) {
	att, err := r.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	att.Inline = true
	att.ContentID = uuid.NewString() + "@mailpulse"
	return att, nil
}

// Complete fills the missing fields of a partially described attachment. An
// attachment with Content only needs a MIME type; one with a Source is
// loaded from it.
func (r *Resolver) Complete(ctx context.Context, att *mailpulse.Attachment) error {
	if att.Content == nil {
		if att.Source == "" {
			return &mailpulse.ValidationError{Field: "attachment", Value: att.Name, Reason: "no content and no source"}
		}
		resolved, err := r.Resolve(ctx, att.Source)
		if err != nil {
			return err
		}
		att.Content = resolved.Content
		if att.Name == "" {
			att.Name = resolved.Name
		}
		if att.MIMEType == "" {
			att.MIMEType = resolved.MIMEType
		}
	}
	if att.MIMEType == "" {
		att.MIMEType = detectType(att.Name, att.Content)
	}
	att.Size = int64(len(att.Content))
	return nil
}

func (r *Resolver) resolveDataURI(ref string) (*mailpulse.Attachment, error) {
	meta, data, ok := strings.Cut(ref[len("data:"):], ",")
	if !ok {
		return nil, &mailpulse.ValidationError{Field: "attachment", Value: truncate(ref), Reason: "malformed data URI"}
	}

	params := strings.Split(meta, ";")
	mimeType := strings.ToLower(strings.TrimSpace(params[0]))
	isBase64 := false
	name := ""
	for _, p := range params[1:] {
		p = strings.TrimSpace(p)
		if strings.EqualFold(p, "base64") {
			isBase64 = true
		} else if k, v, ok := strings.Cut(p, "="); ok && strings.EqualFold(k, "name") {
			if unescaped, err := url.PathUnescape(v); err == nil {
				v = unescaped
			}
			name = v
		}
	}

	var content []byte
	if isBase64 {
		var err error
		content, err = base64.StdEncoding.DecodeString(strings.TrimRight(data, "\r\n "))
		if err != nil {
			content, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(data, "=\r\n "))
		}
		if err != nil {
			return nil, &mailpulse.ValidationError{Field: "attachment", Value: truncate(ref), Reason: "invalid base64 payload"}
		}
	} else {
		unescaped, err := url.PathUnescape(data)
		if err != nil {
			return nil, &mailpulse.ValidationError{Field: "attachment", Value: truncate(ref), Reason: err.Error()}
		}
		content = []byte(unescaped)
	}
	if int64(len(content)) > r.maxSize() {
		return nil, ErrTooLarge
	}

	if mimeType == "" {
		mimeType = detectType(name, content)
	}
	if name == "" {
		name = "attachment" + extensionFor(mimeType)
	}
	return &mailpulse.Attachment{
		Name:     name,
		MIMEType: mimeType,
		Size:     int64(len(content)),
		Content:  content,
	}, nil
}

func (r *Resolver) resolveURL(ctx context.Context, ref string) (*mailpulse.Attachment, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, &mailpulse.ValidationError{Field: "attachment", Value: ref, Reason: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	client := r.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	r.logger().Debug().Str("url", u.Redacted()).Msg("downloading attachment")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("attachment: downloading %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("attachment: %s: %w", u.Redacted(), mailpulse.ErrNotFound)
		}
		return nil, fmt.Errorf("attachment: unable to download %s (HTTP %d)", u.Redacted(), resp.StatusCode)
	}
	if resp.ContentLength > r.maxSize() {
		return nil, ErrTooLarge
	}

	content, err := readLimited(resp.Body, r.maxSize())
	if err != nil {
		return nil, err
	}

	name := ""
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		name = params["filename"]
	}
	if name == "" {
		name = path.Base(u.Path)
		if name == "/" || name == "." {
			name = ""
		}
	}

	mimeType := ""
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && mt != "application/octet-stream" {
		mimeType = mt
	}
	if mimeType == "" {
		mimeType = detectType(name, content)
	}
	if name == "" {
		name = "attachment" + extensionFor(mimeType)
	}

	return &mailpulse.Attachment{
		Name:     name,
		MIMEType: mimeType,
		Size:     int64(len(content)),
		Content:  content,
		Source:   ref,
	}, nil
}

func (r *Resolver) resolveFile(ref string) (*mailpulse.Attachment, error) {
	p := ref
	if hasPrefixFold(p, "file://") {
		p = p[len("file://"):]
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("attachment: expanding %q: %w", ref, err)
		}
		p = filepath.Join(home, p[1:])
	}

	fi, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("attachment: %q: %w", ref, mailpulse.ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("attachment: %w", err)
	}
	if fi.IsDir() {
		return nil, &mailpulse.ValidationError{Field: "attachment", Value: ref, Reason: "is a directory"}
	}
	if fi.Size() > r.maxSize() {
		return nil, ErrTooLarge
	}

	content, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("attachment: reading %q: %w", ref, err)
	}
	name := filepath.Base(p)
	return &mailpulse.Attachment{
		Name:     name,
		MIMEType: detectType(name, content),
		Size:     int64(len(content)),
		Content:  content,
		Source:   p,
	}, nil
}

func readLimited(r io.Reader, max int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, fmt.Errorf("attachment: reading payload: %w", err)
	}
	if int64(len(b)) > max {
		return nil, ErrTooLarge
	}
	return b, nil
}

// detectType guesses the MIME type from the file extension, then from the
// content.
func detectType(name string, content []byte) string {
	if ext := filepath.Ext(name); ext != "" {
		if t := mime.TypeByExtension(strings.ToLower(ext)); t != "" {
			mt, _, err := mime.ParseMediaType(t)
			if err == nil {
				return mt
			}
		}
	}
	if len(content) == 0 {
		return "application/octet-stream"
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(content))
	return mt
}

func extensionFor(mimeType string) string {
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func truncate(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}
