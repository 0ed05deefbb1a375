package attachment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailpulse/mailpulse"
)

func TestResolver_Resolve_dataURI(t *testing.T) {
	var r Resolver
	ctx := context.Background()

	att, err := r.Resolve(ctx, "data:text/plain;name=notes.txt;base64,aGVsbG8gd29ybGQ=")
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", att.Name)
	assert.Equal(t, "text/plain", att.MIMEType)
	assert.Equal(t, "hello world", string(att.Content))
	assert.EqualValues(t, 11, att.Size)

	// Unpadded payloads are accepted.
	att, err = r.Resolve(ctx, "data:application/pdf;base64,JVBERi0")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-", string(att.Content))
	assert.Equal(t, "application/pdf", att.MIMEType)

	att, err = r.Resolve(ctx, "data:,a%20b")
	require.NoError(t, err)
	assert.Equal(t, "a b", string(att.Content))

	for _, ref := range []string{"data:text/plain;base64", "data:image/png;base64,!!!"} {
		_, err := r.Resolve(ctx, ref)
		assert.True(t, mailpulse.IsValidation(err), "Resolve(%q) = %v", ref, err)
	}
}

func TestResolver_Resolve_file(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "report.pdf")
	require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4 content"), 0o600))

	var r Resolver
	att, err := r.Resolve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", att.Name)
	assert.Equal(t, "application/pdf", att.MIMEType)
	assert.EqualValues(t, 16, att.Size)
	assert.Equal(t, p, att.Source)

	_, err = r.Resolve(context.Background(), filepath.Join(dir, "missing.txt"))
	assert.ErrorIs(t, err, mailpulse.ErrNotFound)

	_, err = r.Resolve(context.Background(), dir)
	assert.True(t, mailpulse.IsValidation(err), "Resolve(dir) = %v", err)

	small := Resolver{MaxSize: 4}
	_, err = small.Resolve(context.Background(), p)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestResolver_Resolve_url(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/files/photo.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("\x89PNG\r\n\x1a\n"))
		case "/download":
			w.Header().Set("Content-Disposition", `attachment; filename="invoice.pdf"`)
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write([]byte("%PDF-1.7"))
		default:
			http.NotFound(w, req)
		}
	}))
	defer ts.Close()

	r := Resolver{HTTPClient: ts.Client()}
	ctx := context.Background()

	att, err := r.Resolve(ctx, ts.URL+"/files/photo.png")
	require.NoError(t, err)
	assert.Equal(t, "photo.png", att.Name)
	assert.Equal(t, "image/png", att.MIMEType)
	assert.Equal(t, ts.URL+"/files/photo.png", att.Source)

	att, err = r.Resolve(ctx, ts.URL+"/download")
	require.NoError(t, err)
	assert.Equal(t, "invoice.pdf", att.Name)
	assert.Equal(t, "application/pdf", att.MIMEType)

	_, err = r.Resolve(ctx, ts.URL+"/nope")
	assert.ErrorIs(t, err, mailpulse.ErrNotFound)

	small := Resolver{HTTPClient: ts.Client(), MaxSize: 3}
	_, err = small.Resolve(ctx, ts.URL+"/download")
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestResolver_ResolveInline(t *testing.T) {
	var r Resolver
	att, err := r.ResolveInline(context.Background(), "data:image/gif;base64,R0lGODlh")
	require.NoError(t, err)
	assert.True(t, att.Inline)
	assert.NotEmpty(t, att.ContentID)
	assert.Equal(t, "image/gif", att.MIMEType)
}

func TestResolver_Complete(t *testing.T) {
	var r Resolver
	ctx := context.Background()

	att := mailpulse.Attachment{Name: "a.txt", Content: []byte("abc")}
	require.NoError(t, r.Complete(ctx, &att))
	assert.Equal(t, "text/plain", att.MIMEType)
	assert.EqualValues(t, 3, att.Size)

	att = mailpulse.Attachment{Source: "data:text/csv;name=x.csv;base64,YSxi"}
	require.NoError(t, r.Complete(ctx, &att))
	assert.Equal(t, "x.csv", att.Name)
	assert.Equal(t, "a,b", string(att.Content))

	att = mailpulse.Attachment{Name: "empty"}
	assert.True(t, mailpulse.IsValidation(r.Complete(ctx, &att)))
}
