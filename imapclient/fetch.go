package imapclient

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mailpulse/mailpulse"
	"github.com/mailpulse/mailpulse/imapresp"
	"github.com/mailpulse/mailpulse/internal/imapwire"
)

// envelopeItems are fetched for every message.
const envelopeItems = "(UID FLAGS RFC822.SIZE BODYSTRUCTURE BODY.PEEK[HEADER.FIELDS (FROM SENDER TO CC BCC SUBJECT DATE MESSAGE-ID IN-REPLY-TO REFERENCES)])"

// MaxPageSize bounds FetchPage.
const MaxPageSize = 100

// FetchPage fetches one page of the last search result, newest first. Pages
// are 1-based; a page past the end is empty.
func (c *Client) FetchPage(ctx context.Context, page, size int) (*mailpulse.Mailbox, error) {
	if page < 1 {
		return nil, &mailpulse.ValidationError{Field: "page", Value: strconv.Itoa(page), Reason: "pages start at 1"}
	}
	if size < 1 || size > MaxPageSize {
		return nil, &mailpulse.ValidationError{Field: "page size", Value: strconv.Itoa(size), Reason: fmt.Sprintf("must be between 1 and %v", MaxPageSize)}
	}
	result := c.SearchResult()
	if result == nil {
		return nil, mailpulse.ErrNoSearchResult
	}

	mbox := &mailpulse.Mailbox{
		Folder: result.Folder,
		Total:  result.Count(),
		Page:   page,
		Size:   size,
		Emails: []mailpulse.Email{},
	}
	uids := result.Page(page, size)
	if len(uids) == 0 {
		return mbox, nil
	}

	err := c.interrupt(ctx, "FETCH", func() error {
		emails, err := c.fetchEmails(result.Folder, uids)
		if err != nil {
			return err
		}
		mbox.Emails = emails
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mbox, nil
}

// FetchEmail fetches a single message.
func (c *Client) FetchEmail(ctx context.Context, folder string, uid uint32) (*mailpulse.Email, error) {
	if err := mailpulse.ValidateFolderName(folder); err != nil {
		return nil, err
	}
	if uid == 0 {
		return nil, &mailpulse.ValidationError{Field: "uid", Value: "0", Reason: "UIDs start at 1"}
	}
	var email *mailpulse.Email
	err := c.interrupt(ctx, "FETCH", func() error {
		name, err := c.folderName(folder)
		if err != nil {
			return err
		}
		emails, err := c.fetchEmails(name, []uint32{uid})
		if err != nil {
			return err
		}
		if len(emails) == 0 {
			return fmt.Errorf("imapclient: message %v in %q: %w", uid, name, mailpulse.ErrNotFound)
		}
		email = &emails[0]
		return nil
	})
	return email, err
}

// FetchAttachment downloads and decodes the attachment called name.
func (c *Client) FetchAttachment(ctx context.Context, folder string, uid uint32, name string) (*mailpulse.Attachment, error) {
	if err := mailpulse.ValidateFolderName(folder); err != nil {
		return nil, err
	}
	if uid == 0 {
		return nil, &mailpulse.ValidationError{Field: "uid", Value: "0", Reason: "UIDs start at 1"}
	}
	if name == "" {
		return nil, &mailpulse.ValidationError{Field: "attachment", Reason: "empty name"}
	}

	var att *mailpulse.Attachment
	err := c.interrupt(ctx, "FETCH", func() error {
		folderName, err := c.folderName(folder)
		if err != nil {
			return err
		}
		if _, err := c.selectFolder(folderName, true); err != nil {
			return err
		}
		set := strconv.FormatUint(uint64(uid), 10)

		resp, err := c.execute("UID FETCH", func(enc *imapwire.Encoder) {
			enc.SP().SeqSet(set).SP().Text("(UID BODYSTRUCTURE)")
		})
		if err != nil {
			return withContext(err, folderName, set)
		}
		groups := imapresp.GroupFetch(resp.Lines)
		if len(groups) == 0 || groups[0].BodyStructure() == nil {
			return fmt.Errorf("imapclient: message %v in %q: %w", uid, folderName, mailpulse.ErrNotFound)
		}
		part := groups[0].BodyStructure().FindAttachment(name)
		if part == nil {
			return fmt.Errorf("imapclient: attachment %q of message %v: %w", name, uid, mailpulse.ErrNotFound)
		}

		data, err := c.fetchPart(uid, part.Path)
		if err != nil {
			return withContext(err, folderName, set)
		}
		if data == nil {
			return fmt.Errorf("imapclient: part %v of message %v: %w", part.Path, uid, mailpulse.ErrNotFound)
		}
		content := imapresp.DecodeBytes(data, part.Encoding)
		a := part.Attachment()
		a.Content = content
		a.Size = int64(len(content))
		att = &a
		return nil
	})
	return att, err
}

// fetchEmails fetches the given messages of folder, envelope, flags,
// attachment list and decoded text body included. Messages which vanished
// are skipped; the others are returned in the order of uids. The caller must
// hold the gate.
func (c *Client) fetchEmails(folder string, uids []uint32) ([]mailpulse.Email, error) {
	if len(uids) == 0 {
		return []mailpulse.Email{}, nil
	}
	if _, err := c.selectFolder(folder, true); err != nil {
		return nil, err
	}
	set := mailpulse.FormatUIDSet(uids)

	resp, err := c.execute("UID FETCH", func(enc *imapwire.Encoder) {
		enc.SP().SeqSet(set).SP().Text(envelopeItems)
	})
	if err != nil {
		return nil, withContext(err, folder, set)
	}

	byUID := make(map[uint32]*mailpulse.Email)
	textParts := make(map[uint32]*imapresp.BodyStructure)
	for _, g := range imapresp.GroupFetch(resp.Lines) {
		uid := g.UIDNum()
		if uid == 0 {
			continue
		}
		email := &mailpulse.Email{
			UID:    uid,
			Folder: folder,
			Flags:  g.Flags(),
			Size:   g.Size(),
		}
		imapresp.FillEmail(email, g.Header())
		email.Attachments = []mailpulse.Attachment{}
		if bs := g.BodyStructure(); bs != nil {
			email.Attachments = append(email.Attachments, bs.Attachments()...)
			email.Attachments = append(email.Attachments, bs.InlineAttachments()...)
			if part := bs.TextPart(); part != nil {
				textParts[uid] = part
				email.BodyType = part.MIMEType()
			}
		}
		byUID[uid] = email
	}

	if err := c.fetchBodies(folder, byUID, textParts); err != nil {
		return nil, err
	}

	emails := make([]mailpulse.Email, 0, len(byUID))
	for _, uid := range uids {
		if email, ok := byUID[uid]; ok {
			emails = append(emails, *email)
		}
	}
	return emails, nil
}

// fetchBodies fetches and decodes the text part of each message. Messages
// sharing a part path are fetched with one command. The caller must hold the
// gate.
func (c *Client) fetchBodies(folder string, emails map[uint32]*mailpulse.Email, parts map[uint32]*imapresp.BodyStructure) error {
	byPath := make(map[string][]uint32)
	for uid, part := range parts {
		byPath[part.Path] = append(byPath[part.Path], uid)
	}
	paths := make([]string, 0, len(byPath))
	for path := range byPath {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		set := mailpulse.FormatUIDSet(byPath[path])
		resp, err := c.execute("UID FETCH", func(enc *imapwire.Encoder) {
			enc.SP().SeqSet(set).SP().Text("(UID BODY.PEEK[" + path + "])")
		})
		if err != nil {
			return withContext(err, folder, set)
		}
		for _, g := range imapresp.GroupFetch(resp.Lines) {
			uid := g.UIDNum()
			email, ok := emails[uid]
			if !ok {
				continue
			}
			data, ok := g.Body(path)
			if !ok {
				continue
			}
			part := parts[uid]
			email.Body = imapresp.DecodeBody(data, part.Encoding, part.Charset())
			if strings.EqualFold(email.BodyType, "text/plain") {
				email.Preview = imapresp.Sanitize(email.Body)
			}
		}
	}
	return nil
}

// fetchPart returns the raw contents of one part of a message in the
// selected mailbox, or nil if the server sent none. The caller must hold the
// gate.
func (c *Client) fetchPart(uid uint32, path string) ([]byte, error) {
	set := strconv.FormatUint(uint64(uid), 10)
	resp, err := c.execute("UID FETCH", func(enc *imapwire.Encoder) {
		enc.SP().SeqSet(set).SP().Text("(UID BODY.PEEK[" + path + "])")
	})
	if err != nil {
		return nil, err
	}
	for _, g := range imapresp.GroupFetch(resp.Lines) {
		if g.UIDNum() != uid {
			continue
		}
		if data, ok := g.Body(path); ok {
			return data, nil
		}
	}
	return nil, nil
}
