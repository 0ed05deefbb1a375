package mailpulse

import "time"

// Email is a fetched message.
//
// UID is only unique within Folder.
type Email struct {
	UID        uint32
	Folder     string
	Sender     string
	Receivers  []string
	Cc         []string
	Bcc        []string
	Subject    string
	Date       time.Time
	MessageID  string
	InReplyTo  string
	References []string
	// Body is the decoded text/plain part, or text/html when the message has
	// no plain text part.
	Body        string
	BodyType    string
	// Preview is Body as a single sanitized line, for text/plain bodies.
	Preview     string
	Flags       []string
	Size        int64
	Attachments []Attachment
}

// HasFlag reports whether the message carries flag, ignoring case.
func (email *Email) HasFlag(flag Flag) bool {
	for _, f := range email.Flags {
		if toLowerASCII(f) == toLowerASCII(string(flag)) {
			return true
		}
	}
	return false
}

// Attachment describes a MIME part carried as a file.
//
// Resolved attachments carry Content. Attachments listed from a message only
// carry metadata and PartPath; their payload is fetched on demand.
type Attachment struct {
	Name      string
	Size      int64
	MIMEType  string
	ContentID string
	Inline    bool
	PartPath  string
	Encoding  string
	Content   []byte
	// Source is the path or URL the attachment was resolved from.
	Source string
}

// Mailbox is one page of a search result.
type Mailbox struct {
	Folder string
	Total  int
	Page   int
	Size   int
	Emails []Email
}

// SearchResult is the outcome of the most recent search on a connection.
type SearchResult struct {
	Folder string
	// UIDs are ordered newest first.
	UIDs  []uint32
	Query string
}

// Count returns the number of matched messages.
func (r *SearchResult) Count() int {
	return len(r.UIDs)
}

// Page returns the UIDs of the 1-based page of the given size, newest first.
func (r *SearchResult) Page(page, size int) []uint32 {
	if page < 1 || size < 1 {
		return nil
	}
	if len(r.UIDs) == 0 {
		return nil
	}
	// Compare page counts first so that page*size cannot overflow.
	if pages := (len(r.UIDs)-1)/size + 1; page > pages {
		return nil
	}
	start := (page - 1) * size
	end := len(r.UIDs)
	if end-start > size {
		end = start + size
	}
	return r.UIDs[start:end]
}
