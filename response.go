package mailpulse

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// StatusResponseType is a generic status response type.
type StatusResponseType string

const (
	StatusResponseTypeOK      StatusResponseType = "OK"
	StatusResponseTypeNo      StatusResponseType = "NO"
	StatusResponseTypeBad     StatusResponseType = "BAD"
	StatusResponseTypePreAuth StatusResponseType = "PREAUTH"
	StatusResponseTypeBye     StatusResponseType = "BYE"
)

// ResponseCode is a response code.
type ResponseCode string

const (
	ResponseCodeAlert                ResponseCode = "ALERT"
	ResponseCodeAlreadyExists        ResponseCode = "ALREADYEXISTS"
	ResponseCodeAuthenticationFailed ResponseCode = "AUTHENTICATIONFAILED"
	ResponseCodeCannot               ResponseCode = "CANNOT"
	ResponseCodeCapability           ResponseCode = "CAPABILITY"
	ResponseCodeCopyUID              ResponseCode = "COPYUID"
	ResponseCodeNonExistent          ResponseCode = "NONEXISTENT"
	ResponseCodeReadOnly             ResponseCode = "READ-ONLY"
	ResponseCodeReadWrite            ResponseCode = "READ-WRITE"
	ResponseCodeTryCreate            ResponseCode = "TRYCREATE"
	ResponseCodeUIDValidity          ResponseCode = "UIDVALIDITY"
	ResponseCodeUIDNext              ResponseCode = "UIDNEXT"
)

// StatusResponse is a generic status response.
//
// See RFC 9051 section 7.1.
type StatusResponse struct {
	Type StatusResponseType
	// Code is the response code atom, CodeArg the rest of the bracketed text.
	Code    ResponseCode
	CodeArg string
	Text    string
}

// Error is an IMAP error caused by a status response.
//
// Command, Folder and SeqSet describe the operation which failed, Raw holds
// the offending server line.
type Error struct {
	StatusResponse
	Command string
	Folder  string
	SeqSet  string
	Raw     string
}

var _ error = (*Error)(nil)

// Error implements the error interface.
func (err *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("imap:")
	if err.Command != "" {
		fmt.Fprintf(&sb, " %v", err.Command)
	}
	if err.Folder != "" {
		fmt.Fprintf(&sb, " folder %q", err.Folder)
	}
	if err.SeqSet != "" {
		fmt.Fprintf(&sb, " set %q", err.SeqSet)
	}
	if err.Type != "" {
		fmt.Fprintf(&sb, " %v", err.Type)
	}
	if err.Code != "" {
		fmt.Fprintf(&sb, " [%v]", err.Code)
	}
	text := err.Text
	if text == "" {
		text = "<unknown>"
	}
	fmt.Fprintf(&sb, " %v", text)
	return sb.String()
}

var (
	// ErrLoggedOut is returned when the server terminated the session. Callers
	// should reconnect rather than retry.
	ErrLoggedOut = errors.New("imap: session logged out")
	// ErrTimeout matches every *TimeoutError.
	ErrTimeout = errors.New("imap: timeout")
	// ErrNotFound is returned when a requested folder, message or part does
	// not exist.
	ErrNotFound = errors.New("imap: not found")
	// ErrNoSearchResult is returned by paginated fetches before any search.
	ErrNoSearchResult = errors.New("imap: no search result, search first")
)

// TimeoutError is returned when waiting for the server took longer than the
// configured bound.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (err *TimeoutError) Error() string {
	return fmt.Sprintf("imap: %v: no response after %v", err.Op, err.Timeout)
}

func (err *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// ValidationError reports bad input detected before any network I/O.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (err *ValidationError) Error() string {
	if err.Value == "" {
		return fmt.Sprintf("invalid %v: %v", err.Field, err.Reason)
	}
	return fmt.Sprintf("invalid %v %q: %v", err.Field, err.Value, err.Reason)
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
