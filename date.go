package mailpulse

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Date and time layouts.
const (
	// DateLayout is the IMAP date used by SEARCH SINCE/BEFORE (RFC 9051
	// date-text). The day is zero-padded; servers accept both forms.
	DateLayout = "02-Jan-2006"
	// DateTimeLayout is the INTERNALDATE layout.
	DateTimeLayout = "02-Jan-2006 15:04:05 -0700"
	// MessageDateTimeLayout is the RFC 5322 section 3.3 layout.
	MessageDateTimeLayout = "Mon, 02 Jan 2006 15:04:05 -0700"
)

// messageDateTimeLayouts holds the permutations of the RFC 5322 section 3.3
// layouts seen in the wild: optional weekday, one or two digit day, two or
// four digit year, optional seconds and the three common zone spellings.
var messageDateTimeLayouts = func() []string {
	var layouts []string
	for _, weekday := range []string{"Mon, ", ""} {
		for _, day := range []string{"02", "2"} {
			for _, year := range []string{"2006", "06"} {
				for _, clock := range []string{"15:04:05", "15:04"} {
					for _, zone := range []string{"-0700", "MST", "-0700 (MST)"} {
						layouts = append(layouts, fmt.Sprintf("%v%v Jan %v %v %v", weekday, day, year, clock, zone))
					}
				}
			}
		}
	}
	return layouts
}()

// ParseMessageDate parses the value of a Date header. It first tries the
// net/mail parser, then the layouts servers and clients are known to emit.
func ParseMessageDate(maybeDate string) (time.Time, error) {
	maybeDate = strings.TrimSpace(maybeDate)
	if t, err := mail.ParseDate(maybeDate); err == nil {
		return t, nil
	}
	for _, layout := range messageDateTimeLayouts {
		if t, err := time.Parse(layout, maybeDate); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q could not be parsed", maybeDate)
}

// ParseDate parses an IMAP date. One-digit days are accepted.
func ParseDate(maybeDate string) (time.Time, error) {
	maybeDate = strings.TrimSpace(maybeDate)
	for _, layout := range []string{DateLayout, "2-Jan-2006"} {
		if t, err := time.Parse(layout, maybeDate); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q could not be parsed", maybeDate)
}

// FormatDate formats t as an IMAP date in t's location.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
