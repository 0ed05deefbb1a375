package mailpulse

import (
	"strconv"
	"strings"
	"time"
)

// Criteria produces the key list of a SEARCH command.
type Criteria interface {
	Query() string
}

// TextCriteria is a free-text search over headers and body.
type TextCriteria string

// Query implements Criteria.
func (s TextCriteria) Query() string {
	return "TEXT " + Quote(string(s))
}

// SearchCriteria is a structured search.
//
// Populated fields are ANDed. Multi-valued inclusive fields (Senders,
// Receivers, Cc, Bcc, Include, IncludedFlags) match any of their values.
// Exclude and ExcludedFlags exclude each of their values.
type SearchCriteria struct {
	Senders   []string
	Receivers []string
	Cc        []string
	Bcc       []string
	Subject   string
	MessageID string

	// Only the date is used, the time is ignored.
	Since  time.Time
	Before time.Time

	Include []string
	Exclude []string

	IncludedFlags []string
	ExcludedFlags []string

	// HasAttachments matches messages mentioning "ATTACHMENT" anywhere in
	// their text. It is a heuristic, not a structural check.
	HasAttachments bool

	LargerThan  int64
	SmallerThan int64
}

// Validate checks the criteria without building the query.
func (criteria *SearchCriteria) Validate() error {
	for _, s := range append(append([]string(nil), criteria.IncludedFlags...), criteria.ExcludedFlags...) {
		if _, err := ParseFlag(s); err != nil {
			return err
		}
	}
	if criteria.LargerThan < 0 {
		return &ValidationError{Field: "larger_than", Value: strconv.FormatInt(criteria.LargerThan, 10), Reason: "negative size"}
	}
	if criteria.SmallerThan < 0 {
		return &ValidationError{Field: "smaller_than", Value: strconv.FormatInt(criteria.SmallerThan, 10), Reason: "negative size"}
	}
	return nil
}

// Query implements Criteria. An empty criteria matches all messages.
func (criteria *SearchCriteria) Query() string {
	var terms []string
	add := func(term string) {
		if term != "" {
			terms = append(terms, term)
		}
	}

	add(orTree(criteria.Senders, keyTerm("FROM")))
	add(orTree(criteria.Receivers, keyTerm("TO")))
	add(orTree(criteria.Cc, keyTerm("CC")))
	add(orTree(criteria.Bcc, keyTerm("BCC")))
	if criteria.Subject != "" {
		add(keyTerm("SUBJECT")(criteria.Subject))
	}
	if criteria.MessageID != "" {
		add(keyTerm("HEADER MESSAGE-ID")(criteria.MessageID))
	}
	if !criteria.Since.IsZero() {
		add(keyTerm("SINCE")(FormatDate(criteria.Since)))
	}
	if !criteria.Before.IsZero() {
		add(keyTerm("BEFORE")(FormatDate(criteria.Before)))
	}
	add(orTree(criteria.Include, keyTerm("BODY")))
	for _, s := range criteria.Exclude {
		add(keyTerm("NOT BODY")(s))
	}
	add(orTree(criteria.IncludedFlags, func(s string) string { return flagTerm(s, false) }))
	for _, s := range criteria.ExcludedFlags {
		add(flagTerm(s, true))
	}
	if criteria.HasAttachments {
		add(keyTerm("TEXT")("ATTACHMENT"))
	}
	if criteria.LargerThan > 0 {
		add("(LARGER " + strconv.FormatInt(criteria.LargerThan, 10) + ")")
	}
	if criteria.SmallerThan > 0 {
		add("(SMALLER " + strconv.FormatInt(criteria.SmallerThan, 10) + ")")
	}

	if len(terms) == 0 {
		return "ALL"
	}
	return strings.Join(terms, " ")
}

// BuildSearchQuery returns the SEARCH key list for c. Nil criteria match all
// messages.
func BuildSearchQuery(c Criteria) string {
	if c == nil {
		return "ALL"
	}
	if sc, ok := c.(*SearchCriteria); ok && sc == nil {
		return "ALL"
	}
	return c.Query()
}

func keyTerm(key string) func(string) string {
	return func(value string) string {
		return "(" + key + " " + Quote(value) + ")"
	}
}

// flagTerm maps a flag to its search key. System flags are bare atoms
// (SEEN, UNSEEN), other flags go through KEYWORD/UNKEYWORD.
func flagTerm(s string, negate bool) string {
	f, err := ParseFlag(s)
	if err != nil {
		return ""
	}
	if f.IsSystem() {
		key := strings.ToUpper(string(f[1:]))
		if negate {
			key = "UN" + key
		}
		return "(" + key + ")"
	}
	if negate {
		return "(UNKEYWORD " + string(f) + ")"
	}
	return "(KEYWORD " + string(f) + ")"
}

// orTree combines values into a balanced binary OR tree. The list is split at
// its midpoint, so odd-length lists nest on the right:
//
//	[b c d] -> (OR (TO "b") (OR (TO "c") (TO "d")))
func orTree(values []string, term func(string) string) string {
	switch len(values) {
	case 0:
		return ""
	case 1:
		return term(values[0])
	}
	mid := len(values) / 2
	left := orTree(values[:mid], term)
	right := orTree(values[mid:], term)
	switch {
	case left == "":
		return right
	case right == "":
		return left
	}
	return "(OR " + left + " " + right + ")"
}

// Quote returns s as an IMAP quoted string.
func Quote(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '\r' || ch == '\n' {
			sb.WriteByte(' ')
			continue
		}
		if ch == '"' || ch == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(ch)
	}
	sb.WriteByte('"')
	return sb.String()
}
