package mailpulse

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// seqSetPattern is the accepted sequence-set grammar: comma-separated atoms,
// each "n", "a:b", "a:*", "*:b" or a bare "*". Numbers are nz-number values.
// "*:*", empty atoms and chained ranges such as "1:*:*" do not match.
var seqSetPattern = func() *regexp.Regexp {
	num := `[1-9][0-9]*`
	atom := `(?:` + num + `:` + num + `|` + num + `:\*|\*:` + num + `|` + num + `|\*)`
	return regexp.MustCompile(`^` + atom + `(?:,` + atom + `)*$`)
}()

// CheckSeqSet validates the syntax of a sequence set without expanding it.
func CheckSeqSet(set string) error {
	if set == "" {
		return &ValidationError{Field: "sequence set", Reason: "empty"}
	}
	if !seqSetPattern.MatchString(set) {
		return &ValidationError{Field: "sequence set", Value: set, Reason: "malformed"}
	}
	return nil
}

// seqRange is a closed interval of UIDs, Start <= Stop.
type seqRange struct {
	Start, Stop uint64
}

// parseSeqNum parses a single seq-number value, substituting max for "*".
func parseSeqNum(v string, max uint64) (uint64, error) {
	if v == "*" {
		return max, nil
	}
	return strconv.ParseUint(v, 10, 32)
}

// expandSeqSet turns a syntactically valid set into ranges, with "*" standing
// for max.
func expandSeqSet(set string, max uint64) ([]seqRange, error) {
	var ranges []seqRange
	for _, atom := range strings.Split(set, ",") {
		lo, hi, isRange := strings.Cut(atom, ":")
		start, err := parseSeqNum(lo, max)
		if err != nil {
			return nil, err
		}
		stop := start
		if isRange {
			if stop, err = parseSeqNum(hi, max); err != nil {
				return nil, err
			}
		}
		if stop < start {
			start, stop = stop, start
		}
		ranges = append(ranges, seqRange{start, stop})
	}
	return ranges, nil
}

// ValidateSeqSet reports whether every UID implied by set is present in
// known. "*" stands for the largest numeric UID of known. Malformed sets are
// never valid.
func ValidateSeqSet(set string, known []string) bool {
	if CheckSeqSet(set) != nil {
		return false
	}

	members := make(map[uint64]struct{}, len(known))
	var max uint64
	for _, s := range known {
		uid, err := strconv.ParseUint(s, 10, 32)
		if err != nil || uid == 0 || strconv.FormatUint(uid, 10) != s {
			continue
		}
		members[uid] = struct{}{}
		if uid > max {
			max = uid
		}
	}
	if len(members) == 0 {
		return false
	}

	ranges, err := expandSeqSet(set, max)
	if err != nil {
		return false
	}
	for _, r := range ranges {
		if r.Stop-r.Start+1 > uint64(len(members)) {
			return false
		}
		for uid := r.Start; uid <= r.Stop; uid++ {
			if _, ok := members[uid]; !ok {
				return false
			}
		}
	}
	return true
}

// FormatUIDSet formats uids as a compact sequence set, merging consecutive
// values into ranges. The input order is not preserved.
func FormatUIDSet(uids []uint32) string {
	if len(uids) == 0 {
		return ""
	}
	sorted := append([]uint32(nil), uids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sb strings.Builder
	start, prev := sorted[0], sorted[0]
	flush := func() {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatUint(uint64(start), 10))
		if prev != start {
			sb.WriteByte(':')
			sb.WriteString(strconv.FormatUint(uint64(prev), 10))
		}
	}
	for _, uid := range sorted[1:] {
		if uid == prev || uid == prev+1 {
			prev = uid
			continue
		}
		flush()
		start, prev = uid, uid
	}
	flush()
	return sb.String()
}

// ParseUIDs parses a list of decimal UIDs, skipping anything else.
func ParseUIDs(values []string) []uint32 {
	uids := make([]uint32, 0, len(values))
	for _, v := range values {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil && n > 0 {
			uids = append(uids, uint32(n))
		}
	}
	return uids
}

// ExpandUIDSet expands a sequence set without "*", such as the UID sets of a
// COPYUID response code, preserving the order of its atoms.
func ExpandUIDSet(set string) ([]uint32, error) {
	if err := CheckSeqSet(set); err != nil {
		return nil, err
	}
	if strings.Contains(set, "*") {
		return nil, &ValidationError{Field: "sequence set", Value: set, Reason: "unexpected \"*\""}
	}
	var uids []uint32
	for _, atom := range strings.Split(set, ",") {
		lo, hi, isRange := strings.Cut(atom, ":")
		start, _ := strconv.ParseUint(lo, 10, 32)
		stop := start
		if isRange {
			stop, _ = strconv.ParseUint(hi, 10, 32)
		}
		if start <= stop {
			for uid := start; uid <= stop; uid++ {
				uids = append(uids, uint32(uid))
			}
		} else {
			for uid := start; uid >= stop; uid-- {
				uids = append(uids, uint32(uid))
			}
		}
	}
	return uids, nil
}
