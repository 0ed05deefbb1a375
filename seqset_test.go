package mailpulse

import (
	"reflect"
	"strconv"
	"testing"
)

func knownUIDs(uids ...int) []string {
	l := make([]string, len(uids))
	for i, uid := range uids {
		l[i] = strconv.Itoa(uid)
	}
	return l
}

func TestValidateSeqSet(t *testing.T) {
	all := knownUIDs(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	sparse := knownUIDs(1, 3, 4, 5, 6, 9)

	tests := []struct {
		set   string
		known []string
		ok    bool
	}{
		{"1,3:6,9", all, true},
		{"1,3:6,9", sparse, true},
		{"1:*", all, true},
		{"1:*", sparse, false},
		{"*", sparse, true},
		{"*:1", all, true},
		{"6:3", sparse, true},
		{"9:*", sparse, true},
		{"1,2,21", all, false},
		{"2", sparse, false},
		{"10", all, true},

		// malformed
		{"", all, false},
		{"1::*", all, false},
		{"1:*:*", all, false},
		{"*:*", all, false},
		{"1,,2", all, false},
		{",1", all, false},
		{"1,", all, false},
		{"0", all, false},
		{"01", all, false},
		{"1 2", all, false},
		{"a", all, false},
		{"1:", all, false},
		{"-1", all, false},

		// nothing known
		{"1", nil, false},
		{"*", nil, false},
	}
	for _, test := range tests {
		if ok := ValidateSeqSet(test.set, test.known); ok != test.ok {
			t.Errorf("ValidateSeqSet(%q, %v) = %v, want %v", test.set, test.known, ok, test.ok)
		}
	}
}

func TestValidateSeqSet_ignoresBogusKnown(t *testing.T) {
	known := []string{"1", "x", "007", "2"}
	if !ValidateSeqSet("1:*", known) {
		t.Errorf("ValidateSeqSet(1:*) = false, want true")
	}
	if ValidateSeqSet("7", known) {
		t.Errorf("ValidateSeqSet(7) = true, want false")
	}
}

func TestCheckSeqSet(t *testing.T) {
	if err := CheckSeqSet("1:*"); err != nil {
		t.Errorf("CheckSeqSet(1:*) = %v", err)
	}
	err := CheckSeqSet("1:*:*")
	if !IsValidation(err) {
		t.Errorf("CheckSeqSet(1:*:*) = %v, want a validation error", err)
	}
	if err := CheckSeqSet(""); !IsValidation(err) {
		t.Errorf("CheckSeqSet() = %v, want a validation error", err)
	}
}

func TestFormatUIDSet(t *testing.T) {
	tests := []struct {
		in  []uint32
		out string
	}{
		{nil, ""},
		{[]uint32{7}, "7"},
		{[]uint32{1, 2, 3}, "1:3"},
		{[]uint32{9, 1, 4, 3, 5, 6}, "1,3:6,9"},
		{[]uint32{2, 2, 3}, "2:3"},
	}
	for _, test := range tests {
		if out := FormatUIDSet(test.in); out != test.out {
			t.Errorf("FormatUIDSet(%v) = %q, want %q", test.in, out, test.out)
		}
	}
}

func TestExpandUIDSet(t *testing.T) {
	tests := []struct {
		in  string
		out []uint32
		ok  bool
	}{
		{"4", []uint32{4}, true},
		{"1,3:5", []uint32{1, 3, 4, 5}, true},
		{"5:3,9", []uint32{5, 4, 3, 9}, true},
		{"1:*", nil, false},
		{"1,,2", nil, false},
	}
	for _, test := range tests {
		out, err := ExpandUIDSet(test.in)
		if !test.ok {
			if err == nil {
				t.Errorf("ExpandUIDSet(%q) expected error; got %v", test.in, out)
			}
			continue
		}
		if err != nil {
			t.Errorf("ExpandUIDSet(%q) = %v", test.in, err)
		} else if !reflect.DeepEqual(out, test.out) {
			t.Errorf("ExpandUIDSet(%q) = %v, want %v", test.in, out, test.out)
		}
	}
}

func TestParseUIDs(t *testing.T) {
	got := ParseUIDs([]string{"3", "0", "x", "12", ""})
	want := []uint32{3, 12}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseUIDs() = %v, want %v", got, want)
	}
}
