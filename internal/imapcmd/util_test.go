package imapcmd

import "testing"

func TestParseSequenceSet(t *testing.T) {
	cases := []struct {
		spec    string
		wantErr bool
	}{
		{"1", false},
		{"1:5", false},
		{"5:1", false},
		{"1,3,5", false},
		{"1:*", false},
		{"*", false},
		{"", true},
		{"1,", true},
		{"a:b", true},
	}
	for _, c := range cases {
		_, err := parseSequenceSet(c.spec)
		if (err != nil) != c.wantErr {
			t.Errorf("parseSequenceSet(%q) error = %v, wantErr %v", c.spec, err, c.wantErr)
		}
	}
}

func TestSeqRangeMatches(t *testing.T) {
	r, err := parseSequenceSet("2:4")
	if err != nil {
		t.Fatal(err)
	}
	for _, uid := range []int64{1, 5} {
		if matchesAnyRange(r, uid, 10) {
			t.Errorf("uid %d should not match 2:4", uid)
		}
	}
	for _, uid := range []int64{2, 3, 4} {
		if !matchesAnyRange(r, uid, 10) {
			t.Errorf("uid %d should match 2:4", uid)
		}
	}
}

func TestSeqRangeStar(t *testing.T) {
	r, err := parseSequenceSet("3:*")
	if err != nil {
		t.Fatal(err)
	}
	if matchesAnyRange(r, 2, 10) {
		t.Fatal("uid 2 should not match 3:*")
	}
	if !matchesAnyRange(r, 10, 10) {
		t.Fatal("uid 10 (the resolved *) should match 3:*")
	}
}

func TestQuoteMailbox(t *testing.T) {
	got := quoteMailbox(`a"b\c`)
	want := `"a\"b\\c"`
	if got != want {
		t.Errorf("quoteMailbox = %q, want %q", got, want)
	}
}
