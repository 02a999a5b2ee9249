package types

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestValuesCaseInsensitive(t *testing.T) {
	t.Parallel()

	vals := make(Values)
	vals.Set("Branch", "z9hG4bK1")

	if got, _ := vals.Last("branch"); got != "z9hG4bK1" {
		t.Errorf("Last(branch) = %q, want z9hG4bK1", got)
	}
	if !vals.Has("BRANCH") {
		t.Error("Has(BRANCH) = false, want true")
	}

	vals.Append("branch", "z9hG4bK2")
	if got, _ := vals.First("Branch"); got != "z9hG4bK1" {
		t.Errorf("First(Branch) = %q, want z9hG4bK1", got)
	}
	if got, _ := vals.Last("Branch"); got != "z9hG4bK2" {
		t.Errorf("Last(Branch) = %q, want z9hG4bK2", got)
	}
}

func TestValuesClone(t *testing.T) {
	t.Parallel()

	vals := make(Values).Set("a", "1").Append("b", "2").Append("b", "3")
	clone := vals.Clone()

	if diff := cmp.Diff(vals, clone); diff != "" {
		t.Fatalf("clone mismatch (-want +got):\n%s", diff)
	}

	clone.Set("a", "mutated")
	if got, _ := vals.Last("a"); got != "1" {
		t.Error("Clone() shares state with the original")
	}

	var nilVals Values
	if nilVals.Clone() != nil {
		t.Error("Clone() of nil = non-nil")
	}
}

func TestParseAddr(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want Addr
	}{
		{"host.example", Addr{Host: "host.example"}},
		{"host.example:5060", Addr{Host: "host.example", Port: 5060}},
		{"192.0.2.1:5070", Addr{Host: "192.0.2.1", Port: 5070}},
		{"[2001:db8::1]:5060", Addr{Host: "2001:db8::1", Port: 5060}},
	}
	for _, tc := range cases {
		got, err := ParseAddr(tc.in)
		if err != nil {
			t.Errorf("ParseAddr(%q) error = %v, want nil", tc.in, err)
			continue
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("ParseAddr(%q) mismatch (-want +got):\n%s", tc.in, diff)
		}
	}

	if _, err := ParseAddr(""); err == nil {
		t.Error("ParseAddr(\"\") error = nil, want error")
	}

	if got := HostPort("h.example", 5080).String(); got != "h.example:5080" {
		t.Errorf("HostPort().String() = %q", got)
	}
}
