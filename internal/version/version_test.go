package version

import (
	"errors"
	"testing"
)

func TestParseRejectsMalformedStrings(t *testing.T) {
	cases := []string{"", "   ", "1.2.x", "1..2", "v1.2", "1.-2", "1.2-beta", "1.+2"}
	for _, value := range cases {
		if _, err := Parse(value); !errors.Is(err, ErrInvalid) {
			t.Errorf("Parse(%q) error = %v, want ErrInvalid", value, err)
		}
	}
}

func TestParseComponents(t *testing.T) {
	got, err := Parse("0.1.9")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []int{0, 1, 9}
	if len(got) != len(want) {
		t.Fatalf("Parse returned %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Parse returned %v, want %v", got, want)
		}
	}
}

func TestIsNewer(t *testing.T) {
	cases := []struct {
		local, remote string
		want          bool
	}{
		{"0.1.9", "0.1.9", false},
		{"0.1.9", "0.2", true},
		{"0.2", "0.1.9", false},
		{"0.1.5", "0.1.9", true},
		{"1", "1.0.0", false},
		{"1.0.0", "1", false},
		{"0.0.0", "0.0.1", true},
		{"2.10", "2.9", false},
	}
	for _, tc := range cases {
		got, err := IsNewer(tc.local, tc.remote)
		if err != nil {
			t.Fatalf("IsNewer(%q, %q): %v", tc.local, tc.remote, err)
		}
		if got != tc.want {
			t.Errorf("IsNewer(%q, %q) = %v, want %v", tc.local, tc.remote, got, tc.want)
		}
	}
}

func TestIsNewerTrailingZeroInvariance(t *testing.T) {
	pairs := [][2]string{
		{"0.1.9", "0.2"},
		{"1.0", "1.0.1"},
		{"3.4.5", "3.4.5"},
		{"0.9", "1"},
	}
	for _, pair := range pairs {
		base, err := IsNewer(pair[0], pair[1])
		if err != nil {
			t.Fatalf("IsNewer(%q, %q): %v", pair[0], pair[1], err)
		}
		padded, err := IsNewer(pair[0]+".0", pair[1])
		if err != nil {
			t.Fatalf("IsNewer(%q, %q): %v", pair[0]+".0", pair[1], err)
		}
		if base != padded {
			t.Errorf("padding changed ordering for %v", pair)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("0.1.9"); got != "0.1.9" {
		t.Errorf("Normalize valid = %q", got)
	}
	for _, value := range []string{"", "unknown", "1.2.x", "v3"} {
		if got := Normalize(value); got != Zero {
			t.Errorf("Normalize(%q) = %q, want %q", value, got, Zero)
		}
	}
}
