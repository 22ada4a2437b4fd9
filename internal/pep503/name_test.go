package pep503

import "testing"

func TestCanonicalize(t *testing.T) {
	cases := map[string]string{
		"Friendly-Bard":   "friendly-bard",
		"FrIeNdLy-_.-bArD": "friendly-bard",
		"pytest":          "pytest",
		"PyTest":          "pytest",
		"zope.interface":  "zope-interface",
		"zope__interface": "zope-interface",
	}
	for in, want := range cases {
		if got := Canonicalize(in); got != want {
			t.Errorf("Canonicalize(%q) = %q, want %q", in, got, want)
		}
	}
}
