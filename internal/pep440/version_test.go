package pep440

import "testing"

func TestCanonicalize(t *testing.T) {
	cases := map[string]string{
		"8.3.0":   "8.3",
		"1.0.0":   "1",
		"1.0.0.0": "1",
		"2.0":     "2",
		"8.3.4":   "8.3.4",
		"1.5.0":   "1.5",
		"1.0a1":   "1a1",
		"1.0.post1": "1.post1",
		"1.0.dev1":  "1.dev1",
		"1.0-1":      "1.post1",
		"1!1.0":      "1!1",
	}
	for in, want := range cases {
		got, err := Canonicalize(in)
		if err != nil {
			t.Fatalf("Canonicalize(%q) error: %v", in, err)
		}
		if got != want {
			t.Errorf("Canonicalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCanonicalizeInvalid(t *testing.T) {
	if _, err := Canonicalize("not-a-version!!"); err == nil {
		t.Fatal("expected error for invalid version")
	}
}

func TestLess(t *testing.T) {
	if !Less("8.3", "8.3.4") {
		t.Fatal("expected 8.3 < 8.3.4")
	}
	if Less("8.3.4", "8.3") {
		t.Fatal("expected 8.3.4 not < 8.3")
	}
}
