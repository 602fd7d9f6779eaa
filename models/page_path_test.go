package models

import "testing"

func TestValidatePath(t *testing.T) {
	cases := []struct {
		path string
		ok   bool
	}{
		{"/", true},
		{"/services", true},
		{"/services/roof-repair", true},
		{"services", false},
		{"", false},
		{"/services/", false},
		{"/services//roof-repair", false},
		{"//", false},
	}
	for _, tc := range cases {
		err := ValidatePath(tc.path)
		if tc.ok && err != nil {
			t.Fatalf("ValidatePath(%q) unexpected error: %v", tc.path, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("ValidatePath(%q) expected error, got nil", tc.path)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"/Services", "/services"},
		{"  /services/Roof-Repair  ", "/services/roof-repair"},
		{"/services", "/services"},
	}
	for _, tc := range cases {
		if got := NormalizePath(tc.in); got != tc.expected {
			t.Fatalf("NormalizePath(%q) expected %q, got %q", tc.in, tc.expected, got)
		}
	}
}
