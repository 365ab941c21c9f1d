package auth

import (
	"testing"
)

func TestHashKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", // SHA256 of empty
		},
		{
			name:     "abc",
			input:    "abc",
			expected: "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		},
		{
			name:     "whitespace trimmed",
			input:    "  abc\n",
			expected: "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HashKey(tt.input); got != tt.expected {
				t.Errorf("HashKey(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestHashKey_DistinctInputs(t *testing.T) {
	if HashKey("eyJwYXlsb2FkIjoxfQ==") == HashKey("eyJwYXlsb2FkIjoyfQ==") {
		t.Error("distinct payment headers hashed to the same value")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer s3cret", "s3cret", true},
		{"bearer s3cret", "", false},
		{"Bearer  s3cret", "", false},
		{"Bearer a b", "", false},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"Basic dXNlcjpwYXNz", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := BearerToken(tt.header)
		if got != tt.want || ok != tt.ok {
			t.Errorf("BearerToken(%q) = (%q, %v), want (%q, %v)", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSecretMatches(t *testing.T) {
	if !SecretMatches("s3cret", "s3cret") {
		t.Error("expected identical secrets to match")
	}
	if SecretMatches("s3cre", "s3cret") {
		t.Error("expected prefix not to match")
	}
	if SecretMatches("", "") {
		t.Error("expected empty configured secret to reject everything")
	}
	if SecretMatches("anything", "") {
		t.Error("expected empty configured secret to reject everything")
	}
}
