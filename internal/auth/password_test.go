package auth

import "testing"

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "correct horse" {
		t.Fatal("hash must not equal the password")
	}
	if !CheckPassword(hash, "correct horse") {
		t.Error("expected matching password to check")
	}
	if CheckPassword(hash, "wrong horse") {
		t.Error("expected wrong password to fail")
	}
	if CheckPassword("not-a-hash", "correct horse") {
		t.Error("expected malformed hash to fail")
	}
}

func TestPassphraseMatches(t *testing.T) {
	tests := []struct {
		configured, offered string
		want                bool
	}{
		{"s3cret", "s3cret", true},
		{"s3cret", "s3cre", false},
		{"s3cret", "", false},
		{"", "", false},
		{"", "anything", false},
	}
	for _, tt := range tests {
		if got := PassphraseMatches(tt.configured, tt.offered); got != tt.want {
			t.Errorf("PassphraseMatches(%q, %q) = %v, want %v", tt.configured, tt.offered, got, tt.want)
		}
	}
}
