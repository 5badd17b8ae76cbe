package crypto

import "testing"

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("abc123")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	if hash == "abc123" {
		t.Fatalf("expected password to be hashed")
	}
	if err := CheckPassword(hash, "abc123"); err != nil {
		t.Fatalf("expected password to match")
	}
	if err := CheckPassword(hash, "abc124"); err == nil {
		t.Fatalf("expected password mismatch")
	}
}
