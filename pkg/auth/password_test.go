package auth

import (
	"errors"
	"testing"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "s3cret-pass" {
		t.Fatalf("hash must not equal plaintext")
	}
	if !CheckPassword("s3cret-pass", hash) {
		t.Fatalf("expected password to verify")
	}
	if CheckPassword("wrong-pass1", hash) {
		t.Fatalf("expected wrong password to fail")
	}
}

func TestCheckPasswordRejectsMalformedHash(t *testing.T) {
	if CheckPassword("anything1", "not-a-bcrypt-hash") {
		t.Fatalf("malformed hash must not verify")
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("ab1"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("short password: got %v", err)
	}
	if err := ValidatePassword("lettersonly"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("no digit: got %v", err)
	}
	if err := ValidatePassword("12345678"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("no letter: got %v", err)
	}
	if err := ValidatePassword("letters4nddigits"); err != nil {
		t.Fatalf("valid password rejected: %v", err)
	}
}
