package security

import (
	"errors"
	"strings"
	"testing"
)

func TestHashAndCompareSecret(t *testing.T) {
	hash, err := HashSecret("s3cret")
	if err != nil {
		t.Fatalf("HashSecret() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("hash %q is not a bcrypt hash", hash)
	}

	if err := CompareSecret(hash, "s3cret"); err != nil {
		t.Errorf("CompareSecret() with correct secret error = %v", err)
	}
	if err := CompareSecret(hash, "wrong"); !errors.Is(err, ErrSecretMismatch) {
		t.Errorf("CompareSecret() with wrong secret error = %v, want ErrSecretMismatch", err)
	}
	if err := CompareSecret("", "anything"); !errors.Is(err, ErrSecretMismatch) {
		t.Errorf("CompareSecret() with empty hash error = %v, want ErrSecretMismatch", err)
	}
}

func TestHashSecret_Empty(t *testing.T) {
	if _, err := HashSecret(""); err == nil {
		t.Error("HashSecret(\"\") should fail")
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !ConstantTimeEqual("abc", "abc") {
		t.Error("equal strings reported unequal")
	}
	if ConstantTimeEqual("abc", "abd") || ConstantTimeEqual("abc", "ab") {
		t.Error("unequal strings reported equal")
	}
}
