package utils

import (
	"strings"
	"testing"
)

func TestFieldCipherRoundTrip(t *testing.T) {
	c, err := NewFieldCipher("test-secret")
	if err != nil {
		t.Fatalf("NewFieldCipher: %v", err)
	}

	sealed, err := c.Seal("DE89370400440532013000")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !IsSealed(sealed) || strings.Contains(sealed, "0532013000") {
		t.Fatalf("sealed value leaks plaintext or lacks tag: %q", sealed)
	}

	again, _ := c.Seal("DE89370400440532013000")
	if again == sealed {
		t.Fatal("expected a fresh nonce per seal")
	}

	plain, err := c.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if plain != "DE89370400440532013000" {
		t.Fatalf("got %q", plain)
	}
}

func TestFieldCipherRejectsTamperingAndWrongKey(t *testing.T) {
	c, _ := NewFieldCipher("key-one")
	other, _ := NewFieldCipher("key-two")

	sealed, err := c.Seal("12345678")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := other.Open(sealed); err == nil {
		t.Fatal("expected failure with a different key")
	}

	if _, err := c.Open(sealedPrefix + "%%%not-base64"); err != ErrMalformedSealed {
		t.Fatalf("expected ErrMalformedSealed, got %v", err)
	}
	if _, err := c.Open(sealedPrefix + "AAAA"); err != ErrCiphertextTooShort {
		t.Fatalf("expected ErrCiphertextTooShort, got %v", err)
	}
}

func TestFieldCipherPassesLegacyPlaintext(t *testing.T) {
	c, _ := NewFieldCipher("k")
	plain, err := c.Open("00112233")
	if err != nil || plain != "00112233" {
		t.Fatalf("legacy value: got %q, %v", plain, err)
	}
}

func TestNewFieldCipherRequiresKey(t *testing.T) {
	if _, err := NewFieldCipher(""); err != ErrEmptyKey {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}
