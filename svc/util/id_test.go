package util

import (
	"strings"
	"testing"
)

func TestGenKeyShape(t *testing.T) {
	for i := 0; i < 100; i++ {
		key := GenKey()
		if len(key) != KeyLength {
			t.Fatalf("key %q has length %d, want %d", key, len(key), KeyLength)
		}
		for _, r := range key {
			if !strings.ContainsRune(keyAlphabet, r) {
				t.Fatalf("key %q contains %q, not in alphabet", key, r)
			}
		}
		if !ValidKey(key) {
			t.Fatalf("generated key %q does not match KeyPattern", key)
		}
	}
}

func TestKeyAlphabetExcludesConfusables(t *testing.T) {
	for _, r := range "0O1lI" {
		if strings.ContainsRune(keyAlphabet, r) {
			t.Errorf("alphabet contains confusable character %q", r)
		}
	}
}

func TestGenKeyDistinct(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		key := GenKey()
		if _, dup := seen[key]; dup {
			t.Fatalf("duplicate key %q after %d draws", key, i)
		}
		seen[key] = struct{}{}
	}
}

func TestValidKey(t *testing.T) {
	valid := []string{"abcde", "ABC12345", "abcdefghijkl", "x2Y9z8Q7"}
	for _, k := range valid {
		if !ValidKey(k) {
			t.Errorf("ValidKey(%q) = false, want true", k)
		}
	}
	invalid := []string{"", "abcd", "abcdefghijklm", "abc-de", "ключ1234", "a b c d", "../etc"}
	for _, k := range invalid {
		if ValidKey(k) {
			t.Errorf("ValidKey(%q) = true, want false", k)
		}
	}
}
