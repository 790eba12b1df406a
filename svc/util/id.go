package util

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

// keyAlphabet deliberately drops visually confusable characters
// (0/O, 1/l/I) so keys survive being read aloud or retyped.
const keyAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// KeyLength is the length of every generated paste key.
const KeyLength = 8

// KeyPattern is the shape every external-facing key must match before
// any lookup is attempted. Looser than the generator's alphabet: keys
// minted by earlier deployments stay retrievable.
var KeyPattern = regexp.MustCompile(`^[a-zA-Z0-9]{5,12}$`)

// GenKey returns a fresh random paste key. Pure draw from the alphabet;
// uniqueness is the caller's problem (the paste store retries on
// primary-key conflict).
func GenKey() string {
	max := big.NewInt(int64(len(keyAlphabet)))
	buf := make([]byte, KeyLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform source is
			// broken, at which point nothing else works either.
			panic(err)
		}
		buf[i] = keyAlphabet[n.Int64()]
	}
	return string(buf)
}

// ValidKey reports whether s is a plausible paste key.
func ValidKey(s string) bool {
	return KeyPattern.MatchString(s)
}
