package keygen

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Mangler turns a generated key into the storage key a backend sees.
type Mangler func(key string) string

// SHA1 hex-encodes the SHA-1 of the key. Default for regions.
func SHA1(key string) string {
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}

// XXHash renders the 64-bit xxhash of the key in hex. Shorter and faster
// than SHA1 with a higher collision rate; fine for local backends.
func XXHash(key string) string {
	return strconv.FormatUint(xxhash.Sum64String(key), 16)
}

// Identity leaves keys untouched.
func Identity(key string) string { return key }

// LengthConditional applies m only to keys longer than n bytes.
func LengthConditional(n int, m Mangler) Mangler {
	return func(key string) string {
		if len(key) > n {
			return m(key)
		}
		return key
	}
}

// Prefixed prepends prefix after mangling, e.g. to share one redis database
// between applications.
func Prefixed(prefix string, m Mangler) Mangler {
	return func(key string) string { return prefix + m(key) }
}
