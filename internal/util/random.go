// Package util provides identifier and environment helpers shared across components.
package util

import (
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
)

// NewID returns a prefixed UUID, e.g. "conv_6f1c...". Used for every
// persisted entity.
func NewID(prefix string) string {
	return prefix + uuid.NewString()
}

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Not suitable for secrets.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// Jitter scales d by a random factor in [1-fraction, 1+fraction].
func Jitter(d float64, fraction float64) float64 {
	if fraction <= 0 {
		return d
	}
	return d * (1 - fraction + rand.Float64()*2*fraction)
}
