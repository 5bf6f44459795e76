// Package secret generates the unguessable tokens used by the gateway:
// CSRF tokens, PKCE verifiers and container connection secrets.
package secret

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// maxByte is the largest multiple of len(alphabet) that fits in a byte.
// Bytes at or above it are rejected so every character is equally likely.
const maxByte = 256 - (256 % len(alphabet))

// ErrEntropy is returned when the random source cannot be read.
var ErrEntropy = errors.New("entropy source exhausted")

var reader io.Reader = rand.Reader

// Generate returns a uniformly random alphanumeric string of the given length.
func Generate(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid secret length %d", length)
	}

	out := make([]byte, 0, length)
	buf := make([]byte, length+length/4)
	for len(out) < length {
		if _, err := io.ReadFull(reader, buf); err != nil {
			return "", fmt.Errorf("%w: %v", ErrEntropy, err)
		}
		for _, b := range buf {
			if int(b) >= maxByte {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == length {
				break
			}
		}
	}

	return string(out), nil
}
