// Package roomcode generates and validates human-shareable room codes.
//
// Room codes are 6 characters drawn uniformly from the 36-symbol alphabet
// [A-Z0-9] using crypto/rand. They are the only externally visible wire
// artifact of the lobby, read aloud and copy/pasted by humans, so the
// format is a hard contract: exactly 6 uppercase alphanumerics.
package roomcode

import (
	"crypto/rand"
	"fmt"
	"strings"

	apperrors "github.com/codeclash/arena/internal/platform/errors"
)

// Alphabet is the symbol set room codes are drawn from.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the fixed room code length.
const Length = 6

// ErrInvalidFormat indicates input that is not a well-formed room code.
var ErrInvalidFormat = apperrors.New(apperrors.CodeRoomCodeInvalidFormat, "room code must be 6 characters of A-Z or 0-9")

// maxUniformByte is the largest byte value that keeps the modulo draw
// uniform over the 36-symbol alphabet (floor(256/36)*36).
const maxUniformByte = 252

// Generate returns a fresh room code. Draws are independent across calls;
// uniqueness against live sessions is the caller's responsibility.
func Generate() (string, error) {
	code := make([]byte, 0, Length)
	buf := make([]byte, Length)
	for len(code) < Length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= maxUniformByte {
				continue
			}
			code = append(code, Alphabet[int(b)%len(Alphabet)])
			if len(code) == Length {
				break
			}
		}
	}
	return string(code), nil
}

// Normalize trims surrounding whitespace and upper-cases raw input.
// Code comparison is case-insensitive on input but codes are stored and
// returned upper-case.
func Normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// Validate checks that code is exactly 6 characters of [A-Z0-9].
func Validate(code string) error {
	if len(code) != Length {
		return ErrInvalidFormat
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return ErrInvalidFormat
		}
	}
	return nil
}
