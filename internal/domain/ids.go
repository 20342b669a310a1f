package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Hex32 is a 32-byte identifier rendered as a 0x-prefixed lowercase
// hex string. The canonical form is enforced at parse time; a Hex32
// that did not come from ParseHex32 may fail Bytes.
type Hex32 string

const hex32Len = 2 + 64

func ParseHex32(s string) (Hex32, error) {
	if len(s) != hex32Len || !strings.HasPrefix(s, "0x") {
		return "", fmt.Errorf("%w: want 0x-prefixed 64 hex chars, got %q", ErrInvalidHex32, s)
	}
	lower := strings.ToLower(s)
	if _, err := hex.DecodeString(lower[2:]); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidHex32, s)
	}
	return Hex32(lower), nil
}

// Bytes returns the raw 32 bytes. Malformed values are precondition
// violations, never silently truncated.
func (h Hex32) Bytes() ([]byte, error) {
	if len(h) != hex32Len || !strings.HasPrefix(string(h), "0x") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHex32, string(h))
	}
	raw, err := hex.DecodeString(string(h)[2:])
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHex32, string(h))
	}
	return raw, nil
}

func (h Hex32) IsZero() bool {
	return h == ""
}
