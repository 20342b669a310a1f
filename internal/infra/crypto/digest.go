package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

func SHA256Hex(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}

// SHA256Hex0x renders the digest the way 32-byte fields travel on the
// wire: 0x-prefixed lowercase hex.
func SHA256Hex0x(input []byte) string {
	return "0x" + SHA256Hex(input)
}
