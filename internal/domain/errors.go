package domain

import "errors"

var (
	ErrInvalidHex32         = errors.New("invalid 32-byte hex field")
	ErrInvalidChallengeType = errors.New("invalid challenge type")
	ErrRegistryUnavailable  = errors.New("nonce registry unavailable")
)
