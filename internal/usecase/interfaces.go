package usecase

import (
	"context"

	"posed/internal/domain"
)

// CryptoService canonicalizes and digests payloads. Canonicalization
// is deterministic: equal values always yield identical bytes.
type CryptoService interface {
	CanonicalizeAny(payload any) ([]byte, error)
	SHA256Hex0x(input []byte) string
}

// ChallengerSigVerifier accepts or rejects a challenge's signature.
// Implementations are pure and CPU-bound.
type ChallengerSigVerifier interface {
	VerifyChallenge(ch domain.ChallengeMessage) bool
}

type NodeSigVerifier interface {
	VerifyReceipt(rc domain.ReceiptMessage) bool
}

// WitnessVerifier checks the service evidence inside a receipt's
// response body for one challenge type. A false return is a business
// outcome; an error is an infrastructure failure.
type WitnessVerifier interface {
	VerifyWitness(ctx context.Context, ch domain.ChallengeMessage, rc domain.ReceiptMessage) (bool, error)
}

// NonceRegistry tracks consumed single-use tokens within a bounded
// recency window. Consume is the atomic seen-then-record pair; two
// concurrent presentations of the same key see at most one true.
type NonceRegistry interface {
	Seen(ctx context.Context, key string) (bool, error)
	Record(ctx context.Context, key string) error
	Consume(ctx context.Context, key string) (bool, error)
}

// VerdictRepository records adjudications for downstream scoring and
// audit. Best-effort: the verifier never fails a verdict over it.
type VerdictRepository interface {
	Append(ctx context.Context, ch domain.ChallengeMessage, verdict domain.Verdict) error
}

// SnapshotStore persists Replay Guard state. Load reports ok=false
// for a missing snapshot; a corrupt one is an error the guard treats
// as start-empty.
type SnapshotStore interface {
	Load(ctx context.Context) (domain.ReplaySnapshot, bool, error)
	Save(ctx context.Context, snap domain.ReplaySnapshot) error
}
