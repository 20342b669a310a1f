package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"

	"posed/internal/domain"
)

// Reference ed25519 signature predicates. Key material management is
// the embedder's problem; these verify over the canonical encoding of
// the message with the signature field excluded.

type challengePayload struct {
	ChallengeID  domain.Hex32         `json:"challenge_id"`
	EpochID      uint64               `json:"epoch_id"`
	NodeID       domain.Hex32         `json:"node_id"`
	Type         domain.ChallengeType `json:"challenge_type"`
	Nonce        domain.Hex32         `json:"nonce"`
	RandSeed     domain.Hex32         `json:"rand_seed"`
	IssuedAtMs   uint64               `json:"issued_at_ms"`
	DeadlineMs   uint64               `json:"deadline_ms"`
	QuerySpec    map[string]any       `json:"query_spec,omitempty"`
	ChallengerID domain.Hex32         `json:"challenger_id"`
}

type receiptPayload struct {
	ChallengeID  domain.Hex32   `json:"challenge_id"`
	NodeID       domain.Hex32   `json:"node_id"`
	ResponseAtMs uint64         `json:"response_at_ms"`
	ResponseBody map[string]any `json:"response_body"`
}

func CanonicalChallengeBytes(ch domain.ChallengeMessage) ([]byte, error) {
	return CanonicalizeAny(challengePayload{
		ChallengeID:  ch.ChallengeID,
		EpochID:      ch.EpochID,
		NodeID:       ch.NodeID,
		Type:         ch.Type,
		Nonce:        ch.Nonce,
		RandSeed:     ch.RandSeed,
		IssuedAtMs:   ch.IssuedAtMs,
		DeadlineMs:   ch.DeadlineMs,
		QuerySpec:    ch.QuerySpec,
		ChallengerID: ch.ChallengerID,
	})
}

func CanonicalReceiptBytes(rc domain.ReceiptMessage) ([]byte, error) {
	return CanonicalizeAny(receiptPayload{
		ChallengeID:  rc.ChallengeID,
		NodeID:       rc.NodeID,
		ResponseAtMs: rc.ResponseAtMs,
		ResponseBody: rc.ResponseBody,
	})
}

type ChallengerVerifier struct {
	pub ed25519.PublicKey
}

func NewChallengerVerifier(pub ed25519.PublicKey) (*ChallengerVerifier, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid ed25519 public key length: %d", len(pub))
	}
	return &ChallengerVerifier{pub: pub}, nil
}

func (v *ChallengerVerifier) VerifyChallenge(ch domain.ChallengeMessage) bool {
	canonical, err := CanonicalChallengeBytes(ch)
	if err != nil {
		return false
	}
	return verifyBase64(v.pub, canonical, ch.ChallengerSig)
}

type NodeVerifier struct {
	pub ed25519.PublicKey
}

func NewNodeVerifier(pub ed25519.PublicKey) (*NodeVerifier, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid ed25519 public key length: %d", len(pub))
	}
	return &NodeVerifier{pub: pub}, nil
}

func (v *NodeVerifier) VerifyReceipt(rc domain.ReceiptMessage) bool {
	canonical, err := CanonicalReceiptBytes(rc)
	if err != nil {
		return false
	}
	return verifyBase64(v.pub, canonical, rc.NodeSig)
}

func verifyBase64(pub ed25519.PublicKey, message []byte, sig string) bool {
	if sig == "" {
		return false
	}
	sigBytes, err := base64.StdEncoding.DecodeString(sig)
	if err != nil || len(sigBytes) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, message, sigBytes)
}

// SignChallenge and SignReceipt exist for challengers and nodes built
// against this module, and for tests.

func SignChallenge(priv ed25519.PrivateKey, ch domain.ChallengeMessage) (string, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return "", errors.New("invalid ed25519 private key length")
	}
	canonical, err := CanonicalChallengeBytes(ch)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, canonical)), nil
}

func SignReceipt(priv ed25519.PrivateKey, rc domain.ReceiptMessage) (string, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return "", errors.New("invalid ed25519 private key length")
	}
	canonical, err := CanonicalReceiptBytes(rc)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, canonical)), nil
}
