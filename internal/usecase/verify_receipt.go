package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"posed/internal/domain"
)

// VerifyReceipt adjudicates challenge/receipt pairs. The pipeline is
// fixed and short-circuits on the first failing check; only the nonce
// consume mutates shared state, and it runs last so a malformed
// receipt never burns the challenge's nonce.
type VerifyReceipt struct {
	Crypto        CryptoService
	ChallengerSig ChallengerSigVerifier
	NodeSig       NodeSigVerifier
	Witnesses     map[domain.ChallengeType]WitnessVerifier
	Nonces        NonceRegistry
	Verdicts      VerdictRepository

	log *zap.Logger
}

type VerifyReceiptConfig struct {
	Crypto        CryptoService
	ChallengerSig ChallengerSigVerifier
	NodeSig       NodeSigVerifier
	Logger        *zap.Logger
}

func NewVerifyReceipt(cfg VerifyReceiptConfig) (*VerifyReceipt, error) {
	if cfg.Crypto == nil {
		return nil, errors.New("crypto service is required")
	}
	if cfg.ChallengerSig == nil {
		return nil, errors.New("challenger signature verifier is required")
	}
	if cfg.NodeSig == nil {
		return nil, errors.New("node signature verifier is required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &VerifyReceipt{
		Crypto:        cfg.Crypto,
		ChallengerSig: cfg.ChallengerSig,
		NodeSig:       cfg.NodeSig,
		Witnesses:     make(map[domain.ChallengeType]WitnessVerifier),
		log:           log,
	}, nil
}

func (uc *VerifyReceipt) Execute(ctx context.Context, ch domain.ChallengeMessage, rc domain.ReceiptMessage) (domain.Verdict, error) {
	verdict, err := uc.adjudicate(ctx, ch, rc)
	if err != nil {
		return domain.Verdict{}, err
	}
	if uc.Verdicts != nil {
		// Audit writes are best-effort; a failure never flips the
		// verdict but must reach operators.
		if err := uc.Verdicts.Append(ctx, ch, verdict); err != nil {
			uc.log.Warn("verdict audit append failed",
				zap.String("challenge_id", string(ch.ChallengeID)),
				zap.Error(err))
		}
	}
	return verdict, nil
}

func (uc *VerifyReceipt) adjudicate(ctx context.Context, ch domain.ChallengeMessage, rc domain.ReceiptMessage) (domain.Verdict, error) {
	if rc.ChallengeID != ch.ChallengeID || rc.NodeID != ch.NodeID {
		return reject(domain.ReasonPairMismatch), nil
	}

	if !uc.ChallengerSig.VerifyChallenge(ch) {
		return reject(domain.ReasonChallengerSig), nil
	}
	if !uc.NodeSig.VerifyReceipt(rc) {
		return reject(domain.ReasonNodeSig), nil
	}

	if rc.ResponseAtMs < ch.IssuedAtMs {
		return reject(domain.ReasonReceiptTooEarly), nil
	}
	// Deadline boundary is inclusive. A window that would overflow
	// uint64 never expires instead of wrapping to reject everything.
	if ch.DeadlineMs <= math.MaxUint64-ch.IssuedAtMs && rc.ResponseAtMs > ch.IssuedAtMs+ch.DeadlineMs {
		return reject(domain.ReasonReceiptTimeout), nil
	}

	witness := uc.Witnesses[ch.Type]
	if witness == nil {
		return reject(domain.ReasonWitnessNotConfigured(ch.Type)), nil
	}
	ok, err := witness.VerifyWitness(ctx, ch, rc)
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("witness check: %w", err)
	}
	if !ok {
		return reject(domain.ReasonWitnessInvalid(ch.Type)), nil
	}

	if uc.Nonces != nil {
		fresh, err := uc.Nonces.Consume(ctx, NonceKey(ch))
		if err != nil {
			return domain.Verdict{}, fmt.Errorf("nonce registry: %w", err)
		}
		if !fresh {
			return reject(domain.ReasonNonceReplay), nil
		}
	}

	canonical, err := uc.Crypto.CanonicalizeAny(rc.ResponseBody)
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("canonicalize response body: %w", err)
	}
	return domain.Verdict{
		OK:               true,
		ResponseBodyHash: uc.Crypto.SHA256Hex0x(canonical),
	}, nil
}

// NonceKey scopes replay protection to (node, nonce) so colliding
// nonce values issued to different nodes never interfere.
func NonceKey(ch domain.ChallengeMessage) string {
	return string(ch.NodeID) + ":" + string(ch.Nonce)
}

func reject(reason string) domain.Verdict {
	return domain.Verdict{OK: false, Reason: reason}
}
