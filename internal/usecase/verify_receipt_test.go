package usecase

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"posed/internal/domain"
	"posed/internal/infra/crypto"
)

var _ CryptoService = (*crypto.Service)(nil)

type memoryNonceFake struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemoryNonceFake() *memoryNonceFake {
	return &memoryNonceFake{seen: make(map[string]bool)}
}

func (f *memoryNonceFake) Seen(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[key], nil
}

func (f *memoryNonceFake) Record(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[key] = true
	return nil
}

func (f *memoryNonceFake) Consume(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

type staticWitness struct {
	ok  bool
	err error
}

func (w staticWitness) VerifyWitness(context.Context, domain.ChallengeMessage, domain.ReceiptMessage) (bool, error) {
	return w.ok, w.err
}

type trackingVerdicts struct {
	mu      sync.Mutex
	entries []domain.Verdict
}

func (r *trackingVerdicts) Append(_ context.Context, _ domain.ChallengeMessage, verdict domain.Verdict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, verdict)
	return nil
}

type verifierHarness struct {
	uc            *VerifyReceipt
	challengerKey ed25519.PrivateKey
	nodeKey       ed25519.PrivateKey
}

func newVerifierHarness(t *testing.T) *verifierHarness {
	t.Helper()
	challengerPub, challengerPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate challenger key: %v", err)
	}
	nodePub, nodePriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate node key: %v", err)
	}
	challengerSig, err := crypto.NewChallengerVerifier(challengerPub)
	if err != nil {
		t.Fatalf("challenger verifier: %v", err)
	}
	nodeSig, err := crypto.NewNodeVerifier(nodePub)
	if err != nil {
		t.Fatalf("node verifier: %v", err)
	}
	uc, err := NewVerifyReceipt(VerifyReceiptConfig{
		Crypto:        crypto.NewService(),
		ChallengerSig: challengerSig,
		NodeSig:       nodeSig,
	})
	if err != nil {
		t.Fatalf("new verify receipt: %v", err)
	}
	uc.Witnesses = map[domain.ChallengeType]WitnessVerifier{
		domain.ChallengeRelay: staticWitness{ok: true},
	}
	uc.Nonces = newMemoryNonceFake()
	return &verifierHarness{uc: uc, challengerKey: challengerPriv, nodeKey: nodePriv}
}

func hex32(b byte) domain.Hex32 {
	return domain.Hex32(fmt.Sprintf("0x%064x", b))
}

func (h *verifierHarness) pair(t *testing.T, mutate func(ch *domain.ChallengeMessage, rc *domain.ReceiptMessage)) (domain.ChallengeMessage, domain.ReceiptMessage) {
	t.Helper()
	ch := domain.ChallengeMessage{
		ChallengeID:  hex32(1),
		EpochID:      7,
		NodeID:       hex32(2),
		Type:         domain.ChallengeRelay,
		Nonce:        hex32(3),
		RandSeed:     hex32(4),
		IssuedAtMs:   1_000_000,
		DeadlineMs:   30_000,
		ChallengerID: hex32(5),
	}
	rc := domain.ReceiptMessage{
		ChallengeID:  ch.ChallengeID,
		NodeID:       ch.NodeID,
		ResponseAtMs: 1_010_000,
		ResponseBody: map[string]any{
			"relay_target":     "https://rpc.example",
			"relay_method":     "eth_blockNumber",
			"relay_result":     "0x10",
			"relay_latency_ms": 42,
		},
	}
	if mutate != nil {
		mutate(&ch, &rc)
	}
	sig, err := crypto.SignChallenge(h.challengerKey, ch)
	if err != nil {
		t.Fatalf("sign challenge: %v", err)
	}
	ch.ChallengerSig = sig
	nodeSig, err := crypto.SignReceipt(h.nodeKey, rc)
	if err != nil {
		t.Fatalf("sign receipt: %v", err)
	}
	rc.NodeSig = nodeSig
	return ch, rc
}

func TestVerifyReceiptAccepts(t *testing.T) {
	h := newVerifierHarness(t)
	ch, rc := h.pair(t, nil)

	verdict, err := h.uc.Execute(context.Background(), ch, rc)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !verdict.OK {
		t.Fatalf("expected ok, got reason %q", verdict.Reason)
	}
	if !strings.HasPrefix(verdict.ResponseBodyHash, "0x") || len(verdict.ResponseBodyHash) != 66 {
		t.Fatalf("unexpected response body hash %q", verdict.ResponseBodyHash)
	}
}

func TestVerifyReceiptRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(ch *domain.ChallengeMessage, rc *domain.ReceiptMessage)
		want   string
	}{
		{
			name: "challenge id mismatch",
			mutate: func(ch *domain.ChallengeMessage, rc *domain.ReceiptMessage) {
				rc.ChallengeID = hex32(9)
			},
			want: domain.ReasonPairMismatch,
		},
		{
			name: "node id mismatch",
			mutate: func(ch *domain.ChallengeMessage, rc *domain.ReceiptMessage) {
				rc.NodeID = hex32(9)
			},
			want: domain.ReasonPairMismatch,
		},
		{
			name: "response before issuance",
			mutate: func(ch *domain.ChallengeMessage, rc *domain.ReceiptMessage) {
				rc.ResponseAtMs = ch.IssuedAtMs - 1
			},
			want: domain.ReasonReceiptTooEarly,
		},
		{
			name: "response after deadline",
			mutate: func(ch *domain.ChallengeMessage, rc *domain.ReceiptMessage) {
				rc.ResponseAtMs = ch.IssuedAtMs + ch.DeadlineMs + 1
			},
			want: domain.ReasonReceiptTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newVerifierHarness(t)
			ch, rc := h.pair(t, tt.mutate)
			verdict, err := h.uc.Execute(context.Background(), ch, rc)
			if err != nil {
				t.Fatalf("execute: %v", err)
			}
			if verdict.OK {
				t.Fatalf("expected rejection")
			}
			if verdict.Reason != tt.want {
				t.Fatalf("reason = %q, want %q", verdict.Reason, tt.want)
			}
			if verdict.ResponseBodyHash != "" {
				t.Fatalf("rejection must not carry a body hash")
			}
		})
	}
}

func TestVerifyReceiptDeadlineBoundaryInclusive(t *testing.T) {
	h := newVerifierHarness(t)
	ch, rc := h.pair(t, func(ch *domain.ChallengeMessage, rc *domain.ReceiptMessage) {
		rc.ResponseAtMs = ch.IssuedAtMs + ch.DeadlineMs
	})
	verdict, err := h.uc.Execute(context.Background(), ch, rc)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !verdict.OK {
		t.Fatalf("deadline boundary must be accepted, got %q", verdict.Reason)
	}
}

func TestVerifyReceiptInvalidChallengerSignature(t *testing.T) {
	h := newVerifierHarness(t)
	ch, rc := h.pair(t, nil)
	ch.EpochID++ // breaks the signature without touching the pairing

	verdict, err := h.uc.Execute(context.Background(), ch, rc)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if verdict.OK || verdict.Reason != domain.ReasonChallengerSig {
		t.Fatalf("verdict = %+v, want challenger signature rejection", verdict)
	}
}

func TestVerifyReceiptInvalidNodeSignature(t *testing.T) {
	h := newVerifierHarness(t)
	ch, rc := h.pair(t, nil)
	rc.ResponseBody["relay_result"] = "tampered"

	verdict, err := h.uc.Execute(context.Background(), ch, rc)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if verdict.OK || verdict.Reason != domain.ReasonNodeSig {
		t.Fatalf("verdict = %+v, want node signature rejection", verdict)
	}
}

func TestVerifyReceiptWitnessInvalid(t *testing.T) {
	h := newVerifierHarness(t)
	h.uc.Witnesses[domain.ChallengeRelay] = staticWitness{ok: false}
	ch, rc := h.pair(t, nil)

	verdict, err := h.uc.Execute(context.Background(), ch, rc)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if verdict.OK || verdict.Reason != "relay witness invalid" {
		t.Fatalf("verdict = %+v, want relay witness invalid", verdict)
	}
}

func TestVerifyReceiptWitnessNotConfigured(t *testing.T) {
	h := newVerifierHarness(t)
	ch, rc := h.pair(t, func(ch *domain.ChallengeMessage, rc *domain.ReceiptMessage) {
		ch.Type = domain.ChallengeUptime
	})

	verdict, err := h.uc.Execute(context.Background(), ch, rc)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if verdict.OK || verdict.Reason != "uptime verifier not configured" {
		t.Fatalf("verdict = %+v, want uptime verifier not configured", verdict)
	}
}

func TestVerifyReceiptNonceReplay(t *testing.T) {
	h := newVerifierHarness(t)
	ch, rc := h.pair(t, nil)

	first, err := h.uc.Execute(context.Background(), ch, rc)
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if !first.OK {
		t.Fatalf("first presentation must pass, got %q", first.Reason)
	}

	second, err := h.uc.Execute(context.Background(), ch, rc)
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if second.OK || second.Reason != domain.ReasonNonceReplay {
		t.Fatalf("verdict = %+v, want nonce replay detected", second)
	}
}

func TestVerifyReceiptDistinctNoncesBothPass(t *testing.T) {
	h := newVerifierHarness(t)
	ch1, rc1 := h.pair(t, nil)
	ch2, rc2 := h.pair(t, func(ch *domain.ChallengeMessage, rc *domain.ReceiptMessage) {
		ch.ChallengeID = hex32(10)
		ch.Nonce = hex32(11)
		rc.ChallengeID = hex32(10)
	})

	for i, pair := range []struct {
		ch domain.ChallengeMessage
		rc domain.ReceiptMessage
	}{{ch1, rc1}, {ch2, rc2}} {
		verdict, err := h.uc.Execute(context.Background(), pair.ch, pair.rc)
		if err != nil {
			t.Fatalf("execute %d: %v", i, err)
		}
		if !verdict.OK {
			t.Fatalf("pair %d rejected: %q", i, verdict.Reason)
		}
	}
}

func TestVerifyReceiptMalformedReceiptDoesNotBurnNonce(t *testing.T) {
	h := newVerifierHarness(t)
	ch, rc := h.pair(t, nil)
	rc.NodeSig = "not-base64!"

	verdict, err := h.uc.Execute(context.Background(), ch, rc)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if verdict.OK || verdict.Reason != domain.ReasonNodeSig {
		t.Fatalf("verdict = %+v, want node signature rejection", verdict)
	}

	// A legitimate retry after the transport hiccup must still pass.
	ch, rc = h.pair(t, nil)
	retry, err := h.uc.Execute(context.Background(), ch, rc)
	if err != nil {
		t.Fatalf("retry execute: %v", err)
	}
	if !retry.OK {
		t.Fatalf("retry rejected: %q", retry.Reason)
	}
}

func TestVerifyReceiptBodyHashDeterminism(t *testing.T) {
	h := newVerifierHarness(t)
	h.uc.Nonces = nil

	ch, rc := h.pair(t, nil)
	first, err := h.uc.Execute(context.Background(), ch, rc)
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}
	second, err := h.uc.Execute(context.Background(), ch, rc)
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if first.ResponseBodyHash != second.ResponseBodyHash {
		t.Fatalf("identical bodies hashed differently: %q vs %q", first.ResponseBodyHash, second.ResponseBodyHash)
	}

	ch2, rc2 := h.pair(t, func(ch *domain.ChallengeMessage, rc *domain.ReceiptMessage) {
		rc.ResponseBody["relay_result"] = "0x11"
	})
	changed, err := h.uc.Execute(context.Background(), ch2, rc2)
	if err != nil {
		t.Fatalf("changed execute: %v", err)
	}
	if changed.ResponseBodyHash == first.ResponseBodyHash {
		t.Fatalf("changed body produced identical hash")
	}
}

func TestVerifyReceiptConcurrentPresentation(t *testing.T) {
	h := newVerifierHarness(t)
	ch, rc := h.pair(t, nil)

	const attempts = 16
	results := make(chan domain.Verdict, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			verdict, err := h.uc.Execute(context.Background(), ch, rc)
			if err != nil {
				t.Errorf("execute: %v", err)
				return
			}
			results <- verdict
		}()
	}
	wg.Wait()
	close(results)

	accepted := 0
	for verdict := range results {
		if verdict.OK {
			accepted++
		} else if verdict.Reason != domain.ReasonNonceReplay {
			t.Fatalf("unexpected reason %q", verdict.Reason)
		}
	}
	if accepted != 1 {
		t.Fatalf("accepted = %d, want exactly 1", accepted)
	}
}

func TestVerifyReceiptOverflowingDeadlineNeverExpires(t *testing.T) {
	h := newVerifierHarness(t)
	ch, rc := h.pair(t, func(ch *domain.ChallengeMessage, rc *domain.ReceiptMessage) {
		ch.IssuedAtMs = 1_000_000
		ch.DeadlineMs = math.MaxUint64
		rc.ResponseAtMs = math.MaxUint64
	})

	verdict, err := h.uc.Execute(context.Background(), ch, rc)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !verdict.OK {
		t.Fatalf("overflowing deadline rejected the receipt: %q", verdict.Reason)
	}
}

type failingVerdicts struct {
	calls int
}

func (r *failingVerdicts) Append(context.Context, domain.ChallengeMessage, domain.Verdict) error {
	r.calls++
	return errors.New("connection refused")
}

func TestVerifyReceiptAuditFailureIsLogged(t *testing.T) {
	core, logged := observer.New(zap.WarnLevel)
	h := newVerifierHarness(t)
	h.uc.log = zap.New(core)
	repo := &failingVerdicts{}
	h.uc.Verdicts = repo

	ch, rc := h.pair(t, nil)
	verdict, err := h.uc.Execute(context.Background(), ch, rc)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !verdict.OK {
		t.Fatalf("audit failure flipped the verdict: %q", verdict.Reason)
	}
	if repo.calls != 1 {
		t.Fatalf("append calls = %d, want 1", repo.calls)
	}
	entries := logged.FilterMessage("verdict audit append failed").All()
	if len(entries) != 1 {
		t.Fatalf("logged %d warnings, want 1", len(logged.All()))
	}
}

func TestVerifyReceiptRecordsVerdicts(t *testing.T) {
	h := newVerifierHarness(t)
	tracker := &trackingVerdicts{}
	h.uc.Verdicts = tracker

	ch, rc := h.pair(t, nil)
	if _, err := h.uc.Execute(context.Background(), ch, rc); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := h.uc.Execute(context.Background(), ch, rc); err != nil {
		t.Fatalf("replay execute: %v", err)
	}

	if len(tracker.entries) != 2 {
		t.Fatalf("recorded %d verdicts, want 2", len(tracker.entries))
	}
	if !tracker.entries[0].OK || tracker.entries[1].OK {
		t.Fatalf("recorded verdicts = %+v", tracker.entries)
	}
}
