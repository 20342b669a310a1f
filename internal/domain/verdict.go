package domain

// Reason strings form a closed taxonomy. Callers branch on OK/Reason;
// these are business outcomes, not errors.
const (
	ReasonPairMismatch    = "challenge/receipt mismatch"
	ReasonChallengerSig   = "invalid challenger signature"
	ReasonNodeSig         = "invalid node signature"
	ReasonReceiptTooEarly = "receipt timestamp before challenge issuance"
	ReasonReceiptTimeout  = "receipt timeout"
	ReasonNonceReplay     = "nonce replay detected"
	ReasonInvalidRoute    = "invalid chain route"
	ReasonNonceOutOfOrder = "nonce not monotonic"
	ReasonReplayKeySeen   = "replay key already seen"
)

func ReasonWitnessInvalid(t ChallengeType) string {
	return string(t) + " witness invalid"
}

func ReasonWitnessNotConfigured(t ChallengeType) string {
	return string(t) + " verifier not configured"
}

// Verdict is the Receipt Verifier's judgment on one challenge/receipt
// pair. ResponseBodyHash is set only on success and is the unit
// recorded for downstream scoring.
type Verdict struct {
	OK               bool   `json:"ok"`
	Reason           string `json:"reason,omitempty"`
	ResponseBodyHash string `json:"response_body_hash,omitempty"`
}

// ReplayCheck is the Replay Guard's judgment on one envelope. The
// replay key is returned on success for the caller to pass to Commit.
type ReplayCheck struct {
	OK        bool   `json:"ok"`
	Reason    string `json:"reason,omitempty"`
	ReplayKey string `json:"replay_key,omitempty"`
}
