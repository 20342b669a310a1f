package domain

type ChallengeType string

const (
	ChallengeUptime  ChallengeType = "uptime"
	ChallengeStorage ChallengeType = "storage"
	ChallengeRelay   ChallengeType = "relay"
)

func (t ChallengeType) Valid() bool {
	switch t {
	case ChallengeUptime, ChallengeStorage, ChallengeRelay:
		return true
	}
	return false
}

// ChallengeMessage is issued once per challenge by a challenger and
// never mutated afterwards.
type ChallengeMessage struct {
	ChallengeID  Hex32          `json:"challenge_id"`
	EpochID      uint64         `json:"epoch_id"`
	NodeID       Hex32          `json:"node_id"`
	Type         ChallengeType  `json:"challenge_type"`
	Nonce        Hex32          `json:"nonce"`
	RandSeed     Hex32          `json:"rand_seed"`
	IssuedAtMs   uint64         `json:"issued_at_ms"`
	DeadlineMs   uint64         `json:"deadline_ms"`
	QuerySpec    map[string]any `json:"query_spec,omitempty"`
	ChallengerID Hex32          `json:"challenger_id"`
	ChallengerSig string        `json:"challenger_sig"`
}

// ReceiptMessage is the responding node's answer. It is meaningful
// only paired with the challenge it answers; the verifier enforces
// the pairing instead of trusting correlation by storage key.
type ReceiptMessage struct {
	ChallengeID  Hex32          `json:"challenge_id"`
	NodeID       Hex32          `json:"node_id"`
	ResponseAtMs uint64         `json:"response_at_ms"`
	ResponseBody map[string]any `json:"response_body"`
	NodeSig      string         `json:"node_sig"`
}
