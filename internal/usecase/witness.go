package usecase

import (
	"context"
	"encoding/json"

	"posed/internal/domain"
)

// Built-in witness verifiers. These cover the response-body shape each
// service type must produce; deployments wanting richer rules swap in
// the policy-backed verifier instead.

type UptimeWitness struct{}

// VerifyWitness requires the node to echo the challenge's random seed,
// binding the response to this particular challenge.
func (UptimeWitness) VerifyWitness(_ context.Context, ch domain.ChallengeMessage, rc domain.ReceiptMessage) (bool, error) {
	echoed, ok := bodyString(rc.ResponseBody, "echo_seed")
	return ok && echoed == string(ch.RandSeed), nil
}

type StorageWitness struct{}

func (StorageWitness) VerifyWitness(_ context.Context, ch domain.ChallengeMessage, rc domain.ReceiptMessage) (bool, error) {
	chunkHash, ok := bodyString(rc.ResponseBody, "chunk_hash")
	if !ok || chunkHash == "" {
		return false, nil
	}
	if expected, ok := bodyString(ch.QuerySpec, "expected_chunk_hash"); ok {
		return chunkHash == expected, nil
	}
	return true, nil
}

type RelayWitness struct{}

func (RelayWitness) VerifyWitness(_ context.Context, _ domain.ChallengeMessage, rc domain.ReceiptMessage) (bool, error) {
	target, ok := bodyString(rc.ResponseBody, "relay_target")
	if !ok || target == "" {
		return false, nil
	}
	method, ok := bodyString(rc.ResponseBody, "relay_method")
	if !ok || method == "" {
		return false, nil
	}
	if _, ok := rc.ResponseBody["relay_result"]; !ok {
		return false, nil
	}
	latency, ok := bodyNumber(rc.ResponseBody, "relay_latency_ms")
	return ok && latency >= 0, nil
}

// DefaultWitnesses wires one built-in verifier per challenge type.
func DefaultWitnesses() map[domain.ChallengeType]WitnessVerifier {
	return map[domain.ChallengeType]WitnessVerifier{
		domain.ChallengeUptime:  UptimeWitness{},
		domain.ChallengeStorage: StorageWitness{},
		domain.ChallengeRelay:   RelayWitness{},
	}
}

func bodyString(body map[string]any, key string) (string, bool) {
	v, ok := body[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func bodyNumber(body map[string]any, key string) (float64, bool) {
	switch v := body[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
