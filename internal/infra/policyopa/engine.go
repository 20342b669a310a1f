package policyopa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"posed/internal/domain"
	"posed/internal/usecase"
)

const defaultQuery = "data.posed.witness.result"

// Engine evaluates witness rules from a rego bundle, letting
// operators express per-type service checks as policy instead of
// code. One engine serves all challenge types; the policy dispatches
// on input.challenge_type.
type Engine struct {
	query      rego.PreparedEvalQuery
	bundleHash string
}

type witnessInput struct {
	ChallengeType string                  `json:"challenge_type"`
	Challenge     domain.ChallengeMessage `json:"challenge"`
	Receipt       domain.ReceiptMessage   `json:"receipt"`
}

type witnessResult struct {
	Valid bool     `json:"valid"`
	Deny  []string `json:"deny"`
}

func NewEngineFromBundlePath(ctx context.Context, bundlePath string) (*Engine, error) {
	bundleHash, err := ComputeBundleHashFromPath(bundlePath)
	if err != nil {
		return nil, err
	}

	r := rego.New(
		rego.Query(defaultQuery),
		rego.StrictBuiltinErrors(true),
		rego.Load([]string{bundlePath}, nil),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare witness policy: %w", err)
	}

	return &Engine{query: prepared, bundleHash: bundleHash}, nil
}

func (e *Engine) BundleHash() string {
	return e.bundleHash
}

func (e *Engine) VerifyWitness(ctx context.Context, ch domain.ChallengeMessage, rc domain.ReceiptMessage) (bool, error) {
	if e == nil {
		return false, errors.New("witness policy engine is nil")
	}
	input := witnessInput{
		ChallengeType: string(ch.Type),
		Challenge:     ch,
		Receipt:       rc,
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, errors.New("empty witness policy result")
	}
	result, err := decodeResult(results[0].Expressions[0].Value)
	if err != nil {
		return false, err
	}
	return result.Valid, nil
}

func decodeResult(value any) (witnessResult, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return witnessResult{}, err
	}
	var result witnessResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return witnessResult{}, fmt.Errorf("decode witness policy result: %w", err)
	}
	return result, nil
}

var _ usecase.WitnessVerifier = (*Engine)(nil)
