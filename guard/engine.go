// Package guard vets counterparty decisions with an OPA policy. Decisions
// come from an external model and are untrusted input: the guard is the
// boundary where numeric invariants (seller floor, accept-needs-offer,
// price positivity) are enforced before a reply leaves the service.
package guard

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"
)

// Verdicts returned by Evaluate.
const (
	VerdictAllow  = "allow"
	VerdictClamp  = "clamp"
	VerdictReject = "reject"
)

// Input is the decision under evaluation.
type Input struct {
	Role       string   `json:"role"`
	Action     string   `json:"action"`
	Price      *float64 `json:"price"`
	Floor      float64  `json:"floor"`
	BuyerPrice *float64 `json:"buyer_price"`
	Quantity   int      `json:"quantity"`
}

// Engine is the OPA decision guard.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a guard engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.decision_guard.verdict"),
		rego.Module("decision_guard.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate returns allow, clamp, or reject for the given decision.
func (e *Engine) Evaluate(ctx context.Context, in Input) (string, error) {
	// Round-trip through JSON so the policy sees plain values.
	raw, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("failed to marshal guard input: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("failed to unmarshal guard input: %w", err)
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return VerdictAllow, nil
	}
	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return VerdictAllow, nil
}

// DefaultPolicy is the default decision guard policy.
const DefaultPolicy = `
package decision_guard

default verdict := "allow"

valid_price if {
	input.price != null
	input.price > 0
}

rejected if {
	input.quantity <= 0
}

# A seller accept without a concrete buyer offer must not go out as an accept.
rejected if {
	input.role == "seller"
	input.action == "accept"
	input.buyer_price == null
}

# A counter without a usable price cannot be expressed on the wire.
rejected if {
	input.action == "counter"
	not valid_price
}

below_floor if {
	input.role == "seller"
	input.action != "reject"
	input.price != null
	input.price < input.floor
}

verdict := "reject" if rejected

verdict := "clamp" if {
	not rejected
	below_floor
}
`
