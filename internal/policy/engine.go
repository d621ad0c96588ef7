// Package policy decides whether a query may reach the model backend.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"

	"github.com/ellenfel/Model-Context-Protocol/internal/protocol"
)

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allow  bool
	Reason string
}

// Input is the document a query policy sees as `input`.
type Input struct {
	ModelID    string
	Prompt     string
	Options    *protocol.QueryOptions
	HistoryLen int
}

// Engine is the OPA query policy engine.
type Engine struct {
	query     rego.PreparedEvalQuery
	maxTokens int
}

// NewEngine prepares the given rego module. Requests asking for more than
// maxTokens are exposed to the policy as input.limits.max_tokens; zero means
// no limit.
func NewEngine(ctx context.Context, policyContent string, maxTokens int) (*Engine, error) {
	r := rego.New(
		rego.Query("data.query_policy"),
		rego.Module("query_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query, maxTokens: maxTokens}, nil
}

// NewEngineFromFile loads the policy module from path, or uses DefaultPolicy
// when path is empty.
func NewEngineFromFile(ctx context.Context, path string, maxTokens int) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy, maxTokens)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content), maxTokens)
}

// Evaluate checks a query against the policy.
func (e *Engine) Evaluate(ctx context.Context, in Input) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(e.document(in)))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Allow: true, Reason: "default"}, nil
	}

	doc, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("unexpected policy result type %T", results[0].Expressions[0].Value)
	}

	decision, _ := doc["decision"].(string)
	reason, _ := doc["reason"].(string)
	switch decision {
	case "", "allow":
		return Decision{Allow: true, Reason: reason}, nil
	case "block":
		return Decision{Allow: false, Reason: reason}, nil
	default:
		return Decision{}, fmt.Errorf("unknown policy decision %q", decision)
	}
}

func (e *Engine) document(in Input) map[string]interface{} {
	options := map[string]interface{}{}
	if o := in.Options; o != nil {
		if o.Temperature != nil {
			options["temperature"] = *o.Temperature
		}
		if o.MaxTokens != nil {
			options["max_tokens"] = *o.MaxTokens
		}
		if o.StopSequences != nil {
			stops := make([]interface{}, len(o.StopSequences))
			for i, s := range o.StopSequences {
				stops[i] = s
			}
			options["stop_sequences"] = stops
		}
	}

	return map[string]interface{}{
		"model_id":    in.ModelID,
		"prompt":      in.Prompt,
		"options":     options,
		"history_len": in.HistoryLen,
		"limits": map[string]interface{}{
			"max_tokens": e.maxTokens,
		},
	}
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package query_policy

default decision = "allow"

default reason = ""

# Reject requests asking for more tokens than the server allows.
decision = "block" {
	input.limits.max_tokens > 0
	input.options.max_tokens > input.limits.max_tokens
}

reason = "max_tokens exceeds server limit" {
	decision == "block"
}
`
