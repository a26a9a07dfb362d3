package engine

import (
	"context"
	"fmt"

	"github.com/openfroyo/inspector/pkg/playbook"
	"github.com/openfroyo/inspector/pkg/telemetry"
)

// PolicyEnforcer validates playbooks and asks the policy gate whether an
// execution may run.
type PolicyEnforcer struct {
	validator *playbook.Validator
	gate      *playbook.Gate
	metrics   *telemetry.Metrics
}

// NewPolicyEnforcer creates an enforcer. metrics may be nil.
func NewPolicyEnforcer(validator *playbook.Validator, gate *playbook.Gate, metrics *telemetry.Metrics) *PolicyEnforcer {
	return &PolicyEnforcer{validator: validator, gate: gate, metrics: metrics}
}

// Check implements Enforcer.
func (e *PolicyEnforcer) Check(ctx context.Context, script ScriptMeta, body string, hosts []HostRef) (bool, string, error) {
	input := playbook.GateInput{
		Script: playbook.GateScript{
			ID:      script.ID,
			Name:    script.Name,
			Type:    string(script.Type),
			Content: body,
		},
		Hosts: make([]string, 0, len(hosts)),
	}
	for _, h := range hosts {
		input.Hosts = append(input.Hosts, h.Name)
	}

	if script.Type == ScriptTypePlaybook {
		report := e.validator.Validate(body)
		e.metrics.RecordValidation(report.Valid, report.ViolationsByFamily())
		input.Report = report
	}

	decision, err := e.gate.Evaluate(ctx, input)
	if err != nil {
		return false, "", fmt.Errorf("failed to evaluate policies: %w", err)
	}
	return decision.Allowed, decision.Reason(), nil
}
