package playbook

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

// Violation severities. Error and critical violations block an execution.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// GateScript describes the script an execution wants to run.
type GateScript struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// GateInput is the document policies are evaluated against.
type GateInput struct {
	Script GateScript `json:"script"`
	// Report is set for playbooks only.
	Report *Report   `json:"report,omitempty"`
	Hosts  []string  `json:"hosts"`
	Time   time.Time `json:"time"`
}

// Violation is one deny result.
type Violation struct {
	Policy   string `json:"policy"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Decision is the result of a gate evaluation.
type Decision struct {
	Allowed     bool        `json:"allowed"`
	Violations  []Violation `json:"violations"`
	Warnings    []string    `json:"warnings,omitempty"`
	EvaluatedAt time.Time   `json:"evaluated_at"`
}

// Reason joins the blocking violation messages.
func (d *Decision) Reason() string {
	var msgs []string
	for _, v := range d.Violations {
		if blocking(v.Severity) {
			msgs = append(msgs, v.Message)
		}
	}
	return strings.Join(msgs, "; ")
}

type gatePolicy struct {
	name  string
	query rego.PreparedEvalQuery
}

// Gate evaluates Rego policies before an execution is dispatched. Every
// policy module must define a deny set of {message, severity} objects.
type Gate struct {
	mu       sync.RWMutex
	policies map[string]*gatePolicy
	logger   zerolog.Logger
}

// NewGate creates a gate with the built-in policy loaded.
func NewGate(ctx context.Context, logger zerolog.Logger) (*Gate, error) {
	g := &Gate{
		policies: make(map[string]*gatePolicy),
		logger:   logger.With().Str("component", "policy-gate").Logger(),
	}

	if err := g.AddPolicy(ctx, "builtin", builtinGatePolicy); err != nil {
		return nil, fmt.Errorf("failed to load built-in policy: %w", err)
	}

	return g, nil
}

// AddPolicy compiles a Rego module and registers it under name, replacing
// any policy with the same name.
func (g *Gate) AddPolicy(ctx context.Context, name, src string) error {
	module, err := ast.ParseModule(name, src)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	query := module.Package.Path.String() + ".deny"
	prepared, err := rego.New(
		rego.Module(name, src),
		rego.Query(query),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	g.mu.Lock()
	g.policies[name] = &gatePolicy{name: name, query: prepared}
	g.mu.Unlock()

	g.logger.Debug().Str("policy", name).Str("query", query).Msg("Policy compiled")
	return nil
}

// LoadPolicies compiles every .rego file found under paths.
func (g *Gate) LoadPolicies(ctx context.Context, paths []string) error {
	count := 0
	for _, path := range paths {
		err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || filepath.Ext(p) != ".rego" {
				return nil
			}

			data, err := os.ReadFile(p)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", p, err)
			}
			if err := g.AddPolicy(ctx, p, string(data)); err != nil {
				return fmt.Errorf("policy %s: %w", p, err)
			}
			count++
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to load policies from %s: %w", path, err)
		}
	}

	g.logger.Info().Int("count", count).Msg("Policies loaded")
	return nil
}

// Policies returns the names of the registered policies.
func (g *Gate) Policies() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.policies))
	for name := range g.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Evaluate runs every policy against input. A policy that fails to evaluate
// is reported as a warning and does not block.
func (g *Gate) Evaluate(ctx context.Context, input GateInput) (*Decision, error) {
	if input.Time.IsZero() {
		input.Time = time.Now()
	}
	if input.Hosts == nil {
		input.Hosts = []string{}
	}

	g.mu.RLock()
	policies := make([]*gatePolicy, 0, len(g.policies))
	for _, p := range g.policies {
		policies = append(policies, p)
	}
	g.mu.RUnlock()
	sort.Slice(policies, func(i, j int) bool { return policies[i].name < policies[j].name })

	decision := &Decision{Allowed: true, Violations: []Violation{}}

	for _, p := range policies {
		results, err := p.query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			g.logger.Error().Err(err).Str("policy", p.name).Msg("Policy evaluation failed")
			decision.Warnings = append(decision.Warnings, fmt.Sprintf("policy %s evaluation failed: %v", p.name, err))
			continue
		}

		for _, result := range results {
			if len(result.Expressions) == 0 {
				continue
			}
			denySet, ok := result.Expressions[0].Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				decision.Violations = append(decision.Violations, toViolation(p.name, d))
			}
		}
	}

	for _, v := range decision.Violations {
		if blocking(v.Severity) {
			decision.Allowed = false
			break
		}
	}
	decision.EvaluatedAt = time.Now()

	g.logger.Debug().
		Str("script_id", input.Script.ID).
		Bool("allowed", decision.Allowed).
		Int("violations", len(decision.Violations)).
		Msg("Gate evaluated")

	return decision, nil
}

func toViolation(policy string, result interface{}) Violation {
	v := Violation{Policy: policy, Severity: SeverityError}

	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := r["severity"].(string); ok {
			v.Severity = sev
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}
	return v
}

func blocking(severity string) bool {
	return severity == SeverityError || severity == SeverityCritical
}

const builtinGatePolicy = `package inspector.gate

import rego.v1

blocked_families := {"dangerous_commands", "dangerous_modules"}

deny contains violation if {
	input.report.syntax_valid == false
	violation := {
		"message": sprintf("playbook does not parse: %s", [input.report.syntax_error]),
		"severity": "error",
	}
}

deny contains violation if {
	some finding in input.report.findings
	finding.family in blocked_families
	violation := {
		"message": finding.message,
		"severity": "error",
	}
}

deny contains violation if {
	some finding in input.report.findings
	finding.family == "suspicious_protocols"
	violation := {
		"message": finding.message,
		"severity": "warning",
	}
}

deny contains violation if {
	input.script.type == "shell"
	regex.match("(?m)^\\s*rm\\s+-rf\\s+/\\s*$", input.script.content)
	violation := {
		"message": "script removes the root filesystem",
		"severity": "critical",
	}
}

deny contains violation if {
	count(input.hosts) == 0
	violation := {
		"message": "execution has no target hosts",
		"severity": "error",
	}
}
`
