package policy

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/openfroyo/mongocfg/pkg/engine"
)

// ViolationRecorder receives one call per violation found.
type ViolationRecorder interface {
	RecordPolicyViolation(policy, severity string)
}

// Engine compiles Rego policies and evaluates them against resolved
// parameter sets.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	loader   *Loader
	logger   zerolog.Logger
	metrics  ViolationRecorder
}

type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store:    inmem.NewFromObject(platformData()),
		loader:   NewLoader(logger),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	if err := e.compileAll(context.Background(), e.policies, GetBuiltinPolicies()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// SetMetrics attaches a recorder for violations.
func (e *Engine) SetMetrics(m ViolationRecorder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = m
}

// EvaluateParameters evaluates all enabled policies against p.
func (e *Engine) EvaluateParameters(ctx context.Context, target string, p *engine.ParameterSet) (*Result, error) {
	if p == nil {
		return nil, fmt.Errorf("parameter set is nil")
	}
	return e.Evaluate(ctx, NewInput(target, p))
}

// Evaluate evaluates all enabled policies against input. A policy that
// fails to evaluate is reported as a warning and does not block.
func (e *Engine) Evaluate(ctx context.Context, input Input) (*Result, error) {
	start := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true}

	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := cp.violations(ctx, input)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Error().Err(err).
				Str("policy", name).
				Str("target", input.Target).
				Msg("Policy evaluation failed")
			result.Warnings = append(result.Warnings, fmt.Sprintf("policy %s evaluation failed: %v", name, err))
			continue
		}

		for _, v := range violations {
			if v.Severity.Blocking() {
				result.Allowed = false
			}
			if e.metrics != nil {
				e.metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
			}
		}
		result.Violations = append(result.Violations, violations...)
	}

	result.EvaluatedAt = time.Now()
	result.Duration = time.Since(start)

	e.logger.Debug().
		Str("target", input.Target).
		Int("violations", len(result.Violations)).
		Bool("allowed", result.Allowed).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")

	return result, nil
}

// violations runs the compiled query. Every member of the deny set is one
// violation, ordered by message.
func (cp *compiledPolicy) violations(ctx context.Context, input Input) ([]Violation, error) {
	rs, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var out []Violation
	for _, r := range rs {
		for _, expr := range r.Expressions {
			deny, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range deny {
				out = append(out, cp.policy.violation(d))
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Message < out[j].Message })
	return out, nil
}

// violation converts a deny set member. A string is the message; an object
// may also carry setting, severity and remediation.
func (p *Policy) violation(member interface{}) Violation {
	v := Violation{Policy: p.Name, Severity: p.Severity}

	obj, ok := member.(map[string]interface{})
	if !ok {
		if msg, isString := member.(string); isString {
			v.Message = msg
		} else {
			v.Message = fmt.Sprint(member)
		}
		return v
	}

	str := func(key string) string {
		s, _ := obj[key].(string)
		return s
	}
	v.Message = str("message")
	v.Setting = str("setting")
	v.Remediation = str("remediation")
	if sev := Severity(str("severity")); sev.Valid() {
		v.Severity = sev
	}
	return v
}

// compile prepares the deny query of a policy's package.
func (e *Engine) compile(ctx context.Context, p *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	pkg := module.Package.Path.String()

	query, err := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Store(e.store),
		rego.Query(pkg+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	e.logger.Debug().Str("policy", p.Name).Str("package", pkg).Msg("Policy compiled")
	return &compiledPolicy{policy: p, query: query, compiled: time.Now()}, nil
}

// compileAll compiles policies into set, replacing same-named entries.
// set is untouched if any policy fails.
func (e *Engine) compileAll(ctx context.Context, set map[string]*compiledPolicy, policies []Policy) error {
	staged := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		cp, err := e.compile(ctx, &policies[i])
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
		staged[policies[i].Name] = cp
	}
	maps.Copy(set, staged)
	return nil
}

// LoadPolicies loads and compiles policy files from paths on top of the
// current set. Nothing is replaced if any policy fails to compile.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.compileAll(ctx, e.policies, policies); err != nil {
		e.logger.Error().Err(err).Strs("paths", paths).Msg("Site policies rejected")
		return err
	}

	e.logger.Info().Int("count", len(policies)).Msg("Site policies loaded")
	return nil
}

// ReloadPolicies rebuilds the set from the built-ins and the files under
// paths, dropping enable/disable changes. On error the old set stays.
func (e *Engine) ReloadPolicies(ctx context.Context, paths []string) error {
	e.loader.ClearCache()

	var site []Policy
	if len(paths) > 0 {
		var err error
		if site, err = e.loader.LoadFromPaths(ctx, paths); err != nil {
			return fmt.Errorf("failed to load policies: %w", err)
		}
	}

	fresh := make(map[string]*compiledPolicy)
	if err := e.compileAll(ctx, fresh, GetBuiltinPolicies()); err != nil {
		return fmt.Errorf("failed to load built-in policies: %w", err)
	}
	if err := e.compileAll(ctx, fresh, site); err != nil {
		return err
	}

	e.mu.Lock()
	e.policies = fresh
	e.mu.Unlock()

	e.logger.Info().Int("count", len(fresh)).Msg("Policies reloaded")
	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies ordered by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}

	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")

	return nil
}

// sortedNames must be called with e.mu held.
func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
