// Package rule defines the rule evaluation contract, the registry of loaded
// rule implementations, and config-driven applicability resolution.
package rule

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/c360/rulestream/errors"
	"github.com/c360/rulestream/types"
)

// Rule is one business rule. Implementations must be deterministic for
// identical (record, config) input and must not mutate the record. Internal
// failures are returned as errors; the engine converts them into failing
// verdicts so sibling rules keep running.
type Rule interface {
	Name() string
	Apply(record types.Record, cfg types.RuleConfig) (types.Verdict, error)
}

// Registry holds all known rule implementations, populated at startup
type Registry struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{rules: make(map[string]Rule)}
}

// DefaultRegistry returns a registry with the built-in rules loaded
func DefaultRegistry() *Registry {
	r := NewRegistry()
	// Registration of built-ins cannot collide
	_ = r.Register(NewTitleLengthRule())
	return r
}

// Register adds a rule implementation under its name
func (r *Registry) Register(rule Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := rule.Name()
	if _, exists := r.rules[name]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("rule %s already registered", name),
			"Registry", "Register", "check name")
	}
	r.rules[name] = rule
	return nil
}

// Get returns the rule registered under name
func (r *Registry) Get(name string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[name]
	return rule, ok
}

// Select returns the registered rules matching the given names. Unknown
// names are ignored, mirroring how client configuration may reference rules
// this instance does not load.
func (r *Registry) Select(names []string) []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	selected := make([]Rule, 0, len(names))
	for _, name := range names {
		if rule, ok := r.rules[name]; ok {
			selected = append(selected, rule)
		}
	}
	return selected
}

// Names returns the sorted names of all registered rules
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.rules))
	for name := range r.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewVerdict builds a verdict for one (record, rule) pair. Pass scores 1.0,
// fail scores 0.0, matching the warehouse contract.
func NewVerdict(rec types.Record, ruleName string, passed bool, errorMessage string) types.Verdict {
	score := 0.0
	if passed {
		score = 1.0
		errorMessage = ""
	}
	return types.Verdict{
		MessageID:    rec.MessageID,
		ReportDate:   time.Now().Format("2006-01-02"),
		OnlineStore:  rec.Retailer,
		RPC:          rec.RPC,
		CustomerID:   rec.ClientID,
		RuleName:     ruleName,
		Passed:       passed,
		Score:        score,
		ErrorMessage: errorMessage,
	}
}
