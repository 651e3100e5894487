// Package configstore reads rule configuration from the key-value bucket.
// Lookups go to the bucket on every call; nothing is cached locally, so the
// staleness window is bounded by the store's own consistency.
package configstore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/c360/rulestream/errors"
	"github.com/c360/rulestream/natsclient"
	"github.com/c360/rulestream/types"
)

// Key layout inside the bucket, mirroring the upstream config loader
const (
	ruleConfigPrefix   = "rule_config."
	enabledRulesPrefix = "enabled_rules."
)

// KV is the subset of the key-value store the config store needs
type KV interface {
	Get(ctx context.Context, key string) (*natsclient.KVEntry, error)
}

// Store resolves rule configurations and per-client enabled rule sets
type Store struct {
	kv KV
}

// New creates a Store over the given bucket accessor
func New(kv KV) *Store {
	return &Store{kv: kv}
}

// RuleConfig fetches the configuration for one rule
func (s *Store) RuleConfig(ctx context.Context, ruleName string) (types.RuleConfig, error) {
	var cfg types.RuleConfig

	entry, err := s.kv.Get(ctx, ruleConfigPrefix+ruleName)
	if err != nil {
		if stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
			return cfg, errors.WrapInvalid(
				fmt.Errorf("%w: rule %s", errors.ErrConfigNotFound, ruleName),
				"ConfigStore", "RuleConfig", "lookup key")
		}
		return cfg, errors.WrapTransient(err, "ConfigStore", "RuleConfig", "read bucket")
	}

	if err := json.Unmarshal(entry.Value, &cfg); err != nil {
		return cfg, errors.WrapInvalid(err, "ConfigStore", "RuleConfig", "decode config")
	}

	if cfg.RuleName == "" {
		cfg.RuleName = ruleName
	}
	return cfg, nil
}

// EnabledRules fetches the set of rule names enabled for a client. A missing
// key means the client has no rules enabled.
func (s *Store) EnabledRules(ctx context.Context, clientID string) ([]string, error) {
	entry, err := s.kv.Get(ctx, enabledRulesPrefix+clientID)
	if err != nil {
		if stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "ConfigStore", "EnabledRules", "read bucket")
	}

	var names []string
	if err := json.Unmarshal(entry.Value, &names); err != nil {
		return nil, errors.WrapInvalid(err, "ConfigStore", "EnabledRules", "decode rule names")
	}
	return names, nil
}
