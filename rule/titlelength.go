package rule

import (
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/c360/rulestream/errors"
	"github.com/c360/rulestream/types"
)

// TitleLengthRule checks that a record's title attribute falls within the
// configured [minLength, maxLength] range.
type TitleLengthRule struct{}

// NewTitleLengthRule creates the rule
func NewTitleLengthRule() *TitleLengthRule {
	return &TitleLengthRule{}
}

// Name returns the registry name for this rule
func (r *TitleLengthRule) Name() string {
	return "TitleLengthRule"
}

// Apply evaluates the title length check against one record
func (r *TitleLengthRule) Apply(rec types.Record, cfg types.RuleConfig) (types.Verdict, error) {
	minLength, err := intParameter(cfg, "minLength")
	if err != nil {
		return types.Verdict{}, err
	}
	maxLength, err := intParameter(cfg, "maxLength")
	if err != nil {
		return types.Verdict{}, err
	}

	// Length is measured in characters, not bytes, so multibyte titles
	// are not over-counted
	title, hasTitle := rec.Attributes["title"]
	length := utf8.RuneCountInString(title)
	passed := hasTitle && length >= minLength && length <= maxLength

	return NewVerdict(rec, r.Name(), passed, "Title length is not within the specified range"), nil
}

func intParameter(cfg types.RuleConfig, name string) (int, error) {
	raw, ok := cfg.Parameters[name]
	if !ok {
		return 0, fmt.Errorf("%w: parameter %s for rule %s", errors.ErrMissingConfig, name, cfg.RuleName)
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: parameter %s for rule %s is not an integer", errors.ErrInvalidConfig, name, cfg.RuleName)
	}
	return value, nil
}
