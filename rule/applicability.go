package rule

import "github.com/c360/rulestream/types"

// Applicable decides whether a record qualifies for a rule. Every dimension
// constrained by ApplicableTo must contain the record's value, and no
// dimension in Exclusions may contain it. A dimension absent from
// ApplicableTo, or present with an empty value set, is unconstrained.
func Applicable(cfg types.RuleConfig, rec types.Record) bool {
	for _, dim := range types.Dimensions {
		value := rec.DimensionValue(dim)

		if allowed, ok := cfg.ApplicableTo[dim]; ok && len(allowed) > 0 {
			if !contains(allowed, value) {
				return false
			}
		}

		if excluded, ok := cfg.Exclusions[dim]; ok && contains(excluded, value) {
			return false
		}
	}
	return true
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
