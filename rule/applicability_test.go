package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360/rulestream/types"
)

func record(retailer, brand, category string) types.Record {
	return types.Record{
		MessageID: "m1",
		RPC:       "rpc-1",
		ClientID:  "C1",
		Retailer:  retailer,
		Brand:     brand,
		Category:  category,
	}
}

func TestApplicable(t *testing.T) {
	tests := []struct {
		name string
		cfg  types.RuleConfig
		rec  types.Record
		want bool
	}{
		{
			name: "no constraints applies to everything",
			cfg:  types.RuleConfig{},
			rec:  record("amazon", "acme", "shoes"),
			want: true,
		},
		{
			name: "inclusion satisfied",
			cfg: types.RuleConfig{
				ApplicableTo: map[types.Dimension][]string{
					types.DimensionRetailer: {"amazon", "walmart"},
				},
			},
			rec:  record("amazon", "acme", "shoes"),
			want: true,
		},
		{
			name: "inclusion violated",
			cfg: types.RuleConfig{
				ApplicableTo: map[types.Dimension][]string{
					types.DimensionRetailer: {"walmart"},
				},
			},
			rec:  record("amazon", "acme", "shoes"),
			want: false,
		},
		{
			name: "empty inclusion set is unconstrained",
			cfg: types.RuleConfig{
				ApplicableTo: map[types.Dimension][]string{
					types.DimensionRetailer: {},
				},
			},
			rec:  record("amazon", "acme", "shoes"),
			want: true,
		},
		{
			name: "exclusion triggered",
			cfg: types.RuleConfig{
				Exclusions: map[types.Dimension][]string{
					types.DimensionBrand: {"acme"},
				},
			},
			rec:  record("amazon", "acme", "shoes"),
			want: false,
		},
		{
			name: "exclusion not triggered",
			cfg: types.RuleConfig{
				Exclusions: map[types.Dimension][]string{
					types.DimensionBrand: {"generic"},
				},
			},
			rec:  record("amazon", "acme", "shoes"),
			want: true,
		},
		{
			name: "all inclusions and no exclusions",
			cfg: types.RuleConfig{
				ApplicableTo: map[types.Dimension][]string{
					types.DimensionRetailer: {"amazon"},
					types.DimensionBrand:    {"acme"},
					types.DimensionCategory: {"shoes"},
				},
				Exclusions: map[types.Dimension][]string{
					types.DimensionCategory: {"electronics"},
				},
			},
			rec:  record("amazon", "acme", "shoes"),
			want: true,
		},
		{
			name: "inclusion satisfied but exclusion wins",
			cfg: types.RuleConfig{
				ApplicableTo: map[types.Dimension][]string{
					types.DimensionRetailer: {"amazon"},
				},
				Exclusions: map[types.Dimension][]string{
					types.DimensionCategory: {"shoes"},
				},
			},
			rec:  record("amazon", "acme", "shoes"),
			want: false,
		},
		{
			name: "one of three inclusions violated",
			cfg: types.RuleConfig{
				ApplicableTo: map[types.Dimension][]string{
					types.DimensionRetailer: {"amazon"},
					types.DimensionBrand:    {"other"},
				},
			},
			rec:  record("amazon", "acme", "shoes"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Applicable(tt.cfg, tt.rec))
		})
	}
}
