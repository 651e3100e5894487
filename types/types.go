// Package types defines the core data model shared across pipeline stages.
package types

// Dimension is an applicability axis used to scope a rule to a subset of
// records.
type Dimension string

// Dimensions a rule configuration may constrain.
const (
	DimensionRetailer Dimension = "retailer"
	DimensionBrand    Dimension = "brand"
	DimensionCategory Dimension = "category"
)

// Dimensions lists all known dimensions in evaluation order.
var Dimensions = []Dimension{DimensionRetailer, DimensionBrand, DimensionCategory}

// SourceDescriptor identifies one ingestion job. It is created when a
// "source ready" notification arrives and discarded once all pages of the
// named table have been dispatched.
type SourceDescriptor struct {
	MessageID           string `json:"message_id"`
	TableName           string `json:"table_name"`
	ExpectedRecordCount int    `json:"expected_record_count"`
}

// Record is one source row normalized to fixed fields plus a free-form
// attribute map. Columns outside the reserved set populate Attributes.
type Record struct {
	MessageID  string            `json:"message_id"`
	RPC        string            `json:"rpc"`
	ClientID   string            `json:"client_id"`
	Retailer   string            `json:"retailer"`
	Brand      string            `json:"brand"`
	Category   string            `json:"category"`
	Attributes map[string]string `json:"attributes"`
}

// DimensionValue returns the record's value for the given dimension.
func (r Record) DimensionValue(d Dimension) string {
	switch d {
	case DimensionRetailer:
		return r.Retailer
	case DimensionBrand:
		return r.Brand
	case DimensionCategory:
		return r.Category
	default:
		return ""
	}
}

// RuleConfig is the externally owned configuration for one rule. A dimension
// absent from ApplicableTo, or present with an empty value list, imposes no
// inclusion constraint.
type RuleConfig struct {
	RuleName     string                 `json:"rule_name"`
	ApplicableTo map[Dimension][]string `json:"applicable_to"`
	Exclusions   map[Dimension][]string `json:"exclusions"`
	Parameters   map[string]string      `json:"parameters"`
}

// Verdict is the terminal outcome of evaluating one rule against one record.
// It carries every column of the warehouse export row.
type Verdict struct {
	MessageID    string  `json:"message_id"`
	ReportDate   string  `json:"report_date"`
	OnlineStore  string  `json:"online_store"`
	RPC          string  `json:"rpc"`
	CustomerID   string  `json:"customer_id"`
	RuleName     string  `json:"rule_name"`
	Passed       bool    `json:"passed"`
	Score        float64 `json:"score"`
	ErrorMessage string  `json:"error_message"`
}
