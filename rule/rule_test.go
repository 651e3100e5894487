package rule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/rulestream/errors"
	"github.com/c360/rulestream/types"
)

func titleConfig(min, max string) types.RuleConfig {
	return types.RuleConfig{
		RuleName:   "TitleLengthRule",
		Parameters: map[string]string{"minLength": min, "maxLength": max},
	}
}

func productRecord(title string) types.Record {
	return types.Record{
		MessageID:  "m1",
		RPC:        "rpc-42",
		ClientID:   "C1",
		Retailer:   "amazon",
		Brand:      "acme",
		Category:   "shoes",
		Attributes: map[string]string{"title": title},
	}
}

func TestTitleLengthRule_TooShort(t *testing.T) {
	r := NewTitleLengthRule()

	// "Red Shoes" is 9 characters, below the minimum of 10
	verdict, err := r.Apply(productRecord("Red Shoes"), titleConfig("10", "200"))
	require.NoError(t, err)

	assert.False(t, verdict.Passed)
	assert.Equal(t, 0.0, verdict.Score)
	assert.Equal(t, "Title length is not within the specified range", verdict.ErrorMessage)
	assert.Equal(t, "rpc-42", verdict.RPC)
	assert.Equal(t, "TitleLengthRule", verdict.RuleName)
}

func TestTitleLengthRule_WithinRange(t *testing.T) {
	r := NewTitleLengthRule()

	verdict, err := r.Apply(productRecord("Comfortable Red Shoes"), titleConfig("10", "200"))
	require.NoError(t, err)

	assert.True(t, verdict.Passed)
	assert.Equal(t, 1.0, verdict.Score)
	assert.Empty(t, verdict.ErrorMessage)
	assert.Equal(t, time.Now().Format("2006-01-02"), verdict.ReportDate)
	assert.Equal(t, "amazon", verdict.OnlineStore)
	assert.Equal(t, "C1", verdict.CustomerID)
}

func TestTitleLengthRule_CountsCharactersNotBytes(t *testing.T) {
	r := NewTitleLengthRule()

	// 10 characters, 19 bytes in UTF-8: must pass a maximum of 10
	verdict, err := r.Apply(productRecord("Обувь Надо"), titleConfig("5", "10"))
	require.NoError(t, err)
	assert.True(t, verdict.Passed)

	// 12 characters exceeds the maximum even though each is one byte
	verdict, err = r.Apply(productRecord("Plain Sandal"), titleConfig("5", "10"))
	require.NoError(t, err)
	assert.False(t, verdict.Passed)
}

func TestTitleLengthRule_MissingTitle(t *testing.T) {
	r := NewTitleLengthRule()
	rec := productRecord("x")
	delete(rec.Attributes, "title")

	verdict, err := r.Apply(rec, titleConfig("1", "10"))
	require.NoError(t, err)
	assert.False(t, verdict.Passed)
}

func TestTitleLengthRule_BadParameters(t *testing.T) {
	r := NewTitleLengthRule()

	_, err := r.Apply(productRecord("anything"), types.RuleConfig{
		RuleName:   "TitleLengthRule",
		Parameters: map[string]string{"minLength": "ten", "maxLength": "200"},
	})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = r.Apply(productRecord("anything"), types.RuleConfig{RuleName: "TitleLengthRule"})
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}

func TestRegistry_RegisterAndSelect(t *testing.T) {
	registry := DefaultRegistry()

	_, ok := registry.Get("TitleLengthRule")
	assert.True(t, ok)

	// Unknown names in client configuration are ignored
	selected := registry.Select([]string{"TitleLengthRule", "BrandWhitelistRule"})
	require.Len(t, selected, 1)
	assert.Equal(t, "TitleLengthRule", selected[0].Name())
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(NewTitleLengthRule()))

	err := registry.Register(NewTitleLengthRule())
	assert.Error(t, err)
}

func TestNewVerdict_PassClearsError(t *testing.T) {
	v := NewVerdict(productRecord("x"), "SomeRule", true, "should be discarded")
	assert.True(t, v.Passed)
	assert.Equal(t, 1.0, v.Score)
	assert.Empty(t, v.ErrorMessage)

	v = NewVerdict(productRecord("x"), "SomeRule", false, "kept")
	assert.False(t, v.Passed)
	assert.Equal(t, 0.0, v.Score)
	assert.Equal(t, "kept", v.ErrorMessage)
}
