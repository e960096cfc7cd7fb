package extract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeOptionalFields(t *testing.T) {
	tests := []struct {
		name        string
		in          string
		wantDropped []string
		check       func(t *testing.T, m map[string]any)
	}{
		{
			name: "currency casing normalized",
			in:   `{"vendor":"Acme","currency_code":" jpy "}`,
			check: func(t *testing.T, m map[string]any) {
				assert.Equal(t, "JPY", m["currency_code"])
			},
		},
		{
			name:        "garbage currency dropped",
			in:          `{"vendor":"Acme","currency_code":"yen"}`,
			wantDropped: []string{"currency_code"},
			check: func(t *testing.T, m map[string]any) {
				assert.NotContains(t, m, "currency_code")
			},
		},
		{
			name: "subtotal normalized to two decimals",
			in:   `{"vendor":"Acme","subtotal":"1,250"}`,
			check: func(t *testing.T, m map[string]any) {
				assert.Equal(t, "1250.00", m["subtotal"])
			},
		},
		{
			name: "numeric tax coerced to string",
			in:   `{"vendor":"Acme","tax":100}`,
			check: func(t *testing.T, m map[string]any) {
				assert.Equal(t, "100.00", m["tax"])
			},
		},
		{
			name:        "unparseable tax dropped",
			in:          `{"vendor":"Acme","tax":"n/a"}`,
			wantDropped: []string{"tax"},
			check: func(t *testing.T, m map[string]any) {
				assert.NotContains(t, m, "tax")
			},
		},
		{
			name:        "blank registration dropped",
			in:          `{"vendor":"Acme","registration_number":"  "}`,
			wantDropped: []string{"registration_number"},
			check: func(t *testing.T, m map[string]any) {
				assert.NotContains(t, m, "registration_number")
			},
		},
		{
			name: "nameless line items removed",
			in:   `{"vendor":"Acme","line_items":[{"name":"coffee","total":"400"},{"total":"999"}]}`,
			check: func(t *testing.T, m map[string]any) {
				items, ok := m["line_items"].([]any)
				require.True(t, ok)
				assert.Len(t, items, 1)
			},
		},
		{
			name:        "all line items unusable drops the key",
			in:          `{"vendor":"Acme","line_items":[{"total":"999"},"garbage"]}`,
			wantDropped: []string{"line_items"},
			check: func(t *testing.T, m map[string]any) {
				assert.NotContains(t, m, "line_items")
			},
		},
		{
			name: "required fields never touched",
			in:   `{"vendor":"Acme","tx_date":"bogus","total":"also-bogus"}`,
			check: func(t *testing.T, m map[string]any) {
				assert.Equal(t, "bogus", m["tx_date"])
				assert.Equal(t, "also-bogus", m["total"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, dropped, err := SanitizeOptionalFields([]byte(tt.in))
			require.NoError(t, err)

			var m map[string]any
			require.NoError(t, json.Unmarshal(out, &m))

			assert.ElementsMatch(t, tt.wantDropped, dropped)
			tt.check(t, m)
		})
	}
}

func TestNormalizeMoney(t *testing.T) {
	tests := []struct {
		in   any
		want string
		keep bool
	}{
		{float64(1250), "1250.00", true},
		{"1250", "1250.00", true},
		{"1,250.50", "1250.50", true},
		{"  99.9 ", "99.90", true},
		{"null", "", false},
		{"", "", false},
		{"free", "", false},
		{true, "", false},
	}
	for _, tt := range tests {
		got, keep := normalizeMoney(tt.in)
		assert.Equal(t, tt.keep, keep, "input %v", tt.in)
		if keep {
			assert.Equal(t, tt.want, got, "input %v", tt.in)
		}
	}
}
