package archive

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
)

func TestSanitizeVendor(t *testing.T) {
	tests := []struct {
		name   string
		vendor string
		want   string
	}{
		{"spaces become underscores", "Acme Cafe", "Acme_Cafe"},
		{"path separators stripped", `a/b\c:d`, "abcd"},
		{"shell metacharacters stripped", `v*e?n"d<o>r|`, "vendor"},
		{"multibyte preserved", "株式会社セブン-イレブン", "株式会社セブン-イレブン"},
		{"long ascii capped at 50", strings.Repeat("a", 60), strings.Repeat("a", 50)},
		{"long multibyte capped by runes", strings.Repeat("社", 60), strings.Repeat("社", 50)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizeVendor(tt.vendor)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got), "sanitized name must stay valid UTF-8")
		})
	}
}

func TestSuccessNameKeepsMultibyteVendorIntact(t *testing.T) {
	doc := &entity.Document{
		ID:         uuid.New(),
		SourcePath: "/drop/receipt.pdf",
		Fields: &entity.Fields{
			Vendor: strings.Repeat("寿", 55),
			TxDate: "2024-01-15",
			Total:  "1250",
		},
	}

	name := successName(doc)
	assert.True(t, utf8.ValidString(name))
	assert.True(t, strings.HasPrefix(name, "2024-01-15_1250_"+strings.Repeat("寿", 50)+"_"))
	assert.True(t, strings.HasSuffix(name, ".pdf"))
}
