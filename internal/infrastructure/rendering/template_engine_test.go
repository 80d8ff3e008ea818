package rendering

import (
	"testing"
	"time"

	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestTemplateEngine_HasTemplateForEveryType(t *testing.T) {
	e, err := NewTemplateEngine()
	require.NoError(t, err)
	for _, dt := range payroll.AllDocumentTypes() {
		assert.True(t, e.Has(TemplateName(dt)), dt)
	}
	_, err = e.Execute("missing.html", nil)
	var re *RenderError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeTemplateMissing, re.Code)
}

func TestTemplateEngine_FormatAmount(t *testing.T) {
	fr, err := NewTemplateEngine()
	require.NoError(t, err)
	en, err := NewTemplateEngine(WithLanguage(language.English), WithCurrency("USD"))
	require.NoError(t, err)

	tests := []struct {
		in     string
		fr, en string
	}{
		{"0", "0,00", "0.00"},
		{"999.5", "999,50", "999.50"},
		{"1234.567", "1\u00a0234,57", "1,234.57"},
		{"-1234567.1", "-1\u00a0234\u00a0567,10", "-1,234,567.10"},
	}
	for _, tt := range tests {
		d := decimal.RequireFromString(tt.in)
		assert.Equal(t, tt.fr, fr.formatAmount(d), tt.in)
		assert.Equal(t, tt.en, en.formatAmount(d), tt.in)
	}
	assert.Equal(t, "10.00\u00a0USD", en.formatMoney(decimal.NewFromInt(10)))
}

func TestMaskAccount(t *testing.T) {
	assert.Equal(t, "••••••7890", maskAccount("1234 567 890"))
	assert.Equal(t, "123", maskAccount("123"))
}

func TestFormatDate(t *testing.T) {
	d := time.Date(2021, 9, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "01/09/2021", formatDate(d))
	assert.Equal(t, "01/09/2021", formatDate(&d))
	assert.Equal(t, "", formatDate((*time.Time)(nil)))
	assert.Equal(t, "", formatDate("x"))
}
