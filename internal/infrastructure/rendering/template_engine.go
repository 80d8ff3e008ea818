package rendering

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.html
var templatesFS embed.FS

// TemplateEngine executes the embedded document templates
type TemplateEngine struct {
	tmpl     *template.Template
	lang     language.Tag
	currency string
}

// TemplateEngineOption configures TemplateEngine
type TemplateEngineOption func(*TemplateEngine)

// WithLanguage sets the formatting language (number separators, title casing)
func WithLanguage(tag language.Tag) TemplateEngineOption {
	return func(e *TemplateEngine) {
		e.lang = tag
	}
}

// WithCurrency sets the currency suffix for money values
func WithCurrency(code string) TemplateEngineOption {
	return func(e *TemplateEngine) {
		e.currency = code
	}
}

// NewTemplateEngine parses every embedded template
func NewTemplateEngine(opts ...TemplateEngineOption) (*TemplateEngine, error) {
	e := &TemplateEngine{lang: language.French, currency: "MAD"}
	for _, opt := range opts {
		opt(e)
	}

	tmpl, err := template.New("documents").Funcs(e.funcMap()).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, NewRenderError(ErrCodeInvalidHTML, "failed to parse document templates", err)
	}
	e.tmpl = tmpl
	return e, nil
}

func (e *TemplateEngine) funcMap() template.FuncMap {
	title := cases.Title(e.lang)
	return template.FuncMap{
		"money":       e.formatMoney,
		"amount":      e.formatAmount,
		"date":        formatDate,
		"datetime":    formatDateTime,
		"title":       title.String,
		"upper":       strings.ToUpper,
		"maskAccount": maskAccount,
		"default":     defaultString,
		"opacity":     func(f float64) template.CSS { return template.CSS(decimal.NewFromFloat(f).StringFixed(2)) },
	}
}

// Has reports whether a template named name exists
func (e *TemplateEngine) Has(name string) bool {
	return e.tmpl.Lookup(name) != nil
}

// Execute renders the named template with data
func (e *TemplateEngine) Execute(name string, data any) (string, error) {
	t := e.tmpl.Lookup(name)
	if t == nil {
		return "", NewRenderError(ErrCodeTemplateMissing, "no template named "+name, nil)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", NewRenderError(ErrCodeRenderFailed, "failed to execute template "+name, err)
	}
	return buf.String(), nil
}

// nbsp keeps amounts and their currency on one line in the rendered PDF
const nbsp = "\u00a0"

func (e *TemplateEngine) separators() (group, dec string) {
	base, _ := e.lang.Base()
	switch base.String() {
	case "fr":
		return nbsp, ","
	default:
		return ",", "."
	}
}

// formatAmount formats d with two decimals and locale grouping
func (e *TemplateEngine) formatAmount(d decimal.Decimal) string {
	group, dec := e.separators()
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Abs()
	}
	parts := strings.SplitN(d.StringFixed(2), ".", 2)
	intPart := parts[0]

	var grouped strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			grouped.WriteString(group)
		}
		grouped.WriteRune(r)
	}
	return sign + grouped.String() + dec + parts[1]
}

func (e *TemplateEngine) formatMoney(d decimal.Decimal) string {
	return e.formatAmount(d) + nbsp + e.currency
}

func formatDate(t any) string {
	switch v := t.(type) {
	case time.Time:
		if v.IsZero() {
			return ""
		}
		return v.Format("02/01/2006")
	case *time.Time:
		if v == nil || v.IsZero() {
			return ""
		}
		return v.Format("02/01/2006")
	}
	return ""
}

func formatDateTime(t time.Time) string {
	return t.Format("02/01/2006 15:04")
}

// maskAccount keeps the last four characters of a bank account
func maskAccount(account string) string {
	account = strings.ReplaceAll(account, " ", "")
	if len(account) <= 4 {
		return account
	}
	return strings.Repeat("•", len(account)-4) + account[len(account)-4:]
}

func defaultString(fallback, value string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
