package funcs

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

var TemplateFuncs = template.FuncMap{
	"formatTime": formatTime,
	"money":      money,
	"title":      title,
	"humanize":   humanize,
	"upper":      strings.ToUpper,
}

func formatTime(format string, t time.Time) string {
	return t.Format(format)
}

// money renders an amount with thousands separators, e.g. "USD 12,500.00".
// It accepts decimals, their string form, and plain numbers.
func money(currency string, amount any) string {
	var d decimal.Decimal
	switch v := amount.(type) {
	case decimal.Decimal:
		d = v
	case string:
		parsed, err := decimal.NewFromString(v)
		if err != nil {
			return currency + " " + v
		}
		d = parsed
	case float64:
		d = decimal.NewFromFloat(v)
	case int:
		d = decimal.NewFromInt(int64(v))
	default:
		return fmt.Sprintf("%s %v", currency, amount)
	}

	f, _ := d.Round(2).Float64()
	return printer.Sprintf("%s %.2f", currency, f)
}

func title(s string) string {
	return cases.Title(language.English).String(s)
}

// humanize turns status codes such as "in_grace" into "In grace".
func humanize(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
