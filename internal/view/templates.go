package view

import (
	"fmt"
	"html/template"
	"io"
	"math"
	"net/http"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/schoolhub/portal/internal/school"
	"github.com/schoolhub/portal/internal/shared"
	"github.com/schoolhub/portal/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
}

// Viewer is the signed-in identity as the layout sees it.
type Viewer struct {
	ID    string
	Name  string
	Email string
	Role  string
}

// Initial returns the avatar letter.
func (v *Viewer) Initial() string {
	if v == nil {
		return "?"
	}
	for _, r := range strings.ToUpper(v.Name) {
		return string(r)
	}
	return "?"
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flashes     []shared.FlashMessage
	CurrentPath string
	Viewer      *Viewer
	// Stale marks a page rendered from the last successful fetch.
	Stale bool
	Data  any
}

var currencyLocale = language.MustParse("en-IN")

// FormatCurrency renders whole rupees with locale grouping.
func FormatCurrency(amount float64) string {
	return message.NewPrinter(currencyLocale).Sprintf("₹%v", number.Decimal(math.Round(amount), number.MaxFractionDigits(0)))
}

// FormatDate renders a calendar date; zero times render empty.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2 Jan 2006")
}

// NewEngine parses templates at build-time.
func NewEngine() (*Engine, error) {
	funcMap := template.FuncMap{
		"formatDate": FormatDate,
		"formatDateTime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006 15:04")
		},
		"currency":   FormatCurrency,
		"feeVariant": school.BadgeVariant,
		"title": func(s string) string {
			return cases.Title(language.English).String(s)
		},
		"percent": func(v int) string {
			return fmt.Sprintf("%d%%", v)
		},
		"add": func(a, b int) int { return a + b },
		"seq": func(n int) []int {
			out := make([]int, n)
			for i := range out {
				out[i] = i + 1
			}
			return out
		},
		"contains": func(list []string, s string) bool { return slices.Contains(list, s) },
		"join":     strings.Join,
		"isActive": func(current, prefix string) bool {
			if prefix == "/admin" || prefix == "/teacher" || prefix == "/student" {
				return current == prefix
			}
			return strings.HasPrefix(current, prefix)
		},
		"meterClass": func(v int) string {
			switch {
			case v >= 75:
				return "good"
			case v >= 50:
				return "fair"
			}
			return "poor"
		},
		"dict": func(kv ...any) (map[string]any, error) {
			if len(kv)%2 != 0 {
				return nil, fmt.Errorf("dict: odd argument count")
			}
			out := make(map[string]any, len(kv)/2)
			for i := 0; i < len(kv); i += 2 {
				key, ok := kv[i].(string)
				if !ok {
					return nil, fmt.Errorf("dict: key %v is not a string", kv[i])
				}
				out[key] = kv[i+1]
			}
			return out, nil
		},
	}
	tpl, err := template.New("root").Funcs(funcMap).ParseFS(web.Templates,
		"templates/layouts/*.html",
		"templates/partials/*.html",
		"templates/pages/*.html",
		"templates/pages/*/*.html",
	)
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

// Render executes a named template with TemplateData.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return e.templates.ExecuteTemplate(w, name, data)
}

// Execute writes a named template to any writer, used for documents such as receipts.
func (e *Engine) Execute(w io.Writer, name string, data any) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	return e.templates.ExecuteTemplate(w, name, data)
}
