package web

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"strings"

	"github.com/qualys/compliance-console/internal/dashboard"
)

//go:embed templates/*.html
var templateFS embed.FS

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

var templateFuncs = template.FuncMap{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"truncate": truncate,
	// pct scales value against max for bar widths.
	"pct": func(value, max int) int {
		if max <= 0 {
			return 0
		}
		return value * 100 / max
	},
	"safeCSS": func(s string) template.CSS { return template.CSS(s) },
	"levelClass": func(l dashboard.Level) string {
		switch l {
		case dashboard.LevelSuccess:
			return "bg-green-50 border-green-400 text-green-800"
		case dashboard.LevelWarning:
			return "bg-yellow-50 border-yellow-400 text-yellow-800"
		case dashboard.LevelError:
			return "bg-red-50 border-red-400 text-red-800"
		default:
			return "bg-primary-50 border-primary-500 text-primary-700"
		}
	},
	"statusClass": func(k dashboard.StatusKind) string {
		switch k {
		case dashboard.StatusSuccess:
			return "text-severity-low"
		case dashboard.StatusError:
			return "text-severity-critical"
		default:
			return "text-qualys-text-secondary"
		}
	},
	"cellClass": func(class string) string {
		switch class {
		case "risk-high":
			return "text-severity-critical font-medium"
		case "risk-medium":
			return "text-severity-medium font-medium"
		case "risk-low":
			return "text-severity-low font-medium"
		}
		return ""
	},
}

func parseTemplates() (*template.Template, error) {
	return template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html")
}

// render executes name into a buffer so a failing template never leaves a
// half-written page.
func (s *Server) render(w http.ResponseWriter, status int, name string, data interface{}) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.Error("rendering template failed", "template", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
