package domain

import (
	"html"
	"regexp"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Render substitutes {{name}} placeholders with vars. Placeholders without a
// value are left exactly as written.
func Render(text string, vars map[string]string) string {
	return render(text, vars, false)
}

// RenderHTML is Render with values HTML-escaped.
func RenderHTML(text string, vars map[string]string) string {
	return render(text, vars, true)
}

func render(text string, vars map[string]string, escape bool) string {
	if len(vars) == 0 {
		return text
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := vars[key]
		if !ok {
			return match
		}
		if escape {
			return html.EscapeString(value)
		}
		return value
	})
}
