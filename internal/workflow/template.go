package workflow

import "strings"

// RenderTemplate performs a literal {{key}} substitution over template using
// vars. Unresolved placeholders pass through unchanged. This is deliberately
// not a Turing-complete template language (no conditionals, no loops) — the
// spec this implements calls for simple, non-programmable substitution, so
// text/template's action language would be the wrong tool here.
//
// Backslashes in replacement values are escaped first, so that a value
// containing a native path separator (e.g. "C:\Users\x") survives the
// substitution without its backslashes being reinterpreted as escape
// sequences by any later processing stage.
func RenderTemplate(template string, vars map[string]string) string {
	result := template
	for key, value := range vars {
		escaped := strings.ReplaceAll(value, `\`, `\\`)
		result = strings.ReplaceAll(result, "{{"+key+"}}", escaped)
	}
	return result
}
