// Package replacer substitutes named placeholders of the form {name}
// into strings. It is the seam between the authentication core and the
// platform's template rendering, which stays outside this repository.
package replacer

import (
	"strings"
)

// Func substitutes the given values into a template. The core only ever
// depends on this signature, never on a concrete engine.
type Func func(template string, values map[string]string) string

// Replace is the default implementation: every {name} occurrence is
// replaced case-insensitively with its value. Unknown placeholders are
// left untouched so an outer rendering pass can still resolve them.
func Replace(template string, values map[string]string) string {
	if template == "" || len(values) == 0 {
		return template
	}
	result := template
	for name, value := range values {
		result = replaceFold(result, "{"+name+"}", value)
	}
	return result
}

// replaceFold replaces all case-insensitive occurrences of old with new.
func replaceFold(s, old, new string) string {
	if old == "" {
		return s
	}
	lower := strings.ToLower(s)
	lowerOld := strings.ToLower(old)

	var b strings.Builder
	start := 0
	for {
		i := strings.Index(lower[start:], lowerOld)
		if i < 0 {
			b.WriteString(s[start:])
			return b.String()
		}
		b.WriteString(s[start : start+i])
		b.WriteString(new)
		start += i + len(old)
	}
}
