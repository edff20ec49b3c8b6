package campaign

import (
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Render substitutes {{field}} placeholders with recipient values.
// name and phone resolve to the recipient itself, other keys are looked up
// in fields case-insensitively. Unknown placeholders render as empty strings.
func Render(template string, name string, phone string, fields map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		return lookupField(key, name, phone, fields)
	})
}

// Placeholders returns the distinct field names referenced by a template, in order of appearance
func Placeholders(template string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		key := strings.ToLower(m[1])
		if !seen[key] {
			seen[key] = true
			out = append(out, m[1])
		}
	}
	return out
}

func lookupField(key, name, phone string, fields map[string]string) string {
	switch strings.ToLower(key) {
	case "name":
		return name
	case "phone":
		return phone
	}
	if v, ok := fields[key]; ok {
		return v
	}
	for k, v := range fields {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// NormalizePhone strips everything but digits so that "+55 (11) 9999-0000"
// and "5511 99990000" dedupe to the same recipient.
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
