package vcard

import "strings"

// Characters that force a parameter value into double quotes.
const paramQuoteChars = "^,:;\n"

var (
	valueEscaper = strings.NewReplacer(
		",", `\,`,
		";", `\;`,
		"\r", `\r`,
		"\n", `\n`,
	)

	// RFC 6868 caret encoding, applied inside double quotes.
	paramEscaper = strings.NewReplacer(
		`"`, `^'`,
		"\n", `^n`,
		"^", `^^`,
	)

	paramUnescaper = strings.NewReplacer(
		`^'`, `"`,
		`^n`, "\n",
		`^N`, "\n",
		`^^`, "^",
	)
)

// EscapeValue backslash-escapes commas, semicolons and line-break
// characters in a property value.
func EscapeValue(s string) string {
	return valueEscaper.Replace(s)
}

// EscapeParam returns s unchanged unless it contains one of ^ , : ; or a
// newline, in which case it is caret-encoded and wrapped in double quotes.
func EscapeParam(s string) string {
	if !strings.ContainsAny(s, paramQuoteChars) {
		return s
	}
	return `"` + paramEscaper.Replace(s) + `"`
}

// UnescapeValue reverses EscapeValue. A backslash before any other
// character is kept.
func UnescapeValue(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		switch next := s[i+1]; next {
		case ',', ';', '\\':
			b.WriteByte(next)
		case 'n', 'N':
			b.WriteByte('\n')
		case 'r', 'R':
			b.WriteByte('\r')
		default:
			b.WriteByte(c)
			b.WriteByte(next)
		}
		i++
	}
	return b.String()
}

// unescapeParam reverses EscapeParam for a single value.
func unescapeParam(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return paramUnescaper.Replace(s[1 : len(s)-1])
	}
	return s
}

// splitEscaped splits s on sep, ignoring separators preceded by a
// backslash. Parts are returned still escaped.
func splitEscaped(s string, sep byte) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case sep:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}
