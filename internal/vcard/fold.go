// Package vcard converts contact records to and from vCard 4.0 text.
package vcard

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// CRLF terminates every physical line of a vCard document.
	CRLF = "\r\n"
	// DefaultLineLength is the folding column suggested by RFC 6350 §3.2.
	DefaultLineLength = 78
	// MinLineLength is the smallest accepted folding column.
	MinLineLength = 20
)

// ErrInvalidLineLength is returned for a folding column below MinLineLength.
var ErrInvalidLineLength = errors.New("vcard: line length below minimum")

// Fold splits line into CRLF-separated segments of at most maxLength runes.
// Continuation segments start with a single space and carry one rune less
// of content. A split is placed after the nearest non-word character when
// one exists inside the window. maxLength 0 selects DefaultLineLength.
func Fold(line string, maxLength int) (string, error) {
	if maxLength == 0 {
		maxLength = DefaultLineLength
	}
	if maxLength < MinLineLength {
		return "", fmt.Errorf("%w: %d (suggested %d)", ErrInvalidLineLength, maxLength, DefaultLineLength)
	}

	rest := []rune(line)
	if len(rest) <= maxLength {
		return line, nil
	}

	var b strings.Builder
	first := true
	for len(rest) > maxLength {
		cut := maxLength
		for cut > 1 && isWordRune(rest[cut-1]) {
			cut--
		}
		if cut == 1 {
			cut = maxLength
		}

		if !first {
			b.WriteString(CRLF)
			b.WriteByte(' ')
		}
		b.WriteString(string(rest[:cut]))
		rest = rest[cut:]

		if first {
			first = false
			// Continuation lines spend one column on the leading space.
			maxLength--
		}
	}
	if len(rest) > 0 {
		b.WriteString(CRLF)
		b.WriteByte(' ')
		b.WriteString(string(rest))
	}
	return b.String(), nil
}

var unfolder = strings.NewReplacer(CRLF+" ", "", CRLF+"\t", "")

// Unfold removes every CRLF that is immediately followed by a single space
// or horizontal tab.
func Unfold(s string) string {
	return unfolder.Replace(s)
}

// isWordRune matches the ASCII word class [A-Za-z0-9_].
func isWordRune(r rune) bool {
	return r == '_' ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
