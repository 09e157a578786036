package vcard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/starford/cardsync/internal/apperr"
	"github.com/starford/cardsync/internal/models"
)

// contentLine is one unfolded property line split into its parts. Param
// values are unquoted and caret-decoded; value is still escaped.
type contentLine struct {
	name   string
	params map[string][]string
	value  string
}

func (l contentLine) param(name string) string {
	if vs := l.params[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Decode parses a vCard document produced by Encode back into a contact.
// Properties the encoder never emits are ignored. Malformed input yields an
// error matching apperr.ErrParse.
func Decode(text string) (*models.Contact, error) {
	raw := strings.Split(strings.ReplaceAll(Unfold(text), CRLF, "\n"), "\n")

	var lines []contentLine
	begun, ended := false, false
	for i, s := range raw {
		s = strings.TrimRight(s, "\r")
		if s == "" {
			continue
		}
		l, err := parseLine(s)
		if err != nil {
			return nil, apperr.Parse("vcard: decode", fmt.Errorf("line %d: %w", i+1, err))
		}
		switch {
		case l.name == "BEGIN" && strings.EqualFold(l.value, "VCARD"):
			begun = true
		case l.name == "END" && strings.EqualFold(l.value, "VCARD"):
			ended = true
		case begun && !ended:
			lines = append(lines, l)
		}
	}
	if !begun || !ended {
		return nil, apperr.Parse("vcard: decode", errors.New("missing BEGIN:VCARD/END:VCARD envelope"))
	}

	c := &models.Contact{}
	for _, l := range lines {
		applyLine(c, l)
	}
	return c, nil
}

func applyLine(c *models.Contact, l contentLine) {
	switch l.name {
	case "FN":
		c.Name = textList(l.value)
	case "N":
		parts := components(l.value, 5)
		c.FamilyName = textList(parts[0])
		c.GivenName = textList(parts[1])
		c.AdditionalName = textList(parts[2])
		c.HonorificPrefix = textList(parts[3])
		c.HonorificSuffix = textList(parts[4])
	case "NICKNAME":
		c.Nickname = textList(l.value)
	case "BDAY":
		c.Bday = &models.Date{Raw: UnescapeValue(l.value)}
	case "ANNIVERSARY":
		c.Anniversary = &models.Date{Raw: UnescapeValue(l.value)}
	case "REV":
		c.Updated = &models.Date{Raw: UnescapeValue(l.value)}
	case "GENDER":
		parts := components(l.value, 2)
		c.Sex = UnescapeValue(parts[0])
		c.GenderIdentity = UnescapeValue(parts[1])
	case "ADR":
		parts := components(l.value, 7)
		c.Adr = append(c.Adr, models.Address{
			Type:          l.params["TYPE"],
			Pref:          l.param("PREF") == "1",
			StreetAddress: UnescapeValue(parts[2]),
			Locality:      UnescapeValue(parts[3]),
			Region:        UnescapeValue(parts[4]),
			PostalCode:    UnescapeValue(parts[5]),
			CountryName:   UnescapeValue(parts[6]),
		})
	case "TEL":
		c.Tel = append(c.Tel, models.Phone{
			Field:   typedField(l, "TYPE"),
			Carrier: l.param("X-MOZ-CARRIER"),
		})
	case "EMAIL":
		c.Email = append(c.Email, typedField(l, "TYPE"))
	case "IMPP":
		c.Impp = append(c.Impp, typedField(l, "X-MOZ-TYPE"))
	case "URL":
		c.URL = append(c.URL, typedField(l, "TYPE"))
	case "TITLE":
		c.JobTitle = append(c.JobTitle, UnescapeValue(l.value))
	case "ORG":
		c.Org = append(c.Org, UnescapeValue(l.value))
	case "NOTE":
		c.Note = append(c.Note, UnescapeValue(l.value))
	case "KEY":
		c.Key = append(c.Key, UnescapeValue(l.value))
	case "CATEGORIES":
		c.Category = textList(l.value)
	case "UID":
		c.ID = UnescapeValue(l.value)
	}
}

func typedField(l contentLine, typeParam string) models.Field {
	return models.Field{
		Type:  l.params[typeParam],
		Pref:  l.param("PREF") == "1",
		Value: UnescapeValue(l.value),
	}
}

// components splits a structured value into exactly n escaped parts.
func components(value string, n int) []string {
	parts := splitEscaped(value, ';')
	for len(parts) < n {
		parts = append(parts, "")
	}
	return parts[:n]
}

// textList splits an escaped comma-separated list; "" yields nil.
func textList(value string) models.StringList {
	if value == "" {
		return nil
	}
	parts := splitEscaped(value, ',')
	out := make(models.StringList, len(parts))
	for i, p := range parts {
		out[i] = UnescapeValue(p)
	}
	return out
}

// parseLine splits NAME[;PARAM=VALUE...]:VALUE. Colons and semicolons
// inside double-quoted parameter values do not end the parameter.
func parseLine(s string) (contentLine, error) {
	l := contentLine{params: map[string][]string{}}

	i := strings.IndexAny(s, ";:")
	if i <= 0 {
		return l, fmt.Errorf("malformed content line %q", s)
	}
	l.name = strings.ToUpper(s[:i])

	for s[i] == ';' {
		i++
		eq := strings.IndexByte(s[i:], '=')
		if eq < 0 {
			return l, fmt.Errorf("parameter without value in %q", s)
		}
		name := strings.ToUpper(s[i : i+eq])
		i += eq + 1

		var values []string
		for {
			start := i
			if i < len(s) && s[i] == '"' {
				end := strings.IndexByte(s[i+1:], '"')
				if end < 0 {
					return l, fmt.Errorf("unterminated quote in %q", s)
				}
				i += end + 2
				values = append(values, unescapeParam(s[start:i]))
			} else {
				for i < len(s) && s[i] != ',' && s[i] != ';' && s[i] != ':' {
					if s[i] == '\\' {
						i++
					}
					i++
				}
				if i > len(s) {
					i = len(s)
				}
				values = append(values, UnescapeValue(s[start:i]))
			}
			if i < len(s) && s[i] == ',' {
				i++
				continue
			}
			break
		}
		l.params[name] = append(l.params[name], values...)

		if i >= len(s) {
			return l, fmt.Errorf("missing value separator in %q", s)
		}
	}
	if s[i] != ':' {
		return l, fmt.Errorf("malformed content line %q", s)
	}
	l.value = s[i+1:]
	return l, nil
}
