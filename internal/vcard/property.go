package vcard

import "strings"

// Property is one content line under construction: a name, ordered
// parameters already rendered as NAME=VALUE, and an escaped value.
type Property struct {
	Name   string
	Params []string
	Value  string
}

// NewProperty returns an empty property called name.
func NewProperty(name string) *Property {
	return &Property{Name: name}
}

// Param adds a parameter. A single value is quoted when needed; several
// values are value-escaped and comma-joined without quotes, since quoting
// a comma-joined list is disallowed. No values adds nothing.
func (p *Property) Param(name string, values ...string) *Property {
	switch len(values) {
	case 0:
		return p
	case 1:
		if values[0] == "" {
			return p
		}
		return p.rawParam(name, EscapeParam(values[0]))
	}
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = EscapeValue(v)
	}
	return p.rawParam(name, strings.Join(escaped, ","))
}

func (p *Property) rawParam(name, value string) *Property {
	p.Params = append(p.Params, name+"="+value)
	return p
}

// Type adds the TYPE parameter.
func (p *Property) Type(values []string) *Property {
	return p.Param("TYPE", values...)
}

// Pref adds PREF=1 when pref is set.
func (p *Property) Pref(pref bool) *Property {
	if pref {
		p.rawParam("PREF", "1")
	}
	return p
}

// Text sets a single escaped text value.
func (p *Property) Text(value string) *Property {
	p.Value = EscapeValue(value)
	return p
}

// TextList sets a comma-separated list of escaped text values.
func (p *Property) TextList(values []string) *Property {
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = EscapeValue(v)
	}
	p.Value = strings.Join(escaped, ",")
	return p
}

// Components sets a structured value: components are separated by
// semicolons and each component may itself be a comma-separated list.
// A nil component renders empty.
func (p *Property) Components(components ...[]string) *Property {
	parts := make([]string, len(components))
	for i, c := range components {
		escaped := make([]string, len(c))
		for j, v := range c {
			escaped[j] = EscapeValue(v)
		}
		parts[i] = strings.Join(escaped, ",")
	}
	p.Value = strings.Join(parts, ";")
	return p
}

// Line renders the unfolded content line, or "" when the value is empty.
func (p *Property) Line() string {
	if p == nil || p.Value == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString(p.Name)
	for _, param := range p.Params {
		b.WriteByte(';')
		b.WriteString(param)
	}
	b.WriteByte(':')
	b.WriteString(p.Value)
	return b.String()
}

// String renders the content line folded at DefaultLineLength.
func (p *Property) String() string {
	line, _ := Fold(p.Line(), DefaultLineLength)
	return line
}

// one wraps a single component as a component list entry; "" becomes nil.
func one(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
