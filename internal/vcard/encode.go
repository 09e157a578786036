package vcard

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/cardsync/internal/apperr"
	"github.com/starford/cardsync/internal/models"
)

// ProdID identifies the producer in the optional PRODID property.
const ProdID = "-//Starford//NONSGML cardsync v1.0//EN"

const (
	header = "BEGIN:VCARD" + CRLF + "VERSION:4.0" + CRLF
	footer = "END:VCARD" + CRLF

	dateLayout    = "2006-01-02"
	instantLayout = "2006-01-02T15:04:05.000Z"
)

// fieldFunc maps a contact to zero or more properties.
type fieldFunc func(c *models.Contact) []*Property

// fields lists every emitted property in document order.
var fields = []struct {
	name string
	fn   fieldFunc
}{
	{"FN", fieldFN},
	{"N", fieldN},
	{"NICKNAME", fieldNickname},
	{"BDAY", fieldBday},
	{"ANNIVERSARY", fieldAnniversary},
	{"GENDER", fieldGender},
	{"ADR", fieldAdr},
	{"TEL", fieldTel},
	{"EMAIL", fieldEmail},
	{"IMPP", fieldImpp},
	{"TITLE", textEach("TITLE", func(c *models.Contact) []string { return c.JobTitle })},
	{"ORG", textEach("ORG", func(c *models.Contact) []string { return c.Org })},
	{"NOTE", textEach("NOTE", func(c *models.Contact) []string { return c.Note })},
	{"PRODID", fieldProdID},
	{"REV", fieldRev},
	{"UID", fieldUID},
	{"URL", fieldURL},
	{"KEY", textEach("KEY", func(c *models.Contact) []string { return c.Key })},
	{"CATEGORIES", fieldCategories},
}

// Encoder renders contacts as vCard 4.0 documents.
type Encoder struct {
	lineLength int
	prodID     bool
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithLineLength sets the folding column.
func WithLineLength(n int) EncoderOption {
	return func(e *Encoder) {
		e.lineLength = n
	}
}

// WithProdID makes the encoder emit the PRODID property.
func WithProdID(enabled bool) EncoderOption {
	return func(e *Encoder) {
		e.prodID = enabled
	}
}

// NewEncoder returns an Encoder, rejecting a folding column below MinLineLength.
func NewEncoder(opts ...EncoderOption) (*Encoder, error) {
	e := &Encoder{lineLength: DefaultLineLength}
	for _, opt := range opts {
		opt(e)
	}
	if e.lineLength < MinLineLength {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLineLength, e.lineLength)
	}
	return e, nil
}

var defaultEncoder = &Encoder{lineLength: DefaultLineLength}

// Encode renders c with the default encoder.
func Encode(c *models.Contact) (string, error) {
	return defaultEncoder.Encode(c)
}

// Encode validates c and renders it as a vCard document. Invalid input
// yields an error matching apperr.ErrValidation.
func (e *Encoder) Encode(c *models.Contact) (string, error) {
	if c == nil {
		return "", apperr.Validation("vcard: encode", errors.New("nil contact"))
	}
	if err := Validate(c); err != nil {
		return "", apperr.Validation("vcard: encode", err)
	}

	lines, err := e.Lines(c)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(header)
	if len(lines) > 0 {
		b.WriteString(strings.Join(lines, CRLF))
		b.WriteString(CRLF)
	}
	b.WriteString(footer)
	return b.String(), nil
}

// Lines returns the folded content lines of c in document order, without
// the BEGIN/VERSION/END envelope.
func (e *Encoder) Lines(c *models.Contact) ([]string, error) {
	var out []string
	for _, f := range fields {
		if f.name == "PRODID" && !e.prodID {
			continue
		}
		for _, p := range f.fn(c) {
			line := p.Line()
			if line == "" {
				continue
			}
			folded, err := Fold(line, e.lineLength)
			if err != nil {
				return nil, err
			}
			out = append(out, folded)
		}
	}
	return out, nil
}

// Property returns the folded lines of the named property only.
func (e *Encoder) Property(c *models.Contact, name string) ([]string, error) {
	for _, f := range fields {
		if f.name != name {
			continue
		}
		var out []string
		for _, p := range f.fn(c) {
			if line := p.Line(); line != "" {
				folded, err := Fold(line, e.lineLength)
				if err != nil {
					return nil, err
				}
				out = append(out, folded)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("vcard: unknown property %q", name)
}

func single(p *Property) []*Property {
	return []*Property{p}
}

func fieldFN(c *models.Contact) []*Property {
	return single(NewProperty("FN").TextList(c.Name))
}

func fieldN(c *models.Contact) []*Property {
	if c.FamilyName.Empty() && c.GivenName.Empty() && c.AdditionalName.Empty() &&
		c.HonorificPrefix.Empty() && c.HonorificSuffix.Empty() {
		return nil
	}
	return single(NewProperty("N").Components(
		c.FamilyName,
		c.GivenName,
		c.AdditionalName,
		c.HonorificPrefix,
		c.HonorificSuffix,
	))
}

func fieldNickname(c *models.Contact) []*Property {
	return single(NewProperty("NICKNAME").TextList(c.Nickname))
}

func fieldBday(c *models.Contact) []*Property {
	if c.Bday.IsZero() {
		return nil
	}
	v, err := formatDate(c.Bday)
	if err != nil {
		return nil
	}
	return single(NewProperty("BDAY").Text(v))
}

func fieldAnniversary(c *models.Contact) []*Property {
	return instantProperty("ANNIVERSARY", c.Anniversary)
}

func fieldRev(c *models.Contact) []*Property {
	return instantProperty("REV", c.Updated)
}

func instantProperty(name string, d *models.Date) []*Property {
	if d.IsZero() {
		return nil
	}
	v, err := formatInstant(d)
	if err != nil {
		return nil
	}
	return single(NewProperty(name).Text(v))
}

func fieldGender(c *models.Contact) []*Property {
	if c.Sex == "" && c.GenderIdentity == "" {
		return nil
	}
	return single(NewProperty("GENDER").Components(one(c.Sex), one(c.GenderIdentity)))
}

// fieldAdr leaves the post office box and extended address empty, as
// RFC 6350 §6.3.1 recommends for interoperability.
func fieldAdr(c *models.Contact) []*Property {
	out := make([]*Property, 0, len(c.Adr))
	for _, a := range c.Adr {
		out = append(out, NewProperty("ADR").
			Type(a.Type).
			Pref(a.Pref).
			Components(
				nil,
				nil,
				one(a.StreetAddress),
				one(a.Locality),
				one(a.Region),
				one(a.PostalCode),
				one(a.CountryName),
			))
	}
	return out
}

func fieldTel(c *models.Contact) []*Property {
	out := make([]*Property, 0, len(c.Tel))
	for _, t := range c.Tel {
		out = append(out, NewProperty("TEL").
			Type(t.Type).
			Pref(t.Pref).
			Param("X-MOZ-CARRIER", t.Carrier).
			Text(t.Value))
	}
	return out
}

func fieldEmail(c *models.Contact) []*Property {
	return typedFields("EMAIL", c.Email)
}

func fieldURL(c *models.Contact) []*Property {
	return typedFields("URL", c.URL)
}

func typedFields(name string, entries []models.Field) []*Property {
	out := make([]*Property, 0, len(entries))
	for _, f := range entries {
		out = append(out, NewProperty(name).Type(f.Type).Pref(f.Pref).Text(f.Value))
	}
	return out
}

func fieldImpp(c *models.Contact) []*Property {
	out := make([]*Property, 0, len(c.Impp))
	for _, f := range c.Impp {
		out = append(out, NewProperty("IMPP").
			Param("X-MOZ-TYPE", f.Type...).
			Pref(f.Pref).
			Text(f.Value))
	}
	return out
}

func textEach(name string, get func(c *models.Contact) []string) fieldFunc {
	return func(c *models.Contact) []*Property {
		values := get(c)
		out := make([]*Property, 0, len(values))
		for _, v := range values {
			out = append(out, NewProperty(name).Text(v))
		}
		return out
	}
}

func fieldProdID(*models.Contact) []*Property {
	return single(NewProperty("PRODID").Text(ProdID))
}

func fieldUID(c *models.Contact) []*Property {
	if c.ID == "" {
		return nil
	}
	return single(NewProperty("UID").Text(c.ID))
}

func fieldCategories(c *models.Contact) []*Property {
	return single(NewProperty("CATEGORIES").TextList(c.Category))
}

// formatDate renders d as YYYY-MM-DD in UTC.
func formatDate(d *models.Date) (string, error) {
	if d.Raw == "" {
		return d.Time.UTC().Format(dateLayout), nil
	}
	if _, err := time.Parse(dateLayout, d.Raw); err == nil {
		return d.Raw, nil
	}
	t, err := time.Parse(time.RFC3339Nano, d.Raw)
	if err != nil {
		return "", fmt.Errorf("not a date: %q", d.Raw)
	}
	return t.UTC().Format(dateLayout), nil
}

// formatInstant renders d as an ISO 8601 instant with millisecond
// precision. Parseable raw strings are kept verbatim.
func formatInstant(d *models.Date) (string, error) {
	if d.Raw == "" {
		return d.Time.UTC().Format(instantLayout), nil
	}
	if _, err := time.Parse(time.RFC3339Nano, d.Raw); err == nil {
		return d.Raw, nil
	}
	if _, err := time.Parse(dateLayout, d.Raw); err == nil {
		return d.Raw, nil
	}
	return "", fmt.Errorf("not an instant: %q", d.Raw)
}
