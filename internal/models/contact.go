// Package models defines the domain types for cardsync.
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Contact is a device contact record. Every field is optional; an absent
// field produces no vCard property.
type Contact struct {
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	// Name holds the free-form display names (FN).
	Name            StringList `json:"name,omitempty" yaml:"name,omitempty"`
	FamilyName      StringList `json:"familyName,omitempty" yaml:"familyName,omitempty"`
	GivenName       StringList `json:"givenName,omitempty" yaml:"givenName,omitempty"`
	AdditionalName  StringList `json:"additionalName,omitempty" yaml:"additionalName,omitempty"`
	HonorificPrefix StringList `json:"honorificPrefix,omitempty" yaml:"honorificPrefix,omitempty"`
	HonorificSuffix StringList `json:"honorificSuffix,omitempty" yaml:"honorificSuffix,omitempty"`
	Nickname        StringList `json:"nickname,omitempty" yaml:"nickname,omitempty"`

	Bday        *Date `json:"bday,omitempty" yaml:"bday,omitempty"`
	Anniversary *Date `json:"anniversary,omitempty" yaml:"anniversary,omitempty"`
	Updated     *Date `json:"updated,omitempty" yaml:"updated,omitempty"`
	Published   *Date `json:"published,omitempty" yaml:"published,omitempty"`

	Sex            string `json:"sex,omitempty" yaml:"sex,omitempty"`
	GenderIdentity string `json:"genderIdentity,omitempty" yaml:"genderIdentity,omitempty"`

	Adr   []Address `json:"adr,omitempty" yaml:"adr,omitempty"`
	Tel   []Phone   `json:"tel,omitempty" yaml:"tel,omitempty"`
	Email []Field   `json:"email,omitempty" yaml:"email,omitempty"`
	Impp  []Field   `json:"impp,omitempty" yaml:"impp,omitempty"`
	URL   []Field   `json:"url,omitempty" yaml:"url,omitempty"`

	JobTitle StringList `json:"jobTitle,omitempty" yaml:"jobTitle,omitempty"`
	Org      StringList `json:"org,omitempty" yaml:"org,omitempty"`
	Note     StringList `json:"note,omitempty" yaml:"note,omitempty"`
	Key      StringList `json:"key,omitempty" yaml:"key,omitempty"`
	Category StringList `json:"categories,omitempty" yaml:"categories,omitempty"`
}

// Field is a typed multi-value entry such as an email or URL.
type Field struct {
	Type  StringList `json:"type,omitempty" yaml:"type,omitempty"`
	Pref  bool       `json:"pref,omitempty" yaml:"pref,omitempty"`
	Value string     `json:"value,omitempty" yaml:"value,omitempty"`
}

// Phone is a telephone entry with an optional carrier name.
type Phone struct {
	Field   `yaml:",inline"`
	Carrier string `json:"carrier,omitempty" yaml:"carrier,omitempty"`
}

// Address is a postal address entry.
type Address struct {
	Type          StringList `json:"type,omitempty" yaml:"type,omitempty"`
	Pref          bool       `json:"pref,omitempty" yaml:"pref,omitempty"`
	StreetAddress string     `json:"streetAddress,omitempty" yaml:"streetAddress,omitempty"`
	Locality      string     `json:"locality,omitempty" yaml:"locality,omitempty"`
	Region        string     `json:"region,omitempty" yaml:"region,omitempty"`
	PostalCode    string     `json:"postalCode,omitempty" yaml:"postalCode,omitempty"`
	CountryName   string     `json:"countryName,omitempty" yaml:"countryName,omitempty"`
}

// StringList is a list of strings that also accepts a single scalar when
// decoded, so `type: work` and `type: [work]` are equivalent.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		if node.Tag == "!!null" {
			*l = nil
			return nil
		}
		*l = StringList{node.Value}
		return nil
	}
	var out []string
	if err := node.Decode(&out); err != nil {
		return err
	}
	*l = out
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = StringList{single}
		return nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*l = out
	return nil
}

// Empty reports whether the list has no non-empty element.
func (l StringList) Empty() bool {
	for _, s := range l {
		if s != "" {
			return false
		}
	}
	return true
}

// Date is a point in time that may arrive as a millisecond timestamp, a
// date value, or a preformatted string. Raw wins over Time when both are set.
type Date struct {
	Time time.Time
	Raw  string
}

// NewDate returns a Date holding t.
func NewDate(t time.Time) *Date {
	return &Date{Time: t}
}

// DateFromMillis returns a Date for a Unix millisecond timestamp.
func DateFromMillis(ms int64) *Date {
	return &Date{Time: time.UnixMilli(ms).UTC()}
}

// IsZero reports whether d carries no value.
func (d *Date) IsZero() bool {
	return d == nil || (d.Raw == "" && d.Time.IsZero())
}

// String returns the raw form, or the time in RFC 3339.
func (d *Date) String() string {
	if d.IsZero() {
		return ""
	}
	if d.Raw != "" {
		return d.Raw
	}
	return d.Time.UTC().Format(time.RFC3339Nano)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Date) UnmarshalYAML(node *yaml.Node) error {
	switch node.Tag {
	case "!!int", "!!float":
		ms, err := strconv.ParseFloat(node.Value, 64)
		if err != nil {
			return fmt.Errorf("date: %w", err)
		}
		*d = *DateFromMillis(int64(ms))
	case "!!timestamp":
		var t time.Time
		if err := node.Decode(&t); err != nil {
			return fmt.Errorf("date: %w", err)
		}
		*d = Date{Time: t}
	default:
		*d = Date{Raw: strings.TrimSpace(node.Value)}
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Date) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		*d = Date{Raw: strings.TrimSpace(raw)}
		return nil
	}
	var ms float64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("date: %w", err)
	}
	*d = *DateFromMillis(int64(ms))
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// ContactMeta describes a stored contact record file.
type ContactMeta struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updatedAt"`
}
