package vcard

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/cardsync/internal/models"
)

// Sex components accepted in GENDER (RFC 6350 §6.2.7).
var sexValues = []any{"M", "F", "O", "N", "U"}

// Validate checks the parts of c that the encoder cannot render as-is.
func Validate(c *models.Contact) error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Sex, validation.In(sexValues...)),
		validation.Field(&c.Bday, validation.By(dateRule(formatDate))),
		validation.Field(&c.Anniversary, validation.By(dateRule(formatInstant))),
		validation.Field(&c.Updated, validation.By(dateRule(formatInstant))),
	)
}

func dateRule(format func(*models.Date) (string, error)) validation.RuleFunc {
	return func(value any) error {
		d, ok := value.(*models.Date)
		if !ok {
			return errors.New("must be a date")
		}
		if d.IsZero() {
			return nil
		}
		_, err := format(d)
		return err
	}
}
