package provision

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/starford/cardsync/internal/apperr"
)

const loginSchemaURL = "https://cardsync.invalid/schema/login-response.json"

// loginSchema describes a successful login exchange. Extra members are
// allowed so providers can add their own links.
const loginSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["links", "basicAuth"],
  "properties": {
    "links": {
      "type": "object",
      "required": ["addressbook-home-set"],
      "properties": {
        "addressbook-home-set": {"type": "string", "minLength": 1}
      }
    },
    "basicAuth": {
      "type": "object",
      "required": ["userName", "password"],
      "properties": {
        "userName": {"type": "string", "minLength": 1},
        "password": {"type": "string", "minLength": 1}
      }
    }
  }
}`

// loginResponse is the body of a successful login exchange.
type loginResponse struct {
	Links struct {
		HomeSet string `json:"addressbook-home-set"`
	} `json:"links"`
	BasicAuth struct {
		UserName string `json:"userName"`
		Password string `json:"password"`
	} `json:"basicAuth"`
}

func compileLoginSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(loginSchema))
	if err != nil {
		return nil, fmt.Errorf("provision: parse login schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(loginSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("provision: add login schema: %w", err)
	}
	sch, err := c.Compile(loginSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("provision: compile login schema: %w", err)
	}
	return sch, nil
}

// validateLogin checks body against the login schema. Non-JSON bodies and
// schema violations are parse errors.
func validateLogin(sch *jsonschema.Schema, body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return apperr.Parse("provision: login response", err)
	}
	if err := sch.Validate(inst); err != nil {
		return apperr.Parse("provision: login response", err)
	}
	return nil
}
