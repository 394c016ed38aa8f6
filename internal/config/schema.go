package config

import (
	"strings"

	"github.com/xeipuuv/gojsonschema"

	dserrors "github.com/systmms/vaultenv/internal/errors"
)

// documentSchema describes the structure of vaultenv.yaml. Semantic checks
// (URL shape, method-specific fields) are done per connection so that one bad
// entry drops only itself.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "version": { "type": "integer" },
    "origin": { "type": "string" },
    "connections": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "additionalProperties": false,
        "properties": {
          "name": { "type": "string" },
          "endpoint": { "type": "string" },
          "namespace": { "type": "string" },
          "auth": {
            "type": "object",
            "additionalProperties": false,
            "properties": {
              "method": { "type": "string" },
              "token": { "type": "string" },
              "mountPoint": { "type": "string" },
              "username": { "type": "string" },
              "password": { "type": "string" }
            }
          }
        }
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(documentSchema)

func validateSchema(document interface{}) error {
	if document == nil {
		return nil
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(document))
	if err != nil {
		return dserrors.ConfigError{
			Message:    "configuration could not be checked against its schema",
			Suggestion: err.Error(),
		}
	}

	if !result.Valid() {
		var errorMessages []string
		for _, desc := range result.Errors() {
			errorMessages = append(errorMessages, desc.String())
		}
		return dserrors.ConfigError{
			Message:    "schema validation failed:\n  - " + strings.Join(errorMessages, "\n  - "),
			Suggestion: "Each connection accepts name, endpoint, namespace and auth{method, token, mountPoint, username, password}",
		}
	}

	return nil
}
