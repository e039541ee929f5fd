package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// documentSchema describes config.json. bindings may be the current map shape
// or the legacy array shape, which Load migrates.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "definitions": {
    "binding": {
      "type": "object",
      "required": ["provider"],
      "properties": {
        "path": {"type": "string"},
        "provider": {"type": "string", "minLength": 1},
        "fields": {
          "type": "object",
          "additionalProperties": {"type": "string"}
        }
      }
    }
  },
  "properties": {
    "bindings": {
      "oneOf": [
        {"type": "null"},
        {"type": "object", "additionalProperties": {"$ref": "#/definitions/binding"}},
        {
          "type": "array",
          "items": {
            "allOf": [
              {"$ref": "#/definitions/binding"},
              {"required": ["path"]}
            ]
          }
        }
      ]
    },
    "providerSettings": {
      "oneOf": [
        {"type": "null"},
        {
          "type": "object",
          "additionalProperties": {
            "type": "object",
            "additionalProperties": {"type": ["string", "boolean", "number"]}
          }
        }
      ]
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(documentSchema)

// validateDocument checks raw file content against documentSchema. Content
// that is not JSON, or JSON whose root is not an object, fails here.
func validateDocument(data []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if !result.Valid() {
		var messages []string
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}
		return fmt.Errorf("schema validation failed: %s", strings.Join(messages, "; "))
	}

	return nil
}
