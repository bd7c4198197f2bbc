package workflow

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// definitionSchema guards the shape of a workflow document before it is
// decoded into models. Semantic rules (cron syntax, amount exclusivity)
// stay in the model Validate methods.
const definitionSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["id", "name", "trigger", "actions", "signer_address"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"name": {"type": "string", "minLength": 3},
		"description": {"type": "string"},
		"signer_address": {"type": "string", "minLength": 1},
		"trigger": {
			"type": "object",
			"required": ["kind"],
			"properties": {
				"workflow_id": {"type": "string"},
				"kind": {"enum": ["time", "price"]},
				"cron": {"type": "string"},
				"fire_at": {"type": "string", "format": "date-time"},
				"token": {"type": "string"},
				"comparator": {"enum": ["above", "below", "equals"]},
				"target_price": {"type": "number"},
				"recurring": {"type": "boolean"}
			}
		},
		"actions": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["kind"],
				"properties": {
					"id": {"type": "string"},
					"kind": {"enum": ["swap", "stake", "transfer"]},
					"swap": {"type": "object"},
					"stake": {"type": "object"},
					"transfer": {"type": "object"}
				}
			}
		}
	}
}`

func validateDocument(document []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(definitionSchema)
	dataLoader := gojsonschema.NewBytesLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("validate workflow document: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, resultError := range result.Errors() {
			details = append(details, resultError.String())
		}

		return fmt.Errorf("workflow document schema validation failed: %s", strings.Join(details, "; "))
	}

	return nil
}
