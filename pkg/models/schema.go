package models

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// journeyDocumentSchema is the JSON Schema every imported journey document
// must satisfy before it is decoded. Structural rules only; graph
// invariants are enforced afterwards by Journey.Validate.
const journeyDocumentSchema = `{
	"type": "object",
	"required": ["name", "nodes", "edges"],
	"properties": {
		"name": {"type": "string", "minLength": 3},
		"description": {"type": "string"},
		"status": {"type": "string", "enum": ["draft", "active", "paused"]},
		"nodes": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["id", "type"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"type": {"type": "string", "enum": ["trigger", "action", "condition", "delay", "goal", "exit", "abtest"]},
					"name": {"type": "string"}
				}
			}
		},
		"edges": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["from", "to"],
				"properties": {
					"from": {"type": "string", "minLength": 1},
					"to": {"type": "string", "minLength": 1},
					"branch": {"type": "string"}
				}
			}
		},
		"settings": {
			"type": "object",
			"properties": {
				"allow_reentry": {"type": "boolean"},
				"reentry_cooldown_days": {"type": "integer", "minimum": 0},
				"test_mode": {"type": "boolean"},
				"test_customer_ids": {"type": "array", "items": {"type": "string"}},
				"test_phone_numbers": {"type": "array", "items": {"type": "string"}},
				"entry": {
					"type": "object",
					"properties": {
						"segment_id": {"type": "string"}
					}
				}
			}
		}
	}
}`

// ValidateJourneyDocument checks a raw journey document against the
// document schema and returns the joined validation messages on failure.
func ValidateJourneyDocument(raw []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(journeyDocumentSchema)
	documentLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("journey document: %w", err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return fmt.Errorf("journey document: %s", strings.Join(messages, "; "))
	}

	return nil
}
