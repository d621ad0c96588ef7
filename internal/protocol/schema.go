package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

type validator interface {
	Validate(instance any) error
}

const contextSchemaJSON = `{
	"type": "object",
	"required": ["model_id"],
	"properties": {
		"model_id": {"type": "string"},
		"parameters": {"type": ["object", "null"]},
		"history": {
			"type": ["array", "null"],
			"items": {
				"type": "object",
				"required": ["role", "content", "timestamp"],
				"properties": {
					"role": {"enum": ["user", "assistant"]},
					"content": {"type": "string"},
					"timestamp": {"type": "number"}
				}
			}
		}
	}
}`

var (
	envelopeSchema = mustResolve(`{
		"type": "object",
		"required": ["type"],
		"properties": {
			"type": {"type": "string"},
			"context": {"anyOf": [{"type": "null"}, ` + contextSchemaJSON + `]}
		}
	}`)

	querySchema = mustResolve(`{
		"type": "object",
		"required": ["prompt"],
		"properties": {
			"prompt": {"type": "string"},
			"options": {
				"type": ["object", "null"],
				"properties": {
					"temperature": {"type": ["number", "null"]},
					"max_tokens": {"type": ["integer", "null"]},
					"stop_sequences": {"type": ["array", "null"], "items": {"type": "string"}}
				}
			}
		}
	}`)

	responseSchema = mustResolve(`{
		"type": "object",
		"required": ["text"],
		"properties": {
			"text": {"type": "string"},
			"metadata": {
				"type": ["object", "null"],
				"required": ["tokens", "processing_time", "model"],
				"properties": {
					"tokens": {"type": "integer"},
					"processing_time": {"type": "number"},
					"model": {"type": "string"}
				}
			}
		}
	}`)

	errorSchema = mustResolve(`{
		"type": "object",
		"required": ["code", "message"],
		"properties": {
			"code": {"type": "string"},
			"message": {"type": "string"}
		}
	}`)

	statusSchema = mustResolve(`{
		"type": "object",
		"required": ["status"],
		"properties": {
			"status": {"type": "string"},
			"context": {"anyOf": [{"type": "null"}, ` + contextSchemaJSON + `]}
		}
	}`)
)

func mustResolve(doc string) *jsonschema.Resolved {
	var schema jsonschema.Schema
	if err := json.Unmarshal([]byte(doc), &schema); err != nil {
		panic(fmt.Sprintf("protocol: bad schema: %v", err))
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("protocol: resolve schema: %v", err))
	}
	return resolved
}
