package web

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// lifecycleEventSchema describes the events a host may push over HTTP.
const lifecycleEventSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["type", "run_id"],
	"properties": {
		"id": {"type": "string"},
		"type": {"enum": ["run.started", "run.completed", "run.finalized"]},
		"timestamp": {"type": "string", "format": "date-time"},
		"run_id": {"type": "string", "minLength": 1},
		"metadata": {"type": "object", "additionalProperties": {"type": "string"}},
		"url": {"type": "string"},
		"causes": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"upstream_run": {"type": "string"},
					"description": {"type": "string"}
				},
				"additionalProperties": false
			}
		},
		"config": {"type": "object", "additionalProperties": {"type": "string"}},
		"outcome": {"enum": ["SUCCESS", "UNSTABLE", "FAILURE", "NOT_BUILT", "ABORTED"]}
	}
}`

var lifecycleSchemaLoader = gojsonschema.NewStringLoader(lifecycleEventSchema)

func validateLifecycleEvent(body []byte) error {
	result, err := gojsonschema.Validate(lifecycleSchemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}

	return fmt.Errorf("event does not match schema: %s", strings.Join(messages, "; "))
}
