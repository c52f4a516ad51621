package web

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// workflowSchema describes the body of PUT /workflows/:component/:id. Identity comes
// from the path, so it is not part of the document.
var workflowSchema = map[string]any{
	"type":                 "object",
	"required":             []any{"schedule", "docker_image"},
	"additionalProperties": false,
	"properties": map[string]any{
		"schedule":                   map[string]any{"type": "string", "minLength": 1},
		"docker_image":               map[string]any{"type": "string", "minLength": 1},
		"docker_args":                map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"docker_termination_logging": map[string]any{"type": "boolean"},
		"service_account":            map[string]any{"type": "string", "minLength": 1},
		"commit_sha":                 map[string]any{"type": "string", "pattern": "^[0-9a-fA-F]{40}$"},
		"env": map[string]any{
			"type":                 "object",
			"additionalProperties": map[string]any{"type": "string"},
		},
		"secret": map[string]any{
			"type":                 "object",
			"required":             []any{"name", "mount_path"},
			"additionalProperties": false,
			"properties": map[string]any{
				"name":       map[string]any{"type": "string", "minLength": 1},
				"mount_path": map[string]any{"type": "string", "pattern": "^/"},
			},
		},
	},
}

// validateWorkflowDocument checks a raw workflow body against workflowSchema.
func validateWorkflowDocument(body []byte) error {
	var document any

	if err := json.Unmarshal(body, &document); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	schemaLoader := gojsonschema.NewGoLoader(workflowSchema)
	dataLoader := gojsonschema.NewGoLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		var errors []string
		for _, desc := range result.Errors() {
			errors = append(errors, desc.String())
		}

		return fmt.Errorf("validation errors: %s", strings.Join(errors, "; "))
	}

	return nil
}
