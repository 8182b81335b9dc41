package httpapi

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const checkoutSchemaJSON = `{
	"type": "object",
	"required": ["price_id", "mode"],
	"additionalProperties": false,
	"properties": {
		"price_id": {"type": "string", "minLength": 1, "maxLength": 255},
		"mode": {"type": "string", "enum": ["payment", "subscription"]},
		"success_url": {"type": "string", "maxLength": 2048},
		"cancel_url": {"type": "string", "maxLength": 2048},
		"csrf_token": {"type": "string", "maxLength": 255}
	}
}`

const confirmSchemaJSON = `{
	"type": "object",
	"required": ["sessionId"],
	"additionalProperties": false,
	"properties": {
		"sessionId": {"type": "string", "minLength": 1, "maxLength": 255},
		"userId": {"type": "string", "maxLength": 255},
		"csrf_token": {"type": "string", "maxLength": 255}
	}
}`

var (
	checkoutSchema = mustCompileSchema("checkout.json", checkoutSchemaJSON)
	confirmSchema  = mustCompileSchema("confirm.json", confirmSchemaJSON)
)

func mustCompileSchema(name, raw string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(raw)); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	return compiler.MustCompile(name)
}

// validateBody checks the raw request body against the schema and, when it
// conforms, decodes it into dst.
func validateBody(schema *jsonschema.Schema, body []byte, dst any) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return err
	}
	return json.Unmarshal(body, dst)
}
