package httpapi

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const requestSchemaSrc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["package_name", "version"],
  "properties": {
    "package_name": {"type": "string", "minLength": 1, "maxLength": 214},
    "version": {"type": "string", "minLength": 1, "maxLength": 100},
    "mode": {"type": "string", "enum": ["install", "execute", "execute_module"]},
    "file_path": {"type": "string", "maxLength": 4096},
    "entrypoint": {"type": "string", "maxLength": 256},
    "module_name": {"type": "string", "maxLength": 256}
  }
}`

const requestSchemaURL = "https://snakehook.internal/schemas/triage-request.json"

var requestSchema = mustCompileRequestSchema()

func mustCompileRequestSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(requestSchemaURL, strings.NewReader(requestSchemaSrc)); err != nil {
		panic("httpapi: invalid embedded request schema: " + err.Error())
	}
	schema, err := compiler.Compile(requestSchemaURL)
	if err != nil {
		panic("httpapi: failed to compile embedded request schema: " + err.Error())
	}
	return schema
}
