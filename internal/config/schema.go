package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

const schemaID = "https://github.com/haasonsaas/quill/config.schema.json"

// JSONSchema describes the config file, keyed by its YAML field names, for
// editor completion and `quill config schema`.
func JSONSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		FieldNameTag:   "yaml",
		DoNotReference: true,
	}
	schema := r.Reflect(&Config{})
	schema.ID = schemaID
	schema.Title = "Quill configuration"
	schema.Description = "Discord bot settings: gateway, LLM providers, persona, scheduler, storage and artifacts."
	return json.MarshalIndent(schema, "", "  ")
}
