package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	validator "github.com/santhosh-tekuri/jsonschema/v5"
)

// reflectSchema renders the input struct as an inline JSON Schema object.
func reflectSchema(input any) (json.RawMessage, error) {
	r := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(input)
	schema.Version = ""
	if schema.Properties == nil || schema.Properties.Len() == 0 {
		schema.Properties = nil
	}
	return json.Marshal(schema)
}

func compileSchema(name string, schema json.RawMessage) (*validator.Schema, error) {
	compiled, err := validator.CompileString(name+".schema.json", string(schema))
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", name, err)
	}
	return compiled, nil
}

// validateInput checks raw tool input against its compiled schema. Empty
// input is treated as an empty object.
func validateInput(schema *validator.Schema, raw json.RawMessage) error {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("input is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		var verr *validator.ValidationError
		if errors.As(err, &verr) {
			return errors.New(describeValidation(verr))
		}
		return err
	}
	return nil
}

// describeValidation flattens a validation tree to its leaf messages.
func describeValidation(err *validator.ValidationError) string {
	var msgs []string
	var walk func(*validator.ValidationError)
	walk = func(e *validator.ValidationError) {
		if len(e.Causes) == 0 {
			msg := e.Message
			if loc := strings.TrimPrefix(e.InstanceLocation, "/"); loc != "" {
				msg = loc + ": " + msg
			}
			msgs = append(msgs, msg)
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(err)
	return "invalid input: " + strings.Join(msgs, "; ")
}
