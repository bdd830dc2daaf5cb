package actions

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/noah-isme/gema-action-engine/internal/models"
)

//go:embed schemas/*.schema.json
var schemaFiles embed.FS

// SchemaSet holds one compiled JSON schema per action type.
type SchemaSet struct {
	schemas map[models.ActionType]*jsonschema.Schema
}

// LoadSchemas compiles the embedded payload schemas.
func LoadSchemas() (*SchemaSet, error) {
	compiler := jsonschema.NewCompiler()
	set := &SchemaSet{schemas: make(map[models.ActionType]*jsonschema.Schema)}

	for _, actionType := range models.ActionTypes() {
		name := fmt.Sprintf("schemas/%s.schema.json", actionType)
		data, err := schemaFiles.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read schema for %s: %w", actionType, err)
		}
		url := "mem://actions/" + string(actionType) + ".schema.json"
		if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("load schema for %s: %w", actionType, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", actionType, err)
		}
		set.schemas[actionType] = schema
	}

	return set, nil
}

// Check validates the raw JSON payload of an action type against its schema.
func (s *SchemaSet) Check(actionType models.ActionType, raw []byte) error {
	schema, ok := s.schemas[actionType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownActionType, actionType)
	}

	var doc interface{}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&doc); err != nil {
		return invalid(actionType, "", "payload is not valid JSON")
	}

	if err := schema.Validate(doc); err != nil {
		var validationErr *jsonschema.ValidationError
		if errors.As(err, &validationErr) {
			return invalid(actionType, leafLocation(validationErr), leafMessage(validationErr))
		}
		return invalid(actionType, "", err.Error())
	}
	return nil
}

func leafLocation(err *jsonschema.ValidationError) string {
	for len(err.Causes) > 0 {
		err = err.Causes[0]
	}
	return err.InstanceLocation
}

func leafMessage(err *jsonschema.ValidationError) string {
	for len(err.Causes) > 0 {
		err = err.Causes[0]
	}
	return err.Message
}
