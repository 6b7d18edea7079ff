package config

import (
	"embed"
	"errors"
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema/repositories.json
var schemaFS embed.FS

const schemaFile = "schema/repositories.json"

// ErrSchemaViolation is returned when a configuration file does not match
// the schema.
var ErrSchemaViolation = errors.New("configuration does not match schema")

// SchemaError is one schema violation.
type SchemaError struct {
	// Field is the dotted path of the offending value ("(root)" for the
	// document itself).
	Field       string
	Description string
}

func (e SchemaError) String() string {
	return e.Field + ": " + e.Description
}

// Schema returns the embedded JSON schema for configuration files.
func Schema() ([]byte, error) {
	data, err := schemaFS.ReadFile(schemaFile)
	if err != nil {
		return nil, fmt.Errorf("read embedded schema: %w", err)
	}

	return data, nil
}

// ValidateRepositoriesFile checks a YAML configuration file, including its
// repositories section, against the embedded schema. Violations are
// returned alongside an error wrapping ErrSchemaViolation.
func ValidateRepositoriesFile(path string) ([]SchemaError, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return ValidateRepositories(raw)
}

// ValidateRepositories is ValidateRepositoriesFile for in-memory YAML.
func ValidateRepositories(raw []byte) ([]SchemaError, error) {
	var document any

	if err := yaml.Unmarshal(raw, &document); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	if document == nil {
		document = map[string]any{}
	}

	schema, err := Schema()
	if err != nil {
		return nil, err
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewGoLoader(document))
	if err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}

	if result.Valid() {
		return nil, nil
	}

	violations := make([]SchemaError, 0, len(result.Errors()))
	for _, verr := range result.Errors() {
		violations = append(violations, SchemaError{Field: verr.Field(), Description: verr.Description()})
	}

	return violations, fmt.Errorf("%w: %d violation(s)", ErrSchemaViolation, len(violations))
}
