package registry

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/register.json
var embeddedSchemas embed.FS

// Validator hard-rejects a register request body that does not match the
// register schema before any downstream pipeline logic runs.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the embedded register schema once at startup.
func NewValidator() (*Validator, error) {
	data, err := embeddedSchemas.ReadFile("schema/register.json")
	if err != nil {
		return nil, fmt.Errorf("read embedded register schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("register.json", bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("add register schema resource: %w", err)
	}
	schema, err := compiler.Compile("register.json")
	if err != nil {
		return nil, fmt.Errorf("compile register schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// ValidateRegisterBody returns a non-nil error, wrapping the underlying
// jsonschema validation detail, if body does not match the register
// schema.
func (v *Validator) ValidateRegisterBody(body []byte) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// ErrValidation is wrapped by ValidateRegisterBody failures; usable with errors.Is.
var ErrValidation = errors.New("validation failed")
