package proof

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed proof-v1.schema.json
var schemaJSON []byte

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func documentSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		const name = "proof-v1.schema.json"
		if err := compiler.AddResource(name, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = compiler.Compile(name)
	})
	return compiledSchema, schemaErr
}

// ValidateDocument checks raw proof JSON against the structural schema.
// Schema validation is about shape, not trust; Verify decides
// authenticity.
func ValidateDocument(data []byte) error {
	schema, err := documentSchema()
	if err != nil {
		return fmt.Errorf("proof: compile schema: %w", err)
	}
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("proof: parse document: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("proof: schema violation: %w", err)
	}
	return nil
}
