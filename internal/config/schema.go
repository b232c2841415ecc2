package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaDoc []byte

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func configSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaDoc))
		if err != nil {
			compileErr = fmt.Errorf("failed to unmarshal config schema: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		if err := c.AddResource("config.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("failed to add config schema: %w", err)
			return
		}
		compiled, compileErr = c.Compile("config.schema.json")
	})
	return compiled, compileErr
}

// validateSchema checks the structure of an (env-expanded) YAML document.
// The document is round-tripped through JSON so numbers reach the validator as json.Number.
func validateSchema(data []byte) error {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		raw = map[string]any{}
	}

	asJSON, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("config is not representable as JSON: %w", err)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(asJSON))
	if err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}

	sch, err := configSchema()
	if err != nil {
		return err
	}

	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
