package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/schema"
	"gopkg.in/yaml.v3"
)

//go:embed keygate-config.schema.json
var configSchema []byte

// ValidateDocument checks a YAML config file against the embedded schema.
// Unknown keys and wrongly typed values are reported together.
func ValidateDocument(data []byte) error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if len(doc) == 0 {
		return nil
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	validator, err := schema.NewValidator(configSchema)
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	diagnostics, err := validator.ValidateJSON(payload)
	if err != nil {
		return err
	}
	if len(diagnostics) == 0 {
		return nil
	}

	messages := make([]string, 0, len(diagnostics))
	for _, d := range diagnostics {
		messages = append(messages, d.Message)
	}
	return fmt.Errorf("config schema validation failed: %s", strings.Join(messages, "; "))
}
