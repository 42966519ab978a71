package report

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/*.json
var schemaFS embed.FS

const (
	schemaBase  = "https://proctord.dev/schema/"
	logSchema   = schemaBase + "session-log-v1.json"
	batchSchema = schemaBase + "batch-v1.json"
)

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func compileSchemas() {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	compiler.AssertFormat = true

	for _, name := range []string{"session-log-v1.json", "batch-v1.json"} {
		data, err := schemaFS.ReadFile("schema/" + name)
		if err != nil {
			schemasErr = fmt.Errorf("read schema %s: %w", name, err)
			return
		}
		if err := compiler.AddResource(schemaBase+name, bytes.NewReader(data)); err != nil {
			schemasErr = fmt.Errorf("add schema resource %s: %w", name, err)
			return
		}
	}

	schemas = make(map[string]*jsonschema.Schema, 2)
	for _, url := range []string{logSchema, batchSchema} {
		s, err := compiler.Compile(url)
		if err != nil {
			schemasErr = fmt.Errorf("compile schema: %w", err)
			return
		}
		schemas[url] = s
	}
}

func validate(url string, data []byte) error {
	schemasOnce.Do(compileSchemas)
	if schemasErr != nil {
		return schemasErr
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("unmarshal instance: %w", err)
	}
	if err := schemas[url].Validate(instance); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// ValidateLog checks data against the session log schema.
func ValidateLog(data []byte) error {
	return validate(logSchema, data)
}

// ValidateBatch checks data against the violation batch schema.
func ValidateBatch(data []byte) error {
	return validate(batchSchema, data)
}
