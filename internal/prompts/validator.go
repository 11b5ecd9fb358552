package prompts

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

//go:embed generate_request.schema.json
var generateRequestSchema []byte

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

// ValidateGenerateRequest validates the raw generate-email payload against
// the embedded JSON Schema before any external call is made.
func ValidateGenerateRequest(payload map[string]interface{}) error {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiledSchema, compileErr = compiler.Compile(generateRequestSchema)
	})
	if compileErr != nil {
		return fmt.Errorf("failed to compile request schema: %w", compileErr)
	}

	result := compiledSchema.Validate(payload)
	if !result.IsValid() {
		var errorMessages []string
		for field, evalErr := range result.Errors {
			errorMessages = append(errorMessages, fmt.Sprintf("%s: %s", field, evalErr.Error()))
		}
		return fmt.Errorf("request validation failed: %s", strings.Join(errorMessages, "; "))
	}

	return nil
}
