package steps

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

var (
	definitionSchemaOnce sync.Once
	definitionSchema     json.RawMessage
	definitionSchemaErr  error
)

// DefinitionSchema returns the JSON Schema of Definition, reflected from
// its struct tags.
func DefinitionSchema() (json.RawMessage, error) {
	definitionSchemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			DoNotReference:             true,
			RequiredFromJSONSchemaTags: true,
		}
		definitionSchema, definitionSchemaErr = json.Marshal(r.Reflect(&Definition{}))
	})
	return definitionSchema, definitionSchemaErr
}
