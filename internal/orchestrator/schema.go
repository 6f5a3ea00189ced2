package orchestrator

import (
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache compiles and memoizes tool parameter schemas by their raw
// JSON text, so a tool invoked across many rounds pays the compile cost
// once.
var schemaCache sync.Map

func compileSchema(raw string) (*jsonschema.Schema, error) {
	if cached, ok := schemaCache.Load(raw); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.CompileString("tool.schema.json", raw)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(raw, compiled)
	return compiled, nil
}
