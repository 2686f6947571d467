package task

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed task_schema.json
var schemaJSON string

const schemaURL = "https://taskmcp.github.io/tasksvr/schemas/task.json"

// SchemaJSON returns the Draft 2020-12 schema of the Task DTO as it was
// authored, for the mcp-schema-tasks tool.
func SchemaJSON() string { return schemaJSON }

var compiled = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parse task schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat()
	if err := compiler.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("add task schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile task schema: %w", err)
	}
	return schema, nil
})

// Schema returns the compiled form of the embedded schema, compiling it once.
// Compilation failure is a programming error surfaced at startup.
func Schema() (*jsonschema.Schema, error) { return compiled() }
