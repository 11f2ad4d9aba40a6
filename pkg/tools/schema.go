package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/Howmany-Zeta/AI-Execute-Services-sub004/pkg/llms"
)

// FunctionName returns the function-calling name for a tool operation.
// A tool's default operation is also published under the bare tool name by
// the registry, so models may call either form.
func FunctionName(tool, operation string) string {
	return tool + "_" + operation
}

// reflectParameters builds a JSON-schema map from an args prototype struct
// using build-time reflection. This is the static-schema path; tools
// without a prototype fall back to schemaFromSpecs.
func reflectParameters(prototype any) (map[string]any, error) {
	reflector := jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(prototype)

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}
	// Function-calling payloads do not use the draft header.
	delete(out, "$schema")
	delete(out, "$id")
	return out, nil
}

// schemaFromSpecs builds a JSON-schema map from declared parameter specs.
func schemaFromSpecs(params map[string]ParameterSpec) map[string]any {
	properties := make(map[string]any, len(params))
	required := make([]string, 0, len(params))

	for name, spec := range params {
		prop := map[string]any{
			"type":        spec.Type,
			"description": spec.Description,
		}
		if len(spec.Examples) > 0 {
			prop["examples"] = spec.Examples
		}
		properties[name] = prop
		if spec.Required {
			required = append(required, name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// OperationDefinition builds the function-calling definition for one
// operation of a tool.
func OperationDefinition(info ToolInfo, op OperationInfo) (llms.ToolDefinition, error) {
	var params map[string]any
	var err error

	if op.Args != nil {
		params, err = reflectParameters(op.Args)
		if err != nil {
			return llms.ToolDefinition{}, err
		}
	} else {
		params = schemaFromSpecs(op.Parameters)
	}

	description := op.Description
	if description == "" {
		description = info.Description
	}

	return llms.ToolDefinition{
		Name:        FunctionName(info.Name, op.Name),
		Description: description,
		Parameters:  params,
	}, nil
}

// splitFunctionName yields candidate (tool, operation) splits for a
// function name, right-most underscore first.
func splitFunctionName(name string) [][2]string {
	var candidates [][2]string
	for i := len(name) - 1; i > 0; i-- {
		if name[i] == '_' {
			candidates = append(candidates, [2]string{name[:i], name[i+1:]})
		}
	}
	return candidates
}

func operationSupported(info ToolInfo, operation string) bool {
	for _, op := range info.Operations {
		if op.Name == operation {
			return true
		}
	}
	return false
}

func describeOperations(info ToolInfo) string {
	names := make([]string, len(info.Operations))
	for i, op := range info.Operations {
		names[i] = op.Name
	}
	return strings.Join(names, ", ")
}
