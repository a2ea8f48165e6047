package provider

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/invopop/jsonschema"
)

// GenerateSchema reflects T into the schema sent with strict structured output. Every object
// closes additionalProperties and requires all of its properties, listed in sorted order so
// the request body is the same on every run.
func GenerateSchema[T any]() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	b, err := reflector.Reflect(v).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("GenerateSchema: marshal %T: %w", v, err)
	}
	var schema map[string]any
	if err := json.Unmarshal(b, &schema); err != nil {
		return nil, fmt.Errorf("GenerateSchema: decode %T: %w", v, err)
	}
	strictObjects(schema)
	return schema, nil
}

// strictObjects walks nested properties, array items and map values.
func strictObjects(node map[string]any) {
	props, _ := node["properties"].(map[string]any)
	if typ, _ := node["type"].(string); typ == "object" {
		node["additionalProperties"] = false
		if len(props) > 0 {
			required := make([]string, 0, len(props))
			for name := range props {
				required = append(required, name)
			}
			slices.Sort(required)
			node["required"] = required
		}
	}
	for _, p := range props {
		if child, ok := p.(map[string]any); ok {
			strictObjects(child)
		}
	}
	for _, key := range []string{"items", "additionalProperties"} {
		if child, ok := node[key].(map[string]any); ok {
			strictObjects(child)
		}
	}
}
