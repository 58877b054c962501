package session

import (
	"encoding/json"

	"github.com/loomlabs/loom/internal/transport"
)

// ParamDefsFromSchema converts a tool's JSON-Schema Parameters() into the
// flat []transport.ParamDef shape GenerateOpts needs, mirroring the
// teacher's parseJSONSchemaToParams (internal/tool/tool.go) but targeting
// transport.ParamDef instead of eino's schema.ParameterInfo. Exported so
// internal/architect's restricted execute-stage tool defs can reuse it
// rather than duplicate the conversion.
func ParamDefsFromSchema(rawSchema json.RawMessage) []transport.ParamDef {
	var parsed struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(rawSchema, &parsed); err != nil {
		return nil
	}

	required := make(map[string]bool, len(parsed.Required))
	for _, name := range parsed.Required {
		required[name] = true
	}

	defs := make([]transport.ParamDef, 0, len(parsed.Properties))
	for name, prop := range parsed.Properties {
		paramType := prop.Type
		switch paramType {
		case "integer", "number", "boolean", "string":
		default:
			paramType = "any"
		}
		if paramType == "number" {
			paramType = "float"
		}
		defs = append(defs, transport.ParamDef{
			Name:     name,
			Type:     paramType,
			Required: required[name],
			Doc:      prop.Description,
		})
	}
	return defs
}
