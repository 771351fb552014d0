// Package validation checks the structure of admin-supplied workflow definitions
// against an embedded JSON Schema.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/yang123apple/EHS-system-sub002/internal/domain/entity"
)

const definitionSchemaURL = "https://ehs.local/schemas/workflow-definition.json"

// definitionSchemaJSON describes the wire shape of entity.WorkflowDefinition
const definitionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://ehs.local/schemas/workflow-definition.json",
  "type": "object",
  "required": ["key", "steps", "transitions", "completed_status", "rejected_status"],
  "properties": {
    "id": {"type": "integer"},
    "version": {"type": "integer"},
    "created_at": {},
    "key": {"type": "string", "pattern": "^[a-z][a-z0-9_-]*$"},
    "name": {"type": "string"},
    "completed_status": {"type": "string", "minLength": 1},
    "rejected_status": {"type": "string", "minLength": 1},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {"$ref": "#/$defs/step"}
    },
    "transitions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["status", "action", "kind"],
        "properties": {
          "status": {"type": "string", "minLength": 1},
          "action": {"type": "string", "minLength": 1},
          "kind": {"enum": ["advance", "reject", "resubmit", "annotate"]}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["id", "status", "handlers"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "name": {"type": "string"},
        "status": {"type": "string", "minLength": 1},
        "handlers": {"type": ["array", "null"], "items": {"$ref": "#/$defs/handler"}},
        "approval_mode": {"enum": ["", "SINGLE", "OR", "AND"]},
        "cc_rules": {"type": ["array", "null"], "items": {"$ref": "#/$defs/cc"}},
        "rollback": {
          "type": "object",
          "properties": {
            "to_step": {"type": "string"},
            "terminal": {"type": "boolean"}
          },
          "additionalProperties": false
        },
        "no_handler_ok": {"type": "boolean"},
        "assigns": {"enum": ["", "responsible", "verifier"]},
        "signature_cell": {"type": "string", "pattern": "^([^!]+!)?[A-Z]{1,3}[0-9]{1,7}$|^$"}
      },
      "additionalProperties": false
    },
    "handler": {
      "type": "object",
      "required": ["kind"],
      "properties": {
        "kind": {"enum": ["fixed_user", "creator", "dept_role", "field", "role"]},
        "user_id": {"type": "string"},
        "role": {"type": "string"},
        "field": {"type": "string"},
        "field_target": {"enum": ["", "user", "department"]},
        "anchor": {
          "type": "object",
          "properties": {
            "kind": {"enum": ["", "creator", "field", "department"]},
            "field": {"type": "string"},
            "department_id": {"type": "string"}
          },
          "additionalProperties": false
        }
      },
      "additionalProperties": false,
      "allOf": [
        {"if": {"properties": {"kind": {"const": "fixed_user"}}}, "then": {"required": ["user_id"]}},
        {"if": {"properties": {"kind": {"const": "dept_role"}}}, "then": {"required": ["role"]}},
        {"if": {"properties": {"kind": {"const": "role"}}}, "then": {"required": ["role"]}},
        {"if": {"properties": {"kind": {"const": "field"}}}, "then": {"required": ["field"]}}
      ]
    },
    "cc": {
      "type": "object",
      "required": ["kind"],
      "properties": {
        "kind": {"enum": ["reporter", "handler_dept_role", "role", "dept_role", "user", "field"]},
        "role": {"type": "string"},
        "department_id": {"type": "string"},
        "user_id": {"type": "string"},
        "field": {"type": "string"},
        "when": {"type": "string"},
        "include_handler": {"type": "boolean"}
      },
      "additionalProperties": false
    }
  }
}`

// DefinitionValidator validates definitions against the embedded schema.
// It is safe for concurrent use.
type DefinitionValidator struct {
	schema *jsonschema.Schema
}

// NewDefinitionValidator compiles the definition schema
func NewDefinitionValidator() (*DefinitionValidator, error) {
	c := jsonschema.NewCompiler()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(definitionSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal definition schema: %w", err)
	}
	if err := c.AddResource(definitionSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add definition schema resource: %w", err)
	}
	sch, err := c.Compile(definitionSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile definition schema: %w", err)
	}
	return &DefinitionValidator{schema: sch}, nil
}

// ValidateDefinition returns every structural violation as one error
func (v *DefinitionValidator) ValidateDefinition(def *entity.WorkflowDefinition) error {
	if def == nil {
		return fmt.Errorf("workflow definition is nil")
	}
	b, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("serialize workflow definition: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
	if err != nil {
		return fmt.Errorf("decode workflow definition: %w", err)
	}

	if err := v.schema.Validate(doc); err != nil {
		verr, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return err
		}
		return fmt.Errorf("%s", strings.Join(violations(verr), "; "))
	}
	return nil
}

// violations flattens a validation error tree into leaf messages with their locations
func violations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, violations(cause)...)
	}
	return out
}
