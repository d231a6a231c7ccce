package schema

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

const metaSchemaDefinitions = `{
  "field": {
    "oneOf": [
      {"$ref": "#/definitions/object"},
      {"$ref": "#/definitions/array"},
      {"$ref": "#/definitions/string"},
      {"$ref": "#/definitions/number"},
      {"$ref": "#/definitions/boolean"}
    ]
  },
  "object": {
    "type": "object",
    "properties": {
      "type": {"const": "object"},
      "properties": {"type": "object", "additionalProperties": {"$ref": "#/definitions/field"}},
      "required": {"type": "array", "items": {"type": "string"}, "uniqueItems": true},
      "additionalProperties": {"const": false},
      "default": {"type": "object"},
      "title": {"type": "string"},
      "description": {"type": "string"},
      "deprecated": {"type": "boolean"}
    },
    "required": ["type", "properties"],
    "additionalProperties": false
  },
  "array": {
    "type": "object",
    "properties": {
      "type": {"const": "array"},
      "items": {"$ref": "#/definitions/field"},
      "default": {"type": "array"},
      "title": {"type": "string"},
      "description": {"type": "string"},
      "deprecated": {"type": "boolean"}
    },
    "required": ["type", "items"],
    "additionalProperties": false
  },
  "string": {
    "type": "object",
    "properties": {
      "type": {"const": "string"},
      "default": {"type": "string"},
      "foreignKey": {"type": "string", "minLength": 1},
      "format": {"type": "string"},
      "pattern": {"type": "string"},
      "enum": {"type": "array", "items": {"type": "string"}, "minItems": 1},
      "minLength": {"type": "integer", "minimum": 0},
      "maxLength": {"type": "integer", "minimum": 0},
      "contentMediaType": {"type": "string"},
      "readOnly": {"type": "boolean"},
      "title": {"type": "string"},
      "description": {"type": "string"},
      "deprecated": {"type": "boolean"}
    },
    "required": ["type"],
    "additionalProperties": false
  },
  "number": {
    "type": "object",
    "properties": {
      "type": {"enum": ["number", "integer"]},
      "default": {"type": "number"},
      "minimum": {"type": "number"},
      "maximum": {"type": "number"},
      "readOnly": {"type": "boolean"},
      "title": {"type": "string"},
      "description": {"type": "string"},
      "deprecated": {"type": "boolean"}
    },
    "required": ["type"],
    "additionalProperties": false
  },
  "boolean": {
    "type": "object",
    "properties": {
      "type": {"const": "boolean"},
      "default": {"type": "boolean"},
      "readOnly": {"type": "boolean"},
      "title": {"type": "string"},
      "description": {"type": "string"},
      "deprecated": {"type": "boolean"}
    },
    "required": ["type"],
    "additionalProperties": false
  }
}`

var (
	tableMetaSchema = mustCompileMeta("#/definitions/object")
	fieldMetaSchema = mustCompileMeta("#/definitions/field")
	compiledSchemas sync.Map
)

func mustCompileMeta(root string) *gojsonschema.Schema {
	document := fmt.Sprintf(`{"$schema": "http://json-schema.org/draft-07/schema#", "definitions": %s, "allOf": [{"$ref": %q}]}`, metaSchemaDefinitions, root)
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(document))
	if err != nil {
		panic(fmt.Sprintf("schema: meta-schema does not compile: %v", err))
	}
	return compiled
}

// ValidateDocument checks a whole table schema against the meta-schema. Every required entry must
// name a declared property of its object.
func ValidateDocument(document any) error {
	if err := validateWith(tableMetaSchema, document, ErrInvalidSchema); err != nil {
		return err
	}
	node, err := ParseValue(document)
	if err != nil {
		return err
	}
	var issues []Issue
	undeclaredRequired(node, Pointer{}, &issues)
	if len(issues) > 0 {
		return &ValidationError{Kind: ErrInvalidSchema, Issues: issues}
	}
	return nil
}

func undeclaredRequired(node *Node, at Pointer, issues *[]Issue) {
	if node == nil {
		return
	}
	switch node.Type {
	case TypeObject:
		for index, name := range node.Required {
			if _, ok := node.Properties[name]; !ok {
				*issues = append(*issues, Issue{
					Path:    at.Append(keywordRequired, strconv.Itoa(index)).String(),
					Keyword: keywordRequired,
					Reason:  fmt.Sprintf("required property %q is not declared", name),
				})
			}
		}
		for _, name := range node.Order {
			undeclaredRequired(node.Properties[name], at.Append(keywordProperties, name), issues)
		}
	case TypeArray:
		undeclaredRequired(node.Items, at.Append(keywordItems), issues)
	}
}

// ValidateField checks the value of an add/replace patch against the field meta-schema.
func ValidateField(document any) error {
	return validateWith(fieldMetaSchema, document, ErrInvalidSchema)
}

// ValidateData validates row data against a table schema document. hash identifies the document
// so the compiled schema can be reused across rows and calls.
func ValidateData(document any, hash string, data any) ([]Issue, error) {
	compiled, err := compiledSchema(document, hash)
	if err != nil {
		return nil, err
	}
	result, err := compiled.Validate(gojsonschema.NewGoLoader(data))
	if err != nil {
		return nil, fmt.Errorf("schema: validate data: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}
	return issuesFrom(result.Errors()), nil
}

func compiledSchema(document any, hash string) (*gojsonschema.Schema, error) {
	if hash != "" {
		if cached, ok := compiledSchemas.Load(hash); ok {
			return cached.(*gojsonschema.Schema), nil
		}
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(document))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if hash != "" {
		compiledSchemas.Store(hash, compiled)
	}
	return compiled, nil
}

func validateWith(compiled *gojsonschema.Schema, document any, kind error) error {
	result, err := compiled.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("%w: %v", kind, err)
	}
	if result.Valid() {
		return nil
	}
	return &ValidationError{Kind: kind, Issues: issuesFrom(result.Errors())}
}

func issuesFrom(resultErrors []gojsonschema.ResultError) []Issue {
	issues := make([]Issue, 0, len(resultErrors))
	seen := make(map[string]struct{}, len(resultErrors))
	for _, resultError := range resultErrors {
		issue := Issue{
			Path:    contextPointer(resultError.Context()),
			Keyword: resultError.Type(),
			Reason:  reasonFor(resultError),
		}
		key := issue.Path + "\x00" + issue.Reason
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		issues = append(issues, issue)
	}
	return issues
}

func contextPointer(context *gojsonschema.JsonContext) string {
	if context == nil {
		return ""
	}
	segments := strings.Split(context.String("\x00"), "\x00")
	if len(segments) > 0 && segments[0] == gojsonschema.STRING_CONTEXT_ROOT {
		segments = segments[1:]
	}
	return Pointer(segments).String()
}

func reasonFor(resultError gojsonschema.ResultError) string {
	details := resultError.Details()
	switch resultError.Type() {
	case "required":
		return fmt.Sprintf("missing required field %q", details["property"])
	case "invalid_type":
		return fmt.Sprintf("expected %v, got %v", details["expected"], details["given"])
	case "additional_property_not_allowed":
		return fmt.Sprintf("field %q is not declared in the schema", details["property"])
	case "enum":
		return "value is not one of the allowed values"
	case "const":
		return "value does not match the required constant"
	case "number_one_of":
		return "value does not match exactly one field definition"
	case "string_gte":
		return fmt.Sprintf("must be at least %v characters long", details["min"])
	case "string_lte":
		return fmt.Sprintf("must be at most %v characters long", details["max"])
	case "number_gte":
		return fmt.Sprintf("must be greater than or equal to %v", details["min"])
	case "number_lte":
		return fmt.Sprintf("must be less than or equal to %v", details["max"])
	case "does_not_match_pattern":
		return fmt.Sprintf("does not match pattern %v", details["pattern"])
	default:
		return resultError.Description()
	}
}
