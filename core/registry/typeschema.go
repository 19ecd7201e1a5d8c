// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package registry

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/melone/core"
	"github.com/relabs-tech/melone/core/schema"
)

// declaration meta-schemas. A body item declaration is either a plain
// JSON-schema (an attribute), a {"relationship": ...} object or an
// {"upload": ...} object; the meta-schemas below validate the latter two.
var (
	relationshipDeclSchema = schema.MustCompileString(`{
		"type": "object",
		"oneOf": [
			{
				"properties": {
					"arity": {"enum": ["to-one", "to-many", "keyed"]},
					"targets": {
						"type": "array",
						"items": {"type": "string"},
						"minItems": 1
					}
				},
				"required": ["arity"],
				"additionalProperties": false
			},
			{
				"properties": {
					"arity": {"enum": ["auto"]},
					"pred-type": {
						"type": "array",
						"items": {"type": "string"},
						"minItems": 1
					},
					"pred-relationship": {"type": "string"}
				},
				"required": ["arity", "pred-type", "pred-relationship"],
				"additionalProperties": false
			}
		]
	}`)

	uploadDeclSchema = schema.MustCompileString(`{
		"type": "object",
		"properties": {
			"acceptable": {
				"type": "array",
				"items": {"type": "string"},
				"minItems": 1
			}
		},
		"required": ["acceptable"],
		"additionalProperties": false
	}`)
)

// TypeDefinition is one type as it appears in the configuration.
type TypeDefinition struct {
	Body     map[string]interface{} `json:"body"`
	Optional []string               `json:"optional,omitempty"`
}

// TypeSchema is one compiled resource type. All value schemas are compiled
// and all relationship declarations resolved at construction time; requests
// only ever see a compiled schema.
type TypeSchema struct {
	name     string
	fields   map[string]Field
	optional map[string]bool
	keys     []string
}

func compileTypeSchema(name string, def TypeDefinition, compiler *schema.Compiler) (*TypeSchema, error) {
	ts := &TypeSchema{
		name:     name,
		fields:   make(map[string]Field, len(def.Body)),
		optional: make(map[string]bool, len(def.Optional)),
	}
	for _, key := range def.Optional {
		if _, ok := def.Body[key]; !ok {
			return nil, core.BadDataError("type " + name + ": optional key " + key + " is not in body")
		}
		ts.optional[key] = true
	}
	for key, decl := range def.Body {
		field, err := compileField(name, key, decl, compiler)
		if err != nil {
			return nil, err
		}
		ts.fields[key] = field
		ts.keys = append(ts.keys, key)
	}
	sort.Strings(ts.keys)
	return ts, nil
}

func compileField(typeName, key string, decl interface{}, compiler *schema.Compiler) (Field, error) {
	declMap, ok := decl.(map[string]interface{})
	if ok {
		if rel, isRel := declMap["relationship"]; isRel {
			return compileRelationship(typeName, key, rel)
		}
		if upload, isUpload := declMap["upload"]; isUpload {
			return compileUpload(typeName, key, upload)
		}
	}
	valschema, err := compiler.Compile(decl)
	if err != nil {
		return nil, core.BadDataError("type " + typeName + ": invalid schema for attribute " + key + ": " + err.Error())
	}
	return &attributeField{name: key, valschema: valschema}, nil
}

func compileRelationship(typeName, key string, decl interface{}) (Field, error) {
	if err := schema.Validate(relationshipDeclSchema, decl); err != nil {
		return nil, core.BadDataError("type " + typeName + ": invalid relationship " + key + ": " + err.Error())
	}
	declMap := decl.(map[string]interface{})
	arity := declMap["arity"].(string)
	if arity == "auto" {
		return &autoField{
			name:      key,
			predTypes: stringList(declMap["pred-type"]),
			predRel:   declMap["pred-relationship"].(string),
		}, nil
	}
	link := linkage{targets: stringList(declMap["targets"])}
	switch arity {
	case "to-one":
		return &toOneField{name: key, link: link}, nil
	case "to-many":
		return &toManyField{name: key, link: link}, nil
	default:
		return &keyedField{name: key, link: link}, nil
	}
}

func compileUpload(typeName, key string, decl interface{}) (Field, error) {
	if err := schema.Validate(uploadDeclSchema, decl); err != nil {
		return nil, core.BadDataError("type " + typeName + ": invalid upload " + key + ": " + err.Error())
	}
	declMap := decl.(map[string]interface{})
	return &UploadField{name: key, acceptable: stringList(declMap["acceptable"])}, nil
}

func stringList(raw interface{}) []string {
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	result := make([]string, 0, len(list))
	for _, entry := range list {
		if s, ok := entry.(string); ok {
			result = append(result, s)
		}
	}
	return result
}

// Name returns the type name including its namespace prefix.
func (ts *TypeSchema) Name() string { return ts.name }

// Keys returns the body item keys in sorted order.
func (ts *TypeSchema) Keys() []string { return ts.keys }

// Field returns the compiled field for key, or a NO_ITEM error.
func (ts *TypeSchema) Field(key string) (Field, error) {
	field, ok := ts.fields[key]
	if !ok {
		return nil, core.NoItemError(key)
	}
	return field, nil
}

// Sanitize validates a raw body map and returns the stored representation.
//
// On create every non-optional attribute and to-one relationship must be
// present; collection relationships default to empty and upload items are
// initialized to null. On update the body is sparse, only the keys present
// are validated and the result maps dotted storage paths to their values.
func (ts *TypeSchema) Sanitize(ctx context.Context, res Resolver, body map[string]interface{}, isCreate bool) (map[string]interface{}, error) {
	for key := range body {
		if _, ok := ts.fields[key]; !ok {
			return nil, core.NoItemError(key)
		}
	}
	stored := make(map[string]interface{})
	for _, key := range ts.keys {
		field := ts.fields[key]
		raw, present := body[key]
		if !present {
			if !isCreate {
				continue
			}
			switch {
			case field.IsArray():
				stored[key] = []interface{}{}
			case field.IsDict():
				stored[key] = map[string]interface{}{}
			case field.IsUpload():
				stored[key] = nil
			case !field.Writeable() || ts.optional[key]:
				// auto relationships are computed, optional items may be absent
			default:
				return nil, core.BadItemError(key, "missing from body")
			}
			continue
		}
		value, err := field.Sanitize(ctx, res, raw, true)
		if err != nil {
			return nil, err
		}
		if isCreate {
			stored[key] = value
		} else {
			stored["body."+key] = value
		}
	}
	return stored, nil
}

// Render turns a stored document into the external resource object.
func (ts *TypeSchema) Render(ctx context.Context, res Resolver, doc map[string]interface{}) (map[string]interface{}, error) {
	idString, _ := doc["_id"].(string)
	id, err := uuid.Parse(idString)
	if err != nil {
		return nil, core.BadDataError("stored resource has invalid id")
	}
	storedBody, _ := doc["body"].(map[string]interface{})
	body := make(map[string]interface{}, len(ts.keys))
	for _, key := range ts.keys {
		rendered, err := ts.fields[key].Render(ctx, res, id, storedBody[key])
		if err != nil {
			return nil, err
		}
		body[key] = rendered
	}
	return map[string]interface{}{
		"id":   idString,
		"href": res.ResourceURL(id),
		"type": ts.name,
		"body": body,
		"meta": renderMeta(doc["meta"]),
	}, nil
}

// RenderItem renders a single body item of a stored document.
func (ts *TypeSchema) RenderItem(ctx context.Context, res Resolver, doc map[string]interface{}, key string) (interface{}, error) {
	field, err := ts.Field(key)
	if err != nil {
		return nil, err
	}
	idString, _ := doc["_id"].(string)
	id, err := uuid.Parse(idString)
	if err != nil {
		return nil, core.BadDataError("stored resource has invalid id")
	}
	storedBody, _ := doc["body"].(map[string]interface{})
	return field.Render(ctx, res, id, storedBody[key])
}

func renderMeta(raw interface{}) map[string]interface{} {
	stored, _ := raw.(map[string]interface{})
	meta := map[string]interface{}{}
	for _, key := range []string{"created", "last-modified"} {
		switch value := stored[key].(type) {
		case time.Time:
			meta[key] = value.UTC().Format(time.RFC3339)
		case string:
			meta[key] = value
		}
	}
	if author, ok := stored["author-id"].(string); ok {
		meta["author-id"] = author
	}
	return meta
}
