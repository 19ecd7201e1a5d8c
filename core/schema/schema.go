// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package schema is a thin utility around gojsonschema. It compiles JSON
// schemas once, optionally against a shared set of referenced schemas, and
// formats validation results into single error values.
package schema

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/xeipuuv/gojsonschema"
)

// Compiler compiles JSON schemas against a shared set of refs. Refs must
// carry an $id property; top-level schemas may reference them with $ref.
type Compiler struct {
	refs []string
}

// NewCompiler creates a compiler with the given refs. Invalid refs are
// reported by the first Compile call.
func NewCompiler(refs ...string) *Compiler {
	return &Compiler{refs: refs}
}

// Compile compiles the schema given as a Go value (typically an
// unmarshalled declaration).
func (c *Compiler) Compile(schema interface{}) (*gojsonschema.Schema, error) {
	return c.compile(gojsonschema.NewGoLoader(schema))
}

// CompileString compiles the schema given as a JSON string.
func (c *Compiler) CompileString(schema string) (*gojsonschema.Schema, error) {
	return c.compile(gojsonschema.NewStringLoader(schema))
}

func (c *Compiler) compile(loader gojsonschema.JSONLoader) (*gojsonschema.Schema, error) {
	sl := gojsonschema.NewSchemaLoader()
	for _, ref := range c.refs {
		type idSchema struct {
			ID string `json:"$id"`
		}
		s := idSchema{}
		if err := json.Unmarshal([]byte(ref), &s); err != nil {
			return nil, fmt.Errorf("parse error '%v' in schema ref: '%s'", err, ref)
		}
		if s.ID == "" {
			return nil, fmt.Errorf("schema ref does not contain $id: '%s'", ref)
		}
		if err := sl.AddSchemas(gojsonschema.NewStringLoader(ref)); err != nil {
			return nil, fmt.Errorf("cannot add ref %s %s", s.ID, err)
		}
	}
	schema, err := sl.Compile(loader)
	if err != nil {
		return nil, fmt.Errorf("cannot compile schema %s", err)
	}
	return schema, nil
}

// MustCompileString compiles a schema string without refs and panics on
// failure. Reserved for package-level schema constants.
func MustCompileString(schema string) *gojsonschema.Schema {
	s, err := NewCompiler().CompileString(schema)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate validates the given Go value against a compiled schema and
// returns all validation errors as a single error value.
func Validate(schema *gojsonschema.Schema, document interface{}) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("cannot validate: %s", err)
	}
	if !result.Valid() {
		msg := ""
		for _, e := range result.Errors() {
			if len(msg) > 0 {
				msg += "; "
			}
			msg += e.String()
		}
		return errors.New(msg)
	}
	return nil
}
