// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package registry compiles the type configuration into validated schemas.
//
// A configuration maps namespaced type names to body declarations. Every
// declaration is compiled once, at boot; compilation failures abort startup
// so that requests only ever operate on validated schemas.
package registry

import (
	"regexp"
	"sort"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/melone/core"
	"github.com/relabs-tech/melone/core/schema"
)

var typeNameRE = regexp.MustCompile(`^([\w-]+/)?[\w-]+$`)

// Configuration is the raw type configuration as it appears in JSON.
type Configuration struct {
	Types map[string]TypeDefinition `json:"types"`
}

// Registry holds all compiled type schemas.
type Registry struct {
	types map[string]*TypeSchema
}

// New compiles a configuration. refs are extra JSON-schemas made available
// for $ref resolution in attribute declarations; each must carry an $id.
func New(config Configuration, refs ...string) (*Registry, error) {
	compiler := schema.NewCompiler(refs...)
	registry := &Registry{types: make(map[string]*TypeSchema, len(config.Types))}
	for name, def := range config.Types {
		if !typeNameRE.MatchString(name) {
			return nil, core.BadDataError("invalid type name " + name)
		}
		ts, err := compileTypeSchema(name, def, compiler)
		if err != nil {
			return nil, err
		}
		registry.types[name] = ts
	}
	return registry, nil
}

// NewFromJSON compiles a configuration given as raw JSON.
func NewFromJSON(config []byte, refs ...string) (*Registry, error) {
	var parsed Configuration
	if err := json.Unmarshal(config, &parsed); err != nil {
		return nil, core.BadDataError("invalid configuration json: " + err.Error())
	}
	return New(parsed, refs...)
}

// Lookup returns the compiled schema for a type name, or a NO_TYPE error.
func (r *Registry) Lookup(name string) (*TypeSchema, error) {
	ts, ok := r.types[name]
	if !ok {
		return nil, core.NoTypeError(name)
	}
	return ts, nil
}

// Types returns all registered type names in sorted order.
func (r *Registry) Types() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
