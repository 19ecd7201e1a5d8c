// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package registry

import (
	"context"
	"fmt"
	"mime"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/relabs-tech/melone/core"
	"github.com/relabs-tech/melone/core/schema"
)

// uuidRE matches a resource id in its canonical hexdigit form.
const uuidRE = "[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}"

// Link is a validated reference to another resource.
type Link struct {
	ID   uuid.UUID
	Type string
}

// Resolver gives compiled fields access to the stored resources they
// reference. The store implements it.
type Resolver interface {
	// TypeByID returns the current type of the resource with the given id,
	// or a NO_RESOURCE error if it does not exist.
	TypeByID(ctx context.Context, id uuid.UUID) (string, error)
	// ReverseLinks returns all resources of the given types whose
	// relationship at path contains a link to id.
	ReverseLinks(ctx context.Context, types []string, path string, id uuid.UUID) ([]Link, error)
	// ResourceURL returns a resolvable URL for the resource with the given id.
	ResourceURL(id uuid.UUID) string
	// RelationshipURL returns a resolvable URL for a single body item of the
	// resource with the given id.
	RelationshipURL(id uuid.UUID, key string) string
}

// Field is one compiled body item of a type schema. The concrete kinds are
// attribute, relationship (one type per arity) and upload; the kind and all
// value schemas are resolved once at compile time.
//
// Sanitize turns a raw payload value into the stored representation.
// checkConsistency controls whether relationship targets are verified
// against the database; removal operations pass false so that already
// deleted targets can still be named.
//
// Render turns the stored representation into the external one. id is the
// id of the resource being rendered.
type Field interface {
	Sanitize(ctx context.Context, res Resolver, raw interface{}, checkConsistency bool) (interface{}, error)
	Render(ctx context.Context, res Resolver, id uuid.UUID, stored interface{}) (interface{}, error)
	Writeable() bool
	IsArray() bool
	IsDict() bool
	IsUpload() bool
}

// attributeField validates a single value against its compiled value-schema
// and otherwise passes it through unchanged.
type attributeField struct {
	name      string
	valschema *gojsonschema.Schema
}

func (a *attributeField) Sanitize(ctx context.Context, res Resolver, raw interface{}, checkConsistency bool) (interface{}, error) {
	if err := schema.Validate(a.valschema, raw); err != nil {
		return nil, core.BadAttrError(a.name, err.Error())
	}
	return raw, nil
}

func (a *attributeField) Render(ctx context.Context, res Resolver, id uuid.UUID, stored interface{}) (interface{}, error) {
	return stored, nil
}

func (a *attributeField) Writeable() bool { return true }
func (a *attributeField) IsArray() bool   { return false }
func (a *attributeField) IsDict() bool    { return false }
func (a *attributeField) IsUpload() bool  { return false }

// linkage validates a single relationship target reference. targets is the
// set of allowed target types; nil means unrestricted.
type linkage struct {
	targets []string
}

// sanitize verifies that the referenced resource exists, that a type claimed
// by the caller matches reality, and that the real type is allowed. The
// stored type is always re-derived from the database, never taken from the
// payload.
func (l linkage) sanitize(ctx context.Context, res Resolver, raw map[string]interface{}) (map[string]interface{}, error) {
	idString, _ := raw["id"].(string)
	target, err := uuid.Parse(idString)
	if err != nil {
		return nil, core.BadRelError("invalid linked resource id %s", idString)
	}
	realType, err := res.TypeByID(ctx, target)
	if err != nil {
		if e, ok := core.AsError(err); ok && e.Code == core.CodeNoResource {
			return nil, core.BadRelError("linked resource %s does not exist", target)
		}
		return nil, err
	}
	if claimed, ok := raw["type"].(string); ok && claimed != realType {
		return nil, core.BadRelError("mismatched type for linked resource %s: given: %s, real: %s",
			target, claimed, realType)
	}
	if l.targets != nil {
		allowed := false
		for _, t := range l.targets {
			if t == realType {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, core.BadRelError("unallowed type %s for linked resource %s", realType, target)
		}
	}
	return map[string]interface{}{"id": target.String(), "type": realType}, nil
}

// render renders a stored link into a resolvable linkage object. It is pure,
// the type was stored alongside the id at write time.
func (l linkage) render(res Resolver, stored map[string]interface{}) map[string]interface{} {
	idString, _ := stored["id"].(string)
	id, _ := uuid.Parse(idString)
	return map[string]interface{}{
		"id":   idString,
		"type": stored["type"],
		"href": res.ResourceURL(id),
	}
}

// resolve reports whether the stored link still points to an existing
// resource. Dangling links are tolerated at render time, they are dropped
// from the rendered relationship.
func (l linkage) resolve(ctx context.Context, res Resolver, stored map[string]interface{}) (bool, error) {
	idString, _ := stored["id"].(string)
	id, err := uuid.Parse(idString)
	if err != nil {
		return false, nil
	}
	if _, err := res.TypeByID(ctx, id); err != nil {
		if e, ok := core.AsError(err); ok && e.Code == core.CodeNoResource {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// toOneField is a relationship with exactly one target.
type toOneField struct {
	name string
	link linkage
}

func (f *toOneField) Sanitize(ctx context.Context, res Resolver, raw interface{}, checkConsistency bool) (interface{}, error) {
	if err := schema.Validate(toOnePayloadSchema, raw); err != nil {
		return nil, core.BadRelError("relationship %s is invalid: %s", f.name, err.Error())
	}
	data := raw.(map[string]interface{})["data"].(map[string]interface{})
	if !checkConsistency {
		return map[string]interface{}{"id": data["id"]}, nil
	}
	return f.link.sanitize(ctx, res, data)
}

func (f *toOneField) Render(ctx context.Context, res Resolver, id uuid.UUID, stored interface{}) (interface{}, error) {
	result := map[string]interface{}{
		"self": res.RelationshipURL(id, f.name),
		"data": nil,
	}
	link, ok := stored.(map[string]interface{})
	if !ok {
		return result, nil
	}
	exists, err := f.link.resolve(ctx, res, link)
	if err != nil {
		return nil, err
	}
	if exists {
		result["data"] = f.link.render(res, link)
	}
	return result, nil
}

func (f *toOneField) Writeable() bool { return true }
func (f *toOneField) IsArray() bool   { return false }
func (f *toOneField) IsDict() bool    { return false }
func (f *toOneField) IsUpload() bool  { return false }

// toManyField is a relationship with a set of targets. Order is not
// meaningful, appends have add-to-set semantics.
type toManyField struct {
	name string
	link linkage
}

func (f *toManyField) Sanitize(ctx context.Context, res Resolver, raw interface{}, checkConsistency bool) (interface{}, error) {
	if err := schema.Validate(toManyPayloadSchema, raw); err != nil {
		return nil, core.BadRelError("relationship %s is invalid: %s", f.name, err.Error())
	}
	data := raw.(map[string]interface{})["data"].([]interface{})
	links := make([]interface{}, 0, len(data))
	for i, entry := range data {
		linkData := entry.(map[string]interface{})
		if !checkConsistency {
			links = append(links, map[string]interface{}{"id": linkData["id"]})
			continue
		}
		link, err := f.link.sanitize(ctx, res, linkData)
		if err != nil {
			if e, ok := core.AsError(err); ok && e.Code == core.CodeBadRel {
				return nil, core.BadRelError("relationship %s entry %d: %s", f.name, i, e.Detail)
			}
			return nil, err
		}
		links = append(links, link)
	}
	return links, nil
}

func (f *toManyField) Render(ctx context.Context, res Resolver, id uuid.UUID, stored interface{}) (interface{}, error) {
	data := make([]interface{}, 0)
	if links, ok := stored.([]interface{}); ok {
		for _, entry := range links {
			link, ok := entry.(map[string]interface{})
			if !ok {
				continue
			}
			exists, err := f.link.resolve(ctx, res, link)
			if err != nil {
				return nil, err
			}
			if exists {
				data = append(data, f.link.render(res, link))
			}
		}
	}
	return map[string]interface{}{
		"self": res.RelationshipURL(id, f.name),
		"data": data,
	}, nil
}

func (f *toManyField) Writeable() bool { return true }
func (f *toManyField) IsArray() bool   { return true }
func (f *toManyField) IsDict() bool    { return false }
func (f *toManyField) IsUpload() bool  { return false }

// keyedField is a relationship indexed by caller-chosen string keys.
type keyedField struct {
	name string
	link linkage
}

func (f *keyedField) Sanitize(ctx context.Context, res Resolver, raw interface{}, checkConsistency bool) (interface{}, error) {
	if err := schema.Validate(keyedPayloadSchema, raw); err != nil {
		return nil, core.BadRelError("relationship %s is invalid: %s", f.name, err.Error())
	}
	data := raw.(map[string]interface{})["data"].(map[string]interface{})
	links := make(map[string]interface{}, len(data))
	for key, entry := range data {
		linkData := entry.(map[string]interface{})
		if !checkConsistency {
			links[key] = map[string]interface{}{"id": linkData["id"]}
			continue
		}
		link, err := f.link.sanitize(ctx, res, linkData)
		if err != nil {
			if e, ok := core.AsError(err); ok && e.Code == core.CodeBadRel {
				return nil, core.BadRelError("relationship %s entry %s: %s", f.name, key, e.Detail)
			}
			return nil, err
		}
		links[key] = link
	}
	return links, nil
}

func (f *keyedField) Render(ctx context.Context, res Resolver, id uuid.UUID, stored interface{}) (interface{}, error) {
	data := map[string]interface{}{}
	if links, ok := stored.(map[string]interface{}); ok {
		for key, entry := range links {
			link, ok := entry.(map[string]interface{})
			if !ok {
				continue
			}
			exists, err := f.link.resolve(ctx, res, link)
			if err != nil {
				return nil, err
			}
			if exists {
				data[key] = f.link.render(res, link)
			}
		}
	}
	return map[string]interface{}{
		"self": res.RelationshipURL(id, f.name),
		"data": data,
	}, nil
}

func (f *keyedField) Writeable() bool { return true }
func (f *keyedField) IsArray() bool   { return false }
func (f *keyedField) IsDict() bool    { return true }
func (f *keyedField) IsUpload() bool  { return false }

// autoField is the read-only reverse relationship. It is never stored; its
// value is computed at render time with a reverse query over the predicate
// type and relationship path.
type autoField struct {
	name      string
	predTypes []string
	predRel   string
}

func (f *autoField) Sanitize(ctx context.Context, res Resolver, raw interface{}, checkConsistency bool) (interface{}, error) {
	return nil, core.BadRelError("cannot write automatic relationship %s", f.name)
}

func (f *autoField) Render(ctx context.Context, res Resolver, id uuid.UUID, stored interface{}) (interface{}, error) {
	links, err := res.ReverseLinks(ctx, f.predTypes, f.predRel, id)
	if err != nil {
		return nil, err
	}
	data := make([]interface{}, 0, len(links))
	for _, link := range links {
		data = append(data, map[string]interface{}{
			"id":   link.ID.String(),
			"type": link.Type,
			"href": res.ResourceURL(link.ID),
		})
	}
	return map[string]interface{}{
		"self": res.RelationshipURL(id, f.name),
		"data": data,
	}, nil
}

func (f *autoField) Writeable() bool { return false }
func (f *autoField) IsArray() bool   { return false }
func (f *autoField) IsDict() bool    { return false }
func (f *autoField) IsUpload() bool  { return false }

// UploadField is a write-once binary slot. It never takes part in JSON body
// writes; content arrives through the store's dedicated upload path, which
// stores the data out-of-band and rewrites the stored value to a retrieval
// URL.
type UploadField struct {
	name       string
	acceptable []string
}

// Sanitize always fails, uploads are not writeable through the body.
func (f *UploadField) Sanitize(ctx context.Context, res Resolver, raw interface{}, checkConsistency bool) (interface{}, error) {
	return nil, core.BadItemError(f.name, "cannot write upload item in body")
}

// Render returns the stored retrieval URL unchanged.
func (f *UploadField) Render(ctx context.Context, res Resolver, id uuid.UUID, stored interface{}) (interface{}, error) {
	return stored, nil
}

// Accepts reports whether content of the given type may be uploaded into
// this field. Media type parameters are ignored.
func (f *UploadField) Accepts(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, acceptable := range f.acceptable {
		if acceptable == mediaType {
			return true
		}
	}
	return false
}

func (f *UploadField) Writeable() bool { return true }
func (f *UploadField) IsArray() bool   { return false }
func (f *UploadField) IsDict() bool    { return false }
func (f *UploadField) IsUpload() bool  { return true }

// payload schemas for the three writeable relationship arities
var (
	toOnePayloadSchema = schema.MustCompileString(fmt.Sprintf(`{
		"type": "object",
		"properties": {
			"data": {
				"type": "object",
				"properties": {
					"id": {"type": "string", "pattern": "^%s$"},
					"type": {"type": "string"}
				},
				"required": ["id"]
			}
		},
		"required": ["data"]
	}`, uuidRE))

	toManyPayloadSchema = schema.MustCompileString(fmt.Sprintf(`{
		"type": "object",
		"properties": {
			"data": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"id": {"type": "string", "pattern": "^%s$"},
						"type": {"type": "string"}
					},
					"required": ["id"]
				}
			}
		},
		"required": ["data"]
	}`, uuidRE))

	keyedPayloadSchema = schema.MustCompileString(fmt.Sprintf(`{
		"type": "object",
		"properties": {
			"data": {
				"type": "object",
				"patternProperties": {
					".*": {
						"type": "object",
						"properties": {
							"id": {"type": "string", "pattern": "^%s$"},
							"type": {"type": "string"}
						},
						"required": ["id"]
					}
				}
			}
		},
		"required": ["data"]
	}`, uuidRE))
)
