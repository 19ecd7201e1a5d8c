// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package store is a schema-driven resource store.
//
// A store compiles a JSON type configuration at boot time and exposes
// typed resources through a REST API. Resources are uniform documents
// with a server-generated id, a validated body and server-managed meta
// timestamps. Relationships between resources are first-class body items
// and are validated against the database on every write.
package store

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/melone/core"
	"github.com/relabs-tech/melone/core/docdb"
	"github.com/relabs-tech/melone/core/logger"
	"github.com/relabs-tech/melone/core/registry"
	"github.com/relabs-tech/melone/core/store/blobs"
)

const (
	collectionResources = "resources"
	collectionHandles   = "handles"
)

// Builder is a builder helper for the store
type Builder struct {
	// Config is the JSON type configuration
	Config string
	// SchemaRefs are extra JSON-schemas available for $ref resolution,
	// each must carry an $id. Optional
	SchemaRefs []string
	// DB is the document database
	DB docdb.Database
	// Router is a mux router. The store registers its routes on it
	Router *mux.Router
	// Notifier receives store mutation notifications. Optional
	Notifier core.Notifier
	// BlobDriver stores uploaded binary content. Optional, uploads are
	// rejected without one
	BlobDriver blobs.Driver
	// BaseURL is prepended to all rendered hrefs. Optional
	BaseURL string
	// EnableCORS enables CORS preflight handling on the store routes
	EnableCORS bool
}

// Store is the resource store
type Store struct {
	db       docdb.Database
	registry *registry.Registry
	router   *mux.Router
	notifier core.Notifier
	blobs    blobs.Driver
	baseURL  string
}

// New realizes the store. It compiles the type configuration and
// registers all routes. Compilation errors abort the boot.
func New(b *Builder) (*Store, error) {
	if b.DB == nil {
		return nil, core.BadDataError("store builder needs a database")
	}
	if b.Router == nil {
		return nil, core.BadDataError("store builder needs a router")
	}
	reg, err := registry.NewFromJSON([]byte(b.Config), b.SchemaRefs...)
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:       b.DB,
		registry: reg,
		router:   b.Router,
		notifier: b.Notifier,
		blobs:    b.BlobDriver,
		baseURL:  b.BaseURL,
	}
	s.handleRoutes(b.EnableCORS)
	logger.Default().Infoln("store realized with types:", reg.Types())
	return s, nil
}

// MustNew realizes the store. It panics on error
func MustNew(b *Builder) *Store {
	s, err := New(b)
	if err != nil {
		panic(err)
	}
	return s
}

// Registry returns the compiled type registry.
func (s *Store) Registry() *registry.Registry {
	return s.registry
}

// ResourceURL implements registry.Resolver
func (s *Store) ResourceURL(id uuid.UUID) string {
	return s.baseURL + "/api/store/resources/" + id.String()
}

// RelationshipURL implements registry.Resolver
func (s *Store) RelationshipURL(id uuid.UUID, key string) string {
	return s.baseURL + "/api/store/resources/" + id.String() + "/" + key
}

func (s *Store) blobURL(key string) string {
	return s.baseURL + "/api/store/blobs/" + key
}

// TypeByID implements registry.Resolver
func (s *Store) TypeByID(ctx context.Context, id uuid.UUID) (string, error) {
	doc, err := s.db.FindOne(ctx, collectionResources, docdb.Filter{"_id": id.String()}, "type")
	if err == docdb.ErrNoDocument {
		return "", core.NoResourceError(id)
	}
	if err != nil {
		return "", err
	}
	typeName, _ := doc["type"].(string)
	return typeName, nil
}

// ReverseLinks implements registry.Resolver
func (s *Store) ReverseLinks(ctx context.Context, types []string, path string, id uuid.UUID) ([]registry.Link, error) {
	in := make(docdb.In, 0, len(types))
	for _, t := range types {
		in = append(in, t)
	}
	filter := docdb.Filter{
		"type":                in,
		"body." + path + ".id": id.String(),
	}
	docs, err := s.db.Find(ctx, collectionResources, filter, "type")
	if err != nil {
		return nil, err
	}
	links := make([]registry.Link, 0, len(docs))
	for _, doc := range docs {
		idString, _ := doc["_id"].(string)
		linkID, err := uuid.Parse(idString)
		if err != nil {
			continue
		}
		typeName, _ := doc["type"].(string)
		links = append(links, registry.Link{ID: linkID, Type: typeName})
	}
	return links, nil
}

// envelope is the request body wrapper for resource writes.
type envelope struct {
	Data struct {
		Type string                 `json:"type"`
		Body map[string]interface{} `json:"body"`
	} `json:"data"`
}

func parseEnvelope(raw []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, core.BadDataError("invalid request body: " + err.Error())
	}
	if env.Data.Body == nil {
		env.Data.Body = map[string]interface{}{}
	}
	return &env, nil
}

// Create validates raw against the declared type's schema and stores a new
// resource. author, when given, is recorded in the resource meta.
func (s *Store) Create(ctx context.Context, raw []byte, author *uuid.UUID) (map[string]interface{}, error) {
	env, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	ts, err := s.registry.Lookup(env.Data.Type)
	if err != nil {
		return nil, err
	}
	body, err := ts.Sanitize(ctx, s, env.Data.Body, true)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	now := time.Now().UTC()
	meta := map[string]interface{}{
		"created":       now,
		"last-modified": now,
	}
	if author != nil {
		meta["author-id"] = author.String()
	}
	doc := docdb.Document{
		"_id":  id.String(),
		"type": ts.Name(),
		"body": body,
		"meta": meta,
	}
	if err := s.db.Insert(ctx, collectionResources, doc); err != nil {
		return nil, err
	}
	rendered, err := ts.Render(ctx, s, doc)
	if err != nil {
		return nil, err
	}
	s.notify(ts.Name(), core.OperationCreate, rendered)
	return rendered, nil
}

// Read returns the rendered resource with the given id.
func (s *Store) Read(ctx context.Context, id uuid.UUID) (map[string]interface{}, error) {
	doc, ts, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return ts.Render(ctx, s, doc)
}

// Update applies a sparse body update. Items present in the request body
// replace the stored value entirely; absent items are untouched. An empty
// body is a no-op that succeeds without touching meta.
func (s *Store) Update(ctx context.Context, id uuid.UUID, raw []byte) (map[string]interface{}, error) {
	env, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	doc, ts, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if env.Data.Type != "" && env.Data.Type != ts.Name() {
		return nil, core.BadDataError("resource " + id.String() + " has type " + ts.Name())
	}
	set, err := ts.Sanitize(ctx, s, env.Data.Body, false)
	if err != nil {
		return nil, err
	}
	if len(set) == 0 {
		return ts.Render(ctx, s, doc)
	}

	set["meta.last-modified"] = time.Now().UTC()
	_, err = s.db.Update(ctx, collectionResources,
		docdb.Filter{"_id": id.String()}, docdb.Update{Set: set})
	if err != nil {
		return nil, err
	}
	doc, _, err = s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	rendered, err := ts.Render(ctx, s, doc)
	if err != nil {
		return nil, err
	}
	s.notify(ts.Name(), core.OperationUpdate, rendered)
	return rendered, nil
}

// Delete removes the resource and all blobs held by its upload items.
// Handles pointing to the resource are left untouched, reading them
// yields a no-resource error until they are rebound or deleted.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	doc, ts, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	rendered, err := ts.Render(ctx, s, doc)
	if err != nil {
		return err
	}
	if _, err := s.db.Delete(ctx, collectionResources, docdb.Filter{"_id": id.String()}); err != nil {
		return err
	}
	s.cleanupAllBlobs(ctx, ts, doc)
	s.notify(ts.Name(), core.OperationDelete, rendered)
	return nil
}

// ByType returns all rendered resources of the given type.
func (s *Store) ByType(ctx context.Context, typeName string) ([]map[string]interface{}, error) {
	ts, err := s.registry.Lookup(typeName)
	if err != nil {
		return nil, err
	}
	docs, err := s.db.Find(ctx, collectionResources, docdb.Filter{"type": typeName})
	if err != nil {
		return nil, err
	}
	result := make([]map[string]interface{}, 0, len(docs))
	for _, doc := range docs {
		rendered, err := ts.Render(ctx, s, doc)
		if err != nil {
			return nil, err
		}
		result = append(result, rendered)
	}
	return result, nil
}

// load fetches a stored document and its compiled type schema.
func (s *Store) load(ctx context.Context, id uuid.UUID) (docdb.Document, *registry.TypeSchema, error) {
	doc, err := s.db.FindOne(ctx, collectionResources, docdb.Filter{"_id": id.String()})
	if err == docdb.ErrNoDocument {
		return nil, nil, core.NoResourceError(id)
	}
	if err != nil {
		return nil, nil, err
	}
	typeName, _ := doc["type"].(string)
	ts, err := s.registry.Lookup(typeName)
	if err != nil {
		return nil, nil, err
	}
	return doc, ts, nil
}

// touch bumps the last-modified timestamp of a resource.
func (s *Store) touch(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Update(ctx, collectionResources,
		docdb.Filter{"_id": id.String()},
		docdb.Update{Set: map[string]interface{}{"meta.last-modified": time.Now().UTC()}})
	return err
}
