// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package docdb is the document database boundary of the store.

The store only needs a narrow slice of a document database: lookup and scans
by exact match on dotted paths, single-document inserts, deletes, and updates
composed of set/unset plus the atomic add-to-set and pull collection
primitives. Database captures exactly that slice. Mongo implements it on
MongoDB, Memory implements it in process for unit tests and for running
without external services.
*/
package docdb

import (
	"context"
	"errors"
)

// ErrNoDocument is returned by FindOne when no document matches the filter.
var ErrNoDocument = errors.New("docdb: no document")

// Document is a stored document. Nested documents are
// map[string]interface{}, arrays are []interface{}.
type Document = map[string]interface{}

// In is a filter value that matches when the stored value equals any of its
// elements.
type In []interface{}

// Filter matches documents by equality on dotted paths. A path that
// traverses an array matches when any element matches. Values of type In
// are treated as a membership test instead of plain equality.
type Filter map[string]interface{}

// Update describes a single-document update. All listed operations are
// applied in one database call.
type Update struct {
	// Set assigns values to dotted paths, creating intermediate documents.
	Set map[string]interface{}
	// Unset removes the values at the given dotted paths.
	Unset []string
	// AddToSet appends elements to array fields, skipping elements that
	// are already present.
	AddToSet map[string][]interface{}
	// Pull removes all elements matching the filter from array fields.
	// The filter paths are relative to the array element.
	Pull map[string]Filter
}

// Database is the document database interface consumed by the store.
type Database interface {
	// FindOne returns the first document matching filter, restricted to
	// the given fields if any. Returns ErrNoDocument if there is none.
	FindOne(ctx context.Context, collection string, filter Filter, fields ...string) (Document, error)
	// Find returns all documents matching filter, restricted to the given
	// fields if any.
	Find(ctx context.Context, collection string, filter Filter, fields ...string) ([]Document, error)
	// Insert stores a new document. The document must carry a unique "_id".
	Insert(ctx context.Context, collection string, doc Document) error
	// Update applies update to all documents matching filter and returns
	// the number of matched documents.
	Update(ctx context.Context, collection string, filter Filter, update Update) (int64, error)
	// Delete removes all documents matching filter and returns the number
	// of deleted documents.
	Delete(ctx context.Context, collection string, filter Filter) (int64, error)
	// Close releases the underlying connections.
	Close(ctx context.Context) error
}
