// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package blobs stores uploaded binary content outside the document
// database. The store only keeps a retrieval URL in the resource body.
package blobs

import (
	"context"
	"errors"
	"io"
)

// ErrNoBlob is returned by Get and Delete when no blob exists for the key.
var ErrNoBlob = errors.New("no blob for key")

// Driver is the interface for blob storage backends.
type Driver interface {
	// Put stores the content read from r under key with the given content
	// type, overwriting any previous content.
	Put(ctx context.Context, key string, contentType string, r io.Reader) error
	// Get returns the content and content type stored under key. The caller
	// must close the returned reader.
	Get(ctx context.Context, key string) (io.ReadCloser, string, error)
	// Delete removes the content stored under key.
	Delete(ctx context.Context, key string) error
}
