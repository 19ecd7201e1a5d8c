// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package store

import (
	"context"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/relabs-tech/melone/core"
	"github.com/relabs-tech/melone/core/docdb"
	"github.com/relabs-tech/melone/core/logger"
	"github.com/relabs-tech/melone/core/registry"
	"github.com/relabs-tech/melone/core/store/blobs"
)

// ItemUpload streams content into an upload item. The content type must be
// one the item declares acceptable. The content is stored under a fresh
// blob key; the item's stored value becomes the retrieval URL and any
// previous blob is deleted.
func (s *Store) ItemUpload(ctx context.Context, id uuid.UUID, key string, contentType string, r io.Reader) (interface{}, error) {
	if s.blobs == nil {
		return nil, core.BadItemError(key, "blob storage is not configured")
	}
	doc, ts, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	field, err := ts.Field(key)
	if err != nil {
		return nil, err
	}
	upload, ok := field.(*registry.UploadField)
	if !ok {
		return nil, core.BadItemError(key, "not an upload item")
	}
	if !upload.Accepts(contentType) {
		return nil, core.NotAcceptableError(contentType)
	}

	blobKey := uuid.New().String()
	if err := s.blobs.Put(ctx, blobKey, contentType, r); err != nil {
		return nil, err
	}
	_, err = s.db.Update(ctx, collectionResources,
		docdb.Filter{"_id": id.String()},
		docdb.Update{Set: map[string]interface{}{"body." + key: s.blobURL(blobKey)}})
	if err != nil {
		return nil, err
	}
	if err := s.touch(ctx, id); err != nil {
		return nil, err
	}

	storedBody, _ := doc["body"].(map[string]interface{})
	s.deleteBlobValue(ctx, storedBody[key])
	s.notifyItem(ctx, ts, id, key, core.OperationUpdate)
	return s.ItemRead(ctx, id, key)
}

// BlobOpen opens stored upload content by blob key.
func (s *Store) BlobOpen(ctx context.Context, blobKey string) (io.ReadCloser, string, error) {
	if s.blobs == nil {
		return nil, "", blobs.ErrNoBlob
	}
	return s.blobs.Get(ctx, blobKey)
}

// deleteBlobValue deletes the blob referenced by a stored upload value,
// if any. Best effort, failures are logged.
func (s *Store) deleteBlobValue(ctx context.Context, stored interface{}) {
	url, ok := stored.(string)
	if !ok || url == "" || s.blobs == nil {
		return
	}
	blobKey := url[strings.LastIndex(url, "/")+1:]
	if blobKey == "" {
		return
	}
	if err := s.blobs.Delete(ctx, blobKey); err != nil && err != blobs.ErrNoBlob {
		logger.FromContext(ctx).Warnln("could not delete blob", blobKey, ":", err)
	}
}

// cleanupAllBlobs deletes the blobs referenced by every upload item of a
// stored document.
func (s *Store) cleanupAllBlobs(ctx context.Context, ts *registry.TypeSchema, doc docdb.Document) {
	storedBody, _ := doc["body"].(map[string]interface{})
	for _, key := range ts.Keys() {
		field, _ := ts.Field(key)
		if field != nil && field.IsUpload() {
			s.deleteBlobValue(ctx, storedBody[key])
		}
	}
}

// cleanupItemBlobs deletes the blob held by an upload item that is about
// to be overwritten.
func (s *Store) cleanupItemBlobs(ctx context.Context, ts *registry.TypeSchema, doc docdb.Document, key string) error {
	field, err := ts.Field(key)
	if err != nil {
		return err
	}
	if field.IsUpload() {
		storedBody, _ := doc["body"].(map[string]interface{})
		s.deleteBlobValue(ctx, storedBody[key])
	}
	return nil
}
