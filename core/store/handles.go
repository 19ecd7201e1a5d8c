// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package store

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/relabs-tech/melone/core"
	"github.com/relabs-tech/melone/core/docdb"
)

// ByHandle resolves a handle into a rendered link to its target resource.
// The target's type is re-derived from the database, a handle left behind
// by a deleted resource resolves to a NO_RESOURCE error.
func (s *Store) ByHandle(ctx context.Context, handle string) (map[string]interface{}, error) {
	doc, err := s.db.FindOne(ctx, collectionHandles, docdb.Filter{"_id": handle})
	if err == docdb.ErrNoDocument {
		return nil, core.NoHandleError(handle)
	}
	if err != nil {
		return nil, err
	}
	idString, _ := doc["resource"].(string)
	id, err := uuid.Parse(idString)
	if err != nil {
		return nil, core.BadDataError("stored handle has invalid resource id")
	}
	typeName, err := s.TypeByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"id":   idString,
		"type": typeName,
		"href": s.ResourceURL(id),
	}, nil
}

// HandleSet binds a handle to a resource. raw is a {"data": {"id": ...}}
// payload naming an existing resource. Binding an already bound handle is a
// HANDLE_EXISTS conflict unless allowOverwrite is set.
func (s *Store) HandleSet(ctx context.Context, handle string, raw []byte, allowOverwrite bool) (map[string]interface{}, error) {
	var payload struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, core.BadDataError("invalid request body: " + err.Error())
	}
	id, err := uuid.Parse(payload.Data.ID)
	if err != nil {
		return nil, core.BadDataError("invalid resource id " + payload.Data.ID)
	}
	if _, err := s.TypeByID(ctx, id); err != nil {
		return nil, err
	}

	_, err = s.db.FindOne(ctx, collectionHandles, docdb.Filter{"_id": handle}, "_id")
	switch {
	case err == nil:
		if !allowOverwrite {
			return nil, core.HandleExistsError(handle)
		}
		_, err = s.db.Update(ctx, collectionHandles,
			docdb.Filter{"_id": handle},
			docdb.Update{Set: map[string]interface{}{"resource": id.String()}})
		if err != nil {
			return nil, err
		}
	case err == docdb.ErrNoDocument:
		err = s.db.Insert(ctx, collectionHandles, docdb.Document{
			"_id":      handle,
			"resource": id.String(),
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	return s.ByHandle(ctx, handle)
}

// HandleDelete unbinds a handle. The target resource is untouched.
func (s *Store) HandleDelete(ctx context.Context, handle string) error {
	count, err := s.db.Delete(ctx, collectionHandles, docdb.Filter{"_id": handle})
	if err != nil {
		return err
	}
	if count == 0 {
		return core.NoHandleError(handle)
	}
	return nil
}
