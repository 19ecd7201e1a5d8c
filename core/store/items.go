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

// ItemRead returns the rendered value of a single body item.
func (s *Store) ItemRead(ctx context.Context, id uuid.UUID, key string) (interface{}, error) {
	doc, ts, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return ts.RenderItem(ctx, s, doc, key)
}

// ItemUpdate replaces the stored value of a single body item.
func (s *Store) ItemUpdate(ctx context.Context, id uuid.UUID, key string, raw []byte) (interface{}, error) {
	doc, ts, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	field, err := ts.Field(key)
	if err != nil {
		return nil, err
	}
	payload, err := parseItemPayload(raw)
	if err != nil {
		return nil, err
	}
	value, err := field.Sanitize(ctx, s, payload, true)
	if err != nil {
		return nil, err
	}
	if err := s.cleanupItemBlobs(ctx, ts, doc, key); err != nil {
		return nil, err
	}
	_, err = s.db.Update(ctx, collectionResources,
		docdb.Filter{"_id": id.String()},
		docdb.Update{Set: map[string]interface{}{"body." + key: value}})
	if err != nil {
		return nil, err
	}
	if err := s.touch(ctx, id); err != nil {
		return nil, err
	}
	s.notifyItem(ctx, ts, id, key, core.OperationUpdate)
	return s.ItemRead(ctx, id, key)
}

// ItemAppend adds entries to a collection relationship. On a to-many
// relationship the entries are added with set semantics, appending an
// already linked target is not an error and does not duplicate the link.
// On a keyed relationship the given keys are set to the given targets.
// Appending to anything else is a BAD_ITEM error.
func (s *Store) ItemAppend(ctx context.Context, id uuid.UUID, key string, raw []byte) (interface{}, error) {
	doc, ts, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	field, err := ts.Field(key)
	if err != nil {
		return nil, err
	}
	if !field.IsArray() && !field.IsDict() {
		return nil, core.BadItemError(key, "cannot append to a non-collection item")
	}
	payload, err := parseItemPayload(raw)
	if err != nil {
		return nil, err
	}
	value, err := field.Sanitize(ctx, s, payload, true)
	if err != nil {
		return nil, err
	}

	update := docdb.Update{}
	if field.IsArray() {
		links := value.([]interface{})
		if len(links) == 0 {
			return ts.RenderItem(ctx, s, doc, key)
		}
		update.AddToSet = map[string][]interface{}{"body." + key: links}
	} else {
		links := value.(map[string]interface{})
		if len(links) == 0 {
			return ts.RenderItem(ctx, s, doc, key)
		}
		set := make(map[string]interface{}, len(links))
		for entryKey, link := range links {
			set["body."+key+"."+entryKey] = link
		}
		update.Set = set
	}
	if _, err = s.db.Update(ctx, collectionResources, docdb.Filter{"_id": id.String()}, update); err != nil {
		return nil, err
	}
	if err := s.touch(ctx, id); err != nil {
		return nil, err
	}
	s.notifyItem(ctx, ts, id, key, core.OperationUpdate)
	return s.ItemRead(ctx, id, key)
}

// ItemRemove removes entries from a collection relationship. The named
// targets and keys need not be linked, removal is tolerant; the targets
// need not even exist anymore. Removing from anything else is a BAD_ITEM
// error.
func (s *Store) ItemRemove(ctx context.Context, id uuid.UUID, key string, raw []byte) (interface{}, error) {
	doc, ts, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	field, err := ts.Field(key)
	if err != nil {
		return nil, err
	}
	if !field.IsArray() && !field.IsDict() {
		return nil, core.BadItemError(key, "cannot remove from a non-collection item")
	}
	payload, err := parseItemPayload(raw)
	if err != nil {
		return nil, err
	}
	// consistency is not checked on removal, deleted targets can still
	// be unlinked
	value, err := field.Sanitize(ctx, s, payload, false)
	if err != nil {
		return nil, err
	}

	update := docdb.Update{}
	if field.IsArray() {
		links := value.([]interface{})
		if len(links) == 0 {
			return ts.RenderItem(ctx, s, doc, key)
		}
		ids := make(docdb.In, 0, len(links))
		for _, link := range links {
			ids = append(ids, link.(map[string]interface{})["id"])
		}
		update.Pull = map[string]docdb.Filter{"body." + key: {"id": ids}}
	} else {
		links := value.(map[string]interface{})
		if len(links) == 0 {
			return ts.RenderItem(ctx, s, doc, key)
		}
		unset := make([]string, 0, len(links))
		for entryKey := range links {
			unset = append(unset, "body."+key+"."+entryKey)
		}
		update.Unset = unset
	}
	if _, err = s.db.Update(ctx, collectionResources, docdb.Filter{"_id": id.String()}, update); err != nil {
		return nil, err
	}
	if err := s.touch(ctx, id); err != nil {
		return nil, err
	}
	s.notifyItem(ctx, ts, id, key, core.OperationUpdate)
	return s.ItemRead(ctx, id, key)
}

// parseItemPayload parses a single-item request body. The field's own
// sanitize decides whether the value is acceptable; relationship fields
// enforce the {"data": ...} wrapper through their payload schema.
func parseItemPayload(raw []byte) (interface{}, error) {
	var payload interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, core.BadDataError("invalid request body: " + err.Error())
	}
	return payload, nil
}
