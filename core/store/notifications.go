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
	"github.com/relabs-tech/melone/core/logger"
	"github.com/relabs-tech/melone/core/registry"
)

// notify publishes a mutation of a whole resource. payload is the rendered
// resource as it was returned to the caller.
func (s *Store) notify(typeName string, operation core.Operation, payload map[string]interface{}) {
	if s.notifier == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Default().Errorln("could not marshal notification payload:", err)
		return
	}
	s.notifier.Notify(typeName, operation, data)
}

// notifyItem publishes a mutation of a single body item.
func (s *Store) notifyItem(ctx context.Context, ts *registry.TypeSchema, id uuid.UUID, key string, operation core.Operation) {
	if s.notifier == nil {
		return
	}
	data, err := json.Marshal(map[string]interface{}{
		"id":   id.String(),
		"type": ts.Name(),
		"item": key,
	})
	if err != nil {
		logger.FromContext(ctx).Errorln("could not marshal notification payload:", err)
		return
	}
	s.notifier.Notify(ts.Name(), operation, data)
}
