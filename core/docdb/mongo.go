// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package docdb

import (
	"context"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/relabs-tech/melone/core/logger"
)

// Mongo is the MongoDB implementation of Database.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

// OpenMongo connects to a MongoDB instance and selects the given database.
// The connection is verified with a ping.
func OpenMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	logger.Default().Infoln("connecting to mongodb database:", database)
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("cannot ping mongodb: %w", err)
	}
	return &Mongo{client: client, db: client.Database(database)}, nil
}

// Close disconnects the underlying client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// FindOne implements Database.
func (m *Mongo) FindOne(ctx context.Context, collection string, filter Filter, fields ...string) (Document, error) {
	opts := options.FindOne()
	if len(fields) > 0 {
		opts.SetProjection(projection(fields))
	}
	raw := bson.M{}
	err := m.db.Collection(collection).FindOne(ctx, filterToBSON(filter), opts).Decode(&raw)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNoDocument
	}
	if err != nil {
		return nil, err
	}
	return fromBSON(raw).(Document), nil
}

// Find implements Database.
func (m *Mongo) Find(ctx context.Context, collection string, filter Filter, fields ...string) ([]Document, error) {
	opts := options.Find()
	if len(fields) > 0 {
		opts.SetProjection(projection(fields))
	}
	cursor, err := m.db.Collection(collection).Find(ctx, filterToBSON(filter), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []Document
	for cursor.Next(ctx) {
		raw := bson.M{}
		if err := cursor.Decode(&raw); err != nil {
			return nil, err
		}
		docs = append(docs, fromBSON(raw).(Document))
	}
	return docs, cursor.Err()
}

// Insert implements Database.
func (m *Mongo) Insert(ctx context.Context, collection string, doc Document) error {
	_, err := m.db.Collection(collection).InsertOne(ctx, toBSON(map[string]interface{}(doc)))
	return err
}

// Update implements Database.
func (m *Mongo) Update(ctx context.Context, collection string, filter Filter, update Update) (int64, error) {
	u := bson.M{}
	if len(update.Set) > 0 {
		set := bson.M{}
		for path, value := range update.Set {
			set[path] = toBSON(value)
		}
		u["$set"] = set
	}
	if len(update.Unset) > 0 {
		unset := bson.M{}
		for _, path := range update.Unset {
			unset[path] = ""
		}
		u["$unset"] = unset
	}
	if len(update.AddToSet) > 0 {
		add := bson.M{}
		for path, elements := range update.AddToSet {
			each := make(bson.A, len(elements))
			for i, element := range elements {
				each[i] = toBSON(element)
			}
			add[path] = bson.M{"$each": each}
		}
		u["$addToSet"] = add
	}
	if len(update.Pull) > 0 {
		pull := bson.M{}
		for path, element := range update.Pull {
			pull[path] = filterToBSON(element)
		}
		u["$pull"] = pull
	}
	if len(u) == 0 {
		return 0, nil
	}
	result, err := m.db.Collection(collection).UpdateMany(ctx, filterToBSON(filter), u)
	if err != nil {
		return 0, err
	}
	return result.MatchedCount, nil
}

// Delete implements Database.
func (m *Mongo) Delete(ctx context.Context, collection string, filter Filter) (int64, error) {
	result, err := m.db.Collection(collection).DeleteMany(ctx, filterToBSON(filter))
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

func projection(fields []string) bson.M {
	p := bson.M{}
	for _, f := range fields {
		p[f] = 1
	}
	return p
}

func filterToBSON(filter Filter) bson.M {
	out := bson.M{}
	for path, value := range filter {
		if in, ok := value.(In); ok {
			out[path] = bson.M{"$in": []interface{}(in)}
		} else {
			out[path] = value
		}
	}
	return out
}

// toBSON converts plain document values into bson with deterministic field
// order, maps become bson.D sorted by key. Mongo's $addToSet compares nested
// documents field by field in order, so the same document must always encode
// the same way regardless of Go map iteration.
func toBSON(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		out := make(bson.D, 0, len(keys))
		for _, key := range keys {
			out = append(out, bson.E{Key: key, Value: toBSON(v[key])})
		}
		return out
	case []interface{}:
		out := make(bson.A, len(v))
		for i, element := range v {
			out[i] = toBSON(element)
		}
		return out
	default:
		return value
	}
}

// fromBSON converts decoded bson values back into the plain document shapes
// the store works with, in particular datetimes back to time.Time.
func fromBSON(value interface{}) interface{} {
	switch v := value.(type) {
	case bson.M:
		out := map[string]interface{}{}
		for key, element := range v {
			out[key] = fromBSON(element)
		}
		return out
	case bson.D:
		out := map[string]interface{}{}
		for _, element := range v {
			out[element.Key] = fromBSON(element.Value)
		}
		return out
	case bson.A:
		out := make([]interface{}, len(v))
		for i, element := range v {
			out[i] = fromBSON(element)
		}
		return out
	case primitive.DateTime:
		return v.Time().UTC()
	default:
		return value
	}
}

var _ Database = (*Mongo)(nil)
