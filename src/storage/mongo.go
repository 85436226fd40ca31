package storage

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"gitlab.com/crypto_project/core/resourcepool_service/src/pool"
	"gitlab.com/crypto_project/core/resourcepool_service/src/resource"
)

const mongoOpTimeout = 10 * time.Second

// Mongo persists pool and resource records so the engine survives a
// restart. Implements pool.Store.
type Mongo struct {
	client    *mongo.Client
	pools     *mongo.Collection
	resources *mongo.Collection
}

func NewMongo(url, database string) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(url))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	db := client.Database(database)
	return &Mongo{
		client:    client,
		pools:     db.Collection("pools"),
		resources: db.Collection("resources"),
	}, nil
}

func (m *Mongo) SavePool(v pool.View) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()
	_, err := m.pools.ReplaceOne(ctx, bson.M{"id": v.ID}, v, options.Replace().SetUpsert(true))
	return err
}

func (m *Mongo) DeletePool(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()
	_, err := m.pools.DeleteOne(ctx, bson.M{"id": id})
	return err
}

func (m *Mongo) SaveResource(v resource.View) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()
	_, err := m.resources.ReplaceOne(ctx, bson.M{"id": v.ID}, v, options.Replace().SetUpsert(true))
	return err
}

func (m *Mongo) DeleteResource(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()
	_, err := m.resources.DeleteOne(ctx, bson.M{"id": id})
	return err
}

// LoadPools returns every persisted pool record, for startup restore.
func (m *Mongo) LoadPools() ([]pool.View, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	cursor, err := m.pools.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []pool.View
	for cursor.Next(ctx) {
		var v pool.View
		if err := cursor.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, cursor.Err()
}

// LoadResources returns every persisted resource record.
func (m *Mongo) LoadResources() ([]resource.View, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	cursor, err := m.resources.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []resource.View
	for cursor.Next(ctx) {
		var v resource.View
		if err := cursor.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, cursor.Err()
}

func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}
