package database

import (
	"context"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"prayerreminder/internal/storage"
	"time"
)

const (
	Name                = "prayer_reminder_db"
	CollectionKeyValues = "kv"
)

type Database struct {
	*mongo.Database
}

func ConnectDB(ctx context.Context, dbURI string) (*mongo.Client, error) {
	c, err := mongo.Connect(ctx, options.Client().ApplyURI(dbURI))
	if err != nil {
		return nil, errors.Wrapf(err, "error connecting to MongoDB")
	}

	_, err = c.Database(Name).Collection(CollectionKeyValues).Indexes().CreateOne(
		ctx,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "updated_at", Value: -1}},
			Options: options.Index().SetUnique(false),
		},
	)
	if err != nil {
		return nil, errors.Wrapf(err, "error creating index on collection: %s", CollectionKeyValues)
	}

	return c, nil
}

type keyValue struct {
	Key       string    `bson:"_id"`
	Value     string    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Store is a storage.Store backed by one document per key.
type Store struct {
	DB Database
}

func (s Store) Get(ctx context.Context, key string) (string, error) {
	var kv keyValue
	err := s.DB.Collection(CollectionKeyValues).FindOne(ctx, bson.M{"_id": key}).Decode(&kv)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", storage.ErrNotFound
		}
		return "", errors.Wrapf(err, "error finding value with key: %s", key)
	}
	return kv.Value, nil
}

func (s Store) Set(ctx context.Context, key string, value string) error {
	_, err := s.DB.Collection(CollectionKeyValues).UpdateOne(
		ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{
			"value":      value,
			"updated_at": time.Now().UTC(),
		}},
		options.Update().SetUpsert(true),
	)
	return errors.Wrapf(err, "error upserting value with key: %s", key)
}

func (s Store) Delete(ctx context.Context, key string) error {
	_, err := s.DB.Collection(CollectionKeyValues).DeleteOne(ctx, bson.M{"_id": key})
	return errors.Wrapf(err, "error deleting value with key: %s", key)
}
