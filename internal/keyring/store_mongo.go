package keyring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sing3demons/instance-identity/internal/database"
	"github.com/sing3demons/instance-identity/pkg/jwks"
	"github.com/sing3demons/instance-identity/pkg/logAction"
	"github.com/sing3demons/instance-identity/pkg/logger"
	"github.com/sing3demons/instance-identity/pkg/mlog"
	"github.com/sing3demons/instance-identity/pkg/query"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	StateCollection = "jwks_state"
	stateDocumentID = "jwks"
)

type stateDocument struct {
	ID        string     `bson:"_id"`
	Keys      []jwks.JWK `bson:"keys"`
	UpdatedAt time.Time  `bson:"updatedAt"`
}

// mongoCollection is the part of *mongo.Collection the store uses.
type mongoCollection interface {
	Name() string
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) *mongo.SingleResult
	UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// MongoStore keeps the key history in a single document {_id:"jwks", keys:[...], updatedAt}.
type MongoStore struct {
	collection mongoCollection
	now        func() time.Time
}

func NewMongoStore(collection *mongo.Collection) *MongoStore {
	return &MongoStore{collection: collection, now: time.Now}
}

func (s *MongoStore) Load(ctx context.Context) ([]jwks.JWK, error) {
	log := mlog.L(ctx)
	start := time.Now()
	filter := bson.M{"_id": stateDocumentID}

	log.SetDependencyMetadata(logger.DependencyMetadata{
		Dependency: s.collection.Name(),
	}).Debug(logAction.DB_REQUEST(logAction.DB_READ, query.Find(s.collection.Name(), filter)), filter)

	var doc stateDocument
	err := s.collection.FindOne(ctx, filter).Decode(&doc)
	elapsedMs := time.Since(start).Milliseconds()

	if errors.Is(err, mongo.ErrNoDocuments) {
		log.SetDependencyMetadata(logger.DependencyMetadata{
			Dependency:   s.collection.Name(),
			ResponseTime: elapsedMs,
		}).Debug(logAction.DB_RESPONSE(logAction.DB_READ, "mongo response"), map[string]any{"data": nil})
		return nil, nil
	}
	if err != nil {
		log.SetDependencyMetadata(logger.DependencyMetadata{
			Dependency:   s.collection.Name(),
			ResponseTime: elapsedMs,
		}).Error(logAction.DB_RESPONSE(logAction.DB_READ, "mongo response"), map[string]any{"error": err.Error()})

		mapped := database.HandleMongoError(err)
		if isTransientMongoError(mapped) {
			return nil, fmt.Errorf("read jwks state from mongo: %w", mapped)
		}
		// the document exists but does not decode into the expected shape
		return nil, fmt.Errorf("%w: %v", ErrCorruptPersistedState, err)
	}

	log.SetDependencyMetadata(logger.DependencyMetadata{
		Dependency:   s.collection.Name(),
		ResponseTime: elapsedMs,
	}).Debug(logAction.DB_RESPONSE(logAction.DB_READ, "mongo response"), map[string]any{
		"keys":      len(doc.Keys),
		"updatedAt": doc.UpdatedAt,
	})

	if err := validateState(doc.Keys); err != nil {
		return nil, err
	}
	return doc.Keys, nil
}

func isTransientMongoError(err error) bool {
	var cmdErr mongo.CommandError
	return errors.Is(err, database.ErrDatabaseTimeout) ||
		errors.Is(err, database.ErrConnection) ||
		errors.Is(err, database.ErrServerUnavailable) ||
		errors.As(err, &cmdErr) ||
		errors.Is(err, mongo.ErrClientDisconnected)
}

func (s *MongoStore) Save(ctx context.Context, keys []jwks.JWK) error {
	log := mlog.L(ctx)
	start := time.Now()
	if keys == nil {
		keys = []jwks.JWK{}
	}
	filter := bson.M{"_id": stateDocumentID}
	update := bson.M{"$set": bson.M{"keys": keys, "updatedAt": s.now().UTC()}}

	log.SetDependencyMetadata(logger.DependencyMetadata{
		Dependency: s.collection.Name(),
	}).Debug(logAction.DB_REQUEST(logAction.DB_UPDATE, query.Update(s.collection.Name(), filter, update, bson.M{"upsert": true})), map[string]any{
		"keys": len(keys),
	})

	_, err := s.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	result := map[string]any{"data": "OK"}
	if err != nil {
		result = map[string]any{"error": err.Error()}
	}
	log.SetDependencyMetadata(logger.DependencyMetadata{
		Dependency:   s.collection.Name(),
		ResponseTime: time.Since(start).Milliseconds(),
	}).Debug(logAction.DB_RESPONSE(logAction.DB_UPDATE, "mongo response"), result)

	if err != nil {
		return fmt.Errorf("write jwks state to mongo: %w", database.HandleMongoError(err))
	}
	return nil
}
