package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

var (
	ErrDatabaseTimeout   = errors.New("timeout")
	ErrDuplicate         = errors.New("duplicate")
	ErrConnection        = errors.New("connection_error")
	ErrNotFound          = errors.New("not_found")
	ErrServerUnavailable = errors.New("server_unavailable")
)

type Database struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewDatabase connects and pings the primary. The JWKS state is small and written
// rarely, so writes use majority concern to survive a primary failover.
func NewDatabase(ctx context.Context, uri, dbName string) (*Database, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Database{client: client, db: client.Database(dbName)}, nil
}

func clientOptions(uri string) *options.ClientOptions {
	return options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(5 * time.Second).
		SetWriteConcern(writeconcern.Majority())
}

func (d *Database) Collection(name string) *mongo.Collection {
	return d.db.Collection(name)
}

func (d *Database) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return d.client.Disconnect(ctx)
}

func (d *Database) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return d.client.Ping(ctx, readpref.Primary())
}

// HandleMongoError maps driver errors onto the package's sentinel errors.
// The original error stays in the chain.
func HandleMongoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrDatabaseTimeout, err)
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	case mongo.IsNetworkError(err):
		return fmt.Errorf("%w: %w", ErrConnection, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrServerUnavailable, err)
	default:
		return err
	}
}
