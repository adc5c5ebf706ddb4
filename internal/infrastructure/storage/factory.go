package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"FeeSync/internal/ports"
)

const defaultMongoDatabase = "feesync"

// Repository is a sync ledger that owns its connection.
type Repository interface {
	ports.SyncLedger
	Migrate(ctx context.Context) error
	Close(ctx context.Context) error
}

// Opener builds a Repository for one DSN scheme.
type Opener func(ctx context.Context, dsn string) (Repository, error)

var openers = map[string]Opener{
	"postgres":    openPostgres,
	"postgresql":  openPostgres,
	"sqlite":      openSQLite,
	"mongodb":     openMongo,
	"mongodb+srv": openMongo,
	"memory":      openMemory,
	"mem":         openMemory,
}

// Open picks the backend from the DSN scheme.
func Open(ctx context.Context, dsn string) (Repository, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("sync ledger dsn is empty")
	}
	scheme, _, ok := strings.Cut(dsn, "://")
	if !ok {
		return nil, fmt.Errorf("sync ledger dsn %q has no scheme", redact(dsn))
	}
	opener, ok := openers[strings.ToLower(scheme)]
	if !ok {
		return nil, fmt.Errorf("unsupported sync ledger scheme: %s", scheme)
	}
	return opener(ctx, dsn)
}

func openPostgres(ctx context.Context, dsn string) (Repository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresRepository(db), nil
}

func openSQLite(ctx context.Context, dsn string) (Repository, error) {
	path := strings.TrimPrefix(dsn, "sqlite://")
	if path == "" {
		return nil, fmt.Errorf("sqlite dsn needs a file path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps the unique index check and :memory: databases consistent.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return NewSQLiteRepository(db), nil
}

func openMongo(ctx context.Context, dsn string) (Repository, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(dsn))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	database := defaultMongoDatabase
	if u, err := url.Parse(dsn); err == nil {
		if name := strings.Trim(u.Path, "/"); name != "" {
			database = name
		}
	}
	return NewMongoRepository(client, database), nil
}

func openMemory(context.Context, string) (Repository, error) {
	return NewMemoryRepository(), nil
}

func redact(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		return u.Redacted()
	}
	return dsn
}
