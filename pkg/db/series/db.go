package series

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/statelens/statelens/pkg/db/clickhouse"
	"github.com/statelens/statelens/pkg/network"
)

// DB is the per-network series database: the balance_series table plus the
// raw block-stream tables it derives active addresses and closing blocks
// from. Each network owns an independent DB (and connection); nothing is
// shared across networks.
type DB struct {
	clickhouse.Client
	Name    string
	Network *network.Network
}

// New creates and initializes the series database for a network.
func New(ctx context.Context, logger *zap.Logger, net *network.Network) (*DB, error) {
	dbName := clickhouse.SanitizeName(fmt.Sprintf("statelens_%s", net.Name))

	client, err := clickhouse.New(ctx, logger.With(
		zap.String("db", dbName),
		zap.String("network", net.Name),
	), dbName)
	if err != nil {
		return nil, err
	}

	db := &DB{
		Client:  client,
		Name:    dbName,
		Network: net,
	}

	if err := db.InitializeDB(ctx); err != nil {
		return nil, err
	}

	return db, nil
}

// Close terminates the underlying ClickHouse connection.
func (db *DB) Close() error {
	return db.Db.Close()
}

// InitializeDB ensures the database and tables exist. Table creation runs in
// parallel; the statements are all IF NOT EXISTS so startup is idempotent.
func (db *DB) InitializeDB(ctx context.Context) error {
	if err := db.CreateDbIfNotExists(ctx, db.Name); err != nil {
		return fmt.Errorf("failed to create database %s: %w", db.Name, err)
	}

	initOps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"balance_series", db.initBalanceSeries},
		{"blocks", db.initBlocks},
		{"transactions", db.initTransactions},
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(initOps))

	for _, op := range initOps {
		wg.Add(1)
		go func(name string, fn func(context.Context) error) {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				errChan <- fmt.Errorf("init %s: %w", name, err)
			}
		}(op.name, op.fn)
	}

	wg.Wait()
	close(errChan)

	for err := range errChan {
		return err
	}

	db.Logger.Info("Series database initialization complete",
		zap.String("database", db.Name))

	return nil
}
