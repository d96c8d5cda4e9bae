package db

import (
	"context"
	"database/sql"
	"time"
)

// Database defines the unified interface for relational database access.
// This abstraction keeps repositories independent from the concrete driver
// and makes transactions explicit at call sites.
type Database interface {
	Querier

	// Transaction executes fn within a transaction. The transaction is
	// committed when fn returns nil and rolled back otherwise.
	Transaction(ctx context.Context, fn func(tx Transaction) error) error

	// BeginTx starts a new transaction with the given options.
	BeginTx(ctx context.Context, opts *TxOptions) (Transaction, error)

	// Ping verifies a connection to the database is still alive.
	Ping(ctx context.Context) error

	// Close closes the database connection pool.
	Close() error

	// Stats returns connection pool statistics.
	Stats() Stats
}

// Transaction represents an in-flight database transaction.
type Transaction interface {
	Querier

	Commit() error
	Rollback() error
}

// Rows is the result of a query returning multiple rows.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Row is the result of a query returning at most one row.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result summarizes an executed statement.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}

// TxOptions holds transaction options.
type TxOptions struct {
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

// ConvertTxOptions maps TxOptions to database/sql options.
func ConvertTxOptions(opts *TxOptions) *sql.TxOptions {
	if opts == nil {
		return nil
	}
	return &sql.TxOptions{
		Isolation: opts.Isolation,
		ReadOnly:  opts.ReadOnly,
	}
}

// Stats describes connection pool state.
type Stats struct {
	OpenConnections int
	InUse           int
	Idle            int
	WaitCount       int64
	WaitDuration    time.Duration
}

// ConvertSQLStats maps database/sql stats to Stats.
func ConvertSQLStats(s sql.DBStats) Stats {
	return Stats{
		OpenConnections: s.OpenConnections,
		InUse:           s.InUse,
		Idle:            s.Idle,
		WaitCount:       s.WaitCount,
		WaitDuration:    s.WaitDuration,
	}
}
