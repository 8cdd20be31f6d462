// Package store provides the Data Access Layer (Repository) for project
// datafiles. It handles all direct interactions with the PostgreSQL database
// using the pgx driver.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time check to verify that PostgresStore implements DatafileRepository.
// If the interface changes and the struct doesn't, the build fails here.
var _ DatafileRepository = (*PostgresStore)(nil)

// ErrDatafileNotFound is returned when no datafile exists for an SDK key.
var ErrDatafileNotFound = errors.New("datafile not found")

// Datafile represents the database schema for a stored project datafile.
// It mirrors the 'datafiles' table structure.
type Datafile struct {
	SDKKey    string    `db:"sdk_key"`
	Revision  string    `db:"revision"`
	Content   []byte    `db:"content"`
	UpdatedAt time.Time `db:"updated_at"`
}

// DatafileRepository defines the interface for datafile persistence operations.
// Using an interface allows for dependency injection and easier mocking in tests.
type DatafileRepository interface {
	// GetDatafile retrieves the datafile stored under the given SDK key.
	// Returns ErrDatafileNotFound when the key is unknown.
	GetDatafile(ctx context.Context, sdkKey string) (*Datafile, error)
}

// PostgresStore is the implementation of DatafileRepository backed by PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new repository instance with the given connection pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &PostgresStore{db: db}
}

// GetDatafile fetches a single datafile row by SDK key.
func (s *PostgresStore) GetDatafile(ctx context.Context, sdkKey string) (*Datafile, error) {
	query := `
		SELECT sdk_key, revision, content, updated_at
		FROM datafiles
		WHERE sdk_key = $1
	`

	var df Datafile
	err := s.db.QueryRow(ctx, query, sdkKey).Scan(
		&df.SDKKey,
		&df.Revision,
		&df.Content,
		&df.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDatafileNotFound
		}
		return nil, fmt.Errorf("failed to fetch datafile: %w", err)
	}

	return &df, nil
}
