// Package runstore selects and re-exports run persistence backends so call
// sites depend on the engine interface instead of concrete implementations.
package runstore

import (
	"fmt"
	"os"

	"reducore/internal/core"
	"reducore/internal/infra/persistence/memory"
	"reducore/internal/infra/persistence/postgres"
	"reducore/internal/infra/persistence/sqlite"
)

// Driver identifies a concrete run store implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-memory only (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

type (
	// Store aliases the engine-side persistence interface.
	Store = core.RunStore
	// Record aliases the persisted run snapshot.
	Record = core.RunRecord
)

// NewMemory returns an in-memory run store suitable for tests.
func NewMemory() Store { return memory.NewStore() }

// NewSQLite returns a run store persisted to the SQLite file at path.
func NewSQLite(path string) (Store, error) { return sqlite.NewStore(path) }

// NewPostgres returns a run store backed by the Postgres server at dsn.
func NewPostgres(dsn string) (Store, error) { return postgres.NewStore(dsn) }

// Open selects a backend using environment variables. Defaults to sqlite
// when unset.
//
//	REDUCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	REDUCORE_SQLITE_PATH: path to sqlite file (default ./reducore.db)
//	REDUCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func Open() (Store, error) {
	driver := os.Getenv("REDUCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(DriverSQLite)
	}
	switch Driver(driver) {
	case DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		return NewSQLite(os.Getenv("REDUCORE_SQLITE_PATH"))
	case DriverPostgres:
		return NewPostgres(os.Getenv("REDUCORE_POSTGRES_DSN"))
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
