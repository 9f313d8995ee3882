package store

import (
	"context"
	"strings"
)

// Backend constructors are registered by the postgres/sqlite subpackages via
// RegisterPostgres/RegisterSqlite to avoid a store -> store/postgres ->
// store import cycle (both subpackages import store for the Store
// interface and model types).
type BackendFactory func(ctx context.Context, databaseURL, path string, maxConns, minConns int) (Store, error)

var (
	postgresFactory BackendFactory
	sqliteFactory   BackendFactory
)

// RegisterPostgres is called from store/postgres's init to install itself
// as the postgres:// backend factory.
func RegisterPostgres(f BackendFactory) { postgresFactory = f }

// RegisterSqlite is called from store/sqlite's init to install itself as
// the sqlite:// (and default) backend factory.
func RegisterSqlite(f BackendFactory) { sqliteFactory = f }

// ProvideParams mirrors config.DatabaseConfig's fields the provider needs,
// kept local to store to avoid importing internal/common/config (which
// would otherwise be the only reason this package needed it).
type ProvideParams struct {
	URL      string
	Path     string
	MaxConns int
	MinConns int
}

// Provide selects the Postgres or sqlite backend by the DATABASE_URL
// scheme, mirroring the event-bus Provide() selection pattern used
// elsewhere in this codebase for NATS vs. in-memory.
func Provide(ctx context.Context, p ProvideParams) (Store, error) {
	if strings.HasPrefix(p.URL, "postgres://") || strings.HasPrefix(p.URL, "postgresql://") {
		return postgresFactory(ctx, p.URL, p.Path, p.MaxConns, p.MinConns)
	}
	return sqliteFactory(ctx, p.URL, p.Path, p.MaxConns, p.MinConns)
}
