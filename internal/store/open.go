package store

import (
	"context"
	"fmt"
	"strings"
)

// Store drivers accepted by Open.
const (
	DriverLibSQL   = "libsql"
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

// Options selects and locates a store.
type Options struct {
	Driver string
	// Path is the database file for libsql and the directory for file.
	Path string
	// DSN is the connection string for postgres.
	DSN string
}

// Open creates the store described by opts and runs its migrations.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		s   Store
		err error
	)
	switch strings.ToLower(opts.Driver) {
	case "", DriverLibSQL:
		path := opts.Path
		if !strings.HasPrefix(path, "file:") && !strings.Contains(path, "://") {
			path = "file:" + path
		}
		s, err = NewLibSQLStore(path)
	case DriverFile:
		s, err = NewFileStore(opts.Path)
	case DriverPostgres:
		s, err = NewPostgresStore(ctx, opts.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate %s store: %w", opts.Driver, err)
	}
	return s, nil
}
