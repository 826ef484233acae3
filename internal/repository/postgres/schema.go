package postgresrepo

import (
	"context"
	_ "embed"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	const op = "postgresrepo.Store.Migrate"

	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}
