package uow

import (
	"context"

	"github.com/jackc/pgx/v5"
	postgresrepo "github.com/kirinyoku/showbook/internal/repository/postgres"
)

// AfterCommit runs once the transaction has committed.
type AfterCommit func(ctx context.Context)

// TxRunner runs fn inside a database transaction.
type TxRunner interface {
	RunTx(ctx context.Context, opts *pgx.TxOptions, fn func(ctx context.Context, tx postgresrepo.DB) error) error
}

// UoW groups repository calls into one transaction and defers side effects
// such as cache invalidation until after the commit.
type UoW struct {
	runner TxRunner
}

func NewUoW(runner TxRunner) *UoW {
	return &UoW{runner: runner}
}

// Do runs fn inside a serializable transaction. Hooks registered through
// after run in order once the commit succeeds and are dropped otherwise.
func (u *UoW) Do(
	ctx context.Context,
	fn func(ctx context.Context, tx postgresrepo.DB, after func(AfterCommit)) error,
) error {
	return u.DoWithOpts(ctx, nil, fn)
}

func (u *UoW) DoWithOpts(
	ctx context.Context,
	opts *pgx.TxOptions,
	fn func(ctx context.Context, tx postgresrepo.DB, after func(AfterCommit)) error,
) error {
	var hooks []AfterCommit

	err := u.runner.RunTx(ctx, opts, func(ctx context.Context, tx postgresrepo.DB) error {
		hooks = hooks[:0]
		return fn(ctx, tx, func(h AfterCommit) {
			hooks = append(hooks, h)
		})
	})
	if err != nil {
		return err
	}

	for _, h := range hooks {
		h(ctx)
	}

	return nil
}
