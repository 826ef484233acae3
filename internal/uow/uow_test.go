package uow

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	postgresrepo "github.com/kirinyoku/showbook/internal/repository/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	commitErr error
}

func (f fakeRunner) RunTx(ctx context.Context, _ *pgx.TxOptions, fn func(ctx context.Context, tx postgresrepo.DB) error) error {
	if err := fn(ctx, nil); err != nil {
		return err
	}
	return f.commitErr
}

func TestDoRunsHooksAfterCommit(t *testing.T) {
	u := NewUoW(fakeRunner{})

	var calls []string
	err := u.Do(context.Background(), func(ctx context.Context, tx postgresrepo.DB, after func(AfterCommit)) error {
		after(func(context.Context) { calls = append(calls, "invalidate") })
		after(func(context.Context) { calls = append(calls, "publish") })
		calls = append(calls, "body")
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"body", "invalidate", "publish"}, calls)
}

func TestDoSkipsHooksOnError(t *testing.T) {
	boom := errors.New("boom")

	for name, u := range map[string]*UoW{
		"body fails":   NewUoW(fakeRunner{}),
		"commit fails": NewUoW(fakeRunner{commitErr: boom}),
	} {
		t.Run(name, func(t *testing.T) {
			ran := false
			err := u.Do(context.Background(), func(ctx context.Context, tx postgresrepo.DB, after func(AfterCommit)) error {
				after(func(context.Context) { ran = true })
				if name == "body fails" {
					return boom
				}
				return nil
			})

			require.ErrorIs(t, err, boom)
			assert.False(t, ran)
		})
	}
}
