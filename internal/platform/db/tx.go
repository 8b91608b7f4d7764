package db

import (
	"context"

	"github.com/jackc/pgx/v5"
)

const txKey contextKey = "db_tx"

// WithTx returns a context carrying tx. Repositories prefer it over the
// site connection and the pool.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey).(pgx.Tx)
	return tx
}
