package postgres

import (
	"context"
	stdsql "database/sql"

	"github.com/edge-tutor/node/pkg/edgeerr"
	"github.com/edge-tutor/node/pkg/ports"
)

// sqlTx adapts *sql.Tx to ports.Tx.
type sqlTx struct {
	tx *stdsql.Tx
}

func (t *sqlTx) Commit() error   { return t.tx.Commit() }
func (t *sqlTx) Rollback() error { return t.tx.Rollback() }

// Begin implements ports.RelationalStorePort.
func (s *Store) Begin(ctx context.Context) (ports.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, edgeerr.Wrap(edgeerr.DependencyUnavailable, "beginning transaction", err)
	}
	return &sqlTx{tx: tx}, nil
}

// underlying unwraps a ports.Tx back to *sql.Tx for use in this package's
// query methods. Every ports.Tx reaching this package was created by Begin
// above, so the assertion always succeeds; a mismatched Tx is a caller bug.
func underlying(tx ports.Tx) *stdsql.Tx {
	return tx.(*sqlTx).tx
}
