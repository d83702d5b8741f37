package graphorm

import (
	"context"
)

// Transaction executes fn within a transaction on s. The transaction is
// rolled back when fn returns an error or panics and committed otherwise.
// Called inside an open transaction, fn joins it.
func (s *Session) Transaction(ctx context.Context, fn func(s *Session) error) error {
	return s.inTx(ctx, func() error { return fn(s) })
}

// InTransaction reports whether the session has an open transaction.
func (s *Session) InTransaction() bool {
	return s.tx != nil
}

// inTx runs fn in the session transaction. Only the outermost call begins
// and commits; nested calls run fn directly.
func (s *Session) inTx(ctx context.Context, fn func() error) (err error) {
	if s.tx != nil {
		return fn()
	}

	db, err := s.conn.DB(ctx)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "graphorm: begin")
	s.tx = tx

	defer func() {
		s.tx = nil
		if p := recover(); p != nil {
			_ = tx.Rollback()
			s.logger.DebugContext(ctx, "graphorm: rollback", "panic", p)
			panic(p)
		}
	}()

	if err := fn(); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.WarnContext(ctx, "graphorm: rollback failed", "error", rbErr)
		} else {
			s.logger.DebugContext(ctx, "graphorm: rollback", "error", err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "graphorm: commit")
	return nil
}
