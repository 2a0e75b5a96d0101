package txn

import (
	"context"
	"log/slog"
	"slices"

	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/storage"
)

// Session is one caller's transaction state.
type Session struct {
	m *Manager

	depth    int
	unit     storage.Atomic
	snapshot int
	pending  map[string]struct{}
}

// Depth returns the nesting depth; zero means idle.
func (s *Session) Depth() int {
	return s.depth
}

// Active reports whether a transaction is open.
func (s *Session) Active() bool {
	return s.depth > 0
}

// Begin opens a transaction, or nests inside the open one. The outermost
// Begin acquires the storage lock, retrying while it is held elsewhere,
// and snapshots the global version.
func (s *Session) Begin(ctx context.Context) error {
	if s.depth > 0 {
		s.depth++
		return nil
	}

	var unit storage.Atomic
	err := s.m.withRetry(ctx, "begin", func() error {
		u, err := s.m.engine.BeginAtomic(ctx)
		if err != nil {
			return err
		}
		unit = u
		return nil
	})
	if err != nil {
		return err
	}

	ver, err := readVersion(ctx, unit)
	if err != nil {
		if rerr := unit.Rollback(ctx); rerr != nil {
			slog.Warn("rollback after failed begin", "error", rerr)
		}
		return err
	}

	s.unit = unit
	s.snapshot = ver
	s.pending = make(map[string]struct{})
	s.depth = 1
	slog.Debug("transaction begin", "version", ver)
	return nil
}

// End closes the innermost open transaction. Inner ends only unwind the
// depth. The outermost End commits when success is true and rolls back
// otherwise; a rollback is not reported as an error. A commit that fails
// is rolled back and its error returned.
func (s *Session) End(ctx context.Context, success bool) error {
	const op = "txn.end"
	if s.depth == 0 {
		return errs.New(errs.NoActiveTransaction, op, "end without begin")
	}
	s.depth--
	if s.depth > 0 {
		return nil
	}

	unit, pending, next := s.unit, s.pending, s.snapshot+1
	s.unit, s.pending = nil, nil

	if !success {
		s.rollback(ctx, unit)
		return nil
	}

	if _, err := unit.Execute(ctx, storage.Exec(writeVersionSQL, next)); err != nil {
		s.rollback(ctx, unit)
		return err
	}
	if err := s.m.withRetry(ctx, "commit", func() error { return unit.Commit(ctx) }); err != nil {
		s.rollback(ctx, unit)
		return err
	}

	s.m.metrics.Commit()
	slog.Debug("transaction commit", "version", next, "changed", len(pending))

	if s.m.notifier != nil && len(pending) > 0 {
		views := make([]string, 0, len(pending))
		for v := range pending {
			views = append(views, v)
		}
		slices.Sort(views)
		s.m.notifier.Flush(views)
	}
	return nil
}

func (s *Session) rollback(ctx context.Context, unit storage.Atomic) {
	if err := unit.Rollback(ctx); err != nil {
		slog.Warn("transaction rollback failed", "error", err)
	}
	s.m.metrics.Rollback()
	slog.Debug("transaction rollback", "version", s.snapshot)
}

// Abort rolls back an open transaction regardless of depth. It is a no-op
// when idle.
func (s *Session) Abort(ctx context.Context) {
	if s.depth == 0 {
		return
	}
	unit := s.unit
	s.depth, s.unit, s.pending = 0, nil, nil
	s.rollback(ctx, unit)
}

// NextVersion returns the version the open transaction publishes when it
// commits. Mutations stamp rows with it.
func (s *Session) NextVersion() (int, error) {
	if s.depth == 0 {
		return 0, errs.New(errs.NoActiveTransaction, "txn.next_version", "no open transaction")
	}
	return s.snapshot + 1, nil
}

// MarkChanged adds view to the views notified on commit. Repeated marks
// of a view coalesce.
func (s *Session) MarkChanged(view string) error {
	if s.depth == 0 {
		return errs.New(errs.NoActiveTransaction, "txn.mark_changed", "no open transaction")
	}
	s.pending[view] = struct{}{}
	return nil
}

// Executor returns the open atomic unit, or the engine when idle.
func (s *Session) Executor() storage.Executor {
	if s.unit != nil {
		return s.unit
	}
	return s.m.engine
}
