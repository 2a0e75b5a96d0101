// Package txn implements nestable transactions with a global change
// version.
//
// A Session carries one caller's transaction state: nesting depth, the
// open storage atomic unit, the version snapshot and the set of views
// changed so far. Only the outermost Begin and End touch storage. A
// successful outermost End advances the global version by exactly one and
// flushes the changed views to the notifier; a failed one rolls back and
// drops them.
//
// Sessions are not safe for concurrent use. Each caller owns one and
// drives it from one goroutine at a time. Sessions of different callers
// serialize on the storage engine's lock.
package txn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/metrics"
	"github.com/roach88/contactsd/internal/record"
	"github.com/roach88/contactsd/internal/schema"
	"github.com/roach88/contactsd/internal/storage"
)

const (
	readVersionSQL  = "SELECT ver FROM contacts_version WHERE id = 1"
	writeVersionSQL = "UPDATE contacts_version SET ver = ? WHERE id = 1"
)

// Notifier receives the views changed by a committed transaction.
type Notifier interface {
	Flush(views []string)
}

// RetryPolicy bounds the exponential backoff applied when the storage
// lock is held by someone else.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts   int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultRetry waits 10ms, 20ms, 40ms, 80ms, 160ms between six attempts.
func DefaultRetry() RetryPolicy {
	return RetryPolicy{
		Attempts:   6,
		Initial:    10 * time.Millisecond,
		Max:        320 * time.Millisecond,
		Multiplier: 2,
	}
}

// Manager creates sessions over one storage engine.
type Manager struct {
	engine   storage.Engine
	notifier Notifier
	retry    RetryPolicy
	metrics  *metrics.Metrics
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetry replaces the default retry policy.
func WithRetry(p RetryPolicy) Option {
	return func(m *Manager) {
		if p.Attempts < 1 {
			p.Attempts = 1
		}
		if p.Multiplier < 1 {
			p.Multiplier = 1
		}
		m.retry = p
	}
}

// WithMetrics records commits, rollbacks and lock retries on mt.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// New creates a manager. notifier may be nil.
func New(engine storage.Engine, notifier Notifier, opts ...Option) *Manager {
	m := &Manager{
		engine:   engine,
		notifier: notifier,
		retry:    DefaultRetry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Session returns a new idle session.
func (m *Manager) Session() *Session {
	return &Session{m: m}
}

// Engine returns the storage engine.
func (m *Manager) Engine() storage.Engine {
	return m.engine
}

// Version returns the last committed global version.
func (m *Manager) Version(ctx context.Context) (int, error) {
	return readVersion(ctx, m.engine)
}

func readVersion(ctx context.Context, ex storage.Executor) (int, error) {
	res, err := ex.Execute(ctx, storage.Query(readVersionSQL))
	if err != nil {
		return 0, fmt.Errorf("read version: %w", err)
	}
	if len(res.Rows) != 1 {
		return 0, errs.New(errs.Io, "txn.read_version", "version row missing")
	}
	v, err := record.FromAny(schema.TypeInt, res.Rows[0][0])
	if err != nil || v == nil {
		return 0, errs.New(errs.Io, "txn.read_version", "bad version value %v", res.Rows[0][0])
	}
	return int(v.(record.Int)), nil
}

// withRetry runs fn until it succeeds, fails with a non-transient error,
// or the attempt budget is spent. The last case reports Locked.
func (m *Manager) withRetry(ctx context.Context, phase string, fn func() error) error {
	delay := m.retry.Initial
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !m.engine.Transient(err) {
			return err
		}
		if attempt >= m.retry.Attempts {
			m.metrics.LockFailure(phase)
			return errs.Wrap(errs.Locked, "txn."+phase, fmt.Errorf("gave up after %d attempts: %w", attempt, err))
		}

		m.metrics.Retry(phase)
		slog.Warn("storage locked, retrying", "phase", phase, "attempt", attempt, "delay", delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return errs.Wrap(errs.Locked, "txn."+phase, ctx.Err())
		case <-t.C:
		}
		delay = min(time.Duration(float64(delay)*m.retry.Multiplier), m.retry.Max)
	}
}
