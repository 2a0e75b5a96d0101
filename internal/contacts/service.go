// Package contacts is the entry point of the contacts engine: it wires
// the view registry, record factory, query runner, transaction manager,
// notification hub and access cache over one SQLite store, and serves
// callers through per-caller connections.
package contacts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/contactsd/internal/access"
	"github.com/roach88/contactsd/internal/metrics"
	"github.com/roach88/contactsd/internal/notify"
	"github.com/roach88/contactsd/internal/query"
	"github.com/roach88/contactsd/internal/record"
	"github.com/roach88/contactsd/internal/schema"
	"github.com/roach88/contactsd/internal/storage"
	"github.com/roach88/contactsd/internal/store"
	"github.com/roach88/contactsd/internal/txn"
)

// Service holds the process-wide engine state. It is safe for concurrent
// use; the connections it hands out are not.
type Service struct {
	store   *store.Store
	reg     *schema.Registry
	factory *record.Factory
	runner  *query.Runner
	txns    *txn.Manager
	hub     *notify.Hub
	acl     *access.Cache
	tables  map[string]table
	metrics *metrics.Metrics
}

type options struct {
	views   []*schema.View
	oracle  access.Oracle
	admin   string
	retry   *txn.RetryPolicy
	metrics *metrics.Metrics
	channel notify.Channel
	wrap    func(storage.Engine) storage.Engine
	now     func() time.Time
}

// Option configures New.
type Option func(*options)

// WithViews registers extra views, typically loaded from CUE. Their
// tables are created on New.
func WithViews(views ...*schema.View) Option {
	return func(o *options) { o.views = append(o.views, views...) }
}

// WithOracle sets the capability oracle. The default grants every
// capability to every caller.
func WithOracle(oracle access.Oracle) Option {
	return func(o *options) { o.oracle = oracle }
}

// WithAdmin names the administrative principal.
func WithAdmin(label string) Option {
	return func(o *options) { o.admin = label }
}

// WithRetry sets the storage lock retry policy.
func WithRetry(p txn.RetryPolicy) Option {
	return func(o *options) { o.retry = &p }
}

// WithMetrics records engine metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithChannel sets the cross-process notification channel.
func WithChannel(c notify.Channel) Option {
	return func(o *options) { o.channel = c }
}

// WithEngineWrapper routes every statement the service issues through
// wrap(store), for tracing or fault injection.
func WithEngineWrapper(wrap func(storage.Engine) storage.Engine) Option {
	return func(o *options) { o.wrap = wrap }
}

// WithClock sets the time source for timestamps the engine fills in.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

type allowAll struct{}

func (allowAll) Capabilities(context.Context, string) (access.Capability, error) {
	return access.All, nil
}

// New creates a service over st.
func New(ctx context.Context, st *store.Store, opts ...Option) (*Service, error) {
	o := options{oracle: allowAll{}, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	reg, err := schema.Builtin().Merge(o.views...)
	if err != nil {
		return nil, fmt.Errorf("register views: %w", err)
	}
	if err := st.EnsureTables(ctx, o.views...); err != nil {
		return nil, err
	}

	factory := record.NewFactory(reg)
	tables := builtinTables(o.now)
	for _, v := range o.views {
		tables[v.Name] = customTable()
	}
	for name, t := range tables {
		if t.plugin != nil {
			if err := factory.Register(name, t.plugin); err != nil {
				return nil, err
			}
		}
	}

	var engine storage.Engine = st
	if o.wrap != nil {
		engine = o.wrap(engine)
	}

	hub := notify.New(notify.WithMetrics(o.metrics), notify.WithChannel(o.channel))
	txnOpts := []txn.Option{txn.WithMetrics(o.metrics)}
	if o.retry != nil {
		txnOpts = append(txnOpts, txn.WithRetry(*o.retry))
	}

	aclOpts := []access.Option{access.WithMetrics(o.metrics)}
	if o.admin != "" {
		aclOpts = append(aclOpts, access.WithAdmin(o.admin))
	}

	return &Service{
		store:   st,
		reg:     reg,
		factory: factory,
		runner:  query.NewRunner(factory),
		txns:    txn.New(engine, hub, txnOpts...),
		hub:     hub,
		acl:     access.NewCache(o.oracle, access.StorageBooks{Executor: engine}, aclOpts...),
		tables:  tables,
		metrics: o.metrics,
	}, nil
}

// Registry returns the view registry.
func (s *Service) Registry() *schema.Registry {
	return s.reg
}

// Factory returns the record factory.
func (s *Service) Factory() *record.Factory {
	return s.factory
}

// Hub returns the notification hub.
func (s *Service) Hub() *notify.Hub {
	return s.hub
}

// Access returns the access cache.
func (s *Service) Access() *access.Cache {
	return s.acl
}

// Version returns the last committed change version.
func (s *Service) Version(ctx context.Context) (int, error) {
	return s.txns.Version(ctx)
}

// NewRecord returns an empty record of the named view.
func (s *Service) NewRecord(view string) (*record.Record, error) {
	return s.factory.Create(view)
}

// Connect registers a caller with the given security label and returns
// its connection.
func (s *Service) Connect(ctx context.Context, label string) (*Conn, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("connection id: %w", err)
	}
	c := &Conn{
		svc:     s,
		caller:  access.Caller{ID: id.String(), Label: label},
		session: s.txns.Session(),
		log:     slog.With("conn", id.String(), "label", label),
	}
	if err := s.acl.Add(ctx, c.caller, c.release); err != nil {
		return nil, err
	}
	c.log.Debug("caller connected")
	return c, nil
}

// Close drops every subscription and closes the notification channel.
// Open connections must be closed first.
func (s *Service) Close() {
	s.hub.Close()
}
