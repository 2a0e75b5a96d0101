// Package access caches per-caller permissions.
//
// Each connected caller has an entry holding its capability bitset and
// the set of address books it may write. Check and MayWrite are pure
// lookups; storage is only read by Add, Refresh and RefreshAll, which
// callers invoke when address-book ownership or mode changes.
package access

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/metrics"
	"github.com/roach88/contactsd/internal/record"
	"github.com/roach88/contactsd/internal/schema"
	"github.com/roach88/contactsd/internal/storage"
)

// Caller identifies one connected client.
type Caller struct {
	// ID is unique per connection.
	ID string
	// Label is the security principal the oracle and address-book owners
	// refer to.
	Label string
}

// Book is the access-relevant metadata of an address book.
type Book struct {
	ID    int
	Owner string
	Mode  int
}

// BookSource lists address books.
type BookSource interface {
	AddressBooks(ctx context.Context) ([]Book, error)
}

// StorageBooks reads address books through a storage executor.
type StorageBooks struct {
	Executor storage.Executor
}

// AddressBooks implements BookSource.
func (s StorageBooks) AddressBooks(ctx context.Context) ([]Book, error) {
	res, err := s.Executor.Execute(ctx, storage.Query("SELECT id, owner, mode FROM address_books ORDER BY id"))
	if err != nil {
		return nil, fmt.Errorf("list address books: %w", err)
	}
	books := make([]Book, 0, len(res.Rows))
	for _, row := range res.Rows {
		id, err := record.FromAny(schema.TypeInt, row[0])
		if err != nil {
			return nil, errs.Wrap(errs.Io, "access.address_books", err)
		}
		owner, _ := row[1].(string)
		mode, err := record.FromAny(schema.TypeInt, row[2])
		if err != nil {
			return nil, errs.Wrap(errs.Io, "access.address_books", err)
		}
		b := Book{Owner: owner}
		if id != nil {
			b.ID = int(id.(record.Int))
		}
		if mode != nil {
			b.Mode = int(mode.(record.Int))
		}
		books = append(books, b)
	}
	return books, nil
}

type entry struct {
	label    string
	caps     Capability
	writable map[int]struct{}
	release  func()
}

// Cache holds the entries of connected callers. It is safe for concurrent
// use.
type Cache struct {
	oracle  Oracle
	books   BookSource
	admin   string
	metrics *metrics.Metrics

	mu      sync.RWMutex
	entries map[string]*entry
}

// Option configures a Cache.
type Option func(*Cache)

// WithAdmin names the administrative principal, which may write every
// address book.
func WithAdmin(label string) Option {
	return func(c *Cache) { c.admin = label }
}

// WithMetrics counts refused checks on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// NewCache creates an empty cache.
func NewCache(oracle Oracle, books BookSource, opts ...Option) *Cache {
	c := &Cache{
		oracle:  oracle,
		books:   books,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add computes and caches the entry of caller. release, if not nil, runs
// when the entry is removed.
func (c *Cache) Add(ctx context.Context, caller Caller, release func()) error {
	const op = "access.add"
	if caller.ID == "" {
		return errs.New(errs.InvalidArgument, op, "caller without id")
	}
	c.mu.RLock()
	_, exists := c.entries[caller.ID]
	c.mu.RUnlock()
	if exists {
		return errs.New(errs.AlreadyExists, op, "caller %q already registered", caller.ID)
	}

	caps, err := c.oracle.Capabilities(ctx, caller.Label)
	if err != nil {
		return errs.Wrap(errs.Io, op, err)
	}
	books, err := c.books.AddressBooks(ctx)
	if err != nil {
		return err
	}

	e := &entry{
		label:    caller.Label,
		caps:     caps,
		writable: c.writableSet(caller.Label, books),
		release:  release,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[caller.ID]; exists {
		return errs.New(errs.AlreadyExists, op, "caller %q already registered", caller.ID)
	}
	c.entries[caller.ID] = e
	slog.Debug("access entry added", "caller", caller.ID, "label", caller.Label, "caps", caps, "writable", len(e.writable))
	return nil
}

func (c *Cache) writableSet(label string, books []Book) map[int]struct{} {
	set := make(map[int]struct{})
	for _, b := range books {
		if (c.admin != "" && label == c.admin) || b.Owner == label || b.Mode == schema.ModeNone {
			set[b.ID] = struct{}{}
		}
	}
	return set
}

// Check reports whether caller holds cap. Unknown callers hold nothing.
func (c *Cache) Check(callerID string, cap Capability) bool {
	c.mu.RLock()
	e, ok := c.entries[callerID]
	c.mu.RUnlock()
	if ok && e.caps.Has(cap) {
		return true
	}
	c.metrics.Denied(cap.String())
	return false
}

// MayWrite reports whether caller may write address book ab. It fails
// closed for unknown callers.
func (c *Cache) MayWrite(callerID string, ab int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[callerID]
	if !ok {
		return false
	}
	_, ok = e.writable[ab]
	return ok
}

// Capabilities returns the cached capabilities of caller.
func (c *Cache) Capabilities(callerID string) (Capability, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[callerID]
	if !ok {
		return 0, false
	}
	return e.caps, true
}

// Refresh recomputes the writable address books of caller.
func (c *Cache) Refresh(ctx context.Context, callerID string) error {
	c.mu.RLock()
	e, ok := c.entries[callerID]
	c.mu.RUnlock()
	if !ok {
		return errs.New(errs.NotFound, "access.refresh", "caller %q not registered", callerID)
	}

	books, err := c.books.AddressBooks(ctx)
	if err != nil {
		return err
	}
	set := c.writableSet(e.label, books)

	c.mu.Lock()
	e.writable = set
	c.mu.Unlock()
	return nil
}

// RefreshAll recomputes the writable address books of every caller from
// a single scan.
func (c *Cache) RefreshAll(ctx context.Context) error {
	books, err := c.books.AddressBooks(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		e.writable = c.writableSet(e.label, books)
	}
	slog.Info("access cache refreshed", "callers", len(c.entries), "address_books", len(books))
	return nil
}

// Remove drops the entry of caller and runs its release function.
func (c *Cache) Remove(callerID string) {
	c.mu.Lock()
	e, ok := c.entries[callerID]
	delete(c.entries, callerID)
	c.mu.Unlock()
	if ok && e.release != nil {
		e.release()
	}
}

// Len returns the number of cached callers.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
