// Package notify delivers change notifications to subscribers after a
// transaction commits.
//
// The set of changed views is collected per transaction by the txn
// package; the hub only sees it when the outermost transaction commits
// and calls Flush. Subscriptions are identified by handles, never by
// callback identity, so a subscriber may unsubscribe itself or others
// from inside a callback.
package notify

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/metrics"
)

// Wildcard subscribes to every view and to status notifications.
const Wildcard = "*"

// StatusChanged is the status delivered with ordinary change
// notifications.
const StatusChanged = 0

// Callback receives the name of a changed view and a status code.
type Callback func(view string, status int)

// Handle identifies a subscription.
type Handle uint64

// Channel is the cross-process delivery channel. It is opened with the
// first subscription and closed when the last one is removed.
type Channel interface {
	Open() error
	Close() error
}

type slot struct {
	view string
	cb   Callback
}

// Hub is the process-wide subscriber registry.
type Hub struct {
	mu      sync.Mutex
	slots   map[Handle]slot
	next    Handle
	channel Channel
	open    bool
	metrics *metrics.Metrics
}

// Option configures a Hub.
type Option func(*Hub)

// WithChannel sets the cross-process channel.
func WithChannel(c Channel) Option {
	return func(h *Hub) { h.channel = c }
}

// WithMetrics records deliveries and subscriber panics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// New creates an empty hub.
func New(opts ...Option) *Hub {
	h := &Hub{slots: make(map[Handle]slot)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers cb for view, or for every view with Wildcard.
func (h *Hub) Subscribe(view string, cb Callback) (Handle, error) {
	const op = "notify.subscribe"
	if view == "" || cb == nil {
		return 0, errs.New(errs.InvalidArgument, op, "subscription needs a view and a callback")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.open && h.channel != nil {
		if err := h.channel.Open(); err != nil {
			return 0, errs.Wrap(errs.Io, op, fmt.Errorf("open channel: %w", err))
		}
	}
	h.open = true
	h.next++
	h.slots[h.next] = slot{view: view, cb: cb}
	return h.next, nil
}

// Unsubscribe removes the subscription h of view.
func (h *Hub) Unsubscribe(view string, handle Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.slots[handle]
	if !ok || s.view != view {
		return errs.New(errs.NotFound, "notify.unsubscribe", "no subscription %d for view %q", handle, view)
	}
	delete(h.slots, handle)
	if len(h.slots) == 0 {
		h.closeChannel()
	}
	return nil
}

// Subscribers returns the number of subscriptions for view, not counting
// wildcard ones.
func (h *Hub) Subscribers(view string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, s := range h.slots {
		if s.view == view {
			n++
		}
	}
	return n
}

// Open reports whether the cross-process channel is open.
func (h *Hub) Open() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.open
}

// Close drops every subscription and closes the channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.slots)
	h.closeChannel()
}

func (h *Hub) closeChannel() {
	if !h.open {
		return
	}
	h.open = false
	if h.channel != nil {
		if err := h.channel.Close(); err != nil {
			slog.Warn("notify channel close failed", "error", err)
		}
	}
}

type target struct {
	handle Handle
	slot
}

// snapshot returns the subscriptions in registration order.
func (h *Hub) snapshot() []target {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]target, 0, len(h.slots))
	for hd, s := range h.slots {
		out = append(out, target{handle: hd, slot: s})
	}
	slices.SortFunc(out, func(a, b target) int { return cmp.Compare(a.handle, b.handle) })
	return out
}

func (h *Hub) alive(handle Handle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.slots[handle]
	return ok
}

// Flush notifies the subscribers of each distinct view once, plus every
// wildcard subscriber once per view. Subscriptions removed during the
// flush are not called afterwards; ones added during it wait for the next
// flush.
func (h *Hub) Flush(views []string) {
	if len(views) == 0 {
		return
	}
	distinct := slices.Clone(views)
	slices.Sort(distinct)
	distinct = slices.Compact(distinct)

	subs := h.snapshot()
	for _, v := range distinct {
		for _, t := range subs {
			if t.view != v && t.view != Wildcard {
				continue
			}
			if !h.alive(t.handle) {
				continue
			}
			h.deliver(t, v, StatusChanged)
		}
	}
}

// NotifyStatus delivers status to every wildcard subscriber.
func (h *Hub) NotifyStatus(status int) {
	for _, t := range h.snapshot() {
		if t.view == Wildcard && h.alive(t.handle) {
			h.deliver(t, Wildcard, status)
		}
	}
}

func (h *Hub) deliver(t target, view string, status int) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("subscriber panicked", "view", view, "handle", t.handle, "panic", r)
			h.metrics.SubscriberPanic()
		}
	}()
	t.cb(view, status)
	h.metrics.Notified(view)
}
