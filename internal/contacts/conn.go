package contacts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/contactsd/internal/access"
	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/notify"
	"github.com/roach88/contactsd/internal/schema"
	"github.com/roach88/contactsd/internal/storage"
	"github.com/roach88/contactsd/internal/txn"
)

// Conn is one caller's connection. It owns the caller's transaction
// session and must not be used from more than one goroutine at a time.
//
// Every mutating call checks access first, then runs inside the caller's
// open transaction or, when none is open, inside its own.
type Conn struct {
	svc     *Service
	caller  access.Caller
	session *txn.Session
	log     *slog.Logger

	// aclDirty is set when the open transaction touched address books.
	aclDirty bool
	subs     []subscription
	closed   bool
}

type subscription struct {
	view   string
	handle notify.Handle
}

// ID returns the connection ID.
func (c *Conn) ID() string {
	return c.caller.ID
}

// Label returns the caller's security label.
func (c *Conn) Label() string {
	return c.caller.Label
}

// Begin opens a transaction or nests inside the open one.
func (c *Conn) Begin(ctx context.Context) error {
	if c.closed {
		return errs.New(errs.InvalidState, "contacts.begin", "connection closed")
	}
	return c.session.Begin(ctx)
}

// End closes the innermost transaction; see txn.Session.End. After an
// outermost commit that changed address books, the writable sets of all
// connected callers are recomputed.
func (c *Conn) End(ctx context.Context, success bool) error {
	err := c.session.End(ctx, success)
	if c.session.Active() {
		return err
	}
	dirty := c.aclDirty
	c.aclDirty = false
	if err != nil {
		return err
	}
	if success && dirty {
		if err := c.svc.acl.RefreshAll(ctx); err != nil {
			c.log.Warn("access refresh after commit failed", "error", err)
		}
	}
	return nil
}

// Version returns the last committed change version.
func (c *Conn) Version(ctx context.Context) (int, error) {
	return c.svc.txns.Version(ctx)
}

// InTransaction reports whether the connection has an open transaction.
func (c *Conn) InTransaction() bool {
	return c.session.Active()
}

// atomically runs fn in a transaction. Inside an already open
// transaction fn runs under a savepoint, so a failing operation leaves no
// partial writes behind even if the caller later commits.
func (c *Conn) atomically(ctx context.Context, op string, fn func(ex storage.Executor, version int) error) error {
	nested := c.session.Active()
	if err := c.Begin(ctx); err != nil {
		return err
	}
	ex := c.session.Executor()
	version, err := c.session.NextVersion()
	if err != nil {
		_ = c.End(ctx, false)
		return err
	}

	if nested {
		if _, err := ex.Execute(ctx, storage.Exec("SAVEPOINT contacts_op")); err != nil {
			_ = c.End(ctx, false)
			return err
		}
	}

	if err := fn(ex, version); err != nil {
		if nested {
			if _, rerr := ex.Execute(ctx, storage.Exec("ROLLBACK TO contacts_op")); rerr != nil {
				c.log.Warn("savepoint rollback failed", "op", op, "error", rerr)
			}
			_, _ = ex.Execute(ctx, storage.Exec("RELEASE contacts_op"))
		}
		_ = c.End(ctx, false)
		return err
	}

	if nested {
		if _, err := ex.Execute(ctx, storage.Exec("RELEASE contacts_op")); err != nil {
			_ = c.End(ctx, false)
			return err
		}
	}
	return c.End(ctx, true)
}

func (c *Conn) table(op, view string) (*schema.View, table, error) {
	if c.closed {
		return nil, table{}, errs.New(errs.InvalidState, op, "connection closed")
	}
	v, err := c.svc.reg.View(view)
	if err != nil {
		return nil, table{}, err
	}
	t, ok := c.svc.tables[v.Name]
	if !ok {
		t = customTable()
	}
	return v, t, nil
}

func (c *Conn) requireCap(op string, cap access.Capability) error {
	if !c.svc.acl.Check(c.caller.ID, cap) {
		return errs.New(errs.PermissionDenied, op, "caller %q lacks %s", c.caller.Label, cap)
	}
	return nil
}

func (c *Conn) requireBook(op string, ab int) error {
	if !c.svc.acl.MayWrite(c.caller.ID, ab) {
		return errs.New(errs.PermissionDenied, op, "caller %q may not write address book %d", c.caller.Label, ab)
	}
	return nil
}

// Subscribe registers cb for changes of view, or of every view with
// notify.Wildcard. Subscriptions end with the connection.
func (c *Conn) Subscribe(view string, cb notify.Callback) (notify.Handle, error) {
	if view != notify.Wildcard {
		if _, err := c.svc.reg.View(view); err != nil {
			return 0, err
		}
	}
	h, err := c.svc.hub.Subscribe(view, cb)
	if err != nil {
		return 0, err
	}
	c.subs = append(c.subs, subscription{view: view, handle: h})
	return h, nil
}

// Unsubscribe removes a subscription made on this connection.
func (c *Conn) Unsubscribe(view string, h notify.Handle) error {
	for i, s := range c.subs {
		if s.view == view && s.handle == h {
			if err := c.svc.hub.Unsubscribe(view, h); err != nil {
				return err
			}
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			return nil
		}
	}
	return errs.New(errs.NotFound, "contacts.unsubscribe", "no subscription %d for view %q on this connection", h, view)
}

// Close disconnects the caller: its access entry is dropped, an open
// transaction is rolled back and its subscriptions are removed.
func (c *Conn) Close() {
	c.svc.acl.Remove(c.caller.ID)
}

// release runs when the access cache drops the caller's entry.
func (c *Conn) release() {
	if c.closed {
		return
	}
	c.closed = true
	c.session.Abort(context.Background())
	for _, s := range c.subs {
		if err := c.svc.hub.Unsubscribe(s.view, s.handle); err != nil {
			c.log.Warn("unsubscribe on close", "view", s.view, "error", err)
		}
	}
	c.subs = nil
	c.log.Debug("caller disconnected")
}

func (c *Conn) String() string {
	return fmt.Sprintf("conn %s (%s)", c.caller.ID, c.caller.Label)
}
