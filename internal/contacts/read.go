package contacts

import (
	"context"

	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/filter"
	"github.com/roach88/contactsd/internal/query"
	"github.com/roach88/contactsd/internal/record"
	"github.com/roach88/contactsd/internal/schema"
)

func (c *Conn) readable(op, view string) (*schema.View, error) {
	v, t, err := c.table(op, view)
	if err != nil {
		return nil, err
	}
	if err := c.requireCap(op, t.read); err != nil {
		return nil, err
	}
	return v, nil
}

// Get returns the record id of view with every property and its children
// loaded.
func (c *Conn) Get(ctx context.Context, view string, id int) (*record.Record, error) {
	const op = "contacts.get"
	if id <= 0 {
		return nil, invalid(op, "invalid id %d", id)
	}
	v, err := c.readable(op, view)
	if err != nil {
		return nil, err
	}
	if !v.HasKey() {
		return nil, invalid(op, "view %q has no key", v.Name)
	}

	f := filter.NewFor(v)
	if err := f.AddAttribute(v.Key, filter.Equal, record.Int(id)); err != nil {
		return nil, err
	}
	q := query.NewFor(v)
	defer q.Destroy()
	if err := q.SetFilter(f); err != nil {
		return nil, err
	}

	ex := c.session.Executor()
	list, err := c.svc.runner.Execute(ctx, ex, q, 0, 1)
	if err != nil {
		return nil, err
	}
	rec, err := list.First()
	if err != nil {
		return nil, errs.New(errs.NotFound, op, "no %s with id %d", v.Name, id)
	}
	if err := c.svc.runner.LoadChildren(ctx, ex, rec); err != nil {
		return nil, err
	}
	rec.ClearModified()
	return rec, nil
}

// GetAll returns every record of view in key order, without children.
func (c *Conn) GetAll(ctx context.Context, view string, offset, limit int) (*record.List, error) {
	v, err := c.readable("contacts.get_all", view)
	if err != nil {
		return nil, err
	}
	return c.svc.runner.Execute(ctx, c.session.Executor(), query.NewFor(v), offset, limit)
}

// Query runs q. Records carry only the projected properties.
func (c *Conn) Query(ctx context.Context, q *query.Query, offset, limit int) (*record.List, error) {
	const op = "contacts.query"
	if q == nil {
		return nil, invalid(op, "nil query")
	}
	if _, err := c.readable(op, q.View().Name); err != nil {
		return nil, err
	}
	return c.svc.runner.Execute(ctx, c.session.Executor(), q, offset, limit)
}

// Count returns the number of records q matches.
func (c *Conn) Count(ctx context.Context, q *query.Query) (int, error) {
	const op = "contacts.count"
	if q == nil {
		return 0, invalid(op, "nil query")
	}
	if _, err := c.readable(op, q.View().Name); err != nil {
		return 0, err
	}
	return c.svc.runner.Count(ctx, c.session.Executor(), q)
}

// Search runs a keyword search restricted by q.
func (c *Conn) Search(ctx context.Context, q *query.Query, keyword string, opts query.SearchOptions, offset, limit int) ([]query.Hit, error) {
	const op = "contacts.search"
	if q == nil {
		return nil, invalid(op, "nil query")
	}
	if _, err := c.readable(op, q.View().Name); err != nil {
		return nil, err
	}
	return c.svc.runner.Search(ctx, c.session.Executor(), q, keyword, opts, offset, limit)
}
