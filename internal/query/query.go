package query

import (
	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/filter"
	"github.com/roach88/contactsd/internal/querysql"
	"github.com/roach88/contactsd/internal/schema"
)

// Query is a read request against one view: an optional filter, an
// optional projection, an optional sort key and a distinct flag.
//
// A Query owns a private copy of its filter. It is not safe for
// concurrent mutation.
type Query struct {
	view       *schema.View
	filter     *filter.Filter
	projection []schema.PropertyID
	sort       schema.PropertyID
	ascending  bool
	distinct   bool
}

// New creates a query over the named view.
func New(reg *schema.Registry, view string) (*Query, error) {
	v, err := reg.View(view)
	if err != nil {
		return nil, err
	}
	return NewFor(v), nil
}

// NewFor creates a query over v.
func NewFor(v *schema.View) *Query {
	return &Query{view: v}
}

// View returns the queried view.
func (q *Query) View() *schema.View {
	return q.view
}

// Filter returns the query's filter, or nil.
func (q *Query) Filter() *filter.Filter {
	return q.filter
}

// Projection returns the projected property IDs; nil means every scalar
// property.
func (q *Query) Projection() []schema.PropertyID {
	return append([]schema.PropertyID(nil), q.projection...)
}

// Sort returns the sort key and direction. A zero key sorts by the view
// key.
func (q *Query) Sort() (schema.PropertyID, bool) {
	return q.sort, q.ascending
}

// Distinct reports whether duplicate rows are collapsed.
func (q *Query) Distinct() bool {
	return q.distinct
}

// SetProjection sets the properties returned by Execute. A projection can
// be set once; ClearProjection resets it.
func (q *Query) SetProjection(ids ...schema.PropertyID) error {
	const op = "query.set_projection"
	if q.projection != nil {
		return errs.New(errs.InvalidState, op, "projection already set")
	}
	if len(ids) == 0 {
		return errs.New(errs.InvalidArgument, op, "empty projection")
	}
	seen := make(map[schema.PropertyID]bool, len(ids))
	for _, id := range ids {
		p, err := q.view.Property(id)
		if err != nil {
			return err
		}
		if !p.Projectable() {
			return errs.New(errs.PropertyNotSupported, op, "property %q of view %q is not projectable", p.Name, q.view.Name)
		}
		if seen[id] {
			return errs.New(errs.InvalidArgument, op, "property %q projected twice", p.Name)
		}
		seen[id] = true
	}
	q.projection = append([]schema.PropertyID(nil), ids...)
	return nil
}

// ClearProjection removes the projection.
func (q *Query) ClearProjection() {
	q.projection = nil
}

// SetFilter installs a copy of f, replacing any previous filter. The
// caller keeps ownership of f.
func (q *Query) SetFilter(f *filter.Filter) error {
	const op = "query.set_filter"
	if f == nil {
		return errs.New(errs.InvalidArgument, op, "nil filter")
	}
	if f.View().Name != q.view.Name {
		return errs.New(errs.ViewMismatch, op, "%q filter on %q query", f.View().Name, q.view.Name)
	}
	if !f.Complete() {
		return errs.New(errs.InvalidState, op, "filter is empty or ends with an operator")
	}
	if q.filter != nil {
		q.filter.Destroy()
	}
	q.filter = f.Clone()
	return nil
}

// SetSort orders results by id. The property must be filterable or
// sortable.
func (q *Query) SetSort(id schema.PropertyID, ascending bool) error {
	p, err := q.view.Property(id)
	if err != nil {
		return err
	}
	if !p.Sortable() {
		return errs.New(errs.PropertyNotSupported, "query.set_sort", "property %q of view %q is not sortable", p.Name, q.view.Name)
	}
	q.sort = id
	q.ascending = ascending
	return nil
}

// SetDistinct collapses duplicate projected rows.
func (q *Query) SetDistinct(distinct bool) {
	q.distinct = distinct
}

// Clone returns an independent copy.
func (q *Query) Clone() *Query {
	c := *q
	c.projection = q.Projection()
	if q.filter != nil {
		c.filter = q.filter.Clone()
	}
	return &c
}

// Destroy releases the query's filter.
func (q *Query) Destroy() {
	if q.filter != nil {
		q.filter.Destroy()
		q.filter = nil
	}
	q.projection = nil
}

func (q *Query) selectFor(offset, limit int) querysql.Select {
	return querysql.Select{
		View:      q.view,
		Filter:    q.filter,
		Columns:   q.projection,
		Sort:      q.sort,
		Ascending: q.ascending,
		Distinct:  q.distinct,
		Offset:    offset,
		Limit:     limit,
	}
}
