package schema

import (
	"sort"

	"github.com/roach88/contactsd/internal/errs"
)

// Registry maps view names to views. It is immutable once built and safe
// for concurrent use without locking.
type Registry struct {
	byName map[string]*View
	byID   map[uint16]*View
}

// NewRegistry validates and indexes a set of views.
//
// Validation checks unique names and IDs, and that every record-typed
// property names a registered child view that declares a parent column.
func NewRegistry(views ...*View) (*Registry, error) {
	const op = "schema.new_registry"
	r := &Registry{
		byName: make(map[string]*View, len(views)),
		byID:   make(map[uint16]*View, len(views)),
	}
	for _, v := range views {
		if v == nil {
			return nil, errs.New(errs.InvalidArgument, op, "nil view")
		}
		if _, dup := r.byName[v.Name]; dup {
			return nil, errs.New(errs.InvalidArgument, op, "duplicate view %q", v.Name)
		}
		if other, dup := r.byID[v.ID]; dup {
			return nil, errs.New(errs.InvalidArgument, op, "views %q and %q share id %d", other.Name, v.Name, v.ID)
		}
		r.byName[v.Name] = v
		r.byID[v.ID] = v
	}

	for _, v := range views {
		for _, p := range v.props {
			if p.Type != TypeRecord {
				continue
			}
			child, ok := r.byName[p.Child]
			if !ok {
				return nil, errs.New(errs.UnknownView, op, "view %q property %q: child view %q not registered", v.Name, p.Name, p.Child)
			}
			if !child.IsChild() {
				return nil, errs.New(errs.InvalidArgument, op, "view %q property %q: child view %q has no parent column", v.Name, p.Name, p.Child)
			}
		}
	}
	return r, nil
}

// Merge returns a new registry holding the views of r plus extra.
func (r *Registry) Merge(extra ...*View) (*Registry, error) {
	all := make([]*View, 0, len(r.byName)+len(extra))
	all = append(all, r.Views()...)
	all = append(all, extra...)
	return NewRegistry(all...)
}

// View returns the named view.
func (r *Registry) View(name string) (*View, error) {
	if v, ok := r.byName[name]; ok {
		return v, nil
	}
	return nil, errs.New(errs.UnknownView, "schema.view", "view %q is not registered", name)
}

// MustView returns the named view and panics if it is missing.
func (r *Registry) MustView(name string) *View {
	v, err := r.View(name)
	if err != nil {
		panic(err)
	}
	return v
}

// ViewOf returns the view declaring a property.
func (r *Registry) ViewOf(id PropertyID) (*View, error) {
	if v, ok := r.byID[id.ViewID()]; ok {
		return v, nil
	}
	return nil, errs.New(errs.PropertyNotSupported, "schema.view_of", "no view declares property 0x%08x", uint32(id))
}

// Views returns all views ordered by ID.
func (r *Registry) Views() []*View {
	out := make([]*View, 0, len(r.byID))
	for _, v := range r.byID {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ChildViews returns the child views referenced by record-typed properties
// of v, in declaration order.
func (r *Registry) ChildViews(v *View) []*View {
	var out []*View
	for _, p := range v.props {
		if p.Type == TypeRecord {
			out = append(out, r.byName[p.Child])
		}
	}
	return out
}
