package schema

import (
	"github.com/roach88/contactsd/internal/errs"
)

// Property describes one typed attribute of a view.
type Property struct {
	ID    PropertyID
	Name  string
	Type  Type
	Usage Usage

	// Column is the storage column. Defaults to Name.
	Column string

	// Child names the child view of a TypeRecord property.
	Child string

	// Search marks the property as part of keyword search ranges.
	Search SearchRange
}

// Filterable reports whether the property may appear in a filter.
func (p *Property) Filterable() bool {
	return p.Usage.Has(UsageFilter) && p.Type != TypeRecord
}

// Projectable reports whether the property may appear in a projection.
func (p *Property) Projectable() bool {
	return p.Usage.Has(UsageProject) && p.Type != TypeRecord
}

// Sortable reports whether the property may be used as a sort key.
func (p *Property) Sortable() bool {
	return p.Type != TypeRecord && (p.Usage.Has(UsageFilter) || p.Usage.Has(UsageSort))
}

// ReadOnly reports whether callers may not set the property.
func (p *Property) ReadOnly() bool {
	return p.Usage.Has(UsageReadOnly)
}

// View is the immutable metadata of one record type.
type View struct {
	ID   uint16
	Name string

	// Table is the storage table backing the view.
	Table string

	// Key is the storage-assigned identity property.
	Key PropertyID

	// Parent is the column referencing the owning record for child views.
	Parent string

	// Scope is the property holding the address book a record belongs to.
	// Zero for views not partitioned by address book.
	Scope PropertyID

	props  []Property
	byID   map[PropertyID]*Property
	byName map[string]*Property
}

// ViewSpec is the declarative form of a view.
type ViewSpec struct {
	ID     uint16
	Name   string
	Table  string
	Key    string
	Parent string
	Scope  string
	Props  []PropSpec
}

// PropSpec is the declarative form of a property. IDs are assigned from
// declaration order.
type PropSpec struct {
	Name   string
	Type   Type
	Usage  Usage
	Column string
	Child  string
	Search SearchRange
}

// NewView builds a View from its spec. Property IDs are assigned from the
// view ID and declaration order.
func NewView(spec ViewSpec) (*View, error) {
	const op = "schema.new_view"
	if spec.Name == "" {
		return nil, errs.New(errs.InvalidArgument, op, "view name is required")
	}
	if spec.ID == 0 {
		return nil, errs.New(errs.InvalidArgument, op, "view %q: id must be non-zero", spec.Name)
	}

	v := &View{
		ID:     spec.ID,
		Name:   spec.Name,
		Table:  spec.Table,
		Parent: spec.Parent,
		props:  make([]Property, 0, len(spec.Props)),
		byID:   make(map[PropertyID]*Property, len(spec.Props)),
		byName: make(map[string]*Property, len(spec.Props)),
	}
	if v.Table == "" {
		v.Table = spec.Name
	}

	for i, ps := range spec.Props {
		if ps.Name == "" {
			return nil, errs.New(errs.InvalidArgument, op, "view %q: property %d has no name", spec.Name, i+1)
		}
		if _, dup := v.byName[ps.Name]; dup {
			return nil, errs.New(errs.InvalidArgument, op, "view %q: duplicate property %q", spec.Name, ps.Name)
		}
		if _, ok := typeNames[ps.Type]; !ok {
			return nil, errs.New(errs.InvalidArgument, op, "view %q: property %q has no type", spec.Name, ps.Name)
		}
		if ps.Type == TypeRecord && ps.Child == "" {
			return nil, errs.New(errs.InvalidArgument, op, "view %q: record property %q names no child view", spec.Name, ps.Name)
		}
		p := Property{
			ID:     MakePropertyID(spec.ID, uint16(i+1)),
			Name:   ps.Name,
			Type:   ps.Type,
			Usage:  ps.Usage,
			Column: ps.Column,
			Child:  ps.Child,
			Search: ps.Search,
		}
		if p.Column == "" {
			p.Column = p.Name
		}
		v.props = append(v.props, p)
	}
	// Index after the slice stops growing so the pointers stay valid.
	for i := range v.props {
		p := &v.props[i]
		v.byID[p.ID] = p
		v.byName[p.Name] = p
	}

	if spec.Key != "" {
		p, ok := v.byName[spec.Key]
		if !ok || p.Type != TypeInt {
			return nil, errs.New(errs.InvalidArgument, op, "view %q: key %q must be an int property", spec.Name, spec.Key)
		}
		v.Key = p.ID
	}
	if spec.Scope != "" {
		p, ok := v.byName[spec.Scope]
		if !ok || p.Type != TypeInt {
			return nil, errs.New(errs.InvalidArgument, op, "view %q: scope %q must be an int property", spec.Name, spec.Scope)
		}
		v.Scope = p.ID
	}
	return v, nil
}

// MustView is like NewView but panics on error. For static view tables.
func MustView(spec ViewSpec) *View {
	v, err := NewView(spec)
	if err != nil {
		panic(err)
	}
	return v
}

// Property returns the property with the given ID.
func (v *View) Property(id PropertyID) (*Property, error) {
	if p, ok := v.byID[id]; ok {
		return p, nil
	}
	return nil, errs.New(errs.PropertyNotSupported, "schema.property", "property 0x%08x not in view %q", uint32(id), v.Name)
}

// PropertyByName returns the property with the given name.
func (v *View) PropertyByName(name string) (*Property, error) {
	if p, ok := v.byName[name]; ok {
		return p, nil
	}
	return nil, errs.New(errs.PropertyNotSupported, "schema.property", "property %q not in view %q", name, v.Name)
}

// MustProperty returns the ID of a named property and panics if missing.
func (v *View) MustProperty(name string) PropertyID {
	p, err := v.PropertyByName(name)
	if err != nil {
		panic(err)
	}
	return p.ID
}

// Properties returns the properties in declaration order.
// The returned slice must not be modified.
func (v *View) Properties() []Property {
	return v.props
}

// HasKey reports whether the view has a storage-assigned identity.
func (v *View) HasKey() bool {
	return v.Key != 0
}

// IsChild reports whether records of the view are owned by a parent record.
func (v *View) IsChild() bool {
	return v.Parent != ""
}
