package record

import (
	"maps"

	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/schema"
)

// Record is one entity instance of a view.
//
// A record exclusively owns its child records. A child added to a parent
// must not already belong to another parent; clone it first.
//
// Records are not safe for concurrent use.
type Record struct {
	view     *schema.View
	plugin   Plugin
	values   map[schema.PropertyID]Value
	children map[schema.PropertyID][]*Record
	modified map[schema.PropertyID]struct{}
	deleted  bool
	parent   *Record
}

func newRecord(v *schema.View, p Plugin) *Record {
	return &Record{
		view:     v,
		plugin:   p,
		values:   make(map[schema.PropertyID]Value),
		children: make(map[schema.PropertyID][]*Record),
		modified: make(map[schema.PropertyID]struct{}),
	}
}

// View returns the record's view.
func (r *Record) View() *schema.View {
	return r.view
}

// Parent returns the record owning r, or nil.
func (r *Record) Parent() *Record {
	return r.parent
}

// Deleted reports whether the record is a tombstone.
func (r *Record) Deleted() bool {
	return r.deleted
}

// Key returns the storage-assigned identity, or 0 if unset.
func (r *Record) Key() int {
	if !r.view.HasKey() {
		return 0
	}
	if v, ok := r.values[r.view.Key].(Int); ok {
		return int(v)
	}
	return 0
}

func (r *Record) prop(op string, id schema.PropertyID, want schema.Type) (*schema.Property, error) {
	p, err := r.view.Property(id)
	if err != nil {
		return nil, err
	}
	if want != 0 && p.Type != want {
		return nil, errs.New(errs.TypeMismatch, op, "property %q of view %q is %s, not %s", p.Name, r.view.Name, p.Type, want)
	}
	return p, nil
}

// Get returns the value of a scalar property, or nil when it is unset.
func (r *Record) Get(id schema.PropertyID) (Value, error) {
	p, err := r.prop("record.get", id, 0)
	if err != nil {
		return nil, err
	}
	if p.Type == schema.TypeRecord {
		return nil, errs.New(errs.TypeMismatch, "record.get", "property %q is record-typed; use Children", p.Name)
	}
	return r.values[id], nil
}

// Has reports whether a scalar property holds a value.
func (r *Record) Has(id schema.PropertyID) bool {
	_, ok := r.values[id]
	return ok
}

// Set stores a value and marks the property modified.
// Read-only properties are rejected with InvalidArgument.
func (r *Record) Set(id schema.PropertyID, v Value) error {
	const op = "record.set"
	if v == nil {
		return errs.New(errs.InvalidArgument, op, "nil value")
	}
	p, err := r.prop(op, id, v.Type())
	if err != nil {
		return err
	}
	if p.ReadOnly() {
		return errs.New(errs.InvalidArgument, op, "property %q of view %q is read-only", p.Name, r.view.Name)
	}
	r.values[id] = v
	r.modified[id] = struct{}{}
	return nil
}

// Assign stores a value without the read-only check and without marking
// the property modified. Storage uses it to populate records from rows
// and to write back assigned keys and versions.
func (r *Record) Assign(id schema.PropertyID, v Value) error {
	if v == nil {
		delete(r.values, id)
		return nil
	}
	if _, err := r.prop("record.assign", id, v.Type()); err != nil {
		return err
	}
	r.values[id] = v
	return nil
}

// Unset clears a scalar property and marks it modified.
func (r *Record) Unset(id schema.PropertyID) error {
	const op = "record.unset"
	p, err := r.prop(op, id, 0)
	if err != nil {
		return err
	}
	if p.Type == schema.TypeRecord {
		return errs.New(errs.TypeMismatch, op, "property %q is record-typed", p.Name)
	}
	if p.ReadOnly() {
		return errs.New(errs.InvalidArgument, op, "property %q of view %q is read-only", p.Name, r.view.Name)
	}
	delete(r.values, id)
	r.modified[id] = struct{}{}
	return nil
}

// Int returns an int property. Unset properties read as zero.
func (r *Record) Int(id schema.PropertyID) (int, error) {
	if _, err := r.prop("record.int", id, schema.TypeInt); err != nil {
		return 0, err
	}
	v, _ := r.values[id].(Int)
	return int(v), nil
}

// SetInt sets an int property.
func (r *Record) SetInt(id schema.PropertyID, v int) error {
	return r.Set(id, Int(v))
}

// String returns a string property. Unset properties read as "".
func (r *Record) String(id schema.PropertyID) (string, error) {
	if _, err := r.prop("record.string", id, schema.TypeString); err != nil {
		return "", err
	}
	v, _ := r.values[id].(String)
	return string(v), nil
}

// SetString sets a string property.
func (r *Record) SetString(id schema.PropertyID, v string) error {
	return r.Set(id, String(v))
}

// Bool returns a bool property.
func (r *Record) Bool(id schema.PropertyID) (bool, error) {
	if _, err := r.prop("record.bool", id, schema.TypeBool); err != nil {
		return false, err
	}
	v, _ := r.values[id].(Bool)
	return bool(v), nil
}

// SetBool sets a bool property.
func (r *Record) SetBool(id schema.PropertyID, v bool) error {
	return r.Set(id, Bool(v))
}

// Int64 returns an int64 property.
func (r *Record) Int64(id schema.PropertyID) (int64, error) {
	if _, err := r.prop("record.int64", id, schema.TypeInt64); err != nil {
		return 0, err
	}
	v, _ := r.values[id].(Int64)
	return int64(v), nil
}

// SetInt64 sets an int64 property.
func (r *Record) SetInt64(id schema.PropertyID, v int64) error {
	return r.Set(id, Int64(v))
}

// Double returns a double property.
func (r *Record) Double(id schema.PropertyID) (float64, error) {
	if _, err := r.prop("record.double", id, schema.TypeDouble); err != nil {
		return 0, err
	}
	v, _ := r.values[id].(Double)
	return float64(v), nil
}

// SetDouble sets a double property.
func (r *Record) SetDouble(id schema.PropertyID, v float64) error {
	return r.Set(id, Double(v))
}

// Populated returns the IDs of the scalar properties holding a value, in
// declaration order.
func (r *Record) Populated() []schema.PropertyID {
	return r.propertyIDs(func(id schema.PropertyID) bool {
		_, ok := r.values[id]
		return ok
	})
}

// Modified reports whether a property was changed by a caller.
func (r *Record) Modified(id schema.PropertyID) bool {
	_, ok := r.modified[id]
	return ok
}

// ModifiedProperties returns the modified property IDs in declaration order.
func (r *Record) ModifiedProperties() []schema.PropertyID {
	return r.propertyIDs(func(id schema.PropertyID) bool {
		_, ok := r.modified[id]
		return ok
	})
}

// ClearModified resets the modified set, recursively for children.
func (r *Record) ClearModified() {
	clear(r.modified)
	for _, kids := range r.children {
		for _, c := range kids {
			c.ClearModified()
		}
	}
}

func (r *Record) propertyIDs(keep func(schema.PropertyID) bool) []schema.PropertyID {
	var out []schema.PropertyID
	for _, p := range r.view.Properties() {
		if keep(p.ID) {
			out = append(out, p.ID)
		}
	}
	return out
}

// AddChild appends child to a record-typed property and takes ownership
// of it. The property is marked modified.
func (r *Record) AddChild(id schema.PropertyID, child *Record) error {
	const op = "record.add_child"
	if child == nil {
		return errs.New(errs.InvalidArgument, op, "nil child")
	}
	p, err := r.prop(op, id, schema.TypeRecord)
	if err != nil {
		return err
	}
	if child.view.Name != p.Child {
		return errs.New(errs.TypeMismatch, op, "property %q holds %q records, not %q", p.Name, p.Child, child.view.Name)
	}
	if child.parent != nil || child == r {
		return errs.New(errs.InvalidArgument, op, "child record is already owned; clone it first")
	}
	child.parent = r
	r.children[id] = append(r.children[id], child)
	r.modified[id] = struct{}{}
	return nil
}

// AttachChild is AddChild for storage-side population: the property is
// not marked modified.
func (r *Record) AttachChild(id schema.PropertyID, child *Record) error {
	wasModified := r.Modified(id)
	if err := r.AddChild(id, child); err != nil {
		return err
	}
	if !wasModified {
		delete(r.modified, id)
	}
	return nil
}

// RemoveChild detaches child from a record-typed property and returns
// ownership to the caller.
func (r *Record) RemoveChild(id schema.PropertyID, child *Record) error {
	const op = "record.remove_child"
	if _, err := r.prop(op, id, schema.TypeRecord); err != nil {
		return err
	}
	kids := r.children[id]
	for i, c := range kids {
		if c == child {
			r.children[id] = append(kids[:i:i], kids[i+1:]...)
			child.parent = nil
			r.modified[id] = struct{}{}
			return nil
		}
	}
	return errs.New(errs.NotFound, op, "record is not a child of this property")
}

// Children returns the child records of a record-typed property. The
// slice is a copy; the records are still owned by r.
func (r *Record) Children(id schema.PropertyID) ([]*Record, error) {
	if _, err := r.prop("record.children", id, schema.TypeRecord); err != nil {
		return nil, err
	}
	return append([]*Record(nil), r.children[id]...), nil
}

// Clone returns a deep copy of r, including modified flags and children.
// The copy has no parent.
func (r *Record) Clone() *Record {
	c := newRecord(r.view, r.plugin)
	for id, v := range r.values {
		c.values[id] = v
	}
	for id := range r.modified {
		c.modified[id] = struct{}{}
	}
	c.deleted = r.deleted
	for id, kids := range r.children {
		copies := make([]*Record, len(kids))
		for i, k := range kids {
			kc := k.Clone()
			kc.parent = c
			copies[i] = kc
		}
		c.children[id] = copies
	}
	r.plugin.Clone(r, c)
	return c
}

// CloneWithoutID is Clone with the storage-assigned identity cleared,
// recursively, so the copy can be inserted as a new record.
func (r *Record) CloneWithoutID() *Record {
	c := r.Clone()
	c.clearIdentity()
	return c
}

// Checkpoint captures the scalar values and modified flags of r and of
// every child it holds now. The returned function puts them back, so a
// write that fails can leave the caller's records as they were.
func (r *Record) Checkpoint() (restore func()) {
	values := maps.Clone(r.values)
	modified := maps.Clone(r.modified)
	var kids []func()
	for _, p := range r.view.Properties() {
		for _, k := range r.children[p.ID] {
			kids = append(kids, k.Checkpoint())
		}
	}
	return func() {
		r.values = values
		r.modified = modified
		for _, k := range kids {
			k()
		}
	}
}

func (r *Record) clearIdentity() {
	if r.view.HasKey() {
		delete(r.values, r.view.Key)
	}
	if r.view.IsChild() {
		for _, p := range r.view.Properties() {
			if p.Column == r.view.Parent {
				delete(r.values, p.ID)
			}
		}
	}
	for _, kids := range r.children {
		for _, k := range kids {
			k.clearIdentity()
		}
	}
}

// Destroy runs the plugin teardown hook and releases the record's
// contents. With cascade the children are destroyed too; otherwise they
// are detached and returned to the caller.
func (r *Record) Destroy(cascade bool) []*Record {
	r.plugin.Destroy(r)

	var detached []*Record
	for _, p := range r.view.Properties() {
		for _, k := range r.children[p.ID] {
			k.parent = nil
			if cascade {
				k.Destroy(true)
			} else {
				detached = append(detached, k)
			}
		}
	}
	if r.parent != nil {
		for id, kids := range r.parent.children {
			for i, k := range kids {
				if k == r {
					r.parent.children[id] = append(kids[:i:i], kids[i+1:]...)
					break
				}
			}
		}
		r.parent = nil
	}
	clear(r.values)
	clear(r.children)
	clear(r.modified)
	return detached
}
