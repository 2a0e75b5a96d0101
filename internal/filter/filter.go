package filter

import (
	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/record"
	"github.com/roach88/contactsd/internal/schema"
)

// Operator joins two adjacent children of a filter.
type Operator int

const (
	And Operator = iota + 1
	Or
)

func (o Operator) String() string {
	switch o {
	case And:
		return "AND"
	case Or:
		return "OR"
	}
	return "?"
}

// Node is a child of a Filter: an *Attribute or a nested *Filter.
type Node interface {
	isNode()
}

// Attribute is a leaf predicate on one property.
type Attribute struct {
	Property schema.PropertyID
	Match    Match
	Value    record.Value

	// High is the upper bound of an InRange match.
	High record.Value
}

func (*Attribute) isNode() {}
func (*Filter) isNode()    {}

// Filter is a composite predicate over the properties of one view.
//
// Children are joined by operators strictly left to right with no
// precedence: A OR B AND C means (A OR B) AND C. Group with a nested
// filter to get any other reading.
//
// A filter always satisfies len(operators) <= len(children) <=
// len(operators)+1. A child may only follow an operator (or start the
// filter) and an operator may only follow a child. Calls that would break
// this fail with InvalidState and leave the filter unchanged.
type Filter struct {
	view     *schema.View
	children []Node
	ops      []Operator
}

// New returns an empty filter on the named view.
func New(reg *schema.Registry, view string) (*Filter, error) {
	v, err := reg.View(view)
	if err != nil {
		return nil, err
	}
	return &Filter{view: v}, nil
}

// NewFor returns an empty filter on v.
func NewFor(v *schema.View) *Filter {
	return &Filter{view: v}
}

// View returns the filter's view.
func (f *Filter) View() *schema.View {
	return f.view
}

// Children returns the filter's children in insertion order.
func (f *Filter) Children() []Node {
	return f.children
}

// Operators returns the operators; Operators()[i] joins child i and i+1.
func (f *Filter) Operators() []Operator {
	return f.ops
}

// Complete reports whether the filter has at least one child and no
// dangling operator.
func (f *Filter) Complete() bool {
	return len(f.children) > 0 && len(f.ops) == len(f.children)-1
}

func (f *Filter) expectChild(op string) error {
	if len(f.ops) != len(f.children) {
		return errs.New(errs.InvalidState, op, "an operator must precede the next child (%d children, %d operators)", len(f.children), len(f.ops))
	}
	return nil
}

// AddOperator appends an operator after the last child.
func (f *Filter) AddOperator(o Operator) error {
	const op = "filter.add_operator"
	if o != And && o != Or {
		return errs.New(errs.InvalidArgument, op, "unknown operator %d", int(o))
	}
	if len(f.children) != len(f.ops)+1 {
		return errs.New(errs.InvalidState, op, "a child must precede each operator (%d children, %d operators)", len(f.children), len(f.ops))
	}
	f.ops = append(f.ops, o)
	return nil
}

// AddAttribute appends a leaf predicate. The property must be filterable
// on the filter's view and the match kind and value must agree with its
// type. Exists and None take no value.
func (f *Filter) AddAttribute(id schema.PropertyID, m Match, v record.Value) error {
	const op = "filter.add_attribute"
	if err := f.expectChild(op); err != nil {
		return err
	}
	if m == InRange {
		return errs.New(errs.InvalidArgument, op, "use AddRange for in-range matches")
	}
	p, err := f.filterable(op, id)
	if err != nil {
		return err
	}
	if err := checkMatch(op, p, m, v); err != nil {
		return err
	}
	f.children = append(f.children, &Attribute{Property: id, Match: m, Value: v})
	return nil
}

// AddRange appends an inclusive numeric range predicate lo <= p <= hi.
func (f *Filter) AddRange(id schema.PropertyID, lo, hi record.Value) error {
	const op = "filter.add_range"
	if err := f.expectChild(op); err != nil {
		return err
	}
	p, err := f.filterable(op, id)
	if err != nil {
		return err
	}
	if err := checkMatch(op, p, InRange, lo); err != nil {
		return err
	}
	if err := checkMatch(op, p, InRange, hi); err != nil {
		return err
	}
	f.children = append(f.children, &Attribute{Property: id, Match: InRange, Value: lo, High: hi})
	return nil
}

// AddFilter appends a clone of other as a nested group. The caller keeps
// ownership of other.
func (f *Filter) AddFilter(other *Filter) error {
	const op = "filter.add_filter"
	if other == nil {
		return errs.New(errs.InvalidArgument, op, "nil filter")
	}
	if other.view.Name != f.view.Name {
		return errs.New(errs.ViewMismatch, op, "cannot nest a %q filter in a %q filter", other.view.Name, f.view.Name)
	}
	if err := f.expectChild(op); err != nil {
		return err
	}
	if !other.Complete() {
		return errs.New(errs.InvalidState, op, "nested filter is empty or ends with an operator")
	}
	f.children = append(f.children, other.Clone())
	return nil
}

func (f *Filter) filterable(op string, id schema.PropertyID) (*schema.Property, error) {
	p, err := f.view.Property(id)
	if err != nil {
		return nil, err
	}
	if !p.Filterable() {
		return nil, errs.New(errs.PropertyNotSupported, op, "property %q of view %q is not filterable", p.Name, f.view.Name)
	}
	return p, nil
}

// Clone returns a deep copy.
func (f *Filter) Clone() *Filter {
	c := &Filter{
		view:     f.view,
		children: make([]Node, len(f.children)),
		ops:      append([]Operator(nil), f.ops...),
	}
	for i, n := range f.children {
		switch x := n.(type) {
		case *Attribute:
			a := *x
			c.children[i] = &a
		case *Filter:
			c.children[i] = x.Clone()
		}
	}
	return c
}

// Destroy releases the filter's children recursively. The filter is empty
// afterwards and may be rebuilt.
func (f *Filter) Destroy() {
	for _, n := range f.children {
		if sub, ok := n.(*Filter); ok {
			sub.Destroy()
		}
	}
	f.children = nil
	f.ops = nil
}
