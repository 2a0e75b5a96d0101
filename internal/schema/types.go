package schema

import "strings"

// PropertyID identifies a property across all views.
// The high 16 bits hold the owning view's ID, the low 16 bits the
// property's 1-based position within the view.
type PropertyID uint32

// MakePropertyID builds the ID of the index-th property (1-based) of a view.
func MakePropertyID(viewID uint16, index uint16) PropertyID {
	return PropertyID(uint32(viewID)<<16 | uint32(index))
}

// ViewID returns the ID of the view that declares the property.
func (p PropertyID) ViewID() uint16 {
	return uint16(p >> 16)
}

// Type is the semantic type of a property.
type Type int

const (
	TypeInt Type = iota + 1
	TypeString
	TypeBool
	TypeInt64
	TypeDouble
	TypeRecord
)

var typeNames = map[Type]string{
	TypeInt:    "int",
	TypeString: "string",
	TypeBool:   "bool",
	TypeInt64:  "int64",
	TypeDouble: "double",
	TypeRecord: "record",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "unknown"
}

// ParseType converts a type name ("int", "string", ...) to a Type.
func ParseType(s string) (Type, bool) {
	for t, name := range typeNames {
		if name == s {
			return t, true
		}
	}
	return 0, false
}

// Numeric reports whether values of the type are ordered numbers.
func (t Type) Numeric() bool {
	return t == TypeInt || t == TypeInt64 || t == TypeDouble
}

// Usage is a bitset describing where a property may appear.
type Usage uint8

const (
	// UsageFilter allows the property in filter attributes.
	UsageFilter Usage = 1 << iota
	// UsageProject allows the property in query projections.
	UsageProject
	// UsageSort allows the property as a sort key even when not filterable.
	UsageSort
	// UsageReadOnly forbids callers from setting the property.
	UsageReadOnly
)

// UsageFilterProject is the common "filter+project" combination.
const UsageFilterProject = UsageFilter | UsageProject

var usageNames = []struct {
	u    Usage
	name string
}{
	{UsageFilter, "filter"},
	{UsageProject, "project"},
	{UsageSort, "sort"},
	{UsageReadOnly, "readonly"},
}

// Has reports whether all bits of other are set.
func (u Usage) Has(other Usage) bool {
	return u&other == other
}

func (u Usage) String() string {
	var parts []string
	for _, n := range usageNames {
		if u.Has(n.u) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseUsage converts a usage name to its bit.
func ParseUsage(s string) (Usage, bool) {
	for _, n := range usageNames {
		if n.name == s {
			return n.u, true
		}
	}
	return 0, false
}

// SearchRange selects which properties participate in keyword search.
type SearchRange uint8

const (
	RangeName SearchRange = 1 << iota
	RangeNumber
	RangeData
	RangeEmail
)

// RangeAll matches every searchable property.
const RangeAll = RangeName | RangeNumber | RangeData | RangeEmail

var rangeNames = map[string]SearchRange{
	"name":   RangeName,
	"number": RangeNumber,
	"data":   RangeData,
	"email":  RangeEmail,
}

// ParseSearchRange converts a range name to its bit.
func ParseSearchRange(s string) (SearchRange, bool) {
	r, ok := rangeNames[s]
	return r, ok
}
