package filter

import (
	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/record"
	"github.com/roach88/contactsd/internal/schema"
)

// Match is the comparison a leaf predicate applies.
type Match int

// String matches.
const (
	// Exactly is case-sensitive equality.
	Exactly Match = iota + 1
	// FullString is case-insensitive equality.
	FullString
	Contains
	StartsWith
	EndsWith
	// Exists matches any set value and takes no operand.
	Exists
)

// Numeric matches. Equal is also the only bool match.
const (
	Equal Match = iota + 100
	NotEqual
	Greater
	GreaterOrEqual
	Less
	LessOrEqual
	InRange
	// None matches an unset value and takes no operand.
	None
)

var matchNames = map[Match]string{
	Exactly:        "exactly",
	FullString:     "fullstring",
	Contains:       "contains",
	StartsWith:     "startswith",
	EndsWith:       "endswith",
	Exists:         "exists",
	Equal:          "eq",
	NotEqual:       "ne",
	Greater:        "gt",
	GreaterOrEqual: "ge",
	Less:           "lt",
	LessOrEqual:    "le",
	InRange:        "range",
	None:           "none",
}

func (m Match) String() string {
	if s, ok := matchNames[m]; ok {
		return s
	}
	return "unknown"
}

// ParseMatch converts a match name ("contains", "gt", ...) to a Match.
func ParseMatch(s string) (Match, bool) {
	for m, name := range matchNames {
		if name == s {
			return m, true
		}
	}
	return 0, false
}

// IsString reports whether m applies to string properties.
func (m Match) IsString() bool {
	return m >= Exactly && m <= Exists
}

// IsNumeric reports whether m applies to numeric properties.
func (m Match) IsNumeric() bool {
	return m >= Equal && m <= None
}

// takesValue reports whether the match compares against an operand.
func (m Match) takesValue() bool {
	return m != Exists && m != None
}

func checkMatch(op string, p *schema.Property, m Match, v record.Value) error {
	mismatch := func() error {
		return errs.New(errs.TypeMismatch, op, "match %s does not apply to %s property %q", m, p.Type, p.Name)
	}
	switch {
	case p.Type == schema.TypeString:
		if !m.IsString() {
			return mismatch()
		}
	case p.Type == schema.TypeBool:
		if m != Equal {
			return mismatch()
		}
	case p.Type.Numeric():
		if !m.IsNumeric() {
			return mismatch()
		}
	default:
		return mismatch()
	}

	if !m.takesValue() {
		if v != nil {
			return errs.New(errs.InvalidArgument, op, "match %s takes no value", m)
		}
		return nil
	}
	if v == nil {
		return errs.New(errs.InvalidArgument, op, "match %s requires a value", m)
	}
	if v.Type() != p.Type {
		return errs.New(errs.TypeMismatch, op, "%s value for %s property %q", v.Type(), p.Type, p.Name)
	}
	return nil
}
