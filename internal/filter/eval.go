package filter

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/record"
)

// Fold returns the case-folded NFC form of s, the key used for
// case-insensitive string matches.
func Fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

// Evaluate tests r against the filter in memory, combining children left
// to right exactly as the SQL compiler parenthesizes them. An incomplete
// filter fails with InvalidState.
func (f *Filter) Evaluate(r *record.Record) (bool, error) {
	const op = "filter.evaluate"
	if !f.Complete() {
		return false, errs.New(errs.InvalidState, op, "filter is empty or ends with an operator")
	}
	if r.View().Name != f.view.Name {
		return false, errs.New(errs.ViewMismatch, op, "%q record against %q filter", r.View().Name, f.view.Name)
	}

	acc, err := evalNode(f.children[0], r)
	if err != nil {
		return false, err
	}
	for i, o := range f.ops {
		next, err := evalNode(f.children[i+1], r)
		if err != nil {
			return false, err
		}
		if o == And {
			acc = acc && next
		} else {
			acc = acc || next
		}
	}
	return acc, nil
}

func evalNode(n Node, r *record.Record) (bool, error) {
	switch x := n.(type) {
	case *Filter:
		return x.Evaluate(r)
	case *Attribute:
		v, err := r.Get(x.Property)
		if err != nil {
			return false, err
		}
		return x.matches(v), nil
	}
	return false, nil
}

func (a *Attribute) matches(v record.Value) bool {
	switch a.Match {
	case Exists:
		return v != nil
	case None:
		return v == nil
	}
	if v == nil {
		return false
	}

	if s, ok := v.(record.String); ok {
		want := string(a.Value.(record.String))
		got := string(s)
		switch a.Match {
		case Exactly:
			return got == want
		case FullString:
			return Fold(got) == Fold(want)
		case Contains:
			return strings.Contains(Fold(got), Fold(want))
		case StartsWith:
			return strings.HasPrefix(Fold(got), Fold(want))
		case EndsWith:
			return strings.HasSuffix(Fold(got), Fold(want))
		}
		return false
	}

	if b, ok := v.(record.Bool); ok {
		return b == a.Value.(record.Bool)
	}

	c := compare(v, a.Value)
	switch a.Match {
	case Equal:
		return c == 0
	case NotEqual:
		return c != 0
	case Greater:
		return c > 0
	case GreaterOrEqual:
		return c >= 0
	case Less:
		return c < 0
	case LessOrEqual:
		return c <= 0
	case InRange:
		return c >= 0 && compare(v, a.High) <= 0
	}
	return false
}

// compare orders two numeric values of the same type.
func compare(a, b record.Value) int {
	switch x := a.(type) {
	case record.Double:
		y := b.(record.Double)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	default:
		xi, yi := toInt(a), toInt(b)
		switch {
		case xi < yi:
			return -1
		case xi > yi:
			return 1
		}
		return 0
	}
}

func toInt(v record.Value) int64 {
	switch x := v.(type) {
	case record.Int:
		return int64(x)
	case record.Int64:
		return int64(x)
	}
	return 0
}
