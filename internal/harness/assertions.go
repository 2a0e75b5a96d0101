package harness

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/roach88/contactsd/internal/errs"
)

// checkExpect compares a step outcome with its expect clause and returns
// one message per mismatch. A step without an expect clause must succeed.
func checkExpect(exp *Expect, out outcome, err error, version int) []string {
	code := string(errs.CodeOf(err))
	if exp == nil {
		if err != nil {
			return []string{fmt.Sprintf("unexpected error: %v", err)}
		}
		return nil
	}

	var msgs []string
	switch {
	case exp.Error == "" && err != nil:
		return []string{fmt.Sprintf("unexpected error: %v", err)}
	case exp.Error != "" && err == nil:
		return []string{fmt.Sprintf("expected error %s, got success", exp.Error)}
	case exp.Error != code:
		msgs = append(msgs, fmt.Sprintf("expected error %s, got %s (%v)", exp.Error, code, err))
	}

	if exp.Version != nil && *exp.Version != version {
		msgs = append(msgs, fmt.Sprintf("expected version %d, got %d", *exp.Version, version))
	}
	if err != nil {
		return msgs
	}

	if exp.IDs != nil && !slices.Equal(exp.IDs, out.ids) {
		msgs = append(msgs, fmt.Sprintf("expected ids %v, got %v", exp.IDs, out.ids))
	}
	if exp.Count != nil {
		switch {
		case out.count == nil:
			msgs = append(msgs, "count expected but the step returns none")
		case *exp.Count != *out.count:
			msgs = append(msgs, fmt.Sprintf("expected count %d, got %d", *exp.Count, *out.count))
		}
	}
	if exp.Records != nil {
		msgs = append(msgs, matchRecords(exp.Records, out.records)...)
	}
	if exp.Snippets != nil && !slices.Equal(exp.Snippets, out.snippets) {
		msgs = append(msgs, fmt.Sprintf("expected snippets %q, got %q", exp.Snippets, out.snippets))
	}
	return msgs
}

func matchRecords(want, got []map[string]any) []string {
	if len(want) != len(got) {
		return []string{fmt.Sprintf("expected %d records, got %d", len(want), len(got))}
	}
	var msgs []string
	for i := range want {
		if !matchSubset(got[i], want[i]) {
			msgs = append(msgs, fmt.Sprintf("record %d: expected %v, got %v", i+1, want[i], got[i]))
		}
	}
	return msgs
}

// matchSubset reports whether every entry of want is in got. Numbers are
// compared by value, so YAML ints match int64 and float64 properties.
func matchSubset(got, want map[string]any) bool {
	for k, w := range want {
		g, ok := got[k]
		if !ok || !matchValue(g, w) {
			return false
		}
	}
	return true
}

func matchValue(got, want any) bool {
	if gf, ok := toFloat(got); ok {
		wf, ok := toFloat(want)
		return ok && gf == wf
	}
	switch w := want.(type) {
	case map[string]any:
		g, ok := got.(map[string]any)
		return ok && matchSubset(g, w)
	case []any:
		g, ok := got.([]any)
		if !ok || len(g) != len(w) {
			return false
		}
		for i := range w {
			if !matchValue(g[i], w[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(got, want)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
