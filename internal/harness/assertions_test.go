package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/contactsd/internal/errs"
)

func intPtr(n int) *int { return &n }

func TestCheckExpect(t *testing.T) {
	notFound := errs.New(errs.NotFound, "contacts.get", "no contact with id 3")
	out := outcome{
		ids:      []int{1, 2},
		count:    intPtr(2),
		snippets: []string{"[Ann] Smith"},
		records: []map[string]any{
			{"id": 1, "display_name": "Ann Smith", "is_favorite": false, "favorite_priority": float64(2)},
			{"id": 2, "name": []any{map[string]any{"first": "Bo", "id": 4}}},
		},
	}

	tests := []struct {
		name    string
		exp     *Expect
		out     outcome
		err     error
		version int
		want    []string
	}{
		{name: "no expect, success", out: out},
		{name: "no expect, failure", err: notFound, want: []string{"unexpected error"}},
		{name: "matching error", exp: &Expect{Error: "NOT_FOUND"}, err: notFound},
		{name: "wrong error", exp: &Expect{Error: "PERMISSION_DENIED"}, err: notFound, want: []string{"expected error PERMISSION_DENIED, got NOT_FOUND"}},
		{name: "missing error", exp: &Expect{Error: "NOT_FOUND"}, out: out, want: []string{"expected error NOT_FOUND, got success"}},
		{name: "version", exp: &Expect{Version: intPtr(4)}, out: out, version: 3, want: []string{"expected version 4, got 3"}},
		{name: "ids", exp: &Expect{IDs: []int{1}}, out: out, want: []string{"expected ids [1], got [1 2]"}},
		{name: "count", exp: &Expect{Count: intPtr(2)}, out: out},
		{name: "count without result", exp: &Expect{Count: intPtr(2)}, want: []string{"count expected but the step returns none"}},
		{
			name: "subset records with numeric normalization",
			exp: &Expect{Records: []map[string]any{
				{"id": 1, "favorite_priority": 2},
				{"name": []any{map[string]any{"first": "Bo"}}},
			}},
			out: out,
		},
		{
			name: "record mismatch",
			exp:  &Expect{Records: []map[string]any{{"id": 2}, {"id": 2}}},
			out:  out,
			want: []string{"record 1: expected"},
		},
		{name: "record count", exp: &Expect{Records: []map[string]any{{"id": 1}}}, out: out, want: []string{"expected 1 records, got 2"}},
		{name: "snippets", exp: &Expect{Snippets: []string{"[Bob]"}}, out: out, want: []string{"expected snippets"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := checkExpect(tt.exp, tt.out, tt.err, tt.version)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Len(t, got, len(tt.want))
			for i, w := range tt.want {
				if i < len(got) {
					assert.Contains(t, got[i], w)
				}
			}
		})
	}
}

func TestMatchValue(t *testing.T) {
	assert.True(t, matchValue(int64(5), 5))
	assert.True(t, matchValue(5, 5.0))
	assert.False(t, matchValue(5, "5"))
	assert.False(t, matchValue("a", 1))
	assert.True(t, matchValue(true, true))
	assert.False(t, matchValue([]any{1}, []any{1, 2}))
	assert.False(t, matchValue("x", map[string]any{"a": 1}))
}
