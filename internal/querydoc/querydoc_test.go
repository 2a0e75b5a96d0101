package querydoc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/filter"
	"github.com/roach88/contactsd/internal/record"
	"github.com/roach88/contactsd/internal/schema"
)

func contactRecord(t *testing.T, note string, favorite bool) *record.Record {
	t.Helper()
	r := record.NewFactory(schema.Builtin()).Blank(schema.Builtin().MustView(schema.ViewContact))
	require.NoError(t, r.SetString(schema.ContactDisplayName, note))
	require.NoError(t, r.SetBool(schema.ContactFavorite, favorite))
	return r
}

func TestParseQuery_Build(t *testing.T) {
	doc, err := ParseQuery([]byte(`
view: contact
filter:
  - {property: display_name, match: startswith, value: Ann}
  - op: or
  - group:
      - {property: is_favorite, match: eq, value: true}
      - op: and
      - {property: favorite_priority, match: range, value: 1, high: 2.5}
projection: [id, display_name]
sort: {property: display_name, ascending: true}
distinct: true
offset: 5
limit: 10
`))
	require.NoError(t, err)
	assert.Equal(t, 5, doc.Offset)
	assert.Equal(t, 10, doc.Limit)

	q, err := doc.Build(schema.Builtin())
	require.NoError(t, err)
	defer q.Destroy()

	assert.Equal(t, []schema.PropertyID{schema.ContactID, schema.ContactDisplayName}, q.Projection())
	sort, asc := q.Sort()
	assert.Equal(t, schema.ContactDisplayName, sort)
	assert.True(t, asc)
	assert.True(t, q.Distinct())

	f := q.Filter()
	require.NotNil(t, f)
	assert.Equal(t, []filter.Operator{filter.Or}, f.Operators())
	require.Len(t, f.Children(), 2)

	ok, err := f.Evaluate(contactRecord(t, "Annette", false))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.Evaluate(contactRecord(t, "Bob", true))
	require.NoError(t, err)
	assert.False(t, ok, "priority is unset so the group fails")
}

func TestParseQuery_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		code errs.Code
	}{
		{"missing view", "limit: 3", errs.InvalidArgument},
		{"unknown field", "view: contact\nlimt: 3", errs.InvalidArgument},
		{"not yaml", "view: [", errs.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseQuery([]byte(tt.doc))
			require.Error(t, err)
			assert.Equal(t, tt.code, errs.CodeOf(err))
		})
	}
}

func TestQuery_BuildErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  Query
		code errs.Code
	}{
		{"unknown view", Query{View: "pet"}, errs.UnknownView},
		{"unknown property", Query{View: "contact", Projection: []string{"age"}}, errs.PropertyNotSupported},
		{"unknown match", Query{View: "contact", Filter: []Term{{Property: "note", Match: "like", Value: "x"}}}, errs.InvalidArgument},
		{"unknown operator", Query{View: "contact", Filter: []Term{{Property: "note", Match: "exists"}, {Op: "xor"}}}, errs.InvalidArgument},
		{"ambiguous term", Query{View: "contact", Filter: []Term{{Property: "note", Op: "and"}}}, errs.InvalidArgument},
		{"wrong value type", Query{View: "contact", Filter: []Term{{Property: "id", Match: "eq", Value: "one"}}}, errs.TypeMismatch},
		{"dangling operator", Query{View: "contact", Filter: []Term{{Property: "note", Match: "exists"}, {Op: "and"}}}, errs.InvalidState},
		{"record sort", Query{View: "contact", Sort: &Sort{Property: "number"}}, errs.PropertyNotSupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.doc.Build(schema.Builtin())
			require.Error(t, err)
			assert.Equal(t, tt.code, errs.CodeOf(err))
		})
	}
}

func TestQuery_SearchOptions(t *testing.T) {
	doc, err := ParseQuery([]byte(`
view: contact
search: {keyword: oslo, range: [name, data], snippet: true, start: "<b>", end: "</b>", window: 3}
`))
	require.NoError(t, err)
	kw, opts, ok, err := doc.SearchOptions()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "oslo", kw)
	assert.Equal(t, schema.RangeName|schema.RangeData, opts.Range)
	assert.Equal(t, "<b>", opts.StartMarker)
	assert.Equal(t, 3, opts.Window)

	_, _, ok, err = (&Query{View: "contact"}).SearchOptions()
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, _, err = (&Query{View: "contact", Search: &Search{Keyword: "x", Range: []string{"fax"}}}).SearchOptions()
	assert.True(t, errs.Is(err, errs.InvalidArgument))
}

func TestLoadRecords_Build(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
records:
  - view: address_book
    values: {name: local}
  - view: contact
    values: {address_book_id: 1, note: met in Oslo, is_favorite: true}
    children:
      name:   [{first: Ann, last: Smith}]
      number: [{number: "+1 555 0100", type: 1}, {number: "+1 555 0101"}]
`), 0o644))

	doc, err := LoadRecords(path)
	require.NoError(t, err)
	recs, err := doc.Build(record.NewFactory(schema.Builtin()))
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, map[string]any{"name": "local"}, ToMap(recs[0]))
	assert.Equal(t, map[string]any{
		"address_book_id": 1,
		"note":            "met in Oslo",
		"is_favorite":     true,
		"name":            []any{map[string]any{"first": "Ann", "last": "Smith"}},
		"number": []any{
			map[string]any{"number": "+1 555 0100", "type": 1},
			map[string]any{"number": "+1 555 0101"},
		},
	}, ToMap(recs[1]))
}

func TestParseRecords_Errors(t *testing.T) {
	f := record.NewFactory(schema.Builtin())
	tests := []struct {
		name string
		doc  string
		code errs.Code
	}{
		{"read-only property", "records: [{view: contact, values: {id: 3}}]", errs.InvalidArgument},
		{"unknown view", "records: [{view: pet}]", errs.UnknownView},
		{"scalar as children", "records: [{view: contact, children: {note: [{x: 1}]}}]", errs.TypeMismatch},
		{"bad child value", "records: [{view: contact, children: {number: [{type: many}]}}]", errs.TypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseRecords([]byte(tt.doc))
			require.NoError(t, err)
			_, err = doc.Build(f)
			require.Error(t, err)
			assert.Equal(t, tt.code, errs.CodeOf(err))
		})
	}

	_, err := ParseRecords([]byte("records: []"))
	assert.True(t, errs.Is(err, errs.InvalidArgument))
}
