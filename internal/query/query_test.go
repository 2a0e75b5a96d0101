package query

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/filter"
	"github.com/roach88/contactsd/internal/record"
	"github.com/roach88/contactsd/internal/schema"
	"github.com/roach88/contactsd/internal/store"
)

const personCUE = `
view: person: {
	id:    100
	table: "persons"
	key:   "id"
	properties: {
		id:   {type: "int", usage: ["filter", "project", "readonly"]}
		name: {type: "string", usage: ["filter", "project"], search: ["name"]}
		age:  {type: "int", usage: ["filter", "project"]}
	}
}
`

type testEnv struct {
	reg    *schema.Registry
	store  *store.Store
	runner *Runner
	person *schema.View
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	views, err := schema.LoadCUE([]byte(personCUE))
	require.NoError(t, err)
	reg, err := schema.Builtin().Merge(views...)
	require.NoError(t, err)

	s, err := store.Open(filepath.Join(t.TempDir(), "query.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.EnsureTables(context.Background(), views...))

	return &testEnv{
		reg:    reg,
		store:  s,
		runner: NewRunner(record.NewFactory(reg)),
		person: reg.MustView("person"),
	}
}

func (e *testEnv) exec(t *testing.T, stmts ...string) {
	t.Helper()
	for _, st := range stmts {
		_, err := e.store.DB().Exec(st)
		require.NoError(t, err, st)
	}
}

func (e *testEnv) seedPersons(t *testing.T) {
	e.exec(t, `INSERT INTO persons (id, name, age) VALUES (1, 'Ann', 20), (2, 'Bob', 40), (3, 'Carl', 25)`)
}

func (e *testEnv) seedContacts(t *testing.T) {
	e.exec(t,
		`INSERT INTO address_books (id, name) VALUES (1, 'local')`,
		`INSERT INTO contacts (id, address_book_id, display_name, note) VALUES
			(1, 1, 'Ann Smith', 'met at the annual conference in Oslo last spring'),
			(2, 1, 'Bob Jones', NULL)`,
		`INSERT INTO names (contact_id, first_name, last_name) VALUES (1, 'Ann', 'Smith'), (2, 'Bob', 'Jones')`,
		`INSERT INTO numbers (contact_id, number, type) VALUES (2, '+1 555 0100', 1), (2, '+1 555 0199', 2)`,
	)
}

func keys(t *testing.T, l *record.List) []int {
	t.Helper()
	var out []int
	for _, r := range l.Records() {
		out = append(out, r.Key())
	}
	return out
}

func TestExecute_ProjectionAndLeftToRightFilter(t *testing.T) {
	env := newTestEnv(t)
	env.seedPersons(t)
	id := env.person.MustProperty("id")
	name := env.person.MustProperty("name")
	age := env.person.MustProperty("age")

	f := filter.NewFor(env.person)
	require.NoError(t, f.AddAttribute(age, filter.Greater, record.Int(30)))
	require.NoError(t, f.AddOperator(filter.Or))
	require.NoError(t, f.AddAttribute(name, filter.Contains, record.String("an")))

	q := NewFor(env.person)
	require.NoError(t, q.SetProjection(id, name))
	require.NoError(t, q.SetFilter(f))

	list, err := env.runner.Execute(context.Background(), env.store, q, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, keys(t, list))

	for _, r := range list.Records() {
		assert.True(t, r.Has(id))
		assert.True(t, r.Has(name))
		assert.False(t, r.Has(age), "unprojected property must stay unset")
		assert.Empty(t, r.ModifiedProperties())
	}

	// SQL matching agrees with Evaluate beyond ASCII.
	env.exec(t, `INSERT INTO persons (id, name, age) VALUES (4, 'Émile Zola', 10), (5, 'STRASSE', 12)`)
	all, err := env.runner.Execute(context.Background(), env.store, NewFor(env.person), 0, 0)
	require.NoError(t, err)
	for _, tc := range []struct {
		match   filter.Match
		operand string
	}{
		{filter.Contains, "émile"},
		{filter.StartsWith, "ÉMILE z"},
		{filter.FullString, "émile zola"},
		{filter.EndsWith, "straße"},
	} {
		nf := filter.NewFor(env.person)
		require.NoError(t, nf.AddAttribute(name, tc.match, record.String(tc.operand)))
		nq := NewFor(env.person)
		require.NoError(t, nq.SetFilter(nf))
		got, err := env.runner.Execute(context.Background(), env.store, nq, 0, 0)
		require.NoError(t, err)

		var want []int
		for _, r := range all.Records() {
			ok, err := nf.Evaluate(r)
			require.NoError(t, err)
			if ok {
				want = append(want, r.Key())
			}
		}
		assert.NotEmpty(t, want, tc.operand)
		assert.Equal(t, want, keys(t, got), tc.operand)
	}
}

func TestExecute_SortOffsetLimit(t *testing.T) {
	env := newTestEnv(t)
	env.seedPersons(t)

	q := NewFor(env.person)
	require.NoError(t, q.SetSort(env.person.MustProperty("age"), true))

	ctx := context.Background()
	all, err := env.runner.Execute(ctx, env.store, q, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 2}, keys(t, all))

	page, err := env.runner.Execute(ctx, env.store, q, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, keys(t, page))

	tail, err := env.runner.Execute(ctx, env.store, q, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, keys(t, tail))

	_, err = env.runner.Execute(ctx, env.store, q, -1, 0)
	assert.True(t, errs.Is(err, errs.InvalidArgument))
}

func TestExecute_EmptyResultKeepsView(t *testing.T) {
	env := newTestEnv(t)

	list, err := env.runner.Execute(context.Background(), env.store, NewFor(env.person), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, list.Len())
	assert.Equal(t, "person", list.View().Name)

	_, err = list.First()
	assert.True(t, errs.Is(err, errs.NoData))
}

func TestExecute_Distinct(t *testing.T) {
	env := newTestEnv(t)
	env.exec(t, `INSERT INTO persons (name, age) VALUES ('A', 30), ('B', 30), ('C', 31)`)

	q := NewFor(env.person)
	require.NoError(t, q.SetProjection(env.person.MustProperty("age")))
	q.SetDistinct(true)

	list, err := env.runner.Execute(context.Background(), env.store, q, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, list.Len())

	n, err := env.runner.Count(context.Background(), env.store, q)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCount(t *testing.T) {
	env := newTestEnv(t)
	env.seedPersons(t)

	f := filter.NewFor(env.person)
	require.NoError(t, f.AddRange(env.person.MustProperty("age"), record.Int(20), record.Int(30)))
	q := NewFor(env.person)
	require.NoError(t, q.SetFilter(f))

	n, err := env.runner.Count(context.Background(), env.store, q)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestQuery_Projection(t *testing.T) {
	q := NewFor(schema.Builtin().MustView(schema.ViewContact))

	require.NoError(t, q.SetProjection(schema.ContactID))
	err := q.SetProjection(schema.ContactDisplayName)
	assert.True(t, errs.Is(err, errs.InvalidState), "second projection: %v", err)

	q.ClearProjection()
	require.NoError(t, q.SetProjection(schema.ContactDisplayName))
	assert.Equal(t, []schema.PropertyID{schema.ContactDisplayName}, q.Projection())

	q.ClearProjection()
	err = q.SetProjection(schema.ContactNumber)
	assert.True(t, errs.Is(err, errs.PropertyNotSupported), "record property: %v", err)
	err = q.SetProjection(schema.NameFirst)
	assert.True(t, errs.Is(err, errs.PropertyNotSupported), "foreign property: %v", err)
	assert.Nil(t, q.Projection())
}

func TestQuery_SetFilter(t *testing.T) {
	contact := schema.Builtin().MustView(schema.ViewContact)
	q := NewFor(contact)

	groupFilter := filter.NewFor(schema.Builtin().MustView(schema.ViewGroup))
	require.NoError(t, groupFilter.AddAttribute(schema.GroupName, filter.Exists, nil))
	assert.True(t, errs.Is(q.SetFilter(groupFilter), errs.ViewMismatch))

	dangling := filter.NewFor(contact)
	require.NoError(t, dangling.AddAttribute(schema.ContactNote, filter.Exists, nil))
	require.NoError(t, dangling.AddOperator(filter.And))
	assert.True(t, errs.Is(q.SetFilter(dangling), errs.InvalidState))

	f := filter.NewFor(contact)
	require.NoError(t, f.AddAttribute(schema.ContactNote, filter.Exists, nil))
	require.NoError(t, q.SetFilter(f))

	// The query holds a copy.
	require.NoError(t, f.AddOperator(filter.And))
	assert.True(t, q.Filter().Complete())
	assert.Len(t, q.Filter().Children(), 1)
}

func TestQuery_SetSort(t *testing.T) {
	q := NewFor(schema.Builtin().MustView(schema.ViewContact))
	require.NoError(t, q.SetSort(schema.ContactDisplayName, false))

	id, asc := q.Sort()
	assert.Equal(t, schema.ContactDisplayName, id)
	assert.False(t, asc)

	assert.True(t, errs.Is(q.SetSort(schema.ContactEmail, true), errs.PropertyNotSupported))
}

func TestQuery_CloneIsIndependent(t *testing.T) {
	contact := schema.Builtin().MustView(schema.ViewContact)
	q := NewFor(contact)
	require.NoError(t, q.SetProjection(schema.ContactID))

	c := q.Clone()
	c.ClearProjection()
	c.SetDistinct(true)

	assert.Equal(t, []schema.PropertyID{schema.ContactID}, q.Projection())
	assert.False(t, q.Distinct())
}

func TestLoadChildren(t *testing.T) {
	env := newTestEnv(t)
	env.seedContacts(t)
	ctx := context.Background()

	q := NewFor(env.reg.MustView(schema.ViewContact))
	list, err := env.runner.Execute(ctx, env.store, q, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 2, list.Len())

	require.NoError(t, env.runner.LoadChildren(ctx, env.store, list.Records()...))

	bob := list.Records()[1]
	nums, err := bob.Children(schema.ContactNumber)
	require.NoError(t, err)
	require.Len(t, nums, 2)
	first, _ := nums[0].String(schema.NumberNumber)
	assert.Equal(t, "+1 555 0100", first)
	assert.Same(t, bob, nums[0].Parent())
	assert.False(t, bob.Modified(schema.ContactNumber))

	names, err := bob.Children(schema.ContactName)
	require.NoError(t, err)
	require.Len(t, names, 1)
	last, _ := names[0].String(schema.NameLast)
	assert.Equal(t, "Jones", last)
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t)
	env.seedContacts(t)
	ctx := context.Background()
	contact := env.reg.MustView(schema.ViewContact)

	tests := []struct {
		name    string
		keyword string
		opts    SearchOptions
		want    []int
		snippet []string
	}{
		{
			name:    "own property, all ranges",
			keyword: "ann",
			opts:    SearchOptions{Snippet: true},
			want:    []int{1},
			snippet: []string{"[Ann] Smith"},
		},
		{
			name:    "data range windows long text",
			keyword: "ANNUAL",
			opts:    SearchOptions{Range: schema.RangeData, Snippet: true},
			want:    []int{1},
			snippet: []string{"... at the [annual] conference in ..."},
		},
		{
			name:    "child view property",
			keyword: "555",
			opts:    SearchOptions{Range: schema.RangeNumber, Snippet: true, StartMarker: "<b>", EndMarker: "</b>"},
			want:    []int{2},
			snippet: []string{"+1 <b>555</b> 0100"},
		},
		{
			name:    "child name without snippet",
			keyword: "jones",
			opts:    SearchOptions{Range: schema.RangeName},
			want:    []int{2},
			snippet: []string{""},
		},
		{
			name:    "out of range",
			keyword: "annual",
			opts:    SearchOptions{Range: schema.RangeEmail},
			want:    nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := env.runner.Search(ctx, env.store, NewFor(contact), tt.keyword, tt.opts, 0, 0)
			require.NoError(t, err)
			var got []int
			var snippets []string
			for _, h := range hits {
				got = append(got, h.Record.Key())
				snippets = append(snippets, h.Snippet)
			}
			assert.Equal(t, tt.want, got)
			if tt.snippet != nil {
				assert.Equal(t, tt.snippet, snippets)
			}
		})
	}
}

func TestSearch_SnippetFromUnprojectedColumn(t *testing.T) {
	env := newTestEnv(t)
	env.seedContacts(t)

	q := NewFor(env.reg.MustView(schema.ViewContact))
	require.NoError(t, q.SetProjection(schema.ContactID))

	hits, err := env.runner.Search(context.Background(), env.store, q, "oslo", SearchOptions{Snippet: true}, 0, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "... conference in [Oslo] last spring", hits[0].Snippet)
	assert.False(t, hits[0].Record.Has(schema.ContactNote))
}

func TestSearch_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.runner.Search(ctx, env.store, NewFor(env.person), "  ", SearchOptions{}, 0, 0)
	assert.True(t, errs.Is(err, errs.InvalidArgument))

	_, err = env.runner.Search(ctx, env.store, NewFor(env.reg.MustView(schema.ViewAddressBook)), "x", SearchOptions{}, 0, 0)
	assert.True(t, errs.Is(err, errs.InvalidArgument))
}

func TestSnippet(t *testing.T) {
	opts := SearchOptions{}.withDefaults()

	tests := []struct {
		text, needle, want string
		ok                 bool
	}{
		{"Ann Smith", "ann", "[Ann] Smith", true},
		{"one two three four five six seven", "six", "... three four five [six] seven", true},
		{"one two three four five six seven", "one", "[one] two three four five ...", true},
		{"Straße Nord", filter.Fold("STRASSE"), "[Straße] Nord", true},
		{"nothing here", "zzz", "", false},
	}
	for _, tt := range tests {
		got, ok := snippet(tt.text, tt.needle, opts)
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.Equal(t, tt.want, got, tt.text)
	}
}
