package querysql

import (
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/filter"
	"github.com/roach88/contactsd/internal/record"
	"github.com/roach88/contactsd/internal/schema"
)

func assertGoldenSQL(t *testing.T, name, sql string, params []any) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(fmt.Sprintf("%s\n%v\n", sql, params)))
}

func view(name string) *schema.View {
	return schema.Builtin().MustView(name)
}

func TestCompile_LeftToRightFilter(t *testing.T) {
	f := filter.NewFor(view(schema.ViewContact))
	require.NoError(t, f.AddAttribute(schema.ContactFavorite, filter.Equal, record.Bool(true)))
	require.NoError(t, f.AddOperator(filter.Or))
	require.NoError(t, f.AddAttribute(schema.ContactDisplayName, filter.Contains, record.String("an")))
	require.NoError(t, f.AddOperator(filter.And))
	require.NoError(t, f.AddAttribute(schema.ContactAddressBookID, filter.Equal, record.Int(1)))

	c := NewSQLCompiler(schema.Builtin())
	sql, params, err := c.Compile(Select{
		View:      view(schema.ViewContact),
		Filter:    f,
		Columns:   []schema.PropertyID{schema.ContactID, schema.ContactDisplayName},
		Sort:      schema.ContactDisplayName,
		Ascending: true,
	})
	require.NoError(t, err)

	assert.NotContains(t, sql, "an%") // value NOT in SQL
	assertGoldenSQL(t, "contact_filter_left_to_right", sql, params)
}

func TestCompile_SearchNameRange(t *testing.T) {
	c := NewSQLCompiler(schema.Builtin())
	sql, params, err := c.Compile(Select{
		View:    view(schema.ViewContact),
		Columns: []schema.PropertyID{schema.ContactID, schema.ContactDisplayName},
		Search:  &Search{Keyword: "ann", Range: schema.RangeName},
	})
	require.NoError(t, err)
	assertGoldenSQL(t, "contact_search_name_range", sql, params)
}

func TestCompileCount_Distinct(t *testing.T) {
	f := filter.NewFor(view(schema.ViewPhoneLog))
	require.NoError(t, f.AddRange(schema.PhoneLogType, record.Int(1), record.Int(3)))

	c := NewSQLCompiler(schema.Builtin())
	sql, params, err := c.CompileCount(Select{
		View:     view(schema.ViewPhoneLog),
		Filter:   f,
		Columns:  []schema.PropertyID{schema.PhoneLogAddress},
		Distinct: true,
		Limit:    5,
	})
	require.NoError(t, err)
	assertGoldenSQL(t, "phone_log_count_distinct", sql, params)
}

func TestCompile_OffsetWithoutLimit(t *testing.T) {
	c := NewSQLCompiler(schema.Builtin())
	sql, params, err := c.Compile(Select{View: view(schema.ViewAddressBook), Offset: 10})
	require.NoError(t, err)
	assertGoldenSQL(t, "address_book_offset_unbounded", sql, params)
}

func TestCompile_OrderByMandatory(t *testing.T) {
	c := NewSQLCompiler(schema.Builtin())

	testCases := []struct {
		name string
		q    Select
		want string
	}{
		{
			name: "key only",
			q:    Select{View: view(schema.ViewGroup)},
			want: ` ORDER BY "contact_groups"."id" ASC`,
		},
		{
			name: "sort descending then key",
			q:    Select{View: view(schema.ViewGroup), Sort: schema.GroupName},
			want: ` ORDER BY "contact_groups"."name" DESC, "contact_groups"."id" ASC`,
		},
		{
			name: "sort by key",
			q:    Select{View: view(schema.ViewGroup), Sort: schema.GroupID, Ascending: true},
			want: ` ORDER BY "contact_groups"."id" ASC`,
		},
		{
			name: "distinct breaks ties on projection",
			q: Select{
				View:     view(schema.ViewGroup),
				Columns:  []schema.PropertyID{schema.GroupAddressBookID, schema.GroupName},
				Sort:     schema.GroupName,
				Distinct: true,
			},
			want: ` ORDER BY "contact_groups"."name" DESC, "contact_groups"."address_book_id" ASC`,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sql, _, err := c.Compile(tc.q)
			require.NoError(t, err)
			assert.Contains(t, sql, tc.want)
		})
	}
}

func TestCompile_NestedFilterGroups(t *testing.T) {
	v := view(schema.ViewContact)
	inner := filter.NewFor(v)
	require.NoError(t, inner.AddAttribute(schema.ContactNote, filter.Exists, nil))
	require.NoError(t, inner.AddOperator(filter.And))
	require.NoError(t, inner.AddAttribute(schema.ContactFavorite, filter.Equal, record.Bool(false)))

	outer := filter.NewFor(v)
	require.NoError(t, outer.AddAttribute(schema.ContactAddressBookID, filter.Equal, record.Int(2)))
	require.NoError(t, outer.AddOperator(filter.Or))
	require.NoError(t, outer.AddFilter(inner))

	sql, params, err := NewSQLCompiler(schema.Builtin()).Compile(Select{View: v, Filter: outer, Columns: []schema.PropertyID{schema.ContactID}})
	require.NoError(t, err)
	assert.Contains(t, sql, `WHERE ("contacts"."address_book_id" = ? OR ("contacts"."note" IS NOT NULL AND "contacts"."is_favorite" = ?))`)
	assert.Equal(t, []any{int64(2), int64(0)}, params)
}

func TestCompile_EscapesLikeWildcards(t *testing.T) {
	v := view(schema.ViewContact)
	f := filter.NewFor(v)
	require.NoError(t, f.AddAttribute(schema.ContactNote, filter.StartsWith, record.String(`50%_off\`)))

	_, params, err := NewSQLCompiler(schema.Builtin()).Compile(Select{View: v, Filter: f})
	require.NoError(t, err)
	assert.Equal(t, []any{`50\%\_off\\%`}, params)
}

func TestCompile_StringMatchesFoldBothSides(t *testing.T) {
	v := view(schema.ViewContact)
	c := NewSQLCompiler(schema.Builtin())

	tests := []struct {
		match filter.Match
		want  string
		param any
	}{
		{filter.FullString, `contacts_fold("contacts"."display_name") = ?`, "émile zola"},
		{filter.Contains, `contacts_fold("contacts"."display_name") LIKE ? ESCAPE '\'`, "%émile%"},
		{filter.StartsWith, `contacts_fold("contacts"."display_name") LIKE ? ESCAPE '\'`, "émile%"},
		{filter.Exactly, `"contacts"."display_name" = ?`, "ÉMILE"},
	}
	for _, tt := range tests {
		t.Run(tt.match.String(), func(t *testing.T) {
			f := filter.NewFor(v)
			operand := "ÉMILE"
			if tt.match == filter.FullString {
				operand = "Émile ZOLA"
			}
			require.NoError(t, f.AddAttribute(schema.ContactDisplayName, tt.match, record.String(operand)))
			sql, params, err := c.Compile(Select{View: v, Filter: f})
			require.NoError(t, err)
			assert.Contains(t, sql, tt.want)
			assert.Equal(t, []any{tt.param}, params)
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	c := NewSQLCompiler(schema.Builtin())

	dangling := filter.NewFor(view(schema.ViewContact))
	require.NoError(t, dangling.AddAttribute(schema.ContactNote, filter.Exists, nil))
	require.NoError(t, dangling.AddOperator(filter.And))

	groupFilter := filter.NewFor(view(schema.ViewGroup))
	require.NoError(t, groupFilter.AddAttribute(schema.GroupName, filter.Exists, nil))

	tests := []struct {
		name string
		q    Select
		code errs.Code
	}{
		{"no view", Select{}, errs.InvalidArgument},
		{"dangling operator", Select{View: view(schema.ViewContact), Filter: dangling}, errs.InvalidState},
		{"filter of other view", Select{View: view(schema.ViewContact), Filter: groupFilter}, errs.ViewMismatch},
		{"projection of other view", Select{View: view(schema.ViewContact), Columns: []schema.PropertyID{schema.NameFirst}}, errs.PropertyNotSupported},
		{"record projection", Select{View: view(schema.ViewContact), Columns: []schema.PropertyID{schema.ContactNumber}}, errs.PropertyNotSupported},
		{"nothing searchable", Select{View: view(schema.ViewAddressBook), Search: &Search{Keyword: "x"}}, errs.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := c.Compile(tt.q)
			require.Error(t, err)
			assert.Equal(t, tt.code, errs.CodeOf(err))
		})
	}
}
