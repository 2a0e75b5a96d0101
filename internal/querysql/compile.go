package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/filter"
	"github.com/roach88/contactsd/internal/record"
	"github.com/roach88/contactsd/internal/schema"
	"github.com/roach88/contactsd/internal/storage"
)

// Select is a validated read request against one view.
type Select struct {
	View   *schema.View
	Filter *filter.Filter

	// Columns is the projection. Empty selects every scalar property.
	Columns []schema.PropertyID

	// Sort is the sort key; zero sorts by the key column only.
	Sort      schema.PropertyID
	Ascending bool

	Distinct bool
	Offset   int
	Limit    int

	// Search adds a keyword predicate, ANDed with Filter.
	Search *Search
}

// Search is a keyword match over the searchable properties of a view and
// of its child views.
type Search struct {
	Keyword string
	// Range selects the participating properties; zero means all.
	Range schema.SearchRange
}

// Projected returns the property IDs a compiled Select returns, in column
// order.
func (q Select) Projected() []schema.PropertyID {
	if len(q.Columns) > 0 {
		return q.Columns
	}
	var ids []schema.PropertyID
	for _, p := range q.View.Properties() {
		if p.Type != schema.TypeRecord {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// SQLCompiler compiles Select requests to parameterized SQL for SQLite.
//
// Values are always bound as parameters, never interpolated. Every row
// query ends in an ORDER BY whose last term is the view's key column, so
// results are stable across runs.
type SQLCompiler struct {
	reg *schema.Registry
}

// NewSQLCompiler creates a compiler resolving child views in reg.
func NewSQLCompiler(reg *schema.Registry) *SQLCompiler {
	return &SQLCompiler{reg: reg}
}

// Compile converts q to a row-returning statement.
func (c *SQLCompiler) Compile(q Select) (string, []any, error) {
	if q.View == nil {
		return "", nil, errs.New(errs.InvalidArgument, "querysql.compile", "select has no view")
	}

	cols, err := c.compileColumns(q)
	if err != nil {
		return "", nil, err
	}
	where, params, err := c.compileWhere(q)
	if err != nil {
		return "", nil, err
	}
	order, err := c.compileOrder(q)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	if q.Distinct {
		b.WriteString("DISTINCT ")
	}
	b.WriteString(cols)
	b.WriteString(" FROM ")
	b.WriteString(storage.QuoteIdent(q.View.Table))
	b.WriteString(where)
	b.WriteString(" ORDER BY ")
	b.WriteString(order)

	if q.Limit > 0 || q.Offset > 0 {
		limit := q.Limit
		if limit <= 0 {
			limit = -1
		}
		b.WriteString(" LIMIT ? OFFSET ?")
		params = append(params, limit, q.Offset)
	}
	return b.String(), params, nil
}

// CompileCount converts q to a statement returning a single row count.
// Sort, offset and limit do not affect the count.
func (c *SQLCompiler) CompileCount(q Select) (string, []any, error) {
	if q.View == nil {
		return "", nil, errs.New(errs.InvalidArgument, "querysql.compile_count", "select has no view")
	}
	where, params, err := c.compileWhere(q)
	if err != nil {
		return "", nil, err
	}
	table := storage.QuoteIdent(q.View.Table)
	if !q.Distinct {
		return fmt.Sprintf("SELECT COUNT(*) FROM %s%s", table, where), params, nil
	}
	cols, err := c.compileColumns(q)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM (SELECT DISTINCT %s FROM %s%s)", cols, table, where), params, nil
}

func (c *SQLCompiler) column(v *schema.View, id schema.PropertyID) (string, *schema.Property, error) {
	p, err := v.Property(id)
	if err != nil {
		return "", nil, err
	}
	if p.Type == schema.TypeRecord {
		return "", nil, errs.New(errs.PropertyNotSupported, "querysql.column", "record property %q has no column", p.Name)
	}
	return storage.QuoteIdent(v.Table) + "." + storage.QuoteIdent(p.Column), p, nil
}

func (c *SQLCompiler) compileColumns(q Select) (string, error) {
	ids := q.Projected()
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		col, _, err := c.column(q.View, id)
		if err != nil {
			return "", err
		}
		parts = append(parts, col)
	}
	return strings.Join(parts, ", "), nil
}

// compileOrder returns the ORDER BY terms: the sort key first, then the
// key column as tiebreaker. DISTINCT queries break ties on the projected
// columns instead, since the key may not be selected.
func (c *SQLCompiler) compileOrder(q Select) (string, error) {
	var terms []string
	if q.Sort != 0 {
		col, _, err := c.column(q.View, q.Sort)
		if err != nil {
			return "", err
		}
		dir := "DESC"
		if q.Ascending {
			dir = "ASC"
		}
		terms = append(terms, col+" "+dir)
	}

	switch {
	case q.Distinct:
		for _, id := range q.Projected() {
			if id == q.Sort {
				continue
			}
			col, _, err := c.column(q.View, id)
			if err != nil {
				return "", err
			}
			terms = append(terms, col+" ASC")
		}
	case q.View.HasKey():
		if q.Sort != q.View.Key {
			col, _, err := c.column(q.View, q.View.Key)
			if err != nil {
				return "", err
			}
			terms = append(terms, col+" ASC")
		}
	default:
		terms = append(terms, storage.QuoteIdent(q.View.Table)+".rowid ASC")
	}
	return strings.Join(terms, ", "), nil
}

func (c *SQLCompiler) compileWhere(q Select) (string, []any, error) {
	var conds []string
	var params []any

	if q.Filter != nil {
		if q.Filter.View().Name != q.View.Name {
			return "", nil, errs.New(errs.ViewMismatch, "querysql.compile", "%q filter on %q select", q.Filter.View().Name, q.View.Name)
		}
		sql, p, err := c.compileFilter(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		conds = append(conds, sql)
		params = append(params, p...)
	}
	if q.Search != nil {
		sql, p, err := c.compileSearch(q.View, *q.Search)
		if err != nil {
			return "", nil, fmt.Errorf("compile search: %w", err)
		}
		conds = append(conds, sql)
		params = append(params, p...)
	}

	switch len(conds) {
	case 0:
		return "", nil, nil
	case 1:
		return " WHERE " + conds[0], params, nil
	}
	return " WHERE " + conds[0] + " AND " + conds[1], params, nil
}

// compileFilter renders children left to right, wrapping the running
// expression in parentheses at every operator: A OR B AND C becomes
// ((A OR B) AND C). This reproduces filter.Evaluate exactly.
func (c *SQLCompiler) compileFilter(f *filter.Filter) (string, []any, error) {
	if !f.Complete() {
		return "", nil, errs.New(errs.InvalidState, "querysql.compile_filter", "filter is empty or ends with an operator")
	}
	children := f.Children()
	expr, params, err := c.compileNode(f.View(), children[0])
	if err != nil {
		return "", nil, err
	}
	for i, op := range f.Operators() {
		next, p, err := c.compileNode(f.View(), children[i+1])
		if err != nil {
			return "", nil, err
		}
		expr = "(" + expr + " " + op.String() + " " + next + ")"
		params = append(params, p...)
	}
	return expr, params, nil
}

func (c *SQLCompiler) compileNode(v *schema.View, n filter.Node) (string, []any, error) {
	switch x := n.(type) {
	case *filter.Filter:
		return c.compileFilter(x)
	case *filter.Attribute:
		return c.compileAttribute(v, x)
	}
	return "", nil, fmt.Errorf("unsupported filter node type: %T", n)
}

func (c *SQLCompiler) compileAttribute(v *schema.View, a *filter.Attribute) (string, []any, error) {
	col, _, err := c.column(v, a.Property)
	if err != nil {
		return "", nil, err
	}
	val := record.Native(a.Value)
	folded := storage.Fold(col)

	switch a.Match {
	case filter.Exactly, filter.Equal:
		return col + " = ?", []any{val}, nil
	case filter.FullString:
		return folded + " = ?", []any{foldValue(val)}, nil
	case filter.Contains:
		return folded + ` LIKE ? ESCAPE '\'`, []any{"%" + escapeLike(val) + "%"}, nil
	case filter.StartsWith:
		return folded + ` LIKE ? ESCAPE '\'`, []any{escapeLike(val) + "%"}, nil
	case filter.EndsWith:
		return folded + ` LIKE ? ESCAPE '\'`, []any{"%" + escapeLike(val)}, nil
	case filter.Exists:
		return col + " IS NOT NULL", nil, nil
	case filter.None:
		return col + " IS NULL", nil, nil
	case filter.NotEqual:
		return col + " <> ?", []any{val}, nil
	case filter.Greater:
		return col + " > ?", []any{val}, nil
	case filter.GreaterOrEqual:
		return col + " >= ?", []any{val}, nil
	case filter.Less:
		return col + " < ?", []any{val}, nil
	case filter.LessOrEqual:
		return col + " <= ?", []any{val}, nil
	case filter.InRange:
		return col + " BETWEEN ? AND ?", []any{val, record.Native(a.High)}, nil
	}
	return "", nil, fmt.Errorf("unsupported match: %s", a.Match)
}

// compileSearch ORs a folded LIKE over every searchable property in range, with
// child views searched through correlated EXISTS sub-selects.
func (c *SQLCompiler) compileSearch(v *schema.View, s Search) (string, []any, error) {
	rng := s.Range
	if rng == 0 {
		rng = schema.RangeAll
	}
	pattern := "%" + escapeLike(s.Keyword) + "%"

	var terms []string
	var params []any
	for _, p := range v.Properties() {
		if p.Type == schema.TypeRecord {
			continue
		}
		if p.Search&rng != 0 {
			terms = append(terms, storage.Fold(storage.QuoteIdent(v.Table)+"."+storage.QuoteIdent(p.Column))+` LIKE ? ESCAPE '\'`)
			params = append(params, pattern)
		}
	}

	for _, child := range c.childViews(v) {
		var sub []string
		for _, p := range child.Properties() {
			if p.Type != schema.TypeRecord && p.Search&rng != 0 {
				sub = append(sub, storage.Fold(storage.QuoteIdent(child.Table)+"."+storage.QuoteIdent(p.Column))+` LIKE ? ESCAPE '\'`)
				params = append(params, pattern)
			}
		}
		if len(sub) == 0 {
			continue
		}
		key, _, err := c.column(v, v.Key)
		if err != nil {
			return "", nil, err
		}
		terms = append(terms, fmt.Sprintf("EXISTS (SELECT 1 FROM %s WHERE %s.%s = %s AND (%s))",
			storage.QuoteIdent(child.Table),
			storage.QuoteIdent(child.Table), storage.QuoteIdent(child.Parent),
			key,
			strings.Join(sub, " OR ")))
	}

	if len(terms) == 0 {
		return "", nil, errs.New(errs.InvalidArgument, "querysql.compile_search", "view %q has no searchable properties in range %d", v.Name, rng)
	}
	return "(" + strings.Join(terms, " OR ") + ")", params, nil
}

func (c *SQLCompiler) childViews(v *schema.View) []*schema.View {
	if c.reg == nil {
		return nil
	}
	return c.reg.ChildViews(v)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike folds v like storage.FoldFunc folds the column and escapes
// the LIKE wildcards in the result.
func escapeLike(v any) string {
	return likeEscaper.Replace(foldValue(v))
}

func foldValue(v any) string {
	s, _ := v.(string)
	return filter.Fold(s)
}
