package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/querysql"
	"github.com/roach88/contactsd/internal/record"
	"github.com/roach88/contactsd/internal/schema"
	"github.com/roach88/contactsd/internal/storage"
)

// Runner executes queries against a storage executor and materializes
// the rows as records.
type Runner struct {
	factory  *record.Factory
	compiler *querysql.SQLCompiler
}

// NewRunner creates a runner building records with f.
func NewRunner(f *record.Factory) *Runner {
	return &Runner{
		factory:  f,
		compiler: querysql.NewSQLCompiler(f.Registry()),
	}
}

func checkWindow(op string, offset, limit int) error {
	if offset < 0 || limit < 0 {
		return errs.New(errs.InvalidArgument, op, "negative offset %d or limit %d", offset, limit)
	}
	return nil
}

// Execute runs q and returns the matching records in storage order,
// skipping offset rows and returning at most limit (0 means unbounded).
// Only the projected properties are populated; record-typed properties
// stay empty until LoadChildren.
func (r *Runner) Execute(ctx context.Context, ex storage.Executor, q *Query, offset, limit int) (*record.List, error) {
	const op = "query.execute"
	if err := checkWindow(op, offset, limit); err != nil {
		return nil, err
	}
	sel := q.selectFor(offset, limit)
	sql, params, err := r.compiler.Compile(sel)
	if err != nil {
		return nil, err
	}
	slog.Debug("query execute", "view", q.view.Name, "sql", sql)

	res, err := ex.Execute(ctx, storage.Query(sql, params...))
	if err != nil {
		return nil, err
	}

	cols := sel.Projected()
	list := record.NewListOf(q.view)
	for _, row := range res.Rows {
		rec, err := r.materialize(q.view, cols, row)
		if err != nil {
			list.Destroy(true)
			return nil, err
		}
		if err := list.Add(rec); err != nil {
			list.Destroy(true)
			return nil, err
		}
	}
	return list, nil
}

// Count returns the number of records q matches without building any.
func (r *Runner) Count(ctx context.Context, ex storage.Executor, q *Query) (int, error) {
	sql, params, err := r.compiler.CompileCount(q.selectFor(0, 0))
	if err != nil {
		return 0, err
	}
	res, err := ex.Execute(ctx, storage.Query(sql, params...))
	if err != nil {
		return 0, err
	}
	if len(res.Rows) != 1 || len(res.Rows[0]) != 1 {
		return 0, errs.New(errs.Io, "query.count", "count returned %d rows", len(res.Rows))
	}
	v, err := record.FromAny(schema.TypeInt64, res.Rows[0][0])
	if err != nil || v == nil {
		return 0, errs.New(errs.Io, "query.count", "unexpected count value %v", res.Rows[0][0])
	}
	return int(v.(record.Int64)), nil
}

func (r *Runner) materialize(v *schema.View, cols []schema.PropertyID, row []any) (*record.Record, error) {
	rec := r.factory.Blank(v)
	for i, id := range cols {
		p, err := v.Property(id)
		if err != nil {
			return nil, err
		}
		val, err := record.FromAny(p.Type, row[i])
		if err != nil {
			return nil, errs.Wrap(errs.Io, "query.materialize", fmt.Errorf("column %q: %w", p.Column, err))
		}
		if err := rec.Assign(id, val); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// LoadChildren populates the record-typed properties of recs from
// storage. Records without a key are skipped. Loaded children are not
// marked modified. Children are appended, so load each record once.
func (r *Runner) LoadChildren(ctx context.Context, ex storage.Executor, recs ...*record.Record) error {
	if len(recs) == 0 {
		return nil
	}
	v := recs[0].View()
	byKey := make(map[int]*record.Record, len(recs))
	var keys []any
	for _, rec := range recs {
		if rec.View().Name != v.Name {
			return errs.New(errs.TypeMismatch, "query.load_children", "mixed views %q and %q", v.Name, rec.View().Name)
		}
		if k := rec.Key(); k > 0 {
			byKey[k] = rec
			keys = append(keys, int64(k))
		}
	}
	if len(keys) == 0 {
		return nil
	}

	for _, p := range v.Properties() {
		if p.Type != schema.TypeRecord {
			continue
		}
		child, err := r.factory.Registry().View(p.Child)
		if err != nil {
			return err
		}
		if err := r.loadChildView(ctx, ex, p.ID, child, keys, byKey); err != nil {
			return fmt.Errorf("load %s children: %w", child.Name, err)
		}
	}
	return nil
}

func (r *Runner) loadChildView(ctx context.Context, ex storage.Executor, prop schema.PropertyID, child *schema.View, keys []any, byKey map[int]*record.Record) error {
	sel := querysql.Select{View: child}
	cols := sel.Projected()

	var parentProp schema.PropertyID
	names := make([]string, len(cols))
	for i, id := range cols {
		p, _ := child.Property(id)
		names[i] = storage.QuoteIdent(p.Column)
		if p.Column == child.Parent {
			parentProp = id
		}
	}
	if parentProp == 0 {
		return errs.New(errs.InvalidArgument, "query.load_children", "view %q does not expose its parent column", child.Name)
	}

	order := "rowid"
	if child.HasKey() {
		kp, err := child.Property(child.Key)
		if err != nil {
			return err
		}
		order = storage.QuoteIdent(kp.Column)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(keys)), ", ")
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s) ORDER BY %s ASC, %s ASC",
		strings.Join(names, ", "),
		storage.QuoteIdent(child.Table),
		storage.QuoteIdent(child.Parent),
		placeholders,
		storage.QuoteIdent(child.Parent),
		order)
	res, err := ex.Execute(ctx, storage.Query(sql, keys...))
	if err != nil {
		return err
	}

	for _, row := range res.Rows {
		kid, err := r.materialize(child, cols, row)
		if err != nil {
			return err
		}
		parentKey, _ := kid.Int(parentProp)
		owner, ok := byKey[parentKey]
		if !ok {
			kid.Destroy(true)
			continue
		}
		if err := owner.AttachChild(prop, kid); err != nil {
			return err
		}
	}
	return nil
}
