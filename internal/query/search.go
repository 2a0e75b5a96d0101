package query

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/filter"
	"github.com/roach88/contactsd/internal/querysql"
	"github.com/roach88/contactsd/internal/record"
	"github.com/roach88/contactsd/internal/schema"
	"github.com/roach88/contactsd/internal/storage"
)

// Default snippet settings.
const (
	DefaultStartMarker = "["
	DefaultEndMarker   = "]"
	DefaultWindow      = 5
)

// SearchOptions tune a keyword search.
type SearchOptions struct {
	// Range selects the participating properties; zero means all.
	Range schema.SearchRange

	// Snippet requests a highlighted excerpt per hit.
	Snippet bool
	// StartMarker and EndMarker surround the matching token. Both empty
	// selects the defaults.
	StartMarker string
	EndMarker   string
	// Window is the number of tokens in the excerpt.
	Window int
}

func (o SearchOptions) withDefaults() SearchOptions {
	if o.StartMarker == "" && o.EndMarker == "" {
		o.StartMarker = DefaultStartMarker
		o.EndMarker = DefaultEndMarker
	}
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.Range == 0 {
		o.Range = schema.RangeAll
	}
	return o
}

// Hit is one search result.
type Hit struct {
	Record  *record.Record
	Snippet string
}

// Search returns the records of q matching keyword in any searchable
// property in range, including properties of child views. The query's
// filter, projection and sort apply as in Execute.
//
// In snippet mode the hits also carry their children, and each snippet is
// cut from the first matching text: the record's own properties in
// declaration order, then its children.
func (r *Runner) Search(ctx context.Context, ex storage.Executor, q *Query, keyword string, opts SearchOptions, offset, limit int) ([]Hit, error) {
	const op = "query.search"
	if err := checkWindow(op, offset, limit); err != nil {
		return nil, err
	}
	if strings.TrimSpace(keyword) == "" {
		return nil, errs.New(errs.InvalidArgument, op, "empty keyword")
	}
	opts = opts.withDefaults()

	sel := q.selectFor(offset, limit)
	sel.Search = &querysql.Search{Keyword: keyword, Range: opts.Range}
	projected := sel.Projected()

	// Snippets need the text of searchable columns the caller did not
	// project. They are fetched alongside but never assigned.
	var extra []schema.PropertyID
	if opts.Snippet && !q.distinct {
		for _, p := range q.view.Properties() {
			if p.Type == schema.TypeString && p.Search&opts.Range != 0 && !slices.Contains(projected, p.ID) {
				extra = append(extra, p.ID)
			}
		}
		if len(extra) > 0 {
			sel.Columns = append(slices.Clone(projected), extra...)
		}
	}

	sql, params, err := r.compiler.Compile(sel)
	if err != nil {
		return nil, err
	}
	slog.Debug("query search", "view", q.view.Name, "range", opts.Range, "sql", sql)

	res, err := ex.Execute(ctx, storage.Query(sql, params...))
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(res.Rows))
	extraText := make([]map[schema.PropertyID]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		rec, err := r.materialize(q.view, projected, row[:len(projected)])
		if err != nil {
			destroyHits(hits)
			return nil, err
		}
		texts := make(map[schema.PropertyID]string, len(extra))
		for i, id := range extra {
			if s, ok := row[len(projected)+i].(string); ok {
				texts[id] = s
			}
		}
		hits = append(hits, Hit{Record: rec})
		extraText = append(extraText, texts)
	}
	if !opts.Snippet || len(hits) == 0 {
		return hits, nil
	}

	recs := make([]*record.Record, len(hits))
	for i := range hits {
		recs[i] = hits[i].Record
	}
	if err := r.LoadChildren(ctx, ex, recs...); err != nil {
		destroyHits(hits)
		return nil, err
	}

	needle := filter.Fold(strings.Fields(keyword)[0])
	for i := range hits {
		for _, text := range r.searchTexts(hits[i].Record, extraText[i], opts.Range) {
			if s, ok := snippet(text, needle, opts); ok {
				hits[i].Snippet = s
				break
			}
		}
	}
	return hits, nil
}

func destroyHits(hits []Hit) {
	for _, h := range hits {
		h.Record.Destroy(true)
	}
}

// searchTexts lists the searchable string values of rec in snippet order.
func (r *Runner) searchTexts(rec *record.Record, extra map[schema.PropertyID]string, rng schema.SearchRange) []string {
	var texts []string
	v := rec.View()
	for _, p := range v.Properties() {
		if p.Type != schema.TypeString || p.Search&rng == 0 {
			continue
		}
		if rec.Has(p.ID) {
			s, _ := rec.String(p.ID)
			texts = append(texts, s)
		} else if s, ok := extra[p.ID]; ok {
			texts = append(texts, s)
		}
	}
	for _, p := range v.Properties() {
		if p.Type != schema.TypeRecord {
			continue
		}
		kids, _ := rec.Children(p.ID)
		for _, k := range kids {
			texts = append(texts, r.searchTexts(k, nil, rng)...)
		}
	}
	return texts
}

// snippet cuts a window of tokens around the first token of text whose
// folded form contains needle, and wraps that token in the markers.
// Elided tokens on either side are shown as "...".
func snippet(text, needle string, o SearchOptions) (string, bool) {
	tokens := strings.Fields(text)
	at := -1
	for i, tok := range tokens {
		if strings.Contains(filter.Fold(tok), needle) {
			at = i
			break
		}
	}
	if at < 0 {
		return "", false
	}

	start := max(0, at-o.Window/2)
	end := min(len(tokens), start+o.Window)
	start = max(0, end-o.Window)

	parts := make([]string, 0, end-start+2)
	if start > 0 {
		parts = append(parts, "...")
	}
	for i := start; i < end; i++ {
		if i == at {
			parts = append(parts, o.StartMarker+tokens[i]+o.EndMarker)
		} else {
			parts = append(parts, tokens[i])
		}
	}
	if end < len(tokens) {
		parts = append(parts, "...")
	}
	return strings.Join(parts, " "), true
}
