// Package querydoc reads queries and records from YAML documents.
//
// A query document names a view and describes the filter, projection,
// sort, window and optional keyword search by property name:
//
//	view: contact
//	filter:
//	  - {property: display_name, match: startswith, value: Ann}
//	  - op: or
//	  - group:
//	      - {property: is_favorite, match: eq, value: true}
//	projection: [id, display_name]
//	sort: {property: display_name, ascending: true}
//	limit: 20
//
// Filter terms are combined strictly left to right, like filter.Filter.
package querydoc

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/filter"
	"github.com/roach88/contactsd/internal/query"
	"github.com/roach88/contactsd/internal/record"
	"github.com/roach88/contactsd/internal/schema"
)

// Query is the YAML form of a query.
type Query struct {
	// View is the queried view name.
	View string `yaml:"view"`

	// Filter holds the filter terms in evaluation order.
	Filter []Term `yaml:"filter,omitempty"`

	// Projection lists the returned property names. Empty returns every
	// scalar property.
	Projection []string `yaml:"projection,omitempty"`

	Sort     *Sort `yaml:"sort,omitempty"`
	Distinct bool  `yaml:"distinct,omitempty"`
	Offset   int   `yaml:"offset,omitempty"`
	Limit    int   `yaml:"limit,omitempty"`

	// Search turns the query into a keyword search.
	Search *Search `yaml:"search,omitempty"`
}

// Term is one filter child: a predicate, an operator or a nested group.
// Exactly one of Property, Op and Group is set.
type Term struct {
	Property string `yaml:"property,omitempty"`
	// Match is a filter.Match name ("contains", "gt", "range", ...).
	Match string `yaml:"match,omitempty"`
	Value any    `yaml:"value,omitempty"`
	// High is the upper bound of a range match.
	High any `yaml:"high,omitempty"`

	// Op is "and" or "or".
	Op string `yaml:"op,omitempty"`

	Group []Term `yaml:"group,omitempty"`
}

// Sort names the sort property.
type Sort struct {
	Property  string `yaml:"property"`
	Ascending bool   `yaml:"ascending,omitempty"`
}

// Search configures a keyword search.
type Search struct {
	Keyword string `yaml:"keyword"`
	// Range lists search ranges ("name", "number", "data", "email"). Empty
	// searches all of them.
	Range   []string `yaml:"range,omitempty"`
	Snippet bool     `yaml:"snippet,omitempty"`
	Start   string   `yaml:"start,omitempty"`
	End     string   `yaml:"end,omitempty"`
	Window  int      `yaml:"window,omitempty"`
}

// LoadQuery reads a query document from path.
func LoadQuery(path string) (*Query, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read query file: %w", err)
	}
	return ParseQuery(data)
}

// ParseQuery decodes a query document. Unknown fields are rejected.
func ParseQuery(data []byte) (*Query, error) {
	var q Query
	if err := decodeStrict(data, &q); err != nil {
		return nil, err
	}
	if q.View == "" {
		return nil, errs.New(errs.InvalidArgument, "querydoc.parse", "view is required")
	}
	return &q, nil
}

func decodeStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return errs.Wrap(errs.InvalidArgument, "querydoc.parse", fmt.Errorf("failed to parse YAML: %w", err))
	}
	return nil
}

// Build compiles d against reg. The caller owns the returned query.
func (d *Query) Build(reg *schema.Registry) (*query.Query, error) {
	v, err := reg.View(d.View)
	if err != nil {
		return nil, err
	}
	q := query.NewFor(v)

	if len(d.Filter) > 0 {
		f, err := buildFilter(v, d.Filter)
		if err != nil {
			return nil, err
		}
		err = q.SetFilter(f)
		f.Destroy()
		if err != nil {
			return nil, err
		}
	}

	if len(d.Projection) > 0 {
		ids := make([]schema.PropertyID, 0, len(d.Projection))
		for _, name := range d.Projection {
			p, err := v.PropertyByName(name)
			if err != nil {
				return nil, err
			}
			ids = append(ids, p.ID)
		}
		if err := q.SetProjection(ids...); err != nil {
			return nil, err
		}
	}

	if d.Sort != nil {
		p, err := v.PropertyByName(d.Sort.Property)
		if err != nil {
			return nil, err
		}
		if err := q.SetSort(p.ID, d.Sort.Ascending); err != nil {
			return nil, err
		}
	}
	q.SetDistinct(d.Distinct)
	return q, nil
}

func buildFilter(v *schema.View, terms []Term) (*filter.Filter, error) {
	const op = "querydoc.filter"
	f := filter.NewFor(v)
	for i, t := range terms {
		var err error
		switch {
		case t.Op != "" && t.Property == "" && t.Group == nil:
			err = addOperator(f, t.Op)
		case t.Group != nil && t.Property == "" && t.Op == "":
			var g *filter.Filter
			if g, err = buildFilter(v, t.Group); err == nil {
				err = f.AddFilter(g)
				g.Destroy()
			}
		case t.Property != "" && t.Op == "" && t.Group == nil:
			err = addAttribute(f, v, t)
		default:
			err = errs.New(errs.InvalidArgument, op, "term %d must set exactly one of property, op and group", i+1)
		}
		if err != nil {
			f.Destroy()
			return nil, fmt.Errorf("filter term %d: %w", i+1, err)
		}
	}
	return f, nil
}

func addOperator(f *filter.Filter, name string) error {
	switch strings.ToLower(name) {
	case "and":
		return f.AddOperator(filter.And)
	case "or":
		return f.AddOperator(filter.Or)
	}
	return errs.New(errs.InvalidArgument, "querydoc.filter", "unknown operator %q", name)
}

func addAttribute(f *filter.Filter, v *schema.View, t Term) error {
	const op = "querydoc.filter"
	p, err := v.PropertyByName(t.Property)
	if err != nil {
		return err
	}
	m, ok := filter.ParseMatch(t.Match)
	if !ok {
		return errs.New(errs.InvalidArgument, op, "unknown match %q", t.Match)
	}
	val, err := scalar(p, t.Value)
	if err != nil {
		return err
	}
	if m == filter.InRange {
		high, err := scalar(p, t.High)
		if err != nil {
			return err
		}
		return f.AddRange(p.ID, val, high)
	}
	return f.AddAttribute(p.ID, m, val)
}

func scalar(p *schema.Property, raw any) (record.Value, error) {
	if p.Type == schema.TypeRecord {
		return nil, errs.New(errs.PropertyNotSupported, "querydoc.value", "record property %q has no scalar value", p.Name)
	}
	val, err := record.FromAny(p.Type, raw)
	if err != nil {
		return nil, errs.Wrap(errs.TypeMismatch, "querydoc.value", fmt.Errorf("property %q: %w", p.Name, err))
	}
	return val, nil
}

// SearchOptions returns the search configuration of d. It reports false
// when d is not a search.
func (d *Query) SearchOptions() (string, query.SearchOptions, bool, error) {
	if d.Search == nil {
		return "", query.SearchOptions{}, false, nil
	}
	opts := query.SearchOptions{
		Snippet:     d.Search.Snippet,
		StartMarker: d.Search.Start,
		EndMarker:   d.Search.End,
		Window:      d.Search.Window,
	}
	for _, name := range d.Search.Range {
		r, ok := schema.ParseSearchRange(name)
		if !ok {
			return "", query.SearchOptions{}, false, errs.New(errs.InvalidArgument, "querydoc.search", "unknown search range %q", name)
		}
		opts.Range |= r
	}
	return d.Search.Keyword, opts, true, nil
}
