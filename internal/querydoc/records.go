package querydoc

import (
	"fmt"
	"os"
	"slices"

	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/record"
	"github.com/roach88/contactsd/internal/schema"
)

// Records is a YAML batch of records to insert:
//
//	records:
//	  - view: contact
//	    values: {address_book_id: 1, note: met in Oslo}
//	    children:
//	      name:   [{first: Ann, last: Smith}]
//	      number: [{number: "+1 555 0100", type: 1}]
type Records struct {
	Records []Record `yaml:"records"`
}

// Record is one record document. Children maps a record-typed property
// name to the values of each child.
type Record struct {
	View     string                      `yaml:"view"`
	Values   map[string]any              `yaml:"values,omitempty"`
	Children map[string][]map[string]any `yaml:"children,omitempty"`
}

// LoadRecords reads a records document from path.
func LoadRecords(path string) (*Records, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read records file: %w", err)
	}
	return ParseRecords(data)
}

// ParseRecords decodes a records document. Unknown fields are rejected.
func ParseRecords(data []byte) (*Records, error) {
	var rs Records
	if err := decodeStrict(data, &rs); err != nil {
		return nil, err
	}
	if len(rs.Records) == 0 {
		return nil, errs.New(errs.InvalidArgument, "querydoc.parse", "records list is required and must be non-empty")
	}
	return &rs, nil
}

// Build creates the records with f, running each view's Init hook.
func (rs *Records) Build(f *record.Factory) ([]*record.Record, error) {
	out := make([]*record.Record, 0, len(rs.Records))
	for i, d := range rs.Records {
		r, err := d.Build(f)
		if err != nil {
			for _, done := range out {
				done.Destroy(true)
			}
			return nil, fmt.Errorf("record %d: %w", i+1, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Build creates one record and its children.
func (d Record) Build(f *record.Factory) (*record.Record, error) {
	r, err := f.Create(d.View)
	if err != nil {
		return nil, err
	}
	if err := setValues(r, d.Values); err != nil {
		r.Destroy(true)
		return nil, err
	}
	for _, name := range sortedKeys(d.Children) {
		p, err := r.View().PropertyByName(name)
		if err != nil {
			r.Destroy(true)
			return nil, err
		}
		if p.Type != schema.TypeRecord {
			r.Destroy(true)
			return nil, errs.New(errs.TypeMismatch, "querydoc.children", "property %q is not record-typed", name)
		}
		for _, vals := range d.Children[name] {
			child, err := f.Create(p.Child)
			if err == nil {
				err = setValues(child, vals)
			}
			if err == nil {
				err = r.AddChild(p.ID, child)
			}
			if err != nil {
				r.Destroy(true)
				return nil, fmt.Errorf("%s child: %w", name, err)
			}
		}
	}
	return r, nil
}

func setValues(r *record.Record, vals map[string]any) error {
	for _, name := range sortedKeys(vals) {
		p, err := r.View().PropertyByName(name)
		if err != nil {
			return err
		}
		v, err := scalar(p, vals[name])
		if err != nil {
			return err
		}
		if v == nil {
			continue
		}
		if err := r.Set(p.ID, v); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// ToMap renders r as a map keyed by property name, with children as
// lists of maps. Unset properties are omitted.
func ToMap(r *record.Record) map[string]any {
	out := make(map[string]any)
	for _, p := range r.View().Properties() {
		if p.Type == schema.TypeRecord {
			kids, _ := r.Children(p.ID)
			if len(kids) == 0 {
				continue
			}
			list := make([]any, len(kids))
			for i, k := range kids {
				list[i] = ToMap(k)
			}
			out[p.Name] = list
			continue
		}
		if v, err := r.Get(p.ID); err == nil && v != nil {
			out[p.Name] = plain(v)
		}
	}
	return out
}

func plain(v record.Value) any {
	switch x := v.(type) {
	case record.Int:
		return int(x)
	case record.String:
		return string(x)
	case record.Bool:
		return bool(x)
	case record.Int64:
		return int64(x)
	case record.Double:
		return float64(x)
	}
	return nil
}

// Apply sets the document's values on r, a record of the same view.
// Children are not touched.
func (d Record) Apply(r *record.Record) error {
	if d.View != r.View().Name {
		return errs.New(errs.ViewMismatch, "querydoc.apply", "%q values on a %q record", d.View, r.View().Name)
	}
	return setValues(r, d.Values)
}
