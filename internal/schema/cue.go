package schema

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// LoadError reports a malformed view definition with its CUE position.
type LoadError struct {
	View    string
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	loc := ""
	if e.Pos.IsValid() {
		loc = fmt.Sprintf("%s:%d:%d: ", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column())
	}
	if e.View != "" {
		return fmt.Sprintf("%sview %q: %s: %s", loc, e.View, e.Field, e.Message)
	}
	return fmt.Sprintf("%s%s: %s", loc, e.Field, e.Message)
}

// LoadCUE parses view definitions from CUE source.
//
// The expected shape is:
//
//	view: person: {
//		id:    100
//		table: "persons"
//		key:   "id"
//		properties: {
//			id:   {type: "int", usage: ["filter", "project", "readonly"]}
//			name: {type: "string", usage: ["filter", "project"], search: ["name"]}
//		}
//	}
//
// Properties keep their declaration order, which determines their IDs.
func LoadCUE(src []byte) ([]*View, error) {
	v := cuecontext.New().CompileBytes(src)
	return viewsFromValue(v)
}

// LoadCUEDir loads every CUE file of the package in dir.
func LoadCUEDir(dir string) ([]*View, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("views directory: %w", err)
	}
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Field: "load", Message: "no CUE instances loaded from " + dir}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError(inst.Err)
	}
	return viewsFromValue(cuecontext.New().BuildInstance(inst))
}

func viewsFromValue(v cue.Value) ([]*View, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	root := v.LookupPath(cue.ParsePath("view"))
	if !root.Exists() {
		return nil, &LoadError{Field: "view", Message: "no view definitions", Pos: v.Pos()}
	}
	iter, err := root.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var views []*View
	for iter.Next() {
		spec, err := parseViewSpec(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		view, err := NewView(spec)
		if err != nil {
			return nil, &LoadError{View: spec.Name, Field: "view", Message: err.Error(), Pos: iter.Value().Pos()}
		}
		views = append(views, view)
	}
	return views, nil
}

func parseViewSpec(name string, v cue.Value) (ViewSpec, error) {
	spec := ViewSpec{Name: name}

	id, err := v.LookupPath(cue.ParsePath("id")).Int64()
	if err != nil {
		return spec, &LoadError{View: name, Field: "id", Message: "required integer", Pos: v.Pos()}
	}
	if id <= 0 || id > 0xffff {
		return spec, &LoadError{View: name, Field: "id", Message: "must be in 1..65535", Pos: v.Pos()}
	}
	spec.ID = uint16(id)

	for field, dst := range map[string]*string{
		"table":  &spec.Table,
		"key":    &spec.Key,
		"parent": &spec.Parent,
		"scope":  &spec.Scope,
	} {
		fv := v.LookupPath(cue.ParsePath(field))
		if !fv.Exists() {
			continue
		}
		s, err := fv.String()
		if err != nil {
			return spec, &LoadError{View: name, Field: field, Message: "must be a string", Pos: fv.Pos()}
		}
		*dst = s
	}

	propsVal := v.LookupPath(cue.ParsePath("properties"))
	if !propsVal.Exists() {
		return spec, &LoadError{View: name, Field: "properties", Message: "at least one property is required", Pos: v.Pos()}
	}
	iter, err := propsVal.Fields()
	if err != nil {
		return spec, formatCUEError(err)
	}
	for iter.Next() {
		ps, err := parsePropSpec(name, iter.Label(), iter.Value())
		if err != nil {
			return spec, err
		}
		spec.Props = append(spec.Props, ps)
	}
	return spec, nil
}

func parsePropSpec(view, name string, v cue.Value) (PropSpec, error) {
	ps := PropSpec{Name: name}

	typeVal := v.LookupPath(cue.ParsePath("type"))
	typeName, err := typeVal.String()
	if err != nil {
		return ps, &LoadError{View: view, Field: name + ".type", Message: "required string", Pos: v.Pos()}
	}
	t, ok := ParseType(typeName)
	if !ok {
		return ps, &LoadError{View: view, Field: name + ".type", Message: fmt.Sprintf("unknown type %q", typeName), Pos: typeVal.Pos()}
	}
	ps.Type = t

	usages, err := stringList(v.LookupPath(cue.ParsePath("usage")))
	if err != nil {
		return ps, &LoadError{View: view, Field: name + ".usage", Message: err.Error(), Pos: v.Pos()}
	}
	for _, u := range usages {
		bit, ok := ParseUsage(u)
		if !ok {
			return ps, &LoadError{View: view, Field: name + ".usage", Message: fmt.Sprintf("unknown usage %q", u), Pos: v.Pos()}
		}
		ps.Usage |= bit
	}

	ranges, err := stringList(v.LookupPath(cue.ParsePath("search")))
	if err != nil {
		return ps, &LoadError{View: view, Field: name + ".search", Message: err.Error(), Pos: v.Pos()}
	}
	for _, r := range ranges {
		bit, ok := ParseSearchRange(r)
		if !ok {
			return ps, &LoadError{View: view, Field: name + ".search", Message: fmt.Sprintf("unknown range %q", r), Pos: v.Pos()}
		}
		ps.Search |= bit
	}

	for field, dst := range map[string]*string{"column": &ps.Column, "child": &ps.Child} {
		fv := v.LookupPath(cue.ParsePath(field))
		if !fv.Exists() {
			continue
		}
		s, err := fv.String()
		if err != nil {
			return ps, &LoadError{View: view, Field: name + "." + field, Message: "must be a string", Pos: fv.Pos()}
		}
		*dst = s
	}
	return ps, nil
}

// stringList reads an optional list of strings.
func stringList(v cue.Value) ([]string, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.List()
	if err != nil {
		return nil, fmt.Errorf("must be a list of strings")
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, fmt.Errorf("must be a list of strings")
		}
		out = append(out, s)
	}
	return out, nil
}

// formatCUEError converts a CUE error to a LoadError carrying the first
// position, if any.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	all := cueerrors.Errors(err)
	if len(all) == 0 {
		return err
	}
	first := all[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &LoadError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
