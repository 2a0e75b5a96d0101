package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/contactsd/internal/querydoc"
)

// DefaultCaller is the label of steps without "as".
const DefaultCaller = "app:contacts"

// Scenario is one conformance scenario.
type Scenario struct {
	// Name identifies the scenario and its golden file.
	Name string `yaml:"name"`

	// Description says what the scenario validates.
	Description string `yaml:"description"`

	// Views lists CUE files with custom views, relative to the scenario
	// file.
	Views []string `yaml:"views,omitempty"`

	// Callers maps caller labels to capability names. Empty grants every
	// capability to every caller.
	Callers map[string][]string `yaml:"callers,omitempty"`

	// Admin is the administrative principal.
	Admin string `yaml:"admin,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Step performs exactly one operation.
type Step struct {
	// As is the caller label; DefaultCaller when empty.
	As string `yaml:"as,omitempty"`

	Insert  []querydoc.Record `yaml:"insert,omitempty"`
	Update  *UpdateStep       `yaml:"update,omitempty"`
	Delete  *Ref              `yaml:"delete,omitempty"`
	Get     *Ref              `yaml:"get,omitempty"`
	Query   *querydoc.Query   `yaml:"query,omitempty"`
	Count   *querydoc.Query   `yaml:"count,omitempty"`
	Changes *ChangesStep      `yaml:"changes,omitempty"`

	Begin    bool `yaml:"begin,omitempty"`
	Commit   bool `yaml:"commit,omitempty"`
	Rollback bool `yaml:"rollback,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Ref names one stored record.
type Ref struct {
	View string `yaml:"view"`
	ID   int    `yaml:"id"`
}

// UpdateStep loads a record, sets Values and writes it back.
type UpdateStep struct {
	View   string         `yaml:"view"`
	ID     int            `yaml:"id"`
	Values map[string]any `yaml:"values"`
}

// ChangesStep reads a change feed.
type ChangesStep struct {
	View        string `yaml:"view"`
	AddressBook int    `yaml:"address_book,omitempty"`
	Since       int    `yaml:"since"`
}

// Expect is checked after a step. Unset fields are not checked.
type Expect struct {
	// Error is the expected error code; empty expects success.
	Error string `yaml:"error,omitempty"`

	// IDs are the keys an insert returns.
	IDs []int `yaml:"ids,omitempty"`

	// Count is the result of a count step or the number of records a
	// query returns.
	Count *int `yaml:"count,omitempty"`

	// Records are matched in order against the returned records. Each
	// entry is a subset: only the listed properties are compared.
	Records []map[string]any `yaml:"records,omitempty"`

	// Snippets are the search snippets, in order.
	Snippets []string `yaml:"snippets,omitempty"`

	// Version is the committed change version after the step.
	Version *int `yaml:"version,omitempty"`
}

// op returns the step's operation name, or "" unless exactly one is set.
func (s *Step) op() string {
	var ops []string
	add := func(set bool, name string) {
		if set {
			ops = append(ops, name)
		}
	}
	add(len(s.Insert) > 0, "insert")
	add(s.Update != nil, "update")
	add(s.Delete != nil, "delete")
	add(s.Get != nil, "get")
	add(s.Query != nil, "query")
	add(s.Count != nil, "count")
	add(s.Changes != nil, "changes")
	add(s.Begin, "begin")
	add(s.Commit, "commit")
	add(s.Rollback, "rollback")
	if len(ops) != 1 {
		return ""
	}
	return ops[0]
}

func (s *Step) caller() string {
	if s.As == "" {
		return DefaultCaller
	}
	return s.As
}

// LoadScenario reads a scenario file. View paths are resolved relative to
// the file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	for i, v := range scenario.Views {
		if !filepath.IsAbs(v) {
			scenario.Views[i] = filepath.Join(base, v)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i := range s.Steps {
		if s.Steps[i].op() == "" {
			return fmt.Errorf("step %d: exactly one operation is required", i+1)
		}
	}
	return nil
}
