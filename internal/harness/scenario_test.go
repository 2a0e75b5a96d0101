package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/contactsd/internal/querydoc"
)

func TestLoadScenario_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"missing name", "description: d\nsteps: [{begin: true}]\n", "name is required"},
		{"missing description", "name: n\nsteps: [{begin: true}]\n", "description is required"},
		{"no steps", "name: n\ndescription: d\n", "steps list is required"},
		{"two operations", "name: n\ndescription: d\nsteps: [{begin: true, commit: true}]\n", "step 1: exactly one operation"},
		{"no operation", "name: n\ndescription: d\nsteps: [{as: app:x}]\n", "step 1: exactly one operation"},
		{"unknown field", "name: n\ndescription: d\nsteps: [{begin: true}]\nextra: 1\n", "failed to parse YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "s.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := LoadScenario(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestStep_Op(t *testing.T) {
	tests := []struct {
		step Step
		want string
	}{
		{Step{Insert: []querydoc.Record{{View: "contact"}}}, "insert"},
		{Step{Insert: []querydoc.Record{}}, ""},
		{Step{Update: &UpdateStep{View: "contact", ID: 1}}, "update"},
		{Step{Delete: &Ref{View: "contact", ID: 1}}, "delete"},
		{Step{Get: &Ref{View: "contact", ID: 1}}, "get"},
		{Step{Query: &querydoc.Query{View: "contact"}}, "query"},
		{Step{Count: &querydoc.Query{View: "contact"}}, "count"},
		{Step{Changes: &ChangesStep{View: "contact"}}, "changes"},
		{Step{Commit: true}, "commit"},
		{Step{Rollback: true, Begin: true}, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.step.op())
	}
	assert.Equal(t, DefaultCaller, (&Step{}).caller())
	assert.Equal(t, "app:x", (&Step{As: "app:x"}).caller())
}
