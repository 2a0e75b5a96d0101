package record

import (
	"sync"

	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/schema"
)

// Plugin holds the view-specific lifecycle hooks of a record type.
//
// Init runs on every record created through Create or New and may assign
// defaults; records materialized from storage rows skip it. Clone runs
// after the generic deep copy with the source and the new record. Destroy
// runs unconditionally when a record is destroyed.
type Plugin interface {
	Init(r *Record)
	Clone(src, dst *Record)
	Destroy(r *Record)
}

// BasePlugin implements Plugin with no-ops. Embed it to override only the
// hooks a view needs.
type BasePlugin struct{}

func (BasePlugin) Init(*Record)           {}
func (BasePlugin) Clone(*Record, *Record) {}
func (BasePlugin) Destroy(*Record)        {}

// Factory creates records of registered views.
type Factory struct {
	reg *schema.Registry

	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewFactory creates a factory for the views of reg.
func NewFactory(reg *schema.Registry) *Factory {
	return &Factory{
		reg:     reg,
		plugins: make(map[string]Plugin),
	}
}

// Registry returns the registry the factory validates against.
func (f *Factory) Registry() *schema.Registry {
	return f.reg
}

// Register installs the plugin of a view, replacing any previous one.
func (f *Factory) Register(view string, p Plugin) error {
	if _, err := f.reg.View(view); err != nil {
		return err
	}
	if p == nil {
		return errs.New(errs.InvalidArgument, "record.register", "nil plugin for view %q", view)
	}
	f.mu.Lock()
	f.plugins[view] = p
	f.mu.Unlock()
	return nil
}

// Create returns an empty record of the named view.
func (f *Factory) Create(view string) (*Record, error) {
	v, err := f.reg.View(view)
	if err != nil {
		return nil, err
	}
	return f.New(v), nil
}

// New returns an empty record of v. v must come from the factory's registry.
func (f *Factory) New(v *schema.View) *Record {
	f.mu.RLock()
	p := f.plugins[v.Name]
	f.mu.RUnlock()
	if p == nil {
		p = BasePlugin{}
	}
	r := newRecord(v, p)
	p.Init(r)
	return r
}

// Blank returns an empty record of v without running the plugin's Init
// hook. The query engine uses it to materialize rows so that only the
// projected properties end up populated.
func (f *Factory) Blank(v *schema.View) *Record {
	f.mu.RLock()
	p := f.plugins[v.Name]
	f.mu.RUnlock()
	if p == nil {
		p = BasePlugin{}
	}
	return newRecord(v, p)
}
