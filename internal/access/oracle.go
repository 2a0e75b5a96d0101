package access

import (
	"context"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/casbin/casbin/v3"
)

// Oracle decides the capabilities of a caller label. The engine never
// inspects labels itself.
type Oracle interface {
	Capabilities(ctx context.Context, label string) (Capability, error)
}

// StaticOracle maps labels to fixed capabilities. Unknown labels get none.
type StaticOracle map[string]Capability

// Capabilities implements Oracle.
func (o StaticOracle) Capabilities(_ context.Context, label string) (Capability, error) {
	return o[label], nil
}

//go:embed model.conf policy.csv
var embedFS embed.FS

// CasbinOracle evaluates an RBAC policy: labels are subjects, roles
// are granted (object, action) pairs, where the objects are contact and
// phonelog and the actions read and write.
type CasbinOracle struct {
	enforcer *casbin.Enforcer
}

// NewCasbinOracle loads the embedded model with the policy file at
// policyPath, or with the embedded default policy when policyPath is
// empty.
func NewCasbinOracle(policyPath string) (*CasbinOracle, error) {
	dir, err := os.MkdirTemp("", "contactsd-casbin-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	names := []string{"model.conf"}
	if policyPath == "" {
		names = append(names, "policy.csv")
		policyPath = filepath.Join(dir, "policy.csv")
	}
	if err := writeEmbedToDir(dir, names...); err != nil {
		return nil, err
	}

	e, err := casbin.NewEnforcer(filepath.Join(dir, "model.conf"), policyPath)
	if err != nil {
		return nil, fmt.Errorf("load casbin policy %s: %w", policyPath, err)
	}
	return &CasbinOracle{enforcer: e}, nil
}

func writeEmbedToDir(dir string, names ...string) error {
	for _, name := range names {
		data, err := embedFS.ReadFile(name)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0600); err != nil {
			return err
		}
	}
	return nil
}

// Capabilities implements Oracle.
func (o *CasbinOracle) Capabilities(_ context.Context, label string) (Capability, error) {
	var caps Capability
	for _, n := range capabilityNames {
		ok, err := o.enforcer.Enforce(label, n.obj, n.act)
		if err != nil {
			return 0, fmt.Errorf("enforce %s %s.%s: %w", label, n.obj, n.act, err)
		}
		if ok {
			caps |= n.c
		}
	}
	return caps, nil
}
