package compiler

import (
	"slices"
	"strings"

	"github.com/puzpuzpuz/xsync/v4"
)

// Metaparameters are accepted by every resource type.
var Metaparameters = []string{
	"alias", "audit", "before", "loglevel", "noop", "notify",
	"require", "schedule", "stage", "subscribe", "tag",
}

// TypeInfo describes a resource type provided by a module.
type TypeInfo struct {
	Name       string
	Module     string
	Providers  []string
	Attributes []string
}

// Module is a dependency that contributes resource types, or providers
// for types defined elsewhere.
type Module struct {
	Name      string
	Types     []TypeInfo
	Providers map[string][]string // type name -> extra providers
}

// Registry resolves resource types and providers. It is safe for
// concurrent use.
type Registry struct {
	types *xsync.Map[string, TypeInfo]
}

// NewRegistry creates a registry holding the given modules.
func NewRegistry(modules ...Module) *Registry {
	r := &Registry{types: xsync.NewMap[string, TypeInfo]()}
	for _, m := range modules {
		r.Register(m)
	}
	return r
}

// DefaultModules returns the core types plus the module dependencies of
// the domain_membership class.
func DefaultModules() []Module {
	return []Module{
		{
			Name: "puppet",
			Types: []TypeInfo{{
				Name:      "exec",
				Providers: []string{"posix", "shell", "windows"},
				Attributes: []string{
					"command", "creates", "cwd", "environment", "group", "logoutput",
					"onlyif", "path", "provider", "refresh", "refreshonly", "returns",
					"timeout", "tries", "try_sleep", "umask", "unless", "user",
				},
			}},
		},
		{
			Name:      "puppetlabs/powershell",
			Providers: map[string][]string{"exec": {"powershell", "pwsh"}},
		},
		{
			Name: "puppetlabs/reboot",
			Types: []TypeInfo{{
				Name:       "reboot",
				Providers:  []string{"windows", "linux", "posix"},
				Attributes: []string{"apply", "message", "name", "onlyif", "provider", "timeout", "unless", "when"},
			}},
		},
	}
}

// Register adds a module's types and providers. Providers for a type that
// is not registered yet are kept and merged when the type arrives.
func (r *Registry) Register(m Module) {
	for _, t := range m.Types {
		t.Module = m.Name
		key := typeKey(t.Name)
		r.types.Compute(key, func(old TypeInfo, loaded bool) (TypeInfo, xsync.ComputeOp) {
			if loaded {
				t.Providers = mergeUnique(t.Providers, old.Providers)
			}
			return t, xsync.UpdateOp
		})
	}
	for name, providers := range m.Providers {
		key := typeKey(name)
		r.types.Compute(key, func(old TypeInfo, loaded bool) (TypeInfo, xsync.ComputeOp) {
			if !loaded {
				old = TypeInfo{Name: name}
			}
			old.Providers = mergeUnique(old.Providers, providers)
			return old, xsync.UpdateOp
		})
	}
}

// Lookup returns the type registered under name. A type only known through
// provider contributions is not resolvable.
func (r *Registry) Lookup(name string) (TypeInfo, bool) {
	t, ok := r.types.Load(typeKey(name))
	if !ok || t.Module == "" {
		return TypeInfo{}, false
	}
	return t, true
}

// Types returns the names of the resolvable types, sorted.
func (r *Registry) Types() []string {
	var names []string
	r.types.Range(func(key string, t TypeInfo) bool {
		if t.Module != "" {
			names = append(names, key)
		}
		return true
	})
	slices.Sort(names)
	return names
}

// HasProvider reports whether the type supports the named provider.
func (t TypeInfo) HasProvider(name string) bool {
	return slices.Contains(t.Providers, name)
}

// HasAttribute reports whether name is an attribute of the type or a
// metaparameter.
func (t TypeInfo) HasAttribute(name string) bool {
	return slices.Contains(t.Attributes, name) || slices.Contains(Metaparameters, name)
}

func typeKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func mergeUnique(a, b []string) []string {
	out := slices.Clone(a)
	for _, s := range b {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
