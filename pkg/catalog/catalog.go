package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Sentinel errors for catalog construction and validation.
var (
	ErrDuplicateResource = errors.New("duplicate resource declaration")
	ErrUnresolvedRef     = errors.New("unresolved resource reference")
	ErrDependencyCycle   = errors.New("dependency cycle")
)

// catalogNamespace seeds the name-based catalog UUIDs.
var catalogNamespace = uuid.MustParse("3b0f5c7e-8d1a-4c6b-9f2e-5a7d1c9e0b43")

// Edge is a containment edge from a class to a resource it declares.
type Edge struct {
	Source Ref `json:"source"`
	Target Ref `json:"target"`
}

// Catalog is the compiled result for one node.
type Catalog struct {
	Name        string      `json:"name"`
	Environment string      `json:"environment"`
	Version     string      `json:"version,omitempty"`
	UUID        string      `json:"catalog_uuid,omitempty"`
	Classes     []string    `json:"classes"`
	Resources   []*Resource `json:"resources"`
	Edges       []Edge      `json:"edges,omitempty"`

	index map[Ref]int
}

// New creates an empty catalog for the named node.
func New(name, environment string) *Catalog {
	return &Catalog{
		Name:        name,
		Environment: environment,
		index:       make(map[Ref]int),
	}
}

// Add declares a resource. Declaring the same Type[title] twice fails.
func (c *Catalog) Add(r *Resource) error {
	if r == nil {
		return errors.New("nil resource")
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%s resource has an empty title", CanonicalType(r.Type))
	}
	r.Type = CanonicalType(r.Type)
	c.ensureIndex()
	ref := r.Ref()
	if _, exists := c.index[ref]; exists {
		return &ResolutionError{Resource: ref, Err: ErrDuplicateResource}
	}
	r.deriveSensitive()
	c.index[ref] = len(c.Resources)
	c.Resources = append(c.Resources, r)
	return nil
}

// AddClass records a class as evaluated and declares its Class resource.
func (c *Catalog) AddClass(name string) (Ref, error) {
	ref := NewRef("Class", CanonicalType(name))
	if slices.Contains(c.Classes, name) {
		return ref, &ResolutionError{Resource: ref, Err: ErrDuplicateResource}
	}
	c.Classes = append(c.Classes, name)
	if err := c.Add(&Resource{Type: ref.Type, Title: ref.Title}); err != nil {
		return ref, err
	}
	return ref, nil
}

// Contain records that class contains the resource ref.
func (c *Catalog) Contain(class, ref Ref) {
	c.Edges = append(c.Edges, Edge{Source: class, Target: ref})
}

// Lookup returns the resource for ref, if declared.
func (c *Catalog) Lookup(ref Ref) (*Resource, bool) {
	c.ensureIndex()
	i, ok := c.index[ref]
	if !ok {
		return nil, false
	}
	return c.Resources[i], true
}

// ensureIndex rebuilds the lookup index for catalogs that were decoded
// rather than built with New.
func (c *Catalog) ensureIndex() {
	if c.index != nil && len(c.index) == len(c.Resources) {
		return
	}
	c.index = make(map[Ref]int, len(c.Resources))
	for i, r := range c.Resources {
		c.index[r.Ref()] = i
	}
}

// Refs returns the references of all declared resources in declaration order.
func (c *Catalog) Refs() []Ref {
	refs := make([]Ref, 0, len(c.Resources))
	for _, r := range c.Resources {
		refs = append(refs, r.Ref())
	}
	return refs
}

// ResolutionError reports a resource whose declaration or relationships
// could not be resolved.
type ResolutionError struct {
	Resource Ref
	Relation Relation
	Target   Ref
	Err      error
}

func (e *ResolutionError) Error() string {
	if e.Target.IsZero() {
		return fmt.Sprintf("%s: %v", e.Resource, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Resource, e.Relation, e.Target, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Validate checks that every relationship targets a declared resource and
// that the relationship graph is acyclic.
func (c *Catalog) Validate() error {
	c.ensureIndex()
	var errs []error
	for _, r := range c.Resources {
		for _, rel := range r.Relationships() {
			if _, ok := c.index[rel.Target]; !ok {
				errs = append(errs, &ResolutionError{
					Resource: r.Ref(),
					Relation: rel.Relation,
					Target:   rel.Target,
					Err:      ErrUnresolvedRef,
				})
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if cycle := c.findCycle(); cycle != nil {
		parts := make([]string, len(cycle))
		for i, ref := range cycle {
			parts[i] = ref.String()
		}
		return &ResolutionError{
			Resource: cycle[0],
			Err:      fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(parts, " => ")),
		}
	}
	return nil
}

// successors returns the apply-order graph as adjacency lists indexed by
// declaration position. An edge a->b means a is applied before b.
// Unresolved targets are skipped.
func (c *Catalog) successors() [][]int {
	succ := make([][]int, len(c.Resources))
	link := func(from, to int) {
		if !slices.Contains(succ[from], to) {
			succ[from] = append(succ[from], to)
		}
	}
	for i, r := range c.Resources {
		for _, rel := range r.Relationships() {
			j, ok := c.index[rel.Target]
			if !ok {
				continue
			}
			switch rel.Relation {
			case RelationRequire, RelationSubscribe:
				link(j, i)
			case RelationBefore, RelationNotify:
				link(i, j)
			}
		}
	}
	for _, s := range succ {
		slices.Sort(s)
	}
	return succ
}

// findCycle returns one relationship cycle, first node repeated at the end,
// or nil if the graph is acyclic.
func (c *Catalog) findCycle() []Ref {
	const (
		white = iota
		grey
		black
	)
	succ := c.successors()
	color := make([]int, len(c.Resources))
	var stack []int

	var visit func(n int) []int
	visit = func(n int) []int {
		color[n] = grey
		stack = append(stack, n)
		for _, m := range succ[n] {
			switch color[m] {
			case grey:
				start := slices.Index(stack, m)
				return append(slices.Clone(stack[start:]), m)
			case white:
				if cycle := visit(m); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return nil
	}

	for n := range c.Resources {
		if color[n] != white {
			continue
		}
		if cycle := visit(n); cycle != nil {
			refs := make([]Ref, len(cycle))
			for i, idx := range cycle {
				refs[i] = c.Resources[idx].Ref()
			}
			return refs
		}
	}
	return nil
}

// Order returns the resources in apply order. Ties are broken by
// declaration order so the result is deterministic.
func (c *Catalog) Order() ([]Ref, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	succ := c.successors()
	indegree := make([]int, len(c.Resources))
	for _, s := range succ {
		for _, m := range s {
			indegree[m]++
		}
	}

	var ready []int
	for n, d := range indegree {
		if d == 0 {
			ready = append(ready, n)
		}
	}

	order := make([]Ref, 0, len(c.Resources))
	for len(ready) > 0 {
		slices.Sort(ready)
		n := ready[0]
		ready = ready[1:]
		order = append(order, c.Resources[n].Ref())
		for _, m := range succ[n] {
			indegree[m]--
			if indegree[m] == 0 {
				ready = append(ready, m)
			}
		}
	}
	return order, nil
}

// Seal stamps the catalog with a UUID derived from its Fingerprint.
// Sealing identical catalogs yields identical UUIDs.
func (c *Catalog) Seal() error {
	data, err := c.Fingerprint()
	if err != nil {
		return err
	}
	c.UUID = uuid.NewSHA1(catalogNamespace, data).String()
	return nil
}

// Fingerprint returns the canonical JSON encoding of the catalog content.
// It differs from the regular encoding in two ways: the UUID is left out
// and every Sensitive value is encoded as its Digest, so catalogs that
// differ only in a secret have different fingerprints.
func (c *Catalog) Fingerprint() ([]byte, error) {
	canon := Catalog{
		Name:        c.Name,
		Environment: c.Environment,
		Version:     c.Version,
		Classes:     c.Classes,
		Resources:   make([]*Resource, len(c.Resources)),
		Edges:       c.Edges,
	}
	for i, r := range c.Resources {
		canon.Resources[i] = r.withDigests()
	}
	data, err := json.Marshal(&canon)
	if err != nil {
		return nil, fmt.Errorf("marshaling catalog: %w", err)
	}
	return data, nil
}
