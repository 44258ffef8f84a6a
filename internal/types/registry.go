// Package types owns the data-type hierarchy: a DAG rooted at the
// universal "any" type, with one node per registered type and an edge to
// its single nearest declared parent. Profiles are named aliases that
// resolve to a base type plus a fixed configuration.
//
// Capability dispatch is by registry lookup, not inheritance: each type
// definition carries a Capability implementation, and resolved instances
// delegate to it.
package types

import (
	"fmt"
	"sync"

	"github.com/loomworks/loom/internal/ir"
)

// RootTypeName is the universal ancestor of every registered type.
const RootTypeName = "any"

// UnknownTypeError reports a lookup against an unregistered type name.
type UnknownTypeError struct {
	Name string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown data type %q", e.Name)
}

// Capability is the behavior contract a concrete type implements.
// Validate checks a payload against the type's validation contract under
// the given configuration; ExtractMetadata derives inspection metadata.
type Capability interface {
	Validate(d ir.Datum, config ir.Object) error
	ExtractMetadata(d ir.Datum) ir.Object
}

// Serializer is the optional wire capability for types with a custom
// byte representation. Types without it round-trip via canonical JSON.
type Serializer interface {
	Serialize(d ir.Datum) ([]byte, error)
	Deserialize(data []byte) (ir.Datum, error)
}

// Def declares one type: its name, its single nearest parent (empty only
// for the root), and its capability implementation.
type Def struct {
	Name       string
	Parent     string
	Capability Capability
}

// Profile declares a named alias resolving to (base type, fixed config).
// Profiles are inserted as DAG children of their base type.
type Profile struct {
	Name   string
	Base   string
	Config ir.Object
}

// Provider is a static descriptor bundling the types and profiles one
// component contributes. The registry is assembled once at process start
// from a plain list of providers; there is no runtime scanning.
type Provider struct {
	Types    []Def
	Profiles []Profile
}

// Instance is a resolved (type, config) pair. Instances with identical
// configuration are shared via the registry's memoization cache.
type Instance struct {
	Name       string
	Config     ir.Object
	capability Capability
}

// Validate checks a payload against this instance's contract.
func (i *Instance) Validate(d ir.Datum) error {
	return i.capability.Validate(d, i.Config)
}

// ExtractMetadata derives inspection metadata for a payload.
func (i *Instance) ExtractMetadata(d ir.Datum) ir.Object {
	return i.capability.ExtractMetadata(d)
}

type node struct {
	def      Def
	children []string
	// profileConfig is non-nil when this node is a profile alias.
	profileConfig ir.Object
	// profileBase names the concrete base type a profile resolves to.
	profileBase string
}

// Registry maintains the type DAG and its read-mostly caches.
type Registry struct {
	mu        sync.Mutex
	nodes     map[string]*node
	lineages  map[string][]string
	instances map[string]*Instance
}

// NewRegistry assembles a registry from provider descriptors. The root
// "any" type is always present. Providers are applied in order; types
// before profiles within each provider.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{
		nodes:     make(map[string]*node),
		lineages:  make(map[string][]string),
		instances: make(map[string]*Instance),
	}
	r.nodes[RootTypeName] = &node{
		def: Def{Name: RootTypeName, Capability: anyCapability{}},
	}

	for _, p := range providers {
		for _, def := range p.Types {
			if err := r.registerType(def); err != nil {
				return nil, err
			}
		}
		for _, prof := range p.Profiles {
			if err := r.registerProfile(prof); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

func (r *Registry) registerType(def Def) error {
	if def.Name == "" {
		return fmt.Errorf("register type: empty name")
	}
	if def.Capability == nil {
		return fmt.Errorf("register type %q: nil capability", def.Name)
	}
	if def.Parent == "" {
		def.Parent = RootTypeName
	}

	if _, exists := r.nodes[def.Name]; exists {
		return fmt.Errorf("register type %q: already registered", def.Name)
	}
	parent, ok := r.nodes[def.Parent]
	if !ok {
		return fmt.Errorf("register type %q: %w", def.Name, &UnknownTypeError{Name: def.Parent})
	}

	r.nodes[def.Name] = &node{def: def}
	parent.children = append(parent.children, def.Name)
	return nil
}

func (r *Registry) registerProfile(prof Profile) error {
	if _, exists := r.nodes[prof.Name]; exists {
		return fmt.Errorf("register profile %q: name already registered", prof.Name)
	}
	base, ok := r.nodes[prof.Base]
	if !ok {
		return fmt.Errorf("register profile %q: %w", prof.Name, &UnknownTypeError{Name: prof.Base})
	}
	if base.profileConfig != nil {
		return fmt.Errorf("register profile %q: base %q is itself a profile", prof.Name, prof.Base)
	}

	config := prof.Config
	if config == nil {
		config = ir.Object{}
	}
	r.nodes[prof.Name] = &node{
		def:           Def{Name: prof.Name, Parent: prof.Base, Capability: base.def.Capability},
		profileConfig: config,
		profileBase:   prof.Base,
	}
	base.children = append(base.children, prof.Name)
	return nil
}

// Lineage returns the path from the root to the named type, reversed so
// the most specific type comes first: [name, parent, ..., "any"].
// Cached after first computation.
func (r *Registry) Lineage(name string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.lineages[name]; ok {
		out := make([]string, len(cached))
		copy(out, cached)
		return out, nil
	}

	if _, ok := r.nodes[name]; !ok {
		return nil, &UnknownTypeError{Name: name}
	}

	// Each node has exactly one nearest parent, so the root→name path is
	// the parent chain walked upward.
	var lineage []string
	for cur := name; ; {
		lineage = append(lineage, cur)
		if cur == RootTypeName {
			break
		}
		cur = r.nodes[cur].def.Parent
	}

	r.lineages[name] = lineage
	out := make([]string, len(lineage))
	copy(out, lineage)
	return out, nil
}

// Descendants returns every transitive DAG descendant of the named type.
func (r *Registry) Descendants(name string) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	root, ok := r.nodes[name]
	if !ok {
		return nil, &UnknownTypeError{Name: name}
	}

	out := make(map[string]bool)
	stack := append([]string(nil), root.children...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if out[cur] {
			continue
		}
		out[cur] = true
		stack = append(stack, r.nodes[cur].children...)
	}
	return out, nil
}

// ResolveInstance returns the shared Instance for (name, config),
// memoized by the content hash of the pair. Profiles resolve to their
// base type with the profile's fixed config taking precedence over the
// caller's config.
func (r *Registry) ResolveInstance(name string, config ir.Object) (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[name]
	if !ok {
		return nil, &UnknownTypeError{Name: name}
	}

	resolvedName := name
	merged := make(ir.Object, len(config)+len(n.profileConfig))
	for k, v := range config {
		merged[k] = v
	}
	if n.profileConfig != nil {
		resolvedName = n.profileBase
		for k, v := range n.profileConfig {
			merged[k] = v
		}
	}

	key, err := ir.TypeInstanceHash(resolvedName, merged)
	if err != nil {
		return nil, fmt.Errorf("resolve instance %q: %w", name, err)
	}
	if inst, ok := r.instances[key]; ok {
		return inst, nil
	}

	inst := &Instance{
		Name:       resolvedName,
		Config:     merged,
		capability: n.def.Capability,
	}
	r.instances[key] = inst
	return inst, nil
}

// Known reports whether a type or profile name is registered.
func (r *Registry) Known(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.nodes[name]
	return ok
}
