// Package lineage reconstructs the provenance graph of a value: the
// operation that produced it, the values that fed that operation, and so
// on down to orphan leaves.
package lineage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/values"
)

// LineageCycleError reports a pedigree chain that revisits a value on
// the current resolution path. Pedigrees written by the value store are
// acyclic; this guards against corrupted or hand-crafted archives.
type LineageCycleError struct {
	Path []string
}

func (e *LineageCycleError) Error() string {
	return fmt.Sprintf("lineage cycle: %s", strings.Join(e.Path, " -> "))
}

// ValueNode is one value in the lineage graph. Nodes are shared: a value
// feeding several operations appears once.
type ValueNode struct {
	ID       string
	TypeName string
	Status   ir.ValueStatus
	Orphan   bool
	// Producer is nil for orphan values.
	Producer *Operation
}

// Operation is the computation that produced a value.
type Operation struct {
	Manifest    ir.Manifest
	OutputField string
	// Inputs are sorted by input name.
	Inputs []InputEdge
}

// InputEdge is one named input of an operation.
type InputEdge struct {
	Name  string
	Value *ValueNode
}

// Graph is the resolved lineage of one root value.
type Graph struct {
	Root *ValueNode

	nodes map[string]*ValueNode
	order []string
}

// Value returns the node for a value id, if it is part of the graph.
func (g *Graph) Value(id string) (*ValueNode, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// ValueIDs returns every value id in the graph in discovery order, root
// first.
func (g *Graph) ValueIDs() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Orphans returns the ids of the graph's orphan leaves, sorted. These
// are the externally supplied values everything else derives from.
func (g *Graph) Orphans() []string {
	var out []string
	for _, id := range g.order {
		if g.nodes[id].Orphan {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Resolver walks pedigrees against a value store.
type Resolver struct {
	store *values.Store
}

// NewResolver creates a resolver over the given store.
func NewResolver(store *values.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve builds the full lineage graph of one value. Shared
// subgraphs are resolved once; a pedigree cycle fails with
// LineageCycleError instead of recursing forever.
func (r *Resolver) Resolve(ctx context.Context, id string) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*ValueNode)}
	onPath := make(map[string]bool)

	root, err := r.visit(ctx, g, onPath, nil, id)
	if err != nil {
		return nil, err
	}
	g.Root = root
	return g, nil
}

func (r *Resolver) visit(ctx context.Context, g *Graph, onPath map[string]bool, path []string, id string) (*ValueNode, error) {
	if onPath[id] {
		return nil, &LineageCycleError{Path: append(append([]string{}, path...), id)}
	}
	if node, ok := g.nodes[id]; ok {
		return node, nil
	}

	v, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lineage of %q: %w", id, err)
	}

	node := &ValueNode{
		ID:       v.ID,
		TypeName: v.DataTypeName,
		Status:   v.Status,
		Orphan:   v.Pedigree.Orphan,
	}
	g.nodes[id] = node
	g.order = append(g.order, id)

	if v.Pedigree.Orphan {
		return node, nil
	}

	onPath[id] = true
	defer delete(onPath, id)
	path = append(path, id)

	names := make([]string, 0, len(v.Pedigree.Inputs))
	for name := range v.Pedigree.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	op := &Operation{
		Manifest:    v.Pedigree.Manifest,
		OutputField: v.Pedigree.OutputField,
		Inputs:      make([]InputEdge, 0, len(names)),
	}
	for _, name := range names {
		child, err := r.visit(ctx, g, onPath, path, v.Pedigree.Inputs[name])
		if err != nil {
			return nil, err
		}
		op.Inputs = append(op.Inputs, InputEdge{Name: name, Value: child})
	}
	node.Producer = op
	return node, nil
}
