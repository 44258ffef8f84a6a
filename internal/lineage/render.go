package lineage

import (
	"fmt"
	"strings"
)

// Render writes a lineage graph as deterministic indented text. Inputs
// appear in name order; a value already shown in full is referenced, not
// repeated.
func Render(g *Graph) string {
	var b strings.Builder
	seen := make(map[string]bool)
	renderValue(&b, g.Root, 0, "", seen)
	return b.String()
}

func renderValue(b *strings.Builder, n *ValueNode, depth int, label string, seen map[string]bool) {
	indent := strings.Repeat("  ", depth)

	line := indent
	if label != "" {
		line += "input " + label + ": "
	}
	line += fmt.Sprintf("value %s (%s, %s)", n.ID, n.TypeName, n.Status)
	if n.Orphan {
		line += " [orphan]"
	}
	if seen[n.ID] && n.Producer != nil {
		b.WriteString(line + " [shown above]\n")
		return
	}
	seen[n.ID] = true
	b.WriteString(line + "\n")

	if n.Producer == nil {
		return
	}
	fmt.Fprintf(b, "%s  produced by %s (output %s)\n", indent, n.Producer.Manifest.ModuleType, n.Producer.OutputField)
	for _, in := range n.Producer.Inputs {
		renderValue(b, in.Value, depth+2, in.Name, seen)
	}
}
