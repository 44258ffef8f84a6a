package harness

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot renders a result as deterministic text for golden comparison:
// step states, output payloads, and lineage, all in name order.
func Snapshot(result *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario %s\n", result.Scenario)
	if result.RunError != "" {
		fmt.Fprintf(&b, "run error: %s\n", result.RunError)
	}
	if result.Run == nil {
		return []byte(b.String())
	}

	b.WriteString("steps:\n")
	for _, id := range sortedKeys(result.Run.States) {
		fmt.Fprintf(&b, "  %s: %s\n", id, result.Run.States[id])
	}
	b.WriteString("outputs:\n")
	for _, name := range sortedKeys(result.Run.Outputs) {
		fmt.Fprintf(&b, "  %s: %s = %s\n", name, result.Run.Outputs[name], result.Payloads[name])
	}
	for _, name := range sortedKeys(result.Lineage) {
		fmt.Fprintf(&b, "lineage %s:\n%s", name, result.Lineage[name])
	}
	return []byte(b.String())
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/<name>.golden. Regenerate with `go test -update`.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, Snapshot(result))
	return result, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
