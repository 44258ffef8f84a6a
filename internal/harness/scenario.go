package harness

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/loomworks/loom/internal/ir"
)

// Scenario defines one conformance scenario: a pipeline, its inputs, and
// the expected outcome.
type Scenario struct {
	// Name uniquely identifies this scenario. It doubles as the golden
	// file name for RunWithGolden.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description,omitempty"`

	// Pipeline is the path to a CUE pipeline file, relative to the
	// scenario file location. Exactly one of Pipeline and Source is set.
	Pipeline string `yaml:"pipeline,omitempty"`

	// Source is an inline CUE pipeline declaration, as an alternative to
	// a file reference.
	Source string `yaml:"source,omitempty"`

	// Staging overrides the pipeline's staging policy when non-empty.
	Staging string `yaml:"staging,omitempty"`

	// Inputs maps pipeline input names to payloads. Values are converted
	// to data payloads and registered as orphans before the run.
	Inputs map[string]any `yaml:"inputs,omitempty"`

	// ExpectError, when non-empty, declares that the run must fail and
	// that the failure message contains this substring. A succeeding run
	// then fails the scenario.
	ExpectError string `yaml:"expect_error,omitempty"`

	// Assertions validate outputs, step states, and lineage after the run.
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// dir anchors relative Pipeline paths. Set by LoadScenario.
	dir string
}

// LoadScenario reads and validates a scenario from a YAML file. Relative
// pipeline paths resolve against the scenario file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	s.dir = filepath.Dir(path)

	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &s, nil
}

func (s *Scenario) validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if (s.Pipeline == "") == (s.Source == "") {
		return fmt.Errorf("exactly one of pipeline and source must be set")
	}
	for i, a := range s.Assertions {
		if err := a.validate(); err != nil {
			return fmt.Errorf("assertion %d: %w", i, err)
		}
	}
	return nil
}

// pipelinePath resolves the pipeline file reference against the scenario
// file's directory.
func (s *Scenario) pipelinePath() string {
	if filepath.IsAbs(s.Pipeline) || s.dir == "" {
		return s.Pipeline
	}
	return filepath.Join(s.dir, s.Pipeline)
}

// convertToDatum converts a YAML-parsed value to a data payload. Floats
// are rejected: payloads are content-addressed and float formatting is
// not canonical across platforms.
func convertToDatum(val any) (ir.Datum, error) {
	switch v := val.(type) {
	case nil:
		return ir.Null{}, nil
	case string:
		return ir.String(v), nil
	case int:
		return ir.Int(v), nil
	case int64:
		return ir.Int(v), nil
	case bool:
		return ir.Bool(v), nil
	case float64:
		// YAML decoders hand over whole numbers as float64 in `any`.
		if v == float64(int64(v)) {
			return ir.Int(int64(v)), nil
		}
		return nil, fmt.Errorf("float values are forbidden, use int instead")
	case []any:
		arr := make(ir.Array, len(v))
		for i, elem := range v {
			d, err := convertToDatum(elem)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			arr[i] = d
		}
		return arr, nil
	case map[string]any:
		obj := make(ir.Object, len(v))
		for key, elem := range v {
			d, err := convertToDatum(elem)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", key, err)
			}
			obj[key] = d
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported payload type %T", val)
	}
}

// datumTypeName maps a payload to the builtin type it registers under.
func datumTypeName(d ir.Datum) string {
	switch d.(type) {
	case ir.String:
		return "string"
	case ir.Int:
		return "integer"
	case ir.Bool:
		return "boolean"
	case ir.Array:
		return "array"
	case ir.Object:
		return "mapping"
	default:
		return "any"
	}
}
