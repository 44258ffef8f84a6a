package ir

import (
	"fmt"
	"time"
)

// ValueStatus classifies whether a value carries data.
type ValueStatus string

const (
	// StatusNotSet marks the process-wide "no value supplied" sentinel.
	StatusNotSet ValueStatus = "not_set"
	// StatusNone marks the process-wide explicit-null sentinel.
	StatusNone ValueStatus = "none"
	// StatusSet marks a value carrying real data.
	StatusSet ValueStatus = "set"
)

// Value is an immutable, content-addressed artifact record. Values are
// created by the value store on first registration of a content hash and
// never mutated afterwards; a changed payload becomes a new Value.
//
// Values hold only their own ID, never a reference back to the owning
// store. The store owns the id→Value table.
type Value struct {
	ID             string      `json:"id"`
	DataTypeName   string      `json:"data_type_name"`
	DataTypeConfig Object      `json:"data_type_config,omitempty"`
	Size           int64       `json:"size"`
	ContentHash    string      `json:"content_hash"`
	Status         ValueStatus `json:"status"`
	Pedigree       Pedigree    `json:"pedigree"`
	Schema         FieldSchema `json:"schema"`
}

// Manifest identifies WHAT computation runs, independent of its inputs:
// the module type plus the module configuration.
type Manifest struct {
	ModuleType   string `json:"module_type"`
	ModuleConfig Object `json:"module_config,omitempty"`
}

// Hash returns the content-addressed identity of the manifest.
func (m Manifest) Hash() (string, error) {
	config := m.ModuleConfig
	if config == nil {
		config = Object{}
	}
	obj := Object{
		"module_type":   String(m.ModuleType),
		"module_config": config,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("manifest hash: %w", err)
	}
	return hashWithDomain(DomainManifest, canonical), nil
}

// Pedigree records the provenance of a Value: which manifest, fed with
// which input values, produced it on which output field.
//
// The zero Pedigree with Orphan=true marks externally supplied values
// with no recorded provenance.
type Pedigree struct {
	Orphan      bool              `json:"orphan,omitempty"`
	Manifest    Manifest          `json:"manifest,omitzero"`
	Inputs      map[string]string `json:"inputs,omitempty"` // input name -> value id
	OutputField string            `json:"output_field,omitempty"`
}

// OrphanPedigree returns the sentinel pedigree for values with no
// recorded provenance.
func OrphanPedigree() Pedigree {
	return Pedigree{Orphan: true}
}

// FieldKind classifies how a schema field resolves when no data is
// supplied. This replaces raise-to-signal-unset control flow with an
// explicit tri-state carried on the schema.
type FieldKind string

const (
	// FieldRequired fields must be supplied; an unset required field
	// makes the owning step unprocessable.
	FieldRequired FieldKind = "required"
	// FieldOptional fields fall back to Default when unset.
	FieldOptional FieldKind = "optional"
	// FieldConstant fields always resolve to Default and reject input.
	FieldConstant FieldKind = "constant"
)

// FieldSchema declares the type and resolution behavior of one field.
type FieldSchema struct {
	TypeName   string    `json:"type_name"`
	TypeConfig Object    `json:"type_config,omitempty"`
	Kind       FieldKind `json:"kind"`
	Default    Datum     `json:"-"`
}

// Step is one declared computation unit inside a pipeline structure.
type Step struct {
	ID       string   `json:"id"`
	Manifest Manifest `json:"manifest"`
	Required bool     `json:"required"`
}

// Connection wires one of three things: a step output to a step input, a
// pipeline input to a step input, or a step output to a pipeline output.
// Exactly one of the source fields and one of the target fields is set.
type Connection struct {
	// Source: either a step output or a pipeline input.
	FromStep     string `json:"from_step,omitempty"`
	FromOutput   string `json:"from_output,omitempty"`
	FromPipeline string `json:"from_pipeline,omitempty"`

	// Target: either a step input or a pipeline output.
	ToStep     string `json:"to_step,omitempty"`
	ToInput    string `json:"to_input,omitempty"`
	ToPipeline string `json:"to_pipeline,omitempty"`
}

// JobStatus is the lifecycle state of one job record.
type JobStatus string

const (
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

// JobRecord is one memoized execution of a manifest against resolved
// inputs. The JobHash doubles as the job id; at most one record per hash
// is authoritative.
type JobRecord struct {
	JobHash      string            `json:"job_hash"`
	ManifestHash string            `json:"manifest_hash"`
	InputsHash   string            `json:"inputs_hash"`
	Manifest     Manifest          `json:"manifest"`
	Status       JobStatus         `json:"status"`
	Outputs      map[string]string `json:"outputs,omitempty"` // field -> value id
	Submitted    time.Time         `json:"submitted"`
	Finished     time.Time         `json:"finished,omitzero"`
	Err          string            `json:"err,omitempty"`
}
