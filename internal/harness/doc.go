// Package harness runs declarative pipeline scenarios for conformance
// testing. A scenario names a pipeline, supplies inputs, and asserts on
// the outcome: output payloads, final step states, and value lineage.
//
// Every scenario runs against a fresh in-memory stack with a sequential
// value id generator, so runs are fully deterministic and results can be
// compared against golden files.
package harness
