package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity. The version suffix
// allows a future algorithm migration without colliding with old hashes.
const (
	DomainContent  = "loom/content/v1"
	DomainManifest = "loom/manifest/v1"
	DomainJob      = "loom/job/v1"
	DomainInputs   = "loom/inputs/v1"
	DomainType     = "loom/type/v1"
)

// hashWithDomain computes SHA256(domain || 0x00 || data). The null byte
// separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash computes the content-addressed hash of a payload together
// with the serialized size of its canonical form. Two payloads hash
// identically iff their canonical JSON is byte-identical.
func ContentHash(d Datum) (hash string, size int64, err error) {
	canonical, err := MarshalCanonical(d)
	if err != nil {
		return "", 0, fmt.Errorf("ContentHash: %w", err)
	}
	return hashWithDomain(DomainContent, canonical), int64(len(canonical)), nil
}

// JobHash computes a stable identity for one computation: the manifest
// hash plus the content hashes of every resolved input, keyed by input
// name. Identical computations hash identically regardless of which value
// ids happen to carry the input content.
func JobHash(manifestHash string, inputs map[string]string) (string, error) {
	inputObj := make(Object, len(inputs))
	for name, contentHash := range inputs {
		inputObj[name] = String(contentHash)
	}
	obj := Object{
		"manifest": String(manifestHash),
		"inputs":   inputObj,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("JobHash: %w", err)
	}
	return hashWithDomain(DomainJob, canonical), nil
}

// InputsHash computes the identity of a resolved input set alone,
// independent of the manifest consuming it.
func InputsHash(inputs map[string]string) (string, error) {
	obj := make(Object, len(inputs))
	for name, contentHash := range inputs {
		obj[name] = String(contentHash)
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("InputsHash: %w", err)
	}
	return hashWithDomain(DomainInputs, canonical), nil
}

// TypeInstanceHash computes the memoization key for a resolved type
// instance: the type name plus its fixed configuration.
func TypeInstanceHash(typeName string, config Object) (string, error) {
	if config == nil {
		config = Object{}
	}
	obj := Object{
		"type":   String(typeName),
		"config": config,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("TypeInstanceHash: %w", err)
	}
	return hashWithDomain(DomainType, canonical), nil
}
