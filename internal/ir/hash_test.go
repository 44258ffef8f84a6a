package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHash_StableAcrossKeyOrder(t *testing.T) {
	a := Object{"x": Int(1), "y": String("two")}
	b := Object{"y": String("two"), "x": Int(1)}

	ha, sa, err := ContentHash(a)
	require.NoError(t, err)
	hb, sb, err := ContentHash(b)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
	assert.Equal(t, sa, sb)
}

func TestContentHash_DiffersOnContent(t *testing.T) {
	ha, _, err := ContentHash(Object{"x": Int(1)})
	require.NoError(t, err)
	hb, _, err := ContentHash(Object{"x": Int(2)})
	require.NoError(t, err)

	assert.NotEqual(t, ha, hb)
}

func TestManifestHash_SensitiveToConfig(t *testing.T) {
	m1 := Manifest{ModuleType: "tokenize", ModuleConfig: Object{"lang": String("en")}}
	m2 := Manifest{ModuleType: "tokenize", ModuleConfig: Object{"lang": String("de")}}

	h1, err := m1.Hash()
	require.NoError(t, err)
	h2, err := m2.Hash()
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestManifestHash_NilConfigEqualsEmpty(t *testing.T) {
	h1, err := Manifest{ModuleType: "tokenize"}.Hash()
	require.NoError(t, err)
	h2, err := Manifest{ModuleType: "tokenize", ModuleConfig: Object{}}.Hash()
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
}

func TestJobHash_IndependentOfInputInsertionOrder(t *testing.T) {
	mh, err := Manifest{ModuleType: "join"}.Hash()
	require.NoError(t, err)

	h1, err := JobHash(mh, map[string]string{"left": "aaa", "right": "bbb"})
	require.NoError(t, err)
	h2, err := JobHash(mh, map[string]string{"right": "bbb", "left": "aaa"})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
}

func TestJobHash_SensitiveToInputs(t *testing.T) {
	mh, err := Manifest{ModuleType: "join"}.Hash()
	require.NoError(t, err)

	h1, err := JobHash(mh, map[string]string{"left": "aaa"})
	require.NoError(t, err)
	h2, err := JobHash(mh, map[string]string{"left": "ccc"})
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestDomainSeparation(t *testing.T) {
	// The same bytes under different domains must not collide.
	payload := Object{"k": String("v")}
	canonical, err := MarshalCanonical(payload)
	require.NoError(t, err)

	assert.NotEqual(t,
		hashWithDomain(DomainContent, canonical),
		hashWithDomain(DomainManifest, canonical),
	)
}

func TestTypeInstanceHash_SharedForIdenticalConfig(t *testing.T) {
	h1, err := TypeInstanceHash("string", Object{"max_length": Int(10)})
	require.NoError(t, err)
	h2, err := TypeInstanceHash("string", Object{"max_length": Int(10)})
	require.NoError(t, err)
	h3, err := TypeInstanceHash("string", Object{"max_length": Int(20)})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}
