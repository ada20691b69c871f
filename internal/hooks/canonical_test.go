package hooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortedKeys(t *testing.T) {
	got, err := marshalCanonical(map[string]any{
		"zebra": "z",
		"alpha": "a",
		"mid":   1,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":"a","mid":1,"zebra":"z"}`, string(got))
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	got, err := marshalCanonical("a <b> & c")
	require.NoError(t, err)
	assert.Equal(t, `"a <b> & c"`, string(got))
}

func TestMarshalCanonical_NFCNormalization(t *testing.T) {
	// e + combining acute accent normalizes to the precomposed form.
	decomposed := "Café"
	got, err := marshalCanonical(decomposed)
	require.NoError(t, err)
	assert.Equal(t, `"Café"`, string(got))
}

func TestMarshalCanonical_NestedStructures(t *testing.T) {
	got, err := marshalCanonical(map[string]any{
		"items": []any{int64(1), "two", true},
		"inner": map[string]any{"b": false, "a": "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"inner":{"a":"x","b":false},"items":[1,"two",true]}`, string(got))
}

func TestMarshalCanonical_RejectsFloatsAndNulls(t *testing.T) {
	_, err := marshalCanonical(map[string]any{"x": 1.5})
	assert.Error(t, err)

	_, err = marshalCanonical(map[string]any{"x": nil})
	assert.Error(t, err)
}

func TestMarshalCanonical_Deterministic(t *testing.T) {
	obj := map[string]any{"b": int64(2), "a": "one", "c": []any{"x"}}

	first, err := marshalCanonical(obj)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := marshalCanonical(obj)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}
