package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_SortsKeysAndKeepsHTML(t *testing.T) {
	got, err := Marshal(map[string]any{
		"b":    1,
		"a":    "<x & y>",
		"list": []any{true, nil, 2.5},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"<x & y>","b":1,"list":[true,null,2.5]}`, string(got))
}

func TestMarshal_NFCNormalizes(t *testing.T) {
	decomposed := "cafe\u0301"
	composed := "caf\u00e9"

	a, err := Marshal(map[string]string{decomposed: decomposed})
	require.NoError(t, err)
	b, err := Marshal(map[string]string{composed: composed})
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))
}

func TestMarshalIndent(t *testing.T) {
	type entry struct {
		Status string  `json:"status"`
		Last   *string `json:"last_ok"`
	}
	got, err := MarshalIndent(map[string]any{
		"version": 1,
		"series":  map[string]entry{"x": {Status: "ok"}},
		"empty":   map[string]any{},
	})
	require.NoError(t, err)

	want := "{\n" +
		"  \"empty\": {},\n" +
		"  \"series\": {\n" +
		"    \"x\": {\n" +
		"      \"last_ok\": null,\n" +
		"      \"status\": \"ok\"\n" +
		"    }\n" +
		"  },\n" +
		"  \"version\": 1\n" +
		"}\n"
	assert.Equal(t, want, string(got))
}

func TestEqual(t *testing.T) {
	eq, err := Equal(map[string]int{"a": 1, "b": 2}, struct {
		B int `json:"b"`
		A int `json:"a"`
	}{2, 1})
	require.NoError(t, err)
	assert.True(t, eq)

	eq, err = Equal(map[string]int{"a": 1}, map[string]int{"a": 2})
	require.NoError(t, err)
	assert.False(t, eq)
}

func TestLessUTF16(t *testing.T) {
	// U+1F600 sorts after U+FF61 in UTF-8 byte order but before it in UTF-16.
	assert.True(t, lessUTF16("\U0001F600", "｡"))
	assert.True(t, lessUTF16("a", "ab"))
	assert.False(t, lessUTF16("b", "a"))
}
