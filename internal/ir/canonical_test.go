package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", IRString("hello"), `"hello"`},
		{"empty string", IRString(""), `""`},
		{"int", IRInt(42), "42"},
		{"negative int", IRInt(-100), "-100"},
		{"max int64", IRInt(9223372036854775807), "9223372036854775807"},
		{"bool true", IRBool(true), "true"},
		{"bool false", IRBool(false), "false"},
		{"null", IRNull{}, "null"},
		{"empty array", IRArray{}, "[]"},
		{"empty object", IRObject{}, "{}"},
		{"array of ints", IRArray{IRInt(1), IRInt(2), IRInt(3)}, "[1,2,3]"},
		{"simple object", IRObject{"a": IRInt(1)}, `{"a":1}`},
		{"plain go map", map[string]any{"b": "x", "a": 1}, `{"a":1,"b":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := IRObject{
		"type":           IRString("localStorage"),
		"key":            IRString("test"),
		"securityOrigin": IRString("http://localhost"),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"key":"test","securityOrigin":"http://localhost","type":"localStorage"}`, string(result))
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+10000 encodes as a surrogate pair starting 0xD800, which sorts before U+E000.
	obj := IRObject{
		"\uE000":     IRInt(1),
		"\U00010000": IRInt(2),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\uE000\":1}", string(result))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	result, err := MarshalCanonical(IRString(`count(//H1[text()="a & <b>"])`))
	require.NoError(t, err)
	assert.Equal(t, `"count(//H1[text()=\"a & <b>\"])"`, string(result))
	assert.NotContains(t, string(result), `\u003c`)
	assert.NotContains(t, string(result), `\u0026`)
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	result, err := MarshalCanonical(IRString("a\u2028b\u2029c"))
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(result))

	// A literal backslash followed by the text u2028 keeps its escape.
	result, err = MarshalCanonical(IRString(`x\u2028`))
	require.NoError(t, err)
	assert.Equal(t, `"x\\u2028"`, string(result))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	// "e" + combining acute normalizes to the precomposed form.
	decomposed, err := MarshalCanonical(IRString("e\u0301"))
	require.NoError(t, err)
	precomposed, err := MarshalCanonical(IRString("\u00e9"))
	require.NoError(t, err)
	assert.Equal(t, precomposed, decomposed)
}

func TestMarshalCanonicalRejectsFloats(t *testing.T) {
	_, err := MarshalCanonical(3.14)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats")

	_, err = MarshalCanonical(map[string]any{"x": 1.5})
	require.Error(t, err)
}

func TestMarshalCanonicalRejectsInvalidUTF8(t *testing.T) {
	_, err := MarshalCanonical(IRString("\xff"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid UTF-8")

	_, err = MarshalCanonical(IRObject{"\xfe": IRInt(1)})
	require.Error(t, err)

	_, err = MarshalCanonical(IRArray{IRString("ok"), IRString("a\xffb")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "array[1]")

	out, err := MarshalCanonical(IRString("\uFFFD"))
	require.NoError(t, err)
	assert.Equal(t, "\"\uFFFD\"", string(out))
}

func TestMarshalCanonicalNestedErrorPath(t *testing.T) {
	_, err := MarshalCanonical(IRArray{IRObject{"bad": nil}, IRInt(1)})
	// nil inside an IRObject is treated as null, not an error
	require.NoError(t, err)

	_, err = MarshalCanonical([]any{struct{}{}})
	require.Error(t, err)
}
