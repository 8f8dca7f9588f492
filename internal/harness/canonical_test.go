package harness

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"null", nil, `null`},
		{"string", "hi", `"hi"`},
		{"no html escaping", "<a&b>", `"<a&b>"`},
		{"nfc", "e\u0301", "\"\u00e9\""},
		{"bool", true, `true`},
		{"int", 42, `42`},
		{"int64", int64(-7), `-7`},
		{"float", 1.5, `1.5`},
		{"strings", []string{"a", "b"}, `["a","b"]`},
		{"sorted keys", map[string]any{"b": 1, "a": nil}, `{"a":null,"b":1}`},
		{"rows", []Row{{"id": 1}}, `[{"id":1}]`},
		{"empty rows", []Row{}, `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshalCanonical_Rejects(t *testing.T) {
	_, err := MarshalCanonical(math.NaN())
	assert.Error(t, err)

	_, err = MarshalCanonical(struct{}{})
	assert.Error(t, err)

	_, err = MarshalCanonical(map[string]any{"k": []any{make(chan int)}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `value for key "k"`)
}

func TestCompareUTF16(t *testing.T) {
	// U+FF61 sorts after U+1F600 in UTF-8 byte order but before it in
	// UTF-16, where the emoji is a surrogate pair starting 0xD83D.
	assert.Negative(t, compareUTF16("\U0001F600", "｡"))
	assert.Negative(t, compareUTF16("a", "ab"))
	assert.Zero(t, compareUTF16("x", "x"))
}
