package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	testCases := []struct {
		name  string
		value Value
	}{
		{name: "null", value: Null()},
		{name: "bool true", value: Bool(true)},
		{name: "bool false", value: Bool(false)},
		{name: "int", value: Int(24)},
		{name: "negative int", value: Int(-7)},
		{name: "float", value: Float(1.5)},
		{name: "string", value: String("EUR")},
		{name: "empty string", value: String("")},
		{name: "list of scalars", value: List(Int(1), Int(2), Int(3))},
		{name: "mixed list", value: List(String("mon"), Bool(true), Float(0.5))},
		{
			name: "nested record",
			value: Object(map[string]Value{
				"primary":   String("#1a2b3c"),
				"compact":   Bool(false),
				"intervals": List(Int(15), Int(30), Int(60)),
				"labels": Object(map[string]Value{
					"entry": String("In"),
					"exit":  String("Out"),
				}),
			}),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := Encode(tc.value)
			require.NoError(t, err)

			decoded, err := Decode(raw)
			require.NoError(t, err)

			assert.True(t, tc.value.Equal(decoded), "round trip changed the value")
			assert.Equal(t, tc.value.Kind(), decoded.Kind())
		})
	}
}

func TestDecodeNumberSplit(t *testing.T) {
	testCases := []struct {
		name     string
		raw      string
		expected Kind
	}{
		{name: "plain integer", raw: "24", expected: KindInt},
		{name: "fractional", raw: "2.5", expected: KindFloat},
		{name: "exponent", raw: "1e3", expected: KindFloat},
		{name: "zero", raw: "0", expected: KindInt},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := Decode([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.expected, v.Kind())
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode(nil)
	require.ErrorIs(t, err, ErrEmptyPayload)

	_, err = Decode([]byte("   "))
	require.ErrorIs(t, err, ErrEmptyPayload)

	_, err = Decode([]byte("{broken"))
	require.Error(t, err)
}

func TestEqual(t *testing.T) {
	a := Object(map[string]Value{"x": Int(1), "y": List(String("a"))})
	b := Object(map[string]Value{"y": List(String("a")), "x": Int(1)})
	c := Object(map[string]Value{"x": Int(2), "y": List(String("a"))})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, Int(1).Equal(Float(1)))
	assert.False(t, Null().Equal(Bool(false)))
}

func TestAccessors(t *testing.T) {
	v := Object(map[string]Value{"limit": Int(42)})

	field, ok := v.Field("limit")
	require.True(t, ok)

	i, ok := field.AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(42), i)

	f, ok := field.AsFloat()
	require.True(t, ok, "int should convert to float")
	assert.InDelta(t, 42.0, f, 0.0001)

	_, ok = field.AsString()
	assert.False(t, ok)

	_, ok = Null().AsBool()
	assert.False(t, ok)

	assert.Equal(t, []string{"limit"}, v.FieldNames())
}

func TestFromNative(t *testing.T) {
	v, err := FromNative(map[string]any{"hours": 24, "ratio": 0.1})
	require.NoError(t, err)

	hours, ok := v.Field("hours")
	require.True(t, ok)
	assert.Equal(t, KindInt, hours.Kind())

	ratio, ok := v.Field("ratio")
	require.True(t, ok)
	assert.Equal(t, KindFloat, ratio.Kind())
}
