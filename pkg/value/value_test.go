package value

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestZeroValueIsNull(t *testing.T) {
	var v Value
	assert.True(t, v.IsNull())
	assert.Equal(t, KindNull, v.Kind())
	assert.True(t, v.Equal(Null()))
}

func TestFromAny(t *testing.T) {
	tests := []struct {
		name  string
		input any
		kind  Kind
	}{
		{"nil", nil, KindNull},
		{"bool", true, KindBool},
		{"int", 42, KindNumber},
		{"int64", int64(-7), KindNumber},
		{"uint32", uint32(9), KindNumber},
		{"float32", float32(2.5), KindNumber},
		{"json number", json.Number("1.5e3"), KindNumber},
		{"string", "hello", KindString},
		{"numeric string stays string", "5", KindString},
		{"string slice", []string{"a", "b"}, KindList},
		{"any slice", []any{1, "x", nil}, KindList},
		{"string map", map[string]string{"k": "v"}, KindMap},
		{"nested map", map[string]any{"a": map[string]any{"b": []any{1.0}}}, KindMap},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromAny(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, got.Kind())
		})
	}

	t.Run("unsupported type", func(t *testing.T) {
		_, err := FromAny(struct{}{})
		assert.Error(t, err)
	})

	t.Run("unsupported nested type names the path", func(t *testing.T) {
		_, err := FromAny(map[string]any{"bad": []any{make(chan int)}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"bad"`)
		assert.Contains(t, err.Error(), "index 0")
	})
}

func TestAccessors(t *testing.T) {
	v := Map(map[string]Value{
		"stars": Int(5),
		"name":  String("one"),
		"ok":    Bool(true),
		"tags":  List(String("a"), String("b")),
	})

	stars, ok := v.Field("stars").AsNumber()
	require.True(t, ok)
	assert.Equal(t, 5.0, stars)

	name, ok := v.Field("name").AsString()
	require.True(t, ok)
	assert.Equal(t, "one", name)

	flag, ok := v.Field("ok").AsBool()
	require.True(t, ok)
	assert.True(t, flag)

	tags, ok := v.Field("tags").AsList()
	require.True(t, ok)
	assert.Len(t, tags, 2)

	assert.True(t, v.Field("missing").IsNull())
	assert.True(t, String("x").Field("any").IsNull())
	assert.Equal(t, []string{"name", "ok", "stars", "tags"}, v.Keys())
	assert.Equal(t, 4, v.Len())

	_, ok = v.AsString()
	assert.False(t, ok)
}

func TestConstructorsCopyInput(t *testing.T) {
	fields := map[string]Value{"a": Int(1)}
	v := Map(fields)
	fields["a"] = Int(2)
	fields["b"] = Int(3)

	a, _ := v.Field("a").AsNumber()
	assert.Equal(t, 1.0, a)
	assert.Equal(t, 1, v.Len())

	items := []Value{Int(1)}
	l := List(items...)
	items[0] = Int(9)
	got, _ := l.AsList()
	n, _ := got[0].AsNumber()
	assert.Equal(t, 1.0, n)
}

func TestEqual(t *testing.T) {
	a := MustFromAny(map[string]any{"x": []any{1, "two", map[string]any{"y": true}}})
	b := MustFromAny(map[string]any{"x": []any{1.0, "two", map[string]any{"y": true}}})
	c := MustFromAny(map[string]any{"x": []any{1, "two", map[string]any{"y": false}}})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, Int(1).Equal(String("1")))
	assert.False(t, List(Int(1)).Equal(List(Int(1), Int(2))))
	assert.True(t, Number(math.NaN()).Equal(Number(math.NaN())))
}

func TestJSONRoundTrip(t *testing.T) {
	in := MustFromAny(map[string]any{
		"stars": 5,
		"since": "2020-01-15",
		"tags":  []any{"a", nil, false},
	})

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"since":"2020-01-15","stars":5,"tags":["a",null,false]}`, string(data))

	var out Value
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, in.Equal(out), "got %s", out)
}

func TestMsgpackRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   Value
	}{
		{"null", Null()},
		{"nested", MustFromAny(map[string]any{"stars": 5, "tags": []any{"a", nil, false}})},
		{"nan", Map(map[string]Value{"score": Number(math.NaN())})},
		{"infinities", List(Number(math.Inf(1)), Number(math.Inf(-1)))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := msgpack.Marshal(tt.in)
			require.NoError(t, err)
			var out Value
			require.NoError(t, msgpack.Unmarshal(data, &out))
			assert.True(t, tt.in.Equal(out), "got %s", out)
		})
	}
}

func TestMarshalJSON_NonFinite(t *testing.T) {
	_, err := json.Marshal(Number(math.Inf(1)))
	assert.Error(t, err)
}

func TestString(t *testing.T) {
	v := MustFromAny(map[string]any{"b": 1, "a": []any{"x", nil}})
	assert.Equal(t, `{"a":["x",null],"b":1}`, v.String())
	assert.Equal(t, "null", Null().String())
	assert.Equal(t, "number", KindNumber.String())
}

func TestAnyRoundTrip(t *testing.T) {
	native := map[string]any{"n": 1.5, "s": "x", "l": []any{true}}
	v := MustFromAny(native)
	assert.Equal(t, native, v.Any())
}
