package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_Equal(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"nulls", Null(), Null(), true},
		{"bools", Bool(true), Bool(true), true},
		{"bool mismatch", Bool(true), Bool(false), false},
		{"numbers", Number(1.5), Number(1.5), true},
		{"strings", String("a"), String("a"), true},
		{"kind mismatch", String("1"), Number(1), false},
		{"lists", List(String("a"), Number(2)), List(String("a"), Number(2)), true},
		{"list order matters", List(String("a"), String("b")), List(String("b"), String("a")), false},
		{
			"maps",
			Map(map[string]Value{"x": Number(1), "y": String("z")}),
			Map(map[string]Value{"y": String("z"), "x": Number(1)}),
			true,
		},
		{
			"map missing key",
			Map(map[string]Value{"x": Number(1)}),
			Map(map[string]Value{"y": Number(1)}),
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
		})
	}
}

func TestValue_JSONRoundTrip(t *testing.T) {
	orig := Map(map[string]Value{
		"name":  String("web"),
		"count": Number(3),
		"tags":  List(String("a"), String("b")),
		"labels": Map(map[string]Value{
			"env": String("prod"),
		}),
		"ephemeral": Null(),
	})

	data, err := json.Marshal(orig)
	require.NoError(t, err)

	var back Value
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, orig.Equal(back), "expected %s, got %s", orig.GoString(), back.GoString())
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(map[string]any{
		"n":    42,
		"f":    1.25,
		"s":    "str",
		"b":    true,
		"list": []any{"a", 1},
		"nil":  nil,
	})
	require.NoError(t, err)
	require.Equal(t, KindMap, v.Kind())

	m := v.AsMap()
	assert.True(t, m["n"].Equal(Number(42)))
	assert.True(t, m["f"].Equal(Number(1.25)))
	assert.True(t, m["s"].Equal(String("str")))
	assert.True(t, m["b"].Equal(Bool(true)))
	assert.True(t, m["list"].Equal(List(String("a"), Number(1))))
	assert.True(t, m["nil"].IsNull())

	_, err = FromAny(struct{}{})
	assert.Error(t, err)
}

func TestAttrs_Equal(t *testing.T) {
	a := Attrs{"image": String("nginx:1.27"), "replicas": Number(2)}
	b := Attrs{"replicas": Number(2), "image": String("nginx:1.27")}
	c := Attrs{"image": String("nginx:1.28"), "replicas": Number(2)}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(Attrs{"image": String("nginx:1.27")}))
}

func TestAttrs_SortedKeys(t *testing.T) {
	a := Attrs{"b": Null(), "a": Null(), "c": Null()}
	assert.Equal(t, []string{"a", "b", "c"}, a.SortedKeys())
}
