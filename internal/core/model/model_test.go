package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueEqual(t *testing.T) {
	assert.True(t, Int(30).Equal(Number(30)))
	assert.False(t, Int(30).Equal(String("30")))
	assert.True(t, Null().Equal(Value{}))
	assert.True(t, List(String("a"), Int(1)).Equal(List(String("a"), Int(1))))
	assert.False(t, List(String("a")).Equal(List(String("a"), String("b"))))

	a := Map(map[string]Value{"source": String("doc1.pdf"), "page": Int(2)})
	b := Map(map[string]Value{"page": Int(2), "source": String("doc1.pdf")})
	assert.True(t, a.Equal(b))
}

func TestValueAccessors(t *testing.T) {
	s, ok := String("Apple").AsString()
	assert.True(t, ok)
	assert.Equal(t, "Apple", s)
	_, ok = Int(1).AsString()
	assert.False(t, ok)

	n, ok := Int(3).AsNumber()
	assert.True(t, ok)
	assert.Equal(t, 3.0, n)
	_, ok = Bool(true).AsList()
	assert.False(t, ok)
}

func TestValueFromJSON(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte(`{"tags":["x","y"],"age":30,"ok":true,"nil":null}`), &v))

	assert.Equal(t, KindMap, v.Kind())
	age, ok := v.Field("age")
	require.True(t, ok)
	n, ok := age.AsNumber()
	assert.True(t, ok)
	assert.Equal(t, 30.0, n)

	tags, _ := v.Field("tags")
	assert.Equal(t, []string{"x", "y"}, tags.Strings())

	nilField, ok := v.Field("nil")
	assert.True(t, ok)
	assert.True(t, nilField.IsNull())

	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tags":["x","y"],"age":30,"ok":true,"nil":null}`, string(data))
}

func TestValueText(t *testing.T) {
	assert.Equal(t, "2020", Int(2020).Text())
	assert.Equal(t, "0.5", Number(0.5).Text())
	assert.Equal(t, "true", Bool(true).Text())
	assert.Equal(t, `["a"]`, List(String("a")).Text())
	assert.Equal(t, "", Null().Text())
}

func TestPropertiesPreserveOrder(t *testing.T) {
	var p Properties
	p.Set("name", String("Alice"))
	p.Set("age", Int(30))
	p.Set("city", String("Paris"))
	p.Set("age", Int(31))

	assert.Equal(t, []string{"name", "age", "city"}, p.Keys())
	age, _ := p.Get("age")
	assert.True(t, age.Equal(Int(31)))

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"Alice","age":31,"city":"Paris"}`, string(data))

	var back Properties
	require.NoError(t, json.Unmarshal([]byte(`{"z":1,"a":2,"m":3}`), &back))
	assert.Equal(t, []string{"z", "a", "m"}, back.Keys())
}

func TestPropertiesCloneIsIndependent(t *testing.T) {
	p := NewProperties()
	p.Set("name", String("Alice"))

	c := p.Clone()
	c.Set("age", Int(3))
	c.Delete("name")

	assert.Equal(t, 1, p.Len())
	assert.Equal(t, "Alice", p.String("name"))
	assert.False(t, c.Has("name"))
}

func TestEntityJSON(t *testing.T) {
	var e Entity
	err := json.Unmarshal([]byte(`{"id":"e1","entity_type":"Company","properties":{"name":"Apple Inc.","_aliases":["Apple"]}}`), &e)
	require.NoError(t, err)

	assert.Equal(t, "e1", e.ID)
	assert.Equal(t, "Company", e.Type)
	assert.Equal(t, "Apple Inc.", e.Name())
	assert.Equal(t, []string{"Apple"}, e.Aliases())
	assert.Equal(t, 1, e.MergedCount())
	assert.False(t, e.HasEmbedding())
}

func TestStageValid(t *testing.T) {
	assert.True(t, StageSemantic.Valid())
	assert.False(t, StageNone.Valid())
	assert.False(t, Stage("fuzzy").Valid())
}
