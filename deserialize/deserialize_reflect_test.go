package deserialize_test

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/Leinnan/assets-reflect/deserialize"
	jsonPkg "github.com/Leinnan/assets-reflect/deserialize/json"
	"gotest.tools/v3/assert"
)

func roundTripReflect[Input any, Output any](t *testing.T, sample Input) (*Output, error) {
	t.Helper()
	deserializer, err := deserialize.MakeMapDeserializerFromReflect(deserialize.JSONOptions(""), reflect.TypeFor[Output]())
	assert.NilError(t, err)

	buf, err := json.Marshal(sample)
	assert.NilError(t, err)
	dict := make(jsonPkg.JSON)
	assert.NilError(t, json.Unmarshal(buf, &dict))

	deserialized := new(Output)
	reflectDeserialized := reflect.ValueOf(deserialized).Elem()
	if err := deserializer.DeserializeDictTo(dict, &reflectDeserialized); err != nil {
		return nil, err //nolint:wrapcheck
	}
	return deserialized, nil
}

func TestReflectMapDeserializer(t *testing.T) {
	type Sound struct {
		File   string
		Volume int
	}
	sample := Sound{File: "step.ogg", Volume: 80}
	out, err := roundTripReflect[Sound, Sound](t, sample)
	assert.NilError(t, err)
	assert.DeepEqual(t, &sample, out)
}

func TestReflectEmbeddedDeserializer(t *testing.T) {
	type Named struct {
		Name string
	}
	type Prop struct {
		Named
		Sprite string
		Layer  int
	}
	sample := Prop{
		Named:  Named{Name: "barrel"},
		Sprite: "barrel.png",
		Layer:  2,
	}
	out, err := roundTripReflect[Prop, Prop](t, sample)
	assert.NilError(t, err)
	assert.DeepEqual(t, &sample, out)
}

func TestReflectDeserialize(t *testing.T) {
	deserializer, err := deserialize.MakeMapDeserializerFromReflect(deserialize.JSONOptions(""), reflect.TypeFor[Tile]())
	assert.NilError(t, err)
	assert.Equal(t, deserializer.Type(), reflect.TypeFor[Tile]())

	value, err := jsonPkg.Driver{}.Parse([]byte(`{"Sprite": "lava.png"}`))
	assert.NilError(t, err)
	out, err := deserializer.Deserialize(value)
	assert.NilError(t, err)
	tile, ok := out.Interface().(Tile)
	assert.Assert(t, ok)
	assert.Equal(t, tile.Sprite, "lava.png")

	// Non-struct roots work too.
	deserializer, err = deserialize.MakeMapDeserializerFromReflect(deserialize.JSONOptions(""), reflect.TypeFor[[]int]())
	assert.NilError(t, err)
	value, err = jsonPkg.Driver{}.Parse([]byte(`[1, 2]`))
	assert.NilError(t, err)
	out, err = deserializer.Deserialize(value)
	assert.NilError(t, err)
	assert.DeepEqual(t, out.Interface(), []int{1, 2})
}

func TestReflectWrongSlot(t *testing.T) {
	deserializer, err := deserialize.MakeMapDeserializerFromReflect(deserialize.JSONOptions(""), reflect.TypeFor[Tile]())
	assert.NilError(t, err)

	wrong := reflect.New(reflect.TypeFor[Stats]()).Elem()
	err = deserializer.DeserializeDictTo(jsonPkg.JSON{"Sprite": "a"}, &wrong)
	assert.Error(t, err, "cannot deserialize a Tile into a Stats")

	_, err = deserialize.MakeMapDeserializerFromReflect(deserialize.JSONOptions(""), nil)
	assert.ErrorContains(t, err, "nil type")
}
