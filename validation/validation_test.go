package validation_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Leinnan/assets-reflect/assertions/testutils"
	"github.com/Leinnan/assets-reflect/validation"
	"gotest.tools/v3/assert"
)

type SpawnPoint struct {
	X     int
	Y     int
	layer string
}

type SpawnTable struct {
	fallback *SpawnPoint
}

func (table *SpawnTable) Initialize() error {
	table.fallback = &SpawnPoint{ //nolint:exhaustruct
		X: 1,
		Y: 2,
	}
	return nil
}

var _ validation.Initializer = &SpawnTable{} //nolint:exhaustruct

// A trivial test of initialization.
//
// See the tests for deserialize for more advanced checks.
func TestInitialization(t *testing.T) {
	result := SpawnTable{} //nolint:exhaustruct
	err := result.Initialize()
	assert.NilError(t, err)
	testutils.AssertEqual(t, result.fallback.X, 1, "Field X should have been set")
	testutils.AssertEqual(t, result.fallback.Y, 2, "Field Y should have been set")
	testutils.AssertEqual(t, result.fallback.layer, "", "Field layer should have been zeroed")
}

type Difficulty struct {
	Level string `json:"level"`
	rank  uint   `initialized:""`
}

func (d *Difficulty) Validate() error {
	switch d.Level {
	case "easy":
		d.rank = 0
	case "normal":
		d.rank = 1
	case "hard":
		d.rank = 2
	default:
		return fmt.Errorf("Invalid difficulty %s", d.Level)
	}
	return nil
}

var _ validation.Validator = &Difficulty{} //nolint:exhaustruct

// A trivial test of validation.
//
// See the tests for deserialize for more advanced checks.
func TestValidation(t *testing.T) {
	good := Difficulty{Level: "normal"} //nolint:exhaustruct
	assert.NilError(t, good.Validate())
	testutils.AssertEqual(t, good.Level, "normal", "Field Level should have been left unchanged")
	testutils.AssertEqual(t, good.rank, 1, "Field rank should have been set")

	bad := Difficulty{Level: "nightmare"} //nolint:exhaustruct
	err := bad.Validate()
	assert.Error(t, err, "Invalid difficulty nightmare")
}

func TestWrapError(t *testing.T) {
	inner := errors.New("too far")
	err := validation.WrapError("Level.spawn", inner)
	assert.Error(t, err, "deserialized value Level.spawn did not pass validation\n\t * too far")
	assert.Assert(t, errors.Is(err, inner))

	var asValidation validation.Error
	assert.Assert(t, errors.As(error(err), &asValidation))
	assert.Equal(t, asValidation.Path, "Level.spawn")
}
