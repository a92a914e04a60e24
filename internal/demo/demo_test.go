package demo_test

import (
	"context"
	"testing"

	"github.com/Leinnan/assets-reflect/asset"
	"github.com/Leinnan/assets-reflect/assertions/testutils"
	"github.com/Leinnan/assets-reflect/internal/demo"
	"github.com/Leinnan/assets-reflect/reflectasset"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gotest.tools/v3/assert"
)

const levelID = "6f1c2a9e-3b4d-4e5f-8a7b-1c2d3e4f5a6b"

var files = map[string]string{
	"assets/origin.point.json": `{"x": 0, "y": 0}`,
	"assets/levels/forest.level.json": `{"id": "` + levelID + `", "name": "Forest", "spawn": {"x": 3, "y": 4}, ` +
		`"enemies": [{"name": "wolf", "health": 12, "position": {"x": 10, "y": 2}}, ` +
		`{"name": "bear", "health": 40, "position": {"x": 20, "y": 8}, "cooldown": 3}], ` +
		`"tags": {"biome": "forest"}}`,
	"assets/levels/cave.level.yaml": "id: " + levelID + "\nname: Cave\nspawn: {x: 1, y: 1}\nmusic: drips.ogg\n",
	"assets/enemies/slime.enemy.yaml": "name: slime\nhealth: 3\nposition:\n  x: 1\n  y: 2\n",
	"assets/broken/ghost.enemy.yaml":  "name: ghost\nhealth: 0\nposition: {x: 0, y: 0}\n",
	"assets/broken/nameless.level.json": `{"id": "` + levelID + `", "name": "", "spawn": {"x": 0, "y": 0}}`,
	"assets/readme.txt":                 "not routed",
}

func TestLoadFolder(t *testing.T) {
	_, server, err := demo.NewApp(testutils.MemFs(t, files), zap.NewNop(), true)
	assert.NilError(t, err)

	handles, err := server.LoadFolder(context.Background(), "assets")
	assert.ErrorIs(t, err, reflectasset.ErrSchemaMismatch)
	assert.ErrorContains(t, err, "should have positive health")
	assert.ErrorContains(t, err, "a level needs a name")
	assert.Equal(t, len(handles), 6)

	loaded := map[string]asset.Handle{}
	for _, handle := range handles {
		if server.State(handle) == asset.Loaded {
			loaded[handle.Path] = handle
		}
	}
	assert.Equal(t, len(loaded), 4)

	forest, ok := asset.Get[demo.Level](server, loaded["assets/levels/forest.level.json"])
	assert.Assert(t, ok)
	assert.Equal(t, forest.ID, uuid.MustParse(levelID))
	assert.Equal(t, forest.Spawn, demo.Point{X: 3, Y: 4})
	assert.Equal(t, len(forest.Enemies), 2)
	assert.Equal(t, forest.Enemies[0].Cooldown, 1.5, "missing cooldowns default to 1.5")
	assert.Equal(t, forest.Enemies[1].Cooldown, 3.0)
	assert.DeepEqual(t, forest.Tags, map[string]string{"biome": "forest"})
	assert.Assert(t, forest.Music == nil)

	cave, ok := asset.Get[demo.Level](server, loaded["assets/levels/cave.level.yaml"])
	assert.Assert(t, ok)
	assert.Equal(t, *cave.Music, "drips.ogg")
	assert.Equal(t, len(cave.Enemies), 0)
	assert.Equal(t, len(cave.Tags), 0)

	slime, ok := asset.Get[demo.Enemy](server, loaded["assets/enemies/slime.enemy.yaml"])
	assert.Assert(t, ok)
	assert.Equal(t, slime.Position, demo.Point{X: 1, Y: 2})

	origin, ok := asset.Get[demo.Point](server, loaded["assets/origin.point.json"])
	assert.Assert(t, ok)
	assert.Equal(t, *origin, demo.Point{})
}

func TestStrictness(t *testing.T) {
	extra := map[string]string{
		"p.point.json": `{"x": 1, "y": 2, "z": 3}`,
	}
	_, strict, err := demo.NewApp(testutils.MemFs(t, extra), zap.NewNop(), true)
	assert.NilError(t, err)
	_, err = strict.Load(context.Background(), "p.point.json")
	assert.ErrorIs(t, err, reflectasset.ErrSchemaMismatch)

	_, lenient, err := demo.NewApp(testutils.MemFs(t, extra), zap.NewNop(), false)
	assert.NilError(t, err)
	handle, err := lenient.Load(context.Background(), "p.point.json")
	assert.NilError(t, err)
	point, ok := asset.Get[demo.Point](lenient, handle)
	assert.Assert(t, ok)
	assert.Equal(t, *point, demo.Point{X: 1, Y: 2})
}
