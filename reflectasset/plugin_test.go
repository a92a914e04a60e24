package reflectasset_test

import (
	"context"
	"testing"

	"github.com/Leinnan/assets-reflect/asset"
	"github.com/Leinnan/assets-reflect/assertions/testutils"
	"github.com/Leinnan/assets-reflect/internal/demo"
	"github.com/Leinnan/assets-reflect/reflectasset"
	"github.com/Leinnan/assets-reflect/registry"
	"go.uber.org/zap"
	"gotest.tools/v3/assert"
)

func TestPluginRequiresRegistry(t *testing.T) {
	app := asset.NewApp(zap.NewNop())
	asset.InsertResource(app, asset.NewServer(testutils.MemFs(t, nil)))

	err := app.AddPlugins(reflectasset.NewPlugin[demo.Point]([]string{"point.json"}))
	assert.ErrorIs(t, err, reflectasset.ErrRegistryMissing)
}

func TestPluginRequiresServer(t *testing.T) {
	app := asset.NewApp(zap.NewNop())
	asset.InsertResource(app, registry.New())

	err := app.AddPlugins(reflectasset.NewPlugin[demo.Point]([]string{"point.json"}))
	assert.ErrorIs(t, err, asset.ErrServerMissing)
}

func TestPluginInstallsLoader(t *testing.T) {
	fs := testutils.MemFs(t, map[string]string{
		"a.point.json": `{"x": 1, "y": 2}`,
		"b.point.json": `{"x": 1}`,
	})
	reg := registry.New()
	server := asset.NewServer(fs)
	app := asset.NewApp(zap.NewNop())
	asset.InsertResource(app, reg)
	asset.InsertResource(app, server)

	assert.NilError(t, app.AddPlugins(reflectasset.NewPlugin[demo.Point]([]string{"point.json"})))
	assert.DeepEqual(t, server.Extensions(), []string{"point.json"})

	// The plugin does not register the type: the host does, at any time.
	_, err := server.Load(context.Background(), "a.point.json")
	assert.ErrorIs(t, err, reflectasset.ErrTypeNotRegistered)

	registry.MustRegister[demo.Point](reg)
	handle, err := server.Load(context.Background(), "a.point.json")
	assert.NilError(t, err)
	point, ok := asset.Get[demo.Point](server, handle)
	assert.Assert(t, ok)
	assert.Equal(t, *point, demo.Point{X: 1, Y: 2})

	handle, err = server.Load(context.Background(), "b.point.json")
	assert.ErrorIs(t, err, reflectasset.ErrSchemaMismatch)
	assert.Equal(t, server.State(handle), asset.Failed)
}

func TestPluginKeepsExtensions(t *testing.T) {
	extensions := []string{"point.json"}
	plugin := reflectasset.NewPlugin[demo.Point](extensions)
	extensions[0] = "changed"

	app := asset.NewApp(zap.NewNop())
	server := asset.NewServer(testutils.MemFs(t, nil))
	asset.InsertResource(app, registry.New())
	asset.InsertResource(app, server)
	assert.NilError(t, plugin.Build(app))
	assert.DeepEqual(t, server.Extensions(), []string{"point.json"})
}
