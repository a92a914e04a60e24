package asset_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Leinnan/assets-reflect/asset"
	"github.com/Leinnan/assets-reflect/assertions/testutils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gotest.tools/v3/assert"
)

// A text asset.
type Note struct {
	Text      string
	Extension string
}

// Loads any file as a note, failing on empty files.
type noteLoader struct {
	extensions []string
}

func (l noteLoader) Load(_ context.Context, reader io.Reader, _ asset.Settings, loadContext *asset.LoadContext) (*Note, error) {
	buf, err := io.ReadAll(reader)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("empty note")
	}
	return &Note{Text: string(buf), Extension: loadContext.Extension}, nil
}

func (l noteLoader) Extensions() []string {
	return l.extensions
}

type Shout struct {
	Text string
}

type shoutLoader struct{}

func (shoutLoader) Load(_ context.Context, reader io.Reader, _ asset.Settings, _ *asset.LoadContext) (*Shout, error) {
	buf, err := io.ReadAll(reader)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	return &Shout{Text: strings.ToUpper(string(buf))}, nil
}

func (shoutLoader) Extensions() []string {
	return []string{"note.txt"}
}

func setup(t *testing.T, files map[string]string, opts ...asset.ServerOption) (*asset.App, *asset.Server) {
	t.Helper()
	app := asset.NewApp(zap.NewNop())
	server := asset.NewServer(testutils.MemFs(t, files), opts...)
	asset.InsertResource(app, server)
	return app, server
}

func TestResources(t *testing.T) {
	app := asset.NewApp(nil)
	_, ok := asset.Resource[*asset.Server](app)
	assert.Assert(t, !ok)

	asset.InsertResource(app, 42)
	found, ok := asset.Resource[int](app)
	assert.Assert(t, ok)
	assert.Equal(t, found, 42)
}

func TestServerMissing(t *testing.T) {
	app := asset.NewApp(nil)
	assert.ErrorIs(t, asset.InitAsset[Note](app), asset.ErrServerMissing)
	assert.ErrorIs(t, asset.RegisterLoader[Note](app, noteLoader{}), asset.ErrServerMissing)
}

func TestAssetNotInitialized(t *testing.T) {
	app, _ := setup(t, nil)
	err := asset.RegisterLoader[Note](app, noteLoader{extensions: []string{"txt"}})
	assert.ErrorIs(t, err, asset.ErrAssetNotInitialized)
}

func TestLoadAndGet(t *testing.T) {
	app, server := setup(t, map[string]string{"notes/a.txt": "hello"})
	assert.NilError(t, asset.InitAsset[Note](app))
	assert.NilError(t, asset.RegisterLoader[Note](app, noteLoader{extensions: []string{"txt"}}))

	handle, err := server.Load(context.Background(), "notes/a.txt")
	assert.NilError(t, err)
	assert.Equal(t, server.State(handle), asset.Loaded)
	assert.NilError(t, server.Err(handle))

	note, ok := asset.Get[Note](server, handle)
	assert.Assert(t, ok)
	assert.Equal(t, note.Text, "hello")

	_, ok = asset.Get[Shout](server, handle)
	assert.Assert(t, !ok, "the asset is not a Shout")

	// Loading again returns the same handle.
	again, err := server.Load(context.Background(), "notes/a.txt")
	assert.NilError(t, err)
	assert.Equal(t, again, handle)
	assert.Equal(t, len(server.Handles()), 1)
}

func TestLoadFailures(t *testing.T) {
	app, server := setup(t, map[string]string{"empty.txt": "", "image.png": "..."})
	assert.NilError(t, asset.InitAsset[Note](app))
	assert.NilError(t, asset.RegisterLoader[Note](app, noteLoader{extensions: []string{"txt"}}))

	handle, err := server.Load(context.Background(), "empty.txt")
	assert.ErrorContains(t, err, "cannot load empty.txt: empty note")
	assert.Equal(t, server.State(handle), asset.Failed)
	assert.ErrorContains(t, server.Err(handle), "empty note")
	_, ok := asset.Get[Note](server, handle)
	assert.Assert(t, !ok)

	_, err = server.Load(context.Background(), "image.png")
	assert.ErrorIs(t, err, asset.ErrNoLoader)

	handle, err = server.Load(context.Background(), "missing.txt")
	assert.ErrorContains(t, err, "cannot open missing.txt")
	assert.Equal(t, server.State(handle), asset.Failed)

	assert.Equal(t, server.State(asset.Handle{}), asset.NotLoaded)
	assert.Equal(t, asset.Failed.String(), "failed")
}

func TestRoutingPrefersLongestExtension(t *testing.T) {
	app, server := setup(t, map[string]string{"a.note.txt": "quiet", "b.txt": "plain"})
	assert.NilError(t, asset.InitAsset[Note](app))
	assert.NilError(t, asset.InitAsset[Shout](app))
	assert.NilError(t, asset.RegisterLoader[Note](app, noteLoader{extensions: []string{"txt"}}))
	assert.NilError(t, asset.RegisterLoader[Shout](app, shoutLoader{}))

	extension, ok := server.Route("dir/a.note.txt")
	assert.Assert(t, ok)
	assert.Equal(t, extension, "note.txt")
	assert.DeepEqual(t, server.Extensions(), []string{"note.txt", "txt"})

	handle, err := server.Load(context.Background(), "a.note.txt")
	assert.NilError(t, err)
	shout, ok := asset.Get[Shout](server, handle)
	assert.Assert(t, ok)
	assert.Equal(t, shout.Text, "QUIET")

	handle, err = server.Load(context.Background(), "b.txt")
	assert.NilError(t, err)
	note, ok := asset.Get[Note](server, handle)
	assert.Assert(t, ok)
	assert.Equal(t, note.Extension, "txt")
}

func TestLoaderReplacement(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	app, server := setup(t, map[string]string{"a.md": "# title"}, asset.WithLogger(zap.New(core)))
	assert.NilError(t, asset.InitAsset[Note](app))
	assert.NilError(t, asset.RegisterLoader[Note](app, noteLoader{extensions: []string{"txt", "md"}}))
	assert.NilError(t, asset.RegisterLoader[Note](app, noteLoader{extensions: []string{"md"}}))

	assert.Equal(t, logs.FilterMessage("Replacing asset loader").Len(), 1)
	assert.DeepEqual(t, server.Extensions(), []string{"md"})

	// Another asset type claiming the same extension takes it over.
	assert.NilError(t, asset.InitAsset[Shout](app))
	assert.NilError(t, asset.RegisterLoader[Shout](app, shoutLoader{}))
	assert.NilError(t, asset.RegisterLoader[Note](app, noteLoader{extensions: []string{"note.txt"}}))
	assert.Equal(t, logs.FilterMessage("Extension claimed by several loaders, using the latest").Len(), 1)
}

func TestLoadAll(t *testing.T) {
	files := map[string]string{}
	paths := []string{}
	for i := range 20 {
		path := fmt.Sprintf("notes/%02d.txt", i)
		content := fmt.Sprint("note ", i)
		if i == 7 {
			content = ""
		}
		files[path] = content
		paths = append(paths, path)
	}
	app, server := setup(t, files, asset.WithWorkers(3))
	assert.NilError(t, asset.InitAsset[Note](app))
	assert.NilError(t, asset.RegisterLoader[Note](app, noteLoader{extensions: []string{"txt"}}))

	handles, err := server.LoadAll(context.Background(), paths)
	assert.ErrorContains(t, err, "notes/07.txt")
	assert.Equal(t, len(handles), len(paths))
	for i, handle := range handles {
		assert.Equal(t, handle.Path, paths[i])
		if i == 7 {
			assert.Equal(t, server.State(handle), asset.Failed)
			continue
		}
		note, ok := asset.Get[Note](server, handle)
		assert.Assert(t, ok, "note %d should have loaded", i)
		assert.Equal(t, note.Text, fmt.Sprint("note ", i))
	}
}

// Counts its runs, and blocks each of them until `release` is closed.
type gatedLoader struct {
	runs    *atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (l gatedLoader) Load(_ context.Context, reader io.Reader, _ asset.Settings, _ *asset.LoadContext) (*Note, error) {
	if l.runs.Add(1) == 1 {
		close(l.started)
	}
	<-l.release
	buf, err := io.ReadAll(reader)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	return &Note{Text: string(buf)}, nil
}

func (gatedLoader) Extensions() []string {
	return []string{"txt"}
}

func TestConcurrentLoadsShareOneRun(t *testing.T) {
	app, server := setup(t, map[string]string{"a.txt": "hello"}, asset.WithWorkers(4))
	loader := gatedLoader{runs: &atomic.Int32{}, started: make(chan struct{}), release: make(chan struct{})}
	assert.NilError(t, asset.InitAsset[Note](app))
	assert.NilError(t, asset.RegisterLoader[Note](app, loader))

	type outcome struct {
		handles []asset.Handle
		err     error
	}
	all := make(chan outcome, 1)
	go func() {
		handles, err := server.LoadAll(context.Background(), []string{"a.txt", "a.txt", "a.txt", "a.txt"})
		all <- outcome{handles, err}
	}()
	<-loader.started

	single := make(chan outcome, 1)
	go func() {
		handle, err := server.Load(context.Background(), "a.txt")
		single <- outcome{[]asset.Handle{handle}, err}
	}()
	select {
	case <-single:
		t.Fatal("a load in progress should be waited for")
	case <-time.After(20 * time.Millisecond):
	}

	// A waiting caller may give up, the load goes on.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := server.Load(ctx, "a.txt")
	assert.ErrorIs(t, err, context.Canceled)

	close(loader.release)
	loadedAll := <-all
	loadedOne := <-single
	assert.NilError(t, loadedAll.err)
	assert.NilError(t, loadedOne.err)
	assert.Equal(t, loader.runs.Load(), int32(1))

	handle := loadedOne.handles[0]
	for _, other := range loadedAll.handles {
		assert.Equal(t, other, handle)
	}
	assert.Equal(t, server.State(handle), asset.Loaded)
	note, ok := asset.Get[Note](server, handle)
	assert.Assert(t, ok)
	assert.Equal(t, note.Text, "hello")
}

func TestLoadFolder(t *testing.T) {
	app, server := setup(t, map[string]string{
		"assets/a.txt":        "a",
		"assets/nested/b.txt": "b",
		"assets/skip.png":     "not routed",
		"other/c.txt":         "c",
	})
	assert.NilError(t, asset.InitAsset[Note](app))
	assert.NilError(t, asset.RegisterLoader[Note](app, noteLoader{extensions: []string{"txt"}}))

	handles, err := server.LoadFolder(context.Background(), "assets")
	assert.NilError(t, err)
	assert.Equal(t, len(handles), 2)
	assert.Equal(t, handles[0].Path, "assets/a.txt")
	assert.Equal(t, handles[1].Path, "assets/nested/b.txt")

	_, err = server.LoadFolder(context.Background(), "nowhere")
	assert.Assert(t, err != nil)
	assert.Assert(t, !errors.Is(err, asset.ErrNoLoader))
}

type failingPlugin struct{}

func (failingPlugin) Build(*asset.App) error {
	return errors.New("boom")
}

type notePlugin struct{}

func (notePlugin) Build(app *asset.App) error {
	if err := asset.InitAsset[Note](app); err != nil {
		return err
	}
	return asset.RegisterLoader[Note](app, noteLoader{extensions: []string{"txt"}})
}

func TestAddPlugins(t *testing.T) {
	app, server := setup(t, nil)
	assert.NilError(t, app.AddPlugins(notePlugin{}))
	assert.DeepEqual(t, server.Extensions(), []string{"txt"})

	err := app.AddPlugins(failingPlugin{})
	assert.Error(t, err, "failed to build plugin asset_test.failingPlugin: boom")
}
