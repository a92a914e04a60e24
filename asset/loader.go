package asset

import (
	"context"
	"errors"
	"io"
	"reflect"

	"go.uber.org/zap"
)

// Settings customize a single load.
//
// No loader in this module takes settings; `NoSettings{}` is always passed.
type Settings any

type NoSettings struct{}

// LoadContext describes the load in progress.
type LoadContext struct {
	// The path being loaded, as seen by the server's filesystem.
	Path string

	// The extension that routed this path to the loader, e.g. `point.json`.
	Extension string

	// The asset type the loader produces.
	AssetType reflect.Type

	Logger *zap.Logger
}

// Loader turns a byte stream into an asset of type `A`.
type Loader[A any] interface {
	Load(ctx context.Context, reader io.Reader, settings Settings, loadContext *LoadContext) (*A, error)

	// The file extensions (without leading dot) this loader accepts.
	Extensions() []string
}

// A loader with its asset type erased, as stored by the server.
type erasedLoader struct {
	name       string
	assetType  reflect.Type
	extensions []string
	load       func(ctx context.Context, reader io.Reader, loadContext *LoadContext) (any, error)
}

func erase[A any](loader Loader[A]) *erasedLoader {
	return &erasedLoader{
		name:       reflect.TypeOf(loader).String(),
		assetType:  reflect.TypeFor[A](),
		extensions: loader.Extensions(),
		load: func(ctx context.Context, reader io.Reader, loadContext *LoadContext) (any, error) {
			value, err := loader.Load(ctx, reader, NoSettings{}, loadContext)
			if err != nil {
				return nil, err //nolint:wrapcheck
			}
			if value == nil {
				return nil, errors.New("loader returned no asset")
			}
			return value, nil
		},
	}
}
