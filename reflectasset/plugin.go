package reflectasset

import (
	"slices"

	"github.com/Leinnan/assets-reflect/asset"
	"github.com/Leinnan/assets-reflect/registry"
)

// Plugin installs a `Loader[A]` into an application.
//
// The application must hold a `*registry.Registry` resource. The plugin does
// not register `A` in it: that is up to the host, and loads fail with
// `ErrTypeNotRegistered` until it does.
type Plugin[A any] struct {
	extensions []string
	opts       []Option
}

// NewPlugin creates a plugin routing `extensions` to a loader for `A`.
func NewPlugin[A any](extensions []string, opts ...Option) *Plugin[A] {
	return &Plugin[A]{
		extensions: slices.Clone(extensions),
		opts:       opts,
	}
}

func (p *Plugin[A]) Build(app *asset.App) error {
	reg, ok := asset.Resource[*registry.Registry](app)
	if !ok {
		return ErrRegistryMissing
	}
	if err := asset.InitAsset[A](app); err != nil {
		return err //nolint:wrapcheck
	}
	opts := append([]Option{WithLogger(app.Logger())}, p.opts...)
	return asset.RegisterLoader[A](app, NewLoader[A](reg, p.extensions, opts...)) //nolint:wrapcheck
}

var _ asset.Plugin = &Plugin[struct{}]{} //nolint:exhaustruct
