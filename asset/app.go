// Package asset is a small host for asset loaders: an application context
// holding typed resources and plugins, plus a `Server` that routes files to
// loaders by extension and keeps track of what was loaded.
package asset

import (
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// Plugin configures an application.
type Plugin interface {
	Build(app *App) error
}

// App is the application context plugins are installed into.
type App struct {
	mu        sync.RWMutex
	resources map[reflect.Type]any
	logger    *zap.Logger
}

// NewApp creates an empty application.
//
// A nil logger defaults to `zap.L()`.
func NewApp(logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.L()
	}
	return &App{
		resources: make(map[reflect.Type]any),
		logger:    logger,
	}
}

func (a *App) Logger() *zap.Logger {
	return a.logger
}

// AddPlugins builds plugins in order, stopping at the first failure.
func (a *App) AddPlugins(plugins ...Plugin) error {
	for _, plugin := range plugins {
		if err := plugin.Build(a); err != nil {
			return fmt.Errorf("failed to build plugin %T: %w", plugin, err)
		}
		a.logger.Debug("Plugin built", zap.String("plugin", fmt.Sprintf("%T", plugin)))
	}
	return nil
}

// InsertResource stores `resource` in the application, replacing any
// resource of the same type.
func InsertResource[R any](app *App, resource R) {
	app.mu.Lock()
	defer app.mu.Unlock()
	app.resources[reflect.TypeFor[R]()] = resource
}

// Resource fetches the resource of type `R`, if any.
func Resource[R any](app *App) (R, bool) {
	app.mu.RLock()
	defer app.mu.RUnlock()
	resource, ok := app.resources[reflect.TypeFor[R]()].(R)
	return resource, ok
}
