// Package demo holds sample asset types and the application wiring used by
// the CLI and the integration tests.
package demo

import (
	"errors"
	"fmt"

	"github.com/Leinnan/assets-reflect/asset"
	"github.com/Leinnan/assets-reflect/deserialize"
	"github.com/Leinnan/assets-reflect/deserialize/yaml"
	"github.com/Leinnan/assets-reflect/reflectasset"
	"github.com/Leinnan/assets-reflect/registry"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type Enemy struct {
	Name     string `json:"name"`
	Health   int    `json:"health"`
	Position Point  `json:"position"`
	// Seconds between two attacks.
	Cooldown float64 `json:"cooldown" default:"1.5"`
}

func (e *Enemy) Validate() error {
	if e.Health <= 0 {
		return fmt.Errorf("enemy %q should have positive health, got %d", e.Name, e.Health)
	}
	return nil
}

type Level struct {
	ID      uuid.UUID         `json:"id"`
	Name    string            `json:"name"`
	Spawn   Point             `json:"spawn"`
	Enemies []Enemy           `json:"enemies" default:"[]"`
	Tags    map[string]string `json:"tags" default:"{}"`
	Music   *string           `json:"music" default:"nil"`
}

func (l *Level) Validate() error {
	if l.Name == "" {
		return errors.New("a level needs a name")
	}
	return nil
}

// Extensions routed by the demo application.
var (
	PointExtensions = []string{"point.json"}
	LevelExtensions = []string{"level.json", "level.yaml"}
	EnemyExtensions = []string{"enemy.yaml"}
)

// NewApp wires a registry, an asset server reading from `fs`, and a loader
// for each demo type.
//
// When `strict` is false, documents may carry keys unknown to the types.
func NewApp(fs afero.Fs, logger *zap.Logger, strict bool, serverOptions ...asset.ServerOption) (*asset.App, *asset.Server, error) {
	var registryOptions []registry.Option
	if !strict {
		registryOptions = append(registryOptions, registry.WithOptions(deserialize.JSONOptions("")))
	}
	reg := registry.New(registryOptions...)
	for _, register := range []func(*registry.Registry) error{
		registry.Register[Point],
		registry.Register[Level],
		registry.Register[Enemy],
	} {
		if err := register(reg); err != nil {
			return nil, nil, err //nolint:wrapcheck
		}
	}

	app := asset.NewApp(logger)
	server := asset.NewServer(fs, append([]asset.ServerOption{asset.WithLogger(logger)}, serverOptions...)...)
	asset.InsertResource(app, reg)
	asset.InsertResource(app, server)
	err := app.AddPlugins(
		reflectasset.NewPlugin[Point](PointExtensions),
		// The YAML driver reads JSON documents as well, keys and numbers
		// included, so it serves both extensions.
		reflectasset.NewPlugin[Level](LevelExtensions, reflectasset.WithDriver(yaml.Driver{})),
		reflectasset.NewPlugin[Enemy](EnemyExtensions, reflectasset.WithDriver(yaml.Driver{})),
	)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck
	}
	return app, server, nil
}
