package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/Leinnan/assets-reflect/asset"
	"github.com/Leinnan/assets-reflect/config"
	"github.com/Leinnan/assets-reflect/internal/demo"
	"github.com/Leinnan/assets-reflect/observability"
	"github.com/Leinnan/assets-reflect/registry"
)

var errFailedAssets = errors.New("some assets failed to load")

// cli carries the state shared by the subcommands.
type cli struct {
	fs         afero.Fs
	configPath string
	config     *config.Config
	logger     *zap.Logger
}

func newRootCmd(fs afero.Fs) *cobra.Command {
	c := &cli{fs: fs}
	root := &cobra.Command{
		Use:          "assetcheck",
		Short:        "Validate reflectively decoded game assets",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err //nolint:wrapcheck
			}
			logger, err := observability.SetupLogger(cfg.Log)
			if err != nil {
				return err //nolint:wrapcheck
			}
			c.config = cfg
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default: ./assets.yaml)")
	root.AddCommand(c.checkCmd(), c.schemaCmd())
	return root
}

func (c *cli) app() (*asset.App, *asset.Server, error) {
	return demo.NewApp(c.fs, c.logger, c.config.Strict, asset.WithWorkers(c.config.Workers)) //nolint:wrapcheck
}

func (c *cli) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [dir]",
		Short: "Load every routed asset below dir",
		Long: `Load every asset below dir (default: asset_root from the config) whose
extension is claimed by a loader, then print one line per asset.

Examples:
  assetcheck check
  assetcheck check ./assets
  ASSETS_STRICT=false assetcheck check ./assets`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := c.config.AssetRoot
			if len(args) == 1 {
				root = args[0]
			}
			_, server, err := c.app()
			if err != nil {
				return err
			}
			handles, err := server.LoadFolder(cmd.Context(), root)
			if handles == nil && err != nil {
				return err //nolint:wrapcheck
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, handle := range handles {
				state := server.State(handle)
				if state == asset.Failed {
					failed++
					fmt.Fprintf(out, "%-6s %s\n\t%s\n", "FAIL", handle.Path, indent(server.Err(handle)))
					continue
				}
				fmt.Fprintf(out, "%-6s %s\n", "ok", handle.Path)
			}
			fmt.Fprintf(out, "%d assets, %d failed\n", len(handles), failed)
			if failed > 0 {
				return fmt.Errorf("%w: %d of %d", errFailedAssets, failed, len(handles))
			}
			return nil
		},
	}
}

func (c *cli) schemaCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "schema [type]",
		Short: "Print the JSON schema of the registered asset types",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "yaml" {
				return fmt.Errorf("invalid output format %q, expected json or yaml", format)
			}
			app, _, err := c.app()
			if err != nil {
				return err
			}
			reg, ok := asset.Resource[*registry.Registry](app)
			if !ok {
				return errors.New("no registry installed")
			}
			for _, registration := range reg.Registrations() {
				if len(args) == 1 && registration.Name() != args[0] {
					continue
				}
				schema, err := registration.JSONSchema()
				if err != nil {
					return err //nolint:wrapcheck
				}
				if format == "yaml" {
					if schema, err = sigsyaml.JSONToYAML(schema); err != nil {
						return fmt.Errorf("cannot convert the schema of %s to yaml: %w", registration.Name(), err)
					}
				}
				if err := printSchema(cmd.OutOrStdout(), registration.Name(), schema); err != nil {
					return err
				}
				if len(args) == 1 {
					return nil
				}
			}
			if len(args) == 1 {
				return fmt.Errorf("unknown type %q, expected one of %v", args[0], reg.Names())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", "json", "output format: json or yaml")
	return cmd
}

func printSchema(out io.Writer, name string, schema []byte) error {
	_, err := fmt.Fprintf(out, "# %s\n%s\n", name, schema)
	return err //nolint:wrapcheck
}

func indent(err error) string {
	if err == nil {
		return ""
	}
	return strings.ReplaceAll(err.Error(), "\n", "\n\t")
}
