package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-portal/internal/catalog"
	"github.com/joeblew999/plat-portal/internal/config"
	"github.com/joeblew999/plat-portal/internal/logger"
	"github.com/joeblew999/plat-portal/internal/server"
	"github.com/joeblew999/plat-portal/internal/service"
)

var version = "0.1.0"

// Options defines all CLI flags and env vars for the portal server.
// Flags: --host, --port, --data-dir, --config, --log-level, --log-console
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_CONFIG, ...
type Options struct {
	Host       string `doc:"Host to bind to" default:"0.0.0.0"`
	Port       int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir    string `doc:"Directory for the session file and catalog database" default:""`
	Config     string `doc:"YAML configuration file" short:"c" default:""`
	LogLevel   string `doc:"Log level (debug, info, warn, error)" default:""`
	LogConsole bool   `doc:"Human readable console logs" default:"false"`
}

// load resolves the configuration: defaults, then the file, then PORTAL_*
// variables, then explicit flags.
func load(opts *Options) (config.Config, *slog.Logger, error) {
	if opts.DataDir != "" {
		_ = os.Setenv("PORTAL_DATA_DIR", opts.DataDir)
	}
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.LogConsole {
		cfg.Log.Console = true
	}
	zl := logger.Build(logger.Config{
		Level:     cfg.Log.Level,
		Console:   cfg.Log.Console,
		SampleN:   cfg.Log.SampleN,
		Component: "portal",
	}, os.Stderr)
	return cfg, logger.NewSlog(&zl), nil
}

func newServer(ctx context.Context, opts *Options) (*server.Server, *slog.Logger, error) {
	cfg, log, err := load(opts)
	if err != nil {
		return nil, nil, err
	}
	srv, err := server.New(ctx, server.Config{
		Host:    opts.Host,
		Port:    opts.Port,
		Version: version,
		Config:  cfg,
	}, log)
	return srv, log, err
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		ctx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			srv, log, err := newServer(ctx, opts)
			if err != nil {
				fatal("Startup error: %v", err)
			}
			defer srv.Close()

			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)
			log.Info("plat-portal starting", "url", baseURL, "docs", baseURL+"/docs", "openapi", baseURL+"/openapi.json")

			if err := srv.Run(ctx); err != nil {
				fatal("Server error: %v", err)
			}
		})
		hooks.OnStop(cancel)
	})

	cli.Root().Use = "portal"
	cli.Root().Short = "Geoscience map portal: layer lifecycle and click resolution"
	cli.Root().Version = version

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv, _, err := newServer(cmd.Context(), opts)
			if err != nil {
				fatal("Error: %v", err)
			}
			defer srv.Close()

			useYAML, _ := cmd.Flags().GetBool("yaml")
			var output []byte
			if useYAML {
				output, err = yaml.Marshal(srv.OpenAPI())
			} else {
				output, err = json.MarshalIndent(srv.OpenAPI(), "", "  ")
			}
			if err != nil {
				fatal("Error marshaling spec: %v", err)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// classify subcommand: which loader would render a layer definition
	cli.Root().AddCommand(&cobra.Command{
		Use:   "classify <layer.yaml>",
		Short: "Print the loader the dispatcher would choose for a layer definition",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			data, err := os.ReadFile(args[0])
			if err != nil {
				fatal("Error: %v", err)
			}
			var def service.LayerDefinition
			if err := yaml.Unmarshal(data, &def); err != nil {
				fatal("Error parsing %s: %v", args[0], err)
			}
			kind, ok := service.Classify(service.NewLayer(def))
			if !ok {
				fatal("%s: %v", def.Name, service.ErrNoSuitableLoader)
			}
			fmt.Printf("%s\t%s\n", def.Name, kind)
		},
	})

	// seed subcommand: load a YAML catalog into DuckDB
	cli.Root().AddCommand(&cobra.Command{
		Use:   "seed <catalog.yaml>",
		Short: "Load catalog records from a YAML file into the catalog database",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			cfg, log, err := load(opts)
			if err != nil {
				fatal("Error: %v", err)
			}
			store, err := catalog.Open(cmd.Context(), catalog.Config{
				Path:       cfg.Catalog.Path,
				Extensions: cfg.Catalog.Extensions,
				Logger:     log,
			})
			if err != nil {
				fatal("Error: %v", err)
			}
			defer store.Close()
			n, err := store.Seed(cmd.Context(), args[0])
			if err != nil {
				fatal("Error: %v", err)
			}
			fmt.Printf("%d records written to %s\n", n, cfg.Catalog.Path)
		}),
	})

	cli.Run()
}
