package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/smoosense/smoosense/internal/app"
	"github.com/smoosense/smoosense/internal/config"
	"github.com/smoosense/smoosense/internal/logging"
)

// options are the command line overrides; empty values keep the setting
// from the file or environment.
type options struct {
	configFile string
	root       string
	addr       string
	prefix     string
	dataDir    string
	logLevel   string
	logFormat  string
	grpcAddr   string
	noHistory  bool
}

func execute(args []string) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var opts options

	rootCmd := &cobra.Command{
		Use:   "smoosense [root]",
		Short: "Query and browse local data files with SQL",
		Long: "smoosense serves the CSV, Parquet and JSON files below a root directory\n" +
			"over an HTTP API: folder browsing, schema inspection with semantic column\n" +
			"tags, and paginated SQL queries.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.root = args[0]
			}
			cfg, err := loadConfig(opts, os.Getenv)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, cmd.ErrOrStderr())
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Path to a YAML or JSON configuration file")
	flags.StringVar(&opts.root, "root", "", "Root directory to serve (default: current directory)")
	flags.StringVar(&opts.addr, "addr", "", "HTTP listen address (default :8001)")
	flags.StringVar(&opts.prefix, "prefix", "", "URL prefix for every route, e.g. /smoosense")
	flags.StringVar(&opts.dataDir, "data-dir", "", "Directory for history and spill files (default ~/.smoosense)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format: text or json")
	flags.StringVar(&opts.grpcAddr, "grpc-addr", "", "Enable the gRPC health server on this address")
	flags.BoolVar(&opts.noHistory, "no-history", false, "Do not record query history")

	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "smoosense version %s (commit: %s)\n", version, commit)
			return err
		},
	}
}

// loadConfig applies defaults, then the config file, then SMOOSENSE_*
// environment variables, then flags.
func loadConfig(opts options, getenv func(string) string) (*config.Config, error) {
	var cfg *config.Config
	if opts.configFile != "" {
		loaded, err := config.LoadFromFile(opts.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.DefaultConfig()
	}
	config.ApplyEnv(cfg, getenv)

	if opts.root != "" {
		cfg.RootDir = opts.root
	}
	if opts.addr != "" {
		cfg.HTTP.Addr = opts.addr
	}
	if opts.prefix != "" {
		cfg.HTTP.URLPrefix = opts.prefix
	}
	if opts.dataDir != "" {
		cfg.DataDir = opts.dataDir
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Logging.Format = opts.logFormat
	}
	if opts.grpcAddr != "" {
		cfg.GRPC.Addr = opts.grpcAddr
		cfg.GRPC.Enabled = true
	}
	if opts.noHistory {
		cfg.History.Enabled = false
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	flush, err := logging.Init(logOut, cfg.Logging, version)
	if err != nil {
		return err
	}
	defer flush()

	a, err := app.New(cfg, version)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	waitErr := a.WaitForShutdown(ctx)
	if err := a.Stop(context.Background()); err != nil {
		slog.Error("Shutdown finished with errors.", "error", err)
		return err
	}
	if waitErr != nil {
		slog.Error("Shutdown finished with errors.", "error", waitErr)
	}
	return waitErr
}
