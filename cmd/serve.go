package cmd

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cligate/internal/backend/factory"
	"cligate/internal/config"
	"cligate/internal/logging"
	"cligate/internal/router"
	"cligate/internal/server"
)

type serveOptions struct {
	configPath   string
	overridePort int
}

func serveCommand() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "path to YAML configuration file")
	cmd.Flags().IntVar(&opts.overridePort, "port", 0, "override server port")
	return cmd
}

func modelsCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Probe the configured backend and list the models it accepts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			components, err := factory.Build(cfg)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tOWNED BY")
			for _, m := range components.Discovery.Models(cmd.Context()) {
				fmt.Fprintf(w, "%s\t%s\n", m.ID, m.OwnedBy)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML configuration file")
	return cmd
}

func loadServeConfig(opts *serveOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}

	if opts.overridePort != 0 {
		if opts.overridePort < 0 || opts.overridePort > 65535 {
			return config.Config{}, fmt.Errorf("port override %d must be a valid TCP port", opts.overridePort)
		}
		cfg.Server.Port = opts.overridePort
	}
	return cfg, nil
}

func serve(cmd *cobra.Command, opts *serveOptions) error {
	ctx := cmd.Context()

	cfg, err := loadServeConfig(opts)
	if err != nil {
		return err
	}

	closer, err := logging.Setup(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closer.Close()

	components, err := factory.Build(cfg)
	if err != nil {
		return err
	}

	components.Discovery.Preload(ctx)
	slog.Info("backend selected", "backend", components.Backend.Name(), "default_model", cfg.Backend.DefaultModel)

	rt, err := router.New(components.Backend, components.Discovery, cfg.Backend.DefaultModel)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, rt, Version)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}
