package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cloud-image-relay/internal/config"
)

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "relay",
		Short:         "Relay browser image uploads to a hosted media service",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Version = fmt.Sprintf("%s (%s)", version, commit)

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "config file (yaml, toml or json)")
	flags.String("port", "", "listen port [PORT]")
	flags.String("static-dir", "", "static asset directory [STATIC_DIR]")
	flags.String("backend", "", "upload backend: cloudinary or minio [RELAY_BACKEND]")
	flags.String("log-level", "", "debug, info, warn or error [LOG_LEVEL]")
	flags.String("log-format", "", "json or text [LOG_FORMAT]")

	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "relay %s (commit %s)\n", version, commit)
		},
	}
}
