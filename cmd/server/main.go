package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/formsync/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "formsync",
		Short: "Real-time collaborative form server",
		Long: `formsync serves shareable forms that several people can fill in at once.

Participants connect over WebSocket with a form's share token, join under a
display name, and see each other's field edits as they happen. Accepted values
are validated against the field type and merged into the form's stored
response document.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (YAML, TOML, or JSON)")
	rootCmd.AddCommand(migrateCmd(&configFile))
	return rootCmd
}

func loadConfig(path string) (*server.Config, error) {
	v, err := server.NewViper(path)
	if err != nil {
		return nil, err
	}
	return server.LoadConfig(v)
}
