package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jaakkos/agentmail/internal/app"
	"github.com/jaakkos/agentmail/internal/config"
)

var gcCmd = &cobra.Command{
	Use:   "gc-expired-claims",
	Short: "Release file reservations past their expiry",
	Long: `Stamp every expired, unreleased file reservation as released and commit
the updated claim records to the project archives.

A running server does this continuously through its janitor loop; this
command is for storage roots without a live server.`,
	Args: cobra.NoArgs,
	RunE: runGC,
}

func init() {
	rootCmd.AddCommand(gcCmd)
}

func runGC(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.LogFilePath())

	svc, err := openService(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Index().Close()

	janitor := app.NewJanitor(svc, logger)
	released, err := janitor.ReleaseExpired(context.Background())
	if err != nil {
		return runtimeErrf("release expired claims: %w", err)
	}
	fmt.Printf("Released %d expired claim(s)\n", released)
	return nil
}
