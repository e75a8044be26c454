package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jaakkos/agentmail/internal/config"
)

var rebuildProject string

var rebuildCmd = &cobra.Command{
	Use:   "rebuild-index",
	Short: "Replay the git archives into the SQLite index",
	Long: `Replay every project archive (or one, with --project) into the SQLite
index: project metadata, agent profiles, messages, and file reservations.

The archives are the source of truth; run this after restoring a backup,
editing archive files by hand, or losing the index file.`,
	Args: cobra.NoArgs,
	RunE: runRebuild,
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
	rebuildCmd.Flags().StringVar(&rebuildProject, "project", "", "rebuild only this project (slug or human key)")
}

func runRebuild(cmd *cobra.Command, args []string) error {
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

	results, err := svc.RebuildIndex(context.Background(), rebuildProject)
	if err != nil {
		return runtimeErrf("rebuild index: %w", err)
	}

	var agents, messages, claims int
	for _, r := range results {
		fmt.Printf("%-24s %4d agent(s)  %5d message(s)  %4d claim(s)\n", r.Slug, r.Agents, r.Messages, r.Claims)
		agents += r.Agents
		messages += r.Messages
		claims += r.Claims
	}
	fmt.Printf("Rebuilt %d project(s): %d agent(s), %d message(s), %d claim(s)\n",
		len(results), agents, messages, claims)
	return nil
}
