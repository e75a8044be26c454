package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jaakkos/agentmail/internal/config"
)

var listAgentsFlag bool

var listProjectsCmd = &cobra.Command{
	Use:   "list-projects",
	Short: "List registered projects",
	Long: `List every project in the storage root with its slug, human key, and
creation date. With --agents, also list each project's registered agents.`,
	Args: cobra.NoArgs,
	RunE: runListProjects,
}

func init() {
	rootCmd.AddCommand(listProjectsCmd)
	listProjectsCmd.Flags().BoolVar(&listAgentsFlag, "agents", false, "include each project's agents")
}

func runListProjects(cmd *cobra.Command, args []string) error {
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

	ctx := context.Background()
	projects, err := svc.ListProjects(ctx)
	if err != nil {
		return runtimeErrf("list projects: %w", err)
	}
	if len(projects) == 0 {
		fmt.Println("No projects registered.")
		return nil
	}

	for _, p := range projects {
		fmt.Printf("%-28s %-32s created %s\n", p.Slug, p.HumanKey, p.CreatedTS.Format("2006-01-02"))
		if !listAgentsFlag {
			continue
		}
		cards, err := svc.ListAgents(ctx, p.Slug, false)
		if err != nil {
			return runtimeErrf("list agents of %s: %w", p.Slug, err)
		}
		for _, c := range cards {
			status := "active"
			if !c.Active {
				status = "inactive"
			}
			fmt.Printf("  %-20s %s/%s  policy=%s  %s, last seen %s\n",
				c.Name, c.Program, c.Model, c.ContactPolicy, status,
				c.LastActiveTS.Format("2006-01-02 15:04"))
		}
	}
	return nil
}
