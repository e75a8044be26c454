package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jaakkos/agentmail/internal/config"
	"github.com/jaakkos/agentmail/internal/guard"
)

var (
	guardRepo      string
	guardProject   string
	guardClaimsDir string
	guardAgent     string
)

var guardCmd = &cobra.Command{
	Use:   "guard",
	Short: "Manage the git pre-commit hook enforcing file reservations",
	Long: `The guard is a pre-commit hook that blocks commits touching files under
another agent's active exclusive reservation. 'guard install' writes the
hook into a working repository; the hook shells back into
'agent-mail guard check' with the committing agent taken from AGENT_NAME.`,
}

var guardInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the pre-commit hook into a working repository",
	Args:  cobra.NoArgs,
	RunE:  runGuardInstall,
}

var guardUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove a pre-commit hook installed by agent-mail",
	Args:  cobra.NoArgs,
	RunE:  runGuardUninstall,
}

var guardCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check staged files against active exclusive reservations",
	Long: `Compare the staged files of a working repository against the active
exclusive reservations in a claims directory. Exits nonzero when a staged
file falls under another agent's reservation, which is how the installed
pre-commit hook blocks the commit.`,
	Args: cobra.NoArgs,
	RunE: runGuardCheck,
}

func init() {
	rootCmd.AddCommand(guardCmd)
	guardCmd.AddCommand(guardInstallCmd, guardUninstallCmd, guardCheckCmd)

	guardInstallCmd.Flags().StringVar(&guardRepo, "repo", ".", "working git repository to guard")
	guardInstallCmd.Flags().StringVar(&guardProject, "project", "", "project whose reservations the hook enforces (slug or human key)")
	guardInstallCmd.MarkFlagRequired("project")

	guardUninstallCmd.Flags().StringVar(&guardRepo, "repo", ".", "working git repository")

	guardCheckCmd.Flags().StringVar(&guardClaimsDir, "claims-dir", "", "claims directory of the project archive")
	guardCheckCmd.Flags().StringVar(&guardRepo, "repo", ".", "working git repository")
	guardCheckCmd.Flags().StringVar(&guardAgent, "agent", "", "committing agent (default $AGENT_NAME)")
	guardCheckCmd.MarkFlagRequired("claims-dir")
}

func runGuardInstall(cmd *cobra.Command, args []string) error {
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

	project, err := svc.Index().ProjectByIdentifier(guardProject)
	if err != nil {
		return runtimeError{err}
	}
	binary, err := os.Executable()
	if err != nil {
		return runtimeErrf("locate agent-mail binary: %w", err)
	}
	repoDir, err := filepath.Abs(guardRepo)
	if err != nil {
		return runtimeErrf("resolve repo path: %w", err)
	}
	claimsDir := filepath.Join(svc.Archive().RepoDir(project.Slug), "claims")

	hookPath, err := guard.Install(guard.InstallInput{
		RepoDir:   repoDir,
		Binary:    binary,
		ClaimsDir: claimsDir,
	})
	if err != nil {
		return runtimeError{err}
	}
	fmt.Printf("Installed pre-commit hook at %s\n", hookPath)
	fmt.Printf("Enforcing reservations of %s (claims %s)\n", project.Slug, claimsDir)
	return nil
}

func runGuardUninstall(cmd *cobra.Command, args []string) error {
	repoDir, err := filepath.Abs(guardRepo)
	if err != nil {
		return runtimeErrf("resolve repo path: %w", err)
	}
	removed, err := guard.Uninstall(repoDir)
	if err != nil {
		return runtimeError{err}
	}
	if removed {
		fmt.Printf("Removed pre-commit hook at %s\n", guard.HookPath(repoDir))
	} else {
		fmt.Println("No agent-mail pre-commit hook installed.")
	}
	return nil
}

func runGuardCheck(cmd *cobra.Command, args []string) error {
	agent := guardAgent
	if agent == "" {
		agent = os.Getenv("AGENT_NAME")
	}
	if agent == "" {
		return fmt.Errorf("AGENT_NAME environment variable is required (or pass --agent)")
	}
	repoDir, err := filepath.Abs(guardRepo)
	if err != nil {
		return runtimeErrf("resolve repo path: %w", err)
	}
	conflicts, err := guard.Check(guard.CheckInput{
		RepoDir:   repoDir,
		ClaimsDir: guardClaimsDir,
		Agent:     agent,
	})
	if err != nil {
		return runtimeError{err}
	}
	if len(conflicts) > 0 {
		fmt.Fprint(os.Stderr, guard.FormatConflicts(conflicts))
		return runtimeErrf("%d staged file(s) blocked by exclusive claims", len(conflicts))
	}
	return nil
}
