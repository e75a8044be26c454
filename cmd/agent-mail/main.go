// Command agent-mail is the coordination server for fleets of coding
// agents: an MCP server over HTTP plus maintenance subcommands for the
// archive, the index, and the git pre-commit guard.
package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jaakkos/agentmail/internal/app"
	"github.com/jaakkos/agentmail/internal/archive"
	"github.com/jaakkos/agentmail/internal/config"
	"github.com/jaakkos/agentmail/internal/index"
)

// Version is stamped at build time via -ldflags "-X main.Version=...".
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "agent-mail",
	Short: "Mail, file leases, and contact policy for coding agent fleets",
	Long: `agent-mail coordinates fleets of autonomous coding agents.

It keeps a per-project message archive in git (markdown files with
frontmatter), mirrors it into a SQLite full-text index, and exposes the
whole thing as MCP tools over HTTP: register identities, send and fetch
mail, reserve file paths, request contacts across projects.

Run 'agent-mail serve-http' to start the server. The other subcommands
maintain an existing storage root without a running server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the agent-mail version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("agent-mail %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $AGENT_MAIL_CONFIG or ~/.config/agentmail/config.yaml)")
	rootCmd.AddCommand(versionCmd)
}

// runtimeError marks a failure that happened after configuration parsed
// cleanly. main exits 2 for these; everything else (bad flags, unreadable
// config) exits 1.
type runtimeError struct{ err error }

func (e runtimeError) Error() string { return e.err.Error() }
func (e runtimeError) Unwrap() error { return e.err }

func runtimeErrf(format string, args ...any) error {
	return runtimeError{fmt.Errorf(format, args...)}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var re runtimeError
		if errors.As(err, &re) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// openService assembles the storage stack: SQLite index, git archive store,
// and the mail service over both. The caller closes the index.
func openService(cfg *config.Settings, logger *log.Logger) (*app.MailService, error) {
	if err := os.MkdirAll(cfg.ProjectsDir(), 0o755); err != nil {
		return nil, runtimeErrf("create storage root: %w", err)
	}
	idx, err := index.Open(cfg.IndexPath())
	if err != nil {
		return nil, runtimeErrf("open index %s: %w", cfg.IndexPath(), err)
	}
	arc := archive.NewStore(cfg.ProjectsDir())
	return app.NewMailService(cfg, arc, idx, logger), nil
}

// setupLogger creates a logger that writes to a log file and optionally stderr.
// When stderr is a terminal (interactive use), logs go to both stderr and the
// file. When stderr is redirected (daemon mode via nohup), logs go only to the
// file to avoid duplicate lines since nohup already redirects stderr there.
func setupLogger(logFilePath string) *log.Logger {
	var writers []io.Writer

	stderrIsTerminal := false
	if info, err := os.Stderr.Stat(); err == nil {
		stderrIsTerminal = (info.Mode() & os.ModeCharDevice) != 0
	}

	hasLogFile := false
	lower := strings.ToLower(logFilePath)
	if lower != "none" && lower != "off" && logFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0o755); err == nil {
			f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err == nil {
				writers = append(writers, f)
				hasLogFile = true
			} else {
				fmt.Fprintf(os.Stderr, "[agent-mail] Warning: cannot open log file %s: %v\n", logFilePath, err)
			}
		} else {
			fmt.Fprintf(os.Stderr, "[agent-mail] Warning: cannot create log dir %s: %v\n", filepath.Dir(logFilePath), err)
		}
	}

	if stderrIsTerminal || !hasLogFile {
		writers = append(writers, os.Stderr)
	}

	return log.New(io.MultiWriter(writers...), "[agent-mail] ", log.LstdFlags|log.Lshortfile)
}
