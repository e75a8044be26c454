package mail

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/agentmail/internal/app"
	"github.com/jaakkos/agentmail/internal/guard"
)

func registerInstallGuard(s *server.MCPServer, svc *app.MailService, logger *log.Logger, guardBinary string) {
	s.AddTool(mcp.NewTool("install_precommit_guard",
		mcp.WithDescription("Install a pre-commit hook in a working repository that blocks commits touching files exclusively reserved by other agents. Set AGENT_NAME in the committing environment."),
		mcp.WithString("project_key", mcp.Required(), mcp.Description("Project whose reservations the hook enforces")),
		mcp.WithString("repo_path", mcp.Required(), mcp.Description("Path to the working git repository")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		projectKey, err := requireString(args, "project_key")
		if err != nil {
			return nil, err
		}
		repoPath, err := requireString(args, "repo_path")
		if err != nil {
			return nil, err
		}
		project, err := svc.Index().ProjectByIdentifier(projectKey)
		if err != nil {
			return nil, err
		}
		binary := guardBinary
		if binary == "" {
			if binary, err = os.Executable(); err != nil {
				return nil, err
			}
		}
		claimsDir := filepath.Join(svc.Archive().RepoDir(project.Slug), "claims")
		hookPath, err := guard.Install(guard.InstallInput{
			RepoDir:   repoPath,
			Binary:    binary,
			ClaimsDir: claimsDir,
		})
		if err != nil {
			return nil, err
		}
		logger.Printf("Guard hook installed at %s (claims %s)", hookPath, claimsDir)
		return jsonResult(struct {
			HookPath  string `json:"hook_path"`
			ClaimsDir string `json:"claims_dir"`
			Installed bool   `json:"installed"`
		}{hookPath, claimsDir, true})
	})
}

func registerUninstallGuard(s *server.MCPServer, svc *app.MailService, logger *log.Logger) {
	s.AddTool(mcp.NewTool("uninstall_precommit_guard",
		mcp.WithDescription("Remove a previously installed pre-commit guard hook. Hooks not installed by this server are left alone."),
		mcp.WithString("repo_path", mcp.Required(), mcp.Description("Path to the working git repository")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		repoPath, err := requireString(args, "repo_path")
		if err != nil {
			return nil, err
		}
		removed, err := guard.Uninstall(repoPath)
		if err != nil {
			return nil, err
		}
		if removed {
			logger.Printf("Guard hook removed from %s", repoPath)
		}
		return jsonResult(struct {
			Removed bool `json:"removed"`
		}{removed})
	})
}
