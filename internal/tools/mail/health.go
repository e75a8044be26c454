package mail

import (
	"context"
	"log"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/agentmail/internal/app"
	"github.com/jaakkos/agentmail/internal/index"
)

func registerHealthCheck(s *server.MCPServer, svc *app.MailService, logger *log.Logger, registry *app.SessionRegistry) {
	s.AddTool(mcp.NewTool("health_check",
		mcp.WithDescription("Report server health: index row counts, connected sessions, and feature toggles."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := svc.Index().CollectStats()
		if err != nil {
			return nil, err
		}
		sessions := 0
		if registry != nil {
			sessions = registry.Count()
		}
		cfg := svc.Settings()
		return jsonResult(struct {
			Status             string      `json:"status"`
			ServerTime         time.Time   `json:"server_time"`
			StorageRoot        string      `json:"storage_root"`
			Index              index.Stats `json:"index"`
			ConnectedSessions  int         `json:"connected_sessions"`
			LLMEnabled         bool        `json:"llm_enabled"`
			ContactEnforcement bool        `json:"contact_enforcement"`
		}{
			Status:             "ok",
			ServerTime:         time.Now().UTC(),
			StorageRoot:        cfg.StorageRootDir(),
			Index:              stats,
			ConnectedSessions:  sessions,
			LLMEnabled:         cfg.LLM.Enabled,
			ContactEnforcement: cfg.ContactEnforcementEnabled,
		})
	})
}
