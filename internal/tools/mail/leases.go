package mail

import (
	"context"
	"log"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/agentmail/internal/app"
	"github.com/jaakkos/agentmail/internal/domain"
)

func registerReserveFilePaths(s *server.MCPServer, svc *app.MailService, logger *log.Logger) {
	s.AddTool(mcp.NewTool("reserve_file_paths",
		mcp.WithDescription("Reserve file paths or globs before editing. Advisory; overlapping exclusive claims by others come back as conflicts and non-conflicting paths are still granted."),
		mcp.WithString("project_key", mcp.Required(), mcp.Description("Project human key or slug")),
		mcp.WithString("agent_name", mcp.Required(), mcp.Description("Agent taking the reservation")),
		mcp.WithArray("paths", mcp.Required(), mcp.Description("Project-relative paths or globs, e.g. src/**/*.go")),
		mcp.WithNumber("ttl_seconds", mcp.Description("Lease lifetime in seconds (default 3600, minimum 60)")),
		mcp.WithBoolean("exclusive", mcp.Description("Exclusive claim (default true); shared claims coexist with other shared holders")),
		mcp.WithString("reason", mcp.Description("Why the paths are needed, shown to conflicting agents")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		projectKey, err := requireString(args, "project_key")
		if err != nil {
			return nil, err
		}
		agentName, err := requireString(args, "agent_name")
		if err != nil {
			return nil, err
		}
		paths, err := stringList(args, "paths")
		if err != nil {
			return nil, err
		}
		res, err := svc.ReserveFilePaths(ctx, app.ReserveInput{
			ProjectKey: projectKey,
			Agent:      agentName,
			Paths:      paths,
			Exclusive:  optionalBool(args, "exclusive", true),
			Reason:     optionalString(args, "reason"),
			TTLSeconds: optionalInt(args, "ttl_seconds", 0),
		})
		if err != nil {
			return nil, err
		}
		logger.Printf("Reservation by %s in %s: %d granted, %d conflicts", agentName, projectKey, len(res.Granted), len(res.Conflicts))
		return jsonResult(res)
	})
}

func registerRenewFileReservations(s *server.MCPServer, svc *app.MailService, logger *log.Logger) {
	s.AddTool(mcp.NewTool("renew_file_reservations",
		mcp.WithDescription("Extend the caller's active reservations. Never shortens a lease; omit paths to renew all of them."),
		mcp.WithString("project_key", mcp.Required(), mcp.Description("Project human key or slug")),
		mcp.WithString("agent_name", mcp.Required(), mcp.Description("Agent whose reservations to extend")),
		mcp.WithNumber("extend_seconds", mcp.Description("Seconds to add (default 1800, minimum 60)")),
		mcp.WithArray("paths", mcp.Description("Only reservations matching these paths; omitted renews all")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		projectKey, err := requireString(args, "project_key")
		if err != nil {
			return nil, err
		}
		agentName, err := requireString(args, "agent_name")
		if err != nil {
			return nil, err
		}
		paths, err := stringList(args, "paths")
		if err != nil {
			return nil, err
		}
		res, err := svc.RenewFileReservations(ctx, app.RenewInput{
			ProjectKey:    projectKey,
			Agent:         agentName,
			ExtendSeconds: optionalInt(args, "extend_seconds", 0),
			Paths:         paths,
		})
		if err != nil {
			return nil, err
		}
		out := struct {
			Renewed   []app.RenewedClaim `json:"renewed"`
			ExpiresTS *time.Time         `json:"expires_ts,omitempty"`
		}{Renewed: res.Claims}
		if out.Renewed == nil {
			out.Renewed = []app.RenewedClaim{}
		}
		for i := range res.Claims {
			if out.ExpiresTS == nil || res.Claims[i].NewExpiresTS.After(*out.ExpiresTS) {
				ts := res.Claims[i].NewExpiresTS
				out.ExpiresTS = &ts
			}
		}
		logger.Printf("Renewed %d reservations for %s in %s", res.Renewed, agentName, projectKey)
		return jsonResult(out)
	})
}

func registerReleaseFileReservations(s *server.MCPServer, svc *app.MailService, logger *log.Logger) {
	s.AddTool(mcp.NewTool("release_file_reservations",
		mcp.WithDescription("Release the caller's active reservations when done editing. Omit paths to release all of them."),
		mcp.WithString("project_key", mcp.Required(), mcp.Description("Project human key or slug")),
		mcp.WithString("agent_name", mcp.Required(), mcp.Description("Agent whose reservations to release")),
		mcp.WithArray("paths", mcp.Description("Only reservations matching these paths; omitted releases all")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		projectKey, err := requireString(args, "project_key")
		if err != nil {
			return nil, err
		}
		agentName, err := requireString(args, "agent_name")
		if err != nil {
			return nil, err
		}
		paths, err := stringList(args, "paths")
		if err != nil {
			return nil, err
		}
		res, err := svc.ReleaseFileReservations(ctx, app.ReleaseInput{
			ProjectKey: projectKey,
			Agent:      agentName,
			Paths:      paths,
		})
		if err != nil {
			return nil, err
		}
		logger.Printf("Released %d reservations for %s in %s", res.Released, agentName, projectKey)
		return jsonResult(struct {
			ReleasedCount int       `json:"released_count"`
			At            time.Time `json:"at"`
		}{res.Released, res.ReleasedAt})
	})
}

func registerListClaims(s *server.MCPServer, svc *app.MailService, logger *log.Logger) {
	s.AddTool(mcp.NewTool("list_claims",
		mcp.WithDescription("List the project's file reservations, optionally only the active ones."),
		mcp.WithString("project_key", mcp.Required(), mcp.Description("Project human key or slug")),
		mcp.WithBoolean("active_only", mcp.Description("Only unexpired, unreleased claims (default true)")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		projectKey, err := requireString(args, "project_key")
		if err != nil {
			return nil, err
		}
		claims, err := svc.ListClaims(ctx, projectKey, optionalBool(args, "active_only", true))
		if err != nil {
			return nil, err
		}
		if claims == nil {
			claims = []domain.Claim{}
		}
		return jsonResult(struct {
			Project string         `json:"project"`
			Count   int            `json:"count"`
			Claims  []domain.Claim `json:"claims"`
		}{projectKey, len(claims), claims})
	})
}
