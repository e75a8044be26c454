package mail

import (
	"context"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/agentmail/internal/app"
	"github.com/jaakkos/agentmail/internal/domain"
	"github.com/jaakkos/agentmail/internal/index"
)

func registerMacroStartSession(s *server.MCPServer, svc *app.MailService, logger *log.Logger, registry *app.SessionRegistry) {
	s.AddTool(mcp.NewTool("macro_start_session",
		mcp.WithDescription("One-call session bootstrap: ensure the project, register the agent, optionally reserve file paths, and return the unread inbox."),
		mcp.WithString("human_key", mcp.Required(), mcp.Description("Project human key, typically the absolute workspace path")),
		mcp.WithString("program", mcp.Required(), mcp.Description("Program running the agent")),
		mcp.WithString("model", mcp.Required(), mcp.Description("Model powering the agent")),
		mcp.WithString("task_description", mcp.Description("One line on what this agent is working on")),
		mcp.WithString("agent_name", mcp.Description("Agent name to claim; omit to mint a fresh one")),
		mcp.WithArray("file_reservation_paths", mcp.Description("Paths or globs to reserve right away")),
		mcp.WithString("reason", mcp.Description("Reason recorded on the reservations")),
		mcp.WithNumber("ttl_seconds", mcp.Description("Reservation lifetime in seconds (default 3600)")),
		mcp.WithNumber("inbox_limit", mcp.Description("Unread messages to return (default 10)")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		humanKey, err := requireString(args, "human_key")
		if err != nil {
			return nil, err
		}
		program, err := requireString(args, "program")
		if err != nil {
			return nil, err
		}
		model, err := requireString(args, "model")
		if err != nil {
			return nil, err
		}
		reservePaths, err := stringList(args, "file_reservation_paths")
		if err != nil {
			return nil, err
		}

		proj, err := svc.EnsureProject(ctx, humanKey)
		if err != nil {
			return nil, err
		}
		reg, err := svc.RegisterAgent(ctx, app.RegisterAgentInput{
			ProjectKey:      humanKey,
			Name:            optionalString(args, "agent_name"),
			Program:         program,
			Model:           model,
			TaskDescription: optionalString(args, "task_description"),
		})
		if err != nil {
			return nil, err
		}

		var reservations *app.ReserveResult
		if len(reservePaths) > 0 {
			res, err := svc.ReserveFilePaths(ctx, app.ReserveInput{
				ProjectKey: humanKey,
				Agent:      reg.Agent.Name,
				Paths:      reservePaths,
				Exclusive:  true,
				Reason:     optionalString(args, "reason"),
				TTLSeconds: optionalInt(args, "ttl_seconds", 0),
			})
			if err != nil {
				return nil, err
			}
			reservations = &res
		}

		items, err := svc.FetchInbox(ctx, humanKey, reg.Agent.Name, index.InboxQuery{
			Limit: optionalInt(args, "inbox_limit", 10),
		})
		if err != nil {
			return nil, err
		}

		bindSession(ctx, registry, humanKey, reg.Agent.Name)
		logger.Printf("Session started: %s in %s (created=%v, %d unread)", reg.Agent.Name, proj.Project.Slug, reg.Created, len(items))
		return jsonResult(struct {
			Project        domain.Project     `json:"project"`
			ProjectCreated bool               `json:"project_created"`
			Agent          app.AgentCard      `json:"agent"`
			AgentCreated   bool               `json:"agent_created"`
			Reservations   *app.ReserveResult `json:"reservations,omitempty"`
			Inbox          inboxEnvelope      `json:"inbox"`
		}{proj.Project, proj.Created, reg.Agent, reg.Created, reservations, inboxPayload(humanKey, reg.Agent.Name, items)})
	})
}

func registerMacroPrepareThread(s *server.MCPServer, svc *app.MailService, logger *log.Logger, registry *app.SessionRegistry) {
	s.AddTool(mcp.NewTool("macro_prepare_thread",
		mcp.WithDescription("One-call thread pickup: register the agent, summarize the thread, and return the unread inbox."),
		mcp.WithString("human_key", mcp.Required(), mcp.Description("Project human key or slug")),
		mcp.WithString("program", mcp.Required(), mcp.Description("Program running the agent")),
		mcp.WithString("model", mcp.Required(), mcp.Description("Model powering the agent")),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread to pick up")),
		mcp.WithString("agent_name", mcp.Description("Agent name to claim; omit to mint a fresh one")),
		mcp.WithNumber("inbox_limit", mcp.Description("Unread messages to return (default 10)")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		humanKey, err := requireString(args, "human_key")
		if err != nil {
			return nil, err
		}
		program, err := requireString(args, "program")
		if err != nil {
			return nil, err
		}
		model, err := requireString(args, "model")
		if err != nil {
			return nil, err
		}
		threadID, err := requireString(args, "thread_id")
		if err != nil {
			return nil, err
		}

		reg, err := svc.RegisterAgent(ctx, app.RegisterAgentInput{
			ProjectKey: humanKey,
			Name:       optionalString(args, "agent_name"),
			Program:    program,
			Model:      model,
		})
		if err != nil {
			return nil, err
		}
		thread, err := svc.SummarizeThread(ctx, humanKey, threadID, true, false, "")
		if err != nil {
			return nil, err
		}
		items, err := svc.FetchInbox(ctx, humanKey, reg.Agent.Name, index.InboxQuery{
			Limit: optionalInt(args, "inbox_limit", 10),
		})
		if err != nil {
			return nil, err
		}

		bindSession(ctx, registry, humanKey, reg.Agent.Name)
		logger.Printf("Thread %s prepared for %s in %s", threadID, reg.Agent.Name, humanKey)
		return jsonResult(struct {
			Project      string                  `json:"project"`
			Agent        app.AgentCard           `json:"agent"`
			AgentCreated bool                    `json:"agent_created"`
			Thread       app.ThreadSummaryResult `json:"thread"`
			Inbox        inboxEnvelope           `json:"inbox"`
		}{humanKey, reg.Agent, reg.Created, thread, inboxPayload(humanKey, reg.Agent.Name, items)})
	})
}
