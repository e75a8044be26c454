package mail

import (
	"context"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/agentmail/internal/app"
)

func registerEnsureProject(s *server.MCPServer, svc *app.MailService, logger *log.Logger) {
	s.AddTool(mcp.NewTool("ensure_project",
		mcp.WithDescription("Create the project for a human key if it does not exist yet and return it. Idempotent; call once per session before registering."),
		mcp.WithString("human_key", mcp.Required(), mcp.Description("Human-meaningful project key, typically the absolute workspace path")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		humanKey, err := requireString(args, "human_key")
		if err != nil {
			return nil, err
		}
		res, err := svc.EnsureProject(ctx, humanKey)
		if err != nil {
			return nil, err
		}
		logger.Printf("Ensured project %s (slug %s, created=%v)", res.Project.HumanKey, res.Project.Slug, res.Created)
		return jsonResult(res)
	})
}

func registerRegisterAgent(s *server.MCPServer, svc *app.MailService, logger *log.Logger, registry *app.SessionRegistry) {
	s.AddTool(mcp.NewTool("register_agent",
		mcp.WithDescription("Register (or refresh) an agent identity in a project. Omit name to have a memorable Adjective+Noun identity minted for you."),
		mcp.WithString("project_key", mcp.Required(), mcp.Description("Project human key or slug")),
		mcp.WithString("program", mcp.Required(), mcp.Description("Program running the agent, e.g. claude-code")),
		mcp.WithString("model", mcp.Required(), mcp.Description("Model powering the agent, e.g. opus")),
		mcp.WithString("name", mcp.Description("Agent name to claim; omit to mint a fresh one")),
		mcp.WithString("task_description", mcp.Description("One line on what this agent is working on")),
		mcp.WithString("contact_policy", mcp.Description("Inbound contact policy"), mcp.Enum("auto", "open", "contacts_only", "block_all")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		projectKey, err := requireString(args, "project_key")
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
		res, err := svc.RegisterAgent(ctx, app.RegisterAgentInput{
			ProjectKey:      projectKey,
			Name:            optionalString(args, "name"),
			Program:         program,
			Model:           model,
			TaskDescription: optionalString(args, "task_description"),
			Policy:          optionalString(args, "contact_policy"),
		})
		if err != nil {
			return nil, err
		}
		bindSession(ctx, registry, projectKey, res.Agent.Name)
		logger.Printf("Registered agent %s in %s (created=%v)", res.Agent.Name, projectKey, res.Created)
		return jsonResult(res)
	})
}

func registerCreateAgentIdentity(s *server.MCPServer, svc *app.MailService, logger *log.Logger, registry *app.SessionRegistry) {
	s.AddTool(mcp.NewTool("create_agent_identity",
		mcp.WithDescription("Mint a brand-new agent identity in a project without proposing a name."),
		mcp.WithString("project_key", mcp.Required(), mcp.Description("Project human key or slug")),
		mcp.WithString("program", mcp.Required(), mcp.Description("Program running the agent")),
		mcp.WithString("model", mcp.Required(), mcp.Description("Model powering the agent")),
		mcp.WithString("task_description", mcp.Description("One line on what this agent is working on")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		projectKey, err := requireString(args, "project_key")
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
		res, err := svc.CreateAgentIdentity(ctx, projectKey, program, model, optionalString(args, "task_description"))
		if err != nil {
			return nil, err
		}
		bindSession(ctx, registry, projectKey, res.Agent.Name)
		logger.Printf("Created agent identity %s in %s", res.Agent.Name, projectKey)
		return jsonResult(res)
	})
}

func registerWhois(s *server.MCPServer, svc *app.MailService, logger *log.Logger) {
	s.AddTool(mcp.NewTool("whois",
		mcp.WithDescription("Look up one agent's card: program, model, task, contact policy, plus unread/ack-pending/claim counts."),
		mcp.WithString("project_key", mcp.Required(), mcp.Description("Project human key or slug")),
		mcp.WithString("agent_name", mcp.Required(), mcp.Description("Agent to look up")),
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
		res, err := svc.Whois(ctx, projectKey, agentName)
		if err != nil {
			return nil, err
		}
		return jsonResult(res)
	})
}

func registerListAgents(s *server.MCPServer, svc *app.MailService, logger *log.Logger) {
	s.AddTool(mcp.NewTool("list_agents",
		mcp.WithDescription("List the agents registered in a project, optionally only those active in the last week."),
		mcp.WithString("project_key", mcp.Required(), mcp.Description("Project human key or slug")),
		mcp.WithBoolean("active_only", mcp.Description("Only agents active within the activity window (default false)")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		projectKey, err := requireString(args, "project_key")
		if err != nil {
			return nil, err
		}
		cards, err := svc.ListAgents(ctx, projectKey, optionalBool(args, "active_only", false))
		if err != nil {
			return nil, err
		}
		if cards == nil {
			cards = []app.AgentCard{}
		}
		return jsonResult(struct {
			Project string          `json:"project"`
			Count   int             `json:"count"`
			Agents  []app.AgentCard `json:"agents"`
		}{projectKey, len(cards), cards})
	})
}

func registerSetContactPolicy(s *server.MCPServer, svc *app.MailService, logger *log.Logger) {
	s.AddTool(mcp.NewTool("set_contact_policy",
		mcp.WithDescription("Change who may message this agent: open accepts anyone, contacts_only requires an accepted contact, block_all rejects everything, auto infers from recent collaboration."),
		mcp.WithString("project_key", mcp.Required(), mcp.Description("Project human key or slug")),
		mcp.WithString("agent_name", mcp.Required(), mcp.Description("Agent whose policy to change")),
		mcp.WithString("policy", mcp.Required(), mcp.Description("New inbound policy"), mcp.Enum("auto", "open", "contacts_only", "block_all")),
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
		policy, err := requireString(args, "policy")
		if err != nil {
			return nil, err
		}
		card, err := svc.SetContactPolicy(ctx, projectKey, agentName, policy)
		if err != nil {
			return nil, err
		}
		logger.Printf("Contact policy for %s/%s set to %s", projectKey, agentName, policy)
		return jsonResult(card)
	})
}
