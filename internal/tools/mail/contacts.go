package mail

import (
	"context"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/agentmail/internal/app"
)

func registerRequestContact(s *server.MCPServer, svc *app.MailService, logger *log.Logger) {
	s.AddTool(mcp.NewTool("request_contact",
		mcp.WithDescription("Ask another agent for permission to message them. Delivers a contact-request notice to the target; pass to_project to reach across projects."),
		mcp.WithString("project_key", mcp.Required(), mcp.Description("Requesting agent's project")),
		mcp.WithString("from_agent", mcp.Required(), mcp.Description("Agent asking for contact")),
		mcp.WithString("to_agent", mcp.Required(), mcp.Description("Agent being asked")),
		mcp.WithString("to_project", mcp.Description("Target agent's project when different from project_key")),
		mcp.WithString("reason", mcp.Description("Why contact is wanted, shown to the target")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		projectKey, err := requireString(args, "project_key")
		if err != nil {
			return nil, err
		}
		fromAgent, err := requireString(args, "from_agent")
		if err != nil {
			return nil, err
		}
		toAgent, err := requireString(args, "to_agent")
		if err != nil {
			return nil, err
		}
		res, err := svc.RequestContact(ctx, app.ContactRequestInput{
			ProjectKey: projectKey,
			From:       fromAgent,
			To:         toAgent,
			ToProject:  optionalString(args, "to_project"),
			Reason:     optionalString(args, "reason"),
		})
		if err != nil {
			return nil, err
		}
		logger.Printf("Contact request %s -> %s (%s)", fromAgent, toAgent, res.State)
		return jsonResult(res)
	})
}

func registerRespondContact(s *server.MCPServer, svc *app.MailService, logger *log.Logger) {
	s.AddTool(mcp.NewTool("respond_contact",
		mcp.WithDescription("Accept or decline a pending contact request addressed to you. Pass from_project when the request came from another project."),
		mcp.WithString("project_key", mcp.Required(), mcp.Description("Responding agent's project")),
		mcp.WithString("agent_name", mcp.Required(), mcp.Description("Agent responding to the request")),
		mcp.WithString("from_agent", mcp.Required(), mcp.Description("Agent who asked for contact")),
		mcp.WithBoolean("accept", mcp.Required(), mcp.Description("true accepts, false declines")),
		mcp.WithString("from_project", mcp.Description("Requester's project when the request crossed projects")),
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
		fromAgent, err := requireString(args, "from_agent")
		if err != nil {
			return nil, err
		}
		accept, err := requireBool(args, "accept")
		if err != nil {
			return nil, err
		}
		decision, err := svc.RespondContact(ctx, app.ContactRespondInput{
			ProjectKey:  projectKey,
			Agent:       agentName,
			From:        fromAgent,
			FromProject: optionalString(args, "from_project"),
			Accept:      accept,
		})
		if err != nil {
			return nil, err
		}
		logger.Printf("Contact %s -> %s decided: %s", fromAgent, agentName, decision.State)
		return jsonResult(decision)
	})
}

func registerListContacts(s *server.MCPServer, svc *app.MailService, logger *log.Logger) {
	s.AddTool(mcp.NewTool("list_contacts",
		mcp.WithDescription("List the agent's contacts and link requests in both directions, with their states."),
		mcp.WithString("project_key", mcp.Required(), mcp.Description("Project human key or slug")),
		mcp.WithString("agent_name", mcp.Required(), mcp.Description("Agent whose contacts to list")),
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
		views, err := svc.ListContacts(ctx, projectKey, agentName)
		if err != nil {
			return nil, err
		}
		if views == nil {
			views = []app.ContactView{}
		}
		return jsonResult(struct {
			Project  string            `json:"project"`
			Agent    string            `json:"agent"`
			Count    int               `json:"count"`
			Contacts []app.ContactView `json:"contacts"`
		}{projectKey, agentName, len(views), views})
	})
}

func registerRequestLink(s *server.MCPServer, svc *app.MailService, logger *log.Logger) {
	s.AddTool(mcp.NewTool("request_link",
		mcp.WithDescription("Request a cross-project link so two agents in different projects can exchange messages. The target must respond_link before traffic flows."),
		mcp.WithString("project_key", mcp.Required(), mcp.Description("Requesting agent's project")),
		mcp.WithString("from_agent", mcp.Required(), mcp.Description("Agent requesting the link")),
		mcp.WithString("to_project", mcp.Required(), mcp.Description("Target project human key or slug")),
		mcp.WithString("to_agent", mcp.Required(), mcp.Description("Target agent")),
		mcp.WithString("reason", mcp.Description("Why the link is wanted, shown to the target")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		projectKey, err := requireString(args, "project_key")
		if err != nil {
			return nil, err
		}
		fromAgent, err := requireString(args, "from_agent")
		if err != nil {
			return nil, err
		}
		toProject, err := requireString(args, "to_project")
		if err != nil {
			return nil, err
		}
		toAgent, err := requireString(args, "to_agent")
		if err != nil {
			return nil, err
		}
		view, err := svc.RequestLink(ctx, app.LinkRequestInput{
			FromProjectKey: projectKey,
			FromAgent:      fromAgent,
			ToProjectKey:   toProject,
			ToAgent:        toAgent,
			Reason:         optionalString(args, "reason"),
		})
		if err != nil {
			return nil, err
		}
		logger.Printf("Link requested %s/%s -> %s/%s", projectKey, fromAgent, toProject, toAgent)
		return jsonResult(view)
	})
}

func registerRespondLink(s *server.MCPServer, svc *app.MailService, logger *log.Logger) {
	s.AddTool(mcp.NewTool("respond_link",
		mcp.WithDescription("Accept or decline a pending cross-project link request addressed to you. Accepting opens traffic in both directions."),
		mcp.WithString("project_key", mcp.Required(), mcp.Description("Responding agent's project")),
		mcp.WithString("agent_name", mcp.Required(), mcp.Description("Agent responding to the request")),
		mcp.WithString("from_project", mcp.Required(), mcp.Description("Project the request came from")),
		mcp.WithString("from_agent", mcp.Required(), mcp.Description("Agent who requested the link")),
		mcp.WithBoolean("accept", mcp.Required(), mcp.Description("true accepts, false declines")),
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
		fromProject, err := requireString(args, "from_project")
		if err != nil {
			return nil, err
		}
		fromAgent, err := requireString(args, "from_agent")
		if err != nil {
			return nil, err
		}
		accept, err := requireBool(args, "accept")
		if err != nil {
			return nil, err
		}
		decision, err := svc.RespondLink(ctx, app.LinkRespondInput{
			ProjectKey:  projectKey,
			Agent:       agentName,
			FromProject: fromProject,
			From:        fromAgent,
			Accept:      accept,
		})
		if err != nil {
			return nil, err
		}
		logger.Printf("Link %s/%s -> %s/%s decided: %s", fromProject, fromAgent, projectKey, agentName, decision.State)
		return jsonResult(decision)
	})
}
