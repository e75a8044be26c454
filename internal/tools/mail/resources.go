package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/agentmail/internal/app"
	"github.com/jaakkos/agentmail/internal/domain"
	"github.com/jaakkos/agentmail/internal/index"
)

func jsonText(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode resource: %w", err)
	}
	return string(data), nil
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	text, err := jsonText(v)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     text,
		},
	}, nil
}

// templatePath splits the part of uri after prefix into path segments,
// returning the segments and any raw query string.
func templatePath(uri, prefix string) ([]string, string) {
	rest := strings.TrimPrefix(uri, prefix)
	rest, query, _ := strings.Cut(rest, "?")
	if rest == "" {
		return nil, query
	}
	parts := strings.Split(rest, "/")
	for i, p := range parts {
		if unescaped, err := url.PathUnescape(p); err == nil {
			parts[i] = unescaped
		}
	}
	return parts, query
}

// registerResources adds read-only MCP resources: project directory,
// per-project agent and claim views, per-agent mailboxes, single messages,
// threads, and the tooling guide.
func registerResources(s *server.MCPServer, svc *app.MailService, logger *log.Logger) {

	// ── Static resources ──────────────────────────────────────────────

	s.AddResource(
		mcp.NewResource(
			"resource://projects",
			"Projects",
			mcp.WithResourceDescription("Every project known to this server, with slugs and creation times."),
			mcp.WithMIMEType("application/json"),
		),
		func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			logger.Println("Resource read: projects")
			projects, err := svc.ListProjects(ctx)
			if err != nil {
				return nil, err
			}
			if projects == nil {
				projects = []domain.Project{}
			}
			return jsonContents(req.Params.URI, struct {
				Count    int              `json:"count"`
				Projects []domain.Project `json:"projects"`
			}{len(projects), projects})
		},
	)

	s.AddResource(
		mcp.NewResource(
			"resource://tooling/directory",
			"Tool Directory",
			mcp.WithResourceDescription("Markdown guide to every tool this server exposes, grouped by concern, with calling conventions."),
			mcp.WithMIMEType("text/markdown"),
		),
		func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			logger.Println("Resource read: tooling/directory")
			return []mcp.ResourceContents{
				mcp.TextResourceContents{
					URI:      req.Params.URI,
					MIMEType: "text/markdown",
					Text:     toolingDirectory(),
				},
			}, nil
		},
	)

	// ── Resource templates (dynamic) ──────────────────────────────────

	s.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"resource://project/{key}",
			"Project Card",
			mcp.WithTemplateDescription("One project with its registered agents and most recent threads."),
			mcp.WithTemplateMIMEType("application/json"),
		),
		func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			parts, _ := templatePath(req.Params.URI, "resource://project/")
			if len(parts) == 0 {
				return nil, domain.Errorf(domain.ErrInvalidArgument, "project key missing in %q", req.Params.URI)
			}
			key := parts[0]
			logger.Printf("Resource read: project/%s", key)
			project, err := svc.Index().ProjectByIdentifier(key)
			if err != nil {
				return nil, err
			}
			agents, err := svc.ListAgents(ctx, key, false)
			if err != nil {
				return nil, err
			}
			if agents == nil {
				agents = []app.AgentCard{}
			}
			threads, err := svc.RecentThreads(ctx, key, 5)
			if err != nil {
				return nil, err
			}
			if threads == nil {
				threads = []index.ThreadHead{}
			}
			return jsonContents(req.Params.URI, struct {
				Project       domain.Project     `json:"project"`
				Agents        []app.AgentCard    `json:"agents"`
				RecentThreads []index.ThreadHead `json:"recent_threads"`
			}{project, agents, threads})
		},
	)

	s.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"resource://agents/{key}",
			"Project Agents",
			mcp.WithTemplateDescription("The agents registered in a project, with activity flags."),
			mcp.WithTemplateMIMEType("application/json"),
		),
		func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			parts, _ := templatePath(req.Params.URI, "resource://agents/")
			if len(parts) == 0 {
				return nil, domain.Errorf(domain.ErrInvalidArgument, "project key missing in %q", req.Params.URI)
			}
			key := parts[0]
			logger.Printf("Resource read: agents/%s", key)
			agents, err := svc.ListAgents(ctx, key, false)
			if err != nil {
				return nil, err
			}
			if agents == nil {
				agents = []app.AgentCard{}
			}
			return jsonContents(req.Params.URI, struct {
				Project string          `json:"project"`
				Count   int             `json:"count"`
				Agents  []app.AgentCard `json:"agents"`
			}{key, len(agents), agents})
		},
	)

	s.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"resource://inbox/{key}/{agent}",
			"Agent Inbox",
			mcp.WithTemplateDescription("The agent's unread inbox, newest first."),
			mcp.WithTemplateMIMEType("application/json"),
		),
		func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			parts, _ := templatePath(req.Params.URI, "resource://inbox/")
			if len(parts) < 2 {
				return nil, domain.Errorf(domain.ErrInvalidArgument, "inbox URI needs project and agent: %q", req.Params.URI)
			}
			key, agent := parts[0], parts[1]
			logger.Printf("Resource read: inbox/%s/%s", key, agent)
			items, err := svc.FetchInbox(ctx, key, agent, index.InboxQuery{Limit: 50})
			if err != nil {
				return nil, err
			}
			return jsonContents(req.Params.URI, inboxPayload(key, agent, items))
		},
	)

	s.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"resource://outbox/{key}/{agent}",
			"Agent Outbox",
			mcp.WithTemplateDescription("Messages the agent has sent, newest first."),
			mcp.WithTemplateMIMEType("application/json"),
		),
		func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			parts, _ := templatePath(req.Params.URI, "resource://outbox/")
			if len(parts) < 2 {
				return nil, domain.Errorf(domain.ErrInvalidArgument, "outbox URI needs project and agent: %q", req.Params.URI)
			}
			key, agent := parts[0], parts[1]
			logger.Printf("Resource read: outbox/%s/%s", key, agent)
			msgs, err := svc.FetchOutbox(ctx, key, agent, 50)
			if err != nil {
				return nil, err
			}
			if msgs == nil {
				msgs = []domain.Message{}
			}
			return jsonContents(req.Params.URI, struct {
				Project  string           `json:"project"`
				Agent    string           `json:"agent"`
				Count    int              `json:"count"`
				Messages []domain.Message `json:"messages"`
			}{key, agent, len(msgs), msgs})
		},
	)

	s.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"resource://message/{id}",
			"Message",
			mcp.WithTemplateDescription("One message with its full body and recipient marks. Message ids are unique across projects."),
			mcp.WithTemplateMIMEType("application/json"),
		),
		func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			parts, _ := templatePath(req.Params.URI, "resource://message/")
			if len(parts) == 0 {
				return nil, domain.Errorf(domain.ErrInvalidArgument, "message id missing in %q", req.Params.URI)
			}
			id := parts[0]
			logger.Printf("Resource read: message/%s", id)
			projects, err := svc.ListProjects(ctx)
			if err != nil {
				return nil, err
			}
			for _, project := range projects {
				msg, recipients, err := svc.GetMessage(ctx, project.Slug, id)
				if err != nil {
					continue
				}
				if recipients == nil {
					recipients = []domain.Recipient{}
				}
				return jsonContents(req.Params.URI, struct {
					Project    string             `json:"project"`
					Message    domain.Message     `json:"message"`
					Recipients []domain.Recipient `json:"recipients"`
				}{project.Slug, msg, recipients})
			}
			return nil, domain.Errorf(domain.ErrInvalidArgument, "unknown message id %q", id)
		},
	)

	s.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"resource://claims/{key}{?active_only}",
			"Project Claims",
			mcp.WithTemplateDescription("The project's file reservations. Append ?active_only=false to include released and expired claims."),
			mcp.WithTemplateMIMEType("application/json"),
		),
		func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			parts, query := templatePath(req.Params.URI, "resource://claims/")
			if len(parts) == 0 {
				return nil, domain.Errorf(domain.ErrInvalidArgument, "project key missing in %q", req.Params.URI)
			}
			key := parts[0]
			activeOnly := true
			if values, err := url.ParseQuery(query); err == nil {
				if raw := values.Get("active_only"); raw != "" {
					if b, err := strconv.ParseBool(raw); err == nil {
						activeOnly = b
					}
				}
			}
			logger.Printf("Resource read: claims/%s (active_only=%v)", key, activeOnly)
			claims, err := svc.ListClaims(ctx, key, activeOnly)
			if err != nil {
				return nil, err
			}
			if claims == nil {
				claims = []domain.Claim{}
			}
			return jsonContents(req.Params.URI, struct {
				Project    string         `json:"project"`
				ActiveOnly bool           `json:"active_only"`
				Count      int            `json:"count"`
				Claims     []domain.Claim `json:"claims"`
			}{key, activeOnly, len(claims), claims})
		},
	)

	s.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"resource://thread/{key}/{thread_id}",
			"Thread",
			mcp.WithTemplateDescription("Every message in a thread, oldest first, with full bodies."),
			mcp.WithTemplateMIMEType("application/json"),
		),
		func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			parts, _ := templatePath(req.Params.URI, "resource://thread/")
			if len(parts) < 2 {
				return nil, domain.Errorf(domain.ErrInvalidArgument, "thread URI needs project and thread id: %q", req.Params.URI)
			}
			key, threadID := parts[0], parts[1]
			logger.Printf("Resource read: thread/%s/%s", key, threadID)
			msgs, err := svc.ThreadMessages(ctx, key, threadID)
			if err != nil {
				return nil, err
			}
			if msgs == nil {
				msgs = []domain.Message{}
			}
			var first, last *time.Time
			if len(msgs) > 0 {
				f, l := msgs[0].CreatedTS, msgs[len(msgs)-1].CreatedTS
				first, last = &f, &l
			}
			return jsonContents(req.Params.URI, struct {
				Project  string           `json:"project"`
				ThreadID string           `json:"thread_id"`
				Count    int              `json:"count"`
				FirstTS  *time.Time       `json:"first_ts,omitempty"`
				LastTS   *time.Time       `json:"last_ts,omitempty"`
				Messages []domain.Message `json:"messages"`
			}{key, threadID, len(msgs), first, last, msgs})
		},
	)
}
