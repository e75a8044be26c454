package mail

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/agentmail/internal/app"
)

// suppressBannerTools lists tools that already display mailbox state or would
// cause redundant loops if they included the piggyback banner.
var suppressBannerTools = map[string]struct{}{
	"fetch_inbox":          {},
	"check_my_messages":    {},
	"macro_start_session":  {},
	"macro_prepare_thread": {},
	"health_check":         {},
}

// PiggybackMiddleware returns a mcp-go ToolHandlerMiddleware that appends a
// notification banner to tool responses when the connected agent has unread
// or ack-pending messages. Tools in suppressBannerTools are skipped.
// It also records session activity for liveness tracking.
func PiggybackMiddleware(svc *app.MailService, registry *app.SessionRegistry) server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if session := server.ClientSessionFromContext(ctx); session != nil && registry != nil {
				registry.Touch(session.SessionID())
			}

			result, err := next(ctx, req)
			if err != nil || result == nil {
				return result, err
			}
			if result.IsError {
				return result, nil
			}

			if _, suppress := suppressBannerTools[req.Params.Name]; suppress {
				return result, nil
			}

			id, ok := identityFromContext(ctx, registry)
			if !ok {
				return result, nil
			}

			banner := buildBanner(svc, id)
			if banner == "" {
				return result, nil
			}

			appendBannerToResult(result, banner)
			return result, nil
		}
	}
}

// identityFromContext extracts the bound project/agent for the current session.
func identityFromContext(ctx context.Context, registry *app.SessionRegistry) (app.SessionIdentity, bool) {
	if registry == nil {
		return app.SessionIdentity{}, false
	}
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return app.SessionIdentity{}, false
	}
	return registry.Identity(session.SessionID())
}

// buildBanner checks mailbox state for the bound identity and returns a
// notification banner string. Returns "" if there is nothing to report.
func buildBanner(svc *app.MailService, id app.SessionIdentity) string {
	project, err := svc.Index().ProjectByIdentifier(id.ProjectKey)
	if err != nil {
		return ""
	}
	unread, ackPending, err := svc.Index().UnreadCounts(project.ID, id.Agent)
	if err != nil || (unread == 0 && ackPending == 0) {
		return ""
	}

	parts := ""
	if unread > 0 {
		parts += fmt.Sprintf("%d unread message(s)", unread)
	}
	if ackPending > 0 {
		if parts != "" {
			parts += " and "
		}
		parts += fmt.Sprintf("%d message(s) awaiting your acknowledgement", ackPending)
	}

	return fmt.Sprintf("\n\n---\nYou have %s in %s. Call fetch_inbox to see them.", parts, id.ProjectKey)
}

// appendBannerToResult appends text to the last text content block, or adds a new one.
func appendBannerToResult(result *mcp.CallToolResult, banner string) {
	for i := len(result.Content) - 1; i >= 0; i-- {
		if tc, ok := result.Content[i].(mcp.TextContent); ok {
			result.Content[i] = mcp.TextContent{
				Annotated: tc.Annotated,
				Type:      "text",
				Text:      tc.Text + banner,
			}
			return
		}
	}
	// No text block found; add one
	result.Content = append(result.Content, mcp.TextContent{
		Type: "text",
		Text: banner,
	})
}
