package mail

import (
	"context"
	"log"

	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/agentmail/internal/app"
)

// RegisterOption configures optional dependencies for tool registration.
type RegisterOption func(*registerOpts)

type registerOpts struct {
	guardBinary string
}

// WithGuardBinary overrides the binary path baked into installed pre-commit
// hooks. Defaults to the running executable.
func WithGuardBinary(path string) RegisterOption {
	return func(o *registerOpts) { o.guardBinary = path }
}

// Register registers the mail tools, read-only resources, and prompt
// templates with the mcp-go server. registry is optional; when set,
// identity-establishing tools bind the calling session so the piggyback
// middleware can decorate later results with unread counts.
func Register(s *server.MCPServer, svc *app.MailService, logger *log.Logger, registry *app.SessionRegistry, opts ...RegisterOption) {
	var o registerOpts
	for _, opt := range opts {
		opt(&o)
	}

	// Project and identity tools (6)
	registerEnsureProject(s, svc, logger)
	registerRegisterAgent(s, svc, logger, registry)
	registerCreateAgentIdentity(s, svc, logger, registry)
	registerWhois(s, svc, logger)
	registerListAgents(s, svc, logger)
	registerSetContactPolicy(s, svc, logger)

	// Messaging tools (9, check_my_messages aliasing fetch_inbox)
	registerSendMessage(s, svc, logger, registry)
	registerReplyMessage(s, svc, logger, registry)
	registerFetchInbox(s, svc, logger, registry, "fetch_inbox")
	registerFetchInbox(s, svc, logger, registry, "check_my_messages")
	registerFetchOutbox(s, svc, logger)
	registerGetMessage(s, svc, logger)
	registerMarkMessageRead(s, svc, logger)
	registerAcknowledgeMessage(s, svc, logger)
	registerSearchMessages(s, svc, logger)

	// Thread summary tools (2)
	registerSummarizeThread(s, svc, logger)
	registerSummarizeThreads(s, svc, logger)

	// File reservation tools (4)
	registerReserveFilePaths(s, svc, logger)
	registerRenewFileReservations(s, svc, logger)
	registerReleaseFileReservations(s, svc, logger)
	registerListClaims(s, svc, logger)

	// Contact and link tools (5)
	registerRequestContact(s, svc, logger)
	registerRespondContact(s, svc, logger)
	registerListContacts(s, svc, logger)
	registerRequestLink(s, svc, logger)
	registerRespondLink(s, svc, logger)

	// Macro tools (2)
	registerMacroStartSession(s, svc, logger, registry)
	registerMacroPrepareThread(s, svc, logger, registry)

	// Pre-commit guard tools (2)
	registerInstallGuard(s, svc, logger, o.guardBinary)
	registerUninstallGuard(s, svc, logger)

	// Health tool (1)
	registerHealthCheck(s, svc, logger, registry)

	// Prompt templates (start-session, triage-inbox)
	registerPrompts(s)

	// Resources and resource templates (projects, mailboxes, threads, claims)
	registerResources(s, svc, logger)
}

// bindSession records the calling session's project/agent identity so the
// piggyback middleware can decorate later results in the same session.
func bindSession(ctx context.Context, registry *app.SessionRegistry, projectKey, agent string) {
	if registry == nil {
		return
	}
	if session := server.ClientSessionFromContext(ctx); session != nil {
		registry.Bind(session.SessionID(), projectKey, agent)
	}
}
