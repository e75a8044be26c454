package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/jaakkos/agentmail/internal/app"
	"github.com/jaakkos/agentmail/internal/config"
	"github.com/jaakkos/agentmail/internal/httpapi"
	"github.com/jaakkos/agentmail/internal/llm"
	"github.com/jaakkos/agentmail/internal/tools/mail"
)

var (
	serveHost string
	servePort int
	servePath string
)

var serveCmd = &cobra.Command{
	Use:   "serve-http",
	Short: "Run the MCP server over streamable HTTP",
	Long: `Start the agent-mail server: MCP tools over streamable HTTP at --path
(default /mcp), the SSE transport at /sse, health and metrics probes, and
the overseer console at /mail.

The server recovers the SQLite index from the git archives on startup and
keeps a janitor loop releasing expired file reservations.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "bind host (overrides AGENT_MAIL_HTTP_HOST)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "bind port (overrides AGENT_MAIL_HTTP_PORT)")
	serveCmd.Flags().StringVar(&servePath, "path", "/mcp", "mount path for the streamable HTTP transport")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.HTTP.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.HTTP.Port = servePort
	}

	logger := setupLogger(cfg.LogFilePath())
	logger.Printf("agent-mail %s starting", Version)
	logger.Printf("Storage root: %s", cfg.StorageRootDir())

	svc, err := openService(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Index().Close(); err != nil {
			logger.Printf("Warning: close index: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ignore SIGHUP so the server keeps running when daemonized (nohup, systemd
	// without a tty, etc.)
	signal.Ignore(syscall.SIGHUP)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	if err := svc.RecoverOnStartup(ctx); err != nil {
		return runtimeErrf("startup recovery: %w", err)
	}

	// Session registry maps MCP sessions to agent identities; the session
	// store holds the live ClientSession objects for push notifications.
	registry := app.NewSessionRegistry()
	sessions := newSessionStore()

	hooks := &server.Hooks{}
	hooks.AddBeforeInitialize(func(ctx context.Context, id any, message *mcp.InitializeRequest) {
		if session := server.ClientSessionFromContext(ctx); session != nil {
			sessions.set(session.SessionID(), session)
			logger.Printf("Client session registered: %s", session.SessionID())
		}
		if message != nil {
			ci := message.Params.ClientInfo
			logger.Printf("Client: %s %s, Protocol: %s", ci.Name, ci.Version, message.Params.ProtocolVersion)
		}
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		sid := session.SessionID()
		registry.Remove(sid)
		sessions.remove(sid)
		logger.Printf("Client session unregistered: %s", sid)
	})
	hooks.AddAfterCallTool(func(ctx context.Context, id any, message *mcp.CallToolRequest, result *mcp.CallToolResult) {
		if message != nil {
			logger.Printf("Tool call: %s", message.Params.Name)
		}
	})

	// One composed middleware: metrics time the whole call, the piggyback
	// banner decorates the result inside it.
	metrics := httpapi.NewMetrics()
	piggyback := mail.PiggybackMiddleware(svc, registry)
	toolMW := func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return metrics.ToolMiddleware()(piggyback(next))
	}

	mcpServer := server.NewMCPServer(
		"agent-mail",
		Version,
		server.WithInstructions(mail.InstructionsText()),
		server.WithToolHandlerMiddleware(toolMW),
		server.WithHooks(hooks),
		server.WithResourceCapabilities(false, true), // subscribe=false, listChanged=true
	)
	mail.Register(mcpServer, svc, logger, registry)

	// pushFunc delivers one notification to one session. Bindings can
	// outlive their transport briefly; a vanished session is not an error.
	pushFunc := func(sessionID, method string, params any) error {
		session := sessions.get(sessionID)
		if session == nil || !session.Initialized() {
			return nil
		}
		notification := mcp.JSONRPCNotification{
			JSONRPC: "2.0",
			Notification: mcp.Notification{
				Method: method,
				Params: mcp.NotificationParams{AdditionalFields: map[string]any{"params": params}},
			},
		}
		select {
		case session.NotificationChannel() <- notification:
			return nil
		default:
			return fmt.Errorf("notification channel full")
		}
	}

	notifier := app.NewNotifier(cfg.StorageRootDir(), svc, registry, pushFunc, logger)
	svc.SetNotifier(notifier)
	go notifier.Start(ctx)
	defer notifier.Stop()

	if cfg.LLM.Enabled {
		svc.SetEnricher(llm.NewClient(cfg, logger))
		logger.Printf("LLM summary enrichment enabled (model %s)", cfg.LLM.DefaultModel)
	}

	janitor := app.NewJanitor(svc, logger,
		app.WithJanitorInterval(cfg.SweepInterval()),
		app.WithAckTTL(cfg.AckTTL()),
		app.WithJanitorNotifier(notifier),
	)
	go janitor.Start(ctx)
	defer janitor.Stop()

	baseURL := fmt.Sprintf("http://localhost:%d", cfg.HTTP.Port)
	streamSrv := server.NewStreamableHTTPServer(mcpServer)
	sseSrv := server.NewSSEServer(mcpServer, server.WithBaseURL(baseURL))

	opts := []httpapi.Option{
		httpapi.WithMCP(streamSrv),
		httpapi.WithMCPPath(servePath),
		httpapi.WithSSE(sseSrv, sseSrv),
		httpapi.WithMetrics(metrics),
	}
	limiter, err := httpapi.NewLimiter(cfg.HTTP)
	if err != nil {
		return runtimeErrf("init rate limiter: %w", err)
	}
	if limiter != nil {
		opts = append(opts, httpapi.WithLimiter(limiter))
	}

	httpSrv := httpapi.NewServer(cfg, svc, logger, opts...)
	if err := httpSrv.Serve(ctx); err != nil {
		return runtimeErrf("http server: %w", err)
	}
	logger.Println("Shutdown complete")
	return nil
}

// sessionStore holds live ClientSession objects keyed by session ID so the
// notifier can push mailbox updates to specific clients.
type sessionStore struct {
	mu   sync.RWMutex
	data map[string]server.ClientSession
}

func newSessionStore() *sessionStore {
	return &sessionStore{data: make(map[string]server.ClientSession)}
}

func (ss *sessionStore) set(id string, s server.ClientSession) {
	ss.mu.Lock()
	ss.data[id] = s
	ss.mu.Unlock()
}

func (ss *sessionStore) get(id string) server.ClientSession {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.data[id]
}

func (ss *sessionStore) remove(id string) {
	ss.mu.Lock()
	delete(ss.data, id)
	ss.mu.Unlock()
}
