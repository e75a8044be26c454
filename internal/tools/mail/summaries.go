package mail

import (
	"context"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/agentmail/internal/app"
)

func registerSummarizeThread(s *server.MCPServer, svc *app.MailService, logger *log.Logger) {
	s.AddTool(mcp.NewTool("summarize_thread",
		mcp.WithDescription("Summarize one thread: participants, key points, action items, mention counts. Uses the LLM overlay when enabled, deterministic extraction otherwise."),
		mcp.WithString("project_key", mcp.Required(), mcp.Description("Project human key or slug")),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread to summarize")),
		mcp.WithBoolean("include_examples", mcp.Description("Include up to three example message headers")),
		mcp.WithBoolean("llm_mode", mcp.Description("Force the LLM overlay for this call")),
		mcp.WithString("model", mcp.Description("Override the configured summary model")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		projectKey, err := requireString(args, "project_key")
		if err != nil {
			return nil, err
		}
		threadID, err := requireString(args, "thread_id")
		if err != nil {
			return nil, err
		}
		res, err := svc.SummarizeThread(ctx, projectKey, threadID,
			optionalBool(args, "include_examples", false),
			optionalBool(args, "llm_mode", false),
			optionalString(args, "model"))
		if err != nil {
			return nil, err
		}
		logger.Printf("Summarized thread %s in %s (%d messages)", threadID, projectKey, res.Summary.TotalMessages)
		return jsonResult(res)
	})
}

func registerSummarizeThreads(s *server.MCPServer, svc *app.MailService, logger *log.Logger) {
	s.AddTool(mcp.NewTool("summarize_threads",
		mcp.WithDescription("Digest several threads at once: per-thread summaries plus aggregated mentions and action items. Omit thread_ids to digest the most recent threads."),
		mcp.WithString("project_key", mcp.Required(), mcp.Description("Project human key or slug")),
		mcp.WithArray("thread_ids", mcp.Description("Threads to digest; omitted picks the most recent")),
		mcp.WithNumber("recent_limit", mcp.Description("How many recent threads to pick when thread_ids is omitted (default 10)")),
		mcp.WithNumber("per_thread_limit", mcp.Description("Messages considered per thread (default 50)")),
		mcp.WithBoolean("llm_mode", mcp.Description("Force the LLM overlay for this call")),
		mcp.WithString("model", mcp.Description("Override the configured summary model")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		projectKey, err := requireString(args, "project_key")
		if err != nil {
			return nil, err
		}
		threadIDs, err := stringList(args, "thread_ids")
		if err != nil {
			return nil, err
		}
		if len(threadIDs) == 0 {
			heads, err := svc.RecentThreads(ctx, projectKey, optionalInt(args, "recent_limit", 10))
			if err != nil {
				return nil, err
			}
			for _, head := range heads {
				threadIDs = append(threadIDs, head.ThreadID)
			}
		}
		digest, err := svc.SummarizeThreads(ctx, projectKey, threadIDs,
			optionalInt(args, "per_thread_limit", 0),
			optionalBool(args, "llm_mode", false),
			optionalString(args, "model"))
		if err != nil {
			return nil, err
		}
		logger.Printf("Digested %d threads in %s", len(digest.Threads), projectKey)
		return jsonResult(digest)
	})
}
