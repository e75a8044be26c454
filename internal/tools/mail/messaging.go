package mail

import (
	"context"
	"log"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/agentmail/internal/app"
	"github.com/jaakkos/agentmail/internal/domain"
	"github.com/jaakkos/agentmail/internal/index"
)

// sendReceipt is the wire shape of send_message and reply_message results.
type sendReceipt struct {
	ID           string    `json:"id"`
	ThreadID     string    `json:"thread_id"`
	Created      time.Time `json:"created"`
	Subject      string    `json:"subject"`
	From         string    `json:"from"`
	Recipients   []string  `json:"recipients"`
	CC           []string  `json:"cc,omitempty"`
	Importance   string    `json:"importance"`
	AckRequired  bool      `json:"ack_required"`
	Commit       string    `json:"commit,omitempty"`
	CrossProject []string  `json:"cross_project,omitempty"`
}

func receiptFrom(d app.DeliveredMessage) sendReceipt {
	return sendReceipt{
		ID:           d.ID,
		ThreadID:     d.ThreadID,
		Created:      d.CreatedTS,
		Subject:      d.Subject,
		From:         d.From,
		Recipients:   d.To,
		CC:           d.CC,
		Importance:   d.Importance,
		AckRequired:  d.AckRequired,
		Commit:       d.Commit,
		CrossProject: d.CrossProject,
	}
}

// inboxItem is the wire shape of one inbox entry.
type inboxItem struct {
	ID          string     `json:"id"`
	ThreadID    string     `json:"thread_id"`
	Subject     string     `json:"subject"`
	From        string     `json:"from"`
	Created     time.Time  `json:"created_ts"`
	Importance  string     `json:"importance"`
	AckRequired bool       `json:"ack_required"`
	Kind        string     `json:"kind"`
	ReadTS      *time.Time `json:"read_ts,omitempty"`
	AckTS       *time.Time `json:"ack_ts,omitempty"`
	BodyMD      string     `json:"body_md,omitempty"`
}

type inboxEnvelope struct {
	Project  string      `json:"project"`
	Agent    string      `json:"agent"`
	Count    int         `json:"count"`
	Messages []inboxItem `json:"messages"`
}

func inboxPayload(projectKey, agentName string, items []index.InboxItem) inboxEnvelope {
	env := inboxEnvelope{Project: projectKey, Agent: agentName, Messages: make([]inboxItem, 0, len(items))}
	for _, it := range items {
		env.Messages = append(env.Messages, inboxItem{
			ID:          it.Message.ID,
			ThreadID:    it.Message.ThreadID,
			Subject:     it.Message.Subject,
			From:        it.Message.From,
			Created:     it.Message.CreatedTS,
			Importance:  string(it.Message.Importance),
			AckRequired: it.Message.AckRequired,
			Kind:        string(it.Kind),
			ReadTS:      it.ReadTS,
			AckTS:       it.AckTS,
			BodyMD:      it.Message.BodyMD,
		})
	}
	env.Count = len(env.Messages)
	return env
}

func registerSendMessage(s *server.MCPServer, svc *app.MailService, logger *log.Logger, registry *app.SessionRegistry) {
	s.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Send a markdown message to one or more agents in the project. Address other projects as 'Name@project' or 'project:key#Name' (requires an accepted link)."),
		mcp.WithString("project_key", mcp.Required(), mcp.Description("Project human key or slug")),
		mcp.WithString("sender_name", mcp.Required(), mcp.Description("Registered agent sending the message")),
		mcp.WithArray("to", mcp.Required(), mcp.Description("Primary recipient agent names")),
		mcp.WithString("subject", mcp.Required(), mcp.Description("Subject line")),
		mcp.WithString("body_md", mcp.Required(), mcp.Description("Message body, GitHub-flavored markdown")),
		mcp.WithArray("cc", mcp.Description("Carbon-copy recipients")),
		mcp.WithArray("bcc", mcp.Description("Blind-copy recipients, not recorded in the canonical header")),
		mcp.WithString("importance", mcp.Description("Message importance"), mcp.Enum("low", "normal", "high", "urgent")),
		mcp.WithBoolean("ack_required", mcp.Description("Ask recipients for an explicit acknowledgement")),
		mcp.WithString("thread_id", mcp.Description("Existing thread to append to; omitted starts a new thread")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		projectKey, err := requireString(args, "project_key")
		if err != nil {
			return nil, err
		}
		sender, err := requireString(args, "sender_name")
		if err != nil {
			return nil, err
		}
		subject, err := requireString(args, "subject")
		if err != nil {
			return nil, err
		}
		body, err := requireString(args, "body_md")
		if err != nil {
			return nil, err
		}
		to, err := stringList(args, "to")
		if err != nil {
			return nil, err
		}
		cc, err := stringList(args, "cc")
		if err != nil {
			return nil, err
		}
		bcc, err := stringList(args, "bcc")
		if err != nil {
			return nil, err
		}
		receipt, err := svc.SendMessage(ctx, app.SendInput{
			ProjectKey:  projectKey,
			From:        sender,
			To:          to,
			CC:          cc,
			BCC:         bcc,
			Subject:     subject,
			Body:        body,
			Importance:  optionalString(args, "importance"),
			AckRequired: optionalBool(args, "ack_required", false),
			ThreadID:    optionalString(args, "thread_id"),
		})
		if err != nil {
			return nil, err
		}
		bindSession(ctx, registry, projectKey, sender)
		logger.Printf("Message %s sent in %s: %s -> %v", receipt.ID, projectKey, sender, receipt.To)
		return jsonResult(receiptFrom(receipt))
	})
}

func registerReplyMessage(s *server.MCPServer, svc *app.MailService, logger *log.Logger, registry *app.SessionRegistry) {
	s.AddTool(mcp.NewTool("reply_message",
		mcp.WithDescription("Reply within an existing thread. Defaults the subject to 'Re: ...' and addresses the original sender plus the other recipients."),
		mcp.WithString("project_key", mcp.Required(), mcp.Description("Project human key or slug")),
		mcp.WithString("message_id", mcp.Required(), mcp.Description("Message being replied to")),
		mcp.WithString("sender_name", mcp.Required(), mcp.Description("Registered agent sending the reply")),
		mcp.WithString("body_md", mcp.Required(), mcp.Description("Reply body, GitHub-flavored markdown")),
		mcp.WithString("subject", mcp.Description("Override the derived 'Re: ...' subject")),
		mcp.WithArray("to", mcp.Description("Override the derived recipient list")),
		mcp.WithArray("cc", mcp.Description("Override the derived CC list")),
		mcp.WithString("importance", mcp.Description("Message importance"), mcp.Enum("low", "normal", "high", "urgent")),
		mcp.WithBoolean("ack_required", mcp.Description("Override the original's ack requirement")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		projectKey, err := requireString(args, "project_key")
		if err != nil {
			return nil, err
		}
		messageID, err := requireString(args, "message_id")
		if err != nil {
			return nil, err
		}
		sender, err := requireString(args, "sender_name")
		if err != nil {
			return nil, err
		}
		body, err := requireString(args, "body_md")
		if err != nil {
			return nil, err
		}
		to, err := stringList(args, "to")
		if err != nil {
			return nil, err
		}
		cc, err := stringList(args, "cc")
		if err != nil {
			return nil, err
		}
		in := app.ReplyInput{
			ProjectKey: projectKey,
			MessageID:  messageID,
			From:       sender,
			Body:       body,
			Subject:    optionalString(args, "subject"),
			Importance: optionalString(args, "importance"),
			To:         to,
			CC:         cc,
		}
		if raw, ok := args["ack_required"].(bool); ok {
			in.AckRequired = &raw
		}
		receipt, err := svc.ReplyMessage(ctx, in)
		if err != nil {
			return nil, err
		}
		bindSession(ctx, registry, projectKey, sender)
		logger.Printf("Reply %s sent in thread %s by %s", receipt.ID, receipt.ThreadID, sender)
		return jsonResult(receiptFrom(receipt))
	})
}

// registerFetchInbox serves both fetch_inbox and its check_my_messages alias.
func registerFetchInbox(s *server.MCPServer, svc *app.MailService, logger *log.Logger, registry *app.SessionRegistry, name string) {
	s.AddTool(mcp.NewTool(name,
		mcp.WithDescription("Fetch the agent's inbox, newest first. Unread only unless include_read is set; refreshes the agent's last-active stamp."),
		mcp.WithString("project_key", mcp.Required(), mcp.Description("Project human key or slug")),
		mcp.WithString("agent_name", mcp.Required(), mcp.Description("Agent whose inbox to read")),
		mcp.WithString("since_ts", mcp.Description("Only messages created after this RFC 3339 timestamp")),
		mcp.WithBoolean("urgent_only", mcp.Description("Only high/urgent importance")),
		mcp.WithBoolean("include_read", mcp.Description("Include already-read messages")),
		mcp.WithBoolean("include_bodies", mcp.Description("Include full markdown bodies")),
		mcp.WithNumber("limit", mcp.Description("Maximum messages to return (default 20)")),
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
		q := index.InboxQuery{
			UrgentOnly:    optionalBool(args, "urgent_only", false),
			IncludeRead:   optionalBool(args, "include_read", false),
			IncludeBodies: optionalBool(args, "include_bodies", false),
			Limit:         optionalInt(args, "limit", 0),
		}
		if raw := optionalString(args, "since_ts"); raw != "" {
			since, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return nil, domain.Errorf(domain.ErrInvalidArgument, "since_ts must be RFC 3339: %v", err)
			}
			q.Since = &since
		}
		items, err := svc.FetchInbox(ctx, projectKey, agentName, q)
		if err != nil {
			return nil, err
		}
		bindSession(ctx, registry, projectKey, agentName)
		return jsonResult(inboxPayload(projectKey, agentName, items))
	})
}

func registerFetchOutbox(s *server.MCPServer, svc *app.MailService, logger *log.Logger) {
	s.AddTool(mcp.NewTool("fetch_outbox",
		mcp.WithDescription("Fetch messages the agent has sent, newest first."),
		mcp.WithString("project_key", mcp.Required(), mcp.Description("Project human key or slug")),
		mcp.WithString("agent_name", mcp.Required(), mcp.Description("Agent whose outbox to read")),
		mcp.WithNumber("limit", mcp.Description("Maximum messages to return (default 20)")),
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
		msgs, err := svc.FetchOutbox(ctx, projectKey, agentName, optionalInt(args, "limit", 0))
		if err != nil {
			return nil, err
		}
		if msgs == nil {
			msgs = []domain.Message{}
		}
		return jsonResult(struct {
			Project  string           `json:"project"`
			Agent    string           `json:"agent"`
			Count    int              `json:"count"`
			Messages []domain.Message `json:"messages"`
		}{projectKey, agentName, len(msgs), msgs})
	})
}

func registerGetMessage(s *server.MCPServer, svc *app.MailService, logger *log.Logger) {
	s.AddTool(mcp.NewTool("get_message",
		mcp.WithDescription("Fetch one message with its full body and per-recipient read/ack marks."),
		mcp.WithString("project_key", mcp.Required(), mcp.Description("Project human key or slug")),
		mcp.WithString("message_id", mcp.Required(), mcp.Description("Message id, e.g. msg_20260825_1a2b3c4d")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		projectKey, err := requireString(args, "project_key")
		if err != nil {
			return nil, err
		}
		messageID, err := requireString(args, "message_id")
		if err != nil {
			return nil, err
		}
		msg, recipients, err := svc.GetMessage(ctx, projectKey, messageID)
		if err != nil {
			return nil, err
		}
		if recipients == nil {
			recipients = []domain.Recipient{}
		}
		return jsonResult(struct {
			Message    domain.Message     `json:"message"`
			Recipients []domain.Recipient `json:"recipients"`
		}{msg, recipients})
	})
}

func registerMarkMessageRead(s *server.MCPServer, svc *app.MailService, logger *log.Logger) {
	s.AddTool(mcp.NewTool("mark_message_read",
		mcp.WithDescription("Stamp the agent's copy of a message as read. Idempotent; a repeat call reports updated=false."),
		mcp.WithString("project_key", mcp.Required(), mcp.Description("Project human key or slug")),
		mcp.WithString("agent_name", mcp.Required(), mcp.Description("Recipient marking the message")),
		mcp.WithString("message_id", mcp.Required(), mcp.Description("Message to mark")),
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
		messageID, err := requireString(args, "message_id")
		if err != nil {
			return nil, err
		}
		at, updated, err := svc.MarkRead(ctx, projectKey, messageID, agentName)
		if err != nil {
			return nil, err
		}
		logger.Printf("Message %s marked read by %s (updated=%v)", messageID, agentName, updated)
		return jsonResult(struct {
			MessageID string    `json:"message_id"`
			Agent     string    `json:"agent"`
			ReadTS    time.Time `json:"read_ts"`
			Updated   bool      `json:"updated"`
		}{messageID, agentName, at, updated})
	})
}

func registerAcknowledgeMessage(s *server.MCPServer, svc *app.MailService, logger *log.Logger) {
	s.AddTool(mcp.NewTool("acknowledge_message",
		mcp.WithDescription("Acknowledge an ack-required message (stamps read too). Idempotent; a repeat call reports updated=false."),
		mcp.WithString("project_key", mcp.Required(), mcp.Description("Project human key or slug")),
		mcp.WithString("agent_name", mcp.Required(), mcp.Description("Recipient acknowledging the message")),
		mcp.WithString("message_id", mcp.Required(), mcp.Description("Message to acknowledge")),
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
		messageID, err := requireString(args, "message_id")
		if err != nil {
			return nil, err
		}
		marks, err := svc.Acknowledge(ctx, projectKey, messageID, agentName)
		if err != nil {
			return nil, err
		}
		logger.Printf("Message %s acknowledged by %s (updated=%v)", messageID, agentName, marks.Updated)
		return jsonResult(struct {
			MessageID      string     `json:"message_id"`
			Agent          string     `json:"agent"`
			AcknowledgedAt *time.Time `json:"acknowledged_at"`
			ReadTS         *time.Time `json:"read_ts,omitempty"`
			Updated        bool       `json:"updated"`
		}{messageID, agentName, marks.AckTS, marks.ReadTS, marks.Updated})
	})
}

func registerSearchMessages(s *server.MCPServer, svc *app.MailService, logger *log.Logger) {
	s.AddTool(mcp.NewTool("search_messages",
		mcp.WithDescription("Full-text search over the project's messages. Bare terms are OR'd; quote a phrase for exact matching."),
		mcp.WithString("project_key", mcp.Required(), mcp.Description("Project human key or slug")),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search terms or a \"quoted phrase\"")),
		mcp.WithNumber("limit", mcp.Description("Maximum hits to return (default 20)")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		projectKey, err := requireString(args, "project_key")
		if err != nil {
			return nil, err
		}
		query, err := requireString(args, "query")
		if err != nil {
			return nil, err
		}
		hits, err := svc.SearchMessages(ctx, projectKey, query, optionalInt(args, "limit", 0))
		if err != nil {
			return nil, err
		}
		type hit struct {
			ID         string    `json:"id"`
			ThreadID   string    `json:"thread_id"`
			Subject    string    `json:"subject"`
			From       string    `json:"from"`
			Created    time.Time `json:"created_ts"`
			Importance string    `json:"importance"`
			Snippet    string    `json:"snippet"`
		}
		out := make([]hit, 0, len(hits))
		for _, h := range hits {
			out = append(out, hit{
				ID:         h.Message.ID,
				ThreadID:   h.Message.ThreadID,
				Subject:    h.Message.Subject,
				From:       h.Message.From,
				Created:    h.Message.CreatedTS,
				Importance: string(h.Message.Importance),
				Snippet:    h.Snippet,
			})
		}
		return jsonResult(struct {
			Project string `json:"project"`
			Query   string `json:"query"`
			Count   int    `json:"count"`
			Hits    []hit  `json:"hits"`
		}{projectKey, query, len(out), out})
	})
}
