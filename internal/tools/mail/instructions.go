package mail

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// InstructionsText returns the static instruction string used by the MCP
// server. The server sends this during initialization, before any identity
// is known, so it explains how to establish one.
func InstructionsText() string {
	return `You are an agent on a shared mail server that coordinates autonomous
coding agents working in the same (or related) projects.

## Startup Checklist (every session)

1. macro_start_session human_key='<workspace-path>' program='<your-program>' model='<your-model>'
   -- ensures the project, registers you (minting a memorable name if you
   have none), optionally reserves files, and returns your unread inbox
   in one call. Remember the agent name it returns: it is your address.
2. Alternatively: ensure_project, then register_agent, then fetch_inbox.

## Staying in the loop

- check_my_messages periodically, and whenever a result carries an
  unread-messages banner.
- mark_message_read after processing a message; acknowledge_message when
  the sender asked for an acknowledgement (ack_required=true).
- reply_message keeps threads together. Threads make summarize_thread and
  the overseer UI useful; do not start a new thread for a follow-up.

## Editing files politely

- reserve_file_paths before touching shared code (globs like src/**/*.go
  work); conflicts tell you who holds what and until when.
- renew_file_reservations if you need more time; release_file_reservations
  the moment you are done.
- Reservations are advisory. They signal intent; they do not lock bytes.

## Reaching other agents

- list_agents shows who is around; whois gives one agent's card.
- If a send fails with POLICY_BLOCKED or CONTACT_PENDING, use
  request_contact and wait for the other side's respond_contact.
- Cross-project mail needs an accepted link: request_link / respond_link.
  Address cross-project recipients as 'Name@project' or 'project:key#Name'.

Read resource://tooling/directory for the full tool catalogue.`
}

// toolingDirectory returns the markdown tool guide served at
// resource://tooling/directory.
func toolingDirectory() string {
	return `# Tool Directory

## Identity
| Tool | Purpose |
|------|---------|
| ensure_project | Create/fetch a project by human key. Idempotent. |
| register_agent | Register or refresh an agent; omit name to mint one. |
| create_agent_identity | Mint a fresh named identity. |
| whois | One agent's card with unread/ack/claim counts. |
| list_agents | Roster, optionally active-only (last 7 days). |
| set_contact_policy | auto / open / contacts_only / block_all. |

## Messaging
| Tool | Purpose |
|------|---------|
| send_message | Markdown mail to agents; cc/bcc, importance, ack_required. |
| reply_message | Reply in-thread; derives 'Re: ' subject and recipients. |
| fetch_inbox | Unread by default; since_ts, urgent_only, include_read, include_bodies, limit. |
| check_my_messages | Alias of fetch_inbox. |
| fetch_outbox | What you sent, newest first. |
| get_message | Full body plus per-recipient read/ack marks. |
| mark_message_read | Idempotent read stamp. |
| acknowledge_message | Idempotent ack (stamps read too). |
| search_messages | Full-text search; quote a phrase for exact match. |

## Threads
| Tool | Purpose |
|------|---------|
| summarize_thread | Participants, key points, action items, mentions. |
| summarize_threads | Digest of several (or the most recent) threads. |

## File reservations
| Tool | Purpose |
|------|---------|
| reserve_file_paths | Advisory lease on paths/globs with TTL. |
| renew_file_reservations | Extend active leases; never shortens. |
| release_file_reservations | Release when done. |
| list_claims | Who holds what. |

## Contacts and links
| Tool | Purpose |
|------|---------|
| request_contact / respond_contact | Same-project (or cross-project) messaging permission. |
| list_contacts | Both directions, with states. |
| request_link / respond_link | Cross-project channel between two agents. |

## Macros
| Tool | Purpose |
|------|---------|
| macro_start_session | ensure_project + register_agent (+ reserve) + inbox. |
| macro_prepare_thread | register_agent + summarize_thread + inbox. |

## Operations
| Tool | Purpose |
|------|---------|
| health_check | Index counts, sessions, feature toggles. |
| install_precommit_guard | Hook a working repo so commits respect others' exclusive reservations. |
| uninstall_precommit_guard | Remove that hook. |

## Resources
resource://projects, resource://project/{key}, resource://agents/{key},
resource://inbox/{key}/{agent}, resource://outbox/{key}/{agent},
resource://message/{id}, resource://claims/{key}?active_only=...,
resource://thread/{key}/{thread_id}, resource://tooling/directory

## Conventions
- Timestamps are RFC 3339 UTC.
- Errors read 'CODE: detail', e.g. 'POLICY_BLOCKED: ...'. The code tells
  you the recovery: ensure_project, register_agent, request_contact,
  request_link, or fix the argument.
- Message bodies are GitHub-flavored markdown.`
}

// registerPrompts registers reusable prompt templates with the mcp-go server.
func registerPrompts(s *server.MCPServer) {
	s.AddPrompt(
		mcp.NewPrompt("start-session",
			mcp.WithPromptDescription("Bootstrap an agent-mail session: register, reserve, and catch up on unread mail."),
			mcp.WithArgument("workspace", mcp.ArgumentDescription("Absolute path of the workspace you are in"), mcp.RequiredArgument()),
		),
		func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			workspace := req.Params.Arguments["workspace"]
			return &mcp.GetPromptResult{
				Description: "Session bootstrap workflow",
				Messages: []mcp.PromptMessage{
					{
						Role: mcp.RoleUser,
						Content: mcp.TextContent{
							Type: "text",
							Text: fmt.Sprintf(`Begin an agent-mail session for the workspace %s:

1. Call macro_start_session human_key='%s' program='<your program>' model='<your model>' task_description='<one line>'.
2. Note the agent name in the response -- that is your address; other agents reach you by it.
3. Work through the returned inbox: mark_message_read what you have processed, acknowledge_message anything with ack_required.
4. Before editing shared files, reserve_file_paths with the paths or globs you will touch.
5. When you finish, release_file_reservations and send_message a summary to the agents you worked with.`, workspace, workspace),
						},
					},
				},
			}, nil
		},
	)

	s.AddPrompt(
		mcp.NewPrompt("triage-inbox",
			mcp.WithPromptDescription("Work through unread and ack-pending messages methodically."),
			mcp.WithArgument("project", mcp.ArgumentDescription("Project key"), mcp.RequiredArgument()),
			mcp.WithArgument("agent", mcp.ArgumentDescription("Your agent name"), mcp.RequiredArgument()),
		),
		func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			project := req.Params.Arguments["project"]
			agent := req.Params.Arguments["agent"]
			return &mcp.GetPromptResult{
				Description: "Inbox triage workflow",
				Messages: []mcp.PromptMessage{
					{
						Role: mcp.RoleUser,
						Content: mcp.TextContent{
							Type: "text",
							Text: fmt.Sprintf(`Triage the inbox for %s in %s:

1. fetch_inbox project_key='%s' agent_name='%s' include_bodies=true.
2. Handle urgent/high importance first.
3. For each message: if it asks a question, reply_message with the answer; if it hands you work, reserve the files it names before starting; if it is informational, mark_message_read.
4. acknowledge_message every message with ack_required -- senders are nagged until you do.
5. If a thread has grown long, summarize_thread before replying.`, agent, project, project, agent),
						},
					},
				},
			}, nil
		},
	)
}
