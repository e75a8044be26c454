package web

import (
	"bytes"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// markdown renders message bodies. Raw HTML inside the markdown is dropped
// by goldmark's default renderer, so the output can be inlined unescaped.
var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

func renderMarkdown(src string) template.HTML {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return template.HTML("<pre>" + template.HTMLEscapeString(src) + "</pre>")
	}
	return template.HTML(buf.String())
}

var pages = template.Must(template.New("mail").Parse(pagesHTML))

const baseCSS = `
  :root {
    --bg: #0d1117;
    --surface: #161b22;
    --surface-hover: #1c2129;
    --border: #30363d;
    --text: #e6edf3;
    --text-dim: #8b949e;
    --accent: #58a6ff;
    --green: #3fb950;
    --yellow: #d29922;
    --red: #f85149;
    --purple: #bc8cff;
  }
  * { box-sizing: border-box; margin: 0; padding: 0; }
  body {
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Helvetica, Arial, sans-serif;
    background: var(--bg);
    color: var(--text);
    font-size: 14px;
    line-height: 1.5;
    padding: 16px;
    max-width: 1000px;
    margin: 0 auto;
  }
  header {
    display: flex;
    align-items: center;
    justify-content: space-between;
    margin-bottom: 16px;
    padding-bottom: 12px;
    border-bottom: 1px solid var(--border);
  }
  header h1 { font-size: 20px; font-weight: 600; }
  header h1 a { color: var(--text); text-decoration: none; }
  header h1 span { color: var(--accent); }
  .meta { font-size: 12px; color: var(--text-dim); }
  a { color: var(--accent); }
  .crumbs { margin-bottom: 12px; color: var(--text-dim); font-size: 13px; }
  .crumbs a { text-decoration: none; }
  .stats { color: var(--text-dim); font-size: 12px; margin-bottom: 12px; }
  .card {
    background: var(--surface);
    border: 1px solid var(--border);
    border-radius: 8px;
    overflow: hidden;
    margin-bottom: 16px;
  }
  .card-header {
    padding: 10px 14px;
    border-bottom: 1px solid var(--border);
    font-weight: 600;
    font-size: 13px;
    text-transform: uppercase;
    letter-spacing: 0.5px;
    color: var(--text-dim);
  }
  table { width: 100%; border-collapse: collapse; }
  th, td { text-align: left; padding: 8px 14px; border-bottom: 1px solid var(--border); font-size: 13px; }
  tr:last-child td { border-bottom: none; }
  th { color: var(--text-dim); font-size: 11px; text-transform: uppercase; letter-spacing: 0.5px; }
  .dim { color: var(--text-dim); }
  .dot { display: inline-block; width: 9px; height: 9px; border-radius: 50%; margin-right: 4px; }
  .dot.online { background: var(--green); }
  .dot.offline { background: var(--text-dim); }
  .badge {
    font-size: 10px;
    padding: 1px 6px;
    border-radius: 4px;
    background: var(--border);
    color: var(--text-dim);
    text-transform: uppercase;
  }
  .badge.high, .badge.urgent { background: #4b1818; color: var(--red); }
  .badge.ack { background: #3a2d12; color: var(--yellow); }
  .badge.exclusive { background: #1f3a5f; color: var(--accent); }
  tr.unread td { font-weight: 600; }
  .msg {
    background: var(--surface);
    border: 1px solid var(--border);
    border-left: 3px solid var(--border);
    border-radius: 8px;
    margin-bottom: 12px;
  }
  .msg.overseer { border-left-color: var(--purple); }
  .msg-head {
    display: flex;
    gap: 8px;
    align-items: center;
    padding: 8px 14px;
    border-bottom: 1px solid var(--border);
    font-size: 12px;
  }
  .msg-from { font-weight: 600; }
  .msg.overseer .msg-from { color: var(--purple); }
  .msg-age { margin-left: auto; color: var(--text-dim); }
  .msg-body { padding: 12px 14px; }
  .msg-body pre { background: var(--bg); border: 1px solid var(--border); border-radius: 6px; padding: 10px; overflow-x: auto; margin: 8px 0; }
  .msg-body code { font-family: ui-monospace, SFMono-Regular, Menlo, monospace; font-size: 12px; }
  .msg-body h1, .msg-body h2, .msg-body h3 { margin: 10px 0 6px; }
  .msg-body ul, .msg-body ol { margin: 6px 0 6px 22px; }
  .msg-body p { margin: 6px 0; }
  .msg-body blockquote { border-left: 3px solid var(--border); padding-left: 10px; color: var(--text-dim); }
  .actions { display: flex; gap: 10px; margin-bottom: 16px; align-items: center; }
  .btn {
    display: inline-block;
    padding: 6px 12px;
    border-radius: 6px;
    background: var(--accent);
    color: #0d1117;
    font-weight: 600;
    text-decoration: none;
    font-size: 13px;
  }
  form.inline { display: inline; }
  input[type=text], textarea, select {
    background: var(--bg);
    border: 1px solid var(--border);
    border-radius: 6px;
    color: var(--text);
    padding: 6px 10px;
    font-size: 13px;
  }
  textarea { width: 100%; min-height: 160px; font-family: ui-monospace, SFMono-Regular, Menlo, monospace; }
  button {
    background: var(--surface-hover);
    border: 1px solid var(--border);
    border-radius: 6px;
    color: var(--text);
    padding: 4px 10px;
    font-size: 12px;
    cursor: pointer;
  }
  button:hover { border-color: var(--accent); }
  .form-row { margin-bottom: 10px; }
  .form-row label { display: block; font-size: 12px; color: var(--text-dim); margin-bottom: 3px; }
  .form-row input[type=text] { width: 100%; }
  .error-box {
    background: #2d1214;
    border: 1px solid var(--red);
    color: var(--red);
    border-radius: 6px;
    padding: 8px 12px;
    margin-bottom: 12px;
  }
`

const pagesHTML = `
{{define "top"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.}} · Agent Mail</title>
<style>` + baseCSS + `</style>
</head>
<body>
<header>
  <h1><a href="/mail">Agent <span>Mail</span></a></h1>
  <div class="meta">overseer console</div>
</header>
{{end}}

{{define "bottom"}}</body>
</html>
{{end}}

{{define "projects"}}{{template "top" .Title}}
<div class="stats">{{.Stats.Projects}} project(s) · {{.Stats.Agents}} agent(s) · {{.Stats.Messages}} message(s) · {{.Stats.Claims}} active claim(s)</div>
<div class="card">
  <div class="card-header">Projects</div>
  <table>
    <tr><th>Project</th><th>Slug</th><th>Created</th></tr>
    {{range .Projects}}<tr>
      <td><a href="/mail/project/{{.Slug}}">{{.HumanKey}}</a></td>
      <td class="dim">{{.Slug}}</td>
      <td class="dim">{{.Created}}</td>
    </tr>{{end}}
    {{if not .Projects}}<tr><td colspan="3" class="dim">no projects yet</td></tr>{{end}}
  </table>
</div>
{{template "bottom"}}{{end}}

{{define "project"}}{{template "top" .Title}}
<p class="crumbs"><a href="/mail">projects</a> / {{.HumanKey}}</p>
<div class="actions">
  <a class="btn" href="/mail/compose/{{.Slug}}">Compose as overseer</a>
  <form class="inline" action="/mail/search/{{.Slug}}" method="get">
    <input type="text" name="q" placeholder="search mail...">
  </form>
</div>
<div class="card">
  <div class="card-header">Agents</div>
  <table>
    <tr><th>Name</th><th>Program</th><th>Model</th><th>Policy</th><th>Last seen</th><th>Inbox</th></tr>
    {{range .Agents}}<tr>
      <td><span class="dot {{if .Active}}online{{else}}offline{{end}}"></span>{{.Name}}</td>
      <td class="dim">{{.Program}}</td>
      <td class="dim">{{.Model}}</td>
      <td class="dim">{{.Policy}}</td>
      <td class="dim">{{.LastSeen}}</td>
      <td><a href="/mail/inbox/{{$.Slug}}/{{.Name}}">open</a></td>
    </tr>{{end}}
    {{if not .Agents}}<tr><td colspan="6" class="dim">no agents registered</td></tr>{{end}}
  </table>
</div>
<div class="card">
  <div class="card-header">Active claims</div>
  <table>
    <tr><th>Path</th><th>Holder</th><th>Mode</th><th>Reason</th><th>Expires</th></tr>
    {{range .Claims}}<tr>
      <td><code>{{.Path}}</code></td>
      <td>{{.Agent}}</td>
      <td>{{if .Exclusive}}<span class="badge exclusive">exclusive</span>{{else}}<span class="badge">shared</span>{{end}}</td>
      <td class="dim">{{.Reason}}</td>
      <td class="dim">{{.Expires}}</td>
    </tr>{{end}}
    {{if not .Claims}}<tr><td colspan="5" class="dim">no active claims</td></tr>{{end}}
  </table>
</div>
<div class="card">
  <div class="card-header">Recent threads</div>
  <table>
    <tr><th>Subject</th><th>Last from</th><th>Messages</th><th>Last activity</th></tr>
    {{range .Threads}}<tr>
      <td><a href="/mail/thread/{{$.Slug}}/{{.ID}}">{{.Subject}}</a></td>
      <td>{{.LastFrom}}</td>
      <td class="dim">{{.Messages}}</td>
      <td class="dim">{{.LastActive}}</td>
    </tr>{{end}}
    {{if not .Threads}}<tr><td colspan="4" class="dim">no messages yet</td></tr>{{end}}
  </table>
</div>
{{template "bottom"}}{{end}}

{{define "inbox"}}{{template "top" .Title}}
<p class="crumbs"><a href="/mail">projects</a> / <a href="/mail/project/{{.Slug}}">{{.HumanKey}}</a> / {{.Agent}}</p>
<div class="card">
  <div class="card-header">Inbox · {{.Agent}}</div>
  <table>
    <tr><th></th><th>From</th><th>Subject</th><th>Kind</th><th>Importance</th><th>Age</th><th></th></tr>
    {{range .Items}}<tr{{if .Unread}} class="unread"{{end}}>
      <td>{{if .Unread}}●{{end}}</td>
      <td>{{.From}}</td>
      <td><a href="/mail/thread/{{$.Slug}}/{{.ThreadID}}">{{.Subject}}</a>{{if .AckRequired}} <span class="badge ack">ack</span>{{end}}</td>
      <td class="dim">{{.Kind}}</td>
      <td><span class="badge {{.Importance}}">{{.Importance}}</span></td>
      <td class="dim">{{.Age}}</td>
      <td>{{if .Unread}}<form method="post" action="/mail/read/{{$.Slug}}">
        <input type="hidden" name="message_id" value="{{.ID}}">
        <input type="hidden" name="agent" value="{{$.Agent}}">
        <input type="hidden" name="back" value="/mail/inbox/{{$.Slug}}/{{$.Agent}}">
        <button type="submit">mark read</button>
      </form>{{end}}</td>
    </tr>{{end}}
    {{if not .Items}}<tr><td colspan="7" class="dim">inbox is empty</td></tr>{{end}}
  </table>
</div>
{{template "bottom"}}{{end}}

{{define "thread"}}{{template "top" .Title}}
<p class="crumbs"><a href="/mail">projects</a> / <a href="/mail/project/{{.Slug}}">{{.HumanKey}}</a> / thread</p>
<h2>{{.Subject}}</h2>
<p class="stats">{{len .Messages}} message(s) · participants: {{range $i, $p := .Participants}}{{if $i}}, {{end}}{{$p}}{{end}}</p>
{{range .Messages}}<div class="msg{{if .Overseer}} overseer{{end}}">
  <div class="msg-head">
    <span class="msg-from">{{.From}}</span>
    {{if .Urgent}}<span class="badge {{.Importance}}">{{.Importance}}</span>{{end}}
    {{if .AckRequired}}<span class="badge ack">ack required</span>{{end}}
    <span class="msg-age">{{.Age}} · {{.ID}}</span>
  </div>
  <div class="msg-body">{{.Body}}</div>
</div>{{end}}
{{template "bottom"}}{{end}}

{{define "search"}}{{template "top" .Title}}
<p class="crumbs"><a href="/mail">projects</a> / <a href="/mail/project/{{.Slug}}">{{.HumanKey}}</a> / search</p>
<div class="actions">
  <form class="inline" action="/mail/search/{{.Slug}}" method="get">
    <input type="text" name="q" value="{{.Query}}" placeholder="search mail...">
    <button type="submit">search</button>
  </form>
</div>
<div class="card">
  <div class="card-header">Results for "{{.Query}}"</div>
  <table>
    <tr><th>From</th><th>Subject</th><th>Match</th><th>Age</th></tr>
    {{range .Hits}}<tr>
      <td>{{.From}}</td>
      <td><a href="/mail/thread/{{$.Slug}}/{{.ThreadID}}">{{.Subject}}</a></td>
      <td class="dim">{{.Snippet}}</td>
      <td class="dim">{{.Age}}</td>
    </tr>{{end}}
    {{if not .Hits}}<tr><td colspan="4" class="dim">no matches</td></tr>{{end}}
  </table>
</div>
{{template "bottom"}}{{end}}

{{define "compose"}}{{template "top" .Title}}
<p class="crumbs"><a href="/mail">projects</a> / <a href="/mail/project/{{.Slug}}">{{.HumanKey}}</a> / compose</p>
{{if .Error}}<div class="error-box">{{.Error}}</div>{{end}}
<div class="card">
  <div class="card-header">Send as overseer</div>
  <form method="post" action="/mail/compose/{{.Slug}}" style="padding: 12px 14px;">
    <div class="form-row">
      <label>To (comma separated{{if .AgentNames}} · agents: {{range $i, $n := .AgentNames}}{{if $i}}, {{end}}{{$n}}{{end}}{{end}})</label>
      <input type="text" name="to" value="{{.Form.To}}">
    </div>
    <div class="form-row">
      <label>CC</label>
      <input type="text" name="cc" value="{{.Form.CC}}">
    </div>
    <div class="form-row">
      <label>Subject</label>
      <input type="text" name="subject" value="{{.Form.Subject}}">
    </div>
    <div class="form-row">
      <label>Body (markdown)</label>
      <textarea name="body">{{.Form.Body}}</textarea>
    </div>
    <div class="form-row">
      <label>Importance</label>
      <select name="importance">
        <option value="normal"{{if eq .Form.Importance "normal"}} selected{{end}}>normal</option>
        <option value="low"{{if eq .Form.Importance "low"}} selected{{end}}>low</option>
        <option value="high"{{if eq .Form.Importance "high"}} selected{{end}}>high</option>
        <option value="urgent"{{if eq .Form.Importance "urgent"}} selected{{end}}>urgent</option>
      </select>
      <label><input type="checkbox" name="ack_required" value="1"{{if .Form.AckRequired}} checked{{end}}> require acknowledgement</label>
    </div>
    <button type="submit">Send</button>
  </form>
</div>
{{template "bottom"}}{{end}}

{{define "error"}}{{template "top" "Error"}}
<div class="error-box">{{.Status}}: {{.Message}}</div>
<p><a href="/mail">back to projects</a></p>
{{template "bottom"}}{{end}}
`
