// Package web serves the overseer's browser console under /mail: read-only
// views over projects, mailboxes, threads and claims, plus a compose form
// that injects messages as the overseer and a mark-read action. Message
// bodies are rendered from markdown; overseer messages are styled apart.
package web

import (
	"html/template"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jaakkos/agentmail/internal/app"
	"github.com/jaakkos/agentmail/internal/domain"
	"github.com/jaakkos/agentmail/internal/index"
)

// Handler holds the service dependency for the /mail pages.
type Handler struct {
	svc    *app.MailService
	logger *log.Logger
}

// NewHandler creates the overseer UI handler.
func NewHandler(svc *app.MailService, logger *log.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the UI on mux under /mail.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /mail", h.handleProjects)
	mux.HandleFunc("GET /mail/{$}", h.handleProjects)
	mux.HandleFunc("GET /mail/project/{slug}", h.handleProject)
	mux.HandleFunc("GET /mail/inbox/{slug}/{agent}", h.handleInbox)
	mux.HandleFunc("GET /mail/thread/{slug}/{thread}", h.handleThread)
	mux.HandleFunc("GET /mail/search/{slug}", h.handleSearch)
	mux.HandleFunc("GET /mail/compose/{slug}", h.handleCompose)
	mux.HandleFunc("POST /mail/compose/{slug}", h.handleComposePost)
	mux.HandleFunc("POST /mail/read/{slug}", h.handleMarkRead)
}

type projectsPage struct {
	Title    string
	Stats    index.Stats
	Projects []projectRow
}

type projectRow struct {
	Slug, HumanKey, Created string
}

func (h *Handler) handleProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.svc.ListProjects(r.Context())
	if err != nil {
		h.renderError(w, err)
		return
	}
	stats, err := h.svc.Index().CollectStats()
	if err != nil {
		h.renderError(w, err)
		return
	}

	now := time.Now().UTC()
	data := projectsPage{Title: "Projects", Stats: stats}
	for _, p := range projects {
		data.Projects = append(data.Projects, projectRow{
			Slug:     p.Slug,
			HumanKey: p.HumanKey,
			Created:  relTime(p.CreatedTS, now),
		})
	}
	h.render(w, http.StatusOK, "projects", data)
}

type projectPage struct {
	Title, Slug, HumanKey string
	Agents                []agentRow
	Claims                []claimRow
	Threads               []threadRow
}

type agentRow struct {
	Name, Program, Model, Policy, LastSeen string
	Active                                 bool
}

type claimRow struct {
	Path, Agent, Reason, Expires string
	Exclusive                    bool
}

type threadRow struct {
	ID, Subject, LastFrom, LastActive string
	Messages                          int
}

func (h *Handler) handleProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := r.PathValue("slug")
	project, err := h.svc.Index().ProjectByIdentifier(slug)
	if err != nil {
		h.renderError(w, err)
		return
	}
	agents, err := h.svc.ListAgents(ctx, slug, false)
	if err != nil {
		h.renderError(w, err)
		return
	}
	claims, err := h.svc.ListClaims(ctx, slug, true)
	if err != nil {
		h.renderError(w, err)
		return
	}
	threads, err := h.svc.RecentThreads(ctx, slug, 20)
	if err != nil {
		h.renderError(w, err)
		return
	}

	now := time.Now().UTC()
	data := projectPage{Title: project.HumanKey, Slug: project.Slug, HumanKey: project.HumanKey}
	for _, a := range agents {
		data.Agents = append(data.Agents, agentRow{
			Name:     a.Name,
			Program:  a.Program,
			Model:    a.Model,
			Policy:   string(a.ContactPolicy),
			LastSeen: relTime(a.LastActiveTS, now),
			Active:   a.Active,
		})
	}
	for _, c := range claims {
		data.Claims = append(data.Claims, claimRow{
			Path:      c.Path,
			Agent:     c.AgentName,
			Reason:    truncate(c.Reason, 80),
			Expires:   untilText(c.ExpiresTS, now),
			Exclusive: c.Exclusive,
		})
	}
	for _, t := range threads {
		data.Threads = append(data.Threads, threadRow{
			ID:         t.ThreadID,
			Subject:    truncate(t.Subject, 80),
			LastFrom:   t.LastFrom,
			LastActive: relTime(t.LastTS, now),
			Messages:   t.Messages,
		})
	}
	h.render(w, http.StatusOK, "project", data)
}

type inboxPage struct {
	Title, Slug, HumanKey, Agent string
	Items                        []inboxRow
}

type inboxRow struct {
	ID, ThreadID, From, Subject, Kind, Importance, Age string
	AckRequired, Unread                                bool
}

func (h *Handler) handleInbox(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	agent := r.PathValue("agent")
	project, err := h.svc.Index().ProjectByIdentifier(slug)
	if err != nil {
		h.renderError(w, err)
		return
	}
	items, err := h.svc.FetchInbox(r.Context(), slug, agent, index.InboxQuery{IncludeRead: true, Limit: 50})
	if err != nil {
		h.renderError(w, err)
		return
	}

	now := time.Now().UTC()
	data := inboxPage{Title: "Inbox · " + agent, Slug: project.Slug, HumanKey: project.HumanKey, Agent: agent}
	for _, item := range items {
		m := item.Message
		data.Items = append(data.Items, inboxRow{
			ID:          m.ID,
			ThreadID:    m.ThreadID,
			From:        m.From,
			Subject:     truncate(m.Subject, 80),
			Kind:        string(item.Kind),
			Importance:  string(m.Importance),
			Age:         relTime(m.CreatedTS, now),
			AckRequired: m.AckRequired,
			Unread:      item.ReadTS == nil,
		})
	}
	h.render(w, http.StatusOK, "inbox", data)
}

type threadPage struct {
	Title, Slug, HumanKey, Subject string
	Participants                   []string
	Messages                       []messageView
}

type messageView struct {
	ID, From, Importance, Age string
	AckRequired, Overseer     bool
	Urgent                    bool
	Body                      template.HTML
}

func (h *Handler) handleThread(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	threadID := r.PathValue("thread")
	project, err := h.svc.Index().ProjectByIdentifier(slug)
	if err != nil {
		h.renderError(w, err)
		return
	}
	msgs, err := h.svc.ThreadMessages(r.Context(), slug, threadID)
	if err != nil {
		h.renderError(w, err)
		return
	}
	if len(msgs) == 0 {
		h.renderError(w, domain.Errorf(domain.ErrInvalidArgument, "thread %q has no messages", threadID))
		return
	}

	now := time.Now().UTC()
	data := threadPage{
		Title:    msgs[0].Subject,
		Slug:     project.Slug,
		HumanKey: project.HumanKey,
		Subject:  msgs[0].Subject,
	}
	seen := map[string]bool{}
	for _, m := range msgs {
		if !seen[m.From] {
			seen[m.From] = true
			data.Participants = append(data.Participants, m.From)
		}
		data.Messages = append(data.Messages, messageView{
			ID:          m.ID,
			From:        m.From,
			Importance:  string(m.Importance),
			Age:         relTime(m.CreatedTS, now),
			AckRequired: m.AckRequired,
			Overseer:    m.From == domain.OverseerName,
			Urgent:      m.Importance.Urgent(),
			Body:        renderMarkdown(m.BodyMD),
		})
	}
	h.render(w, http.StatusOK, "thread", data)
}

type searchPage struct {
	Title, Slug, HumanKey, Query string
	Hits                         []searchRow
}

type searchRow struct {
	ThreadID, From, Subject, Snippet, Age string
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	query := r.URL.Query().Get("q")
	project, err := h.svc.Index().ProjectByIdentifier(slug)
	if err != nil {
		h.renderError(w, err)
		return
	}
	hits, err := h.svc.SearchMessages(r.Context(), slug, query, 30)
	if err != nil {
		h.renderError(w, err)
		return
	}

	now := time.Now().UTC()
	data := searchPage{Title: "Search", Slug: project.Slug, HumanKey: project.HumanKey, Query: query}
	for _, hit := range hits {
		m := hit.Message
		data.Hits = append(data.Hits, searchRow{
			ThreadID: m.ThreadID,
			From:     m.From,
			Subject:  truncate(m.Subject, 80),
			Snippet:  hit.Snippet,
			Age:      relTime(m.CreatedTS, now),
		})
	}
	h.render(w, http.StatusOK, "search", data)
}

type composePage struct {
	Title, Slug, HumanKey string
	AgentNames            []string
	Error                 string
	Form                  composeForm
}

type composeForm struct {
	To, CC, Subject, Body, Importance string
	AckRequired                       bool
}

func (h *Handler) handleCompose(w http.ResponseWriter, r *http.Request) {
	data, err := h.composeData(r, composeForm{Importance: "normal"}, "")
	if err != nil {
		h.renderError(w, err)
		return
	}
	h.render(w, http.StatusOK, "compose", data)
}

func (h *Handler) handleComposePost(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	if err := r.ParseForm(); err != nil {
		h.renderError(w, domain.Errorf(domain.ErrInvalidArgument, "bad form: %v", err))
		return
	}
	form := composeForm{
		To:          r.PostFormValue("to"),
		CC:          r.PostFormValue("cc"),
		Subject:     r.PostFormValue("subject"),
		Body:        r.PostFormValue("body"),
		Importance:  r.PostFormValue("importance"),
		AckRequired: r.PostFormValue("ack_required") != "",
	}

	receipt, err := h.svc.SendMessage(r.Context(), app.SendInput{
		ProjectKey:  slug,
		From:        domain.OverseerName,
		To:          splitList(form.To),
		CC:          splitList(form.CC),
		Subject:     form.Subject,
		Body:        form.Body,
		Importance:  form.Importance,
		AckRequired: form.AckRequired,
	})
	if err != nil {
		data, derr := h.composeData(r, form, err.Error())
		if derr != nil {
			h.renderError(w, derr)
			return
		}
		h.render(w, httpStatus(err), "compose", data)
		return
	}
	http.Redirect(w, r, "/mail/thread/"+slug+"/"+receipt.ThreadID, http.StatusSeeOther)
}

func (h *Handler) composeData(r *http.Request, form composeForm, errText string) (composePage, error) {
	slug := r.PathValue("slug")
	project, err := h.svc.Index().ProjectByIdentifier(slug)
	if err != nil {
		return composePage{}, err
	}
	data := composePage{
		Title:    "Compose",
		Slug:     project.Slug,
		HumanKey: project.HumanKey,
		Error:    errText,
		Form:     form,
	}
	agents, err := h.svc.ListAgents(r.Context(), slug, false)
	if err != nil {
		return composePage{}, err
	}
	for _, a := range agents {
		data.AgentNames = append(data.AgentNames, a.Name)
	}
	return data, nil
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	if err := r.ParseForm(); err != nil {
		h.renderError(w, domain.Errorf(domain.ErrInvalidArgument, "bad form: %v", err))
		return
	}
	messageID := r.PostFormValue("message_id")
	agent := r.PostFormValue("agent")
	if _, _, err := h.svc.MarkRead(r.Context(), slug, messageID, agent); err != nil {
		h.renderError(w, err)
		return
	}
	back := r.PostFormValue("back")
	if !strings.HasPrefix(back, "/mail") {
		back = "/mail"
	}
	http.Redirect(w, r, back, http.StatusSeeOther)
}

type errorPage struct {
	Status  int
	Message string
}

func (h *Handler) render(w http.ResponseWriter, status int, page string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pages.ExecuteTemplate(w, page, data); err != nil {
		h.logger.Printf("web: render %s: %v", page, err)
	}
}

func (h *Handler) renderError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if terr := pages.ExecuteTemplate(w, "error", errorPage{Status: status, Message: err.Error()}); terr != nil {
		h.logger.Printf("web: render error page: %v", terr)
	}
}

// httpStatus maps domain error codes onto HTTP statuses for the UI.
func httpStatus(err error) int {
	switch domain.CodeOf(err) {
	case domain.ErrProjectNotFound, domain.ErrAgentNotRegistered:
		return http.StatusNotFound
	case domain.ErrInvalidArgument, domain.ErrPolicyBlocked, domain.ErrContactPending, domain.ErrLinkRequired:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func relTime(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return strconv.Itoa(int(d.Seconds())) + "s ago"
	case d < time.Hour:
		return strconv.Itoa(int(d.Minutes())) + "m ago"
	case d < 24*time.Hour:
		return strconv.Itoa(int(d.Hours())) + "h ago"
	default:
		return t.Format("Jan 2 15:04")
	}
}

func untilText(t, now time.Time) string {
	if !t.After(now) {
		return "expired"
	}
	d := t.Sub(now)
	switch {
	case d < time.Minute:
		return "in " + strconv.Itoa(int(d.Seconds())) + "s"
	case d < time.Hour:
		return "in " + strconv.Itoa(int(d.Minutes())) + "m"
	default:
		return "in " + strconv.Itoa(int(d.Hours())) + "h"
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
