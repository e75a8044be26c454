package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jaakkos/agentmail/internal/archive"
	"github.com/jaakkos/agentmail/internal/domain"
	"github.com/jaakkos/agentmail/internal/index"
)

// SendInput carries one send_message call. Recipient entries are plain
// agent names, or qualified cross-project addresses in the forms
// "project:<key>#<Agent>" and "<Agent>@<key>".
type SendInput struct {
	ProjectKey  string
	From        string
	To          []string
	CC          []string
	BCC         []string
	Subject     string
	Body        string
	Importance  string
	AckRequired bool
	ThreadID    string
}

// DeliveredMessage is the receipt for a send or reply.
type DeliveredMessage struct {
	ID           string    `json:"id"`
	ThreadID     string    `json:"thread_id"`
	Project      string    `json:"project"`
	From         string    `json:"from"`
	To           []string  `json:"to"`
	CC           []string  `json:"cc,omitempty"`
	Subject      string    `json:"subject"`
	Importance   string    `json:"importance"`
	AckRequired  bool      `json:"ack_required"`
	CreatedTS    time.Time `json:"created_ts"`
	Commit       string    `json:"commit,omitempty"`
	CrossProject []string  `json:"cross_project,omitempty"`
}

// SendMessage delivers one message. The recipient set is resolved and
// authorized in full before anything is written, so a blocked recipient
// fails the whole call with nothing delivered. Copies for agents in other
// projects are committed into their archives after the sender's commit.
func (s *MailService) SendMessage(ctx context.Context, in SendInput) (DeliveredMessage, error) {
	subject := strings.TrimSpace(in.Subject)
	if subject == "" {
		return DeliveredMessage{}, domain.Errorf(domain.ErrInvalidArgument, "subject must not be empty")
	}
	if len(in.To) == 0 {
		return DeliveredMessage{}, domain.Errorf(domain.ErrInvalidArgument, "at least one recipient is required")
	}
	importance := domain.ImportanceNormal
	if in.Importance != "" {
		imp, ok := domain.ParseImportance(in.Importance)
		if !ok {
			return DeliveredMessage{}, domain.Errorf(domain.ErrInvalidArgument, "unknown importance %q", in.Importance)
		}
		importance = imp
	}
	project, err := s.resolveProject(in.ProjectKey)
	if err != nil {
		return DeliveredMessage{}, err
	}

	var receipt DeliveredMessage
	var crossCopies []crossCopy
	err = s.Mutate(ctx, project.Slug, func(now time.Time) error {
		sender, err := s.resolveSender(project.ID, in.From)
		if err != nil {
			return err
		}
		plan, err := s.resolveRecipients(project, sender, in, now)
		if err != nil {
			return err
		}
		for _, d := range plan.local {
			if d.agent.ID == 0 {
				continue // overseer copy, no policy applies
			}
			if err := s.authorizeSend(project, sender, d.agent, now); err != nil {
				return err
			}
		}

		id := domain.NewMessageID(now)
		threadID := in.ThreadID
		if threadID == "" {
			threadID = id
		}
		meta := archive.MessageMeta{
			ID:          id,
			ThreadID:    threadID,
			Project:     project.HumanKey,
			From:        sender.Name,
			To:          plan.displayTo,
			CC:          plan.displayCC,
			Created:     now.Format(time.RFC3339Nano),
			Importance:  string(importance),
			AckRequired: in.AckRequired,
			Subject:     subject,
		}
		relPaths, err := s.arc.WriteMessage(project.Slug, meta, in.Body, plan.localBCC()...)
		if err != nil {
			return err
		}
		commitMsg := fmt.Sprintf("mail: %s -> %s | %s", sender.Name, strings.Join(plan.displayTo, ", "), subject)
		if err := s.arc.Commit(project.Slug, commitMsg, relPaths); err != nil {
			return err
		}

		msg := domain.Message{
			ID:          id,
			ProjectID:   project.ID,
			ThreadID:    threadID,
			Subject:     subject,
			BodyMD:      in.Body,
			From:        sender.Name,
			CreatedTS:   now,
			Importance:  importance,
			AckRequired: in.AckRequired,
		}
		if err := s.indexApply(project.Slug, func() error {
			if err := s.idx.InsertMessage(msg, plan.localRows(id)); err != nil {
				return err
			}
			if sender.ID != 0 {
				return s.idx.TouchAgent(project.ID, sender.Name, now)
			}
			return nil
		}); err != nil {
			return err
		}

		head, _ := s.arc.Head(project.Slug)
		receipt = DeliveredMessage{
			ID:          id,
			ThreadID:    threadID,
			Project:     project.HumanKey,
			From:        sender.Name,
			To:          plan.displayTo,
			CC:          plan.displayCC,
			Subject:     subject,
			Importance:  string(importance),
			AckRequired: in.AckRequired,
			CreatedTS:   now,
			Commit:      head,
		}
		crossCopies = plan.crossCopies(project, sender.Name, msg, in.Body)
		return nil
	})
	if err != nil {
		return DeliveredMessage{}, err
	}

	// Cross-project copies take each target's own lock; never nested with
	// the sender's, so opposed sends cannot deadlock.
	for _, cc := range crossCopies {
		if err := s.deliverCrossCopy(ctx, cc); err != nil {
			return receipt, err
		}
		receipt.CrossProject = append(receipt.CrossProject, cc.project.Slug)
	}
	return receipt, nil
}

// ReplyInput carries one reply_message call. Zero-value override fields
// inherit from the original message.
type ReplyInput struct {
	ProjectKey  string
	MessageID   string
	From        string
	Body        string
	Subject     string
	Importance  string
	AckRequired *bool
	To          []string // extra recipients beyond the original participants
	CC          []string
}

// ReplyMessage answers an existing message: recipients are the original
// sender plus the original to-line minus the replier, the subject gains a
// single "Re: " prefix, and the reply lands in the original thread.
func (s *MailService) ReplyMessage(ctx context.Context, in ReplyInput) (DeliveredMessage, error) {
	project, err := s.resolveProject(in.ProjectKey)
	if err != nil {
		return DeliveredMessage{}, err
	}
	orig, recipients, err := s.idx.MessageByID(project.ID, in.MessageID)
	if err != nil {
		return DeliveredMessage{}, err
	}

	var to []string
	seen := map[string]bool{}
	add := func(name string) {
		key := strings.ToLower(name)
		if name == "" || seen[key] || equalNames(name, in.From) {
			return
		}
		seen[key] = true
		to = append(to, name)
	}
	add(orig.From)
	for _, r := range recipients {
		if r.Kind == domain.KindTo {
			add(r.AgentName)
		}
	}
	for _, name := range in.To {
		add(name)
	}
	if len(to) == 0 {
		// Replying to a message one sent to oneself.
		to = []string{orig.From}
	}

	subject := strings.TrimSpace(in.Subject)
	if subject == "" {
		subject = replySubject(orig.Subject)
	}
	importance := string(orig.Importance)
	if in.Importance != "" {
		importance = in.Importance
	}
	ack := orig.AckRequired
	if in.AckRequired != nil {
		ack = *in.AckRequired
	}
	threadID := orig.ThreadID
	if threadID == "" {
		threadID = orig.ID
	}

	return s.SendMessage(ctx, SendInput{
		ProjectKey:  project.Slug,
		From:        in.From,
		To:          to,
		CC:          in.CC,
		Subject:     subject,
		Body:        in.Body,
		Importance:  importance,
		AckRequired: ack,
		ThreadID:    threadID,
	})
}

// replySubject prefixes "Re: " exactly once.
func replySubject(subject string) string {
	if strings.HasPrefix(subject, "Re: ") {
		return subject
	}
	return "Re: " + subject
}

// FetchInbox returns the agent's inbox slice and counts it as activity.
func (s *MailService) FetchInbox(ctx context.Context, projectKey, agentName string, q index.InboxQuery) ([]index.InboxItem, error) {
	project, err := s.resolveProject(projectKey)
	if err != nil {
		return nil, err
	}
	var items []index.InboxItem
	err = s.View(ctx, func(now time.Time) error {
		name, err := s.mailboxName(project.ID, agentName)
		if err != nil {
			return err
		}
		if items, err = s.idx.Inbox(project.ID, name, q); err != nil {
			return err
		}
		return s.idx.TouchAgent(project.ID, name, now)
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// FetchOutbox returns messages the agent sent, newest first.
func (s *MailService) FetchOutbox(ctx context.Context, projectKey, agentName string, limit int) ([]domain.Message, error) {
	project, err := s.resolveProject(projectKey)
	if err != nil {
		return nil, err
	}
	var msgs []domain.Message
	err = s.View(ctx, func(now time.Time) error {
		name, err := s.mailboxName(project.ID, agentName)
		if err != nil {
			return err
		}
		msgs, err = s.idx.Outbox(project.ID, name, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// GetMessage fetches one message with its recipient marks.
func (s *MailService) GetMessage(ctx context.Context, projectKey, messageID string) (domain.Message, []domain.Recipient, error) {
	project, err := s.resolveProject(projectKey)
	if err != nil {
		return domain.Message{}, nil, err
	}
	var msg domain.Message
	var recipients []domain.Recipient
	err = s.View(ctx, func(now time.Time) error {
		msg, recipients, err = s.idx.MessageByID(project.ID, messageID)
		return err
	})
	if err != nil {
		return domain.Message{}, nil, err
	}
	return msg, recipients, nil
}

// ThreadMessages returns a thread oldest-first. The thread key is the
// stored thread id or the root message's own id.
func (s *MailService) ThreadMessages(ctx context.Context, projectKey, threadID string) ([]domain.Message, error) {
	project, err := s.resolveProject(projectKey)
	if err != nil {
		return nil, err
	}
	var msgs []domain.Message
	err = s.View(ctx, func(now time.Time) error {
		msgs, err = s.idx.ThreadMessages(project.ID, threadID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// RecentThreads lists the project's threads, most recently active first.
func (s *MailService) RecentThreads(ctx context.Context, projectKey string, limit int) ([]index.ThreadHead, error) {
	project, err := s.resolveProject(projectKey)
	if err != nil {
		return nil, err
	}
	var heads []index.ThreadHead
	err = s.View(ctx, func(now time.Time) error {
		heads, err = s.idx.RecentThreads(project.ID, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return heads, nil
}

// MarkRead stamps the agent's copy read. Read marks live only in the
// index; no archive commit happens. Idempotent.
func (s *MailService) MarkRead(ctx context.Context, projectKey, messageID, agentName string) (time.Time, bool, error) {
	project, err := s.resolveProject(projectKey)
	if err != nil {
		return time.Time{}, false, err
	}
	var at time.Time
	var changed bool
	err = s.View(ctx, func(now time.Time) error {
		name, err := s.mailboxName(project.ID, agentName)
		if err != nil {
			return err
		}
		if at, changed, err = s.idx.MarkRead(project.ID, messageID, name, now); err != nil {
			return err
		}
		return s.idx.TouchAgent(project.ID, name, now)
	})
	if err != nil {
		return time.Time{}, false, err
	}
	return at, changed, nil
}

// Acknowledge stamps the agent's copy acknowledged (and read). Idempotent.
func (s *MailService) Acknowledge(ctx context.Context, projectKey, messageID, agentName string) (index.AckMarks, error) {
	project, err := s.resolveProject(projectKey)
	if err != nil {
		return index.AckMarks{}, err
	}
	var marks index.AckMarks
	err = s.View(ctx, func(now time.Time) error {
		name, err := s.mailboxName(project.ID, agentName)
		if err != nil {
			return err
		}
		if marks, err = s.idx.Acknowledge(project.ID, messageID, name, now); err != nil {
			return err
		}
		return s.idx.TouchAgent(project.ID, name, now)
	})
	if err != nil {
		return index.AckMarks{}, err
	}
	return marks, nil
}

// SearchMessages runs a full-text query over one project's mail.
func (s *MailService) SearchMessages(ctx context.Context, projectKey, query string, limit int) ([]index.SearchHit, error) {
	project, err := s.resolveProject(projectKey)
	if err != nil {
		return nil, err
	}
	var hits []index.SearchHit
	err = s.View(ctx, func(now time.Time) error {
		hits, err = s.idx.Search(project.ID, query, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return hits, nil
}

// resolveSender maps the from field to an agent row. The overseer is a
// pseudo-agent: never registered, always allowed.
func (s *MailService) resolveSender(projectID int64, name string) (domain.Agent, error) {
	if name == domain.OverseerName {
		return domain.Agent{ProjectID: projectID, Name: domain.OverseerName, ContactPolicy: domain.PolicyOpen}, nil
	}
	return s.resolveAgent(projectID, name)
}

// mailboxName resolves an agent name for mailbox reads, letting the
// overseer's reserved name through without registration.
func (s *MailService) mailboxName(projectID int64, name string) (string, error) {
	if name == domain.OverseerName {
		return name, nil
	}
	agent, err := s.resolveAgent(projectID, name)
	if err != nil {
		return "", err
	}
	return agent.Name, nil
}

// parseAddress splits a recipient entry into an optional project
// identifier and the agent fragment.
func parseAddress(raw string) (projectKey, agent string) {
	trimmed := strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(trimmed, "project:"); ok {
		if key, name, found := strings.Cut(rest, "#"); found {
			return strings.TrimSpace(key), strings.TrimSpace(name)
		}
	}
	if trimmed != domain.OverseerName {
		if name, key, found := strings.Cut(trimmed, "@"); found && name != "" && key != "" {
			return strings.TrimSpace(key), strings.TrimSpace(name)
		}
	}
	return "", trimmed
}

type localDelivery struct {
	agent domain.Agent
	kind  domain.RecipientKind
}

type crossGroup struct {
	project domain.Project
	members []localDelivery
}

type sendPlan struct {
	displayTo []string
	displayCC []string
	local     []localDelivery
	localBCCs []string
	cross     []*crossGroup
}

type crossCopy struct {
	project    domain.Project
	meta       archive.MessageMeta
	body       string
	msg        domain.Message
	recipients []domain.Recipient
}

// resolveRecipients validates and deduplicates every recipient before any
// write happens. Cross-project entries must have an accepted link in both
// directions unless enforcement is off or the sender is the overseer;
// otherwise a pending link is recorded and the send fails LINK_REQUIRED.
func (s *MailService) resolveRecipients(project domain.Project, sender domain.Agent, in SendInput, now time.Time) (*sendPlan, error) {
	plan := &sendPlan{}
	groups := map[int64]*crossGroup{}
	seen := map[string]bool{}

	bypass := !s.cfg.ContactEnforcementEnabled || sender.Name == domain.OverseerName

	addOne := func(raw string, kind domain.RecipientKind) error {
		projectKey, name := parseAddress(raw)
		if name == "" {
			return domain.Errorf(domain.ErrInvalidArgument, "empty recipient in %s list", kind)
		}

		if projectKey == "" || projectKey == project.Slug || projectKey == project.HumanKey {
			agent, err := s.resolveLocalRecipient(project.ID, name)
			if err != nil {
				return err
			}
			key := "local|" + strings.ToLower(agent.Name)
			if seen[key] {
				return nil
			}
			seen[key] = true
			plan.local = append(plan.local, localDelivery{agent: agent, kind: kind})
			switch kind {
			case domain.KindTo:
				plan.displayTo = append(plan.displayTo, agent.Name)
			case domain.KindCC:
				plan.displayCC = append(plan.displayCC, agent.Name)
			default:
				plan.localBCCs = append(plan.localBCCs, agent.Name)
			}
			return nil
		}

		target, err := s.resolveProject(projectKey)
		if err != nil {
			return err
		}
		agent, err := s.resolveAgent(target.ID, name)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%d|%s", target.ID, strings.ToLower(agent.Name))
		if seen[key] {
			return nil
		}
		seen[key] = true

		if agent.ContactPolicy == domain.PolicyBlockAll && !bypass {
			return domain.Errorf(domain.ErrPolicyBlocked, "agent %q is not accepting messages", agent.Name)
		}
		if !bypass {
			ok, err := s.linkAccepted(project.ID, sender.Name, target.ID, agent.Name)
			if err != nil {
				return err
			}
			if !ok {
				if err := s.ensurePendingLink(project.ID, sender.Name, target.ID, agent.Name, now); err != nil {
					return err
				}
				return domain.Errorf(domain.ErrLinkRequired,
					"no accepted link with %s in project %s; a link request is now pending", agent.Name, target.Slug)
			}
		}

		group, ok := groups[target.ID]
		if !ok {
			group = &crossGroup{project: target}
			groups[target.ID] = group
			plan.cross = append(plan.cross, group)
		}
		group.members = append(group.members, localDelivery{agent: agent, kind: kind})
		display := agent.Name + "@" + target.Slug
		switch kind {
		case domain.KindTo:
			plan.displayTo = append(plan.displayTo, display)
		case domain.KindCC:
			plan.displayCC = append(plan.displayCC, display)
		}
		return nil
	}

	for _, raw := range in.To {
		if err := addOne(raw, domain.KindTo); err != nil {
			return nil, err
		}
	}
	for _, raw := range in.CC {
		if err := addOne(raw, domain.KindCC); err != nil {
			return nil, err
		}
	}
	for _, raw := range in.BCC {
		if err := addOne(raw, domain.KindBCC); err != nil {
			return nil, err
		}
	}
	if len(plan.displayTo) == 0 {
		return nil, domain.Errorf(domain.ErrInvalidArgument, "at least one to recipient is required")
	}
	return plan, nil
}

// resolveLocalRecipient accepts registered agents and the overseer's
// reserved name.
func (s *MailService) resolveLocalRecipient(projectID int64, name string) (domain.Agent, error) {
	if name == domain.OverseerName {
		return domain.Agent{ProjectID: projectID, Name: domain.OverseerName}, nil
	}
	return s.resolveAgent(projectID, name)
}

func (s *MailService) ensurePendingLink(fromProjectID int64, fromAgent string, toProjectID int64, toAgent string, now time.Time) error {
	if _, ok, err := s.idx.LinkBetween(fromProjectID, fromAgent, toProjectID, toAgent); err != nil {
		return err
	} else if ok {
		return nil
	}
	return s.idx.UpsertLink(domain.AgentLink{
		FromProjectID: fromProjectID,
		FromAgent:     fromAgent,
		ToProjectID:   toProjectID,
		ToAgent:       toAgent,
		State:         domain.LinkPending,
		Reason:        "auto-created by send_message",
		CreatedTS:     now,
	})
}

func (p *sendPlan) localBCC() []string {
	return p.localBCCs
}

// localRows builds the recipient rows stored with the sender project's
// message.
func (p *sendPlan) localRows(messageID string) []domain.Recipient {
	rows := make([]domain.Recipient, 0, len(p.local))
	for _, d := range p.local {
		rows = append(rows, domain.Recipient{MessageID: messageID, AgentName: d.agent.Name, Kind: d.kind})
	}
	return rows
}

// crossCopies prepares the per-project copies delivered after the sender
// commit. In each target archive the target's own agents read plain while
// everyone else is qualified with their project slug.
func (p *sendPlan) crossCopies(origin domain.Project, senderName string, msg domain.Message, body string) []crossCopy {
	var copies []crossCopy
	for _, group := range p.cross {
		originSide := func(want domain.RecipientKind) []string {
			var out []string
			for _, d := range p.local {
				if d.kind == want {
					out = append(out, d.agent.Name+"@"+origin.Slug)
				}
			}
			return out
		}
		to := originSide(domain.KindTo)
		cc := originSide(domain.KindCC)
		for _, other := range p.cross {
			for _, d := range other.members {
				display := d.agent.Name
				if other.project.ID != group.project.ID {
					display = d.agent.Name + "@" + other.project.Slug
				}
				switch d.kind {
				case domain.KindTo:
					to = append(to, display)
				case domain.KindCC:
					cc = append(cc, display)
				}
			}
		}

		qualifiedFrom := senderName + "@" + origin.Slug
		copyMsg := msg
		copyMsg.ProjectID = group.project.ID
		copyMsg.From = qualifiedFrom

		var rows []domain.Recipient
		for _, d := range group.members {
			rows = append(rows, domain.Recipient{MessageID: msg.ID, AgentName: d.agent.Name, Kind: d.kind})
		}

		copies = append(copies, crossCopy{
			project: group.project,
			meta: archive.MessageMeta{
				ID:          msg.ID,
				ThreadID:    msg.ThreadID,
				Project:     origin.HumanKey,
				From:        qualifiedFrom,
				To:          to,
				CC:          cc,
				Created:     msg.CreatedTS.UTC().Format(time.RFC3339Nano),
				Importance:  string(msg.Importance),
				AckRequired: msg.AckRequired,
				Subject:     msg.Subject,
			},
			body:       body,
			msg:        copyMsg,
			recipients: rows,
		})
	}
	return copies
}

// deliverNotice writes a message inside an already-held critical section,
// skipping contact policy. Contact intros, link decisions and janitor
// escalations come through here.
func (s *MailService) deliverNotice(project domain.Project, from string, to []string, subject, body string, ackRequired bool, threadID string, now time.Time) (string, error) {
	id := domain.NewMessageID(now)
	if threadID == "" {
		threadID = id
	}
	meta := archive.MessageMeta{
		ID:          id,
		ThreadID:    threadID,
		Project:     project.HumanKey,
		From:        from,
		To:          to,
		Created:     now.Format(time.RFC3339Nano),
		Importance:  string(domain.ImportanceNormal),
		AckRequired: ackRequired,
		Subject:     subject,
	}
	relPaths, err := s.arc.WriteMessage(project.Slug, meta, body)
	if err != nil {
		return "", err
	}
	commitMsg := fmt.Sprintf("mail: %s -> %s | %s", from, strings.Join(to, ", "), subject)
	if err := s.arc.Commit(project.Slug, commitMsg, relPaths); err != nil {
		return "", err
	}
	rows := make([]domain.Recipient, 0, len(to))
	for _, name := range to {
		rows = append(rows, domain.Recipient{MessageID: id, AgentName: name, Kind: domain.KindTo})
	}
	msg := domain.Message{
		ID:          id,
		ProjectID:   project.ID,
		ThreadID:    threadID,
		Subject:     subject,
		BodyMD:      body,
		From:        from,
		CreatedTS:   now,
		Importance:  domain.ImportanceNormal,
		AckRequired: ackRequired,
	}
	return id, s.indexApply(project.Slug, func() error {
		return s.idx.InsertMessage(msg, rows)
	})
}

// deliverCrossCopy commits one cross-project copy under the target
// project's own lock.
func (s *MailService) deliverCrossCopy(ctx context.Context, cc crossCopy) error {
	return s.Mutate(ctx, cc.project.Slug, func(now time.Time) error {
		relPaths, err := s.arc.WriteMessage(cc.project.Slug, cc.meta, cc.body)
		if err != nil {
			return err
		}
		commitMsg := fmt.Sprintf("mail: %s -> %s | %s", cc.meta.From, strings.Join(cc.meta.To, ", "), cc.meta.Subject)
		if err := s.arc.Commit(cc.project.Slug, commitMsg, relPaths); err != nil {
			return err
		}
		return s.indexApply(cc.project.Slug, func() error {
			return s.idx.InsertMessage(cc.msg, cc.recipients)
		})
	})
}
