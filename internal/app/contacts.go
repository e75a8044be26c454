package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jaakkos/agentmail/internal/domain"
)

// ContactRequestInput carries one request_contact call. To may be a plain
// name in the caller's project or a qualified cross-project address;
// ToProject overrides the target project explicitly.
type ContactRequestInput struct {
	ProjectKey string
	From       string
	To         string
	ToProject  string
	Reason     string
}

// ContactRequestResult reports the recorded request.
type ContactRequestResult struct {
	From        string `json:"from"`
	FromProject string `json:"from_project"`
	To          string `json:"to"`
	ToProject   string `json:"to_project"`
	State       string `json:"state"`
	MessageID   string `json:"message_id,omitempty"`
}

// RequestContact records a pending contact (or cross-project link) and
// sends the target a small ack_required intro. Re-requesting refreshes an
// existing row back to pending. The intro bypasses policy: asking for
// permission must work before permission exists.
func (s *MailService) RequestContact(ctx context.Context, in ContactRequestInput) (ContactRequestResult, error) {
	project, err := s.resolveProject(in.ProjectKey)
	if err != nil {
		return ContactRequestResult{}, err
	}
	targetKey, targetName := parseAddress(in.To)
	if in.ToProject != "" {
		targetKey = in.ToProject
	}
	if targetKey == "" || targetKey == project.Slug || targetKey == project.HumanKey {
		return s.requestLocalContact(ctx, project, in.From, targetName, in.Reason)
	}
	target, err := s.resolveProject(targetKey)
	if err != nil {
		return ContactRequestResult{}, err
	}
	return s.requestCrossContact(ctx, project, target, in.From, targetName, in.Reason)
}

func (s *MailService) requestLocalContact(ctx context.Context, project domain.Project, fromName, toName, reason string) (ContactRequestResult, error) {
	var result ContactRequestResult
	err := s.Mutate(ctx, project.Slug, func(now time.Time) error {
		sender, err := s.resolveAgent(project.ID, fromName)
		if err != nil {
			return err
		}
		target, err := s.resolveAgent(project.ID, toName)
		if err != nil {
			return err
		}
		if err := s.indexApply(project.Slug, func() error {
			return s.idx.UpsertContact(domain.Contact{
				ProjectID: project.ID,
				FromAgent: sender.Name,
				ToAgent:   target.Name,
				State:     domain.LinkPending,
				Reason:    reason,
				CreatedTS: now,
			})
		}); err != nil {
			return err
		}
		id, err := s.deliverNotice(project, sender.Name, []string{target.Name},
			fmt.Sprintf("Contact request from %s", sender.Name),
			introBody(reason, sender.Name, target.Name),
			true, "", now)
		if err != nil {
			return err
		}
		result = ContactRequestResult{
			From:        sender.Name,
			FromProject: project.HumanKey,
			To:          target.Name,
			ToProject:   project.HumanKey,
			State:       string(domain.LinkPending),
			MessageID:   id,
		}
		return nil
	})
	if err != nil {
		return ContactRequestResult{}, err
	}
	return result, nil
}

func (s *MailService) requestCrossContact(ctx context.Context, origin, target domain.Project, fromName, toName, reason string) (ContactRequestResult, error) {
	sender, err := s.resolveAgent(origin.ID, fromName)
	if err != nil {
		return ContactRequestResult{}, err
	}
	var result ContactRequestResult
	err = s.Mutate(ctx, target.Slug, func(now time.Time) error {
		remote, err := s.resolveAgent(target.ID, toName)
		if err != nil {
			return err
		}
		if err := s.indexApply(target.Slug, func() error {
			return s.idx.UpsertLink(domain.AgentLink{
				FromProjectID: origin.ID,
				FromAgent:     sender.Name,
				ToProjectID:   target.ID,
				ToAgent:       remote.Name,
				State:         domain.LinkPending,
				Reason:        reason,
				CreatedTS:     now,
			})
		}); err != nil {
			return err
		}
		qualified := sender.Name + "@" + origin.Slug
		id, err := s.deliverNotice(target, qualified, []string{remote.Name},
			fmt.Sprintf("Contact request from %s", qualified),
			introBody(reason, qualified, remote.Name),
			true, "", now)
		if err != nil {
			return err
		}
		result = ContactRequestResult{
			From:        sender.Name,
			FromProject: origin.HumanKey,
			To:          remote.Name,
			ToProject:   target.HumanKey,
			State:       string(domain.LinkPending),
			MessageID:   id,
		}
		return nil
	})
	if err != nil {
		return ContactRequestResult{}, err
	}
	return result, nil
}

func introBody(reason, from, to string) string {
	if reason != "" {
		return reason
	}
	return fmt.Sprintf("%s requests permission to contact %s.", from, to)
}

// ContactRespondInput carries one respond_contact call. Agent is the
// responder; From names the requester, with FromProject set when the
// request crossed projects.
type ContactRespondInput struct {
	ProjectKey  string
	Agent       string
	From        string
	FromProject string
	Accept      bool
}

// ContactDecision reports the decided row.
type ContactDecision struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	State     string    `json:"state"`
	DecidedTS time.Time `json:"decided_ts"`
}

// RespondContact accepts or blocks a pending contact request. Accepting a
// request that was never recorded still writes an accepted row, so a pair
// can be approved ahead of the first send. Cross-project responses decide
// the link instead.
func (s *MailService) RespondContact(ctx context.Context, in ContactRespondInput) (ContactDecision, error) {
	if in.FromProject != "" {
		return s.RespondLink(ctx, LinkRespondInput{
			ProjectKey:  in.ProjectKey,
			Agent:       in.Agent,
			FromProject: in.FromProject,
			From:        in.From,
			Accept:      in.Accept,
		})
	}
	project, err := s.resolveProject(in.ProjectKey)
	if err != nil {
		return ContactDecision{}, err
	}
	var decision ContactDecision
	err = s.View(ctx, func(now time.Time) error {
		responder, err := s.resolveAgent(project.ID, in.Agent)
		if err != nil {
			return err
		}
		requester, err := s.resolveAgent(project.ID, in.From)
		if err != nil {
			return err
		}
		state := domain.LinkBlocked
		if in.Accept {
			state = domain.LinkAccepted
		}
		row, ok, err := s.idx.ContactBetween(project.ID, requester.Name, responder.Name)
		if err != nil {
			return err
		}
		if !ok {
			row = domain.Contact{
				ProjectID: project.ID,
				FromAgent: requester.Name,
				ToAgent:   responder.Name,
				CreatedTS: now,
			}
		}
		row.State = state
		row.DecidedTS = &now
		if err := s.idx.UpsertContact(row); err != nil {
			return err
		}
		decision = ContactDecision{
			From:      requester.Name,
			To:        responder.Name,
			State:     string(state),
			DecidedTS: now,
		}
		return nil
	})
	if err != nil {
		return ContactDecision{}, err
	}
	return decision, nil
}

// ContactView is one list_contacts row.
type ContactView struct {
	With      string     `json:"with"`
	Direction string     `json:"direction"` // outgoing: agent asked; incoming: agent was asked
	State     string     `json:"state"`
	Reason    string     `json:"reason,omitempty"`
	CreatedTS time.Time  `json:"created_ts"`
	DecidedTS *time.Time `json:"decided_ts,omitempty"`
	Project   string     `json:"project,omitempty"` // set on cross-project link rows
}

// ListContacts lists the agent's contact rows in both directions, plus its
// cross-project links.
func (s *MailService) ListContacts(ctx context.Context, projectKey, agentName string) ([]ContactView, error) {
	project, err := s.resolveProject(projectKey)
	if err != nil {
		return nil, err
	}
	var views []ContactView
	err = s.View(ctx, func(now time.Time) error {
		agent, err := s.resolveAgent(project.ID, agentName)
		if err != nil {
			return err
		}
		contacts, err := s.idx.ContactsOf(project.ID, agent.Name)
		if err != nil {
			return err
		}
		for _, c := range contacts {
			v := ContactView{
				State:     string(c.State),
				Reason:    c.Reason,
				CreatedTS: c.CreatedTS,
				DecidedTS: c.DecidedTS,
			}
			if equalNames(c.FromAgent, agent.Name) {
				v.With, v.Direction = c.ToAgent, "outgoing"
			} else {
				v.With, v.Direction = c.FromAgent, "incoming"
			}
			views = append(views, v)
		}
		links, err := s.idx.LinksOf(project.ID, agent.Name)
		if err != nil {
			return err
		}
		for _, l := range links {
			v := ContactView{
				State:     string(l.State),
				Reason:    l.Reason,
				CreatedTS: l.CreatedTS,
				DecidedTS: l.DecidedTS,
			}
			if l.FromProjectID == project.ID && equalNames(l.FromAgent, agent.Name) {
				v.With, v.Direction = l.ToAgent, "outgoing"
				if other, err := s.idx.ProjectByID(l.ToProjectID); err == nil {
					v.Project = other.Slug
				}
			} else {
				v.With, v.Direction = l.FromAgent, "incoming"
				if other, err := s.idx.ProjectByID(l.FromProjectID); err == nil {
					v.Project = other.Slug
				}
			}
			views = append(views, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}

// LinkRequestInput carries one request_link call.
type LinkRequestInput struct {
	FromProjectKey string
	FromAgent      string
	ToProjectKey   string
	ToAgent        string
	Reason         string
}

// LinkView reports one cross-project link row.
type LinkView struct {
	FromProject string     `json:"from_project"`
	FromAgent   string     `json:"from_agent"`
	ToProject   string     `json:"to_project"`
	ToAgent     string     `json:"to_agent"`
	State       string     `json:"state"`
	Reason      string     `json:"reason,omitempty"`
	DecidedTS   *time.Time `json:"decided_ts,omitempty"`
}

// RequestLink records a pending cross-project link row without sending an
// intro. request_contact with a qualified address is the friendlier path.
func (s *MailService) RequestLink(ctx context.Context, in LinkRequestInput) (LinkView, error) {
	origin, err := s.resolveProject(in.FromProjectKey)
	if err != nil {
		return LinkView{}, err
	}
	target, err := s.resolveProject(in.ToProjectKey)
	if err != nil {
		return LinkView{}, err
	}
	var view LinkView
	err = s.View(ctx, func(now time.Time) error {
		sender, err := s.resolveAgent(origin.ID, in.FromAgent)
		if err != nil {
			return err
		}
		remote, err := s.resolveAgent(target.ID, in.ToAgent)
		if err != nil {
			return err
		}
		if err := s.idx.UpsertLink(domain.AgentLink{
			FromProjectID: origin.ID,
			FromAgent:     sender.Name,
			ToProjectID:   target.ID,
			ToAgent:       remote.Name,
			State:         domain.LinkPending,
			Reason:        in.Reason,
			CreatedTS:     now,
		}); err != nil {
			return err
		}
		view = LinkView{
			FromProject: origin.Slug,
			FromAgent:   sender.Name,
			ToProject:   target.Slug,
			ToAgent:     remote.Name,
			State:       string(domain.LinkPending),
			Reason:      in.Reason,
		}
		return nil
	})
	if err != nil {
		return LinkView{}, err
	}
	return view, nil
}

// LinkRespondInput carries one respond_link call. Agent is the responder
// in ProjectKey; From/FromProject name the requester.
type LinkRespondInput struct {
	ProjectKey  string
	Agent       string
	FromProject string
	From        string
	Accept      bool
}

// RespondLink decides a cross-project link. Accepting writes BOTH
// directions accepted, since traffic needs the reverse row too; denying
// blocks only the requester's direction.
func (s *MailService) RespondLink(ctx context.Context, in LinkRespondInput) (ContactDecision, error) {
	project, err := s.resolveProject(in.ProjectKey)
	if err != nil {
		return ContactDecision{}, err
	}
	origin, err := s.resolveProject(in.FromProject)
	if err != nil {
		return ContactDecision{}, err
	}
	var decision ContactDecision
	err = s.View(ctx, func(now time.Time) error {
		responder, err := s.resolveAgent(project.ID, in.Agent)
		if err != nil {
			return err
		}
		requester, err := s.resolveAgent(origin.ID, in.From)
		if err != nil {
			return err
		}
		row, ok, err := s.idx.LinkBetween(origin.ID, requester.Name, project.ID, responder.Name)
		if err != nil {
			return err
		}
		if !ok {
			row = domain.AgentLink{
				FromProjectID: origin.ID,
				FromAgent:     requester.Name,
				ToProjectID:   project.ID,
				ToAgent:       responder.Name,
				CreatedTS:     now,
			}
		}
		state := domain.LinkBlocked
		if in.Accept {
			state = domain.LinkAccepted
		}
		row.State = state
		row.DecidedTS = &now
		if err := s.idx.UpsertLink(row); err != nil {
			return err
		}
		if in.Accept {
			reverse, ok, err := s.idx.LinkBetween(project.ID, responder.Name, origin.ID, requester.Name)
			if err != nil {
				return err
			}
			if !ok {
				reverse = domain.AgentLink{
					FromProjectID: project.ID,
					FromAgent:     responder.Name,
					ToProjectID:   origin.ID,
					ToAgent:       requester.Name,
					CreatedTS:     now,
				}
			}
			reverse.State = domain.LinkAccepted
			reverse.DecidedTS = &now
			if err := s.idx.UpsertLink(reverse); err != nil {
				return err
			}
		}
		decision = ContactDecision{
			From:      requester.Name,
			To:        responder.Name,
			State:     string(state),
			DecidedTS: now,
		}
		return nil
	})
	if err != nil {
		return ContactDecision{}, err
	}
	return decision, nil
}
