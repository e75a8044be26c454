package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jaakkos/agentmail/internal/archive"
	"github.com/jaakkos/agentmail/internal/domain"
)

// EnsureProjectResult reports the project row and whether this call
// initialized its archive.
type EnsureProjectResult struct {
	Project domain.Project `json:"project"`
	Created bool           `json:"created"`
}

// EnsureProject initializes the archive and index rows for a project.
// Idempotent: calling it again with the same human key returns the existing
// project unchanged.
func (s *MailService) EnsureProject(ctx context.Context, humanKey string) (EnsureProjectResult, error) {
	if humanKey == "" {
		return EnsureProjectResult{}, domain.Errorf(domain.ErrInvalidArgument, "human_key must not be empty")
	}
	slug := domain.Slug(humanKey)

	var result EnsureProjectResult
	err := s.Mutate(ctx, slug, func(now time.Time) error {
		result.Created = !s.arc.HasProject(slug)
		if err := s.arc.EnsureProject(slug); err != nil {
			return err
		}

		createdTS := now
		meta, ok, err := s.arc.ReadProjectMeta(slug)
		if err != nil {
			return err
		}
		if ok {
			if t, perr := time.Parse(time.RFC3339Nano, meta.CreatedTS); perr == nil {
				createdTS = t
			}
		} else {
			rel, err := s.arc.WriteProjectMeta(slug, archive.ProjectMeta{
				HumanKey:  humanKey,
				Slug:      slug,
				CreatedTS: now.Format(time.RFC3339Nano),
			})
			if err != nil {
				return err
			}
			if err := s.arc.Commit(slug, "chore: register project", []string{rel}); err != nil {
				return err
			}
		}

		return s.indexApply(slug, func() error {
			p, err := s.idx.UpsertProject(humanKey, slug, createdTS)
			if err != nil {
				return err
			}
			result.Project = p
			return nil
		})
	})
	if err != nil {
		return EnsureProjectResult{}, err
	}
	return result, nil
}

// RegisterAgentInput carries one register_agent call.
type RegisterAgentInput struct {
	ProjectKey      string
	Name            string // optional; generated when empty or taken by nobody
	Program         string
	Model           string
	TaskDescription string
	Policy          string // optional contact policy override
}

// AgentCard is an agent row plus its liveness flag.
type AgentCard struct {
	domain.Agent
	Active bool `json:"active"`
}

// RegisterAgentResult reports the stored agent and whether it was newly
// minted by this call.
type RegisterAgentResult struct {
	Agent   AgentCard `json:"agent"`
	Created bool      `json:"created"`
}

// RegisterAgent registers or refreshes an agent identity. The same name
// registered twice updates program, model, and task description in place;
// an empty or free name hint mints a fresh memorable name.
func (s *MailService) RegisterAgent(ctx context.Context, in RegisterAgentInput) (RegisterAgentResult, error) {
	project, err := s.resolveProject(in.ProjectKey)
	if err != nil {
		return RegisterAgentResult{}, err
	}

	var policy domain.ContactPolicy
	if in.Policy != "" {
		pol, ok := domain.ParseContactPolicy(in.Policy)
		if !ok {
			return RegisterAgentResult{}, domain.Errorf(domain.ErrInvalidArgument,
				"unknown contact policy %q", in.Policy)
		}
		policy = pol
	}

	var result RegisterAgentResult
	err = s.Mutate(ctx, project.Slug, func(now time.Time) error {
		name := domain.SanitizeAgentName(in.Name)
		if in.Name != "" && name == "" {
			return domain.Errorf(domain.ErrInvalidArgument, "agent name %q has no usable characters", in.Name)
		}

		var agent domain.Agent
		if name != "" {
			if existing, err := s.idx.AgentByName(project.ID, name); err == nil {
				agent = existing
				agent.Program = orKeep(in.Program, existing.Program)
				agent.Model = orKeep(in.Model, existing.Model)
				agent.TaskDescription = orKeep(in.TaskDescription, existing.TaskDescription)
				agent.LastActiveTS = now
				if policy != "" {
					agent.ContactPolicy = policy
				}
			} else if domain.CodeOf(err) != domain.ErrAgentNotRegistered {
				return err
			}
		} else {
			name = domain.GenerateAgentName(func(candidate string) bool {
				_, err := s.idx.AgentByName(project.ID, candidate)
				return err == nil
			})
		}

		if agent.Name == "" {
			result.Created = true
			agent = domain.Agent{
				ProjectID:       project.ID,
				Name:            name,
				Program:         in.Program,
				Model:           in.Model,
				TaskDescription: in.TaskDescription,
				InceptionTS:     now,
				LastActiveTS:    now,
				ContactPolicy:   domain.PolicyAuto,
			}
			if policy != "" {
				agent.ContactPolicy = policy
			}
		}

		rel, err := s.arc.WriteAgentProfile(project.Slug, profileOf(agent))
		if err != nil {
			return err
		}
		subject := fmt.Sprintf("agent: update %s", agent.Name)
		if result.Created {
			subject = fmt.Sprintf("agent: create %s", agent.Name)
		}
		if err := s.arc.Commit(project.Slug, subject, []string{rel}); err != nil {
			return err
		}

		return s.indexApply(project.Slug, func() error {
			stored, err := s.idx.SaveAgent(agent)
			if err != nil {
				return err
			}
			result.Agent = AgentCard{Agent: stored, Active: stored.ActiveAt(now)}
			return nil
		})
	})
	if err != nil {
		return RegisterAgentResult{}, err
	}
	return result, nil
}

// CreateAgentIdentity mints a fresh named identity, never reusing a hint.
func (s *MailService) CreateAgentIdentity(ctx context.Context, projectKey, program, model, taskDescription string) (RegisterAgentResult, error) {
	return s.RegisterAgent(ctx, RegisterAgentInput{
		ProjectKey:      projectKey,
		Program:         program,
		Model:           model,
		TaskDescription: taskDescription,
	})
}

// WhoisResult is the full agent card with mailbox and lease counts.
type WhoisResult struct {
	AgentCard
	UnreadCount  int `json:"unread_count"`
	AckPending   int `json:"ack_pending"`
	ActiveClaims int `json:"active_claims"`
}

// Whois looks up one agent and its current workload.
func (s *MailService) Whois(ctx context.Context, projectKey, agentName string) (WhoisResult, error) {
	project, err := s.resolveProject(projectKey)
	if err != nil {
		return WhoisResult{}, err
	}

	var result WhoisResult
	err = s.View(ctx, func(now time.Time) error {
		agent, err := s.resolveAgent(project.ID, agentName)
		if err != nil {
			return err
		}
		result.AgentCard = AgentCard{Agent: agent, Active: agent.ActiveAt(now)}
		if result.UnreadCount, result.AckPending, err = s.idx.UnreadCounts(project.ID, agent.Name); err != nil {
			return err
		}
		claims, err := s.idx.ClaimsByAgent(project.ID, agent.Name, now, true)
		if err != nil {
			return err
		}
		result.ActiveClaims = len(claims)
		return nil
	})
	if err != nil {
		return WhoisResult{}, err
	}
	return result, nil
}

// ListProjects returns every registered project, ordered by slug.
func (s *MailService) ListProjects(ctx context.Context) ([]domain.Project, error) {
	var projects []domain.Project
	err := s.View(ctx, func(now time.Time) error {
		var err error
		projects, err = s.idx.ListProjects()
		return err
	})
	if err != nil {
		return nil, err
	}
	return projects, nil
}

// ListAgents returns a project's agents. With onlyActive, agents last seen
// outside the activity window are dropped.
func (s *MailService) ListAgents(ctx context.Context, projectKey string, onlyActive bool) ([]AgentCard, error) {
	project, err := s.resolveProject(projectKey)
	if err != nil {
		return nil, err
	}

	var cards []AgentCard
	err = s.View(ctx, func(now time.Time) error {
		agents, err := s.idx.ListAgents(project.ID)
		if err != nil {
			return err
		}
		for _, a := range agents {
			active := a.ActiveAt(now)
			if onlyActive && !active {
				continue
			}
			cards = append(cards, AgentCard{Agent: a, Active: active})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cards, nil
}

// SetContactPolicy updates who may message the agent.
func (s *MailService) SetContactPolicy(ctx context.Context, projectKey, agentName, policy string) (AgentCard, error) {
	pol, ok := domain.ParseContactPolicy(policy)
	if !ok {
		return AgentCard{}, domain.Errorf(domain.ErrInvalidArgument, "unknown contact policy %q", policy)
	}
	project, err := s.resolveProject(projectKey)
	if err != nil {
		return AgentCard{}, err
	}

	var card AgentCard
	err = s.Mutate(ctx, project.Slug, func(now time.Time) error {
		agent, err := s.resolveAgent(project.ID, agentName)
		if err != nil {
			return err
		}
		agent.ContactPolicy = pol

		rel, err := s.arc.WriteAgentProfile(project.Slug, profileOf(agent))
		if err != nil {
			return err
		}
		if err := s.arc.Commit(project.Slug, fmt.Sprintf("agent: update %s", agent.Name), []string{rel}); err != nil {
			return err
		}

		return s.indexApply(project.Slug, func() error {
			if err := s.idx.SetAgentPolicy(project.ID, agent.Name, pol); err != nil {
				return err
			}
			card = AgentCard{Agent: agent, Active: agent.ActiveAt(now)}
			return nil
		})
	})
	if err != nil {
		return AgentCard{}, err
	}
	return card, nil
}

func profileOf(a domain.Agent) archive.AgentProfile {
	return archive.AgentProfile{
		Name:            a.Name,
		Program:         a.Program,
		Model:           a.Model,
		TaskDescription: a.TaskDescription,
		InceptionTS:     a.InceptionTS.UTC().Format(time.RFC3339Nano),
		ContactPolicy:   string(a.ContactPolicy),
	}
}

func orKeep(next, current string) string {
	if next == "" {
		return current
	}
	return next
}
