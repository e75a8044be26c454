package app

import (
	"time"

	"github.com/jaakkos/agentmail/internal/domain"
)

// authorizeSend applies the recipient's contact policy to one same-project
// delivery. A nil return means the message may be delivered. Auto-policy
// denials create a pending contact request as a side effect so the
// recipient can approve future traffic.
//
// Called inside the sender project's critical section; the whole recipient
// set is checked before anything is written, so a single denial blocks the
// entire send.
func (s *MailService) authorizeSend(project domain.Project, sender, recipient domain.Agent, now time.Time) error {
	if !s.cfg.ContactEnforcementEnabled {
		return nil
	}
	if sender.Name == domain.OverseerName {
		return nil
	}
	if equalNames(sender.Name, recipient.Name) {
		return nil
	}

	switch recipient.ContactPolicy {
	case domain.PolicyOpen:
		return nil
	case domain.PolicyBlockAll:
		return domain.Errorf(domain.ErrPolicyBlocked, "agent %q is not accepting messages", recipient.Name)
	case domain.PolicyContactsOnly:
		if c, ok, err := s.idx.ContactBetween(project.ID, sender.Name, recipient.Name); err != nil {
			return err
		} else if ok && c.State == domain.LinkAccepted {
			return nil
		}
		return domain.Errorf(domain.ErrPolicyBlocked,
			"agent %q only accepts messages from approved contacts", recipient.Name)
	default: // auto
		allowed, err := s.autoSignals(project.ID, sender.Name, recipient.Name, now)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		if err := s.ensurePendingContact(project.ID, sender.Name, recipient.Name, now); err != nil {
			return err
		}
		return domain.Errorf(domain.ErrContactPending,
			"no established contact with %q; a contact request is now pending", recipient.Name)
	}
}

// autoSignals reports whether two agents already collaborate: an accepted
// contact in either direction, overlapping active claims, or a shared
// message thread.
func (s *MailService) autoSignals(projectID int64, sender, recipient string, now time.Time) (bool, error) {
	for _, pair := range [][2]string{{sender, recipient}, {recipient, sender}} {
		if c, ok, err := s.idx.ContactBetween(projectID, pair[0], pair[1]); err != nil {
			return false, err
		} else if ok && c.State == domain.LinkAccepted {
			return true, nil
		}
	}

	claims, err := s.idx.ActiveClaims(projectID, now)
	if err != nil {
		return false, err
	}
	var senderClaims, recipientClaims []domain.Claim
	for _, c := range claims {
		switch {
		case equalNames(c.AgentName, sender):
			senderClaims = append(senderClaims, c)
		case equalNames(c.AgentName, recipient):
			recipientClaims = append(recipientClaims, c)
		}
	}
	for _, sc := range senderClaims {
		for _, rc := range recipientClaims {
			if domain.PathsOverlap(sc.Path, rc.Path) {
				return true, nil
			}
		}
	}

	return s.idx.SharedThread(projectID, sender, recipient)
}

// ensurePendingContact records a pending request from sender to recipient
// unless any row already exists, so a decided contact is never downgraded.
func (s *MailService) ensurePendingContact(projectID int64, sender, recipient string, now time.Time) error {
	if _, ok, err := s.idx.ContactBetween(projectID, sender, recipient); err != nil {
		return err
	} else if ok {
		return nil
	}
	return s.idx.UpsertContact(domain.Contact{
		ProjectID: projectID,
		FromAgent: sender,
		ToAgent:   recipient,
		State:     domain.LinkPending,
		Reason:    "auto-created by send_message",
		CreatedTS: now,
	})
}

// linkAccepted reports whether cross-project traffic between two
// project-qualified agents is approved in both directions.
func (s *MailService) linkAccepted(fromProjectID int64, fromAgent string, toProjectID int64, toAgent string) (bool, error) {
	forward, ok, err := s.idx.LinkBetween(fromProjectID, fromAgent, toProjectID, toAgent)
	if err != nil {
		return false, err
	}
	if !ok || forward.State != domain.LinkAccepted {
		return false, nil
	}
	reverse, ok, err := s.idx.LinkBetween(toProjectID, toAgent, fromProjectID, fromAgent)
	if err != nil {
		return false, err
	}
	return ok && reverse.State == domain.LinkAccepted, nil
}

func equalNames(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
