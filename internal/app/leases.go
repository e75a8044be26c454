package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jaakkos/agentmail/internal/archive"
	"github.com/jaakkos/agentmail/internal/domain"
)

// ReserveInput carries one reserve_file_paths call.
type ReserveInput struct {
	ProjectKey string
	Agent      string
	Paths      []string
	Exclusive  bool
	Reason     string
	TTLSeconds int
}

// GrantedClaim is one granted lease in a reserve response.
type GrantedClaim struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Exclusive bool      `json:"exclusive"`
	ExpiresTS time.Time `json:"expires_ts"`
}

// ClaimHolder identifies who blocks a conflicting path.
type ClaimHolder struct {
	Agent     string    `json:"agent"`
	Path      string    `json:"path"`
	Exclusive bool      `json:"exclusive"`
	ExpiresTS time.Time `json:"expires_ts"`
}

// PathConflict reports one requested path that was withheld.
type PathConflict struct {
	Path    string        `json:"path"`
	Code    string        `json:"code"`
	Holders []ClaimHolder `json:"holders"`
}

// ReserveResult lists what was granted and what was withheld. A lease is
// advisory: a conflict does not fail the call, it just goes ungranted.
type ReserveResult struct {
	Granted   []GrantedClaim `json:"granted"`
	Conflicts []PathConflict `json:"conflicts,omitempty"`
	SweptTS   time.Time      `json:"swept_ts"`
}

// ReserveFilePaths grants advisory leases on file paths or glob patterns.
// Expired rows are swept first; each requested path is then checked against
// the active claims of other agents, where a conflict needs an exclusive
// side. Grants earlier in the same call join the overlap set for later
// paths, so one call cannot hand two of its own paths to a shadowing
// pattern twice.
func (s *MailService) ReserveFilePaths(ctx context.Context, in ReserveInput) (ReserveResult, error) {
	paths := dedupePaths(in.Paths)
	if len(paths) == 0 {
		return ReserveResult{}, domain.Errorf(domain.ErrInvalidArgument, "at least one path is required")
	}
	ttl := in.TTLSeconds
	if ttl <= 0 {
		ttl = 3600
	}
	if ttl < 60 {
		ttl = 60
	}
	project, err := s.resolveProject(in.ProjectKey)
	if err != nil {
		return ReserveResult{}, err
	}

	var result ReserveResult
	err = s.Mutate(ctx, project.Slug, func(now time.Time) error {
		agent, err := s.resolveAgent(project.ID, in.Agent)
		if err != nil {
			return err
		}
		if _, err := s.idx.SweepExpiredClaims(project.ID, now); err != nil {
			return err
		}
		active, err := s.idx.ActiveClaims(project.ID, now)
		if err != nil {
			return err
		}

		expires := now.Add(time.Duration(ttl) * time.Second)
		var granted []domain.Claim
		var relPaths []string
		result = ReserveResult{SweptTS: now}
		for _, path := range paths {
			var holders []ClaimHolder
			for _, c := range active {
				if equalNames(c.AgentName, agent.Name) {
					continue
				}
				if !domain.PathsOverlap(path, c.Path) {
					continue
				}
				if in.Exclusive || c.Exclusive {
					holders = append(holders, ClaimHolder{
						Agent:     c.AgentName,
						Path:      c.Path,
						Exclusive: c.Exclusive,
						ExpiresTS: c.ExpiresTS,
					})
				}
			}
			if len(holders) > 0 {
				result.Conflicts = append(result.Conflicts, PathConflict{
					Path:    path,
					Code:    string(domain.ErrClaimConflict),
					Holders: holders,
				})
				continue
			}
			claim := domain.Claim{
				ID:        domain.NewClaimID(),
				ProjectID: project.ID,
				AgentName: agent.Name,
				Path:      path,
				Exclusive: in.Exclusive,
				Reason:    in.Reason,
				CreatedTS: now,
				ExpiresTS: expires,
			}
			rel, err := s.arc.WriteClaimRecord(project.Slug, claimRecord(project, claim))
			if err != nil {
				return err
			}
			relPaths = append(relPaths, rel)
			granted = append(granted, claim)
			active = append(active, claim)
			result.Granted = append(result.Granted, GrantedClaim{
				ID:        claim.ID,
				Path:      path,
				Exclusive: in.Exclusive,
				ExpiresTS: expires,
			})
		}

		if len(relPaths) > 0 {
			mode := "shared"
			if in.Exclusive {
				mode = "exclusive"
			}
			commitMsg := fmt.Sprintf("claim: %s %s %d path(s)", agent.Name, mode, len(relPaths))
			if err := s.arc.Commit(project.Slug, commitMsg, relPaths); err != nil {
				return err
			}
		}
		return s.indexApply(project.Slug, func() error {
			for _, c := range granted {
				if err := s.idx.InsertClaim(c); err != nil {
					return err
				}
			}
			return s.idx.TouchAgent(project.ID, agent.Name, now)
		})
	})
	if err != nil {
		return ReserveResult{}, err
	}
	return result, nil
}

// RenewInput carries one renew_file_reservations call. Empty Paths renews
// every active claim the agent holds.
type RenewInput struct {
	ProjectKey    string
	Agent         string
	ExtendSeconds int
	Paths         []string
}

// RenewedClaim reports one extended lease.
type RenewedClaim struct {
	ID           string    `json:"id"`
	Path         string    `json:"path_pattern"`
	OldExpiresTS time.Time `json:"old_expires_ts"`
	NewExpiresTS time.Time `json:"new_expires_ts"`
}

// RenewResult summarizes a renewal pass.
type RenewResult struct {
	Renewed int            `json:"renewed"`
	Claims  []RenewedClaim `json:"file_reservations"`
}

// RenewFileReservations pushes expiry forward on the caller's active
// leases. The extension is taken from the later of now and the current
// expiry, so renewing never shortens a lease.
func (s *MailService) RenewFileReservations(ctx context.Context, in RenewInput) (RenewResult, error) {
	extend := in.ExtendSeconds
	if extend <= 0 {
		extend = 1800
	}
	if extend < 60 {
		extend = 60
	}
	project, err := s.resolveProject(in.ProjectKey)
	if err != nil {
		return RenewResult{}, err
	}

	wanted := map[string]bool{}
	for _, p := range dedupePaths(in.Paths) {
		wanted[p] = true
	}

	var result RenewResult
	err = s.Mutate(ctx, project.Slug, func(now time.Time) error {
		agent, err := s.resolveAgent(project.ID, in.Agent)
		if err != nil {
			return err
		}
		claims, err := s.idx.ClaimsByAgent(project.ID, agent.Name, now, true)
		if err != nil {
			return err
		}

		var relPaths []string
		var renewals []domain.Claim
		result = RenewResult{}
		for _, c := range claims {
			if len(wanted) > 0 && !wanted[c.Path] {
				continue
			}
			base := c.ExpiresTS
			if now.After(base) {
				base = now
			}
			renewed := c
			renewed.ExpiresTS = base.Add(time.Duration(extend) * time.Second)
			rel, err := s.arc.WriteClaimRecord(project.Slug, claimRecord(project, renewed))
			if err != nil {
				return err
			}
			relPaths = append(relPaths, rel)
			renewals = append(renewals, renewed)
			result.Claims = append(result.Claims, RenewedClaim{
				ID:           c.ID,
				Path:         c.Path,
				OldExpiresTS: c.ExpiresTS,
				NewExpiresTS: renewed.ExpiresTS,
			})
		}
		result.Renewed = len(renewals)
		if len(renewals) == 0 {
			return nil
		}
		commitMsg := fmt.Sprintf("claim: renew %s %d path(s)", agent.Name, len(renewals))
		if err := s.arc.Commit(project.Slug, commitMsg, relPaths); err != nil {
			return err
		}
		return s.indexApply(project.Slug, func() error {
			for _, c := range renewals {
				if err := s.idx.RenewClaim(c.ID, c.ExpiresTS); err != nil {
					return err
				}
			}
			return s.idx.TouchAgent(project.ID, agent.Name, now)
		})
	})
	if err != nil {
		return RenewResult{}, err
	}
	return result, nil
}

// ReleaseInput carries one release_file_reservations call. Empty Paths
// releases every active claim the agent holds.
type ReleaseInput struct {
	ProjectKey string
	Agent      string
	Paths      []string
}

// ReleaseResult summarizes a release pass.
type ReleaseResult struct {
	Released   int       `json:"released"`
	ReleasedAt time.Time `json:"released_at"`
}

// ReleaseFileReservations stamps the caller's matching active leases
// released and commits the updated claim records. Releasing nothing is a
// no-op, not an error.
func (s *MailService) ReleaseFileReservations(ctx context.Context, in ReleaseInput) (ReleaseResult, error) {
	project, err := s.resolveProject(in.ProjectKey)
	if err != nil {
		return ReleaseResult{}, err
	}
	wanted := map[string]bool{}
	for _, p := range dedupePaths(in.Paths) {
		wanted[p] = true
	}

	var result ReleaseResult
	err = s.Mutate(ctx, project.Slug, func(now time.Time) error {
		agent, err := s.resolveAgent(project.ID, in.Agent)
		if err != nil {
			return err
		}
		claims, err := s.idx.ClaimsByAgent(project.ID, agent.Name, now, true)
		if err != nil {
			return err
		}

		var relPaths []string
		var released []domain.Claim
		for _, c := range claims {
			if len(wanted) > 0 && !wanted[c.Path] {
				continue
			}
			rel := c
			rel.ReleasedTS = &now
			path, err := s.arc.WriteClaimRecord(project.Slug, claimRecord(project, rel))
			if err != nil {
				return err
			}
			relPaths = append(relPaths, path)
			released = append(released, rel)
		}
		result = ReleaseResult{Released: len(released), ReleasedAt: now}
		if len(released) == 0 {
			return nil
		}
		commitMsg := fmt.Sprintf("claim: release %s %d path(s)", agent.Name, len(released))
		if err := s.arc.Commit(project.Slug, commitMsg, relPaths); err != nil {
			return err
		}
		return s.indexApply(project.Slug, func() error {
			for _, c := range released {
				if err := s.idx.ReleaseClaim(c.ID, now); err != nil {
					return err
				}
			}
			return s.idx.TouchAgent(project.ID, agent.Name, now)
		})
	})
	if err != nil {
		return ReleaseResult{}, err
	}
	return result, nil
}

// ListClaims enumerates a project's leases, optionally only the live ones.
func (s *MailService) ListClaims(ctx context.Context, projectKey string, activeOnly bool) ([]domain.Claim, error) {
	project, err := s.resolveProject(projectKey)
	if err != nil {
		return nil, err
	}
	var claims []domain.Claim
	err = s.View(ctx, func(now time.Time) error {
		claims, err = s.idx.ProjectClaims(project.ID, now, activeOnly)
		return err
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// claimRecord converts a claim row to its archive JSON form.
func claimRecord(project domain.Project, c domain.Claim) archive.ClaimRecord {
	rec := archive.ClaimRecord{
		ID:          c.ID,
		Project:     project.HumanKey,
		Agent:       c.AgentName,
		PathPattern: c.Path,
		Exclusive:   c.Exclusive,
		Reason:      c.Reason,
		CreatedTS:   c.CreatedTS.UTC().Format(time.RFC3339Nano),
		ExpiresTS:   c.ExpiresTS.UTC().Format(time.RFC3339Nano),
	}
	if c.ReleasedTS != nil {
		ts := c.ReleasedTS.UTC().Format(time.RFC3339Nano)
		rec.ReleasedTS = &ts
	}
	return rec
}

// dedupePaths trims, drops empties and keeps first occurrence order.
func dedupePaths(paths []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, raw := range paths {
		p := strings.TrimSpace(raw)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
