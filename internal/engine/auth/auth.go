package auth

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"siteline/internal/config"
	"siteline/internal/domain"
	"siteline/internal/repo"
)

// Permissions checked by the engine.
const (
	PermWorkCreate         = "work.create"
	PermWorkRead           = "work.read"
	PermFeedRead           = "feed.read"
	PermReportCreate       = "report.create"
	PermChatPost           = "chat.post"
	PermInspectionCreate   = "inspection.create"
	PermInspectionEdit     = "inspection.edit"
	PermInspectionSubmit   = "inspection.submit"
	PermInspectionComplete = "inspection.complete"
	PermInspectionRework   = "inspection.rework"
	PermRemediationSubmit  = "remediation.submit"
	PermRemediationVerify  = "remediation.verify"
	PermDefectsExport      = "defects.export"
	PermRBACManage         = "rbac.manage"
)

// AuthorizationError indicates the actor's role lacks a permission.
type AuthorizationError struct {
	Permission string
	Role       domain.Role
}

func (e AuthorizationError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("permission %s required", e.Permission)
	}
	return fmt.Sprintf("role %s lacks permission %s", e.Role, e.Permission)
}

// Policy maps each role to the permissions it grants.
type Policy struct {
	roles       map[domain.Role]map[string]bool
	verifyRoles map[domain.Role]bool
}

// PolicyFromConfig builds a policy from the rbac and remediation sections.
func PolicyFromConfig(cfg *config.Config) Policy {
	p := Policy{roles: map[domain.Role]map[string]bool{}, verifyRoles: map[domain.Role]bool{}}
	if cfg == nil {
		cfg = config.Default()
	}
	for id, role := range cfg.RBAC.Roles {
		perms := map[string]bool{}
		for _, perm := range role.Permissions {
			perms[perm] = true
		}
		p.roles[domain.Role(id)] = perms
	}
	verify := cfg.Policies.Remediation.VerifyRoles
	if len(verify) == 0 {
		verify = []string{string(domain.RoleClient), string(domain.RoleAdmin)}
	}
	for _, r := range verify {
		p.verifyRoles[domain.Role(r)] = true
	}
	return p
}

func (p Policy) Allows(role domain.Role, perm string) bool {
	if perm == PermRemediationVerify && !p.verifyRoles[role] {
		return false
	}
	return p.roles[role][perm]
}

// Permissions lists a role's permissions in sorted order.
func (p Policy) Permissions(role domain.Role) []string {
	var out []string
	for perm, ok := range p.roles[role] {
		if ok && p.Allows(role, perm) {
			out = append(out, perm)
		}
	}
	sort.Strings(out)
	return out
}

// Guard evaluates a Policy for an actor.
type Guard struct {
	Policy Policy
}

func (g Guard) Require(actor domain.Actor, perm string) error {
	if actor.ID == "" || !g.Policy.Allows(actor.Role, perm) {
		return AuthorizationError{Permission: perm, Role: actor.Role}
	}
	return nil
}

// RequireOnWork additionally confines contractors to their assigned works.
func (g Guard) RequireOnWork(actor domain.Actor, perm string, w domain.Work) error {
	if err := g.Require(actor, perm); err != nil {
		return err
	}
	if actor.Role == domain.RoleContractor && w.ContractorID != actor.ID {
		return AuthorizationError{Permission: perm, Role: actor.Role}
	}
	return nil
}

// Seed writes the policy's roles and permissions into the store so the
// tables mirror the loaded config.
func Seed(ctx context.Context, r repo.Repo, cfg *config.Config) error {
	return r.InTx(ctx, "seed roles", func(tx *sql.Tx) error {
		for id, role := range cfg.RBAC.Roles {
			if err := r.InsertRole(ctx, tx, id, role.Description); err != nil {
				return err
			}
			if err := r.ReplaceRolePermissions(ctx, tx, id, role.Permissions); err != nil {
				return err
			}
		}
		return nil
	})
}

// ResolveActor loads the stored role of actorID. A missing binding yields
// an actor with no role, which every permission check rejects.
func ResolveActor(ctx context.Context, r repo.Repo, actorID string) (domain.Actor, error) {
	a := domain.Actor{ID: actorID}
	role, err := r.ActorRole(ctx, actorID)
	switch {
	case err == nil:
		a.Role = domain.Role(role)
	case err != repo.ErrNotFound:
		return a, err
	}
	if name, err := r.ActorName(ctx, actorID); err == nil {
		a.Name = name
	}
	return a, nil
}
