package repo

import (
	"context"
	"database/sql"
	"sort"
)

func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID, name, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO actors(id, name, created_at) VALUES (?,?,?)
ON CONFLICT(id) DO UPDATE SET name=COALESCE(excluded.name, actors.name)`, actorID, nullable(name), now)
	return Wrap("ensure actor", err)
}

func (r Repo) ActorName(ctx context.Context, actorID string) (string, error) {
	var name sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT name FROM actors WHERE id=?`, actorID).Scan(&name)
	if err != nil {
		return "", Wrap("actor name", err)
	}
	return name.String, nil
}

func (r Repo) InsertRole(ctx context.Context, tx *sql.Tx, id, desc string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO roles(id, description) VALUES (?,?)
ON CONFLICT(id) DO UPDATE SET description=excluded.description`, id, nullable(desc))
	return Wrap("insert role", err)
}

func (r Repo) InsertPermission(ctx context.Context, tx *sql.Tx, id, desc string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO permissions(id, description) VALUES (?,?)`, id, nullable(desc))
	return Wrap("insert permission", err)
}

// ReplaceRolePermissions makes roleID carry exactly perms.
func (r Repo) ReplaceRolePermissions(ctx context.Context, tx *sql.Tx, roleID string, perms []string) error {
	if _, err := r.q(tx).ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id=?`, roleID); err != nil {
		return Wrap("clear role permissions", err)
	}
	for _, p := range perms {
		if err := r.InsertPermission(ctx, tx, p, ""); err != nil {
			return err
		}
		if _, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO role_permissions(role_id, permission_id) VALUES (?,?)`, roleID, p); err != nil {
			return Wrap("add role permission", err)
		}
	}
	return nil
}

// AssignRole gives an actor its single site role, replacing any previous one.
func (r Repo) AssignRole(ctx context.Context, tx *sql.Tx, actorID, roleID string) error {
	if _, err := r.q(tx).ExecContext(ctx, `DELETE FROM actor_roles WHERE actor_id=?`, actorID); err != nil {
		return Wrap("assign role", err)
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO actor_roles(actor_id, role_id) VALUES (?,?)`, actorID, roleID)
	return Wrap("assign role", err)
}

func (r Repo) RevokeRole(ctx context.Context, tx *sql.Tx, actorID, roleID string) error {
	_, err := r.q(tx).ExecContext(ctx, `DELETE FROM actor_roles WHERE actor_id=? AND role_id=?`, actorID, roleID)
	return Wrap("revoke role", err)
}

// ActorRole returns the role bound to actorID, or ErrNotFound.
func (r Repo) ActorRole(ctx context.Context, actorID string) (string, error) {
	var role string
	err := r.DB.QueryRowContext(ctx, `SELECT role_id FROM actor_roles WHERE actor_id=? ORDER BY role_id LIMIT 1`, actorID).Scan(&role)
	if err != nil {
		return "", Wrap("actor role", err)
	}
	return role, nil
}

// RolePermissions returns the stored permission set per role.
func (r Repo) RolePermissions(ctx context.Context) (map[string][]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT role_id, permission_id FROM role_permissions`)
	if err != nil {
		return nil, Wrap("role permissions", err)
	}
	defer rows.Close()
	out := map[string][]string{}
	for rows.Next() {
		var role, perm string
		if err := rows.Scan(&role, &perm); err != nil {
			return nil, Wrap("role permissions", err)
		}
		out[role] = append(out[role], perm)
	}
	for _, perms := range out {
		sort.Strings(perms)
	}
	return out, Wrap("role permissions", rows.Err())
}

// CountRoleBindings returns how many actors hold a role.
func (r Repo) CountRoleBindings(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM actor_roles`).Scan(&n)
	return n, Wrap("count role bindings", err)
}
