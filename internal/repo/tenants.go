package repo

import (
	"context"
	"database/sql"

	"marketbot/internal/domain"
)

func (r Repo) EnsureTenant(ctx context.Context, tx *sql.Tx, tenantID, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO tenants(id, created_at) VALUES (?,?)`, tenantID, now)
	return err
}

// SetManagerRoles replaces the roles whose members may manage any listing of the tenant.
func (r Repo) SetManagerRoles(ctx context.Context, tx *sql.Tx, tenantID string, roleIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM tenant_manager_roles WHERE tenant_id=?`, tenantID); err != nil {
		return err
	}
	for _, role := range roleIDs {
		if role == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO tenant_manager_roles(tenant_id, role_id) VALUES (?,?)`, tenantID, role); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ManagerRoles(ctx context.Context, tx *sql.Tx, tenantID string) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT role_id FROM tenant_manager_roles WHERE tenant_id=? ORDER BY role_id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (r Repo) GetTenant(ctx context.Context, id string) (domain.Tenant, error) {
	var t domain.Tenant
	err := r.DB.QueryRowContext(ctx, `SELECT id, created_at FROM tenants WHERE id=?`, id).Scan(&t.ID, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.ManagerRoleIDs, err = r.ManagerRoles(ctx, nil, id)
	return t, err
}

func (r Repo) ListTenants(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, created_at FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	var res []domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].ManagerRoleIDs, err = r.ManagerRoles(ctx, nil, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}
