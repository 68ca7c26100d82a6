package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"worklane.org/internal/rbac"
)

func (s *Store) CreateUser(ctx context.Context, u rbac.User) (rbac.User, error) {
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, email, password_hash, role_level, role_id, company_id, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, u.Email, u.PasswordHash, u.RoleLevel, nullIfEmpty(u.RoleID), nullIfEmpty(u.CompanyID), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return rbac.User{}, fmt.Errorf("%w: user %s", rbac.ErrConflict, u.Email)
		}
		return rbac.User{}, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (rbac.User, error) {
	return s.userBy(ctx, `where id = $1`, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (rbac.User, error) {
	return s.userBy(ctx, `where email = $1`, email)
}

func (s *Store) userBy(ctx context.Context, clause string, arg any) (rbac.User, error) {
	var (
		u       rbac.User
		roleID  sql.NullString
		company sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, email, password_hash, role_level, role_id, company_id, created_at, updated_at
		from users `+clause, arg,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.RoleLevel, &roleID, &company, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.User{}, fmt.Errorf("%w: user", rbac.ErrNotFound)
	}
	if err != nil {
		return rbac.User{}, err
	}
	u.RoleID = roleID.String
	u.CompanyID = company.String
	return u, nil
}

func (s *Store) SetUserRole(ctx context.Context, userID, roleLevel, roleID string) (rbac.User, error) {
	res, err := s.db.ExecContext(ctx, `
		update users set role_level = $2, role_id = $3, updated_at = now()
		where id = $1
	`, userID, roleLevel, nullIfEmpty(roleID))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return rbac.User{}, fmt.Errorf("%w: role %s", rbac.ErrNotFound, roleID)
		}
		return rbac.User{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return rbac.User{}, err
	}
	if affected == 0 {
		return rbac.User{}, fmt.Errorf("%w: user %s", rbac.ErrNotFound, userID)
	}
	return s.GetUser(ctx, userID)
}

func (s *Store) CreatePermission(ctx context.Context, p rbac.Permission) (rbac.Permission, error) {
	_, err := s.db.ExecContext(ctx, `
		insert into permissions (id, name, created_at) values ($1, $2, $3)
	`, p.ID, p.Name, p.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return rbac.Permission{}, fmt.Errorf("%w: permission %s", rbac.ErrConflict, p.Name)
		}
		return rbac.Permission{}, err
	}
	p.AssignedRoles = []string{}
	p.AssignedModules = []string{}
	return p, nil
}

func (s *Store) GetPermission(ctx context.Context, id string) (rbac.Permission, error) {
	var p rbac.Permission
	err := s.db.QueryRowContext(ctx, `
		select id, name, created_at from permissions where id = $1
	`, id).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Permission{}, fmt.Errorf("%w: permission %s", rbac.ErrNotFound, id)
	}
	if err != nil {
		return rbac.Permission{}, err
	}
	if p.AssignedRoles, err = s.refs(ctx, `select role_id from role_permissions where permission_id = $1 order by role_id`, id); err != nil {
		return rbac.Permission{}, err
	}
	if p.AssignedModules, err = s.refs(ctx, `select module_id from module_permissions where permission_id = $1 order by module_id`, id); err != nil {
		return rbac.Permission{}, err
	}
	return p, nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `select id, name, created_at from permissions order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rbac.Permission
	for rows.Next() {
		var p rbac.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range result {
		if result[i].AssignedRoles, err = s.refs(ctx, `select role_id from role_permissions where permission_id = $1 order by role_id`, result[i].ID); err != nil {
			return nil, err
		}
		if result[i].AssignedModules, err = s.refs(ctx, `select module_id from module_permissions where permission_id = $1 order by module_id`, result[i].ID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// CreateRole inserts the role and its permission links in one transaction.
// A link against a missing permission trips the foreign key and rolls the
// whole insert back, so a bad reference never leaves a partial role behind.
func (s *Store) CreateRole(ctx context.Context, r rbac.Role) (rbac.Role, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rbac.Role{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into roles (id, name, description, company_id, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
	`, r.ID, r.Name, r.Description, nullIfEmpty(r.CompanyID), r.CreatedAt, r.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return rbac.Role{}, fmt.Errorf("%w: role %s", rbac.ErrConflict, r.Name)
		}
		return rbac.Role{}, err
	}
	for _, permID := range r.Permissions {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id) values ($1, $2)
		`, r.ID, permID); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return rbac.Role{}, fmt.Errorf("%w: permission %s", rbac.ErrNotFound, permID)
			}
			return rbac.Role{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return rbac.Role{}, err
	}
	return r, nil
}

func (s *Store) GetRole(ctx context.Context, id string) (rbac.Role, error) {
	var (
		r       rbac.Role
		company sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, company_id, created_at, updated_at
		from roles where id = $1
	`, id).Scan(&r.ID, &r.Name, &r.Description, &company, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Role{}, fmt.Errorf("%w: role %s", rbac.ErrNotFound, id)
	}
	if err != nil {
		return rbac.Role{}, err
	}
	r.CompanyID = company.String
	if r.Permissions, err = s.refs(ctx, `select permission_id from role_permissions where role_id = $1 order by permission_id`, id); err != nil {
		return rbac.Role{}, err
	}
	return r, nil
}

func (s *Store) UpdateRole(ctx context.Context, id string, upd rbac.RoleUpdate) (rbac.Role, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rbac.Role{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var dummy int
	if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1 for update`, id).Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rbac.Role{}, fmt.Errorf("%w: role %s", rbac.ErrNotFound, id)
		}
		return rbac.Role{}, err
	}
	if upd.Name != nil {
		if _, err := tx.ExecContext(ctx, `update roles set name = $2, updated_at = now() where id = $1`, id, *upd.Name); err != nil {
			return rbac.Role{}, err
		}
	}
	if upd.Description != nil {
		if _, err := tx.ExecContext(ctx, `update roles set description = $2, updated_at = now() where id = $1`, id, *upd.Description); err != nil {
			return rbac.Role{}, err
		}
	}
	if upd.Permissions != nil {
		// Replace the link set; the foreign key rejects unknown permissions
		// and rolls back the whole update.
		if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, id); err != nil {
			return rbac.Role{}, err
		}
		for _, permID := range *upd.Permissions {
			if _, err := tx.ExecContext(ctx, `
				insert into role_permissions (role_id, permission_id) values ($1, $2)
			`, id, permID); err != nil {
				if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
					return rbac.Role{}, fmt.Errorf("%w: permission %s", rbac.ErrNotFound, permID)
				}
				return rbac.Role{}, err
			}
		}
		if _, err := tx.ExecContext(ctx, `update roles set updated_at = now() where id = $1`, id); err != nil {
			return rbac.Role{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return rbac.Role{}, err
	}
	return s.GetRole(ctx, id)
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `update users set role_id = null where role_id = $1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: role %s", rbac.ErrNotFound, id)
	}
	return tx.Commit()
}

func (s *Store) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, company_id, created_at, updated_at
		from roles order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rbac.Role
	for rows.Next() {
		var (
			r       rbac.Role
			company sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &company, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.CompanyID = company.String
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range result {
		if result[i].Permissions, err = s.refs(ctx, `select permission_id from role_permissions where role_id = $1 order by permission_id`, result[i].ID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Store) CreateModule(ctx context.Context, m rbac.Module) (rbac.Module, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rbac.Module{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into modules (id, name, created_at, updated_at) values ($1, $2, $3, $4)
	`, m.ID, m.Name, m.CreatedAt, m.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return rbac.Module{}, fmt.Errorf("%w: module %s", rbac.ErrConflict, m.Name)
		}
		return rbac.Module{}, err
	}
	for _, permID := range m.Permissions {
		if _, err := tx.ExecContext(ctx, `
			insert into module_permissions (module_id, permission_id) values ($1, $2)
		`, m.ID, permID); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return rbac.Module{}, fmt.Errorf("%w: permission %s", rbac.ErrNotFound, permID)
			}
			return rbac.Module{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return rbac.Module{}, err
	}
	return m, nil
}

func (s *Store) GetModule(ctx context.Context, id string) (rbac.Module, error) {
	var m rbac.Module
	err := s.db.QueryRowContext(ctx, `
		select id, name, created_at, updated_at from modules where id = $1
	`, id).Scan(&m.ID, &m.Name, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Module{}, fmt.Errorf("%w: module %s", rbac.ErrNotFound, id)
	}
	if err != nil {
		return rbac.Module{}, err
	}
	if m.Permissions, err = s.refs(ctx, `select permission_id from module_permissions where module_id = $1 order by permission_id`, id); err != nil {
		return rbac.Module{}, err
	}
	return m, nil
}

func (s *Store) UpdateModule(ctx context.Context, id string, upd rbac.ModuleUpdate) (rbac.Module, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rbac.Module{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var dummy int
	if err := tx.QueryRowContext(ctx, `select 1 from modules where id = $1 for update`, id).Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rbac.Module{}, fmt.Errorf("%w: module %s", rbac.ErrNotFound, id)
		}
		return rbac.Module{}, err
	}
	if upd.Name != nil {
		if _, err := tx.ExecContext(ctx, `update modules set name = $2, updated_at = now() where id = $1`, id, *upd.Name); err != nil {
			return rbac.Module{}, err
		}
	}
	if upd.Permissions != nil {
		if _, err := tx.ExecContext(ctx, `delete from module_permissions where module_id = $1`, id); err != nil {
			return rbac.Module{}, err
		}
		for _, permID := range *upd.Permissions {
			if _, err := tx.ExecContext(ctx, `
				insert into module_permissions (module_id, permission_id) values ($1, $2)
			`, id, permID); err != nil {
				if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
					return rbac.Module{}, fmt.Errorf("%w: permission %s", rbac.ErrNotFound, permID)
				}
				return rbac.Module{}, err
			}
		}
		if _, err := tx.ExecContext(ctx, `update modules set updated_at = now() where id = $1`, id); err != nil {
			return rbac.Module{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return rbac.Module{}, err
	}
	return s.GetModule(ctx, id)
}

// DeleteModules removes the batch and every reference to it in single
// set-membership statements rather than per-id loops.
func (s *Store) DeleteModules(ctx context.Context, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRowContext(ctx, `select count(*) from modules where id = any($1)`, ids).Scan(&count); err != nil {
		return err
	}
	if count != len(ids) {
		return fmt.Errorf("%w: one or more modules in batch", rbac.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `delete from module_permissions where module_id = any($1)`, ids); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from company_modules where module_id = any($1)`, ids); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from modules where id = any($1)`, ids); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListModules(ctx context.Context) ([]rbac.Module, error) {
	rows, err := s.db.QueryContext(ctx, `select id, name, created_at, updated_at from modules order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rbac.Module
	for rows.Next() {
		var m rbac.Module
		if err := rows.Scan(&m.ID, &m.Name, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range result {
		if result[i].Permissions, err = s.refs(ctx, `select permission_id from module_permissions where module_id = $1 order by permission_id`, result[i].ID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Store) CreateCompany(ctx context.Context, c rbac.Company) (rbac.Company, error) {
	_, err := s.db.ExecContext(ctx, `
		insert into companies (id, name, created_at, updated_at) values ($1, $2, $3, $4)
	`, c.ID, c.Name, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return rbac.Company{}, fmt.Errorf("%w: company %s", rbac.ErrConflict, c.Name)
		}
		return rbac.Company{}, err
	}
	c.Modules = []string{}
	return c, nil
}

func (s *Store) GetCompany(ctx context.Context, id string) (rbac.Company, error) {
	var c rbac.Company
	err := s.db.QueryRowContext(ctx, `
		select id, name, created_at, updated_at from companies where id = $1
	`, id).Scan(&c.ID, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Company{}, fmt.Errorf("%w: company %s", rbac.ErrNotFound, id)
	}
	if err != nil {
		return rbac.Company{}, err
	}
	if c.Modules, err = s.refs(ctx, `select module_id from company_modules where company_id = $1 order by module_id`, id); err != nil {
		return rbac.Company{}, err
	}
	return c, nil
}

// ActivateModule links the pair; on conflict do nothing makes repeats
// harmless without a pre-read.
func (s *Store) ActivateModule(ctx context.Context, companyID, moduleID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into company_modules (company_id, module_id, activated_at)
		values ($1, $2, now())
		on conflict (company_id, module_id) do nothing
	`, companyID, moduleID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return fmt.Errorf("%w: company %s or module %s", rbac.ErrNotFound, companyID, moduleID)
		}
		return err
	}
	return nil
}

func (s *Store) DeactivateModule(ctx context.Context, companyID, moduleID string) error {
	_, err := s.db.ExecContext(ctx, `
		delete from company_modules where company_id = $1 and module_id = $2
	`, companyID, moduleID)
	return err
}

func (s *Store) CompanyModules(ctx context.Context, companyID string) ([]rbac.CompanyModule, error) {
	rows, err := s.db.QueryContext(ctx, `
		select company_id, module_id, activated_at
		from company_modules where company_id = $1 order by module_id
	`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rbac.CompanyModule
	for rows.Next() {
		var cm rbac.CompanyModule
		if err := rows.Scan(&cm.CompanyID, &cm.ModuleID, &cm.ActivatedAt); err != nil {
			return nil, err
		}
		result = append(result, cm)
	}
	return result, rows.Err()
}

func (s *Store) refs(ctx context.Context, query, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []string{}
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		result = append(result, ref)
	}
	return result, rows.Err()
}
