package rbac

import "context"

// Store describes persistence for the authorization documents. Every mutation
// that touches more than one document (role/permission back-references, module
// cascades, company activation) is atomic within a single implementation:
// the in-memory store serializes on its mutex, the Postgres store uses
// transactions. Reference validation happens before any write.
type Store interface {
	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	SetUserRole(ctx context.Context, userID, roleLevel, roleID string) (User, error)

	CreatePermission(ctx context.Context, p Permission) (Permission, error)
	GetPermission(ctx context.Context, id string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)

	CreateRole(ctx context.Context, r Role) (Role, error)
	GetRole(ctx context.Context, id string) (Role, error)
	UpdateRole(ctx context.Context, id string, upd RoleUpdate) (Role, error)
	DeleteRole(ctx context.Context, id string) error
	ListRoles(ctx context.Context) ([]Role, error)

	CreateModule(ctx context.Context, m Module) (Module, error)
	GetModule(ctx context.Context, id string) (Module, error)
	UpdateModule(ctx context.Context, id string, upd ModuleUpdate) (Module, error)
	DeleteModules(ctx context.Context, ids []string) error
	ListModules(ctx context.Context) ([]Module, error)

	CreateCompany(ctx context.Context, c Company) (Company, error)
	GetCompany(ctx context.Context, id string) (Company, error)
	ActivateModule(ctx context.Context, companyID, moduleID string) error
	DeactivateModule(ctx context.Context, companyID, moduleID string) error
	CompanyModules(ctx context.Context, companyID string) ([]CompanyModule, error)
}
