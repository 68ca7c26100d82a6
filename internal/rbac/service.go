package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"worklane.org/internal/auth"
	"worklane.org/internal/ids"
)

// Service is the authorization kernel. It validates input, owns the level
// check every mutating endpoint goes through, and delegates document
// persistence (including cascade maintenance) to the store.
type Service struct {
	store Store
}

func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	return &Service{store: store}, nil
}

// CheckPermission reports whether the user's role level satisfies the
// required one. Missing users, users without a role, and unrecognized role
// strings all resolve to no access. Never returns an error: authorization
// fails closed.
func (s *Service) CheckPermission(ctx context.Context, userID string, required Level) bool {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return false
	}
	level, ok := ParseLevel(user.RoleLevel)
	if !ok {
		return false
	}
	return level.Meets(required)
}

// RegisterUser creates a user with a hashed password. New users default to
// read-level access until an admin promotes them.
func (s *Service) RegisterUser(ctx context.Context, email, password, roleLevel string) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	password = strings.TrimSpace(password)
	if password == "" {
		return User{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	roleLevel = strings.TrimSpace(strings.ToLower(roleLevel))
	if roleLevel == "" {
		roleLevel = LevelRead.String()
	}
	if _, ok := ParseLevel(roleLevel); !ok {
		return User{}, fmt.Errorf("%w: unsupported role level %s", ErrInvalidInput, roleLevel)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return User{}, err
	}
	now := time.Now().UTC()
	return s.store.CreateUser(ctx, User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		RoleLevel:    roleLevel,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

// Authenticate verifies credentials against the stored hash. Both a missing
// user and a wrong password come back as ErrUnauthorized so callers cannot
// probe for registered emails.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return User{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
		}
		return User{}, err
	}
	if err := auth.VerifyPassword(user.PasswordHash, password); err != nil {
		return User{}, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}
	return user, nil
}

func (s *Service) GetUser(ctx context.Context, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.GetUser(ctx, userID)
}

// AssignRole points a user at a role document and level.
func (s *Service) AssignRole(ctx context.Context, userID, roleID string) (User, error) {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return User{}, fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return User{}, err
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	return s.store.SetUserRole(ctx, userID, user.RoleLevel, roleID)
}

// SetUserLevel changes the user's place on the privilege ladder.
func (s *Service) SetUserLevel(ctx context.Context, userID, roleLevel string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	roleLevel = strings.TrimSpace(strings.ToLower(roleLevel))
	if _, ok := ParseLevel(roleLevel); !ok {
		return User{}, fmt.Errorf("%w: unsupported role level %s", ErrInvalidInput, roleLevel)
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	return s.store.SetUserRole(ctx, userID, roleLevel, user.RoleID)
}

func (s *Service) CreatePermission(ctx context.Context, name string) (Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, fmt.Errorf("%w: permission name is required", ErrInvalidInput)
	}
	return s.store.CreatePermission(ctx, Permission{
		ID:        ids.New(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	})
}

func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

func (s *Service) CreateRole(ctx context.Context, name, description string, permissions []string, companyID string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	now := time.Now().UTC()
	return s.store.CreateRole(ctx, Role{
		ID:          ids.New(),
		Name:        name,
		Description: strings.TrimSpace(description),
		Permissions: dedupeIDs(permissions),
		CompanyID:   strings.TrimSpace(companyID),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (s *Service) GetRole(ctx context.Context, roleID string) (Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Role{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.GetRole(ctx, roleID)
}

func (s *Service) UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Role{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		upd.Description = &desc
	}
	if upd.Permissions != nil {
		perms := dedupeIDs(*upd.Permissions)
		upd.Permissions = &perms
	}
	return s.store.UpdateRole(ctx, roleID, upd)
}

func (s *Service) DeleteRole(ctx context.Context, roleID string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.DeleteRole(ctx, roleID)
}

func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

func (s *Service) CreateModule(ctx context.Context, name string, permissions []string) (Module, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Module{}, fmt.Errorf("%w: module name is required", ErrInvalidInput)
	}
	now := time.Now().UTC()
	return s.store.CreateModule(ctx, Module{
		ID:          ids.New(),
		Name:        name,
		Permissions: dedupeIDs(permissions),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (s *Service) UpdateModule(ctx context.Context, moduleID string, upd ModuleUpdate) (Module, error) {
	moduleID = strings.TrimSpace(moduleID)
	if moduleID == "" {
		return Module{}, fmt.Errorf("%w: module_id is required", ErrInvalidInput)
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Module{}, fmt.Errorf("%w: module name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.Permissions != nil {
		perms := dedupeIDs(*upd.Permissions)
		upd.Permissions = &perms
	}
	return s.store.UpdateModule(ctx, moduleID, upd)
}

// DeleteModules removes a batch of modules and scrubs their ids from every
// permission back-reference, company modules array, and join record in one
// pass over each affected collection.
func (s *Service) DeleteModules(ctx context.Context, moduleIDs []string) error {
	cleaned := dedupeIDs(moduleIDs)
	if len(cleaned) == 0 {
		return fmt.Errorf("%w: at least one module id is required", ErrInvalidInput)
	}
	return s.store.DeleteModules(ctx, cleaned)
}

func (s *Service) ListModules(ctx context.Context) ([]Module, error) {
	return s.store.ListModules(ctx)
}

func (s *Service) CreateCompany(ctx context.Context, name string) (Company, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Company{}, fmt.Errorf("%w: company name is required", ErrInvalidInput)
	}
	now := time.Now().UTC()
	return s.store.CreateCompany(ctx, Company{
		ID:        ids.New(),
		Name:      name,
		Modules:   []string{},
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (s *Service) GetCompany(ctx context.Context, companyID string) (Company, error) {
	companyID = strings.TrimSpace(companyID)
	if companyID == "" {
		return Company{}, fmt.Errorf("%w: company_id is required", ErrInvalidInput)
	}
	return s.store.GetCompany(ctx, companyID)
}

// ActivateModuleForCompany links the pair. Repeat calls succeed without
// creating duplicate join records.
func (s *Service) ActivateModuleForCompany(ctx context.Context, companyID, moduleID string) error {
	companyID = strings.TrimSpace(companyID)
	moduleID = strings.TrimSpace(moduleID)
	if companyID == "" || moduleID == "" {
		return fmt.Errorf("%w: company_id and module_id are required", ErrInvalidInput)
	}
	return s.store.ActivateModule(ctx, companyID, moduleID)
}

// DeactivateModuleForCompany unlinks the pair; a missing link is not an error.
func (s *Service) DeactivateModuleForCompany(ctx context.Context, companyID, moduleID string) error {
	companyID = strings.TrimSpace(companyID)
	moduleID = strings.TrimSpace(moduleID)
	if companyID == "" || moduleID == "" {
		return fmt.Errorf("%w: company_id and module_id are required", ErrInvalidInput)
	}
	return s.store.DeactivateModule(ctx, companyID, moduleID)
}

func dedupeIDs(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
