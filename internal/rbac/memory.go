package rbac

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InMemory implements Store with mutex-guarded maps. It keeps the
// denormalized back-reference arrays (Permission.AssignedRoles,
// Permission.AssignedModules, Company.Modules) consistent on every mutation,
// and validates every referenced document before the first write so a failed
// mutation leaves no partial state behind.
type InMemory struct {
	mu          sync.RWMutex
	users       map[string]*User
	usersByMail map[string]string
	perms       map[string]*Permission
	roles       map[string]*Role
	modules     map[string]*Module
	companies   map[string]*Company
	links       map[string]CompanyModule // companyID+"/"+moduleID
}

var _ Store = (*InMemory)(nil)

func NewInMemory() *InMemory {
	return &InMemory{
		users:       make(map[string]*User),
		usersByMail: make(map[string]string),
		perms:       make(map[string]*Permission),
		roles:       make(map[string]*Role),
		modules:     make(map[string]*Module),
		companies:   make(map[string]*Company),
		links:       make(map[string]CompanyModule),
	}
}

func linkKey(companyID, moduleID string) string { return companyID + "/" + moduleID }

func (s *InMemory) CreateUser(ctx context.Context, u User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usersByMail[u.Email]; ok {
		return User{}, fmt.Errorf("%w: email %s already registered", ErrConflict, u.Email)
	}
	stored := u
	s.users[u.ID] = &stored
	s.usersByMail[u.Email] = u.ID
	return u, nil
}

func (s *InMemory) GetUser(ctx context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return *u, nil
}

func (s *InMemory) GetUserByEmail(ctx context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByMail[email]
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, email)
	}
	return *s.users[id], nil
}

func (s *InMemory) SetUserRole(ctx context.Context, userID, roleLevel, roleID string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	u.RoleLevel = roleLevel
	u.RoleID = roleID
	u.UpdatedAt = time.Now().UTC()
	return *u, nil
}

func (s *InMemory) CreatePermission(ctx context.Context, p Permission) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.perms {
		if existing.Name == p.Name {
			return Permission{}, fmt.Errorf("%w: permission %s already exists", ErrConflict, p.Name)
		}
	}
	stored := p
	if stored.AssignedRoles == nil {
		stored.AssignedRoles = []string{}
	}
	if stored.AssignedModules == nil {
		stored.AssignedModules = []string{}
	}
	s.perms[p.ID] = &stored
	return stored, nil
}

func (s *InMemory) GetPermission(ctx context.Context, id string) (Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.perms[id]
	if !ok {
		return Permission{}, fmt.Errorf("%w: permission %s", ErrNotFound, id)
	}
	return copyPermission(p), nil
}

func (s *InMemory) ListPermissions(ctx context.Context) ([]Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Permission, 0, len(s.perms))
	for _, p := range s.perms {
		result = append(result, copyPermission(p))
	}
	return result, nil
}

func (s *InMemory) CreateRole(ctx context.Context, r Role) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Validate every permission reference before touching anything.
	for _, permID := range r.Permissions {
		if _, ok := s.perms[permID]; !ok {
			return Role{}, fmt.Errorf("%w: permission %s", ErrNotFound, permID)
		}
	}
	stored := r
	if stored.Permissions == nil {
		stored.Permissions = []string{}
	}
	s.roles[r.ID] = &stored
	for _, permID := range stored.Permissions {
		perm := s.perms[permID]
		perm.AssignedRoles = appendIfMissing(perm.AssignedRoles, r.ID)
	}
	return copyRole(&stored), nil
}

func (s *InMemory) GetRole(ctx context.Context, id string) (Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return Role{}, fmt.Errorf("%w: role %s", ErrNotFound, id)
	}
	return copyRole(r), nil
}

func (s *InMemory) UpdateRole(ctx context.Context, id string, upd RoleUpdate) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return Role{}, fmt.Errorf("%w: role %s", ErrNotFound, id)
	}
	if upd.Permissions != nil {
		for _, permID := range *upd.Permissions {
			if _, ok := s.perms[permID]; !ok {
				return Role{}, fmt.Errorf("%w: permission %s", ErrNotFound, permID)
			}
		}
	}
	if upd.Name != nil {
		r.Name = *upd.Name
	}
	if upd.Description != nil {
		r.Description = *upd.Description
	}
	if upd.Permissions != nil {
		// Patch both sides of the symmetric difference.
		added, removed := diffIDs(r.Permissions, *upd.Permissions)
		for _, permID := range removed {
			perm := s.perms[permID]
			perm.AssignedRoles = removeID(perm.AssignedRoles, id)
		}
		for _, permID := range added {
			perm := s.perms[permID]
			perm.AssignedRoles = appendIfMissing(perm.AssignedRoles, id)
		}
		r.Permissions = append([]string(nil), *upd.Permissions...)
	}
	r.UpdatedAt = time.Now().UTC()
	return copyRole(r), nil
}

func (s *InMemory) DeleteRole(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return fmt.Errorf("%w: role %s", ErrNotFound, id)
	}
	for _, permID := range r.Permissions {
		if perm, ok := s.perms[permID]; ok {
			perm.AssignedRoles = removeID(perm.AssignedRoles, id)
		}
	}
	for _, u := range s.users {
		if u.RoleID == id {
			u.RoleID = ""
		}
	}
	delete(s.roles, id)
	return nil
}

func (s *InMemory) ListRoles(ctx context.Context) ([]Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Role, 0, len(s.roles))
	for _, r := range s.roles {
		result = append(result, copyRole(r))
	}
	return result, nil
}

func (s *InMemory) CreateModule(ctx context.Context, m Module) (Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, permID := range m.Permissions {
		if _, ok := s.perms[permID]; !ok {
			return Module{}, fmt.Errorf("%w: permission %s", ErrNotFound, permID)
		}
	}
	stored := m
	if stored.Permissions == nil {
		stored.Permissions = []string{}
	}
	s.modules[m.ID] = &stored
	for _, permID := range stored.Permissions {
		perm := s.perms[permID]
		perm.AssignedModules = appendIfMissing(perm.AssignedModules, m.ID)
	}
	return copyModule(&stored), nil
}

func (s *InMemory) GetModule(ctx context.Context, id string) (Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modules[id]
	if !ok {
		return Module{}, fmt.Errorf("%w: module %s", ErrNotFound, id)
	}
	return copyModule(m), nil
}

func (s *InMemory) UpdateModule(ctx context.Context, id string, upd ModuleUpdate) (Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[id]
	if !ok {
		return Module{}, fmt.Errorf("%w: module %s", ErrNotFound, id)
	}
	if upd.Permissions != nil {
		for _, permID := range *upd.Permissions {
			if _, ok := s.perms[permID]; !ok {
				return Module{}, fmt.Errorf("%w: permission %s", ErrNotFound, permID)
			}
		}
	}
	if upd.Name != nil {
		m.Name = *upd.Name
	}
	if upd.Permissions != nil {
		added, removed := diffIDs(m.Permissions, *upd.Permissions)
		for _, permID := range removed {
			perm := s.perms[permID]
			perm.AssignedModules = removeID(perm.AssignedModules, id)
		}
		for _, permID := range added {
			perm := s.perms[permID]
			perm.AssignedModules = appendIfMissing(perm.AssignedModules, id)
		}
		m.Permissions = append([]string(nil), *upd.Permissions...)
	}
	m.UpdatedAt = time.Now().UTC()
	return copyModule(m), nil
}

// DeleteModules scrubs the whole batch as a set-membership filter: each
// permission, company, and join collection is walked once regardless of how
// many modules are being removed.
func (s *InMemory) DeleteModules(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doomed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := s.modules[id]; !ok {
			return fmt.Errorf("%w: module %s", ErrNotFound, id)
		}
		doomed[id] = struct{}{}
	}
	for _, perm := range s.perms {
		perm.AssignedModules = filterIDs(perm.AssignedModules, doomed)
	}
	for _, company := range s.companies {
		company.Modules = filterIDs(company.Modules, doomed)
	}
	for key, link := range s.links {
		if _, gone := doomed[link.ModuleID]; gone {
			delete(s.links, key)
		}
	}
	for id := range doomed {
		delete(s.modules, id)
	}
	return nil
}

func (s *InMemory) ListModules(ctx context.Context) ([]Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Module, 0, len(s.modules))
	for _, m := range s.modules {
		result = append(result, copyModule(m))
	}
	return result, nil
}

func (s *InMemory) CreateCompany(ctx context.Context, c Company) (Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := c
	if stored.Modules == nil {
		stored.Modules = []string{}
	}
	s.companies[c.ID] = &stored
	return copyCompany(&stored), nil
}

func (s *InMemory) GetCompany(ctx context.Context, id string) (Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.companies[id]
	if !ok {
		return Company{}, fmt.Errorf("%w: company %s", ErrNotFound, id)
	}
	return copyCompany(c), nil
}

func (s *InMemory) ActivateModule(ctx context.Context, companyID, moduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	company, ok := s.companies[companyID]
	if !ok {
		return fmt.Errorf("%w: company %s", ErrNotFound, companyID)
	}
	if _, ok := s.modules[moduleID]; !ok {
		return fmt.Errorf("%w: module %s", ErrNotFound, moduleID)
	}
	key := linkKey(companyID, moduleID)
	if _, exists := s.links[key]; exists {
		return nil
	}
	s.links[key] = CompanyModule{
		CompanyID:   companyID,
		ModuleID:    moduleID,
		ActivatedAt: time.Now().UTC(),
	}
	company.Modules = appendIfMissing(company.Modules, moduleID)
	company.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemory) DeactivateModule(ctx context.Context, companyID, moduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	company, ok := s.companies[companyID]
	if !ok {
		return fmt.Errorf("%w: company %s", ErrNotFound, companyID)
	}
	delete(s.links, linkKey(companyID, moduleID))
	company.Modules = removeID(company.Modules, moduleID)
	company.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemory) CompanyModules(ctx context.Context, companyID string) ([]CompanyModule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.companies[companyID]; !ok {
		return nil, fmt.Errorf("%w: company %s", ErrNotFound, companyID)
	}
	var result []CompanyModule
	for _, link := range s.links {
		if link.CompanyID == companyID {
			result = append(result, link)
		}
	}
	return result, nil
}

// --- helpers ---

func appendIfMissing(list []string, id string) []string {
	for _, v := range list {
		if v == id {
			return list
		}
	}
	return append(list, id)
}

func removeID(list []string, id string) []string {
	out := list[:0]
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func filterIDs(list []string, doomed map[string]struct{}) []string {
	out := list[:0]
	for _, v := range list {
		if _, gone := doomed[v]; !gone {
			out = append(out, v)
		}
	}
	return out
}

// diffIDs returns ids present only in next (added) and only in prev (removed).
func diffIDs(prev, next []string) (added, removed []string) {
	prevSet := make(map[string]struct{}, len(prev))
	for _, v := range prev {
		prevSet[v] = struct{}{}
	}
	nextSet := make(map[string]struct{}, len(next))
	for _, v := range next {
		nextSet[v] = struct{}{}
		if _, ok := prevSet[v]; !ok {
			added = append(added, v)
		}
	}
	for _, v := range prev {
		if _, ok := nextSet[v]; !ok {
			removed = append(removed, v)
		}
	}
	return added, removed
}

func copyPermission(p *Permission) Permission {
	out := *p
	out.AssignedRoles = append([]string(nil), p.AssignedRoles...)
	out.AssignedModules = append([]string(nil), p.AssignedModules...)
	return out
}

func copyRole(r *Role) Role {
	out := *r
	out.Permissions = append([]string(nil), r.Permissions...)
	return out
}

func copyModule(m *Module) Module {
	out := *m
	out.Permissions = append([]string(nil), m.Permissions...)
	return out
}

func copyCompany(c *Company) Company {
	out := *c
	out.Modules = append([]string(nil), c.Modules...)
	return out
}
