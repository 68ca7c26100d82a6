package rbac

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("rbac: not found")
	ErrConflict     = errors.New("rbac: resource conflict")
	ErrInvalidInput = errors.New("rbac: invalid input")
	ErrUnauthorized = errors.New("rbac: unauthorized")
)

// User is a principal. Permissions are never held on the user directly:
// authorization resolves through the role level, and RoleID only links the
// user to a permission-bearing Role document.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	RoleLevel    string    `json:"role_level,omitempty"`
	RoleID       string    `json:"role_id,omitempty"`
	CompanyID    string    `json:"company_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Role groups permission references. CompanyID is empty for global roles.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Permissions []string  `json:"permissions"`
	CompanyID   string    `json:"company_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission carries denormalized back-references to every role and module
// that points at it. The store keeps both sides consistent on every mutation;
// nothing at the storage level enforces it.
type Permission struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	AssignedRoles   []string  `json:"assigned_roles"`
	AssignedModules []string  `json:"assigned_modules"`
	CreatedAt       time.Time `json:"created_at"`
}

// Module is an activatable feature area holding forward permission references.
type Module struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Company is a tenant. Modules mirrors the company_modules join records and
// must stay in lockstep with them on activate/deactivate/delete.
type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Modules   []string  `json:"modules"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CompanyModule links a company to an activated module.
type CompanyModule struct {
	CompanyID   string    `json:"company_id"`
	ModuleID    string    `json:"module_id"`
	ActivatedAt time.Time `json:"activated_at"`
}

// RoleUpdate carries optional role field changes.
type RoleUpdate struct {
	Name        *string
	Description *string
	Permissions *[]string
}

// ModuleUpdate carries optional module field changes.
type ModuleUpdate struct {
	Name        *string
	Permissions *[]string
}
