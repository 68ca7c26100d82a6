package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"worklane.org/internal/audit"
	"worklane.org/internal/rbac"
)

type registerUserRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	RoleLevel string `json:"role_level"`
}

type createPermissionRequest struct {
	Name string `json:"name"`
}

type createRoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
	CompanyID   string   `json:"company_id"`
}

type updateRoleRequest struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	Permissions *[]string `json:"permissions"`
}

type createModuleRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

type updateModuleRequest struct {
	Name        *string   `json:"name"`
	Permissions *[]string `json:"permissions"`
}

type deleteModulesRequest struct {
	IDs []string `json:"ids"`
}

type createCompanyRequest struct {
	Name string `json:"name"`
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	// Self-registration never grants more than read. An authenticated admin
	// may register a user at any level.
	level := rbac.LevelRead.String()
	if req.RoleLevel != "" && req.RoleLevel != level {
		if _, ok := a.requireLevel(w, r, rbac.LevelAdmin); !ok {
			return
		}
		level = req.RoleLevel
	}
	user, err := a.rbac.RegisterUser(r.Context(), req.Email, req.Password, level)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.register", map[string]any{"user_id": user.ID})
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", user.ID))
	writeJSON(w, http.StatusCreated, user)
}

type updateUserRequest struct {
	RoleID    *string `json:"role_id"`
	RoleLevel *string `json:"role_level"`
}

// handleUserResource lets an admin inspect a user or move them on the
// privilege ladder / attach a role document.
func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	userID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if userID == "" || strings.Contains(userID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if _, ok := a.requireLevel(w, r, rbac.LevelAdmin); !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		user, err := a.rbac.GetUser(r.Context(), userID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPut:
		var req updateUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		var (
			user rbac.User
			err  error
		)
		switch {
		case req.RoleID != nil:
			user, err = a.rbac.AssignRole(r.Context(), userID, *req.RoleID)
		case req.RoleLevel != nil:
			user, err = a.rbac.SetUserLevel(r.Context(), userID, *req.RoleLevel)
		default:
			writeError(w, r, http.StatusBadRequest, "role_id or role_level is required")
			return
		}
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "user.role.assign", map[string]any{
			"user_id":    userID,
			"role_level": user.RoleLevel,
		})
		writeJSON(w, http.StatusOK, user)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if _, ok := a.requireLevel(w, r, rbac.LevelAdmin); !ok {
			return
		}
		var req createPermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		perm, err := a.rbac.CreatePermission(r.Context(), req.Name)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "permission.create", map[string]any{"permission_id": perm.ID, "name": perm.Name})
		writeJSON(w, http.StatusCreated, perm)
	case http.MethodGet:
		if _, ok := a.requireLevel(w, r, rbac.LevelRead); !ok {
			return
		}
		perms, err := a.rbac.ListPermissions(r.Context())
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if _, ok := a.requireLevel(w, r, rbac.LevelAdmin); !ok {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.rbac.CreateRole(r.Context(), req.Name, req.Description, req.Permissions, req.CompanyID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "role.create", map[string]any{"role_id": role.ID, "name": role.Name})
		w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
		writeJSON(w, http.StatusCreated, role)
	case http.MethodGet:
		if _, ok := a.requireLevel(w, r, rbac.LevelRead); !ok {
			return
		}
		roles, err := a.rbac.ListRoles(r.Context())
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	roleID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	if roleID == "" || strings.Contains(roleID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.requireLevel(w, r, rbac.LevelRead); !ok {
			return
		}
		role, err := a.rbac.GetRole(r.Context(), roleID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case http.MethodPut:
		if _, ok := a.requireLevel(w, r, rbac.LevelAdmin); !ok {
			return
		}
		var req updateRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.rbac.UpdateRole(r.Context(), roleID, rbac.RoleUpdate{
			Name:        req.Name,
			Description: req.Description,
			Permissions: req.Permissions,
		})
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "role.update", map[string]any{"role_id": roleID})
		writeJSON(w, http.StatusOK, role)
	case http.MethodDelete:
		if _, ok := a.requireLevel(w, r, rbac.LevelAdmin); !ok {
			return
		}
		if err := a.rbac.DeleteRole(r.Context(), roleID); err != nil {
			handleRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "role.delete", map[string]any{"role_id": roleID})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleModules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if _, ok := a.requireLevel(w, r, rbac.LevelAdmin); !ok {
			return
		}
		var req createModuleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		module, err := a.rbac.CreateModule(r.Context(), req.Name, req.Permissions)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "module.create", map[string]any{"module_id": module.ID, "name": module.Name})
		w.Header().Set("Location", fmt.Sprintf("/v1/modules/%s", module.ID))
		writeJSON(w, http.StatusCreated, module)
	case http.MethodGet:
		if _, ok := a.requireLevel(w, r, rbac.LevelRead); !ok {
			return
		}
		modules, err := a.rbac.ListModules(r.Context())
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"modules": modules})
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

// handleModulesDelete is the bulk delete: one set-membership cascade over
// permissions, companies, and join records instead of per-id loops.
func (a *API) handleModulesDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.requireLevel(w, r, rbac.LevelAdmin); !ok {
		return
	}
	var req deleteModulesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.rbac.DeleteModules(r.Context(), req.IDs); err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "module.bulk_delete", map[string]any{"count": len(req.IDs)})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleModuleResource(w http.ResponseWriter, r *http.Request) {
	moduleID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/modules/"), "/")
	if moduleID == "" || strings.Contains(moduleID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if _, ok := a.requireLevel(w, r, rbac.LevelAdmin); !ok {
		return
	}
	var req updateModuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	module, err := a.rbac.UpdateModule(r.Context(), moduleID, rbac.ModuleUpdate{
		Name:        req.Name,
		Permissions: req.Permissions,
	})
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "module.update", map[string]any{"module_id": moduleID})
	writeJSON(w, http.StatusOK, module)
}

func (a *API) handleCompanies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.requireLevel(w, r, rbac.LevelAdmin); !ok {
		return
	}
	var req createCompanyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	company, err := a.rbac.CreateCompany(r.Context(), req.Name)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "company.create", map[string]any{"company_id": company.ID, "name": company.Name})
	w.Header().Set("Location", fmt.Sprintf("/v1/companies/%s", company.ID))
	writeJSON(w, http.StatusCreated, company)
}

// handleCompanyResource routes /v1/companies/{id} and
// /v1/companies/{id}/modules/{moduleID}.
func (a *API) handleCompanyResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/companies/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		if _, ok := a.requireLevel(w, r, rbac.LevelRead); !ok {
			return
		}
		company, err := a.rbac.GetCompany(r.Context(), parts[0])
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, company)
	case len(parts) == 3 && parts[1] == "modules":
		companyID, moduleID := parts[0], parts[2]
		switch r.Method {
		case http.MethodPut:
			if _, ok := a.requireLevel(w, r, rbac.LevelAdmin); !ok {
				return
			}
			if err := a.rbac.ActivateModuleForCompany(r.Context(), companyID, moduleID); err != nil {
				handleRBACError(w, r, err)
				return
			}
			_ = audit.LogEvent(r.Context(), "company.module.activate", map[string]any{
				"company_id": companyID,
				"module_id":  moduleID,
			})
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			if _, ok := a.requireLevel(w, r, rbac.LevelAdmin); !ok {
				return
			}
			if err := a.rbac.DeactivateModuleForCompany(r.Context(), companyID, moduleID); err != nil {
				handleRBACError(w, r, err)
				return
			}
			_ = audit.LogEvent(r.Context(), "company.module.deactivate", map[string]any{
				"company_id": companyID,
				"module_id":  moduleID,
			})
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
		}
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func handleRBACError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rbac.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, rbac.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, rbac.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, rbac.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "operation failed")
	}
}
