package httpapi

import (
	"net/http"
	"strings"

	"hatchup.org/internal/auth"
)

type assignRoleRequest struct {
	Role string `json:"role"`
}

type userRolesResponse struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
}

// handleUserRoles serves /v1/users/{id}/roles and /v1/users/{id}/roles/{role}.
func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] != "roles" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	userID := parts[0]

	switch len(parts) {
	case 2:
		switch r.Method {
		case http.MethodGet:
			a.listUserRoles(w, r, userID)
		case http.MethodPost:
			a.assignUserRole(w, r, userID)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
	case 3:
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		a.removeUserRole(w, r, userID, parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) listUserRoles(w http.ResponseWriter, r *http.Request, userID string) {
	roles, err := a.roles.Roles(r.Context(), auth.Identity{UserID: userID})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userRolesResponse{UserID: userID, Roles: roles})
}

func (a *API) assignUserRole(w http.ResponseWriter, r *http.Request, userID string) {
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.roles.AssignRole(r.Context(), userID, req.Role); err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.audit(r, "authz.role.assign", map[string]string{
		"target_user_id": userID,
		"role":           strings.TrimSpace(req.Role),
	})
	a.listUserRoles(w, r, userID)
}

func (a *API) removeUserRole(w http.ResponseWriter, r *http.Request, userID, role string) {
	if err := a.roles.RemoveRole(r.Context(), userID, role); err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.audit(r, "authz.role.remove", map[string]string{
		"target_user_id": userID,
		"role":           role,
	})
	w.WriteHeader(http.StatusNoContent)
}
