package httpapi

import (
	"net/http"

	"hatchup.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type meResponse struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	Superuser bool     `json:"is_superuser"`
	Roles     []string `json:"roles"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.audit(r, "auth.login", map[string]string{"email": auth.NormalizeEmail(req.Email)})
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, err := a.auth.Refresh(r.Context(), req.Refresh)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id := auth.IdentityFromContext(r.Context())
	roles, err := a.roles.Roles(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		ID:        id.UserID,
		Email:     id.Email,
		Superuser: id.Superuser,
		Roles:     roles,
	})
}
