package main

import (
	"encoding/json"
	"errors"
	"net/http"
)

// HandleListRoles lists every known authority.
// GET /api/roles
func (a *App) HandleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.DB.ListRoles()
	if err != nil {
		a.Log.Error("listing roles failed", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
		return
	}
	out := make([]map[string]interface{}, 0, len(roles))
	for _, role := range roles {
		out = append(out, map[string]interface{}{
			"id":   role.ID,
			"name": string(role.Name),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleCreateRole creates an authority. The name is free text on the wire
// but must parse into the closed role enumeration.
// POST /api/roles
func (a *App) HandleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	name, err := ParseRoleName(req.Name)
	if err != nil {
		writeError(w, http.StatusBadRequest, "UNKNOWN_ROLE", "Unknown role name")
		return
	}

	role, err := a.DB.CreateRole(name)
	if err != nil {
		var dup *DuplicateError
		if errors.As(err, &dup) {
			writeError(w, http.StatusConflict, "ROLE_EXISTS", "Role already exists")
			return
		}
		a.Log.Error("role creation failed", "role", string(name), "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
		return
	}

	writeSuccess(w, http.StatusCreated, map[string]interface{}{
		"id":   role.ID,
		"name": string(role.Name),
	})
}

// HandleAssignRole grants an authority to an account. The join-table upsert
// makes a repeated or concurrent assignment a no-op.
// POST /api/user-roles
func (a *App) HandleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.Username == "" || req.Role == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Username and role are required")
		return
	}

	name, err := ParseRoleName(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, "UNKNOWN_ROLE", "Unknown role name")
		return
	}

	user, err := a.DB.GetUserByUsername(req.Username)
	if err != nil {
		a.Log.Error("user lookup failed", "username", req.Username, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
		return
	}

	role, err := a.DB.GetRoleByName(name)
	if err != nil {
		a.Log.Error("role lookup failed", "role", string(name), "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
		return
	}
	if role == nil {
		writeError(w, http.StatusNotFound, "ROLE_NOT_FOUND", "Role not found")
		return
	}

	if err := a.DB.AssignRole(user.ID, role.ID); err != nil {
		a.Log.Error("role assignment failed", "username", req.Username, "role", string(name), "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
		return
	}

	writeSuccess(w, http.StatusOK, map[string]string{
		"username": user.Username,
		"role":     string(role.Name),
	})
}
