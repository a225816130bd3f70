package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ibn-api/authcore"
	"github.com/ibn-api/authcore/identity"
	"github.com/ibn-api/authcore/middleware"
)

const maxBodyBytes = 64 << 10

var errBadRequest = errors.New("malformed request body")

type server struct {
	engine *authcore.Engine
	logger *slog.Logger
}

// routes builds the HTTP surface. login wraps the login and refresh handlers,
// usually with a per-IP limiter. metrics may be nil.
func (s *server) routes(login func(http.Handler) http.Handler, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(pub chi.Router) {
			if login != nil {
				pub.Use(login)
			}
			pub.Post("/auth/login", s.handleLogin)
			pub.Post("/auth/refresh", s.handleRefresh)
		})

		v1.Group(func(auth chi.Router) {
			auth.Use(middleware.Authenticate(s.engine))

			auth.Post("/auth/logout", s.handleLogout)
			auth.Get("/me", s.handleMe)
			auth.Put("/me/password", s.handleChangePassword)
			auth.Get("/me/sessions", s.handleListSessions)
			auth.Delete("/me/sessions", s.handleLogoutAll)
			auth.Delete("/me/sessions/{sessionID}", s.handleRevokeSession)

			auth.With(middleware.RequireCapability(s.engine, "roles", "read")).Get("/roles", s.handleListRoles)
			auth.With(middleware.RequireCapability(s.engine, "roles", "read")).Get("/roles/manageable", s.handleManageableRoles)
			auth.With(middleware.RequireCapability(s.engine, "roles", "read")).Get("/permissions", s.handleListPermissions)
			auth.With(middleware.RequireCapability(s.engine, "roles", "create")).Post("/roles", s.handleCreateRole)
			auth.With(middleware.RequireCapability(s.engine, "roles", "delete")).Delete("/roles/{role}", s.handleDeleteRole)
			auth.With(middleware.RequireCapability(s.engine, "roles", "update")).Put("/roles/{role}/permissions", s.handleSetRolePermissions)

			auth.With(middleware.RequireCapability(s.engine, "users", "read")).Get("/identities", s.handleListIdentities)
			auth.With(middleware.RequireCapability(s.engine, "users", "create")).Post("/identities", s.handleCreateIdentity)
			auth.With(middleware.RequireCapability(s.engine, "users", "read")).Get("/identities/{id}", s.handleGetIdentity)
			auth.With(middleware.RequireCapability(s.engine, "users", "assign")).Put("/identities/{id}/role", s.handleAssignRole)
			auth.With(middleware.RequireCapability(s.engine, "users", "update")).Put("/identities/{id}/status", s.handleSetStatus)
			auth.With(middleware.RequireCapability(s.engine, "users", "update")).Post("/identities/{id}/unlock", s.handleUnlock)
		})
	})
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.engine.Health(r.Context())
	status := http.StatusOK
	if !h.RedisAvailable {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"redis":         h.RedisAvailable,
		"redis_latency": h.RedisLatency.String(),
		"audit_dropped": s.engine.AuditDropped(),
	})
}

type loginBody struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string                   `json:"access_token"`
	RefreshToken string                   `json:"refresh_token"`
	TokenType    string                   `json:"token_type"`
	ExpiresIn    int64                    `json:"expires_in"`
	SessionID    string                   `json:"session_id,omitempty"`
	Identity     *authcore.PublicIdentity `json:"identity,omitempty"`
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if !decode(w, r, &body) {
		return
	}
	res, err := s.engine.Login(r.Context(), authcore.LoginRequest{
		Identifier: body.Identifier,
		Secret:     body.Password,
		ClientIP:   middleware.ClientIP(r),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    res.ExpiresIn,
		SessionID:    res.SessionID,
		Identity:     &res.Identity,
	})
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decode(w, r, &body) {
		return
	}
	res, err := s.engine.Refresh(middleware.ClientContext(r), body.RefreshToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    res.ExpiresIn,
	})
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.BearerToken(r.Header.Get("Authorization"))
	outcome, err := s.engine.Logout(r.Context(), token)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": outcome.String()})
}

func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	summary, err := s.engine.PermissionSummary(r.Context(), p.IdentityID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identity_id": p.IdentityID,
		"session_id":  p.SessionID,
		"username":    p.Username,
		"email":       p.Email,
		"role":        p.RoleName,
		"suspicious":  p.Suspicious,
		"expires_at":  p.ExpiresAt,
		"permissions": summary,
	})
}

func (s *server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if !decode(w, r, &body) {
		return
	}
	p := principal(r)
	if err := s.engine.ChangePassword(middleware.ClientContext(r), p.IdentityID, body.OldPassword, body.NewPassword); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.ListSessions(r.Context(), principal(r).IdentityID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RevokeSession(r.Context(), principal(r).IdentityID, chi.URLParam(r, "sessionID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.LogoutAll(r.Context(), principal(r).IdentityID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"invalidated": n})
}

func (s *server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.engine.ListRoles(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roles)
}

func (s *server) handleManageableRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.engine.ManageableRoles(r.Context(), principal(r).IdentityID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roles)
}

func (s *server) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := s.engine.ListPermissions(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perms)
}

func (s *server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string   `json:"name"`
		DisplayName string   `json:"display_name"`
		Description string   `json:"description"`
		Permissions []string `json:"permissions"`
	}
	if !decode(w, r, &body) {
		return
	}
	role, err := s.engine.CreateRole(r.Context(), principal(r).IdentityID, authcore.RoleSpec{
		Name:        body.Name,
		DisplayName: body.DisplayName,
		Description: body.Description,
		Permissions: body.Permissions,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

func (s *server) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteRole(r.Context(), principal(r).IdentityID, chi.URLParam(r, "role")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSetRolePermissions(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Permissions []string `json:"permissions"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := s.engine.SetRolePermissions(r.Context(), principal(r).IdentityID, chi.URLParam(r, "role"), body.Permissions); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleListIdentities(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.ListIdentities(r.Context(), principal(r).IdentityID, r.URL.Query().Get("role"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *server) handleCreateIdentity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
		Status   string `json:"status"`
	}
	if !decode(w, r, &body) {
		return
	}
	created, err := s.engine.CreateIdentity(r.Context(), principal(r).IdentityID, authcore.IdentitySpec{
		Username: body.Username,
		Email:    body.Email,
		Password: body.Password,
		Role:     body.Role,
		Status:   identity.Status(body.Status),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *server) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	id, err := s.engine.GetIdentity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, id)
}

func (s *server) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role string `json:"role"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := s.engine.AssignRole(r.Context(), principal(r).IdentityID, chi.URLParam(r, "id"), body.Role); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if !decode(w, r, &body) {
		return
	}
	err := s.engine.SetAccountStatus(r.Context(), principal(r).IdentityID, chi.URLParam(r, "id"), identity.Status(body.Status))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.UnlockAccount(r.Context(), principal(r).IdentityID, chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail writes err with its mapped status. Unexpected failures are logged; the
// response only carries the public message.
func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := middleware.StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", chimw.GetReqID(r.Context()),
			"error", err,
		)
	}
	middleware.WriteError(w, status, err)
}

func principal(r *http.Request) *authcore.Principal {
	p, _ := middleware.PrincipalFromContext(r.Context())
	return p
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"code":    "bad_request",
			"message": errBadRequest.Error(),
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
