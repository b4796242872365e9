package gatehouse

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gatehouse/gatehouse/server"
	"github.com/gatehouse/gatehouse/storage"
)

// registerAdminRoutes wires the admin API. Every route runs behind
// requireAdmin.
func (h *Handler) registerAdminRoutes(mux *http.ServeMux) {
	admin := func(fn http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !h.checkRateLimit(w, r) {
				return
			}
			if !h.requireAdmin(w, r) {
				return
			}
			fn(w, r)
		}
	}

	mux.HandleFunc("POST /api/admin/app", admin(h.handleCreateApp))
	mux.HandleFunc("GET /api/admin/app", admin(h.handleListApps))
	mux.HandleFunc("POST /api/admin/app/{uuid}/rename", admin(h.handleRenameApp))
	mux.HandleFunc("POST /api/admin/app/{uuid}/redirects", admin(h.handleAppRedirects))
	mux.HandleFunc("POST /api/admin/app/{uuid}/regenerate", admin(h.handleRegenerateSecret))
	mux.HandleFunc("POST /api/admin/app/{uuid}/delete", admin(h.handleDeleteApp))

	mux.HandleFunc("POST /api/admin/scope", admin(h.handleCreateScope))
	mux.HandleFunc("GET /api/admin/scope", admin(h.handleListScopes))
	mux.HandleFunc("POST /api/admin/scope/delete", admin(h.handleDeleteScope))

	mux.HandleFunc("POST /api/admin/add", admin(h.handleAddAdmin))
	mux.HandleFunc("POST /api/admin/remove", admin(h.handleRemoveAdmin))
}

// requireAdmin authorizes an admin request: the bearer token must
// belong to an admin user.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	raw, ok := h.bearerToken(w, r)
	if !ok {
		return false
	}
	isAdmin, err := h.server.IsAdmin(r.Context(), raw)
	if err != nil {
		h.writeError(w, err)
		return false
	}
	if !isAdmin {
		h.writeJSON(w, http.StatusForbidden, AdminResponse{
			Success: false,
			Error:   "admin privileges required",
		})
		return false
	}
	return true
}

// writeAdminError writes a failed admin response, keeping protocol
// rejections as the error text and hiding internal errors.
func (h *Handler) writeAdminError(w http.ResponseWriter, err error) {
	var rejection *server.Rejection
	if errors.As(err, &rejection) {
		h.writeJSON(w, statusForCode(rejection.Code), AdminResponse{
			Success: false,
			Error:   rejection.Description,
		})
		return
	}
	if errors.Is(err, storage.ErrValidation) {
		h.writeJSON(w, http.StatusBadRequest, AdminResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}
	if errors.Is(err, storage.ErrClientNotFound) || errors.Is(err, storage.ErrScopeNotFound) {
		h.writeJSON(w, http.StatusNotFound, AdminResponse{
			Success: false,
			Error:   "not found",
		})
		return
	}

	h.logger.Error("Admin operation failed", "error", err)
	h.writeJSON(w, http.StatusInternalServerError, AdminResponse{
		Success: false,
		Error:   "internal error",
	})
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		h.writeJSON(w, http.StatusBadRequest, AdminResponse{
			Success: false,
			Error:   "malformed JSON body",
		})
		return false
	}
	return true
}

func (h *Handler) handleCreateApp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name         string   `json:"name"`
		RedirectURIs []string `json:"redirect_uris"`
		Public       bool     `json:"public"`
	}
	if !h.decodeBody(w, r, &body) {
		return
	}

	client, secret, err := h.server.RegisterClient(r.Context(), body.Name, body.RedirectURIs, body.Public, h.clientIP(r))
	if err != nil {
		h.writeAdminError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ClientResponse{
		UUID:         client.UUID,
		ClientID:     client.ClientID,
		ClientSecret: secret,
		Name:         client.Name,
		RedirectURIs: client.RedirectURIs,
		Public:       client.Public,
	})
}

func (h *Handler) handleListApps(w http.ResponseWriter, r *http.Request) {
	clients, err := h.server.ListClients(r.Context())
	if err != nil {
		h.writeAdminError(w, err)
		return
	}
	out := make([]ClientResponse, 0, len(clients))
	for _, c := range clients {
		out = append(out, ClientResponse{
			UUID:         c.UUID,
			ClientID:     c.ClientID,
			Name:         c.Name,
			RedirectURIs: c.RedirectURIs,
			Public:       c.Public,
		})
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleRenameApp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if !h.decodeBody(w, r, &body) {
		return
	}
	if err := h.server.RenameClient(r.Context(), r.PathValue("uuid"), body.Name); err != nil {
		h.writeAdminError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, AdminResponse{Success: true})
}

func (h *Handler) handleAppRedirects(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RedirectURIs []string `json:"redirect_uris"`
	}
	if !h.decodeBody(w, r, &body) {
		return
	}
	if err := h.server.UpdateRedirectURIs(r.Context(), r.PathValue("uuid"), body.RedirectURIs); err != nil {
		h.writeAdminError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, AdminResponse{Success: true})
}

func (h *Handler) handleRegenerateSecret(w http.ResponseWriter, r *http.Request) {
	secret, err := h.server.RegenerateSecret(r.Context(), r.PathValue("uuid"))
	if err != nil {
		h.writeAdminError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"client_secret": secret,
	})
}

func (h *Handler) handleDeleteApp(w http.ResponseWriter, r *http.Request) {
	revoked, err := h.server.DeleteClient(r.Context(), r.PathValue("uuid"), h.clientIP(r))
	if err != nil {
		h.writeAdminError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"revoked": revoked,
	})
}

func (h *Handler) handleCreateScope(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name      string             `json:"name"`
		Question  string             `json:"question"`
		Type      string             `json:"type"`
		Validator *storage.Validator `json:"validator"`
		Icon      string             `json:"icon"`
	}
	if !h.decodeBody(w, r, &body) {
		return
	}

	err := h.server.DefineScope(r.Context(), &server.ScopeInput{
		Name:      body.Name,
		Question:  body.Question,
		Type:      body.Type,
		Validator: body.Validator,
		Icon:      body.Icon,
	}, h.clientIP(r))
	if err != nil {
		h.writeAdminError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, AdminResponse{Success: true})
}

func (h *Handler) handleListScopes(w http.ResponseWriter, r *http.Request) {
	scopes, err := h.server.ListScopes(r.Context())
	if err != nil {
		h.writeAdminError(w, err)
		return
	}
	out := make([]ScopeResponse, 0, len(scopes))
	for _, sc := range scopes {
		out = append(out, ScopeResponse{
			Name:     sc.Name,
			Question: sc.Question,
			Type:     sc.Type,
			Icon:     sc.Icon,
		})
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleDeleteScope(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if !h.decodeBody(w, r, &body) {
		return
	}
	if err := h.server.DeleteScope(r.Context(), body.Name); err != nil {
		h.writeAdminError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, AdminResponse{Success: true})
}

func (h *Handler) handleAddAdmin(w http.ResponseWriter, r *http.Request) {
	h.setAdminFlag(w, r, true)
}

func (h *Handler) handleRemoveAdmin(w http.ResponseWriter, r *http.Request) {
	h.setAdminFlag(w, r, false)
}

func (h *Handler) setAdminFlag(w http.ResponseWriter, r *http.Request, admin bool) {
	var body struct {
		Email string `json:"email"`
	}
	if !h.decodeBody(w, r, &body) {
		return
	}
	if err := h.server.SetAdmin(r.Context(), body.Email, admin); err != nil {
		h.writeAdminError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, AdminResponse{Success: true})
}
