package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	storesservice "github.com/vendora-io/vendora-platform/domains/stores/be/service"
	"github.com/vendora-io/vendora-platform/domains/tenantdb/be/credentials"
	"github.com/vendora-io/vendora-platform/domains/tenantdb/be/health"
	"github.com/vendora-io/vendora-platform/domains/tenantdb/be/provisioning"
	"github.com/vendora-io/vendora-platform/domains/tenantdb/be/router"
	"github.com/vendora-io/vendora-platform/platform/go/events"
	platformlogging "github.com/vendora-io/vendora-platform/platform/go/logging"
)

// adminHandler exposes the store lifecycle operations to the operator
// surface. Authentication sits in front of this router at the edge.
type adminHandler struct {
	stores    *storesservice.Service
	vault     *credentials.Store
	router    *router.Router
	pipeline  *provisioning.Pipeline
	monitor   *health.Monitor
	pending   *provisioning.PendingStore
	publisher events.Publisher
	logger    *zap.Logger
}

func newAdminHandler(
	stores *storesservice.Service,
	vault *credentials.Store,
	connRouter *router.Router,
	pipeline *provisioning.Pipeline,
	monitor *health.Monitor,
	pending *provisioning.PendingStore,
	publisher events.Publisher,
	logger *zap.Logger,
) *adminHandler {
	return &adminHandler{
		stores:    stores,
		vault:     vault,
		router:    connRouter,
		pipeline:  pipeline,
		monitor:   monitor,
		pending:   pending,
		publisher: publisher,
		logger:    logger,
	}
}

func (h *adminHandler) routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/stores", h.createStore)
	r.Get("/stores", h.listStores)
	r.Route("/stores/{storeID}", func(r chi.Router) {
		r.Get("/", h.getStore)
		r.Delete("/", h.deleteStore)
		r.Post("/publish", h.setPublished)
		r.Post("/database/session", h.startConnectSession)
		r.Post("/database", h.connectDatabase)
		r.Delete("/database", h.deleteDatabase)
		r.Post("/reprovision", h.reprovision)
		r.Get("/health", h.checkHealth)
	})
	return r
}

type storeResponse struct {
	ID          uuid.UUID `json:"id"`
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	IsActive    bool      `json:"is_active"`
	IsPublished bool      `json:"is_published"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toStoreResponse(s storesservice.Store) storeResponse {
	return storeResponse{
		ID:          s.ID,
		Slug:        s.Slug,
		Name:        s.Name,
		Status:      string(s.Status),
		IsActive:    s.IsActive,
		IsPublished: s.IsPublished,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func (h *adminHandler) createStore(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Slug        string    `json:"slug"`
		Name        string    `json:"name"`
		OwnerUserID uuid.UUID `json:"owner_user_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	store, err := h.stores.Create(r.Context(), storesservice.CreateInput{
		Slug:        body.Slug,
		Name:        body.Name,
		OwnerUserID: body.OwnerUserID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStoreResponse(store))
}

func (h *adminHandler) listStores(w http.ResponseWriter, r *http.Request) {
	opts := storesservice.ListOptions{
		Page:     queryInt(r, "page", 1),
		PageSize: queryInt(r, "page_size", 20),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := storesservice.StatusFromString(raw)
		opts.Status = &status
	}

	result, err := h.stores.List(r.Context(), opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]storeResponse, 0, len(result.Stores))
	for _, s := range result.Stores {
		items = append(items, toStoreResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stores":      items,
		"page":        result.Page,
		"page_size":   result.PageSize,
		"total_items": result.TotalItems,
		"total_pages": result.TotalPages,
	})
}

func (h *adminHandler) getStore(w http.ResponseWriter, r *http.Request) {
	storeID, ok := pathStoreID(w, r)
	if !ok {
		return
	}
	store, err := h.stores.Get(r.Context(), storeID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStoreResponse(store))
}

func (h *adminHandler) setPublished(w http.ResponseWriter, r *http.Request) {
	storeID, ok := pathStoreID(w, r)
	if !ok {
		return
	}
	var body struct {
		Published bool `json:"published"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	store, err := h.stores.SetPublished(r.Context(), storeID, body.Published)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStoreResponse(store))
}

// startConnectSession stashes handshake state before the owner is redirected
// to the authorization gateway; the returned state doubles as the OAuth state
// parameter and is consumed exactly once by the connect call.
func (h *adminHandler) startConnectSession(w http.ResponseWriter, r *http.Request) {
	storeID, ok := pathStoreID(w, r)
	if !ok {
		return
	}
	if _, err := h.stores.Get(r.Context(), storeID); err != nil {
		h.writeError(w, r, err)
		return
	}

	var body struct {
		ProjectRef string `json:"project_ref"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	state, err := h.pending.Stash(r.Context(), provisioning.PendingConnect{
		StoreID:    storeID,
		ProjectRef: body.ProjectRef,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"state": state})
}

type tokenBody struct {
	AccessToken string    `json:"access_token"`
	Expiry      time.Time `json:"expiry"`
}

func (t *tokenBody) toToken() *oauth2.Token {
	if t == nil || t.AccessToken == "" {
		return nil
	}
	return &oauth2.Token{AccessToken: t.AccessToken, Expiry: t.Expiry}
}

func (h *adminHandler) connectDatabase(w http.ResponseWriter, r *http.Request) {
	storeID, ok := pathStoreID(w, r)
	if !ok {
		return
	}

	var body struct {
		Kind       string                       `json:"kind"`
		Params     credentials.ConnectionParams `json:"params"`
		Token      *tokenBody                   `json:"token"`
		State      string                       `json:"state"`
		ProjectRef string                       `json:"project_ref"`
		AdminEmail string                       `json:"admin_email"`
		AdminName  string                       `json:"admin_name"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	projectRef := body.ProjectRef
	if body.State != "" {
		pending, err := h.pending.Take(r.Context(), body.State)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if pending.StoreID != storeID {
			h.writeError(w, r, provisioning.ErrPendingNotFound)
			return
		}
		if projectRef == "" {
			projectRef = pending.ProjectRef
		}
	}

	run, err := h.pipeline.ConnectDatabase(r.Context(), provisioning.ConnectInput{
		StoreID:    storeID,
		Kind:       credentials.Kind(body.Kind),
		Params:     body.Params,
		Token:      body.Token.toToken(),
		ProjectRef: projectRef,
		AdminEmail: body.AdminEmail,
		AdminName:  body.AdminName,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *adminHandler) reprovision(w http.ResponseWriter, r *http.Request) {
	storeID, ok := pathStoreID(w, r)
	if !ok {
		return
	}

	var body struct {
		Token      *tokenBody `json:"token"`
		ProjectRef string     `json:"project_ref"`
		AdminEmail string     `json:"admin_email"`
		AdminName  string     `json:"admin_name"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	run, err := h.pipeline.Reprovision(r.Context(), provisioning.ReprovisionInput{
		StoreID:    storeID,
		Token:      body.Token.toToken(),
		ProjectRef: body.ProjectRef,
		AdminEmail: body.AdminEmail,
		AdminName:  body.AdminName,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *adminHandler) checkHealth(w http.ResponseWriter, r *http.Request) {
	storeID, ok := pathStoreID(w, r)
	if !ok {
		return
	}

	report, err := h.monitor.CheckHealth(r.Context(), storeID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// deleteDatabase is the forcible reset path: the credential row goes away and
// the store drops back to pending_database, but the store itself survives.
func (h *adminHandler) deleteDatabase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeID, ok := pathStoreID(w, r)
	if !ok {
		return
	}

	store, err := h.stores.Get(ctx, storeID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if store.Status == storesservice.StatusActive {
		if _, err := h.stores.SetStatus(ctx, storeID, storesservice.StatusPendingDatabase); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	if err := h.vault.Delete(ctx, storeID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.router.Invalidate(storeID)
	h.publish(ctx, events.TypeStoreDemoted, storeID, "database detached")

	w.WriteHeader(http.StatusNoContent)
}

func (h *adminHandler) deleteStore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeID, ok := pathStoreID(w, r)
	if !ok {
		return
	}

	// Credentials cascade at the schema level; the cache entry does not.
	if err := h.stores.HardDelete(ctx, storeID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.router.Invalidate(storeID)
	h.publish(ctx, events.TypeStoreDeleted, storeID, "")

	w.WriteHeader(http.StatusNoContent)
}

func (h *adminHandler) publish(ctx context.Context, eventType string, storeID uuid.UUID, detail string) {
	event := events.Event{Type: eventType, StoreID: storeID, At: time.Now().UTC(), Detail: detail}
	if err := h.publisher.Publish(ctx, event); err != nil {
		h.logger.Warn("event publish failed", zap.String("type", eventType), zap.Error(err))
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError maps the subsystem error taxonomy onto HTTP statuses. Retryable
// infrastructure failures get 502 so callers can distinguish them from
// user-actionable 4xx responses.
func (h *adminHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal"

	switch {
	case errors.Is(err, storesservice.ErrNotFound):
		status, code = http.StatusNotFound, "store_not_found"
	case errors.Is(err, storesservice.ErrInvalidSlug), errors.Is(err, credentials.ErrInvalidParams):
		status, code = http.StatusBadRequest, "invalid_params"
	case errors.Is(err, storesservice.ErrConflictSlug):
		status, code = http.StatusConflict, "slug_conflict"
	case errors.Is(err, storesservice.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, credentials.ErrDatabaseInUse):
		status, code = http.StatusConflict, "database_in_use"
	case errors.Is(err, provisioning.ErrAlreadyConnected):
		status, code = http.StatusConflict, "already_connected"
	case errors.Is(err, provisioning.ErrInvalidCredentials):
		status, code = http.StatusUnprocessableEntity, "invalid_credentials"
	case errors.Is(err, provisioning.ErrReauthorizationRequired):
		status, code = http.StatusUnauthorized, "reauthorization_required"
	case errors.Is(err, provisioning.ErrPendingNotFound):
		status, code = http.StatusGone, "connect_session_expired"
	case errors.Is(err, router.ErrNotProvisioned):
		status, code = http.StatusConflict, "not_provisioned"
	case errors.Is(err, router.ErrConnectionFailed):
		status, code = http.StatusBadGateway, "connection_failed"
	}

	if status >= http.StatusInternalServerError {
		platformlogging.FromRequest(r, h.logger).Error("admin request failed", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func pathStoreID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "storeID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid store id", Code: "invalid_store_id"})
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body", Code: "bad_json"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
