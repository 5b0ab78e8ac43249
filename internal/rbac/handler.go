package rbac

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/firmdesk/firmdesk/internal/platform/httpx"
)

// Handler exposes the authorization API: the resolve/check surface consumed
// by other services plus the role and override administration endpoints.
type Handler struct {
	logger      *slog.Logger
	enforcer    *Enforcer
	roles       *RoleService
	permissions *PermissionService
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, enforcer *Enforcer, roles *RoleService, permissions *PermissionService) *Handler {
	return &Handler{logger: logger, enforcer: enforcer, roles: roles, permissions: permissions}
}

// MountRoutes registers the authz routes. The resolve/check surface and the
// read endpoints are open to any internal caller; mutating endpoints require
// an authenticated actor holding the matching firm administration permission.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/resolve", h.resolve)
	r.Post("/check", h.check)

	r.Get("/permissions", h.listPermissions)
	r.Get("/roles", h.listRoles)
	r.Get("/users/{userID}/assignments", h.listAssignments)
	r.Get("/users/{userID}/overrides", h.listOverrides)

	guard := Middleware{Enforcer: h.enforcer, Logger: h.logger}
	r.Group(func(r chi.Router) {
		r.Use(PrincipalFromHeaders)

		r.Group(func(r chi.Router) {
			r.Use(guard.RequirePermission("firm.roles.manage"))
			r.Post("/roles", h.createRole)
			r.Put("/roles/{roleID}/permissions", h.updateRolePermissions)
			r.Delete("/roles/{roleID}", h.deleteRole)
		})

		r.Group(func(r chi.Router) {
			r.Use(guard.RequirePermission("firm.users.manage"))
			r.Post("/assignments", h.assignRole)
			r.Delete("/assignments", h.removeAssignment)
		})

		r.Group(func(r chi.Router) {
			r.Use(guard.RequirePermission("firm.overrides.manage"))
			r.Post("/overrides", h.createOverride)
			r.Delete("/users/{userID}/overrides/{overrideID}", h.removeOverride)
		})
	})
}

type principalPayload struct {
	UserID          int64  `json:"user_id"`
	FirmID          *int64 `json:"firm_id,omitempty"`
	PartnerID       *int64 `json:"partner_id,omitempty"`
	Tier            string `json:"tier"`
	HierarchyLevel  int    `json:"hierarchy_level"`
	IsPlatformAdmin bool   `json:"is_platform_admin"`
}

func (p principalPayload) principal() Principal {
	return Principal{
		UserID:          p.UserID,
		FirmID:          p.FirmID,
		PartnerID:       p.PartnerID,
		Tier:            Tier(p.Tier),
		HierarchyLevel:  p.HierarchyLevel,
		IsPlatformAdmin: p.IsPlatformAdmin,
	}
}

type resolveRequest struct {
	Principal principalPayload `json:"principal"`
}

type checkRequest struct {
	Principal principalPayload `json:"principal"`
	Code      string           `json:"code"`
	Resource  *ResourceRef     `json:"resource,omitempty"`
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Principal.UserID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "principal.user_id is required")
		return
	}
	set, err := h.enforcer.ResolvePermissions(r.Context(), req.Principal.principal())
	if err != nil {
		h.logger.Error("resolve permissions", slog.Int64("user_id", req.Principal.UserID), slog.Any("error", err))
		// Fail closed: the caller must deny.
		httpx.JSON(w, http.StatusForbidden, map[string]any{"permissions": []string{}})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": set.Codes()})
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Principal.UserID == 0 || req.Code == "" {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "principal.user_id and code are required")
		return
	}
	decision, err := h.enforcer.Check(r.Context(), req.Principal.principal(), req.Code, req.Resource)
	if err != nil {
		h.logger.Error("permission check", slog.String("code", req.Code), slog.Any("error", err))
		httpx.JSON(w, http.StatusForbidden, Decision{Allowed: false, Reason: "authorization unavailable", CheckedAt: time.Now().UTC()})
		return
	}
	httpx.JSON(w, http.StatusOK, decision)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.permissions.ListPermissions(r.Context(), r.URL.Query().Get("category"), true)
	if err != nil {
		h.respondError(w, "list permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	firmID, ok := optionalID(w, r.URL.Query().Get("firm_id"), "firm_id")
	if !ok {
		return
	}
	roles, err := h.roles.ListRoles(r.Context(), firmID, true, true)
	if err != nil {
		h.respondError(w, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

type createRolePayload struct {
	FirmID       *int64   `json:"firm_id"`
	PartnerID    *int64   `json:"partner_id,omitempty"`
	ParentRoleID *int64   `json:"parent_role_id,omitempty"`
	Code         string   `json:"code"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Permissions  []string `json:"permissions"`
	DisplayOrder int      `json:"display_order"`
	CreatedBy    int64    `json:"created_by"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var payload createRolePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	role, err := h.roles.CreateCustomRole(r.Context(), CreateRoleRequest{
		FirmID:       payload.FirmID,
		PartnerID:    payload.PartnerID,
		ParentRoleID: payload.ParentRoleID,
		Code:         payload.Code,
		Name:         payload.Name,
		Description:  payload.Description,
		Permissions:  payload.Permissions,
		DisplayOrder: payload.DisplayOrder,
		CreatedBy:    payload.CreatedBy,
	})
	if err != nil {
		h.respondError(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

type updateRolePayload struct {
	ActorID     int64    `json:"actor_id"`
	FirmID      *int64   `json:"firm_id"`
	Permissions []string `json:"permissions"`
}

func (h *Handler) updateRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	var payload updateRolePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.roles.UpdateRolePermissions(r.Context(), payload.ActorID, roleID, payload.FirmID, payload.Permissions); err != nil {
		h.respondError(w, "update role permissions", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	actorID, ok := optionalID(w, r.URL.Query().Get("actor_id"), "actor_id")
	if !ok {
		return
	}
	firmID, ok := optionalID(w, r.URL.Query().Get("firm_id"), "firm_id")
	if !ok {
		return
	}
	var actor int64
	if actorID != nil {
		actor = *actorID
	}
	if err := h.roles.DeleteRole(r.Context(), actor, roleID, firmID); err != nil {
		h.respondError(w, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignPayload struct {
	UserID                 int64      `json:"user_id"`
	RoleID                 int64      `json:"role_id"`
	AssignedBy             int64      `json:"assigned_by"`
	AssignerHierarchyLevel int        `json:"assigner_hierarchy_level"`
	IsPrimary              bool       `json:"is_primary"`
	ExpiresAt              *time.Time `json:"expires_at,omitempty"`
	Notes                  *string    `json:"notes,omitempty"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	var payload assignPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	id, err := h.roles.AssignRole(r.Context(), AssignRequest{
		UserID:                 payload.UserID,
		RoleID:                 payload.RoleID,
		AssignedBy:             payload.AssignedBy,
		AssignerHierarchyLevel: payload.AssignerHierarchyLevel,
		IsPrimary:              payload.IsPrimary,
		ExpiresAt:              payload.ExpiresAt,
		Notes:                  payload.Notes,
	})
	if err != nil {
		h.respondError(w, "assign role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"assignment_id": id})
}

type removeAssignmentPayload struct {
	ActorID int64 `json:"actor_id"`
	UserID  int64 `json:"user_id"`
	RoleID  int64 `json:"role_id"`
}

func (h *Handler) removeAssignment(w http.ResponseWriter, r *http.Request) {
	var payload removeAssignmentPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil || payload.UserID == 0 || payload.RoleID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "user_id and role_id are required")
		return
	}
	if err := h.roles.RemoveRole(r.Context(), payload.ActorID, payload.UserID, payload.RoleID); err != nil {
		h.respondError(w, "remove assignment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listAssignments(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	assignments, err := h.roles.ListAssignments(r.Context(), userID)
	if err != nil {
		h.respondError(w, "list assignments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"assignments": assignments})
}

type overridePayload struct {
	UserID         int64      `json:"user_id"`
	PermissionCode string     `json:"permission_code"`
	ResourceType   *string    `json:"resource_type,omitempty"`
	ResourceID     *string    `json:"resource_id,omitempty"`
	Action         string     `json:"action"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Reason         string     `json:"reason"`
	CreatedBy      int64      `json:"created_by"`
}

func (h *Handler) createOverride(w http.ResponseWriter, r *http.Request) {
	var payload overridePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	id, err := h.permissions.CreateOverride(r.Context(), OverrideRequest{
		UserID:         payload.UserID,
		PermissionCode: payload.PermissionCode,
		ResourceType:   payload.ResourceType,
		ResourceID:     payload.ResourceID,
		Action:         OverrideAction(payload.Action),
		ExpiresAt:      payload.ExpiresAt,
		Reason:         payload.Reason,
		CreatedBy:      payload.CreatedBy,
	})
	if err != nil {
		h.respondError(w, "create override", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"override_id": id})
}

func (h *Handler) listOverrides(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	overrides, err := h.permissions.ListOverrides(r.Context(), userID)
	if err != nil {
		h.respondError(w, "list overrides", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"overrides": overrides})
}

func (h *Handler) removeOverride(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	overrideID, ok := pathID(w, r, "overrideID")
	if !ok {
		return
	}
	actorID, ok := optionalID(w, r.URL.Query().Get("actor_id"), "actor_id")
	if !ok {
		return
	}
	var actor int64
	if actorID != nil {
		actor = *actorID
	}
	if err := h.permissions.RemoveOverride(r.Context(), actor, userID, overrideID); err != nil {
		h.respondError(w, "remove override", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondError maps a business-rule envelope onto a problem response with
// its stable code; anything else is an opaque 500.
func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	if envelope, ok := AsError(err); ok {
		httpx.ProblemWithCode(w, StatusForKind(envelope.Kind), string(envelope.Kind), envelope.Message, envelope.Code, envelope.Details)
		return
	}
	h.logger.Error(op, slog.Any("error", err))
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

// StatusForKind maps a business-rule failure kind onto its HTTP status.
func StatusForKind(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindPolicy:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func optionalID(w http.ResponseWriter, raw, name string) (*int64, bool) {
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", name+" must be an integer")
		return nil, false
	}
	return &id, true
}
