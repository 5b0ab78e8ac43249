package tenancy

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/firmdesk/firmdesk/internal/platform/httpx"
	"github.com/firmdesk/firmdesk/internal/rbac"
)

// Handler exposes partner and firm administration endpoints.
type Handler struct {
	svc    *Service
	logger *slog.Logger
	guards []func(http.Handler) http.Handler
}

// NewHandler builds Handler instance. Guards wrap the mutating routes; the
// hosting application supplies principal injection and the permission check.
func NewHandler(svc *Service, logger *slog.Logger, guards ...func(http.Handler) http.Handler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger, guards: guards}
}

// MountRoutes registers the tenancy routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/firms/{firmID}", h.getFirm)
	r.Get("/partners/{partnerID}/firms", h.listFirms)
	r.Get("/users/{userID}/access-grants", h.listAccessGrants)

	r.Group(func(r chi.Router) {
		for _, guard := range h.guards {
			r.Use(guard)
		}
		r.Post("/partners", h.createPartner)
		r.Post("/firms", h.createFirm)
		r.Put("/firms/{firmID}/tier", h.changeFirmTier)
		r.Post("/access-grants", h.createAccessGrant)
	})
}

type createPartnerPayload struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

func (h *Handler) createPartner(w http.ResponseWriter, r *http.Request) {
	var payload createPartnerPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil || payload.Code == "" || payload.Name == "" {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "code and name are required")
		return
	}
	id, err := h.svc.CreatePartner(r.Context(), payload.Code, payload.Name)
	if err != nil {
		h.respondError(w, "create partner", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"partner_id": id})
}

type createFirmPayload struct {
	PartnerID int64  `json:"partner_id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Tier      string `json:"tier"`
}

func (h *Handler) createFirm(w http.ResponseWriter, r *http.Request) {
	var payload createFirmPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil || payload.PartnerID == 0 || payload.Code == "" {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "partner_id and code are required")
		return
	}
	id, err := h.svc.CreateFirm(r.Context(), payload.PartnerID, payload.Code, payload.Name, payload.Tier)
	if err != nil {
		h.respondError(w, "create firm", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"firm_id": id})
}

func (h *Handler) getFirm(w http.ResponseWriter, r *http.Request) {
	firmID, ok := h.pathID(w, r, "firmID")
	if !ok {
		return
	}
	firm, err := h.svc.GetFirm(r.Context(), firmID)
	if err != nil {
		h.respondError(w, "get firm", err)
		return
	}
	httpx.JSON(w, http.StatusOK, firm)
}

func (h *Handler) listFirms(w http.ResponseWriter, r *http.Request) {
	partnerID, ok := h.pathID(w, r, "partnerID")
	if !ok {
		return
	}
	firms, err := h.svc.ListFirms(r.Context(), partnerID)
	if err != nil {
		h.respondError(w, "list firms", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"firms": firms})
}

type changeTierPayload struct {
	Tier string `json:"tier"`
}

func (h *Handler) changeFirmTier(w http.ResponseWriter, r *http.Request) {
	firmID, ok := h.pathID(w, r, "firmID")
	if !ok {
		return
	}
	var payload changeTierPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.svc.ChangeFirmTier(r.Context(), firmID, payload.Tier); err != nil {
		h.respondError(w, "change firm tier", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type accessGrantPayload struct {
	FirmID    int64      `json:"firm_id"`
	ClientID  int64      `json:"client_id"`
	UserID    int64      `json:"user_id"`
	GrantedBy int64      `json:"granted_by"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (h *Handler) createAccessGrant(w http.ResponseWriter, r *http.Request) {
	var payload accessGrantPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil || payload.FirmID == 0 || payload.ClientID == 0 || payload.UserID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "firm_id, client_id and user_id are required")
		return
	}
	id, err := h.svc.GrantClientAccess(r.Context(), ClientAccessGrant{
		FirmID:    payload.FirmID,
		ClientID:  payload.ClientID,
		UserID:    payload.UserID,
		GrantedBy: payload.GrantedBy,
		ExpiresAt: payload.ExpiresAt,
	})
	if err != nil {
		h.respondError(w, "create access grant", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"grant_id": id})
}

func (h *Handler) listAccessGrants(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	grants, err := h.svc.ListClientAccess(r.Context(), userID)
	if err != nil {
		h.respondError(w, "list access grants", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"grants": grants})
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, ErrNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no such record")
		return
	}
	if envelope, ok := rbac.AsError(err); ok {
		httpx.ProblemWithCode(w, rbac.StatusForKind(envelope.Kind), string(envelope.Kind), envelope.Message, envelope.Code, envelope.Details)
		return
	}
	h.logger.Error(op, slog.Any("error", err))
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}
