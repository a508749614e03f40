package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"cardcrm/internal/spending/application"
	"cardcrm/internal/spending/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Handler implements the HTTP handlers for limit profiles and cards.
type Handler struct {
	service   *application.LimitsService
	adminOnly func(http.Handler) http.Handler
}

// NewHandler creates a new Handler. adminOnly guards profile mutations;
// nil leaves them open.
func NewHandler(service *application.LimitsService, adminOnly func(http.Handler) http.Handler) *Handler {
	if adminOnly == nil {
		adminOnly = func(next http.Handler) http.Handler { return next }
	}
	return &Handler{service: service, adminOnly: adminOnly}
}

// RegisterRoutes registers the profile and card routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/profiles", func(r chi.Router) {
		r.Get("/", h.ListProfiles)
		r.With(h.adminOnly).Post("/", h.CreateProfile)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetProfile)
			r.With(h.adminOnly).Patch("/", h.UpdateProfile)
			r.With(h.adminOnly).Delete("/", h.DeleteProfile)
			r.Get("/cards", h.ListProfileCards)
		})
	})

	r.Route("/cards", func(r chi.Router) {
		r.Post("/", h.CreateCard)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetCard)
			r.Patch("/", h.UpdateCardLimits)
			r.Patch("/status", h.UpdateCardStatus)
			r.Get("/limits", h.GetCardLimits)
			r.Post("/transactions", h.RecordTransaction)
		})
	})
}

// CreateProfile handles POST /profiles.
func (h *Handler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req createProfileRequest
	if !h.decode(w, r, &req) {
		return
	}

	view, err := h.service.CreateProfile(r.Context(), req.toApplication())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, newProfileResponse(view.Profile, view.AttachedCards))
}

// ListProfiles handles GET /profiles?active=&limit=&offset=.
func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	filter, err := parseProfileFilter(r)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	views, total, err := h.service.ListProfiles(r.Context(), filter)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	resp := listProfilesResponse{
		Profiles: make([]profileResponse, len(views)),
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	}
	for i, v := range views {
		resp.Profiles[i] = newProfileResponse(v.Profile, v.AttachedCards)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetProfile handles GET /profiles/{id}.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseProfileID(chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	view, err := h.service.GetProfile(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newProfileResponse(view.Profile, view.AttachedCards))
}

// UpdateProfile handles PATCH /profiles/{id}.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseProfileID(chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	var req updateProfileRequest
	if !h.decode(w, r, &req) {
		return
	}

	view, err := h.service.UpdateProfile(r.Context(), id, req.toPatch())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newProfileResponse(view.Profile, view.AttachedCards))
}

// DeleteProfile handles DELETE /profiles/{id}.
func (h *Handler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseProfileID(chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	if err := h.service.DeleteProfile(r.Context(), id); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListProfileCards handles GET /profiles/{id}/cards.
func (h *Handler) ListProfileCards(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseProfileID(chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	cards, err := h.service.ListProfileCards(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	resp := make([]cardSummaryResponse, len(cards))
	for i, c := range cards {
		resp[i] = newCardSummaryResponse(c)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"profile_id": int64(id), "cards": resp})
}

// CreateCard handles POST /cards.
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	var req createCardRequest
	if !h.decode(w, r, &req) {
		return
	}

	view, err := h.service.CreateCard(r.Context(), req.toApplication())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, newCardResponse(view))
}

// GetCard handles GET /cards/{id}.
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseCardID(chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	view, err := h.service.GetCard(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newCardResponse(view))
}

// UpdateCardLimits handles PATCH /cards/{id}. profile_id and custom_limits
// are mutually exclusive; profile_id: null switches the card to custom limits.
func (h *Handler) UpdateCardLimits(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseCardID(chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	var req updateCardLimitsRequest
	if !h.decode(w, r, &req) {
		return
	}
	appReq, err := req.toApplication()
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	view, err := h.service.UpdateCardLimits(r.Context(), id, appReq)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newCardResponse(view))
}

// UpdateCardStatus handles PATCH /cards/{id}/status.
func (h *Handler) UpdateCardStatus(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseCardID(chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	var req updateCardStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	view, err := h.service.UpdateCardStatus(r.Context(), id, domain.CardStatus(req.Status))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newCardResponse(view))
}

// GetCardLimits handles GET /cards/{id}/limits.
func (h *Handler) GetCardLimits(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseCardID(chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	summary, err := h.service.GetCardLimits(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newCardLimitsResponse(summary))
}

// RecordTransaction handles POST /cards/{id}/transactions.
func (h *Handler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseCardID(chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	var req recordTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	appReq, err := req.toApplication()
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	tx, err := h.service.RecordTransaction(r.Context(), id, appReq)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, newTransactionResponse(tx))
}

// decode reads a JSON body into dst and runs struct validation. It writes
// the error response itself and reports whether the handler may continue.
// An empty body decodes to the zero value.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	if err := validateRequest(dst); err != nil {
		h.handleServiceError(w, r, err)
		return false
	}
	return true
}

func parseProfileFilter(r *http.Request) (domain.ProfileFilter, error) {
	q := r.URL.Query()
	filter := domain.ProfileFilter{Limit: defaultPageSize}
	var violations []domain.Violation

	if raw := q.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			violations = append(violations, domain.Violation{Field: "active", Message: "active must be true or false"})
		} else {
			filter.Active = &active
		}
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPageSize {
			violations = append(violations, domain.Violation{Field: "limit", Message: "limit must be between 1 and " + strconv.Itoa(maxPageSize)})
		} else {
			filter.Limit = n
		}
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			violations = append(violations, domain.Violation{Field: "offset", Message: "offset must be a non-negative integer"})
		} else {
			filter.Offset = n
		}
	}

	return filter, domain.NewValidationError(violations)
}
