package handler

import (
	"net/http"
	"sort"

	"github.com/dhxmo/CultureQ/internal/features"
	"github.com/dhxmo/CultureQ/internal/models"
	"github.com/go-chi/chi/v5"
)

// CreateCoupon handles POST /admin/coupons. isActive defaults to true.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	req := models.Coupon{Campaign: models.Campaign{IsActive: true}}
	if !h.decode(w, r, &req, false) {
		return
	}

	c, err := h.service.Offers().CreateCoupon(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, c)
}

// ListCoupons handles GET /admin/coupons
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.service.Offers().ListCoupons(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, coupons)
}

// GetCoupon handles GET /admin/coupons/{id}
func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.Offers().GetCoupon(r.Context(), idParam(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, c)
}

// UpdateCoupon handles PUT /admin/coupons/{id}
func (h *Handler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	var req models.Coupon
	if !h.decode(w, r, &req, false) {
		return
	}

	c, err := h.service.Offers().UpdateCoupon(r.Context(), idParam(r), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, c)
}

// DeleteCoupon handles DELETE /admin/coupons/{id}
func (h *Handler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Offers().DeleteCoupon(r.Context(), idParam(r)); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateCashback handles POST /admin/cashbacks. isActive defaults to true.
func (h *Handler) CreateCashback(w http.ResponseWriter, r *http.Request) {
	req := models.Cashback{Campaign: models.Campaign{IsActive: true}}
	if !h.decode(w, r, &req, false) {
		return
	}

	c, err := h.service.Offers().CreateCashback(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, c)
}

func (h *Handler) ListCashbacks(w http.ResponseWriter, r *http.Request) {
	cashbacks, err := h.service.Offers().ListCashbacks(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, cashbacks)
}

func (h *Handler) GetCashback(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.Offers().GetCashback(r.Context(), idParam(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, c)
}

func (h *Handler) UpdateCashback(w http.ResponseWriter, r *http.Request) {
	var req models.Cashback
	if !h.decode(w, r, &req, false) {
		return
	}

	c, err := h.service.Offers().UpdateCashback(r.Context(), idParam(r), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, c)
}

func (h *Handler) DeleteCashback(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Offers().DeleteCashback(r.Context(), idParam(r)); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// campaignAnalytics handles GET /admin/{kind}/{id}/analytics
func (h *Handler) campaignAnalytics(kind models.CampaignKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := h.service.Offers().CampaignAnalytics(r.Context(), kind, idParam(r))
		if err != nil {
			h.respondServiceError(w, err)
			return
		}
		h.respondJSON(w, http.StatusOK, a)
	}
}

// recordUsage handles POST /admin/{kind}/{id}/usage
func (h *Handler) recordUsage(kind models.CampaignKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.RecordUsageRequest
		if !h.decode(w, r, &req, false) {
			return
		}

		record, err := h.service.RecordUsage(r.Context(), kind, idParam(r), req)
		if err != nil {
			h.respondServiceError(w, err)
			return
		}
		h.respondJSON(w, http.StatusCreated, record)
	}
}

// ListFeatures handles GET /admin/features
func (h *Handler) ListFeatures(w http.ResponseWriter, r *http.Request) {
	all := h.service.Features().GetAll()
	flags := make([]features.FeatureFlag, 0, len(all))
	for _, f := range all {
		flags = append(flags, f)
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i].Name < flags[j].Name })
	h.respondJSON(w, http.StatusOK, flags)
}

type setFeatureRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetFeature handles PUT /admin/features/{name}. Matching flags take effect
// on the next processed conversation.
func (h *Handler) SetFeature(w http.ResponseWriter, r *http.Request) {
	var req setFeatureRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	if req.Enabled == nil {
		h.respondError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	name := chi.URLParam(r, "name")
	flags := h.service.Features()
	var ok bool
	if *req.Enabled {
		ok = flags.Enable(name)
	} else {
		ok = flags.Disable(name)
	}
	if !ok {
		h.respondError(w, http.StatusNotFound, "feature flag not found")
		return
	}
	h.respondJSON(w, http.StatusOK, flags.GetAll()[name])
}
