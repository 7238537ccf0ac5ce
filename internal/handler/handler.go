package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dhxmo/CultureQ/internal/apperrors"
	"github.com/dhxmo/CultureQ/internal/models"
	"github.com/dhxmo/CultureQ/internal/service"
	"github.com/dhxmo/CultureQ/internal/validation"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *service.Service
	maxBodySize int64
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 10 << 20, // 10MB default
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, opts NewHandlerOptions) *Handler {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultHandlerOptions().MaxBodySize
	}
	return &Handler{
		service:     svc,
		maxBodySize: opts.MaxBodySize,
	}
}

// Register mounts every API route on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.Health)

	r.Post("/plaid/exchange-token", h.ExchangeToken)

	r.Route("/users/{user_id}", func(r chi.Router) {
		r.Get("/", h.GetUser)
		r.Post("/transactions/sync", h.SyncTransactions)
		r.Put("/profile", h.UpdateProfile)
		r.Get("/qloo-cache", h.QlooCacheStatus)
		r.Post("/attached-brands/refresh", h.RefreshAttachedBrands)
		r.Get("/matched-brands", h.GetUserMatchedBrands)
		r.Get("/merchant-preferences", h.GetUserMerchantPreferences)
		r.Get("/offers", h.GetUserOffers)
	})

	r.Post("/chat", h.Chat)
	r.Post("/chat/process", h.ProcessConversation)

	r.Route("/conversations/{id}", func(r chi.Router) {
		r.Get("/", h.GetConversation)
		r.Put("/matched-brands/attached", h.AttachBrands)
	})

	r.Post("/offers/search", h.FindOffers)

	r.Route("/admin", func(r chi.Router) {
		r.Route("/coupons", func(r chi.Router) {
			r.Post("/", h.CreateCoupon)
			r.Get("/", h.ListCoupons)
			r.Get("/{id}", h.GetCoupon)
			r.Put("/{id}", h.UpdateCoupon)
			r.Delete("/{id}", h.DeleteCoupon)
			r.Get("/{id}/analytics", h.campaignAnalytics(models.CampaignKindCoupon))
			r.Post("/{id}/usage", h.recordUsage(models.CampaignKindCoupon))
		})
		r.Route("/cashbacks", func(r chi.Router) {
			r.Post("/", h.CreateCashback)
			r.Get("/", h.ListCashbacks)
			r.Get("/{id}", h.GetCashback)
			r.Put("/{id}", h.UpdateCashback)
			r.Delete("/{id}", h.DeleteCashback)
			r.Get("/{id}/analytics", h.campaignAnalytics(models.CampaignKindCashback))
			r.Post("/{id}/usage", h.recordUsage(models.CampaignKindCashback))
		})
		r.Get("/features", h.ListFeatures)
		r.Put("/features/{name}", h.SetFeature)
	})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ExchangeToken handles POST /plaid/exchange-token
func (h *Handler) ExchangeToken(w http.ResponseWriter, r *http.Request) {
	var req models.ExchangeTokenRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	resp, err := h.service.ExchangeToken(r.Context(), req.PublicToken)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// GetUser handles GET /users/{user_id}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetUser(r.Context(), userIDParam(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, user)
}

// SyncTransactions handles POST /users/{user_id}/transactions/sync. The body
// is optional; a missing count uses the default.
func (h *Handler) SyncTransactions(w http.ResponseWriter, r *http.Request) {
	var req models.SyncTransactionsRequest
	if !h.decode(w, r, &req, true) {
		return
	}

	resp, err := h.service.SyncTransactions(r.Context(), userIDParam(r), req.Count)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// UpdateProfile handles PUT /users/{user_id}/profile
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateProfileRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	user, err := h.service.UpdateProfile(r.Context(), userIDParam(r), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, user)
}

// QlooCacheStatus handles GET /users/{user_id}/qloo-cache
func (h *Handler) QlooCacheStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.QlooCacheStatus(r.Context(), userIDParam(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, status)
}

// RefreshAttachedBrands handles POST /users/{user_id}/attached-brands/refresh
func (h *Handler) RefreshAttachedBrands(w http.ResponseWriter, r *http.Request) {
	tp, err := h.service.RefreshAttachedBrands(r.Context(), userIDParam(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, tp)
}

// GetUserMatchedBrands handles GET /users/{user_id}/matched-brands
func (h *Handler) GetUserMatchedBrands(w http.ResponseWriter, r *http.Request) {
	brands, err := h.service.GetUserMatchedBrands(r.Context(), userIDParam(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, brands)
}

// GetUserMerchantPreferences handles GET /users/{user_id}/merchant-preferences
func (h *Handler) GetUserMerchantPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.service.GetUserMerchantPreferences(r.Context(), userIDParam(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, prefs)
}

// GetUserOffers handles GET /users/{user_id}/offers
func (h *Handler) GetUserOffers(w http.ResponseWriter, r *http.Request) {
	set, err := h.service.GetUserOffers(r.Context(), userIDParam(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, set)
}

// Chat handles POST /chat
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	resp, err := h.service.Chat(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// ProcessConversation handles POST /chat/process
func (h *Handler) ProcessConversation(w http.ResponseWriter, r *http.Request) {
	var req models.ProcessRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	resp, err := h.service.ProcessConversation(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// GetConversation handles GET /conversations/{id}
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.service.GetConversation(r.Context(), idParam(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, conv)
}

// AttachBrands handles PUT /conversations/{id}/matched-brands/attached
func (h *Handler) AttachBrands(w http.ResponseWriter, r *http.Request) {
	var req models.AttachBrandsRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	conv, err := h.service.AttachBrands(r.Context(), idParam(r), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, conv)
}

// FindOffers handles POST /offers/search
func (h *Handler) FindOffers(w http.ResponseWriter, r *http.Request) {
	var req models.FindOffersRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	set, err := h.service.FindOffers(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, set)
}

// decode reads a JSON body into dest. With allowEmpty an absent body leaves
// dest untouched. It writes the error response itself and reports whether
// the caller should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest interface{}, allowEmpty bool) bool {
	// Limit request body size to prevent abuse
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			if allowEmpty {
				return true
			}
			h.respondError(w, http.StatusBadRequest, "request body is required")
		case errors.As(err, &tooLarge):
			h.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		default:
			h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		}
		return false
	}
	return true
}

func userIDParam(r *http.Request) string {
	return validation.SanitizeString(chi.URLParam(r, "user_id"))
}

func idParam(r *http.Request) string {
	return validation.SanitizeString(chi.URLParam(r, "id"))
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var verr *validation.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrNotUsable), errors.Is(err, apperrors.ErrDuplicateCode):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrSyncTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, apperrors.ErrProcessingFailed):
		return http.StatusInternalServerError
	case errors.Is(err, apperrors.ErrProviderUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondServiceError writes err with its mapped status. Internal failures
// are logged and reported without detail.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("Request failed", zap.Int("status", status), zap.Error(err))
	}

	message := err.Error()
	switch status {
	case http.StatusInternalServerError:
		message = "internal server error"
		if errors.Is(err, apperrors.ErrProcessingFailed) {
			message = apperrors.ErrProcessingFailed.Error()
		}
	case http.StatusBadGateway:
		message = apperrors.ErrProviderUnavailable.Error()
	}
	h.respondError(w, status, message)
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
