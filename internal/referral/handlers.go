package referral

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-lab/internal/common"
	"github.com/noah-isme/backend-lab/internal/pricing"
)

// Handler exposes referral sources over HTTP.
type Handler struct {
	svc      *Service
	validate *validator.Validate
}

// NewHandler constructs a referral handler. A nil validator gets the default one.
func NewHandler(svc *Service, v *validator.Validate) *Handler {
	if v == nil {
		v = common.NewValidator()
	}
	return &Handler{svc: svc, validate: v}
}

// Routes mounts the public read endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.List)
}

// AdminRoutes mounts the mutation and cache endpoints.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Post("/cache/clear", h.ClearCache)
}

// List handles GET /referral-sources.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	sources, origin := h.svc.Get(r.Context())
	if q := strings.TrimSpace(r.URL.Query().Get("type")); q != "" {
		if refType, ok := pricing.ParseReferralType(q); ok {
			filtered := sources[:0]
			for _, src := range sources {
				if src.ReferralType == refType {
					filtered = append(filtered, src)
				}
			}
			sources = filtered
		}
	}
	if sources == nil {
		sources = []pricing.ReferralSource{}
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": sources,
		"meta": map[string]any{"origin": origin, "count": len(sources)},
	})
}

// Create handles POST /admin/referral-sources.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	src, err := h.decodeSource(r, "")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	out, err := h.svc.Create(r.Context(), src)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": out})
}

// Update handles PUT /admin/referral-sources/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	src, err := h.decodeSource(r, id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	out, err := h.svc.Update(r.Context(), id, src)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

// Delete handles DELETE /admin/referral-sources/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearCache handles POST /admin/referral-sources/cache/clear.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearCache(r.Context()); err != nil {
		common.JSONError(w, http.StatusBadGateway, "CACHE_CLEAR_FAILED", "shared cache could not be cleared", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"cleared": true}})
}

// decodeSource reads a referral source body. A non-empty pathID overrides or
// must match the body id.
func (h *Handler) decodeSource(r *http.Request, pathID string) (pricing.ReferralSource, error) {
	var src pricing.ReferralSource
	if err := common.DecodeAndValidate(r, nil, &src); err != nil {
		return src, err
	}
	src.ID = strings.TrimSpace(src.ID)
	src.Name = strings.TrimSpace(src.Name)

	details := map[string]string{}
	if pathID != "" {
		if src.ID != "" && src.ID != pathID {
			details["id"] = "eqfield"
		}
		src.ID = pathID
	}
	if src.ID == "" {
		details["id"] = "required"
	}
	if src.Name == "" {
		details["name"] = "required"
	}
	if _, ok := pricing.ParseReferralType(string(src.ReferralType)); !ok {
		details["referralType"] = "oneof"
	}
	if err := h.validate.Var(src.DiscountPercentage, "gte=0,lte=100"); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			details["discountPercentage"] = fieldErrs[0].Tag()
		} else {
			details["discountPercentage"] = "range"
		}
	}
	if len(details) > 0 {
		appErr := common.NewAppError("VALIDATION_FAILED", "request validation failed", http.StatusBadRequest, nil)
		appErr.Details = details
		return src, appErr
	}
	return src, nil
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "referral source not found", nil)
	case errors.Is(err, ErrReadOnly):
		common.JSONError(w, http.StatusNotImplemented, "READ_ONLY", "referral backend not configured", nil)
	default:
		common.JSONError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "referral backend unavailable", nil)
	}
}
