package billing

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-lab/internal/common"
	"github.com/noah-isme/backend-lab/internal/pricing"
)

// Handler exposes bill quotation over HTTP.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

// Routes mounts the billing endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/quote", h.Quote)
}

// Quote handles POST /quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	v := h.Validate
	if v == nil {
		v = common.NewValidator()
	}
	var req QuoteRequest
	if err := common.DecodeAndValidate(r, v, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	q, err := h.Svc.Quote(r.Context(), req)
	switch {
	case errors.Is(err, ErrEmptyQuote):
		common.JSONError(w, http.StatusUnprocessableEntity, "EMPTY_QUOTE", err.Error(), nil)
		return
	case errors.Is(err, ErrOutOfRange):
		common.JSONError(w, http.StatusUnprocessableEntity, "OUT_OF_RANGE", err.Error(), nil)
		return
	case errors.Is(err, pricing.ErrConfigNotLoaded):
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", err.Error(), nil)
		return
	case err != nil:
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": q})
}
