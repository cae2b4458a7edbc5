package pricing

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-lab/internal/common"
)

// ReferralProvider supplies the current referral master, keyed by id. The
// boolean is false when the provider holds no live snapshot.
type ReferralProvider interface {
	Sources(ctx context.Context) (map[string]ReferralSource, bool)
}

// Live binds an engine to a live referral source provider.
type Live struct {
	Engine    *Engine
	Referrals ReferralProvider
}

// For returns an engine whose referral master reflects the provider's current
// snapshot. An empty snapshot replaces the bundled master. Without a provider,
// or when it has no snapshot, the static engine is used.
func (l Live) For(ctx context.Context) *Engine {
	if l.Referrals == nil || l.Engine == nil || l.Engine.store == nil {
		return l.Engine
	}
	sources, ok := l.Referrals.Sources(ctx)
	if !ok {
		return l.Engine
	}
	return l.Engine.WithStore(l.Engine.store.WithReferralSources(sources))
}

// Handler exposes pricing over HTTP.
type Handler struct {
	live            Live
	validate        *validator.Validate
	enhancedDefault bool
}

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	Live      Live
	Validator *validator.Validate
	// EnhancedByDefault selects ResolveEnhanced when a request does not say.
	EnhancedByDefault bool
}

// NewHandler constructs a pricing handler.
func NewHandler(cfg HandlerConfig) *Handler {
	v := cfg.Validator
	if v == nil {
		v = common.NewValidator()
	}
	return &Handler{live: cfg.Live, validate: v, enhancedDefault: cfg.EnhancedByDefault}
}

// Routes mounts the pricing endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/resolve", h.Resolve)
	r.Get("/tests/{testID}/price", h.TestPrice)
	r.Post("/commission", h.Commission)
	r.Get("/validate", h.Validate)
	r.Get("/schemes", h.Schemes)
}

type resolveRequest struct {
	TestID           string  `json:"testId" validate:"required"`
	ReferralSourceID string  `json:"referralSourceId"`
	Scheme           string  `json:"scheme"`
	FallbackPrice    float64 `json:"fallbackPrice" validate:"gte=0"`
	Volume           int     `json:"volume" validate:"gte=0"`
	LoyaltyTier      string  `json:"loyaltyTier"`
	Enhanced         *bool   `json:"enhanced"`
}

type commissionRequest struct {
	ReferralSourceID string  `json:"referralSourceId" validate:"required"`
	Amount           float64 `json:"amount" validate:"gte=0"`
}

func (h *Handler) engine(ctx context.Context) *Engine {
	if h == nil {
		return nil
	}
	return h.live.For(ctx)
}

func (h *Handler) ready(w http.ResponseWriter) (ok bool) {
	if h == nil || h.live.Engine == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", ErrConfigNotLoaded.Error(), nil)
		return false
	}
	return true
}

// Resolve handles POST /resolve.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req resolveRequest
	if err := common.DecodeAndValidate(r, h.validate, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	enhanced := h.enhancedDefault
	if req.Enhanced != nil {
		enhanced = *req.Enhanced
	}
	opts := Options{Volume: req.Volume, LoyaltyTier: req.LoyaltyTier}
	engine := h.engine(r.Context())

	var res PriceResult
	if enhanced {
		res = engine.ResolveEnhanced(req.TestID, req.ReferralSourceID, req.Scheme, req.FallbackPrice, opts)
	} else {
		res = engine.Resolve(req.TestID, req.ReferralSourceID, req.Scheme, req.FallbackPrice, opts)
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": res})
}

// TestPrice handles GET /tests/{testID}/price?referral=&scheme=&volume=&tier=&fallback=.
func (h *Handler) TestPrice(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	q := r.URL.Query()
	opts := Options{
		Volume:      common.AtoiDefault(q.Get("volume"), 1),
		LoyaltyTier: q.Get("tier"),
	}
	res := h.engine(r.Context()).Resolve(
		chi.URLParam(r, "testID"),
		q.Get("referral"),
		q.Get("scheme"),
		common.FloatDefault(q.Get("fallback"), 0),
		opts,
	)
	common.JSON(w, http.StatusOK, map[string]any{"data": res})
}

// Commission handles POST /commission.
func (h *Handler) Commission(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req commissionRequest
	if err := common.DecodeAndValidate(r, h.validate, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	res := h.engine(r.Context()).CalculateCommission(req.ReferralSourceID, req.Amount)
	common.JSON(w, http.StatusOK, map[string]any{"data": res})
}

// Validate handles GET /validate. The report itself is always 200; clients read isValid.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.live.Engine.Validate()})
}

// Schemes handles GET /schemes.
func (h *Handler) Schemes(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.live.Engine.Store().Schemes()})
}
