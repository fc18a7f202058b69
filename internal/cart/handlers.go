package cart

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/storefront-cart/internal/common"
	"github.com/noah-isme/storefront-cart/internal/coupon"
	"github.com/noah-isme/storefront-cart/internal/lock"
	"github.com/noah-isme/storefront-cart/internal/pricing"
)

// Handler wires the cart service to HTTP. ApplyGuard, when set, wraps the
// coupon-apply endpoints with an extra middleware (a stricter rate limit,
// since each apply costs an upstream validation round trip).
type Handler struct {
	Svc        *Service
	Validate   *validator.Validate
	ApplyGuard func(http.Handler) http.Handler
}

// Routes mounts the cart endpoints on the provided router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/carts", h.Create)
	r.Route("/carts/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Get("/mini", h.GetMini)
		r.Post("/items", h.AddItem)
		r.Patch("/items/{itemId}", h.UpdateItem)
		r.Delete("/items/{itemId}", h.RemoveItem)
		r.Delete("/items", h.Clear)
		r.Group(func(g chi.Router) {
			if h.ApplyGuard != nil {
				g.Use(h.ApplyGuard)
			}
			g.Post("/coupons", h.ApplyCoupon)
			g.Post("/coupons/batch", h.ApplyCoupons)
		})
		r.Delete("/coupons/{code}", h.RemoveCoupon)
		r.Delete("/coupons", h.RemoveAllCoupons)
		r.Put("/first-time-discount", h.SetFirstTimeDiscount)
		r.Put("/address-discount", h.SetAddressDiscount)
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return false
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(dst); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", err.Error())
			return false
		}
	}
	return true
}

// Create creates or resumes a guest cart session.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	var payload struct {
		AnonID string `json:"anonId"`
	}
	_ = json.NewDecoder(r.Body).Decode(&payload)
	c, err := h.Svc.EnsureCart(r.Context(), strings.TrimSpace(payload.AnonID))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": map[string]any{
		"cartId": c.ID,
		"anonId": c.AnonID,
	}})
}

// Get returns the cart with its cart-view quote.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	h.respondQuote(w, r, false)
}

// GetMini returns the cart with its mini-cart quote, where the first-time
// discount stacks with coupons.
func (h *Handler) GetMini(w http.ResponseWriter, r *http.Request) {
	h.respondQuote(w, r, true)
}

func (h *Handler) respondQuote(w http.ResponseWriter, r *http.Request, mini bool) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	cartID := chi.URLParam(r, "id")
	var (
		c       Cart
		summary pricing.Summary
		err     error
	)
	if mini {
		c, summary, err = h.Svc.MiniQuote(r.Context(), cartID)
	} else {
		c, summary, err = h.Svc.Quote(r.Context(), cartID)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": quotePayload(c, summary)})
}

func quotePayload(c Cart, summary pricing.Summary) map[string]any {
	coupons := make([]map[string]any, 0, len(c.Coupons))
	for _, applied := range c.Coupons {
		coupons = append(coupons, map[string]any{
			"code":     applied.Code,
			"kind":     applied.Kind,
			"discount": applied.Amount,
		})
	}
	return map[string]any{
		"id":      c.ID,
		"anonId":  c.AnonID,
		"items":   c.Items,
		"coupons": coupons,
		"pricing": map[string]any{
			"lines":             summary.Lines,
			"subtotal":          summary.Subtotal,
			"couponDiscount":    summary.CouponDiscount,
			"firstTimeDiscount": summary.FirstTimeDiscount,
			"addressDiscount":   summary.AddressDiscount,
			"shipping":          summary.Shipping,
			"freeShipping":      summary.FreeShipping,
			"gapToFreeShipping": summary.GapToThreshold,
			"total":             summary.Total,
		},
	}
}

// AddItem adds or increments a cart line.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	cartID := chi.URLParam(r, "id")
	var payload struct {
		ProductID        string        `json:"productId" validate:"required"`
		Title            string        `json:"title"`
		BasePrice        pricing.Money `json:"basePrice" validate:"gte=0"`
		Quantity         int           `json:"quantity" validate:"gte=1"`
		OptionID         string        `json:"optionId"`
		OptionSurcharge  pricing.Money `json:"optionSurcharge" validate:"gte=0"`
		ConfigFixedPrice pricing.Money `json:"configFixedPrice"`
		ConfigPercentBps []int32       `json:"configPercentBps"`
		UnitShipping     pricing.Money `json:"unitShipping" validate:"gte=0"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	c, err := h.Svc.AddItem(r.Context(), cartID, Item{
		ProductID:        payload.ProductID,
		Title:            payload.Title,
		BasePrice:        payload.BasePrice,
		Quantity:         payload.Quantity,
		OptionID:         payload.OptionID,
		OptionSurcharge:  payload.OptionSurcharge,
		ConfigFixedPrice: payload.ConfigFixedPrice,
		ConfigPercentBps: payload.ConfigPercentBps,
		UnitShipping:     payload.UnitShipping,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"id": c.ID, "items": c.Items}})
}

// UpdateItem updates the quantity for a cart line.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	cartID := chi.URLParam(r, "id")
	itemID := chi.URLParam(r, "itemId")
	var payload struct {
		Quantity int `json:"quantity" validate:"gte=1"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	c, err := h.Svc.UpdateQty(r.Context(), cartID, itemID, payload.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"id": c.ID, "items": c.Items}})
}

// RemoveItem deletes a cart line.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	c, err := h.Svc.RemoveItem(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"id": c.ID, "items": c.Items}})
}

// Clear empties the cart.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	c, err := h.Svc.Clear(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"id": c.ID, "items": c.Items}})
}

// ApplyCoupon validates and attaches a single coupon code.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	cartID := chi.URLParam(r, "id")
	var payload struct {
		Code string `json:"code" validate:"required"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	c, err := h.Svc.ApplyCoupon(r.Context(), cartID, payload.Code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"coupons": c.Coupons}})
}

// ApplyCoupons validates several codes in one round trip.
func (h *Handler) ApplyCoupons(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	cartID := chi.URLParam(r, "id")
	var payload struct {
		Codes []string `json:"codes" validate:"required,min=1"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	c, outcomes, err := h.Svc.ApplyCoupons(r.Context(), cartID, payload.Codes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"coupons": c.Coupons,
		"results": outcomes,
	}})
}

// RemoveCoupon detaches one applied coupon.
func (h *Handler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	c, err := h.Svc.RemoveCoupon(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"coupons": c.Coupons}})
}

// RemoveAllCoupons detaches every applied coupon.
func (h *Handler) RemoveAllCoupons(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	c, err := h.Svc.RemoveAllCoupons(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"coupons": c.Coupons}})
}

// SetFirstTimeDiscount records first-purchase eligibility for the cart.
func (h *Handler) SetFirstTimeDiscount(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	cartID := chi.URLParam(r, "id")
	var payload struct {
		Eligible   bool  `json:"eligible"`
		Applied    bool  `json:"applied"`
		PercentBps int32 `json:"percentBps" validate:"gte=0,lte=10000"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	c, err := h.Svc.SetFirstTimeDiscount(r.Context(), cartID, pricing.FirstTimeDiscount{
		Eligible:   payload.Eligible,
		Applied:    payload.Applied,
		PercentBps: payload.PercentBps,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"firstTime": c.FirstTime}})
}

// SetAddressDiscount records the address-based discount state for the cart.
func (h *Handler) SetAddressDiscount(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	cartID := chi.URLParam(r, "id")
	var payload struct {
		Eligible   bool  `json:"eligible"`
		PercentBps int32 `json:"percentBps" validate:"gte=0,lte=10000"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	c, err := h.Svc.SetAddressDiscount(r.Context(), cartID, pricing.AddressDiscount{
		Eligible:   payload.Eligible,
		PercentBps: payload.PercentBps,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"address": c.Address}})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if err == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unknown error", nil)
		return
	}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		code := appErr.Code
		if code == "" {
			code = "BAD_REQUEST"
		}
		common.JSONError(w, status, code, appErr.Message, appErr.Details)
		return
	}
	switch {
	case errors.Is(err, ErrInsufficientStock):
		common.JSONError(w, http.StatusConflict, "INSUFFICIENT_STOCK", err.Error(), nil)
	case errors.Is(err, lock.ErrBusy):
		common.JSONError(w, http.StatusConflict, "APPLY_IN_PROGRESS", "a coupon application is already in progress", nil)
	case errors.Is(err, ErrSuperseded):
		common.JSONError(w, http.StatusConflict, "SUPERSEDED", "the cart changed while validating, please retry", nil)
	case errors.Is(err, ErrCouponRejected):
		common.JSONError(w, http.StatusUnprocessableEntity, "COUPON_REJECTED", err.Error(), nil)
	case errors.Is(err, coupon.ErrUnavailable):
		common.JSONError(w, http.StatusBadGateway, "COUPON_SERVICE_UNAVAILABLE", "coupon service is unavailable", nil)
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
	}
}
