package coupon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/noah-isme/storefront-cart/internal/pricing"
	"github.com/noah-isme/storefront-cart/internal/resilience"
)

// ErrUnavailable is returned when the validation service cannot be reached.
// Callers surface a generic "try again" message; cart state stays unchanged.
var ErrUnavailable = errors.New("coupon: validation service unavailable")

// Item is the cart line snapshot sent to the validation service.
type Item struct {
	ProductID string        `json:"productId"`
	Quantity  int           `json:"quantity"`
	UnitPrice pricing.Money `json:"unitPrice"`
}

// ValidateRequest carries the single-coupon validation inputs.
type ValidateRequest struct {
	Code         string        `json:"code"`
	Items        []Item        `json:"cartItems"`
	CartTotal    pricing.Money `json:"cartTotal"`
	CartSubtotal pricing.Money `json:"cartSubtotal"`
	ShippingCost pricing.Money `json:"shippingCost"`
}

// ValidateResult is the service verdict for one coupon. The engine aggregates
// the recorded Discount; eligibility stays server-side.
type ValidateResult struct {
	Success      bool          `json:"success"`
	Discount     pricing.Money `json:"discount"`
	DiscountType pricing.Kind  `json:"discountType"`
	CouponID     string        `json:"couponId"`
	CouponCode   string        `json:"couponCode"`
	Title        string        `json:"title"`
	Message      string        `json:"message"`
	PercentBps   int32         `json:"percentBps"`
	Scope        []string      `json:"applicableProducts"`
	MinSpend     pricing.Money `json:"minimumAmount"`
}

// Applied converts a successful verdict into the engine's applied-coupon record.
func (r ValidateResult) Applied() pricing.AppliedCoupon {
	kind := r.DiscountType
	if kind != pricing.KindPercent && kind != pricing.KindFixed {
		kind = pricing.KindFixed
	}
	return pricing.AppliedCoupon{
		Code:       strings.ToUpper(strings.TrimSpace(r.CouponCode)),
		Kind:       kind,
		PercentBps: r.PercentBps,
		Value:      r.Discount,
		Scope:      r.Scope,
		MinSpend:   r.MinSpend,
		Amount:     r.Discount,
	}
}

// MultiRequest carries the multiple-coupon validation inputs. Exclude lists
// codes already applied so the service does not revalidate them.
type MultiRequest struct {
	Codes        []string      `json:"codes"`
	Items        []Item        `json:"cartItems"`
	CartSubtotal pricing.Money `json:"cartSubtotal"`
	ShippingCost pricing.Money `json:"shippingCost"`
	Exclude      []string      `json:"excludeCodes"`
}

// Outcome reports one code's verdict inside a multiple validation response.
type Outcome struct {
	Code    string `json:"code"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// MultiResult is the multiple validation response.
type MultiResult struct {
	Applied []ValidateResult `json:"appliedCoupons"`
	Results []Outcome        `json:"validationResults"`
}

// Validator mirrors the external validation service contracts.
type Validator interface {
	Validate(ctx context.Context, req ValidateRequest) (ValidateResult, error)
	ValidateMultiple(ctx context.Context, req MultiRequest) (MultiResult, error)
}

// HTTPValidator talks to the coupon validation service over HTTP.
type HTTPValidator struct {
	BaseURL string
	Client  resilience.HTTPClient
}

// Validate runs the single-coupon flow. A success:false payload is a business
// rejection and returned without error; transport failures wrap ErrUnavailable.
func (v HTTPValidator) Validate(ctx context.Context, req ValidateRequest) (ValidateResult, error) {
	var result ValidateResult
	if err := v.post(ctx, "/coupons/validate", req, &result); err != nil {
		return ValidateResult{}, err
	}
	return result, nil
}

// ValidateMultiple runs the multiple-coupon flow with the exclusion list.
func (v HTTPValidator) ValidateMultiple(ctx context.Context, req MultiRequest) (MultiResult, error) {
	var result MultiResult
	if err := v.post(ctx, "/coupons/validate-multiple", req, &result); err != nil {
		return MultiResult{}, err
	}
	return result, nil
}

func (v HTTPValidator) post(ctx context.Context, path string, payload, out any) error {
	base := strings.TrimRight(v.BaseURL, "/")
	if base == "" {
		return errors.New("coupon: base url not configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("coupon: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := v.Client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnprocessableEntity {
		return fmt.Errorf("%w: status %s", ErrUnavailable, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("coupon: decode response: %w", err)
	}
	return nil
}
