package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/storefront-cart/internal/coupon"
	"github.com/noah-isme/storefront-cart/internal/events"
	"github.com/noah-isme/storefront-cart/internal/inventory"
	"github.com/noah-isme/storefront-cart/internal/lock"
	"github.com/noah-isme/storefront-cart/internal/obs"
	"github.com/noah-isme/storefront-cart/internal/pricing"
	"github.com/noah-isme/storefront-cart/internal/shipping"
)

// ErrNotFound indicates the requested cart could not be located.
var ErrNotFound = errors.New("cart not found")

// ErrInvalidInput is returned when the provided payload is invalid.
var ErrInvalidInput = errors.New("invalid input")

// ErrInsufficientStock is returned when the requested quantity exceeds what
// inventory reports as available. The wrapping message names both quantities.
var ErrInsufficientStock = errors.New("insufficient stock")

// ErrCouponRejected carries the validation service's rejection message.
var ErrCouponRejected = errors.New("coupon rejected")

// ErrSuperseded means a concurrent coupon mutation happened while a
// validation round-trip was in flight; the stale result was discarded.
var ErrSuperseded = errors.New("operation superseded")

// Item is a cart line. Pricing semantics live in the pricing package; this
// struct adds the catalog identity needed for stock checks and display.
type Item struct {
	ID               string        `json:"id"`
	ProductID        string        `json:"productId"`
	Title            string        `json:"title"`
	BasePrice        pricing.Money `json:"basePrice"`
	Quantity         int           `json:"quantity"`
	OptionID         string        `json:"optionId,omitempty"`
	OptionSurcharge  pricing.Money `json:"optionSurcharge"`
	ConfigFixedPrice pricing.Money `json:"configFixedPrice,omitempty"`
	ConfigPercentBps []int32       `json:"configPercentBps,omitempty"`
	UnitShipping     pricing.Money `json:"unitShipping"`
}

// Cart is the persisted session state. CouponEpoch increments on every coupon
// mutation so in-flight validation responses can detect they are stale.
type Cart struct {
	ID          string                    `json:"id"`
	AnonID      string                    `json:"anonId,omitempty"`
	Items       []Item                    `json:"items"`
	Coupons     []pricing.AppliedCoupon   `json:"coupons"`
	FirstTime   pricing.FirstTimeDiscount `json:"firstTime"`
	Address     pricing.AddressDiscount   `json:"address"`
	CouponEpoch int64                     `json:"couponEpoch"`
	CreatedAt   time.Time                 `json:"createdAt"`
	UpdatedAt   time.Time                 `json:"updatedAt"`
}

// Service encapsulates cart domain operations backed by Redis sessions.
type Service struct {
	R         *redis.Client
	TTL       time.Duration
	Now       func() time.Time
	Inventory inventory.Provider
	Validator coupon.Validator
	Settings  shipping.Settings
	Locker    lock.Locker
	Bus       *events.Bus
	Policy    pricing.Policy
}

func (s *Service) ttl() time.Duration {
	if s == nil || s.TTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return s.TTL
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func cartKey(id string) string { return "cart:" + id }

func (s *Service) load(ctx context.Context, id string) (Cart, error) {
	if s == nil || s.R == nil {
		return Cart{}, errors.New("cart service not configured")
	}
	if strings.TrimSpace(id) == "" {
		return Cart{}, fmt.Errorf("cart id required: %w", ErrInvalidInput)
	}
	raw, err := s.R.Get(ctx, cartKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Cart{}, ErrNotFound
		}
		return Cart{}, fmt.Errorf("load cart: %w", err)
	}
	var c Cart
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cart{}, fmt.Errorf("decode cart: %w", err)
	}
	return c, nil
}

func (s *Service) save(ctx context.Context, c Cart) error {
	c.UpdatedAt = s.now()
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if err := s.R.Set(ctx, cartKey(c.ID), raw, s.ttl()).Err(); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

func (s *Service) emit(ctx context.Context, topic, cartID string, payload any) {
	if s.Bus == nil {
		return
	}
	_, _ = s.Bus.Emit(ctx, topic, cartID, payload)
}

// EnsureCart loads the cart for anonID or creates a fresh one. Loading also
// refreshes the session TTL.
func (s *Service) EnsureCart(ctx context.Context, anonID string) (Cart, error) {
	if s == nil || s.R == nil {
		return Cart{}, errors.New("cart service not configured")
	}
	anonID = strings.TrimSpace(anonID)
	if anonID != "" {
		id, err := s.R.Get(ctx, "cart:anon:"+anonID).Result()
		if err == nil && id != "" {
			c, err := s.load(ctx, id)
			if err == nil {
				_ = s.R.Expire(ctx, cartKey(c.ID), s.ttl()).Err()
				_ = s.R.Expire(ctx, "cart:anon:"+anonID, s.ttl()).Err()
				return c, nil
			}
			if !errors.Is(err, ErrNotFound) {
				return Cart{}, err
			}
		} else if err != nil && !errors.Is(err, redis.Nil) {
			return Cart{}, fmt.Errorf("resolve anon cart: %w", err)
		}
	} else {
		anonID = uuid.NewString()
	}

	now := s.now()
	c := Cart{
		ID:        uuid.NewString(),
		AnonID:    anonID,
		Items:     []Item{},
		Coupons:   []pricing.AppliedCoupon{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.save(ctx, c); err != nil {
		return Cart{}, err
	}
	if err := s.R.Set(ctx, "cart:anon:"+anonID, c.ID, s.ttl()).Err(); err != nil {
		return Cart{}, fmt.Errorf("index anon cart: %w", err)
	}
	return c, nil
}

// Get returns the cart by ID.
func (s *Service) Get(ctx context.Context, cartID string) (Cart, error) {
	return s.load(ctx, cartID)
}

// AddItem inserts or increments a cart line after checking inventory. The
// requested quantity plus what the cart already holds must not exceed the
// available stock; products flagged as requiring an option need OptionID set.
func (s *Service) AddItem(ctx context.Context, cartID string, add Item) (Cart, error) {
	if add.Quantity <= 0 {
		return Cart{}, fmt.Errorf("quantity must be positive: %w", ErrInvalidInput)
	}
	if strings.TrimSpace(add.ProductID) == "" {
		return Cart{}, fmt.Errorf("productId is required: %w", ErrInvalidInput)
	}
	if add.BasePrice < 0 || add.OptionSurcharge < 0 || add.UnitShipping < 0 {
		return Cart{}, fmt.Errorf("prices must not be negative: %w", ErrInvalidInput)
	}
	c, err := s.load(ctx, cartID)
	if err != nil {
		return Cart{}, err
	}

	if s.Inventory != nil {
		product, err := s.Inventory.Product(ctx, add.ProductID)
		if err != nil {
			if errors.Is(err, inventory.ErrNotFound) {
				return Cart{}, fmt.Errorf("unknown product %s: %w", add.ProductID, ErrInvalidInput)
			}
			return Cart{}, fmt.Errorf("check stock: %w", err)
		}
		if product.RequiresOption && strings.TrimSpace(add.OptionID) == "" {
			return Cart{}, fmt.Errorf("product %s requires an option selection: %w", add.ProductID, ErrInvalidInput)
		}
		inCart := 0
		for _, it := range c.Items {
			if it.ProductID == add.ProductID {
				inCart += it.Quantity
			}
		}
		if inCart+add.Quantity > product.Available {
			obs.StockRejectionTotal.Inc()
			return Cart{}, fmt.Errorf("only %d in stock and %d already in cart: %w",
				product.Available, inCart, ErrInsufficientStock)
		}
	}

	merged := false
	for i, it := range c.Items {
		if it.ProductID == add.ProductID && it.OptionID == add.OptionID {
			c.Items[i].Quantity += add.Quantity
			merged = true
			break
		}
	}
	if !merged {
		if add.ID == "" {
			add.ID = uuid.NewString()
		}
		c.Items = append(c.Items, add)
	}
	if err := s.save(ctx, c); err != nil {
		return Cart{}, err
	}
	obs.CartOpsTotal.WithLabelValues("add_item", "ok").Inc()
	s.emit(ctx, events.TopicCartItemAdded, c.ID, map[string]any{
		"productId": add.ProductID,
		"quantity":  add.Quantity,
	})
	return c, nil
}

// UpdateQty sets the quantity for a cart line, re-checking stock upward moves.
func (s *Service) UpdateQty(ctx context.Context, cartID, itemID string, qty int) (Cart, error) {
	if qty <= 0 {
		return Cart{}, fmt.Errorf("quantity must be positive: %w", ErrInvalidInput)
	}
	c, err := s.load(ctx, cartID)
	if err != nil {
		return Cart{}, err
	}
	idx := -1
	for i, it := range c.Items {
		if it.ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Cart{}, ErrNotFound
	}
	if qty > c.Items[idx].Quantity && s.Inventory != nil {
		product, err := s.Inventory.Product(ctx, c.Items[idx].ProductID)
		if err == nil {
			inCart := 0
			for i, it := range c.Items {
				if i != idx && it.ProductID == c.Items[idx].ProductID {
					inCart += it.Quantity
				}
			}
			if inCart+qty > product.Available {
				obs.StockRejectionTotal.Inc()
				return Cart{}, fmt.Errorf("only %d in stock and %d already in cart: %w",
					product.Available, inCart+c.Items[idx].Quantity, ErrInsufficientStock)
			}
		}
	}
	c.Items[idx].Quantity = qty
	if err := s.save(ctx, c); err != nil {
		return Cart{}, err
	}
	obs.CartOpsTotal.WithLabelValues("update_qty", "ok").Inc()
	s.emit(ctx, events.TopicCartItemUpdated, c.ID, map[string]any{"itemId": itemID, "quantity": qty})
	return c, nil
}

// RemoveItem deletes a cart line.
func (s *Service) RemoveItem(ctx context.Context, cartID, itemID string) (Cart, error) {
	c, err := s.load(ctx, cartID)
	if err != nil {
		return Cart{}, err
	}
	kept := c.Items[:0]
	found := false
	for _, it := range c.Items {
		if it.ID == itemID {
			found = true
			continue
		}
		kept = append(kept, it)
	}
	if !found {
		return Cart{}, ErrNotFound
	}
	c.Items = kept
	if err := s.save(ctx, c); err != nil {
		return Cart{}, err
	}
	obs.CartOpsTotal.WithLabelValues("remove_item", "ok").Inc()
	s.emit(ctx, events.TopicCartItemRemoved, c.ID, map[string]any{"itemId": itemID})
	return c, nil
}

// Clear empties the cart, dropping items and applied coupons.
func (s *Service) Clear(ctx context.Context, cartID string) (Cart, error) {
	c, err := s.load(ctx, cartID)
	if err != nil {
		return Cart{}, err
	}
	c.Items = []Item{}
	c.Coupons = []pricing.AppliedCoupon{}
	c.CouponEpoch++
	if err := s.save(ctx, c); err != nil {
		return Cart{}, err
	}
	obs.CartOpsTotal.WithLabelValues("clear", "ok").Inc()
	s.emit(ctx, events.TopicCartCleared, c.ID, nil)
	return c, nil
}

// ApplyCoupon validates code against the coupon service and attaches it.
// A second apply racing on the same cart fails fast with lock.ErrBusy, and a
// validation round-trip that finishes after any other coupon mutation is
// discarded via the epoch check.
func (s *Service) ApplyCoupon(ctx context.Context, cartID, code string) (Cart, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return Cart{}, fmt.Errorf("coupon code required: %w", ErrInvalidInput)
	}
	var out Cart
	err := s.Locker.TryWithLock(ctx, "cart:apply:"+cartID, 30*time.Second, func(ctx context.Context) error {
		c, err := s.load(ctx, cartID)
		if err != nil {
			return err
		}
		for _, applied := range c.Coupons {
			if pricing.SameCode(applied.Code, code) {
				return fmt.Errorf("coupon %s is already applied: %w", code, ErrInvalidInput)
			}
		}
		epoch := c.CouponEpoch

		result, err := s.validate(ctx, c, code)
		if err != nil {
			return err
		}
		if !result.Success {
			obs.CouponValidationTotal.WithLabelValues("rejected").Inc()
			s.emit(ctx, events.TopicCouponRejected, c.ID, map[string]any{"code": code, "message": result.Message})
			if result.Message != "" {
				return fmt.Errorf("%s: %w", result.Message, ErrCouponRejected)
			}
			return ErrCouponRejected
		}

		// reload and confirm no concurrent coupon mutation landed meanwhile
		c, err = s.load(ctx, cartID)
		if err != nil {
			return err
		}
		if c.CouponEpoch != epoch {
			obs.CouponValidationTotal.WithLabelValues("superseded").Inc()
			return ErrSuperseded
		}
		c.Coupons = append(c.Coupons, result.Applied())
		c.CouponEpoch++
		if err := s.save(ctx, c); err != nil {
			return err
		}
		obs.CouponValidationTotal.WithLabelValues("applied").Inc()
		s.emit(ctx, events.TopicCouponApplied, c.ID, map[string]any{"code": code, "discount": result.Discount})
		out = c
		return nil
	})
	if err != nil {
		return Cart{}, err
	}
	return out, nil
}

// ApplyCoupons validates several codes in one round trip, excluding codes the
// cart already carries, and attaches every code the service accepted.
func (s *Service) ApplyCoupons(ctx context.Context, cartID string, codes []string) (Cart, []coupon.Outcome, error) {
	cleaned := make([]string, 0, len(codes))
	for _, code := range codes {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code != "" {
			cleaned = append(cleaned, code)
		}
	}
	if len(cleaned) == 0 {
		return Cart{}, nil, fmt.Errorf("at least one coupon code required: %w", ErrInvalidInput)
	}
	var (
		out      Cart
		outcomes []coupon.Outcome
	)
	err := s.Locker.TryWithLock(ctx, "cart:apply:"+cartID, 30*time.Second, func(ctx context.Context) error {
		c, err := s.load(ctx, cartID)
		if err != nil {
			return err
		}
		epoch := c.CouponEpoch
		exclude := make([]string, 0, len(c.Coupons))
		for _, applied := range c.Coupons {
			exclude = append(exclude, applied.Code)
		}
		if s.Validator == nil {
			return errors.New("coupon validator not configured")
		}
		result, err := s.Validator.ValidateMultiple(ctx, coupon.MultiRequest{
			Codes:        cleaned,
			Items:        couponItems(c.Items),
			CartSubtotal: subtotal(c.Items),
			ShippingCost: grossShipping(c.Items),
			Exclude:      exclude,
		})
		if err != nil {
			obs.CouponValidationTotal.WithLabelValues("error").Inc()
			return err
		}

		c, err = s.load(ctx, cartID)
		if err != nil {
			return err
		}
		if c.CouponEpoch != epoch {
			obs.CouponValidationTotal.WithLabelValues("superseded").Inc()
			return ErrSuperseded
		}
		for _, accepted := range result.Applied {
			applied := accepted.Applied()
			dup := false
			for _, existing := range c.Coupons {
				if pricing.SameCode(existing.Code, applied.Code) {
					dup = true
					break
				}
			}
			if !dup {
				c.Coupons = append(c.Coupons, applied)
				obs.CouponValidationTotal.WithLabelValues("applied").Inc()
				s.emit(ctx, events.TopicCouponApplied, c.ID, map[string]any{"code": applied.Code, "discount": applied.Amount})
			}
		}
		c.CouponEpoch++
		if err := s.save(ctx, c); err != nil {
			return err
		}
		out = c
		outcomes = result.Results
		return nil
	})
	if err != nil {
		return Cart{}, nil, err
	}
	return out, outcomes, nil
}

// RemoveCoupon detaches one applied coupon by code, case-insensitively.
func (s *Service) RemoveCoupon(ctx context.Context, cartID, code string) (Cart, error) {
	c, err := s.load(ctx, cartID)
	if err != nil {
		return Cart{}, err
	}
	kept := c.Coupons[:0]
	found := false
	for _, applied := range c.Coupons {
		if pricing.SameCode(applied.Code, code) {
			found = true
			continue
		}
		kept = append(kept, applied)
	}
	if !found {
		return Cart{}, ErrNotFound
	}
	c.Coupons = kept
	c.CouponEpoch++
	if err := s.save(ctx, c); err != nil {
		return Cart{}, err
	}
	s.emit(ctx, events.TopicCouponRemoved, c.ID, map[string]any{"code": strings.ToUpper(strings.TrimSpace(code))})
	return c, nil
}

// RemoveAllCoupons detaches every applied coupon.
func (s *Service) RemoveAllCoupons(ctx context.Context, cartID string) (Cart, error) {
	c, err := s.load(ctx, cartID)
	if err != nil {
		return Cart{}, err
	}
	codes := make([]string, 0, len(c.Coupons))
	for _, applied := range c.Coupons {
		codes = append(codes, applied.Code)
	}
	c.Coupons = []pricing.AppliedCoupon{}
	c.CouponEpoch++
	if err := s.save(ctx, c); err != nil {
		return Cart{}, err
	}
	for _, code := range codes {
		s.emit(ctx, events.TopicCouponRemoved, c.ID, map[string]any{"code": code})
	}
	return c, nil
}

// SetFirstTimeDiscount records the shopper's first-purchase eligibility.
func (s *Service) SetFirstTimeDiscount(ctx context.Context, cartID string, ft pricing.FirstTimeDiscount) (Cart, error) {
	c, err := s.load(ctx, cartID)
	if err != nil {
		return Cart{}, err
	}
	c.FirstTime = ft
	if err := s.save(ctx, c); err != nil {
		return Cart{}, err
	}
	return c, nil
}

// SetAddressDiscount records the address-based discount state.
func (s *Service) SetAddressDiscount(ctx context.Context, cartID string, ad pricing.AddressDiscount) (Cart, error) {
	c, err := s.load(ctx, cartID)
	if err != nil {
		return Cart{}, err
	}
	c.Address = ad
	if err := s.save(ctx, c); err != nil {
		return Cart{}, err
	}
	return c, nil
}

// Quote computes the cart-view totals: the first-time discount only counts
// when no coupons are applied (unless the policy says otherwise).
func (s *Service) Quote(ctx context.Context, cartID string) (Cart, pricing.Summary, error) {
	return s.quote(ctx, cartID, s.Policy)
}

// MiniQuote computes the mini-cart totals, where the first-time discount
// stacks with coupons regardless of the cart-view policy.
func (s *Service) MiniQuote(ctx context.Context, cartID string) (Cart, pricing.Summary, error) {
	policy := s.Policy
	policy.FirstTimeWithCoupons = true
	return s.quote(ctx, cartID, policy)
}

func (s *Service) quote(ctx context.Context, cartID string, policy pricing.Policy) (Cart, pricing.Summary, error) {
	started := s.now()
	c, err := s.load(ctx, cartID)
	if err != nil {
		return Cart{}, pricing.Summary{}, err
	}
	var threshold pricing.Money
	if s.Settings != nil {
		threshold, err = s.Settings.FreeShippingThreshold(ctx)
		if err != nil {
			// quote with no threshold rather than fail the whole cart view
			threshold = 0
		}
	}
	in := pricing.Input{
		Coupons:               c.Coupons,
		FirstTime:             c.FirstTime,
		Address:               c.Address,
		FreeShippingThreshold: threshold,
	}
	in.Items = make([]pricing.LineItem, 0, len(c.Items))
	for _, it := range c.Items {
		in.Items = append(in.Items, pricing.LineItem{
			ID:               it.ID,
			BasePrice:        it.BasePrice,
			Quantity:         it.Quantity,
			OptionSurcharge:  it.OptionSurcharge,
			ConfigFixedPrice: it.ConfigFixedPrice,
			ConfigPercentBps: it.ConfigPercentBps,
			UnitShipping:     it.UnitShipping,
		})
	}
	summary := pricing.Compute(in, policy)
	obs.QuoteDuration.Observe(float64(s.now().Sub(started).Milliseconds()))
	if summary.FreeShipping {
		obs.FreeShippingGrantedTotal.Inc()
		s.emit(ctx, events.TopicFreeShippingGiven, c.ID, map[string]any{"subtotal": summary.Subtotal})
	}
	s.emit(ctx, events.TopicQuoteComputed, c.ID, map[string]any{"total": summary.Total})
	return c, summary, nil
}

func (s *Service) validate(ctx context.Context, c Cart, code string) (coupon.ValidateResult, error) {
	if s.Validator == nil {
		return coupon.ValidateResult{}, errors.New("coupon validator not configured")
	}
	sub := subtotal(c.Items)
	ship := grossShipping(c.Items)
	result, err := s.Validator.Validate(ctx, coupon.ValidateRequest{
		Code:         code,
		Items:        couponItems(c.Items),
		CartSubtotal: sub,
		CartTotal:    sub + ship,
		ShippingCost: ship,
	})
	if err != nil {
		obs.CouponValidationTotal.WithLabelValues("error").Inc()
		return coupon.ValidateResult{}, err
	}
	return result, nil
}

func couponItems(items []Item) []coupon.Item {
	out := make([]coupon.Item, 0, len(items))
	for _, it := range items {
		out = append(out, coupon.Item{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: pricing.DiscountBase(toLine(it)) + it.OptionSurcharge,
		})
	}
	return out
}

func subtotal(items []Item) pricing.Money {
	var total pricing.Money
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		unit := pricing.DiscountBase(toLine(it)) + it.OptionSurcharge
		total += unit * pricing.Money(it.Quantity)
	}
	return total
}

func grossShipping(items []Item) pricing.Money {
	var total pricing.Money
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		total += it.UnitShipping * pricing.Money(it.Quantity)
	}
	return total
}

func toLine(it Item) pricing.LineItem {
	return pricing.LineItem{
		ID:               it.ID,
		BasePrice:        it.BasePrice,
		Quantity:         it.Quantity,
		OptionSurcharge:  it.OptionSurcharge,
		ConfigFixedPrice: it.ConfigFixedPrice,
		ConfigPercentBps: it.ConfigPercentBps,
		UnitShipping:     it.UnitShipping,
	}
}
