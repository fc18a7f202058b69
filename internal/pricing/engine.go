package pricing

import "strings"

// Money represents a monetary value stored in minor units.
type Money = int64

// bpsDenom is the basis-point denominator used for percentage math (1% = 100 bps).
const bpsDenom = 10000

// Kind identifies how a coupon discount is expressed.
type Kind string

const (
	// KindPercent discounts a percentage of the eligible amount.
	KindPercent Kind = "percentage"
	// KindFixed discounts a fixed amount.
	KindFixed Kind = "fixed"
)

// ThresholdBasis selects which subtotal the free-shipping threshold compares against.
type ThresholdBasis string

const (
	// BasisSubtotalMinusCoupon nets out only the coupon discount before the threshold check.
	BasisSubtotalMinusCoupon ThresholdBasis = "subtotal-minus-coupon"
	// BasisSubtotalMinusAll nets out coupon, first-time and address discounts.
	BasisSubtotalMinusAll ThresholdBasis = "subtotal-minus-all-discounts"
)

// Policy names the discount-stacking rules that differ between storefront views.
// Both knobs are injected rather than hard-coded because the views disagree.
type Policy struct {
	// FirstTimeWithCoupons includes the first-time discount even when coupons are
	// applied. When false the first-time discount only counts for coupon-free carts.
	FirstTimeWithCoupons bool
	ThresholdBasis       ThresholdBasis
}

// LineItem is the unified cart line contract. Optional pricing inputs are explicit
// fields validated at the boundary where external data enters the engine.
type LineItem struct {
	ID string
	// BasePrice is the effective unit price before cart-level discounts. Product
	// level sale pricing is resolved upstream.
	BasePrice Money
	Quantity  int
	// OptionSurcharge is added per unit after all discounts and is never discounted.
	OptionSurcharge Money
	// ConfigFixedPrice, when positive, replaces BasePrice entirely as the discount base.
	ConfigFixedPrice Money
	// ConfigPercentBps holds signed percentage adjustments in basis points, applied
	// sequentially in selection order after the coupon discount. Order matters.
	ConfigPercentBps []int32
	// UnitShipping is the per-unit shipping cost for this line.
	UnitShipping Money
}

// AppliedCoupon records an already-validated coupon. Amount is the discount the
// validation service computed; the engine aggregates amounts, it does not re-validate.
type AppliedCoupon struct {
	Code       string
	Kind       Kind
	PercentBps int32
	Value      Money
	// Scope lists product IDs the coupon applies to. Empty means the whole cart.
	Scope    []string
	MinSpend Money
	Amount   Money
}

// AppliesTo reports whether the coupon covers the given product.
func (c AppliedCoupon) AppliesTo(productID string) bool {
	if len(c.Scope) == 0 {
		return true
	}
	for _, id := range c.Scope {
		if id == productID {
			return true
		}
	}
	return false
}

// SameCode compares coupon codes case-insensitively.
func SameCode(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// FirstTimeDiscount describes new-customer eligibility. Applied requires Eligible.
type FirstTimeDiscount struct {
	Eligible   bool
	Applied    bool
	PercentBps int32
}

// AddressDiscount is a region-promotion reduction, additive with other discounts.
type AddressDiscount struct {
	Eligible   bool
	PercentBps int32
}

// Input is a cart snapshot handed to Compute. Line order is irrelevant to totals.
type Input struct {
	Items     []LineItem
	Coupons   []AppliedCoupon
	FirstTime FirstTimeDiscount
	Address   AddressDiscount
	// FreeShippingThreshold of zero (or negative) means no threshold.
	FreeShippingThreshold Money
	// FlatShipping overrides the per-unit shipping sum when the cart carries a
	// precomputed total shipping cost. A cart uses one representation consistently.
	FlatShipping *Money
}

// LineSummary is the priced form of one cart line.
type LineSummary struct {
	ID string
	// UnitPrice is the effective unit price without coupon discount; line totals
	// and the cart subtotal build on it so the additive coupon sum in Summary is
	// subtracted exactly once.
	UnitPrice Money
	// DiscountedUnitPrice applies in-scope percentage coupons to the discount base
	// and is intended for display.
	DiscountedUnitPrice Money
	Quantity            int
	LineTotal           Money
}

// Summary aggregates computed pricing components.
type Summary struct {
	Lines             []LineSummary
	Subtotal          Money
	CouponDiscount    Money
	FirstTimeDiscount Money
	AddressDiscount   Money
	GrossShipping     Money
	Shipping          Money
	FreeShipping      bool
	// GapToThreshold is the remaining post-discount subtotal needed for free
	// shipping, nil when no threshold is configured. Never negative.
	GapToThreshold *Money
	Total          Money
}

// DiscountBase returns the amount coupon percentages apply to for a line.
func DiscountBase(it LineItem) Money {
	if it.ConfigFixedPrice > 0 {
		return it.ConfigFixedPrice
	}
	return it.BasePrice
}

// EffectiveUnitPrice prices one unit of the line: discount base, in-scope
// percentage coupon discount, sequential configuration adjustments, then the
// undiscountable option surcharge.
func EffectiveUnitPrice(it LineItem, coupons []AppliedCoupon) Money {
	return unitPrice(it, coupons)
}

func unitPrice(it LineItem, coupons []AppliedCoupon) Money {
	price := DiscountBase(it)
	if bps := percentCouponBps(it.ID, coupons); bps > 0 {
		price = price * (bpsDenom - bps) / bpsDenom
	}
	for _, adj := range it.ConfigPercentBps {
		price = price * (bpsDenom + Money(adj)) / bpsDenom
	}
	if price < 0 {
		price = 0
	}
	return price + it.OptionSurcharge
}

// percentCouponBps sums the percentage rates of applied coupons covering the
// product. Additive, capped at 100%; fixed coupons discount at cart level only.
func percentCouponBps(productID string, coupons []AppliedCoupon) Money {
	var total Money
	for _, c := range coupons {
		if c.Kind != KindPercent || c.PercentBps <= 0 {
			continue
		}
		if c.AppliesTo(productID) {
			total += Money(c.PercentBps)
		}
	}
	if total > bpsDenom {
		total = bpsDenom
	}
	return total
}

// CouponDiscountTotal sums previously recorded per-coupon discount amounts.
// Flat additive sum, not sequential re-application to a shrinking base.
func CouponDiscountTotal(coupons []AppliedCoupon) Money {
	var total Money
	for _, c := range coupons {
		if c.Amount > 0 {
			total += c.Amount
		}
	}
	return total
}

// Compute calculates cart totals. Dependency order: line pricing, subtotal,
// discount resolution, shipping resolution, final total.
func Compute(in Input, policy Policy) Summary {
	s := Summary{Lines: make([]LineSummary, 0, len(in.Items))}

	var grossShipping Money
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			continue
		}
		unit := unitPrice(it, nil)
		line := LineSummary{
			ID:                  it.ID,
			UnitPrice:           unit,
			DiscountedUnitPrice: unitPrice(it, in.Coupons),
			Quantity:            it.Quantity,
			LineTotal:           unit * Money(it.Quantity),
		}
		s.Lines = append(s.Lines, line)
		s.Subtotal += line.LineTotal
		grossShipping += it.UnitShipping * Money(it.Quantity)
	}
	if in.FlatShipping != nil {
		grossShipping = *in.FlatShipping
	}
	if grossShipping < 0 {
		grossShipping = 0
	}
	s.GrossShipping = grossShipping

	s.CouponDiscount = CouponDiscountTotal(in.Coupons)

	if in.FirstTime.Eligible && in.FirstTime.Applied && in.FirstTime.PercentBps > 0 {
		if len(in.Coupons) == 0 || policy.FirstTimeWithCoupons {
			s.FirstTimeDiscount = s.Subtotal * Money(in.FirstTime.PercentBps) / bpsDenom
		}
	}
	if in.Address.Eligible && in.Address.PercentBps > 0 {
		s.AddressDiscount = s.Subtotal * Money(in.Address.PercentBps) / bpsDenom
	}

	basis := s.Subtotal - s.CouponDiscount
	if policy.ThresholdBasis == BasisSubtotalMinusAll {
		basis -= s.FirstTimeDiscount + s.AddressDiscount
	}
	if basis < 0 {
		basis = 0
	}

	s.Shipping = grossShipping
	if in.FreeShippingThreshold > 0 {
		if basis >= in.FreeShippingThreshold {
			s.Shipping = 0
			s.FreeShipping = true
		}
		gap := in.FreeShippingThreshold - basis
		if gap < 0 {
			gap = 0
		}
		s.GapToThreshold = &gap
	}

	total := s.Subtotal + s.Shipping - s.AddressDiscount - s.FirstTimeDiscount - s.CouponDiscount
	if total < 0 {
		total = 0
	}
	s.Total = total
	return s
}

// CeilGapUnits rounds a minor-unit gap up to whole major units for the
// free-shipping progress display.
func CeilGapUnits(gap Money, minorPerUnit int64) int64 {
	if minorPerUnit <= 0 {
		minorPerUnit = 100
	}
	if gap <= 0 {
		return 0
	}
	return (gap + minorPerUnit - 1) / minorPerUnit
}
