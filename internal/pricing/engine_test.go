package pricing

import "testing"

func money(v int64) *Money {
	m := Money(v)
	return &m
}

func TestLineTotalScalesLinearly(t *testing.T) {
	item := LineItem{ID: "p1", BasePrice: 2_500, Quantity: 1}
	base := Compute(Input{Items: []LineItem{item}}, Policy{})
	for qty := 2; qty <= 5; qty++ {
		item.Quantity = qty
		s := Compute(Input{Items: []LineItem{item}}, Policy{})
		if s.Lines[0].LineTotal != base.Lines[0].LineTotal*Money(qty) {
			t.Fatalf("qty %d: expected linear line total, got %d", qty, s.Lines[0].LineTotal)
		}
		if s.Lines[0].LineTotal < 0 {
			t.Fatalf("line total must not be negative")
		}
	}
}

func TestConfigFixedPriceReplacesBase(t *testing.T) {
	item := LineItem{ID: "p1", BasePrice: 10_000, ConfigFixedPrice: 8_000, Quantity: 2}
	s := Compute(Input{Items: []LineItem{item}}, Policy{})
	if s.Subtotal != 16_000 {
		t.Fatalf("expected configured price to replace base, got subtotal %d", s.Subtotal)
	}
}

func TestPercentAdjustmentsApplySequentially(t *testing.T) {
	// +10% then -50% of 10000: 11000 -> 5500. Order is not commutative in general.
	item := LineItem{ID: "p1", BasePrice: 10_000, ConfigPercentBps: []int32{1000, -5000}, Quantity: 1}
	if got := EffectiveUnitPrice(item, nil); got != 5_500 {
		t.Fatalf("expected 5500, got %d", got)
	}
}

func TestOptionSurchargeNeverDiscounted(t *testing.T) {
	item := LineItem{ID: "p1", BasePrice: 10_000, OptionSurcharge: 700, Quantity: 1}
	coupons := []AppliedCoupon{{Code: "HALF", Kind: KindPercent, PercentBps: 5000, Amount: 5_000}}
	if got := EffectiveUnitPrice(item, coupons); got != 5_700 {
		t.Fatalf("expected surcharge at full price, got %d", got)
	}
}

func TestCouponScopeCheck(t *testing.T) {
	coupons := []AppliedCoupon{{Code: "P10", Kind: KindPercent, PercentBps: 1000, Scope: []string{"p2"}}}
	inScope := LineItem{ID: "p2", BasePrice: 1_000, Quantity: 1}
	outOfScope := LineItem{ID: "p1", BasePrice: 1_000, Quantity: 1}
	if got := EffectiveUnitPrice(inScope, coupons); got != 900 {
		t.Fatalf("in-scope line: expected 900, got %d", got)
	}
	if got := EffectiveUnitPrice(outOfScope, coupons); got != 1_000 {
		t.Fatalf("out-of-scope line: expected 1000, got %d", got)
	}
}

func TestCouponDiscountAdditiveNotCompounded(t *testing.T) {
	// Scenario C: 10% ($10) plus fixed $5 on a $100 cart totals $15, not $100*0.9-5 re-applied.
	coupons := []AppliedCoupon{
		{Code: "TEN", Kind: KindPercent, PercentBps: 1000, Amount: 1_000},
		{Code: "FIVE", Kind: KindFixed, Value: 500, Amount: 500},
	}
	if got := CouponDiscountTotal(coupons); got != 1_500 {
		t.Fatalf("expected 1500, got %d", got)
	}
	reversed := []AppliedCoupon{coupons[1], coupons[0]}
	if got := CouponDiscountTotal(reversed); got != 1_500 {
		t.Fatalf("expected order-independent total, got %d", got)
	}
}

func TestShippingBelowThreshold(t *testing.T) {
	// Scenario A: $100 subtotal, 10% coupon, $10 shipping, $150 threshold.
	in := Input{
		Items:                 []LineItem{{ID: "p1", BasePrice: 10_000, Quantity: 1, UnitShipping: 1_000}},
		Coupons:               []AppliedCoupon{{Code: "TEN", Kind: KindPercent, PercentBps: 1000, Amount: 1_000}},
		FreeShippingThreshold: 15_000,
	}
	s := Compute(in, Policy{ThresholdBasis: BasisSubtotalMinusCoupon})
	if s.Shipping != 1_000 {
		t.Fatalf("expected shipping 1000, got %d", s.Shipping)
	}
	if s.CouponDiscount != 1_000 {
		t.Fatalf("expected coupon discount 1000, got %d", s.CouponDiscount)
	}
	if s.Total != 10_000 {
		t.Fatalf("expected final total 10000, got %d", s.Total)
	}
	if s.GapToThreshold == nil || *s.GapToThreshold != 6_000 {
		t.Fatalf("expected gap 6000, got %v", s.GapToThreshold)
	}
}

func TestShippingWaivedAtThreshold(t *testing.T) {
	// Scenario B: $500 subtotal meets a $500 threshold.
	in := Input{
		Items:                 []LineItem{{ID: "p1", BasePrice: 50_000, Quantity: 1, UnitShipping: 2_000}},
		FreeShippingThreshold: 50_000,
	}
	s := Compute(in, Policy{})
	if s.Shipping != 0 || !s.FreeShipping {
		t.Fatalf("expected free shipping, got %d", s.Shipping)
	}
	if s.Total != 50_000 {
		t.Fatalf("expected total 50000, got %d", s.Total)
	}
	if s.GapToThreshold == nil || *s.GapToThreshold != 0 {
		t.Fatalf("expected zero gap, got %v", s.GapToThreshold)
	}
}

func TestThresholdComparesPostDiscountSubtotal(t *testing.T) {
	in := Input{
		Items:                 []LineItem{{ID: "p1", BasePrice: 15_000, Quantity: 1, UnitShipping: 500}},
		Coupons:               []AppliedCoupon{{Code: "C", Kind: KindFixed, Value: 1_000, Amount: 1_000}},
		FreeShippingThreshold: 15_000,
	}
	s := Compute(in, Policy{ThresholdBasis: BasisSubtotalMinusCoupon})
	if s.Shipping != 500 {
		t.Fatalf("post-discount subtotal is below threshold, expected gross shipping, got %d", s.Shipping)
	}
}

func TestThresholdBasisMinusAllDiscounts(t *testing.T) {
	in := Input{
		Items:                 []LineItem{{ID: "p1", BasePrice: 10_000, Quantity: 1, UnitShipping: 500}},
		Address:               AddressDiscount{Eligible: true, PercentBps: 1000},
		FreeShippingThreshold: 9_500,
	}
	couponOnly := Compute(in, Policy{ThresholdBasis: BasisSubtotalMinusCoupon})
	if couponOnly.Shipping != 0 {
		t.Fatalf("coupon-only basis should clear threshold, got shipping %d", couponOnly.Shipping)
	}
	allDiscounts := Compute(in, Policy{ThresholdBasis: BasisSubtotalMinusAll})
	if allDiscounts.Shipping != 500 {
		t.Fatalf("all-discounts basis nets out address discount, expected 500, got %d", allDiscounts.Shipping)
	}
}

func TestFirstTimeDiscountPolicy(t *testing.T) {
	in := Input{
		Items:     []LineItem{{ID: "p1", BasePrice: 10_000, Quantity: 1}},
		Coupons:   []AppliedCoupon{{Code: "TEN", Kind: KindFixed, Value: 1_000, Amount: 1_000}},
		FirstTime: FirstTimeDiscount{Eligible: true, Applied: true, PercentBps: 500},
	}
	strict := Compute(in, Policy{FirstTimeWithCoupons: false})
	if strict.FirstTimeDiscount != 0 {
		t.Fatalf("cart view: first-time discount must not stack with coupons, got %d", strict.FirstTimeDiscount)
	}
	stacked := Compute(in, Policy{FirstTimeWithCoupons: true})
	if stacked.FirstTimeDiscount != 500 {
		t.Fatalf("mini-cart view: expected 500, got %d", stacked.FirstTimeDiscount)
	}

	in.Coupons = nil
	noCoupons := Compute(in, Policy{FirstTimeWithCoupons: false})
	if noCoupons.FirstTimeDiscount != 500 {
		t.Fatalf("coupon-free cart: expected 500, got %d", noCoupons.FirstTimeDiscount)
	}
}

func TestFirstTimeRequiresEligibility(t *testing.T) {
	in := Input{
		Items:     []LineItem{{ID: "p1", BasePrice: 10_000, Quantity: 1}},
		FirstTime: FirstTimeDiscount{Eligible: false, Applied: true, PercentBps: 500},
	}
	if s := Compute(in, Policy{}); s.FirstTimeDiscount != 0 {
		t.Fatalf("ineligible cart must not receive first-time discount, got %d", s.FirstTimeDiscount)
	}
}

func TestAddressDiscountStacksIndependently(t *testing.T) {
	in := Input{
		Items:     []LineItem{{ID: "p1", BasePrice: 10_000, Quantity: 1}},
		Coupons:   []AppliedCoupon{{Code: "C", Kind: KindFixed, Value: 1_000, Amount: 1_000}},
		Address:   AddressDiscount{Eligible: true, PercentBps: 1000},
		FirstTime: FirstTimeDiscount{Eligible: true, Applied: true, PercentBps: 500},
	}
	s := Compute(in, Policy{FirstTimeWithCoupons: true})
	if s.AddressDiscount != 1_000 {
		t.Fatalf("expected address discount 1000, got %d", s.AddressDiscount)
	}
	// 10000 - 1000 coupon - 1000 address - 500 first-time
	if s.Total != 7_500 {
		t.Fatalf("expected total 7500, got %d", s.Total)
	}
}

func TestTotalFlooredAtZero(t *testing.T) {
	in := Input{
		Items:   []LineItem{{ID: "p1", BasePrice: 1_000, Quantity: 1}},
		Coupons: []AppliedCoupon{{Code: "BIG", Kind: KindFixed, Value: 5_000, Amount: 5_000}},
	}
	if s := Compute(in, Policy{}); s.Total != 0 {
		t.Fatalf("total must never go negative, got %d", s.Total)
	}
}

func TestFlatShippingOverride(t *testing.T) {
	in := Input{
		Items:        []LineItem{{ID: "p1", BasePrice: 5_000, Quantity: 2, UnitShipping: 400}},
		FlatShipping: money(650),
	}
	s := Compute(in, Policy{})
	if s.GrossShipping != 650 || s.Shipping != 650 {
		t.Fatalf("expected flat shipping override 650, got gross %d shipping %d", s.GrossShipping, s.Shipping)
	}
}

func TestRemovalRoundTrip(t *testing.T) {
	base := Input{
		Items:                 []LineItem{{ID: "p1", BasePrice: 12_345, Quantity: 3, UnitShipping: 199}},
		FreeShippingThreshold: 40_000,
	}
	before := Compute(base, Policy{})

	applied := base
	applied.Coupons = []AppliedCoupon{{Code: "TEN", Kind: KindPercent, PercentBps: 1000, Amount: 3_703}}
	_ = Compute(applied, Policy{})

	after := Compute(base, Policy{})
	if after.Subtotal != before.Subtotal || after.Shipping != before.Shipping || after.Total != before.Total {
		t.Fatalf("removing a coupon must restore totals exactly: before %+v after %+v", before, after)
	}
}

func TestNoThresholdMeansNoGap(t *testing.T) {
	s := Compute(Input{Items: []LineItem{{ID: "p1", BasePrice: 1_000, Quantity: 1}}}, Policy{})
	if s.GapToThreshold != nil {
		t.Fatalf("expected nil gap without threshold, got %v", *s.GapToThreshold)
	}
}

func TestCeilGapUnits(t *testing.T) {
	if got := CeilGapUnits(6_001, 100); got != 61 {
		t.Fatalf("expected 61, got %d", got)
	}
	if got := CeilGapUnits(0, 100); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := CeilGapUnits(-50, 100); got != 0 {
		t.Fatalf("negative gap must clamp to 0, got %d", got)
	}
}
