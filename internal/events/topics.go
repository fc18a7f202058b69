package events

// Topics emitted by the cart service.
const (
	TopicCartItemAdded     = "cart.item_added"
	TopicCartItemUpdated   = "cart.item_updated"
	TopicCartItemRemoved   = "cart.item_removed"
	TopicCartCleared       = "cart.cleared"
	TopicCouponApplied     = "cart.coupon_applied"
	TopicCouponRemoved     = "cart.coupon_removed"
	TopicCouponRejected    = "cart.coupon_rejected"
	TopicQuoteComputed     = "cart.quote_computed"
	TopicFreeShippingGiven = "cart.free_shipping_granted"
)
