package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-cart/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"REDIS_URL":          "redis://localhost:6379/0",
		"COUPON_SERVICE_URL": "http://coupons.local",
	})
	require.NoError(t, err)
	require.Equal(t, "development", cfg.AppEnv)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, "subtotal-minus-coupon", cfg.ThresholdBasis)
	require.Equal(t, 7*24*time.Hour, cfg.CartTTL)
	require.False(t, cfg.FirstTimeWithCoupons)
	require.Equal(t, 120, cfg.RateLimitRPM)
}

func TestLoadRequiresRedisAndCouponService(t *testing.T) {
	_, err := config.LoadForTests(map[string]string{
		"REDIS_URL":          "",
		"COUPON_SERVICE_URL": "http://coupons.local",
	})
	require.Error(t, err)

	_, err = config.LoadForTests(map[string]string{
		"REDIS_URL":          "redis://localhost:6379/0",
		"COUPON_SERVICE_URL": "",
	})
	require.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"REDIS_URL":                       "redis://localhost:6379/0",
		"COUPON_SERVICE_URL":              "http://coupons.local",
		"PORT":                            "9090",
		"FREE_SHIPPING_THRESHOLD":         "15000",
		"PRICING_FIRST_TIME_WITH_COUPONS": "true",
		"CART_TTL":                        "48h",
	})
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddr())
	require.Equal(t, int64(15000), cfg.FreeShippingThreshold)
	require.True(t, cfg.FirstTimeWithCoupons)
	require.Equal(t, 48*time.Hour, cfg.CartTTL)
}
