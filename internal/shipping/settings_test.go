package shipping_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-cart/internal/pricing"
	"github.com/noah-isme/storefront-cart/internal/resilience"
	"github.com/noah-isme/storefront-cart/internal/shipping"
)

func TestHTTPSettingsFetchesThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/settings/shipping", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"freeShippingThreshold": 15_000})
	}))
	defer srv.Close()

	settings := shipping.HTTPSettings{
		BaseURL: srv.URL,
		Client:  resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1},
	}
	threshold, err := settings.FreeShippingThreshold(context.Background())
	require.NoError(t, err)
	require.Equal(t, pricing.Money(15_000), threshold)
}

func TestCachedSettingsHitsInnerOnce(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"freeShippingThreshold": 20_000})
	}))
	defer srv.Close()

	cached := shipping.CachedSettings{
		Inner: shipping.HTTPSettings{
			BaseURL: srv.URL,
			Client:  resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1},
		},
		Client: client,
		TTL:    time.Minute,
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		threshold, err := cached.FreeShippingThreshold(ctx)
		require.NoError(t, err)
		require.Equal(t, pricing.Money(20_000), threshold)
	}
	require.Equal(t, int32(1), calls.Load())
}

func TestStaticSettings(t *testing.T) {
	settings := shipping.StaticSettings{Threshold: 9_900}
	threshold, err := settings.FreeShippingThreshold(context.Background())
	require.NoError(t, err)
	require.Equal(t, pricing.Money(9_900), threshold)
}
