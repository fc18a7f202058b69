package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/storefront-cart/internal/pricing"
	"github.com/noah-isme/storefront-cart/internal/resilience"
)

// Settings exposes storefront shipping configuration. A threshold of zero
// means free shipping is never granted by subtotal.
type Settings interface {
	FreeShippingThreshold(ctx context.Context) (pricing.Money, error)
}

// StaticSettings serves a fixed threshold from configuration.
type StaticSettings struct {
	Threshold pricing.Money
}

func (s StaticSettings) FreeShippingThreshold(context.Context) (pricing.Money, error) {
	return s.Threshold, nil
}

// HTTPSettings fetches shipping configuration from the settings service.
type HTTPSettings struct {
	BaseURL string
	Client  resilience.HTTPClient
}

func (s HTTPSettings) FreeShippingThreshold(ctx context.Context) (pricing.Money, error) {
	base := strings.TrimRight(s.BaseURL, "/")
	if base == "" {
		return 0, errors.New("shipping: base url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/settings/shipping", nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.Client.Do(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("shipping: fetch settings: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("shipping: unexpected status %s", resp.Status)
	}
	var payload struct {
		FreeShippingThreshold pricing.Money `json:"freeShippingThreshold"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("shipping: decode settings: %w", err)
	}
	if payload.FreeShippingThreshold < 0 {
		payload.FreeShippingThreshold = 0
	}
	return payload.FreeShippingThreshold, nil
}

// CachedSettings decorates a Settings provider with a Redis cache so the
// threshold is not re-fetched on every quote.
type CachedSettings struct {
	Inner  Settings
	Client *redis.Client
	Key    string
	TTL    time.Duration
}

func (c CachedSettings) FreeShippingThreshold(ctx context.Context) (pricing.Money, error) {
	if c.Inner == nil {
		return 0, errors.New("shipping: inner settings not configured")
	}
	key := c.Key
	if key == "" {
		key = "settings:free_shipping_threshold"
	}
	if c.Client != nil {
		// cache trouble should not block quoting, fall through on any error
		if val, err := c.Client.Get(ctx, key).Int64(); err == nil {
			return val, nil
		}
	}
	threshold, err := c.Inner.FreeShippingThreshold(ctx)
	if err != nil {
		return 0, err
	}
	if c.Client != nil {
		ttl := c.TTL
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		_ = c.Client.Set(ctx, key, threshold, ttl).Err()
	}
	return threshold, nil
}
