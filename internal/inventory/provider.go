package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/noah-isme/storefront-cart/internal/resilience"
)

// ErrNotFound indicates the product is unknown to the inventory service.
var ErrNotFound = errors.New("inventory: product not found")

// Product is the stock snapshot the cart consults before quantity changes.
type Product struct {
	ID string `json:"id"`
	// Available is the purchasable quantity right now.
	Available int `json:"quantity"`
	// RequiresOption marks products that cannot be added without a selected option.
	RequiresOption bool `json:"requiresOption"`
}

// Provider exposes per-product availability. The cart treats it as the stock
// precondition hook; it never recomputes availability itself.
type Provider interface {
	Product(ctx context.Context, id string) (Product, error)
}

// StaticProvider serves stock from a fixed map. Used in tests and local setups.
type StaticProvider map[string]Product

func (p StaticProvider) Product(_ context.Context, id string) (Product, error) {
	product, ok := p[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return product, nil
}

// HTTPProvider fetches stock from the inventory service.
type HTTPProvider struct {
	BaseURL string
	Client  resilience.HTTPClient
}

func (p HTTPProvider) Product(ctx context.Context, id string) (Product, error) {
	base := strings.TrimRight(p.BaseURL, "/")
	if base == "" {
		return Product{}, errors.New("inventory: base url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/products/"+url.PathEscape(id)+"/stock", nil)
	if err != nil {
		return Product{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.Client.Do(ctx, req)
	if err != nil {
		return Product{}, fmt.Errorf("inventory: fetch stock: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return Product{}, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return Product{}, fmt.Errorf("inventory: unexpected status %s", resp.Status)
	}
	var product Product
	if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
		return Product{}, fmt.Errorf("inventory: decode stock: %w", err)
	}
	if product.ID == "" {
		product.ID = id
	}
	return product, nil
}
