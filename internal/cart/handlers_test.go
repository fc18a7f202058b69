package cart_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-cart/internal/cart"
	"github.com/noah-isme/storefront-cart/internal/coupon"
)

func newTestRouter(t *testing.T, svc *cart.Service) http.Handler {
	t.Helper()
	handler := &cart.Handler{Svc: svc, Validate: validator.New()}
	r := chi.NewRouter()
	handler.Routes(r)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHandlerCartLifecycle(t *testing.T) {
	svc := newService(t)
	router := newTestRouter(t, svc)

	created := doJSON(t, router, http.MethodPost, "/carts", `{}`)
	require.Equal(t, http.StatusCreated, created.Code)
	var createBody struct {
		Data struct {
			CartID string `json:"cartId"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &createBody))
	cartID := createBody.Data.CartID
	require.NotEmpty(t, cartID)

	added := doJSON(t, router, http.MethodPost, "/carts/"+cartID+"/items",
		`{"productId":"mug","basePrice":10000,"quantity":1,"unitShipping":1000}`)
	require.Equal(t, http.StatusOK, added.Code)

	got := doJSON(t, router, http.MethodGet, "/carts/"+cartID, "")
	require.Equal(t, http.StatusOK, got.Code)
	var quote struct {
		Data struct {
			Pricing struct {
				Subtotal          int64  `json:"subtotal"`
				Shipping          int64  `json:"shipping"`
				FreeShipping      bool   `json:"freeShipping"`
				GapToFreeShipping *int64 `json:"gapToFreeShipping"`
				Total             int64  `json:"total"`
			} `json:"pricing"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &quote))
	require.Equal(t, int64(10_000), quote.Data.Pricing.Subtotal)
	require.Equal(t, int64(1_000), quote.Data.Pricing.Shipping)
	require.False(t, quote.Data.Pricing.FreeShipping)
	require.NotNil(t, quote.Data.Pricing.GapToFreeShipping)
	require.Equal(t, int64(5_000), *quote.Data.Pricing.GapToFreeShipping)
	require.Equal(t, int64(11_000), quote.Data.Pricing.Total)
}

func TestHandlerValidatesPayload(t *testing.T) {
	svc := newService(t)
	router := newTestRouter(t, svc)

	created := doJSON(t, router, http.MethodPost, "/carts", `{}`)
	var createBody struct {
		Data struct {
			CartID string `json:"cartId"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &createBody))

	missingQty := doJSON(t, router, http.MethodPost, "/carts/"+createBody.Data.CartID+"/items",
		`{"productId":"mug","basePrice":1000}`)
	require.Equal(t, http.StatusBadRequest, missingQty.Code)
}

func TestHandlerStockConflict(t *testing.T) {
	svc := newService(t)
	router := newTestRouter(t, svc)

	created := doJSON(t, router, http.MethodPost, "/carts", `{}`)
	var createBody struct {
		Data struct {
			CartID string `json:"cartId"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &createBody))
	cartID := createBody.Data.CartID

	first := doJSON(t, router, http.MethodPost, "/carts/"+cartID+"/items",
		`{"productId":"shirt","basePrice":2000,"quantity":4}`)
	require.Equal(t, http.StatusOK, first.Code)

	second := doJSON(t, router, http.MethodPost, "/carts/"+cartID+"/items",
		`{"productId":"shirt","basePrice":2000,"quantity":4}`)
	require.Equal(t, http.StatusConflict, second.Code)
	var errBody struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &errBody))
	require.Equal(t, "INSUFFICIENT_STOCK", errBody.Error.Code)
	require.Contains(t, errBody.Error.Message, "5 in stock")
	require.Contains(t, errBody.Error.Message, "4 already in cart")
}

func TestHandlerCouponRejectionStatus(t *testing.T) {
	svc := newService(t)
	svc.Validator = fakeValidator{
		validate: func(context.Context, coupon.ValidateRequest) (coupon.ValidateResult, error) {
			return coupon.ValidateResult{Success: false, Message: "minimum spend not met"}, nil
		},
	}
	router := newTestRouter(t, svc)

	created := doJSON(t, router, http.MethodPost, "/carts", `{}`)
	var createBody struct {
		Data struct {
			CartID string `json:"cartId"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &createBody))

	rejected := doJSON(t, router, http.MethodPost, "/carts/"+createBody.Data.CartID+"/coupons",
		`{"code":"TOOSMALL"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rejected.Code)
	require.Contains(t, rejected.Body.String(), "minimum spend not met")
}

func TestHandlerUnknownCartIs404(t *testing.T) {
	svc := newService(t)
	router := newTestRouter(t, svc)
	got := doJSON(t, router, http.MethodGet, "/carts/nope", "")
	require.Equal(t, http.StatusNotFound, got.Code)
}
