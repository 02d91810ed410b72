package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func catalogFixture(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/products", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(productsResponse{
			Products: []CatalogProduct{
				{ID: 1, Title: "Widget", Category: "tools", Brand: "Acme", Price: 9.99, Rating: 4.2, Stock: 12},
				{ID: 2, Title: "Gadget", Category: "tools", Brand: "Acme", Price: 19.99, Rating: 3.8, Stock: 3},
			},
			Total: 2,
		})
	})
	mux.HandleFunc("/carts", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(cartsResponse{
			Carts: []Cart{
				{
					ID:     42,
					UserID: 7,
					Products: []CartItem{
						{ProductID: 1, Title: "Widget", Price: 9.99, Quantity: 2, Total: 19.98},
						{ProductID: 2, Title: "Gadget", Price: 19.99, Quantity: 1, Total: 19.99},
					},
					Total:           39.97,
					DiscountedTotal: 35.00,
					TotalProducts:   2,
					TotalQuantity:   3,
				},
			},
			Total: 1,
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func TestCatalogClient(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()

	t.Run("retries server errors until success", func(t *testing.T) {
		var calls atomic.Int32

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)

				return
			}

			_ = json.NewEncoder(w).Encode(productsResponse{Products: []CatalogProduct{{ID: 1}}, Total: 1})
		}))
		defer server.Close()

		client := NewCatalogClient(server.URL, WithMaxRetries(3))

		products, err := client.Products(ctx)
		require.NoError(t, err)
		assert.Len(t, products, 1)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("client errors are permanent", func(t *testing.T) {
		var calls atomic.Int32

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		client := NewCatalogClient(server.URL, WithMaxRetries(5))

		_, err := client.Products(ctx)
		require.ErrorIs(t, err, ErrCatalogBadResponse)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("exhausted retries surface the request error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client := NewCatalogClient(server.URL, WithMaxRetries(1))

		_, err := client.Products(ctx)
		require.ErrorIs(t, err, ErrCatalogRequestFailed)
	})

	t.Run("unparseable body is permanent", func(t *testing.T) {
		var calls atomic.Int32

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			_, _ = w.Write([]byte("<html>not json</html>"))
		}))
		defer server.Close()

		client := NewCatalogClient(server.URL, WithMaxRetries(5))

		_, err := client.Carts(ctx)
		require.ErrorIs(t, err, ErrCatalogBadResponse)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("host strips the scheme for source identifiers", func(t *testing.T) {
		client := NewCatalogClient("https://dummyjson.com")
		assert.Equal(t, "dummyjson.com", client.Host())
	})
}

func TestAPIExtractorOrders(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server := catalogFixture(t)
	sink := &memorySink{}
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 15, 8, 0, 0, 0, time.UTC))

	extractor, err := NewAPIExtractor(NewCatalogClient(server.URL), sink, WithAPIClock(clock))
	require.NoError(t, err)

	count, err := extractor.ExtractOrders(context.Background(), "2024-06-15")
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Len(t, sink.orders, 1)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(sink.orders[0].Payload, &payload))

	assert.Equal(t, "CART_42", payload["order_id"])
	assert.Equal(t, "7", payload["user_id"])
	assert.Equal(t, "completed", payload["status"])
	assert.InDelta(t, 39.97, payload["total"], 0.001)
	assert.Len(t, payload["products"], 2)
	assert.Contains(t, sink.orders[0].SourceFile, "/carts")
}

func TestAPIExtractorProducts(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server := catalogFixture(t)
	sink := &memorySink{}

	extractor, err := NewAPIExtractor(NewCatalogClient(server.URL), sink)
	require.NoError(t, err)

	count, err := extractor.ExtractProducts(context.Background(), "2024-06-15")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(sink.products[0].Payload, &payload))

	assert.Equal(t, "1", payload["product_id"])
	assert.Equal(t, "Widget", payload["product_name"])
	assert.Equal(t, "Acme", payload["brand"])
	assert.InDelta(t, 9.99, payload["current_price"], 0.001)
}

func TestAPIExtractorEvents(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	server := catalogFixture(t)
	sink := &memorySink{}

	extractor, err := NewAPIExtractor(NewCatalogClient(server.URL), sink)
	require.NoError(t, err)

	count, err := extractor.ExtractEvents(context.Background(), "2024-06-15")
	require.NoError(t, err)

	// One view per catalog product, one add_to_cart per cart line item.
	require.Equal(t, 4, count)

	byType := map[string]int{}
	for _, ev := range sink.events {
		byType[ev.EventType]++

		assert.NotEmpty(t, ev.EventID)
		assert.NotEmpty(t, ev.UserID)
		assert.NotEmpty(t, ev.ProductID)
	}

	assert.Equal(t, 2, byType["view_product"])
	assert.Equal(t, 2, byType["add_to_cart"])
}
