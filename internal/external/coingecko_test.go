package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchPrices_BatchedRequest(t *testing.T) {
	var gotIDs, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		gotIDs = r.URL.Query().Get("ids")
		gotKey = r.Header.Get("x-cg-pro-api-key")
		w.Write([]byte(`{"bitcoin":{"usd":65000.5},"ethereum":{"usd":3200},"dead-coin":{"usd":0}}`))
	}))
	defer srv.Close()

	c := NewCoinGeckoClient(srv.URL+"/", "secret")
	prices, err := c.FetchPrices(context.Background(), []string{"bitcoin", "ethereum", "dead-coin"})
	require.NoError(t, err)

	assert.Equal(t, "bitcoin,ethereum,dead-coin", gotIDs)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, map[string]float64{"bitcoin": 65000.5, "ethereum": 3200}, prices)
}

func TestFetchPrices_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{}`},
		{name: "malformed payload", status: http.StatusOK, body: `{"bitcoin":`},
		{name: "server error", status: http.StatusBadGateway, body: `oops`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewCoinGeckoClient(srv.URL, "")
			c.retry.BaseDelay = 0
			_, err := c.FetchPrices(context.Background(), []string{"bitcoin"})
			assert.Error(t, err)
		})
	}
}

func TestFetchPrices_NoIDs(t *testing.T) {
	c := NewCoinGeckoClient("http://127.0.0.1:0", "")
	prices, err := c.FetchPrices(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, prices)
}
