package upstox

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	brconfig "upagent/internal/config"
	"upagent/internal/market"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	c, err := NewClient(brconfig.UpstoxConfig{BaseURL: ts.URL, TimeoutSeconds: 5})
	require.NoError(t, err)
	c.SetAccessToken("test-token")
	return c
}

func TestPlaceOrderCarriesStopLossAsTriggerPrice(t *testing.T) {
	var captured map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/order/place", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &captured))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"status":"success","data":{"order_id":"240901000001"}}`)
	})

	res, err := c.PlaceOrder(context.Background(), market.OrderRequest{
		InstrumentKey: "NSE_EQ|INE002A01018",
		Side:          "BUY",
		Quantity:      4,
		StopLoss:      2450.5,
		TakeProfit:    2600,
		Product:       "I",
	})
	require.NoError(t, err)
	assert.Equal(t, "240901000001", res.OrderID)

	// 止损价必须落到 Upstox 的 trigger_price 字段上
	assert.InDelta(t, 2450.5, captured["trigger_price"], 1e-9)
	assert.Equal(t, "BUY", captured["transaction_type"])
	assert.Equal(t, "MARKET", captured["order_type"])
	assert.Equal(t, "DAY", captured["validity"])
	assert.Equal(t, "NSE_EQ|INE002A01018", captured["instrument_token"])
}

func TestPlaceOrderExplicitTriggerPriceWins(t *testing.T) {
	var captured map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		io.WriteString(w, `{"status":"success","data":{"order_id":"240901000002"}}`)
	})

	_, err := c.PlaceOrder(context.Background(), market.OrderRequest{
		InstrumentKey: "NSE_EQ|INE002A01018",
		Side:          "SELL",
		Quantity:      2,
		TriggerPrice:  2400,
		StopLoss:      2450,
		Product:       "I",
	})
	require.NoError(t, err)
	assert.InDelta(t, 2400.0, captured["trigger_price"], 1e-9)
}
