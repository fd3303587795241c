package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"order-automation-go/internal/automation"
	"order-automation-go/internal/config"
	"order-automation-go/internal/repository"
	"order-automation-go/internal/runtime"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func setupTestServer(t *testing.T) (*httptest.Server, *runtime.LocalRegistry) {
	t.Helper()
	log := zap.NewNop()
	registry := runtime.NewLocalRegistry(log)
	orders := automation.NewOrderTemplates(log, config.Engine{AutoActivate: true}, repository.NewMemoryRepository(), registry)
	s := NewServer(config.Server{Port: 0, AllowedOrigins: []string{"http://localhost:3000"}}, automation.NewActions(orders), log)

	server := httptest.NewServer(s.Handler())
	t.Cleanup(server.Close)
	return server, registry
}

func do(t *testing.T, method, url string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func createOrder(t *testing.T, base string, typ string, params string) map[string]any {
	t.Helper()
	code, env := do(t, http.MethodPost, base+"/api/v1/orders", map[string]any{
		"type":   typ,
		"params": json.RawMessage(params),
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	require.True(t, env.Success)

	var created struct {
		Order map[string]any `json:"order"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	return created.Order
}

func TestCreateAndGetOrder(t *testing.T) {
	server, registry := setupTestServer(t)

	o := createOrder(t, server.URL, "stop-loss", `{"token":"ETH","triggerPrice":3000,"sellPercent":100}`)
	assert.Equal(t, "active", o["status"])
	id := o["id"].(string)
	_, registered := registry.Lookup("flow:" + id)
	assert.True(t, registered)

	code, env := do(t, http.MethodGet, server.URL+"/api/v1/orders/"+id, nil)
	assert.Equal(t, http.StatusOK, code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "stop-loss", got["type"])
	assert.Equal(t, "flow:"+id, got["flowId"])
}

func TestErrorStatusCodes(t *testing.T) {
	server, _ := setupTestServer(t)
	o := createOrder(t, server.URL, "take-profit", `{"token":"ETH","triggerPrice":4000,"sellPercent":50}`)
	id := o["id"].(string)

	testCases := []struct {
		name   string
		method string
		path   string
		body   any
		code   int
	}{
		{"missing field", http.MethodPost, "/api/v1/orders", map[string]any{"type": "stop-loss", "params": map[string]any{"token": "ETH"}}, http.StatusBadRequest},
		{"unknown type", http.MethodPost, "/api/v1/orders", map[string]any{"type": "iceberg", "params": map[string]any{}}, http.StatusBadRequest},
		{"unknown order", http.MethodGet, "/api/v1/orders/nope", nil, http.StatusNotFound},
		{"activate active", http.MethodPost, "/api/v1/orders/" + id + "/activate", nil, http.StatusConflict},
		{"delete live order", http.MethodDelete, "/api/v1/orders/" + id, nil, http.StatusConflict},
		{"bad status", http.MethodPost, "/api/v1/orders/" + id + "/status", map[string]any{"status": "paused"}, http.StatusBadRequest},
		{"bad filter", http.MethodGet, "/api/v1/orders?status=sleeping", nil, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/v1/orders?limit=-1", nil, http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			code, env := do(t, tc.method, server.URL+tc.path, tc.body)
			assert.Equal(t, tc.code, code)
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.Error)
		})
	}
}

func TestLifecycleOverHTTP(t *testing.T) {
	server, registry := setupTestServer(t)
	o := createOrder(t, server.URL, "dual-protection", `{"token":"ETH","stopLossPrice":2500,"takeProfitPrice":4000,"sellPercent":100}`)
	id := o["id"].(string)
	base := server.URL + "/api/v1/orders/" + id

	code, env := do(t, http.MethodPost, base+"/evaluate", map[string]any{"snapshot": map[string]any{"price": 2400}})
	require.Equal(t, http.StatusOK, code, env.Error)
	var eval automation.Evaluation
	require.NoError(t, json.Unmarshal(env.Data, &eval))
	assert.True(t, eval.Fires)

	code, _ = do(t, http.MethodPost, base+"/status", map[string]any{"status": "triggered"})
	assert.Equal(t, http.StatusOK, code)
	code, _ = do(t, http.MethodPost, base+"/status", map[string]any{"status": "triggered"})
	assert.Equal(t, http.StatusConflict, code, "second trigger loses")

	code, _ = do(t, http.MethodPost, base+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, env = do(t, http.MethodPost, base+"/status", map[string]any{"status": "completed"})
	assert.Equal(t, http.StatusOK, code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "completed", got["status"])
	assert.NotEmpty(t, got["completedAt"])

	code, _ = do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, registry.Len(), "completed flows stay registered until the runtime drops them")
}

func TestListAndStats(t *testing.T) {
	server, registry := setupTestServer(t)
	first := createOrder(t, server.URL, "stop-loss", `{"token":"ETH","triggerPrice":3000,"sellPercent":100}`)
	createOrder(t, server.URL, "dca", `{"token":"BTC","amountPerExecution":50,"executions":4,"intervalSeconds":60}`)

	code, _ := do(t, http.MethodPost, server.URL+"/api/v1/orders/"+first["id"].(string)+"/cancel", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, registry.Len(), "cancel drops the flow")

	code, env := do(t, http.MethodGet, server.URL+"/api/v1/orders?status=active,paused", nil)
	require.Equal(t, http.StatusOK, code)
	var orders []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "dca", orders[0]["type"])

	code, env = do(t, http.MethodGet, server.URL+"/api/v1/orders?token=eth&limit=5", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "cancelled", orders[0]["status"])

	code, env = do(t, http.MethodGet, server.URL+"/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, code)
	var stats automation.OrderStats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByStatus["cancelled"])
	assert.Equal(t, 1, stats.ByType["dca"])
	assert.Equal(t, 0, stats.ByType["twap"])
}

func TestSnapshotAndExecutions(t *testing.T) {
	server, _ := setupTestServer(t)
	o := createOrder(t, server.URL, "twap", `{"token":"ETH","side":"buy","totalAmount":10,"slices":2,"durationSeconds":60}`)
	base := server.URL + "/api/v1/orders/" + o["id"].(string)

	code, env := do(t, http.MethodPost, base+"/snapshot", map[string]any{"snapshot": map[string]any{"gas": 12}})
	require.Equal(t, http.StatusOK, code, env.Error)
	var snap map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, true, snap["schedule.due"])
	assert.Equal(t, 2.0, snap["schedule.remaining"])
	assert.Equal(t, "5", snap["schedule.sliceAmount"])
	assert.Equal(t, 12.0, snap["gas"])

	code, env = do(t, http.MethodPost, base+"/executions", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	var got map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "active", got["status"])

	code, env = do(t, http.MethodPost, base+"/executions", nil)
	assert.Equal(t, http.StatusConflict, code, "next slice is not due for another 30s")
	assert.Contains(t, env.Error, "in status active")
}

func TestHealth(t *testing.T) {
	server, _ := setupTestServer(t)
	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
