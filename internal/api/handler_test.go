package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/reportledger/internal/domain"
	"github.com/punchamoorthee/reportledger/internal/notify"
	"github.com/punchamoorthee/reportledger/internal/provider"
	"github.com/punchamoorthee/reportledger/internal/service"
	"github.com/punchamoorthee/reportledger/internal/settings"
	"github.com/punchamoorthee/reportledger/internal/store"
	"github.com/punchamoorthee/reportledger/internal/worker"
)

type testServer struct {
	srv   *httptest.Server
	svc   *service.Service
	store *store.Memory
}

// newTestServer wires the real service on the memory store. The pool is never
// started, so queued jobs wait until a test runs them through Process.
func newTestServer(t *testing.T, queueSize int) *testServer {
	t.Helper()
	mem := store.NewMemory()
	costs := settings.NewStoreBacked(mem, settings.Static{domain.CostKindPremiumReport: 1}, zerolog.Nop())
	pool := worker.NewPool(queueSize, zerolog.Nop())
	svc := service.New(mem, costs, provider.Offline{}, pool, notify.NewSafe(notify.NewAudit(mem), zerolog.Nop()),
		zerolog.Nop(), service.Config{ProviderTimeout: time.Second})

	srv := httptest.NewServer(NewHandler(svc, costs, mem, zerolog.Nop()).Router())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, svc: svc, store: mem}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers ...string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (ts *testServer) balance(t *testing.T, identity string) int64 {
	t.Helper()
	acc, err := ts.store.GetAccount(context.Background(), identity)
	require.NoError(t, err)
	return acc.Balance
}

var idea = map[string]any{
	"account_identity": "a@example.com",
	"idea":             map[string]any{"title": "Coffee cart", "description": "Espresso on the beach"},
}

func TestAccounts(t *testing.T) {
	ts := newTestServer(t, 10)

	resp, body := ts.do(t, "POST", "/api/v1/accounts", map[string]any{"identity": "a@example.com", "initial_credits": 2})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.EqualValues(t, 2, body["balance"])

	resp, _ = ts.do(t, "POST", "/api/v1/accounts", map[string]any{"identity": "a@example.com"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = ts.do(t, "GET", "/api/v1/accounts/a@example.com", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "a@example.com", body["identity"])

	resp, _ = ts.do(t, "GET", "/api/v1/accounts/nobody@example.com", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.do(t, "GET", "/api/v1/accounts/a@example.com/transactions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["transactions"], 1)

	resp, _ = ts.do(t, "POST", "/api/v1/accounts", `{"identity":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitReport(t *testing.T) {
	ts := newTestServer(t, 10)
	ts.do(t, "POST", "/api/v1/accounts", map[string]any{"identity": "a@example.com", "initial_credits": 1})

	resp, body := ts.do(t, "POST", "/api/v1/reports", idea, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "premium", body["report_type"])
	assert.Equal(t, "pending", body["status"])
	requestID := body["request_id"].(string)
	assert.Equal(t, "/api/v1/reports/"+requestID, resp.Header.Get("Location"))
	assert.Equal(t, int64(0), ts.balance(t, "a@example.com"))

	resp, body = ts.do(t, "POST", "/api/v1/reports", idea, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, requestID, body["request_id"])
	assert.Equal(t, int64(0), ts.balance(t, "a@example.com"))

	other := map[string]any{
		"account_identity": "a@example.com",
		"idea":             map[string]any{"title": "Food truck", "description": "Tacos"},
	}
	resp, _ = ts.do(t, "POST", "/api/v1/reports", other, "Idempotency-Key", "k1")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body = ts.do(t, "POST", "/api/v1/reports", other)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "free", body["report_type"])

	resp, body = ts.do(t, "GET", "/api/v1/reports/"+requestID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "premium", body["report_type"])
}

func TestSubmitReport_Validation(t *testing.T) {
	ts := newTestServer(t, 10)
	ts.do(t, "POST", "/api/v1/accounts", map[string]any{"identity": "a@example.com"})

	resp, _ := ts.do(t, "POST", "/api/v1/reports", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, "POST", "/api/v1/reports", map[string]any{"account_identity": "a@example.com", "idea": map[string]any{}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = ts.do(t, "POST", "/api/v1/reports", map[string]any{
		"account_identity": "ghost@example.com",
		"idea":             map[string]any{"title": "t", "description": "d"},
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, "GET", "/api/v1/reports/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubmitReport_QueueFull(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.do(t, "POST", "/api/v1/accounts", map[string]any{"identity": "a@example.com", "initial_credits": 1})

	resp, _ := ts.do(t, "POST", "/api/v1/reports", idea)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, int64(1), ts.balance(t, "a@example.com"))
}

func TestFailReport(t *testing.T) {
	ts := newTestServer(t, 10)
	ts.do(t, "POST", "/api/v1/accounts", map[string]any{"identity": "a@example.com", "initial_credits": 1})
	_, body := ts.do(t, "POST", "/api/v1/reports", idea)
	requestID := body["request_id"].(string)

	resp, body := ts.do(t, "POST", "/api/v1/reports/"+requestID+"/fail", map[string]any{"reason": "worker lost"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["outcome"].(map[string]any)["refunded"])
	assert.Equal(t, int64(1), ts.balance(t, "a@example.com"))

	resp, body = ts.do(t, "POST", "/api/v1/reports/"+requestID+"/fail", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["outcome"].(map[string]any)["refunded"])
	assert.Equal(t, int64(1), ts.balance(t, "a@example.com"))
}

func TestFailReport_CompletedIsConflict(t *testing.T) {
	ts := newTestServer(t, 10)
	ts.do(t, "POST", "/api/v1/accounts", map[string]any{"identity": "a@example.com", "initial_credits": 1})
	_, body := ts.do(t, "POST", "/api/v1/reports", idea)
	requestID := body["request_id"].(string)

	require.NoError(t, ts.svc.Process(context.Background(), worker.Job{RequestID: requestID}))

	resp, body := ts.do(t, "GET", "/api/v1/reports/"+requestID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])
	assert.NotNil(t, body["result_payload"])

	resp, _ = ts.do(t, "POST", "/api/v1/reports/"+requestID+"/fail", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, int64(0), ts.balance(t, "a@example.com"))
}

func TestGrantCredits(t *testing.T) {
	ts := newTestServer(t, 10)
	ts.do(t, "POST", "/api/v1/accounts", map[string]any{"identity": "a@example.com"})

	resp, body := ts.do(t, "POST", "/api/v1/accounts/a@example.com/credits",
		map[string]any{"kind": "purchase", "amount": 3, "reference": "order-7"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.EqualValues(t, 3, body["balance"])

	resp, _ = ts.do(t, "POST", "/api/v1/accounts/a@example.com/credits", map[string]any{"kind": "usage", "amount": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = ts.do(t, "POST", "/api/v1/accounts/a@example.com/credits", map[string]any{"kind": "adjustment", "amount": -9})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestSetCost(t *testing.T) {
	ts := newTestServer(t, 10)
	ts.do(t, "POST", "/api/v1/accounts", map[string]any{"identity": "a@example.com", "initial_credits": 3})

	resp, _ := ts.do(t, "PUT", "/api/v1/settings/costs/premium_report", map[string]any{"cost": 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.do(t, "PUT", "/api/v1/settings/costs/premium_report", map[string]any{"cost": 0})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = ts.do(t, "PUT", "/api/v1/settings/costs/teleport", map[string]any{"cost": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	ts.do(t, "POST", "/api/v1/reports", idea)
	assert.Equal(t, int64(1), ts.balance(t, "a@example.com"))
}

func TestHealthAndRequestID(t *testing.T) {
	ts := newTestServer(t, 10)

	resp, body := ts.do(t, "GET", "/health", nil, "X-Request-ID", "req-123")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "req-123", resp.Header.Get("X-Request-ID"))

	resp, _ = ts.do(t, "GET", "/health", nil)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
