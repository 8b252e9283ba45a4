package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"perpguard/config"
	"perpguard/engine"
	"perpguard/metrics"
	"perpguard/storage"
)

type fakeStatus struct {
	st engine.Status
}

func (f *fakeStatus) Status() engine.Status { return f.st }

type fakeProcess struct{}

func (fakeProcess) Snapshot() metrics.ProcessStats { return metrics.ProcessStats{PID: 42, Goroutines: 7} }

func newRouter(api *API) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	SetupRoutes(r, api)
	return r
}

func get(t *testing.T, r http.Handler, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]interface{}
	if w.Header().Get("Content-Type") != "" && w.Code != http.StatusNotFound {
		_ = json.Unmarshal(w.Body.Bytes(), &body)
	}
	return w, body
}

func TestHealthz(t *testing.T) {
	status := &fakeStatus{st: engine.Status{Symbol: "BTCUSDT"}}
	r := newRouter(NewAPI(status, nil, nil, nil))

	w, body := get(t, r, "/healthz")
	if w.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("未停机时应返回 200 ok, 得到 %d %v", w.Code, body)
	}

	status.st.Halted = true
	status.st.HaltReason = "MAX_DRAWDOWN_HIT"
	w, body = get(t, r, "/healthz")
	if w.Code != http.StatusServiceUnavailable || body["halt_reason"] != "MAX_DRAWDOWN_HIT" {
		t.Errorf("停机时应返回 503 和原因, 得到 %d %v", w.Code, body)
	}
}

func TestStatusIncludesEngineAndProcess(t *testing.T) {
	status := &fakeStatus{st: engine.Status{
		RunID:           "run-1",
		Symbol:          "BTCUSDT",
		PnLPct:          decimal.RequireFromString("-1.25"),
		LastCycleResult: engine.CycleEntry,
	}}
	r := newRouter(NewAPI(status, nil, nil, fakeProcess{}))

	w, body := get(t, r, "/api/status")
	if w.Code != http.StatusOK {
		t.Fatalf("期望 200, 得到 %d", w.Code)
	}
	eng, ok := body["engine"].(map[string]interface{})
	if !ok {
		t.Fatalf("响应缺少 engine: %v", body)
	}
	if eng["run_id"] != "run-1" || eng["last_cycle_result"] != engine.CycleEntry || eng["pnl_pct"] != "-1.25" {
		t.Errorf("引擎状态不正确: %v", eng)
	}
	if body["timezone"] != "UTC" {
		t.Errorf("默认展示时区应为 UTC, 得到 %v", body["timezone"])
	}
	proc, ok := body["process"].(map[string]interface{})
	if !ok || proc["pid"] != float64(42) {
		t.Errorf("进程状态不正确: %v", body["process"])
	}
}

func TestJournalEndpoints(t *testing.T) {
	r := newRouter(NewAPI(nil, nil, nil, nil))
	if w, _ := get(t, r, "/api/journal/orders"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("存储未启用时应返回 503, 得到 %d", w.Code)
	}
	if w, _ := get(t, r, "/api/logs"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("日志存储未启用时应返回 503, 得到 %d", w.Code)
	}

	db, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}
	defer db.Close()
	if err := db.SaveOrder(&storage.OrderRecord{
		RunID:         "run-1",
		Symbol:        "BTCUSDT",
		ClientOrderID: "EN-1",
		Side:          "BUY",
		Intent:        "EN",
		Quantity:      decimal.RequireFromString("0.5"),
		Status:        "FILLED",
	}); err != nil {
		t.Fatalf("写入订单失败: %v", err)
	}

	r = newRouter(NewAPI(nil, db, nil, nil))
	w, body := get(t, r, "/api/journal/orders?limit=10")
	if w.Code != http.StatusOK {
		t.Fatalf("期望 200, 得到 %d", w.Code)
	}
	data, ok := body["data"].([]interface{})
	if !ok || len(data) != 1 {
		t.Fatalf("应返回 1 条订单, 得到 %v", body)
	}
	if rec := data[0].(map[string]interface{}); rec["client_order_id"] != "EN-1" {
		t.Errorf("订单内容不正确: %v", rec)
	}

	for _, path := range []string{"/api/journal/closes", "/api/journal/close-attempts", "/api/journal/reconciliations", "/api/journal/risk", "/api/journal/cycles"} {
		if w, _ := get(t, r, path); w.Code != http.StatusOK {
			t.Errorf("%s 期望 200, 得到 %d", path, w.Code)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.GetPrometheusMetrics().RecordCycle("BTCUSDT", "ok", 0)
	r := newRouter(NewAPI(nil, nil, nil, nil))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Errorf("期望 200, 得到 %d", w.Code)
	}
}

func TestNewWebServerDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Web.Enabled = false
	ws := NewWebServer(cfg, NewAPI(nil, nil, nil, nil))
	if ws != nil {
		t.Error("未启用时应返回 nil")
	}
	if err := ws.Run(testContext(t)); err != nil {
		t.Errorf("nil 服务器 Run 应直接返回, 得到 %v", err)
	}
}
