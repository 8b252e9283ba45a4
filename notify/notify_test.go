package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"perpguard/config"
	"perpguard/event"
)

func telegramConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Notifications.Enabled = true
	cfg.Notifications.Telegram.Enabled = true
	cfg.Notifications.Telegram.BotToken = "test-token"
	cfg.Notifications.Telegram.ChatID = "42"
	return cfg
}

func TestTelegramSend(t *testing.T) {
	var got map[string]interface{}
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tn, err := NewTelegramNotifier(telegramConfig())
	if err != nil {
		t.Fatalf("创建通知器失败: %v", err)
	}
	tn.apiBase = srv.URL

	evt := &event.Event{
		Type:      event.EventTypeHalted,
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Data:      map[string]interface{}{"symbol": "BTCUSDT", "reason": "STARTUP_MISMATCH"},
	}
	if err := tn.Send(evt); err != nil {
		t.Fatalf("发送失败: %v", err)
	}
	if path != "/bottest-token/sendMessage" {
		t.Errorf("请求路径错误: %s", path)
	}
	if got["chat_id"] != "42" {
		t.Errorf("chat_id 错误: %v", got["chat_id"])
	}
	text, _ := got["text"].(string)
	if !strings.Contains(text, "交易已停机") || !strings.Contains(text, "STARTUP_MISMATCH") {
		t.Errorf("消息内容不完整: %s", text)
	}
	if strings.Index(text, "reason") > strings.Index(text, "symbol") {
		t.Errorf("字段应按键名排序: %s", text)
	}
}

func TestTelegramSendHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tn, _ := NewTelegramNotifier(telegramConfig())
	tn.apiBase = srv.URL
	if err := tn.Send(&event.Event{Type: event.EventTypeFatal}); err == nil {
		t.Error("非 200 响应应返回错误")
	}
}

func TestNewTelegramNotifierRequiresCredentials(t *testing.T) {
	cfg := telegramConfig()
	cfg.Notifications.Telegram.ChatID = ""
	if _, err := NewTelegramNotifier(cfg); err == nil {
		t.Error("缺少 ChatID 应返回错误")
	}
}

type countingNotifier struct {
	n   atomic.Int32
	err error
}

func (c *countingNotifier) Send(*event.Event) error {
	c.n.Add(1)
	return c.err
}

func (c *countingNotifier) Name() string { return "counting" }

func TestNotificationServiceSend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Notifications.Enabled = true
	ns := NewNotificationService(cfg)
	ok := &countingNotifier{}
	failing := &countingNotifier{err: errors.New("boom")}
	ns.AddNotifier(ok)
	ns.AddNotifier(failing)

	ns.Send(&event.Event{Type: event.EventTypeHalted})
	ns.Send(nil)
	ns.Wait()

	if ok.n.Load() != 1 || failing.n.Load() != 1 {
		t.Errorf("每个渠道应收到一次通知, 得到 %d/%d", ok.n.Load(), failing.n.Load())
	}

	cfg.Notifications.Enabled = false
	disabled := NewNotificationService(cfg)
	c := &countingNotifier{}
	disabled.AddNotifier(c)
	disabled.Send(&event.Event{Type: event.EventTypeHalted})
	disabled.Wait()
	if c.n.Load() != 0 {
		t.Error("通知关闭时不应发送")
	}
}
