package notify

import (
	"sync"

	"perpguard/config"
	"perpguard/event"
	"perpguard/logger"
)

// Notifier 通知接口
type Notifier interface {
	Send(event *event.Event) error
	Name() string
}

// NotificationService 通知服务
type NotificationService struct {
	notifiers []Notifier
	enabled   bool
	wg        sync.WaitGroup
}

// NewNotificationService 创建通知服务
func NewNotificationService(cfg *config.Config) *NotificationService {
	ns := &NotificationService{enabled: cfg.Notifications.Enabled}

	if cfg.Notifications.Enabled && cfg.Notifications.Telegram.Enabled && cfg.Notifications.Telegram.BotToken != "" {
		telegramNotifier, err := NewTelegramNotifier(cfg)
		if err != nil {
			logger.Warn("⚠️ 初始化 Telegram 通知失败: %v", err)
		} else {
			ns.notifiers = append(ns.notifiers, telegramNotifier)
			logger.Info("✅ Telegram 通知已启用")
		}
	}
	return ns
}

// AddNotifier 追加通知渠道
func (ns *NotificationService) AddNotifier(n Notifier) {
	ns.notifiers = append(ns.notifiers, n)
}

// Send 发送通知（异步，不阻塞）
func (ns *NotificationService) Send(evt *event.Event) {
	if evt == nil || !ns.enabled || len(ns.notifiers) == 0 {
		return
	}

	for _, notifier := range ns.notifiers {
		ns.wg.Add(1)
		go func(n Notifier) {
			defer ns.wg.Done()
			if err := n.Send(evt); err != nil {
				logger.Warn("⚠️ [%s] 通知发送失败: %v", n.Name(), err)
			}
		}(notifier)
	}
}

// Wait 等待已发出的通知完成，退出前调用
func (ns *NotificationService) Wait() {
	ns.wg.Wait()
}
