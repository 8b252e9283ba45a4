package event

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"perpguard/logger"
)

// NotificationService 通知服务接口
type NotificationService interface {
	Send(event *Event)
}

// EventCenter 事件中心：消费事件总线，写日志并按严重程度转发通知
type EventCenter struct {
	eventBus    *EventBus
	notifier    NotificationService
	minSeverity EventSeverity

	wg sync.WaitGroup
}

// NewEventCenter 创建事件中心，notifier 可以为 nil
func NewEventCenter(eventBus *EventBus, notifier NotificationService) *EventCenter {
	return &EventCenter{
		eventBus:    eventBus,
		notifier:    notifier,
		minSeverity: SeverityWarning,
	}
}

// Start 启动事件处理协程，ctx 取消后处理完队列中剩余事件再退出
func (ec *EventCenter) Start(ctx context.Context) {
	ec.wg.Add(1)
	go ec.processEvents(ctx)
}

// Wait 等待处理协程退出
func (ec *EventCenter) Wait() {
	ec.wg.Wait()
}

func (ec *EventCenter) processEvents(ctx context.Context) {
	defer ec.wg.Done()

	eventCh := ec.eventBus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case evt, ok := <-eventCh:
					if !ok {
						return
					}
					ec.handleEvent(evt)
				default:
					return
				}
			}
		case evt, ok := <-eventCh:
			if !ok {
				return
			}
			ec.handleEvent(evt)
		}
	}
}

// handleEvent 处理单个事件
func (ec *EventCenter) handleEvent(evt *Event) {
	if evt == nil {
		return
	}
	severity := GetEventSeverity(evt.Type)
	message := BuildMessage(evt)

	switch severity {
	case SeverityCritical:
		logger.Error("%s [事件] %s: %s", GetEventEmoji(evt.Type), GetEventTitle(evt.Type), message)
	case SeverityWarning:
		logger.Warn("%s [事件] %s: %s", GetEventEmoji(evt.Type), GetEventTitle(evt.Type), message)
	default:
		logger.Debug("%s [事件] %s: %s", GetEventEmoji(evt.Type), GetEventTitle(evt.Type), message)
	}

	if ec.notifier != nil && ec.shouldNotify(evt.Type, severity) {
		ec.notifier.Send(evt)
	}
}

// shouldNotify 警告及以上级别通知，启停和平仓完成也通知
func (ec *EventCenter) shouldNotify(t EventType, severity EventSeverity) bool {
	switch t {
	case EventTypeSystemStart, EventTypeSystemStop, EventTypePositionClosed, EventTypePositionOpened:
		return true
	}
	if ec.minSeverity == SeverityWarning {
		return severity == SeverityCritical || severity == SeverityWarning
	}
	return severity == SeverityCritical
}

// BuildMessage 构建事件消息：优先使用 message/reason 字段，否则按键名排序拼接
func BuildMessage(evt *Event) string {
	if msg, ok := evt.Data["message"].(string); ok && msg != "" {
		return msg
	}
	if reason, ok := evt.Data["reason"].(string); ok && reason != "" {
		if symbol, ok := evt.Data["symbol"].(string); ok && symbol != "" {
			return fmt.Sprintf("[%s] %s", symbol, reason)
		}
		return reason
	}
	if len(evt.Data) == 0 {
		return fmt.Sprintf("事件类型: %s", evt.Type)
	}
	keys := make([]string, 0, len(evt.Data))
	for k := range evt.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msg := ""
	for i, k := range keys {
		if i > 0 {
			msg += ", "
		}
		msg += fmt.Sprintf("%s=%v", k, evt.Data[k])
	}
	return msg
}
