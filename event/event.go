package event

import (
	"time"

	"perpguard/logger"
)

// EventType 事件类型
type EventType string

const (
	EventTypeSystemStart     EventType = "system_start"
	EventTypeSystemStop      EventType = "system_stop"
	EventTypeOrderPlaced     EventType = "order_placed"
	EventTypePositionOpened  EventType = "position_opened"
	EventTypePositionClosed  EventType = "position_closed"
	EventTypeCloseFailed     EventType = "close_failed"
	EventTypeRiskBlocked     EventType = "risk_blocked"
	EventTypeThresholdHit    EventType = "threshold_hit"
	EventTypeHalted          EventType = "halted"
	EventTypeStartupMismatch EventType = "startup_mismatch"
	EventTypeKillSwitch      EventType = "kill_switch"
	EventTypeDataError       EventType = "data_error"
	EventTypeFatal           EventType = "fatal"
)

// Event 事件结构
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]interface{}
}

// EventBus 事件总线
type EventBus struct {
	eventCh    chan *Event
	bufferSize int
}

// NewEventBus 创建事件总线
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &EventBus{
		eventCh:    make(chan *Event, bufferSize),
		bufferSize: bufferSize,
	}
}

// Publish 发布事件（非阻塞）
func (eb *EventBus) Publish(event *Event) {
	if eb == nil || event == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case eb.eventCh <- event:
	default:
		// 队列满时丢弃，不能阻塞交易循环
		logger.Warn("⚠️ 事件队列已满，丢弃事件: %s", event.Type)
	}
}

// Subscribe 订阅事件（返回 channel）
func (eb *EventBus) Subscribe() <-chan *Event {
	return eb.eventCh
}

// Close 关闭事件总线
func (eb *EventBus) Close() {
	close(eb.eventCh)
}
