package event

// EventSeverity 事件严重程度
type EventSeverity string

const (
	SeverityCritical EventSeverity = "critical"
	SeverityWarning  EventSeverity = "warning"
	SeverityInfo     EventSeverity = "info"
)

// GetEventSeverity 获取事件严重程度
func GetEventSeverity(t EventType) EventSeverity {
	switch t {
	case EventTypeCloseFailed, EventTypeHalted, EventTypeStartupMismatch, EventTypeFatal:
		return SeverityCritical
	case EventTypeThresholdHit, EventTypeKillSwitch, EventTypeDataError, EventTypeRiskBlocked:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// GetEventTitle 获取事件标题
func GetEventTitle(t EventType) string {
	switch t {
	case EventTypeSystemStart:
		return "系统启动"
	case EventTypeSystemStop:
		return "系统停止"
	case EventTypeOrderPlaced:
		return "订单已提交"
	case EventTypePositionOpened:
		return "开仓"
	case EventTypePositionClosed:
		return "平仓完成"
	case EventTypeCloseFailed:
		return "平仓失败"
	case EventTypeRiskBlocked:
		return "开仓被风控拦截"
	case EventTypeThresholdHit:
		return "回撤/止盈阈值触发"
	case EventTypeHalted:
		return "交易已停机"
	case EventTypeStartupMismatch:
		return "启动对账不一致"
	case EventTypeKillSwitch:
		return "紧急开关"
	case EventTypeDataError:
		return "行情数据异常"
	case EventTypeFatal:
		return "致命错误退出"
	default:
		return "系统通知"
	}
}

// GetEventEmoji 消息前缀
func GetEventEmoji(t EventType) string {
	switch t {
	case EventTypeSystemStart:
		return "🚀"
	case EventTypeSystemStop, EventTypeHalted, EventTypeKillSwitch:
		return "🛑"
	case EventTypePositionOpened, EventTypeOrderPlaced:
		return "📝"
	case EventTypePositionClosed:
		return "✅"
	case EventTypeThresholdHit, EventTypeStartupMismatch:
		return "🚨"
	case EventTypeRiskBlocked, EventTypeDataError:
		return "⚠️"
	case EventTypeCloseFailed, EventTypeFatal:
		return "❌"
	default:
		return "ℹ️"
	}
}
