package utils

import (
	"strings"

	"github.com/google/uuid"
)

// 订单用途
const (
	IntentEntry = "EN"
	IntentClose = "CL"
)

// GenerateOrderID 生成自定义订单ID: <用途>_<B|S>_<uuid十六进制>
// 币安 clientOrderId 上限 36 个字符
func GenerateOrderID(intent, side string) string {
	s := "B"
	if strings.EqualFold(side, "SELL") {
		s = "S"
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return intent + "_" + s + "_" + id[:28]
}

// ParseOrderID 解析自定义订单ID
func ParseOrderID(clientOID string) (intent, side string, valid bool) {
	parts := strings.Split(clientOID, "_")
	if len(parts) != 3 || len(parts[2]) != 28 {
		return "", "", false
	}
	switch parts[0] {
	case IntentEntry, IntentClose:
	default:
		return "", "", false
	}
	switch parts[1] {
	case "B":
		side = "BUY"
	case "S":
		side = "SELL"
	default:
		return "", "", false
	}
	return parts[0], side, true
}

// NewRunID 生成运行ID，用于关联同一进程的审计记录
func NewRunID() string {
	return uuid.NewString()
}
