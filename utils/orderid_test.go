package utils

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateOrderID(t *testing.T) {
	id1 := GenerateOrderID(IntentClose, "SELL")
	if !strings.HasPrefix(id1, "CL_S_") {
		t.Errorf("订单ID格式错误: %s", id1)
	}
	if len(id1) > 36 {
		t.Errorf("订单ID超过36个字符: %d", len(id1))
	}

	id2 := GenerateOrderID(IntentClose, "SELL")
	if id1 == id2 {
		t.Errorf("生成的订单ID不唯一: %s == %s", id1, id2)
	}
}

func TestParseOrderID(t *testing.T) {
	clientOID := GenerateOrderID(IntentEntry, "BUY")
	intent, side, valid := ParseOrderID(clientOID)
	if !valid {
		t.Fatal("解析订单ID失败")
	}
	if intent != IntentEntry {
		t.Errorf("用途解析错误: 期望 %s, 得到 %s", IntentEntry, intent)
	}
	if side != "BUY" {
		t.Errorf("方向解析错误: 期望 BUY, 得到 %s", side)
	}

	for _, bad := range []string{"", "XX_B_123", "CL_Q_" + strings.Repeat("a", 28), "CL_B_short"} {
		if _, _, ok := ParseOrderID(bad); ok {
			t.Errorf("非法订单ID不应解析成功: %q", bad)
		}
	}
}

func TestFromMillis(t *testing.T) {
	if !FromMillis(0).IsZero() {
		t.Error("0 应返回零值")
	}
	got := FromMillis(1700000000000)
	if !got.Equal(time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)) {
		t.Errorf("时间转换错误: %v", got)
	}
}
