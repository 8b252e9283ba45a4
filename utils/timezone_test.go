package utils

import (
	"testing"
	"time"
)

func TestSetLocation(t *testing.T) {
	defer func() { GlobalLocation = time.UTC }()

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := ToConfiguredTimezone(ts); got.Location() != time.UTC {
		t.Errorf("默认应为 UTC, 得到 %v", got.Location())
	}

	if err := SetLocation("UTC+8"); err != nil {
		t.Fatalf("设置 UTC+8 失败: %v", err)
	}
	got := ToConfiguredTimezone(ts)
	if got.Hour() != 8 || !got.Equal(ts) {
		t.Errorf("UTC+8 转换错误: %v", got)
	}

	if err := SetLocation("Not/AZone"); err == nil {
		t.Error("无效时区应返回错误")
	}
	if !ToConfiguredTimezone(time.Time{}).IsZero() {
		t.Error("零值时间应保持为零值")
	}
}

func TestFromMillisUTC(t *testing.T) {
	if !FromMillis(0).IsZero() {
		t.Error("0 应返回零值")
	}
	got := FromMillis(1767225600000)
	if !got.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) || got.Location() != time.UTC {
		t.Errorf("毫秒转换错误: %v", got)
	}
}
