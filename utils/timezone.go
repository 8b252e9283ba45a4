package utils

import (
	"time"
)

var (
	// GlobalLocation 展示用时区，内部计算一律使用 UTC
	GlobalLocation = time.UTC
)

// SetLocation 设置展示时区
func SetLocation(name string) error {
	loc, err := time.LoadLocation(name)
	if err != nil {
		if name == "UTC+8" || name == "Asia/Shanghai" {
			GlobalLocation = time.FixedZone("UTC+8", 8*60*60)
			return nil
		}
		return err
	}
	GlobalLocation = loc
	return nil
}

// ToConfiguredTimezone 将时间转换为展示时区
func ToConfiguredTimezone(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.In(GlobalLocation)
}

// NowUTC 获取当前UTC时间
func NowUTC() time.Time {
	return time.Now().UTC()
}

// FromMillis 毫秒时间戳转 UTC 时间，0 返回零值
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
