package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CloseNoProgressError 连续多次平仓没有减少持仓
type CloseNoProgressError struct {
	Attempts  int
	Remaining decimal.Decimal
}

func (e *CloseNoProgressError) Error() string {
	return fmt.Sprintf("平仓无进展: %d 次尝试后剩余 %s", e.Attempts, e.Remaining)
}

// CloseTimeoutError 平仓达到次数或时长上限
type CloseTimeoutError struct {
	Attempts  int
	Remaining decimal.Decimal
}

func (e *CloseTimeoutError) Error() string {
	return fmt.Sprintf("平仓超时: %d 次尝试后剩余 %s", e.Attempts, e.Remaining)
}

// CloseThinBookError 盘口流动性不足，重试耗尽仍未平完
type CloseThinBookError struct {
	Attempts  int
	Remaining decimal.Decimal
}

func (e *CloseThinBookError) Error() string {
	return fmt.Sprintf("盘口过薄未能平完: %d 次尝试后剩余 %s", e.Attempts, e.Remaining)
}
