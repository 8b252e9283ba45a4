package safety

import "fmt"

// RiskBlockedError 开仓被风控拦截，属于正常流程，不应升级为致命错误
type RiskBlockedError struct {
	Code   string
	Detail string
}

func (e *RiskBlockedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("风控拦截: %s", e.Code)
	}
	return fmt.Sprintf("风控拦截: %s (%s)", e.Code, e.Detail)
}
