package exchange

import (
	"context"
	"errors"
	"fmt"
)

// DataUnavailableError 行情/账户数据缺失
type DataUnavailableError struct {
	Op     string
	Symbol string
	Reason string
	Err    error
}

func (e *DataUnavailableError) Error() string {
	msg := fmt.Sprintf("数据不可用 [%s %s]: %s", e.Op, e.Symbol, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DataUnavailableError) Unwrap() error { return e.Err }

// TransportError 网络超时、连接失败或交易所拒绝
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("交易所调用失败 [%s]: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout 是否为超时
func (e *TransportError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// NewDataUnavailable 构造数据缺失错误
func NewDataUnavailable(op, symbol, reason string) error {
	return &DataUnavailableError{Op: op, Symbol: symbol, Reason: reason}
}

// IsUnavailable 数据缺失与传输错误在门控层面同等对待
func IsUnavailable(err error) bool {
	var du *DataUnavailableError
	var te *TransportError
	return errors.As(err, &du) || errors.As(err, &te)
}

// classify 将未分类错误包装为 TransportError
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsUnavailable(err) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
