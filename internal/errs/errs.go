package errs

import (
	"errors"
	"fmt"
)

// Kind 内部错误分类
type Kind string

const (
	KindCapture   Kind = "capture"
	KindDetector  Kind = "detector"
	KindTransport Kind = "transport"
	KindConfig    Kind = "config"
	KindLifecycle Kind = "lifecycle"
)

var (
	ErrSessionActive = errors.New("session already active")
	ErrNoSession     = errors.New("no active session")
	ErrDisabled      = errors.New("capture disabled")
	ErrExcludedURL   = errors.New("url excluded from capture")
	ErrNotSampled    = errors.New("session not sampled")
)

// Error 带分类的内部错误
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New 创建分类错误
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// FromPanic 将 recover() 的结果转换为分类错误
func FromPanic(kind Kind, op string, r any) *Error {
	if err, ok := r.(error); ok {
		return New(kind, op, fmt.Errorf("panic: %w", err))
	}
	return New(kind, op, fmt.Errorf("panic: %v", r))
}

// KindOf 返回错误链中第一个分类，未分类返回空串
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
