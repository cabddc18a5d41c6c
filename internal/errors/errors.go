package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Class 将错误划分为调用方可采取的处理方式：修正输入、稍后重试、查询链上结果等。
type Class string

const (
	ClassInput     Class = "input"
	ClassTransient Class = "transient"
	ClassRejected  Class = "rejected"
	ClassAmbiguous Class = "ambiguous"
	ClassFatal     Class = "fatal"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Class     Class
	Retryable bool
	Alert     bool
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown: {
			Message:  "unknown error",
			Severity: SeverityCritical,
			Class:    ClassFatal,
			Alert:    true,
		},
		CodeInvalidArgument: {
			Message:  "invalid argument",
			Severity: SeverityInfo,
			Class:    ClassInput,
		},
		CodeNotFound: {
			Message:  "resource not found",
			Severity: SeverityInfo,
			Class:    ClassInput,
		},
		CodeConflict: {
			Message:  "resource conflict",
			Severity: SeverityWarning,
			Class:    ClassTransient,
		},
		CodeUnauthenticated: {
			Message:  "unauthenticated",
			Severity: SeverityInfo,
			Class:    ClassInput,
		},
		CodeInitializationFailure: {
			Message:   "service not initialized",
			Severity:  SeverityWarning,
			Class:     ClassTransient,
			Retryable: true,
			Alert:     true,
		},
		CodeStorageFailure: {
			Message:   "storage failure",
			Severity:  SeverityCritical,
			Class:     ClassTransient,
			Retryable: true,
			Alert:     true,
		},
		CodeLockFailure: {
			Message:   "lock acquisition failure",
			Severity:  SeverityWarning,
			Class:     ClassTransient,
			Retryable: true,
		},
		CodePublishFailure: {
			Message:   "event publish failure",
			Severity:  SeverityWarning,
			Class:     ClassTransient,
			Retryable: true,
		},
		CodeTimeout: {
			Message:   "operation timed out",
			Severity:  SeverityWarning,
			Class:     ClassTransient,
			Retryable: true,
			Alert:     true,
		},
	}
)

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeUnauthenticated       Code = "UNAUTHENTICATED"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeLockFailure           Code = "LOCK_FAILURE"
	CodePublishFailure        Code = "PUBLISH_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	attr, ok := registry[code]
	registryMu.RUnlock()
	if ok {
		return attr
	}
	registryMu.RLock()
	fallback := registry[CodeUnknown]
	registryMu.RUnlock()
	return fallback
}

// Error 携带错误码、上下文信息和原始错误。重试、告警和严重程度都由注册表按错误码决定。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
}

// Option 在创建错误时附加字段。
type Option func(*Error)

// WithMetadata 附加一个键值，例如交易 ID 或浏览器链接。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string, 2)
		}
		e.metadata[key] = value
	}
}

// New 创建错误；message 为空时使用注册表中的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Wrap 与 New 相同，但保留 cause 以便 errors.Is/As 继续匹配。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("[%s] %s", e.code, e.message)
	}
	return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// Is 按错误码比较，使 New(code, "") 可以作为哨兵值。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t != nil && e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code { return e.code }

// Message 返回不含 cause 的描述。
func (e *Error) Message() string { return e.message }

// Metadata 返回附加字段的副本。
func (e *Error) Metadata() map[string]string {
	if len(e.metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		out[k] = v
	}
	return out
}

// Class 返回错误码注册的处理类别。
func (e *Error) Class() Class { return AttributesOf(e.code).Class }

// From 取出错误链上第一个 *Error。
func From(err error) (*Error, bool) {
	var target *Error
	if err != nil && stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// attributesOf 返回 err 所属错误码的属性，未编码的错误按 UNKNOWN 处理。
func attributesOf(err error) Attributes {
	return AttributesOf(CodeOf(err))
}

// CodeOf 返回错误码，未编码的错误为 UNKNOWN。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.code
	}
	return CodeUnknown
}

// ClassOf 返回处理类别，未编码的错误视为致命。
func ClassOf(err error) Class {
	if _, ok := From(err); !ok {
		return ClassFatal
	}
	return attributesOf(err).Class
}

// RetryableError 报告调用方是否可以原样重试。
func RetryableError(err error) bool {
	if _, ok := From(err); !ok {
		return false
	}
	return attributesOf(err).Retryable
}

// ShouldAlert 报告是否需要通知值班人员。
func ShouldAlert(err error) bool {
	if _, ok := From(err); !ok {
		return false
	}
	return attributesOf(err).Alert
}

// SeverityOf 返回严重程度。
func SeverityOf(err error) Severity {
	return attributesOf(err).Severity
}

// MetadataValue 读取错误链上第一个 *Error 的附加字段。
func MetadataValue(err error, key string) (string, bool) {
	e, ok := From(err)
	if !ok {
		return "", false
	}
	v, ok := e.metadata[key]
	return v, ok
}
