// Package errs 迁移过程中的错误分类
package errs

import (
	"errors"
	"fmt"
)

// Kind 错误类型
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindSourceUnavailable
	KindQuery
	KindSinkUnavailable
	KindDanglingReference
	KindPartialReplace
	KindData
	KindDependencyFailed
)

var kindNames = map[Kind]string{
	KindUnknown:           "Unknown",
	KindConfiguration:     "ConfigurationError",
	KindSourceUnavailable: "SourceUnavailable",
	KindQuery:             "QueryError",
	KindSinkUnavailable:   "SinkUnavailable",
	KindDanglingReference: "DanglingReferenceError",
	KindPartialReplace:    "PartialReplaceFailure",
	KindData:              "DataError",
	KindDependencyFailed:  "DependencyFailed",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText 以名称形式输出
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText 从名称解析，未知名称视为 Unknown
func (k *Kind) UnmarshalText(text []byte) error {
	*k = KindUnknown
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			break
		}
	}
	return nil
}

// Retryable 是否允许在编排层重试
func (k Kind) Retryable() bool {
	switch k {
	case KindSourceUnavailable, KindQuery, KindSinkUnavailable:
		return true
	}
	return false
}

// 每种错误类型对应的哨兵错误，用于 errors.Is 判断
var (
	ErrConfiguration     = errors.New("configuration error")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrQuery             = errors.New("query error")
	ErrSinkUnavailable   = errors.New("sink unavailable")
	ErrDanglingReference = errors.New("dangling reference")
	ErrPartialReplace    = errors.New("partial replace failure")
	ErrData              = errors.New("data error")
	ErrDependencyFailed  = errors.New("dependency failed")
)

var sentinels = map[Kind]error{
	KindConfiguration:     ErrConfiguration,
	KindSourceUnavailable: ErrSourceUnavailable,
	KindQuery:             ErrQuery,
	KindSinkUnavailable:   ErrSinkUnavailable,
	KindDanglingReference: ErrDanglingReference,
	KindPartialReplace:    ErrPartialReplace,
	KindData:              ErrData,
	KindDependencyFailed:  ErrDependencyFailed,
}

// Error 带分类和出错表名的错误
type Error struct {
	Kind  Kind
	Op    string // 出错的操作，例如 fetch / replace / merge
	Table string // 出错的源表或标签
	Err   error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg += " during " + e.Op
	}
	if e.Table != "" {
		msg += " on " + e.Table
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 让 errors.Is(err, ErrQuery) 等判断成立
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// New 创建分类错误
func New(kind Kind, op, table string, err error) *Error {
	return &Error{Kind: kind, Op: op, Table: table, Err: err}
}

// Errorf 以格式化消息创建分类错误
func Errorf(kind Kind, op, table, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Table: table, Err: fmt.Errorf(format, args...)}
}

// KindOf 返回错误链上第一个分类错误的类型
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// WithTable 为尚未带表名的分类错误补充表名
func WithTable(err error, table string) error {
	var e *Error
	if errors.As(err, &e) && e.Table == "" {
		cp := *e
		cp.Table = table
		return &cp
	}
	return err
}
