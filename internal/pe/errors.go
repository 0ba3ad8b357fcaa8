package pe

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrTruncatedInput is returned when the byte source ends before a
	// required fixed-size structure.
	ErrTruncatedInput = errors.New("输入数据被截断")
	// ErrFormatMismatch is returned when a format tag does not match the
	// expected constant.
	ErrFormatMismatch = errors.New("格式不匹配")
	// ErrUnresolvedDirectory is returned when a data directory is not backed
	// by any section.
	ErrUnresolvedDirectory = errors.New("数据目录不在任何节区内")
	// ErrDuplicateProvider is returned when a content provider is already
	// registered for a directory kind.
	ErrDuplicateProvider = errors.New("该目录类型已注册内容提供者")
	// ErrMissingReferencedResource is returned when a group entry references
	// a resource that does not exist under the requested language.
	ErrMissingReferencedResource = errors.New("引用的资源不存在")
	// ErrNotPresent is returned when the requested data is absent. Absent is a
	// valid state, not a malformed one.
	ErrNotPresent = errors.New("数据不存在")
	// ErrNoProvider is returned when no content provider handles a directory kind.
	ErrNoProvider = errors.New("没有可用的内容提供者")
	// ErrInvalidBinary is returned when the image has no usable optional header.
	ErrInvalidBinary = errors.New("无效的PE文件")
	// ErrIndexOutOfRange is returned for out of range table indices.
	ErrIndexOutOfRange = errors.New("索引超出范围")
)

// FormatError describes a format tag that does not match the expected
// constant. It matches ErrFormatMismatch with errors.Is.
type FormatError struct {
	Msg string
}

// NewFormatError builds a FormatError with a formatted message.
func NewFormatError(format string, args ...interface{}) *FormatError {
	return &FormatError{Msg: fmt.Sprintf(format, args...)}
}

func (e *FormatError) Error() string { return e.Msg }

// Is reports whether target is ErrFormatMismatch.
func (e *FormatError) Is(target error) bool { return target == ErrFormatMismatch }

// IsAbsent reports whether err means the data is simply not there.
func IsAbsent(err error) bool {
	return errors.Is(err, ErrNotPresent) || errors.Is(err, ErrUnresolvedDirectory)
}
