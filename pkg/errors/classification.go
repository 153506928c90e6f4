package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// ErrorCategory represents the type of error for handling purposes
type ErrorCategory int

const (
	// CategoryConfiguration indicates a misconfiguration. Fatal, never retried.
	CategoryConfiguration ErrorCategory = iota
	// CategoryExtraction indicates a timestamp extraction failure. Recovered locally.
	CategoryExtraction
	// CategoryRetriable indicates a transport failure that can be retried with backoff
	CategoryRetriable
	// CategoryTransient indicates a failure that can be retried immediately
	CategoryTransient
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryConfiguration:
		return "configuration"
	case CategoryExtraction:
		return "extraction"
	case CategoryRetriable:
		return "retriable"
	case CategoryTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Sentinel errors for configuration problems detected per record or at construction
var (
	ErrInvalidPartition = errors.New("invalid partition identifier")
	ErrInvalidWatermark = errors.New("invalid inherited watermark")
	ErrEmptyHeaderName  = errors.New("header name can not be empty")
	ErrEmptyPath        = errors.New("path expression can not be empty")
)

// ClassifiedError wraps an error with its category and additional context
type ClassifiedError struct {
	Err      error
	Category ErrorCategory
	Message  string
	Metadata map[string]interface{}
}

func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return fmt.Sprintf("%s: %v", ce.Message, ce.Err)
	}
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// NewClassifiedError creates a new classified error with category
func NewClassifiedError(err error, category ErrorCategory, message string) *ClassifiedError {
	return &ClassifiedError{
		Err:      err,
		Category: category,
		Message:  message,
		Metadata: make(map[string]interface{}),
	}
}

// NewConfigurationError creates a fatal configuration error
func NewConfigurationError(err error, message string) *ClassifiedError {
	return NewClassifiedError(err, CategoryConfiguration, message)
}

// NewExtractionError creates a recoverable extraction error
func NewExtractionError(err error, message string) *ClassifiedError {
	return NewClassifiedError(err, CategoryExtraction, message)
}

// WithMetadata adds metadata to the classified error
func (ce *ClassifiedError) WithMetadata(key string, value interface{}) *ClassifiedError {
	ce.Metadata[key] = value
	return ce
}

// ClassifyError categorizes an error based on its type and characteristics
func ClassifyError(err error) ErrorCategory {
	if err == nil {
		return CategoryConfiguration
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Category
	}

	switch {
	case errors.Is(err, ErrInvalidPartition),
		errors.Is(err, ErrInvalidWatermark),
		errors.Is(err, ErrEmptyHeaderName),
		errors.Is(err, ErrEmptyPath):
		return CategoryConfiguration
	case errors.Is(err, context.Canceled):
		return CategoryConfiguration
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return CategoryRetriable
	}

	// syscall.Errno satisfies net.Error, so it is checked first
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return classifySyscallError(errno)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryRetriable
	}

	msg := strings.ToLower(err.Error())
	if containsAny(msg, "invalid argument", "invalid syntax", "parse error", "unmarshal") {
		return CategoryExtraction
	}
	if containsAny(msg, "resource temporarily unavailable", "too many open files") {
		return CategoryTransient
	}

	return CategoryRetriable
}

// classifySyscallError categorizes system call errors
func classifySyscallError(errno syscall.Errno) ErrorCategory {
	switch errno {
	case syscall.EAGAIN,
		syscall.EMFILE,
		syscall.ENFILE:
		return CategoryTransient
	case syscall.EINVAL,
		syscall.EACCES,
		syscall.EPERM,
		syscall.ENOENT:
		return CategoryConfiguration
	default:
		return CategoryRetriable
	}
}

// IsConfigurationError reports whether err is a fatal configuration error
func IsConfigurationError(err error) bool {
	return err != nil && ClassifyError(err) == CategoryConfiguration
}

// IsFatal checks if an error is fatal and should not be retried
func IsFatal(err error) bool {
	return IsConfigurationError(err)
}

// IsRetriable checks if an error can be retried
func IsRetriable(err error) bool {
	category := ClassifyError(err)
	return category == CategoryRetriable || category == CategoryTransient
}

func containsAny(s string, substrings ...string) bool {
	for _, substr := range substrings {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
