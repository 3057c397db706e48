package util

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrCourseNotFound   = errors.New("course not found")
	ErrModuleNotFound   = errors.New("module not found")
	ErrLessonNotFound   = errors.New("lesson not found")
	ErrQuizNotFound     = errors.New("module has no quiz")
	ErrEnrollmentAbsent = errors.New("enrollment not found")
	ErrInvalidID        = errors.New("invalid identifier")
	ErrInvalidAnswers   = errors.New("invalid answers payload")
	ErrInternal         = errors.New("internal error")
)

type ErrorKind string

const (
	KindNotFound   ErrorKind = "not_found"
	KindValidation ErrorKind = "validation"
	KindInternal   ErrorKind = "internal"
)

// AppError 是对上层暴露的错误结果；Internal 的 Message 永远是通用文案
type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func NotFound(err error) *AppError {
	return &AppError{Kind: KindNotFound, Message: err.Error(), Err: err}
}

func Validation(err error, detail string) *AppError {
	msg := err.Error()
	if detail != "" {
		msg = msg + ": " + detail
	}
	return &AppError{Kind: KindValidation, Message: msg, Err: err}
}

func Internal(err error) *AppError {
	return &AppError{Kind: KindInternal, Message: ErrInternal.Error(), Err: err}
}

// KindOf 非 AppError 一律视为 Internal
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}
