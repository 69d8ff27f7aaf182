package domain

import (
	"errors"
	"fmt"
)

const (
	ErrCodeInvalidInput  = "invalid_input"
	ErrCodeRasterFailed  = "raster_failed"
	ErrCodeWriterFailed  = "writer_failed"
	ErrCodeArchiveFailed = "archive_failed"
	ErrCodeUploadFailed  = "upload_failed"
	ErrCodeNoRasters     = "no_rasters"
	ErrCodeCanceled      = "canceled"
)

// Error 是导出流程的结构化错误（带 error_code，可选 kind）。
type Error struct {
	Code string
	Kind ExportKind
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Kind != "" && e.Err != nil:
		return fmt.Sprintf("%s[%s]：%v", e.Code, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s：%v", e.Code, e.Err)
	default:
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf 构造带 code 的错误。
func Errorf(code, format string, args ...any) error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
