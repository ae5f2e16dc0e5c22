package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hatlonely/crudgw/rdb"
	"github.com/pkg/errors"
)

// Error 带 HTTP 状态码的错误
type Error struct {
	code    int
	message string
	// 数据库错误码，SQLSTATE 或驱动错误号
	dbCode string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *Error) Code() int { return e.code }

func (e *Error) Message() string { return e.message }

func (e *Error) Unwrap() error { return e.cause }

func NewError(code int, message string) *Error {
	return &Error{code: code, message: message}
}

func BadRequest(message string) *Error {
	return &Error{code: http.StatusBadRequest, message: message}
}

func UnprocessableEntity(message string) *Error {
	return &Error{code: http.StatusUnprocessableEntity, message: message}
}

func RequestEntityTooLarge(message string) *Error {
	return &Error{code: http.StatusRequestEntityTooLarge, message: message}
}

func ServiceUnavailable(message string) *Error {
	return &Error{code: http.StatusServiceUnavailable, message: message}
}

// errorBody {"detail": "...", "code": "..."}
type errorBody struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

// FromError 把 rdb 的错误映射成 HTTP 错误，数据库错误的原始消息直接透传
func FromError(err error) *Error {
	var httpErr *Error
	if errors.As(err, &httpErr) {
		return httpErr
	}

	switch {
	case errors.Is(err, rdb.ErrAccessDenied):
		return &Error{code: http.StatusForbidden, message: err.Error(), cause: err}
	case errors.Is(err, rdb.ErrNotFound):
		return &Error{code: http.StatusNotFound, message: err.Error(), cause: err}
	case errors.Is(err, rdb.ErrInvalidIdentifier),
		errors.Is(err, rdb.ErrNoValidColumns),
		errors.Is(err, rdb.ErrEmptyPayload),
		errors.Is(err, rdb.ErrNoPrimaryKey),
		errors.Is(err, rdb.ErrInvalidPayload),
		errors.Is(err, rdb.ErrInvalidColumnType):
		return &Error{code: http.StatusBadRequest, message: err.Error(), cause: err}
	}

	var dbErr *rdb.DatabaseError
	if errors.As(err, &dbErr) {
		return &Error{code: http.StatusInternalServerError, message: dbErr.Error(), dbCode: dbErr.Code, cause: err}
	}
	return &Error{code: http.StatusInternalServerError, message: err.Error(), cause: err}
}

func writeError(w http.ResponseWriter, err error) {
	e := FromError(err)
	writeJSON(w, e.code, errorBody{Detail: e.message, Code: e.dbCode})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
