package server

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/hatlonely/crudgw/log"
	"github.com/hatlonely/crudgw/uid"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestIDHeader 请求带了就沿用，否则生成一个
const RequestIDHeader = "X-Request-Id"

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

// Decorate 记录每个请求的方法、路径、状态码和耗时，并把 panic 转成 500
// ignoreList 中的路径不打日志
func Decorate(ignoreList []string, logger log.Logger, ids uid.Generator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = ids.Generate()
		}
		w.Header().Set(RequestIDHeader, requestID)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey, requestID))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		defer func() {
			if v := recover(); v != nil {
				logger.ErrorContext(r.Context(), "request panicked",
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", requestID,
					"panic", fmt.Sprint(v),
				)
				if !rec.wroteHeader {
					writeError(rec, NewError(http.StatusInternalServerError, "internal server error"))
				}
				return
			}

			if slices.Contains(ignoreList, r.URL.Path) {
				return
			}
			logger.InfoContext(r.Context(), "request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"request_id", requestID,
				"duration_ms", float64(time.Since(start).Nanoseconds())/1e6,
			)
		}()

		next.ServeHTTP(rec, r)
	})
}
