package middleware

import (
	"net/http"
	"runtime/debug"
	"sync/atomic"

	"go.uber.org/zap"
)

// DebugWriteHeader reports handlers that send the status line twice, with
// the stack of the second attempt. It is a no-op unless enabled.
func DebugWriteHeader(enabled bool, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	if !enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	log.Infow("double WriteHeader detection enabled")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(&headerOnce{ResponseWriter: w, log: log, r: r}, r)
		})
	}
}

type headerOnce struct {
	http.ResponseWriter
	log   *zap.SugaredLogger
	r     *http.Request
	wrote atomic.Bool
	code  int
}

func (h *headerOnce) WriteHeader(code int) {
	if h.wrote.CompareAndSwap(false, true) {
		h.code = code
		h.ResponseWriter.WriteHeader(code)
		return
	}
	h.log.Warnw("double WriteHeader",
		"method", h.r.Method,
		"path", h.r.URL.Path,
		"request_id", RequestIDFrom(h.r.Context()),
		"first", h.code,
		"second", code,
		"stack", string(debug.Stack()),
	)
}

func (h *headerOnce) Write(b []byte) (int, error) {
	if !h.wrote.Load() {
		h.WriteHeader(http.StatusOK)
	}
	return h.ResponseWriter.Write(b)
}
