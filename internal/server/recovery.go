// ABOUTME: Panic recovery middleware for the HTTP handler chain
// ABOUTME: Logs the panic with a stack trace and answers 500 instead of dropping the connection

package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
)

// recoverPanics catches handler panics. http.ErrAbortHandler is re-raised so
// the server can abort the response as intended.
func recoverPanics(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rv := recover()
			if rv == nil {
				return
			}
			if rv == http.ErrAbortHandler {
				panic(rv)
			}
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			logger.Error("http handler panic",
				"panic", fmt.Sprintf("%v", rv),
				"method", r.Method,
				"path", r.URL.Path,
				"stack", string(buf[:n]),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"internal error"}` + "\n"))
		}()
		next.ServeHTTP(w, r)
	})
}
