package middleware

import (
	"log"
	"net/http"
	"time"
)

// Logging logs one line per request: method, path, status, duration, and the
// request id assigned upstream. Runs after RequestID in the middleware chain.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.Printf("[HTTP] %s %s %d %s request_id=%s",
			r.Method,
			r.URL.Path,
			rec.status,
			time.Since(start),
			GetRequestID(r.Context()),
		)
	})
}

// statusRecorder captures the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}
