package server

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

//StatusCodeResponseWriter exposes the HTTP status code written by a handler
type StatusCodeResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

//NewStatusCodeResponseWriter creates a new StatusCodeResponseWriter
func NewStatusCodeResponseWriter(w http.ResponseWriter) *StatusCodeResponseWriter {
	return &StatusCodeResponseWriter{w, http.StatusOK}
}

//WriteHeader hijacks a ResponseWriter.WriteHeader call and stores the status code
func (w *StatusCodeResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

//AddLog logs each request with its status and duration
func AddLog(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := NewStatusCodeResponseWriter(w)
			next.ServeHTTP(rw, r)
			logger.WithFields(log.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rw.statusCode,
				"duration": time.Since(start).String(),
			}).Debug("request handled")
		})
	}
}
