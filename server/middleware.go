package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// RequestIDHeader carries the ID of a request. It is echoed on every response.
const RequestIDHeader = "X-Request-ID"

type contextKey struct{}

// requestID assigns every request an ID, reusing the one provided by the client if present.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, id)))
	})
}

// RequestID returns the ID assigned to the request that ctx belongs to.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.options.logger.Debugf("http request: method = %s, path = %s, status = %d, remote = %s, requestID = %s, duration = %s",
				r.Method, r.URL.Path, ww.Status(), r.RemoteAddr, RequestID(r.Context()), time.Since(start))
		}()
		next.ServeHTTP(ww, r)
	})
}
