package server

import (
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/thruflo/esprelay/internal/auth"
)

// DeviceKeyHeader carries the shared device secret.
const DeviceKeyHeader = "X-Device-Key"

// RequestIDHeader echoes the id assigned to each request.
const RequestIDHeader = "X-Request-ID"

// routeClass decides how an authentication failure is answered.
type routeClass int

const (
	// browserRoute failures redirect to the login page.
	browserRoute routeClass = iota
	// apiRoute failures get a 401 JSON body.
	apiRoute
)

type contextKey int

const identityKey contextKey = iota

// IdentityFromContext returns the operator attached by the session guard.
func IdentityFromContext(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(auth.Identity)
	return id, ok
}

// requireSession runs the session guard before next. Failures are mapped to
// a redirect or a 401 here and nowhere else.
func (s *Server) requireSession(class routeClass, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.guard.Authenticate(r)
		if err != nil {
			reason := "unknown"
			if failure, ok := auth.AsAuthFailure(err); ok {
				reason = string(failure.Reason)
			}
			s.log.Warn("session rejected", "path", r.URL.Path, "reason", reason)

			if class == browserRoute {
				http.Redirect(w, r, "/login", http.StatusSeeOther)
				return
			}
			writeJSON(w, http.StatusUnauthorized, errorBody{Detail: "Not authenticated"})
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, id)
		next(w, r.WithContext(ctx))
	})
}

// requireDeviceKey checks X-Device-Key when a device key is configured.
func (s *Server) requireDeviceKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deviceKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		got := r.Header.Get(DeviceKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.deviceKey)) != 1 {
			s.log.Warn("device key rejected", "path", r.URL.Path, "ip", s.clientIP(r), "present", got != "")
			writeJSON(w, http.StatusUnauthorized, errorBody{Detail: "invalid device key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withCORS allows any origin, matching devices and dashboards served from
// elsewhere. Preflight requests are answered directly.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Add("Vary", "Origin")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			}
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRequestLog assigns a request id and logs each request once it
// completes.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		w.Header().Set(RequestIDHeader, requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.log.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).Round(time.Microsecond),
			"ip", s.clientIP(r),
		)
	})
}

// statusRecorder captures the response status while passing through the
// optional interfaces websocket upgrades and streaming rely on.
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
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	r.wroteHeader = true
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
