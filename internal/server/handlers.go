package server

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/thruflo/esprelay/internal/relay"
	"github.com/thruflo/esprelay/web"
)

// maxStatusBody bounds a device status report.
const maxStatusBody = 64 << 10

const loginFailedPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Login failed</title></head>
<body><h3>Login failed</h3><a href="/login">Try again</a></body></html>
`

// errorBody is the JSON shape of operator-facing errors.
type errorBody struct {
	Detail string `json:"detail"`
}

// commandBody answers a device poll.
type commandBody struct {
	Command string `json:"command"`
}

// reportResult answers a device status push.
type reportResult struct {
	OK  bool   `json:"ok"`
	Err string `json:"err,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// serveAsset writes a page from the asset filesystem.
func (s *Server) serveAsset(w http.ResponseWriter, name string) {
	data, err := fs.ReadFile(s.assets, name)
	if err != nil {
		s.log.Error("failed to read page", "page", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLoginPage handles GET /login.
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.serveAsset(w, web.LoginPage)
}

// handleLogin handles POST /login. A match sets the session cookie and
// redirects to the console; anything else is a 401 page.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := s.clientIP(r)

	if result := s.limiter.check(ip); !result.Allowed {
		s.log.Warn("login throttled", "ip", ip, "reason", result.Reason, "retry_after", result.RetryAfter)
		w.Header().Set("Retry-After", strconv.Itoa(result.retryAfterSeconds()))
		http.Error(w, result.Reason, http.StatusTooManyRequests)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	ok, err := s.creds.Match(username, password)
	if err != nil {
		s.log.Error("credential check failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ok {
		s.limiter.recordFailure(ip)
		s.log.Warn("login failed", "ip", ip, "user", username)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(loginFailedPage))
		return
	}

	cookie, err := s.guard.Login(username)
	if err != nil {
		s.log.Error("failed to issue session", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.limiter.recordSuccess(ip)
	s.log.Info("operator logged in", "ip", ip, "user", username)
	http.SetCookie(w, cookie)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleLogout handles GET /logout. Tokens are stateless, so this only
// clears the cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, s.guard.LogoutCookie())
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// handleConsole handles GET /.
func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	s.serveAsset(w, web.IndexPage)
}

// handleDevices handles GET /devices.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.relay.Devices())
}

// handleAction handles POST /action/{device}/{cmd}.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	deviceID, cmd := vars["device"], vars["cmd"]

	ack, err := s.relay.SetCommand(deviceID, cmd)
	if err != nil {
		if errors.Is(err, relay.ErrUnknownDevice) {
			writeJSON(w, http.StatusNotFound, errorBody{Detail: "Unknown device"})
			return
		}
		s.log.Error("failed to queue command", "device", deviceID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Detail: "internal error"})
		return
	}

	id, _ := IdentityFromContext(r.Context())
	s.log.Info("command queued", "user", id.Username, "device", deviceID, "cmd", cmd)
	writeJSON(w, http.StatusOK, ack)
}

// handleGetCommand handles GET /esp/get_cmd/{device}. Unknown devices get an
// empty command like an empty slot.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["device"]

	cmd := s.relay.TakeCommand(deviceID)
	if cmd != "" {
		s.log.Info("command delivered", "device", deviceID, "cmd", cmd)
	}
	writeJSON(w, http.StatusOK, commandBody{Command: cmd})
}

// handleReportStatus handles POST /esp/status. Failures are reported in the
// body with a 200 so firmware never has to branch on HTTP status.
func (s *Server) handleReportStatus(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxStatusBody)

	report, err := relay.DecodeStatusReport(body)
	if err != nil {
		s.log.Warn("malformed status report", "ip", s.clientIP(r), "error", err)
		writeJSON(w, http.StatusOK, reportResult{OK: false, Err: "invalid json"})
		return
	}

	if err := s.relay.ReportStatus(report.Device, report.IO, report.LED); err != nil {
		if errors.Is(err, relay.ErrUnknownDevice) {
			s.log.Warn("status from unknown device", "device", report.Device, "ip", s.clientIP(r))
			writeJSON(w, http.StatusOK, reportResult{OK: false, Err: "unknown device"})
			return
		}
		s.log.Error("failed to store status", "device", report.Device, "error", err)
		writeJSON(w, http.StatusOK, reportResult{OK: false, Err: "internal error"})
		return
	}

	s.log.Debug("status reported", "device", report.Device, "io", len(report.IO), "led", len(report.LED))
	writeJSON(w, http.StatusOK, reportResult{OK: true})
}

// handleGetStatus handles GET /status/{device}. It never fails: unknown and
// silent devices read as empty and offline.
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.relay.GetStatus(mux.Vars(r)["device"]))
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorBody{Detail: "Not Found"})
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{Detail: "Method Not Allowed"})
}
