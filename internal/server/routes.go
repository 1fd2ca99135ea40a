package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// routes builds the router. Operator routes sit behind the session guard;
// device routes are open unless a device key is configured.
func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)

	// Public
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLoginPage).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodGet)
	r.HandleFunc("/status/{device}", s.handleGetStatus).Methods(http.MethodGet)
	if s.static != nil {
		r.PathPrefix("/static/").
			Handler(http.StripPrefix("/static/", http.FileServer(http.FS(s.static)))).
			Methods(http.MethodGet, http.MethodHead)
	}

	// Operator console and API
	r.Handle("/", s.requireSession(browserRoute, s.handleConsole)).Methods(http.MethodGet)
	r.Handle("/devices", s.requireSession(apiRoute, s.handleDevices)).Methods(http.MethodGet)
	r.Handle("/action/{device}/{cmd}", s.requireSession(apiRoute, s.handleAction)).Methods(http.MethodPost)
	r.Handle("/ws/status", s.requireSession(apiRoute, s.handleStatusFeed)).Methods(http.MethodGet)

	// Devices
	esp := r.PathPrefix("/esp").Subrouter()
	esp.Use(s.requireDeviceKey)
	esp.HandleFunc("/get_cmd/{device}", s.handleGetCommand).Methods(http.MethodGet)
	esp.HandleFunc("/status", s.handleReportStatus).Methods(http.MethodPost)

	return r
}
