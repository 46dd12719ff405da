// Package server exposes the HTTP control API for the location daemon:
// provider and registration inspection, last-known and recent fixes,
// mock provider control, and settings toggles.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sebas/waypoint/internal/locationd/manager"
	"github.com/sebas/waypoint/internal/locationd/store"
	"github.com/sebas/waypoint/internal/locationd/types"
)

// ProviderControl is the daemon-level surface the API drives.
// Implemented by app.App.
type ProviderControl interface {
	Managers() []*manager.Manager
	Manager(name string) (*manager.Manager, bool)
	InstallMock(name string) error
	RemoveMock(name string) error
}

// SettingsControl is the mutable subset of settings the API exposes.
// Implemented by helpers.StaticSettings.
type SettingsControl interface {
	SetLocationEnabled(userID int, enabled bool)
	SetCurrentUser(userID int)
	IsLocationEnabled(userID int) bool
	CurrentUserID() int
}

// recentFix is one cached fix for the recent-fixes endpoint.
type recentFix struct {
	Provider string          `json:"provider"`
	Location *types.Location `json:"location"`
	SeenAt   time.Time       `json:"seen_at"`
}

// Server provides the HTTP control API (headless, API only).
type Server struct {
	addr       string
	httpServer *http.Server
	control    ProviderControl
	settings   SettingsControl
	recent     *store.TTLStore[string, recentFix]
	recentTTL  time.Duration
	startTime  time.Time
}

// NewServer creates the API server. recentTTL bounds how long fixes stay
// queryable through /api/v1/recent; zero disables the endpoint's memory.
func NewServer(addr string, control ProviderControl, settings SettingsControl, recentTTL time.Duration) *Server {
	s := &Server{
		addr:      addr,
		control:   control,
		settings:  settings,
		recent:    store.New[string, recentFix](time.Minute),
		recentTTL: recentTTL,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/status", s.handleStatus)

	mux.HandleFunc("/api/v1/providers", s.handleProviders)
	mux.HandleFunc("/api/v1/providers/", s.handleProviderByName)

	mux.HandleFunc("/api/v1/recent", s.handleRecent)

	mux.HandleFunc("/api/v1/settings/location-enabled", s.handleLocationEnabled)
	mux.HandleFunc("/api/v1/settings/current-user", s.handleCurrentUser)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return s
}

// RecordFix makes a fix visible through /api/v1/recent.
func (s *Server) RecordFix(provider string, loc *types.Location) {
	if s.recentTTL <= 0 {
		return
	}
	s.recent.Set(uuid.NewString(), recentFix{
		Provider: provider,
		Location: loc.Copy(),
		SeenAt:   time.Now(),
	}, s.recentTTL)
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	slog.Info("[API] Starting HTTP API server", "addr", s.addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("[API] Server error", "error", err)
			panic(err)
		}
	}()
	return nil
}

// Stop shuts down the server.
func (s *Server) Stop() error {
	s.recent.Close()
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// --- Health & status ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status": "ok",
		"uptime": int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	managers := s.control.Managers()
	totalRegistrations := 0
	activeRegistrations := 0
	for _, m := range managers {
		snap := m.Snapshot()
		totalRegistrations += len(snap.Registrations)
		for _, reg := range snap.Registrations {
			if reg.Active {
				activeRegistrations++
			}
		}
	}

	s.writeJSON(w, map[string]interface{}{
		"providers":            len(managers),
		"total_registrations":  totalRegistrations,
		"active_registrations": activeRegistrations,
		"current_user":         s.settings.CurrentUserID(),
		"recent_fixes":         s.recent.Len(),
	})
}

// --- Providers ---

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snapshots := make([]manager.Snapshot, 0)
	for _, m := range s.control.Managers() {
		snapshots = append(snapshots, m.Snapshot())
	}
	s.writeJSON(w, snapshots)
}

// handleProviderByName routes per-provider operations:
//
//	GET    /api/v1/providers/{name}               - snapshot
//	GET    /api/v1/providers/{name}/last          - last known location
//	POST   /api/v1/providers/{name}/mock          - install mock
//	DELETE /api/v1/providers/{name}/mock          - restore real provider
//	POST   /api/v1/providers/{name}/mock/location - inject a fix
//	POST   /api/v1/providers/{name}/mock/allowed  - flip allowed state
func (s *Server) handleProviderByName(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/providers/")
	parts := strings.Split(path, "/")
	name := parts[0]
	if name == "" {
		http.Error(w, "Provider name required", http.StatusBadRequest)
		return
	}
	mgr, ok := s.control.Manager(name)
	if !ok {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.writeJSON(w, mgr.Snapshot())

	case len(parts) == 2 && parts[1] == "last":
		s.handleLastLocation(w, r, mgr)

	case len(parts) == 2 && parts[1] == "mock":
		s.handleMock(w, r, name)

	case len(parts) == 3 && parts[1] == "mock" && parts[2] == "location":
		s.handleMockLocation(w, r, mgr)

	case len(parts) == 3 && parts[1] == "mock" && parts[2] == "allowed":
		s.handleMockAllowed(w, r, mgr)

	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (s *Server) handleLastLocation(w http.ResponseWriter, r *http.Request, mgr *manager.Manager) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	identity := types.Identity{
		UID:     queryInt(q.Get("uid"), 0),
		UserID:  queryInt(q.Get("user"), s.settings.CurrentUserID()),
		Package: q.Get("package"),
	}
	level := types.PermissionFine
	if q.Get("level") == "coarse" {
		level = types.PermissionCoarse
	}

	loc, err := mgr.GetLastLocation(identity, level, q.Get("bypass") == "true")
	if err != nil {
		if errors.Is(err, manager.ErrPermissionDenied) {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if loc == nil {
		http.Error(w, "No location", http.StatusNotFound)
		return
	}
	s.writeJSON(w, loc)
}

func (s *Server) handleMock(w http.ResponseWriter, r *http.Request, name string) {
	switch r.Method {
	case http.MethodPost:
		if err := s.control.InstallMock(name); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.writeJSON(w, map[string]interface{}{"message": "Mock installed", "provider": name})
	case http.MethodDelete:
		if err := s.control.RemoveMock(name); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.writeJSON(w, map[string]interface{}{"message": "Mock removed", "provider": name})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleMockLocation(w http.ResponseWriter, r *http.Request, mgr *manager.Manager) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var loc types.Location
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		http.Error(w, "Invalid location body", http.StatusBadRequest)
		return
	}
	if err := mgr.SetMockProviderLocation(&loc); err != nil {
		s.writeMockError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	s.writeJSON(w, map[string]interface{}{"message": "Location injected"})
}

func (s *Server) handleMockAllowed(w http.ResponseWriter, r *http.Request, mgr *manager.Manager) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Allowed bool `json:"allowed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid body", http.StatusBadRequest)
		return
	}
	if err := mgr.SetMockProviderAllowed(body.Allowed); err != nil {
		s.writeMockError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"message": "Allowed updated", "allowed": body.Allowed})
}

func (s *Server) writeMockError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, manager.ErrNoMockProvider) {
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}

// --- Recent fixes ---

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	fixes := make([]recentFix, 0)
	for _, fix := range s.recent.All() {
		fixes = append(fixes, fix)
	}
	s.writeJSON(w, fixes)
}

// --- Settings ---

func (s *Server) handleLocationEnabled(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		userID := queryInt(r.URL.Query().Get("user"), s.settings.CurrentUserID())
		s.writeJSON(w, map[string]interface{}{
			"user_id": userID,
			"enabled": s.settings.IsLocationEnabled(userID),
		})
	case http.MethodPost:
		var body struct {
			UserID  int  `json:"user_id"`
			Enabled bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "Invalid body", http.StatusBadRequest)
			return
		}
		s.settings.SetLocationEnabled(body.UserID, body.Enabled)
		s.writeJSON(w, map[string]interface{}{
			"message": "Location enabled updated",
			"user_id": body.UserID,
			"enabled": body.Enabled,
		})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, map[string]interface{}{"user_id": s.settings.CurrentUserID()})
	case http.MethodPost:
		var body struct {
			UserID int `json:"user_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "Invalid body", http.StatusBadRequest)
			return
		}
		s.settings.SetCurrentUser(body.UserID)
		s.writeJSON(w, map[string]interface{}{
			"message": "Current user updated",
			"user_id": body.UserID,
		})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// --- Helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[API] Failed to encode JSON", "error", err)
	}
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
