package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/viper"

	"github.com/audiolibrelab/soundlines/internal/audio"
	"github.com/audiolibrelab/soundlines/internal/config"
	"github.com/audiolibrelab/soundlines/internal/event"
	"github.com/audiolibrelab/soundlines/internal/line"
	"github.com/audiolibrelab/soundlines/internal/mix"
	"github.com/audiolibrelab/soundlines/internal/service"
)

// Server exposes the mixer over HTTP and streams line events over a
// websocket
type Server struct {
	service    service.Service
	configFile string
	port       string

	mux        *http.ServeMux
	upgrader   websocket.Upgrader
	hub        *hub
	httpServer *http.Server

	// mixer is the one the taps were added to; the service may swap its
	// mixer when a profile is loaded.
	mixer    *mix.Mixer
	lineTap  line.Listener
	mixerTap mix.Listener
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Status        service.Status      `json:"status"`
	Config        *ResolvedConfigInfo `json:"resolved_config"`
	ActiveProfile string              `json:"active_profile"`
	Profiles      []string            `json:"profiles"`
}

// ResolvedConfigInfo contains configuration information for the UI
type ResolvedConfigInfo struct {
	Profile           string     `json:"profile"`
	Driver            string     `json:"driver"`
	DefaultBufferSize int        `json:"default_buffer_size"`
	MaxBufferSize     int        `json:"max_buffer_size"`
	Ports             []PortInfo `json:"ports"`
}

// PortInfo represents a configured port for the UI
type PortInfo struct {
	Name        string  `json:"name"`
	Direction   string  `json:"direction"`
	Volume      float64 `json:"volume"`
	Inheritance string  `json:"inheritance"` // "inherited" or "profile-specific"
}

// OpenLinesResponse represents the JSON response for the open lines endpoint
type OpenLinesResponse struct {
	Lines      []mix.LineStatus `json:"lines"`
	TotalCount int              `json:"total_count"`
}

// ToneRequest asks for a background test tone
type ToneRequest struct {
	Frequency  float64 `json:"frequency"`
	DurationMs int     `json:"duration_ms"`
	Amplitude  float64 `json:"amplitude"`
	Loops      int     `json:"loops"`
}

// New creates a new web server instance around an opened service
func New(svc service.Service, configFile string, port string) *Server {
	s := &Server{
		service:    svc,
		configFile: configFile,
		port:       port,
		mux:        http.NewServeMux(),
		hub:        newHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Non-browser clients send no Origin header
				origin := r.Header.Get("Origin")
				if origin != "" {
					slog.Debug("Accepting websocket origin", "origin", origin)
				}
				return true
			},
		},
	}

	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/profiles", s.handleProfiles)
	s.mux.HandleFunc("/api/lines", s.handleLines)
	s.mux.HandleFunc("/api/lines/open", s.handleOpenLines)
	s.mux.HandleFunc("/api/tone", s.handleTone)
	s.mux.HandleFunc("/ws/events", s.handleEvents)

	s.lineTap = event.Func(s.publishLineEvent)
	s.mixerTap = event.Func(s.publishMixerEvent)
	s.mixer = svc.Mixer()
	s.mixer.AddLineListener(s.lineTap)
	s.mixer.AddListener(s.mixerTap)
	return s
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	localIP := getLocalIP()

	slog.Info("Starting soundlines server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	s.httpServer = &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and disconnects event subscribers
func (s *Server) Shutdown(ctx context.Context) error {
	s.mixer.RemoveLineListener(s.lineTap)
	s.mixer.RemoveListener(s.mixerTap)
	s.hub.closeAll()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleIndex serves a short description of the API
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>soundlines</title>
</head>
<body>
    <h1>soundlines</h1>
    <ul>
        <li>GET /api/status - mixer and service status</li>
        <li>GET /api/profiles - configuration profiles</li>
        <li>GET /api/lines - line kinds offered by the mixer</li>
        <li>GET /api/lines/open - open lines</li>
        <li>POST /api/tone - play a test tone</li>
        <li>GET /ws/events - line and mixer events (websocket)</li>
    </ul>
</body>
</html>`

// handleStatus returns the current status of the mixer and the service
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	response := StatusResponse{
		Status:        s.service.GetStatus(),
		Config:        s.getResolvedConfigInfo(),
		ActiveProfile: getActiveProfileName(s.configFile),
		Profiles:      s.getAvailableProfiles(),
	}
	if response.ActiveProfile == "" {
		response.ActiveProfile = s.service.GetConfig().Profile
	}
	s.sendJSON(w, http.StatusOK, response)
}

// handleProfiles returns available configuration profiles
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": s.getAvailableProfiles(),
	})
}

// handleLines returns the line catalog
func (s *Server) handleLines(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	s.sendJSON(w, http.StatusOK, s.service.Catalog())
}

// handleOpenLines returns a snapshot of the open lines
func (s *Server) handleOpenLines(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	lines := s.service.Mixer().Status(true).Lines
	if lines == nil {
		lines = []mix.LineStatus{}
	}
	s.sendJSON(w, http.StatusOK, OpenLinesResponse{Lines: lines, TotalCount: len(lines)})
}

// handleTone plays a test tone in the background
func (s *Server) handleTone(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	var req ToneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON body", "error", err)
		return
	}
	if req.DurationMs == 0 {
		req.DurationMs = 500
	}

	session, err := s.service.StartTone(service.ToneRequest{
		Frequency: req.Frequency,
		Duration:  time.Duration(req.DurationMs) * time.Millisecond,
		Amplitude: req.Amplitude,
		Loops:     req.Loops,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, audio.ErrIllegalArgument) {
			status = http.StatusBadRequest
		}
		s.sendErrorResponse(w, status, err.Error())
		return
	}
	s.sendJSON(w, http.StatusAccepted, session)
}

// handleEvents upgrades to a websocket that receives every line and
// mixer event as JSON
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}
	c := s.hub.add(conn)
	slog.Info("Event subscriber connected", "remote", r.RemoteAddr, "subscribers", s.hub.len())

	go c.writer()
	c.reader()

	s.hub.remove(c)
	slog.Info("Event subscriber disconnected", "remote", r.RemoteAddr)
}

// getResolvedConfigInfo builds configuration information for the UI
func (s *Server) getResolvedConfigInfo() *ResolvedConfigInfo {
	cfg := s.service.GetConfig()
	ports := make([]PortInfo, len(cfg.Ports))
	for i, p := range cfg.Ports {
		inheritance := "profile-specific"
		if cfg.Inheritance != nil && cfg.Inheritance.Ports[p.Name] == "inherited" {
			inheritance = "inherited"
		}
		ports[i] = PortInfo{
			Name:        p.Name,
			Direction:   p.Direction,
			Volume:      p.Volume,
			Inheritance: inheritance,
		}
	}
	return &ResolvedConfigInfo{
		Profile:           cfg.Profile,
		Driver:            s.service.Mixer().Driver().Name(),
		DefaultBufferSize: cfg.Lines.DefaultBufferSize,
		MaxBufferSize:     cfg.Lines.MaxBufferSize,
		Ports:             ports,
	}
}

// getAvailableProfiles returns a list of available configuration profiles
func (s *Server) getAvailableProfiles() []string {
	profiles := []string{}

	if s.configFile != "" {
		if _, err := os.Stat(s.configFile); err == nil {
			// Create a new viper instance to avoid interfering with global config
			v := viper.New()
			v.SetConfigFile(s.configFile)

			if err := v.ReadInConfig(); err == nil {
				var rootConfig config.RootConfig
				if err := v.Unmarshal(&rootConfig); err == nil {
					for profileName := range rootConfig.Profiles {
						profiles = append(profiles, profileName)
					}
				} else {
					slog.Debug("Failed to unmarshal config for profiles", "error", err)
				}
			} else {
				slog.Debug("Failed to read config file for profiles", "error", err)
			}
		}
	}

	sort.Strings(profiles)
	return profiles
}

// getActiveProfileName returns the active profile name from config file
func getActiveProfileName(configFile string) string {
	if configFile == "" {
		return ""
	}
	if _, err := os.Stat(configFile); err != nil {
		return ""
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		slog.Warn("Failed to read config file for active profile", "error", err)
		return ""
	}

	var rootConfig config.RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		slog.Warn("Failed to unmarshal config for active profile", "error", err)
		return ""
	}
	if rootConfig.ActiveProfile == "" {
		return config.DefaultProfile
	}
	return rootConfig.ActiveProfile
}

func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

func (s *Server) sendJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	s.sendJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
