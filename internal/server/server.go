// Package server exposes the rig over HTTP: a websocket event stream and a
// small command surface mirroring the bench controls.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"codeberg.org/lfilab/lfictl/internal/config"
	"codeberg.org/lfilab/lfictl/internal/errors"
	"codeberg.org/lfilab/lfictl/internal/event"
	"codeberg.org/lfilab/lfictl/internal/logger"
	"codeberg.org/lfilab/lfictl/internal/stage"
	"codeberg.org/lfilab/lfictl/internal/supervisor"
	"codeberg.org/lfilab/lfictl/internal/sysinfo"
	"github.com/gorilla/websocket"
)

type Server struct {
	cfg     *config.Config
	session *supervisor.Session
}

func New(cfg *config.Config, session *supervisor.Session) *Server {
	return &Server{cfg: cfg, session: session}
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/stage/coordinates", s.handleStageCoordinates)
	mux.HandleFunc("/stage/steps", s.handleStageSteps)
	mux.HandleFunc("/stage/", s.handleStageAction)
	mux.HandleFunc("/control/", s.handleControl)
	mux.HandleFunc("/firmware", s.handleFirmware)
	mux.HandleFunc("/session", s.handleSession)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/system/temp", s.handleSystemTemp)
	mux.HandleFunc("/system/load", s.handleSystemLoad)
}

// ListenAndServe blocks until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(errors.ErrInitFailed, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	logger.Debug().Str("remote", r.RemoteAddr).Msg("ws client connected")
	client := s.session.Attach()

	go func() {
		defer conn.Close()
		for msg := range client.Recv() {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() {
			s.session.Detach(client)
			conn.Close()
			logger.Debug().Str("remote", r.RemoteAddr).Msg("ws client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Host

	if host == r.Host {
		return true
	}
	for _, local := range []string{"localhost", "127.0.0.1", "[::1]"} {
		if host == local || strings.HasPrefix(host, local+":") {
			return true
		}
	}
	return false
}

func (s *Server) handleStageAction(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimPrefix(r.URL.Path, "/stage/")
	ctx := r.Context()

	switch action {
	case "up", "down", "left", "right", "in", "out":
		step := queryInt(r, "step", 0)
		if _, err := s.session.MoveStage(ctx, action, step); err != nil {
			writeError(w, err)
			return
		}
	case "zero", "zero_position":
		if err := s.session.ZeroStage(ctx); err != nil {
			writeError(w, err)
			return
		}
	case "center":
		if err := s.session.CenterStage(ctx); err != nil {
			writeError(w, err)
			return
		}
	case "reset_steps":
		steps := stage.Steps{X: s.cfg.Stage.XStep, Y: s.cfg.Stage.YStep, Z: s.cfg.Stage.ZStep}
		if err := s.session.SetStageSteps(steps); err != nil {
			writeError(w, err)
			return
		}
	case "lock":
		s.session.LockStage(true)
	case "unlock":
		s.session.LockStage(false)
	case "bypass_endstops":
		if !s.cfg.Dev.AdminMode {
			http.Error(w, "admin mode required", http.StatusForbidden)
			return
		}
		s.session.SetBypassEndstops(r.URL.Query().Has("value"))
	default:
		s.unhandled(w, "stage action", action)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStageCoordinates(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		pos, err := s.session.StageCoordinates(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, pos)
	case http.MethodPost:
		var to stage.Coordinates
		if err := json.NewDecoder(r.Body).Decode(&to); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if err := s.session.MoveStageTo(r.Context(), to); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleStageSteps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var steps stage.Steps
	if err := json.NewDecoder(r.Body).Decode(&steps); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := s.session.SetStageSteps(steps); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleControl mirrors the bench control surface. Boolean controls follow
// the presence of the value parameter; power controls take a 0-100 integer.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	control := strings.TrimPrefix(r.URL.Path, "/control/")
	rawValue := r.URL.Query().Get("value")
	hasValue := r.URL.Query().Has("value")
	ctx := r.Context()

	var err error
	switch control {
	case "pulse_laser":
		err = s.session.FirePulse(ctx)
	case "laser_arm":
		err = s.session.ArmLaser(hasValue)
	case "laser_power":
		percent, convErr := strconv.Atoi(rawValue)
		if convErr != nil || percent < 0 || percent > 100 {
			http.Error(w, "value must be an integer 0-100", http.StatusBadRequest)
			return
		}
		err = s.session.ConfigurePulse(float64(percent)/100.0, 0)
	case "laser_clear_fault":
		s.session.ClearLaserFault()
	case "target_reset":
		err = s.session.ResetTarget(ctx)
	case "target_en":
		err = s.session.SetTargetPower(hasValue)
	case "illumination_en":
		err = s.session.SetIlluminationEnable(hasValue)
	case "illumination_power":
		percent, convErr := strconv.Atoi(rawValue)
		if convErr != nil || percent < 0 || percent > 100 {
			http.Error(w, "value must be an integer 0-100", http.StatusBadRequest)
			return
		}
		err = s.session.SetIlluminationPower(float64(percent) / 100.0)
	default:
		s.unhandled(w, "control request", control)
		return
	}

	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleFirmware(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path, cleanup, err := saveUpload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer cleanup()

	if err := s.session.LoadFirmware(r.Context(), path); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.session.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{
		"status":  "ok",
		"version": sysinfo.Version(),
	})
}

func (s *Server) handleSystemTemp(w http.ResponseWriter, r *http.Request) {
	temp, err := sysinfo.CPUTemp(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]float64{"temperature_c": temp})
}

func (s *Server) handleSystemLoad(w http.ResponseWriter, r *http.Request) {
	load, err := sysinfo.CPULoad(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]float64{"load_percent": load})
}

// unhandled rejects an unknown action with 501 and puts the mistake on the
// session log so it shows up on every console.
func (s *Server) unhandled(w http.ResponseWriter, kind, name string) {
	s.session.Publish(event.Log{
		Timestamp: time.Now(),
		Level:     event.LevelError,
		Message:   "Unhandled " + kind + ": " + name,
	})
	http.Error(w, "not implemented", http.StatusNotImplemented)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug().Err(err).Msg("response encode failed")
	}
}

// writeError maps error codes onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.CodeOf(err) {
	case errors.ErrInvalidArgument:
		status = http.StatusBadRequest
	case errors.ErrInvalidCommand, errors.ErrOutOfRange:
		status = http.StatusConflict
	case errors.ErrTransientTimeout:
		status = http.StatusGatewayTimeout
	}
	http.Error(w, err.Error(), status)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
