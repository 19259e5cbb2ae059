// Package web is the gateway's HTTP surface: status and configuration
// reads, plus control writes that route through the same engine events as
// bus writes. It is a thin JSON layer; it holds no charger state.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/rhernaus/victron-alfen-charger-sub000/services/evcharger/config"
)

// Controller is the slice of the charger service the HTTP surface needs.
// Mutations block until the control loop has applied (or rejected) them.
type Controller interface {
	Snapshot() map[string]any
	SetMode(mode int) error
	SetStartStop(v int) error
	SetCurrent(amps float64) error
}

// Server serves the control/observation API.
type Server struct {
	cfg        config.Config
	configPath string
	ctrl       Controller
	log        zerolog.Logger
}

func New(cfg config.Config, configPath string, ctrl Controller, log zerolog.Logger) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		ctrl:       ctrl,
		log:        log.With().Str("service", "web").Logger(),
	}
}

// Addr resolves the listen address; HOST and PORT env vars override the
// configured values.
func (s *Server) Addr() string {
	host := s.cfg.Web.Host
	if h := os.Getenv("HOST"); h != "" {
		host = h
	}
	port := s.cfg.Web.Port
	if p := os.Getenv("PORT"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 && n <= 65535 {
			port = n
		}
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /config", s.handleGetConfig)
	mux.HandleFunc("PUT /config", s.handlePutConfig)
	mux.HandleFunc("POST /mode", s.handleMode)
	mux.HandleFunc("POST /startstop", s.handleStartStop)
	mux.HandleFunc("POST /current", s.handleCurrent)
	return mux
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Msg("http listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	raw, err := os.ReadFile(s.configPath)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no config file"})
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(raw)
}

// handlePutConfig validates the submitted document and replaces the file
// on disk. The running daemon keeps its current config; a restart picks
// the new one up.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	trial := config.Default()
	if err := yaml.Unmarshal(raw, &trial); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("not valid yaml: %v", err)})
		return
	}
	if err := renameio.WriteFile(s.configPath, raw, 0o644); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.log.Info().Str("path", s.configPath).Msg("config replaced")
	writeJSON(w, http.StatusOK, map[string]string{"result": "saved, restart to apply"})
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode int `json:"mode"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.command(w, s.ctrl.SetMode(body.Mode))
}

func (s *Server) handleStartStop(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StartStop int `json:"start_stop"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.command(w, s.ctrl.SetStartStop(body.StartStop))
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Current float64 `json:"current"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.command(w, s.ctrl.SetCurrent(body.Current))
}

func (s *Server) command(w http.ResponseWriter, err error) {
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func readBody(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New("empty body")
	}
	return raw, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
