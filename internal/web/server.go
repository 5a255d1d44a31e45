// ABOUTME: HTTP status server for operators
// ABOUTME: HTML dashboard, JSON status API, QR pairing image, health check

package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/heraldbot/herald/internal/auth"
	"github.com/heraldbot/herald/internal/session"
)

// shutdownTimeout bounds the graceful drain of in-flight requests.
const shutdownTimeout = 5 * time.Second

// StatusResponse is the JSON body of GET /api/status.
type StatusResponse struct {
	Status            string `json:"status"`
	Authenticated     bool   `json:"authenticated"`
	HasQR             bool   `json:"has_qr"`
	RepliedCount      int    `json:"replied_count"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
}

// statusPageData feeds the HTML dashboard template.
type statusPageData struct {
	Status            session.Status
	Authenticated     bool
	HasQR             bool
	RepliedCount      int
	ReconnectAttempts int
	Uptime            string
}

// Server exposes the session controller's read-only snapshot over HTTP.
type Server struct {
	addr       string
	controller *session.Controller
	verifier   *auth.Verifier // nil disables auth on /api
	logger     *slog.Logger
	httpServer *http.Server
}

// New creates the status server. A nil verifier leaves the JSON API open.
func New(addr string, controller *session.Controller, verifier *auth.Verifier, logger *slog.Logger) *Server {
	s := &Server{
		addr:       addr,
		controller: controller,
		verifier:   verifier,
		logger:     logger.With("component", "web"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /qr.png", s.handleQRImage)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /api/status", verifier.Middleware(http.HandlerFunc(s.handleStatus)))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler, exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until the context is cancelled, then drains gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("status server shutdown", "error", err)
		}
		return <-errCh
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	}
}

// handleIndex renders the HTML dashboard.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	tmpl := template.Must(template.ParseFS(templateFS, "templates/status.html"))

	snap := s.controller.Snapshot()
	data := statusPageData{
		Status:            snap.Status,
		Authenticated:     snap.Authenticated,
		HasQR:             snap.HasQR,
		RepliedCount:      snap.RepliedCount,
		ReconnectAttempts: snap.ReconnectAttempts,
		Uptime:            snap.Uptime.Truncate(time.Second).String(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		s.logger.Error("rendering status page", "error", err)
	}
}

// handleStatus serves the JSON snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.controller.Snapshot()

	resp := StatusResponse{
		Status:            string(snap.Status),
		Authenticated:     snap.Authenticated,
		HasQR:             snap.HasQR,
		RepliedCount:      snap.RepliedCount,
		ReconnectAttempts: snap.ReconnectAttempts,
		UptimeSeconds:     int64(snap.Uptime.Seconds()),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("encoding status response", "error", err)
	}
}

// handleQRImage renders the cached pairing payload as a PNG, or 404 when
// no pairing is pending.
func (s *Server) handleQRImage(w http.ResponseWriter, r *http.Request) {
	payload := s.controller.QRCode()
	if payload == "" {
		http.Error(w, "no QR code pending", http.StatusNotFound)
		return
	}

	png, err := qrcode.Encode(payload, qrcode.Medium, 256)
	if err != nil {
		s.logger.Error("encoding qr image", "error", err)
		http.Error(w, "rendering QR code failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(png); err != nil {
		s.logger.Debug("writing qr image", "error", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}
