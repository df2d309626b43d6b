// Package server exposes the active capture backend over HTTP for preview:
// single JPEG frames, an MJPEG stream, and capture stats over websocket.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/droidcap/droidcap/internal/capture"
	"github.com/droidcap/droidcap/internal/logger"
	"github.com/droidcap/droidcap/internal/stream"
)

const (
	mjpegBoundary = "droidcapframe"
	jpegQuality   = 80
	statsInterval = time.Second
)

// Server serves preview endpoints for one capture backend
type Server struct {
	router   *mux.Router
	cap      capture.Capturer
	serial   string
	fps      int
	upgrader websocket.Upgrader
	started  time.Time
}

// New creates a preview server for the given backend. fps bounds the MJPEG
// delivery rate.
func New(cap capture.Capturer, serial string, fps int) *Server {
	if fps <= 0 {
		fps = 30
	}
	s := &Server{
		router: mux.NewRouter(),
		cap:    cap,
		serial: serial,
		fps:    fps,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/frame.jpg", s.handleFrame).Methods("GET")
	s.router.HandleFunc("/stream.mjpeg", s.handleMJPEG).Methods("GET")
	s.router.HandleFunc("/api/stats", s.handleStats).Methods("GET")
	s.router.HandleFunc("/api/stats/ws", s.handleStatsWS)
	s.router.HandleFunc("/api/health", s.handleHealth).Methods("GET")
}

// Handler returns the HTTP handler, exposed for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	logger.WithComponent("server").Info().Str("addr", addr).Msg("Preview server listening")
	return http.ListenAndServe(addr, s.router)
}

// encodeLatest captures and JPEG-encodes the most recent frame
func (s *Server) encodeLatest() ([]byte, error) {
	img, err := s.cap.Screencap()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// handleFrame serves the latest frame as a single JPEG
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	data, err := s.encodeLatest()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, stream.ErrNoFrame) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(data)
}

// handleMJPEG streams frames as multipart Motion JPEG until the client
// disconnects or capture stops
func (s *Server) handleMJPEG(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("server")
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ticker := time.NewTicker(time.Second / time.Duration(s.fps))
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		data, err := s.encodeLatest()
		if err != nil {
			if errors.Is(err, stream.ErrStopped) {
				log.Debug().Msg("Capture stopped, ending MJPEG stream")
				return
			}
			// Transient gap; keep the connection open.
			continue
		}

		fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, len(data))
		if _, err := w.Write(data); err != nil {
			return
		}
		fmt.Fprint(w, "\r\n")
		flusher.Flush()
	}
}

// Stats is the capture status document served over /api/stats and the
// websocket
type Stats struct {
	Serial   string `json:"serial"`
	Backend  string `json:"backend"`
	UptimeMs int64  `json:"uptime_ms"`
}

func (s *Server) stats() Stats {
	return Stats{
		Serial:   s.serial,
		Backend:  s.cap.Name(),
		UptimeMs: time.Since(s.started).Milliseconds(),
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.stats())
}

// handleStatsWS pushes stats periodically over a websocket
func (s *Server) handleStatsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithComponent("server").Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(s.stats()); err != nil {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
